// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test helpers
// =============================================================================

// fakeClock returns the same instant until advanced.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeLookup is a static translation pair table.
type fakeLookup struct {
	pairs map[string]Pair
	err   error
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{pairs: make(map[string]Pair)}
}

func (f *fakeLookup) record(source, translation string) {
	f.pairs[source] = Pair{Role: RoleSource, Counterpart: translation}
	f.pairs[translation] = Pair{Role: RoleTranslation, Counterpart: source}
}

func (f *fakeLookup) LookupPair(_ context.Context, text string) (Pair, bool, error) {
	if f.err != nil {
		return Pair{}, false, f.err
	}
	p, ok := f.pairs[text]
	return p, ok, nil
}

// failingStore wraps a MemoryStore and fails writes on demand.
type failingStore struct {
	*MemoryStore
	failSet bool
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet {
		return errors.New("quota exceeded")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

var (
	fieldA = FieldKey{NodeKey: "12", InputKey: "text"}
	fieldB = FieldKey{NodeKey: "7", InputKey: "prompt"}
)

func newTestLog(t *testing.T, cfg Config, opts ...Option) (*Log, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	log, err := NewLog(NewMemoryStore(), cfg, opts...)
	require.NoError(t, err)
	return log, clock
}

func entryFor(key FieldKey, content string) Entry {
	return Entry{NodeKey: key.NodeKey, InputKey: key.InputKey, Content: content}
}

func contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

// =============================================================================
// Add
// =============================================================================

func TestLog_Add_AssignsTimestampAndDefaults(t *testing.T) {
	log, clock := newTestLog(t, Config{})
	ctx := context.Background()

	stored, err := log.Add(ctx, Entry{NodeKey: "1", InputKey: "text", Content: "hello", Timestamp: 42})
	require.NoError(t, err)

	assert.Equal(t, clock.Now().UnixMilli(), stored.Timestamp, "caller timestamp is ignored")
	assert.Equal(t, OpInput, stored.OperationType)
}

func TestLog_Add_RejectsMissingIdentifiers(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	_, err := log.Add(ctx, Entry{NodeKey: "", InputKey: "text", Content: "x"})
	assert.ErrorIs(t, err, ErrMissingIdentifier)

	_, err = log.Add(ctx, Entry{NodeKey: "1", InputKey: "  ", Content: "x"})
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestLog_Add_RejectsEmptyContent(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := log.Add(ctx, entryFor(fieldA, content))
		assert.ErrorIs(t, err, ErrEmptyContent, "content %q", content)
	}

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestLog_Add_DeduplicatesTrimmedContent(t *testing.T) {
	log, clock := newTestLog(t, Config{})
	ctx := context.Background()

	_, err := log.Add(ctx, entryFor(fieldA, "a cat"))
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = log.Add(ctx, entryFor(fieldA, "  a cat \n"))
	assert.ErrorIs(t, err, ErrDuplicate)

	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Len(t, seq, 1)
}

func TestLog_Add_DedupOnlyAgainstNewest(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	for _, c := range []string{"A", "B", "A"} {
		_, err := log.Add(ctx, entryFor(fieldA, c))
		require.NoError(t, err)
	}

	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "A"}, contents(seq))
}

func TestLog_Add_DedupIsPerField(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	_, err := log.Add(ctx, entryFor(fieldA, "same"))
	require.NoError(t, err)
	_, err = log.Add(ctx, entryFor(fieldB, "same"))
	require.NoError(t, err)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestLog_Add_TimestampsUniqueUnderFrozenClock(t *testing.T) {
	log, clock := newTestLog(t, Config{})
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 10; i++ {
		stored, err := log.Add(ctx, entryFor(fieldA, fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		assert.False(t, seen[stored.Timestamp], "duplicate timestamp %d", stored.Timestamp)
		seen[stored.Timestamp] = true
	}

	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli()+9, seq[len(seq)-1].Timestamp, "each collision nudges by 1ms")
}

func TestLog_Add_ClockGoingBackwardsStaysMonotonic(t *testing.T) {
	log, clock := newTestLog(t, Config{})
	ctx := context.Background()

	first, err := log.Add(ctx, entryFor(fieldA, "first"))
	require.NoError(t, err)
	clock.Advance(-time.Hour)

	second, err := log.Add(ctx, entryFor(fieldA, "second"))
	require.NoError(t, err)
	assert.Greater(t, second.Timestamp, first.Timestamp)
}

func TestLog_Add_TruncatesContent(t *testing.T) {
	log, _ := newTestLog(t, Config{MaxContentLength: 10})
	ctx := context.Background()

	stored, err := log.Add(ctx, entryFor(fieldA, strings.Repeat("x", 25)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10)+DefaultTruncationMarker, stored.Content)

	exact, err := log.Add(ctx, entryFor(fieldB, strings.Repeat("y", 10)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", 10), exact.Content, "content at the cap is untouched")
}

func TestLog_Add_TruncatesByRunes(t *testing.T) {
	log, _ := newTestLog(t, Config{MaxContentLength: 3, TruncationMarker: "…"})
	ctx := context.Background()

	stored, err := log.Add(ctx, entryFor(fieldA, "日本語のテキスト"))
	require.NoError(t, err)
	assert.Equal(t, "日本語…", stored.Content)
}

func TestLog_Add_DefaultTruncationLength(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	stored, err := log.Add(ctx, entryFor(fieldA, strings.Repeat("z", DefaultMaxContentLength+1)))
	require.NoError(t, err)
	assert.Len(t, stored.Content, DefaultMaxContentLength+len(DefaultTruncationMarker))
}

func TestLog_Add_StoreFailureLeavesLogUnchanged(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	log, err := NewLog(store, Config{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = log.Add(ctx, entryFor(fieldA, "kept"))
	require.NoError(t, err)

	store.failSet = true
	_, err = log.Add(ctx, entryFor(fieldA, "lost"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist history")

	store.failSet = false
	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, contents(seq))
}

// =============================================================================
// Eviction
// =============================================================================

func TestLog_Evict_PerFieldCap(t *testing.T) {
	log, clock := newTestLog(t, Config{MaxPerField: 20, MaxTotal: 100})
	ctx := context.Background()

	var stamps []int64
	for i := 0; i < 25; i++ {
		stored, err := log.Add(ctx, entryFor(fieldA, fmt.Sprintf("edit %d", i)))
		require.NoError(t, err)
		stamps = append(stamps, stored.Timestamp)
		clock.Advance(time.Millisecond)
	}

	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	require.Len(t, seq, 20)
	assert.Equal(t, "edit 5", seq[0].Content)
	assert.Equal(t, "edit 24", seq[19].Content)
	for i, e := range seq {
		assert.Equal(t, stamps[i+5], e.Timestamp)
	}
}

func TestLog_Evict_PerFieldLeavesOtherFields(t *testing.T) {
	log, _ := newTestLog(t, Config{MaxPerField: 3, MaxTotal: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := log.Add(ctx, entryFor(fieldB, fmt.Sprintf("b%d", i)))
		require.NoError(t, err)
	}
	for i := 0; i < 6; i++ {
		_, err := log.Add(ctx, entryFor(fieldA, fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
	}

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PerField[fieldA.String()])
	assert.Equal(t, 2, stats.PerField[fieldB.String()])
}

func TestLog_Evict_GlobalCap(t *testing.T) {
	log, clock := newTestLog(t, Config{MaxPerField: 20, MaxTotal: 100})
	ctx := context.Background()

	var all []int64
	for i := 0; i < 150; i++ {
		key := FieldKey{NodeKey: fmt.Sprintf("node-%d", i%15), InputKey: "text"}
		stored, err := log.Add(ctx, entryFor(key, fmt.Sprintf("edit %d", i)))
		require.NoError(t, err)
		all = append(all, stored.Timestamp)
		clock.Advance(time.Millisecond)
	}

	snapshot, err := log.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 100)

	want := all[50:]
	for i, e := range snapshot {
		assert.Equal(t, want[i], e.Timestamp, "entry %d should be among the 100 newest", i)
	}
}

// The global cap can remove entries of a field that is well under its own
// cap when other fields are more active. This ordering (per-field first,
// then global recency) is intentional and kept.
func TestLog_Evict_GlobalCapCanDrainQuietField(t *testing.T) {
	log, _ := newTestLog(t, Config{MaxPerField: 5, MaxTotal: 6})
	ctx := context.Background()

	quiet := FieldKey{NodeKey: "quiet", InputKey: "text"}
	_, err := log.Add(ctx, entryFor(quiet, "only edit"))
	require.NoError(t, err)

	busy := []FieldKey{
		{NodeKey: "busy-1", InputKey: "text"},
		{NodeKey: "busy-2", InputKey: "text"},
	}
	for i := 0; i < 3; i++ {
		for _, key := range busy {
			_, err := log.Add(ctx, entryFor(key, fmt.Sprintf("%s-%d", key.NodeKey, i)))
			require.NoError(t, err)
		}
	}

	seq, err := log.ListForField(ctx, quiet, true)
	require.NoError(t, err)
	assert.Empty(t, seq, "quiet field was under its cap but lost its entry to the global cap")

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
}

// =============================================================================
// Queries
// =============================================================================

func TestLog_List_NewestFirst(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	_, _ = log.Add(ctx, entryFor(fieldA, "a1"))
	_, _ = log.Add(ctx, entryFor(fieldB, "b1"))
	_, _ = log.Add(ctx, entryFor(fieldA, "a2"))

	all, err := log.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "b1", "a1"}, contents(all))

	limited, err := log.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "b1"}, contents(limited))
}

func TestLog_List_FieldPrioritisedNotFiltered(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	_, _ = log.Add(ctx, entryFor(fieldA, "a1"))
	_, _ = log.Add(ctx, entryFor(fieldB, "b1"))
	_, _ = log.Add(ctx, entryFor(fieldA, "a2"))
	_, _ = log.Add(ctx, entryFor(fieldB, "b2"))

	key := fieldA
	got, err := log.List(ctx, ListOptions{Field: &key, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1", "b2", "b1"}, contents(got))

	got, err = log.List(ctx, ListOptions{Field: &key, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1", "b2"}, contents(got))
}

func TestLog_ListForField_Order(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	for _, c := range []string{"A", "B", "C"} {
		_, err := log.Add(ctx, entryFor(fieldA, c))
		require.NoError(t, err)
	}
	_, _ = log.Add(ctx, entryFor(fieldB, "other"))

	oldest, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, contents(oldest))

	newest, err := log.ListForField(ctx, fieldA, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, contents(newest))

	_, err = log.ListForField(ctx, FieldKey{}, true)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestLog_ByRequestID(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	orig := entryFor(fieldA, "a cat on a mat")
	orig.RequestID = "req-1"
	trans := entryFor(fieldA, "un chat sur un tapis")
	trans.RequestID = "req-1"
	trans.OperationType = OpTranslate
	other := entryFor(fieldB, "unrelated")
	other.RequestID = "req-2"

	for _, e := range []Entry{orig, trans, other, entryFor(fieldB, "no request")} {
		_, err := log.Add(ctx, e)
		require.NoError(t, err)
	}

	got, err := log.ByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"un chat sur un tapis", "a cat on a mat"}, contents(got))

	none, err := log.ByRequestID(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLog_Stats(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	_, _ = log.Add(ctx, entryFor(fieldA, "a1"))
	_, _ = log.Add(ctx, Entry{NodeKey: fieldA.NodeKey, InputKey: fieldA.InputKey, Content: "a2", OperationType: OpExpand})
	_, _ = log.Add(ctx, entryFor(fieldB, "b1"))

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"12:text": 2, "7:prompt": 1}, stats.PerField)
	assert.Equal(t, map[string]int{"input": 2, "expand": 1}, stats.PerOperation)
}

// =============================================================================
// Mutations
// =============================================================================

func TestLog_RetagAndPatch(t *testing.T) {
	log, _ := newTestLog(t, Config{MaxContentLength: 5})
	ctx := context.Background()

	stored, err := log.Add(ctx, entryFor(fieldA, "hello"))
	require.NoError(t, err)

	ok, err := log.Retag(ctx, fieldA, stored.Timestamp, OpTranslate)
	require.NoError(t, err)
	assert.True(t, ok)

	content := "replaced content"
	requestID := "req-9"
	ok, err = log.Patch(ctx, fieldA, stored.Timestamp, EntryPatch{Content: &content, RequestID: &requestID})
	require.NoError(t, err)
	assert.True(t, ok)

	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	require.Len(t, seq, 1)
	assert.Equal(t, OpTranslate, seq[0].OperationType)
	assert.Equal(t, "repla...", seq[0].Content)
	assert.Equal(t, "req-9", seq[0].RequestID)
	assert.Equal(t, stored.Timestamp, seq[0].Timestamp)
}

func TestLog_RetagAndPatch_NotFound(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	stored, err := log.Add(ctx, entryFor(fieldA, "hello"))
	require.NoError(t, err)

	ok, err := log.Retag(ctx, fieldA, stored.Timestamp+1, OpTranslate)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = log.Retag(ctx, fieldB, stored.Timestamp, OpTranslate)
	require.NoError(t, err)
	assert.False(t, ok, "timestamp alone must not match another field")

	empty := "  "
	_, err = log.Patch(ctx, fieldA, stored.Timestamp, EntryPatch{Content: &empty})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestLog_ClearFieldAndAll(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	_, _ = log.Add(ctx, entryFor(fieldA, "a1"))
	_, _ = log.Add(ctx, entryFor(fieldA, "a2"))
	_, _ = log.Add(ctx, entryFor(fieldB, "b1"))

	removed, err := log.ClearField(ctx, fieldA)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	require.NoError(t, log.ClearAll(ctx))
	stats, err = log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestLog_Load_CorruptBlobIsEmpty(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, DefaultLogKey, []byte("not json")))

	log, err := NewLog(store, Config{})
	require.NoError(t, err)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	_, err = log.Add(ctx, entryFor(fieldA, "fresh"))
	require.NoError(t, err)
	stats, err = log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestLog_PersistsAcrossInstances(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := NewLog(store, Config{})
	require.NoError(t, err)
	_, err = first.Add(ctx, entryFor(fieldA, "survives"))
	require.NoError(t, err)

	second, err := NewLog(store, Config{})
	require.NoError(t, err)
	seq, err := second.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"survives"}, contents(seq))
}

func TestNewLog_Validation(t *testing.T) {
	_, err := NewLog(nil, Config{})
	assert.Error(t, err)

	_, err = NewLog(NewMemoryStore(), Config{MaxTotal: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	log, err := NewLog(NewMemoryStore(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), log.Config())
}

func TestLog_Patch_RejectsNeighbourDuplicate(t *testing.T) {
	log, _ := newTestLog(t, Config{})
	ctx := context.Background()

	var stored []Entry
	for _, c := range []string{"A", "B", "C"} {
		e, err := log.Add(ctx, entryFor(fieldA, c))
		require.NoError(t, err)
		stored = append(stored, e)
	}

	for _, dup := range []string{"A", " C "} {
		content := dup
		ok, err := log.Patch(ctx, fieldA, stored[1].Timestamp, EntryPatch{Content: &content})
		assert.ErrorIs(t, err, ErrDuplicate, "patching B to %q", dup)
		assert.False(t, ok)
	}
	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, contents(seq))

	// Another field's content and a non-adjacent entry do not count.
	_, err = log.Add(ctx, entryFor(fieldB, "D"))
	require.NoError(t, err)
	content := "D"
	ok, err := log.Patch(ctx, fieldA, stored[1].Timestamp, EntryPatch{Content: &content})
	require.NoError(t, err)
	assert.True(t, ok)

	content = "A"
	ok, err = log.Patch(ctx, fieldA, stored[2].Timestamp, EntryPatch{Content: &content})
	require.NoError(t, err)
	assert.True(t, ok)
	seq, err = log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D", "A"}, contents(seq))
}
