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
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Option configures a Log or Engine.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	lookup TranslationLookup
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTranslationLookup enables the translation round-trip filter.
func WithTranslationLookup(lookup TranslationLookup) Option {
	return func(o *options) {
		o.lookup = lookup
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ListOptions selects entries for List.
type ListOptions struct {
	// Field, when set, moves that field's entries to the front. Other
	// fields are still returned after it.
	Field *FieldKey

	// Limit caps the result. Values <= 0 mean DefaultListLimit.
	Limit int
}

// Log is the global history entry log.
//
// # Description
//
// Owns the single ordered collection of entries persisted under
// Config.LogKey. Entries are kept oldest-first by timestamp in storage.
// Every public method re-reads the blob, so the Store is the only source of
// truth and a failed write leaves nothing to roll back.
//
// # Thread Safety
//
// Safe for concurrent use; all public methods hold one mutex.
type Log struct {
	store  Store
	cfg    Config
	filter *RoundTripFilter
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewLog creates a Log over store.
//
// # Inputs
//
//   - store: Persistence. Must not be nil.
//   - cfg: Caps. Zero fields take defaults.
//   - opts: WithLogger, WithClock, WithTranslationLookup.
//
// # Outputs
//
//   - *Log: Ready-to-use log.
//   - error: ErrInvalidConfig or a nil store.
func NewLog(store Store, cfg Config, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Log{
		store:  store,
		cfg:    cfg.withDefaults(),
		filter: NewRoundTripFilter(o.lookup, o.logger),
		logger: o.logger,
		now:    o.now,
	}, nil
}

// Config returns the effective configuration.
func (l *Log) Config() Config {
	return l.cfg
}

// Add validates, deduplicates and appends a candidate entry.
//
// # Description
//
// The candidate's Timestamp is ignored; the log assigns one strictly greater
// than every stored timestamp. Rejections have no side effects:
//
//   - ErrMissingIdentifier: node or input key missing.
//   - ErrEmptyContent: empty or whitespace-only content.
//   - ErrRoundTrip: translate toggle of the previous translate entry.
//   - ErrDuplicate: same trimmed content as the field's newest entry.
//
// On acceptance the content is truncated, the entry appended, the caps
// enforced (per-field first, then global) and the whole log persisted.
//
// # Outputs
//
//   - Entry: The stored entry, with its timestamp.
//   - error: A sentinel above, or a wrapped store error.
func (l *Log) Add(ctx context.Context, candidate Entry) (Entry, error) {
	key := candidate.Field()
	if !key.Valid() {
		entriesRejectedTotal.WithLabelValues(reasonMissingIdentifier).Inc()
		return Entry{}, ErrMissingIdentifier
	}
	if strings.TrimSpace(candidate.Content) == "" {
		entriesRejectedTotal.WithLabelValues(reasonEmpty).Inc()
		return Entry{}, ErrEmptyContent
	}
	if candidate.OperationType == "" {
		candidate.OperationType = OpInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		entriesRejectedTotal.WithLabelValues(reasonStoreError).Inc()
		return Entry{}, err
	}

	newest := newestFor(entries, key)
	if l.filter.IsRoundTripDuplicate(ctx, key, candidate.Content, candidate.OperationType, newest) {
		entriesRejectedTotal.WithLabelValues(reasonRoundTrip).Inc()
		return Entry{}, ErrRoundTrip
	}

	content := truncateContent(candidate.Content, l.cfg.MaxContentLength, l.cfg.TruncationMarker)
	if newest != nil && sameContent(newest.Content, content) {
		entriesRejectedTotal.WithLabelValues(reasonDuplicate).Inc()
		return Entry{}, ErrDuplicate
	}

	entry := Entry{
		NodeKey:       candidate.NodeKey,
		InputKey:      candidate.InputKey,
		Content:       content,
		OperationType: candidate.OperationType,
		Timestamp:     l.nextTimestamp(entries),
		RequestID:     candidate.RequestID,
	}

	next := append(slices.Clone(entries), entry)
	next, perField, global := l.evict(next, key)

	if err := l.save(ctx, next); err != nil {
		entriesRejectedTotal.WithLabelValues(reasonStoreError).Inc()
		return Entry{}, err
	}

	entriesAddedTotal.WithLabelValues(wellKnownOp(entry.OperationType)).Inc()
	if perField > 0 {
		entriesEvictedTotal.WithLabelValues("per_field").Add(float64(perField))
	}
	if global > 0 {
		entriesEvictedTotal.WithLabelValues("global").Add(float64(global))
		l.logger.Debug("global cap evicted entries",
			slog.Int("evicted", global),
			slog.Int("max_total", l.cfg.MaxTotal),
		)
	}
	return entry, nil
}

// List returns entries newest-first.
//
// With opts.Field set, that field's entries come first (newest-first),
// followed by every other entry (newest-first). The filter prioritises the
// field; it never excludes others.
func (l *Log) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.Lock()
	entries, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sortNewestFirst(entries)
	if opts.Field != nil {
		field := *opts.Field
		ordered := make([]Entry, 0, len(entries))
		rest := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.Field() == field {
				ordered = append(ordered, e)
			} else {
				rest = append(rest, e)
			}
		}
		entries = append(ordered, rest...)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ListForField returns only the entries of key, oldest-first or newest-first.
// This is the sequence an undo/redo cursor walks.
func (l *Log) ListForField(ctx context.Context, key FieldKey, oldestFirst bool) ([]Entry, error) {
	if !key.Valid() {
		return nil, ErrMissingIdentifier
	}
	l.mu.Lock()
	entries, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fieldSequence(entries, key, oldestFirst), nil
}

// Retag changes the operation type of the entry matching (key, timestamp).
// Returns false when no entry matches.
func (l *Log) Retag(ctx context.Context, key FieldKey, timestamp int64, newType OperationType) (bool, error) {
	if newType == "" {
		return false, errors.New("operation type must not be empty")
	}
	return l.Patch(ctx, key, timestamp, EntryPatch{OperationType: &newType})
}

// Patch merges the non-nil fields of patch into the entry matching
// (key, timestamp). Returns false when no entry matches.
//
// Patched content is truncated like added content; empty content is
// rejected with ErrEmptyContent, and content equal to either neighbour in
// the field's sequence with ErrDuplicate.
func (l *Log) Patch(ctx context.Context, key FieldKey, timestamp int64, patch EntryPatch) (bool, error) {
	if !key.Valid() {
		return false, ErrMissingIdentifier
	}
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return false, ErrEmptyContent
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return false, err
	}

	idx := slices.IndexFunc(entries, func(e Entry) bool {
		return e.Field() == key && e.Timestamp == timestamp
	})
	if idx < 0 {
		return false, nil
	}

	next := slices.Clone(entries)
	target := &next[idx]
	if patch.Content != nil {
		content := truncateContent(*patch.Content, l.cfg.MaxContentLength, l.cfg.TruncationMarker)
		if matchesNeighbour(entries, key, timestamp, content) {
			return false, ErrDuplicate
		}
		target.Content = content
	}
	if patch.OperationType != nil && *patch.OperationType != "" {
		target.OperationType = *patch.OperationType
	}
	if patch.RequestID != nil {
		target.RequestID = *patch.RequestID
	}

	if err := l.save(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// ClearField removes every entry of key and returns how many were removed.
func (l *Log) ClearField(ctx context.Context, key FieldKey) (int, error) {
	if !key.Valid() {
		return 0, ErrMissingIdentifier
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	next := slices.DeleteFunc(slices.Clone(entries), func(e Entry) bool {
		return e.Field() == key
	})
	removed := len(entries) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := l.save(ctx, next); err != nil {
		return 0, err
	}
	return removed, nil
}

// ClearAll empties the log.
func (l *Log) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Remove(ctx, l.cfg.LogKey); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	logEntries.Set(0)
	return nil
}

// Stats aggregates entry counts per field and per operation type.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	l.mu.Lock()
	entries, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:        len(entries),
		PerField:     make(map[string]int),
		PerOperation: make(map[string]int),
	}
	for _, e := range entries {
		stats.PerField[e.Field().String()]++
		stats.PerOperation[string(e.OperationType)]++
	}
	return stats, nil
}

// ByRequestID returns the entries sharing requestID, newest-first.
// An empty requestID matches nothing.
func (l *Log) ByRequestID(ctx context.Context, requestID string) ([]Entry, error) {
	if requestID == "" {
		return nil, nil
	}

	l.mu.Lock()
	entries, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Snapshot returns the whole log oldest-first.
func (l *Log) Snapshot(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// load reads and decodes the blob. Caller holds l.mu.
//
// A missing key is an empty log. An undecodable blob is logged and treated
// as empty; the next successful write replaces it.
func (l *Log) load(ctx context.Context) ([]Entry, error) {
	raw, err := l.store.Get(ctx, l.cfg.LogKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load history: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		l.logger.Warn("discarding unreadable history blob",
			slog.String("key", l.cfg.LogKey),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	sortOldestFirst(entries)
	return entries, nil
}

// save rewrites the whole blob. Caller holds l.mu.
func (l *Log) save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := l.store.Set(ctx, l.cfg.LogKey, raw); err != nil {
		l.logger.Error("history write failed",
			slog.String("key", l.cfg.LogKey),
			slog.Int("entries", len(entries)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("persist history: %w", err)
	}
	logEntries.Set(float64(len(entries)))
	return nil
}

// nextTimestamp returns max(now, newest+1) in Unix milliseconds, so a
// collision is nudged forward by one millisecond and a clock step backwards
// never reorders the log.
func (l *Log) nextTimestamp(entries []Entry) int64 {
	ts := l.now().UnixMilli()
	for _, e := range entries {
		if e.Timestamp >= ts {
			ts = e.Timestamp + 1
		}
	}
	return ts
}

// evict enforces the caps after an append to key.
//
// Stage one keeps the newest MaxPerField entries of key and leaves other
// fields alone. Stage two keeps the newest MaxTotal entries of the whole
// log regardless of field, which can remove entries of fields that are
// under their own cap.
func (l *Log) evict(entries []Entry, key FieldKey) (kept []Entry, perField, global int) {
	seq := fieldSequence(entries, key, false)
	if len(seq) > l.cfg.MaxPerField {
		cutoff := seq[l.cfg.MaxPerField-1].Timestamp
		before := len(entries)
		entries = slices.DeleteFunc(entries, func(e Entry) bool {
			return e.Field() == key && e.Timestamp < cutoff
		})
		perField = before - len(entries)
	}

	if len(entries) > l.cfg.MaxTotal {
		sortNewestFirst(entries)
		global = len(entries) - l.cfg.MaxTotal
		entries = entries[:l.cfg.MaxTotal]
		sortOldestFirst(entries)
	}
	return entries, perField, global
}

// newestFor returns a copy of the most recent entry of key, or nil.
func newestFor(entries []Entry, key FieldKey) *Entry {
	var newest *Entry
	for i := range entries {
		if entries[i].Field() != key {
			continue
		}
		if newest == nil || entries[i].Timestamp > newest.Timestamp {
			e := entries[i]
			newest = &e
		}
	}
	return newest
}

// matchesNeighbour reports whether content equals the entry just before or
// just after timestamp in the field's sequence.
func matchesNeighbour(entries []Entry, key FieldKey, timestamp int64, content string) bool {
	seq := fieldSequence(entries, key, true)
	i := slices.IndexFunc(seq, func(e Entry) bool { return e.Timestamp == timestamp })
	if i > 0 && sameContent(seq[i-1].Content, content) {
		return true
	}
	return i >= 0 && i+1 < len(seq) && sameContent(seq[i+1].Content, content)
}

func fieldSequence(entries []Entry, key FieldKey, oldestFirst bool) []Entry {
	var seq []Entry
	for _, e := range entries {
		if e.Field() == key {
			seq = append(seq, e)
		}
	}
	if oldestFirst {
		sortOldestFirst(seq)
	} else {
		sortNewestFirst(seq)
	}
	return seq
}

func sortOldestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
}

func sortNewestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})
}
