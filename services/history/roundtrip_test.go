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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translateEntry(key FieldKey, content string) Entry {
	return Entry{NodeKey: key.NodeKey, InputKey: key.InputKey, Content: content, OperationType: OpTranslate}
}

func TestRoundTripFilter_SuppressesToggle(t *testing.T) {
	lookup := newFakeLookup()
	lookup.record("a cat", "un chat")
	filter := NewRoundTripFilter(lookup, nil)
	ctx := context.Background()

	newest := translateEntry(fieldA, "un chat")
	assert.True(t, filter.IsRoundTripDuplicate(ctx, fieldA, " a cat ", OpTranslate, &newest),
		"reverting a translation back to its source is a toggle")

	newest = translateEntry(fieldA, "a cat")
	assert.True(t, filter.IsRoundTripDuplicate(ctx, fieldA, "un chat", OpTranslate, &newest),
		"re-applying the translation is a toggle")
}

func TestRoundTripFilter_AllowsOtherCases(t *testing.T) {
	lookup := newFakeLookup()
	lookup.record("a cat", "un chat")
	filter := NewRoundTripFilter(lookup, nil)
	ctx := context.Background()

	newest := translateEntry(fieldA, "un chat")

	assert.False(t, filter.IsRoundTripDuplicate(ctx, fieldA, "a cat", OpInput, &newest),
		"only translate candidates are filtered")

	typed := entryFor(fieldA, "un chat")
	typed.OperationType = OpInput
	assert.False(t, filter.IsRoundTripDuplicate(ctx, fieldA, "a cat", OpTranslate, &typed),
		"previous entry must be a translate entry")

	assert.False(t, filter.IsRoundTripDuplicate(ctx, fieldA, "a dog", OpTranslate, &newest),
		"unknown text is not a toggle")

	assert.False(t, filter.IsRoundTripDuplicate(ctx, fieldA, "a cat", OpTranslate, nil))

	other := translateEntry(fieldA, "le chien")
	assert.False(t, filter.IsRoundTripDuplicate(ctx, fieldA, "a cat", OpTranslate, &other),
		"counterpart must match the previous content")
}

func TestRoundTripFilter_NilLookupDisabled(t *testing.T) {
	filter := NewRoundTripFilter(nil, nil)
	newest := translateEntry(fieldA, "un chat")
	assert.False(t, filter.IsRoundTripDuplicate(context.Background(), fieldA, "a cat", OpTranslate, &newest))

	var nilFilter *RoundTripFilter
	assert.False(t, nilFilter.IsRoundTripDuplicate(context.Background(), fieldA, "a cat", OpTranslate, &newest))
}

func TestRoundTripFilter_LookupErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	lookup := newFakeLookup()
	lookup.err = errors.New("cache unavailable")
	filter := NewRoundTripFilter(lookup, logger)

	newest := translateEntry(fieldA, "un chat")
	assert.False(t, filter.IsRoundTripDuplicate(context.Background(), fieldA, "a cat", OpTranslate, &newest))
	assert.Contains(t, buf.String(), "translation lookup failed")
	assert.Contains(t, buf.String(), "12:text")
}

func TestLog_Add_RoundTripRejected(t *testing.T) {
	lookup := newFakeLookup()
	lookup.record("a cat", "un chat")
	log, _ := newTestLog(t, Config{}, WithTranslationLookup(lookup))
	ctx := context.Background()

	_, err := log.Add(ctx, entryFor(fieldA, "a cat"))
	require.NoError(t, err)
	_, err = log.Add(ctx, translateEntry(fieldA, "un chat"))
	require.NoError(t, err, "translating a typed entry is not a toggle")

	_, err = log.Add(ctx, translateEntry(fieldA, "a cat"))
	assert.ErrorIs(t, err, ErrRoundTrip)

	_, err = log.Add(ctx, entryFor(fieldA, "a cat"))
	assert.NoError(t, err, "typing the source back by hand is a real edit")

	seq, err := log.ListForField(ctx, fieldA, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a cat", "un chat", "a cat"}, contents(seq))
}
