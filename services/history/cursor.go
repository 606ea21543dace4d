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

import "sync"

// emptyPosition is the cursor position of a field with no entries.
const emptyPosition = -1

// Cursor is the undo/redo position of one field.
//
// Position indexes the field's oldest-to-newest entry sequence.
// LastSeenTimestamp and Length describe the sequence the cursor was derived
// from; a sequence that no longer matches them makes the cursor stale.
type Cursor struct {
	Position          int    `json:"position"`
	LastKnownContent  string `json:"last_known_content"`
	LastSeenTimestamp int64  `json:"last_seen_timestamp"`
	Length            int    `json:"length"`
}

// stale reports whether seq differs from the sequence the cursor was built on.
func (c *Cursor) stale(seq []Entry) bool {
	if len(seq) != c.Length {
		return true
	}
	return newestTimestamp(seq) != c.LastSeenTimestamp
}

// CursorResult classifies an undo or redo attempt.
type CursorResult string

const (
	CursorMoved    CursorResult = "moved"
	CursorAtEdge   CursorResult = "edge"
	CursorStale    CursorResult = "stale"
	CursorNoCursor CursorResult = "no_cursor"
)

// CursorTable holds one Cursor per field. Cursors live in memory only.
//
// Every method takes the field's current oldest-first sequence; the table
// never caches entries, it only remembers positions.
//
// # Thread Safety
//
// Safe for concurrent use.
type CursorTable struct {
	mu      sync.Mutex
	cursors map[FieldKey]*Cursor
}

// NewCursorTable creates an empty table.
func NewCursorTable() *CursorTable {
	return &CursorTable{cursors: make(map[FieldKey]*Cursor)}
}

// Init (re)builds the cursor of key at the newest entry of seq.
func (t *CursorTable) Init(key FieldKey, current string, seq []Entry) Cursor {
	c := Cursor{
		Position:          len(seq) - 1,
		LastKnownContent:  current,
		LastSeenTimestamp: newestTimestamp(seq),
		Length:            len(seq),
	}
	if len(seq) == 0 {
		c.Position = emptyPosition
	}

	t.mu.Lock()
	t.cursors[key] = &c
	t.mu.Unlock()
	return c
}

// Undo steps the cursor of key one entry back.
//
// Fails (CursorAtEdge) at position 0: the oldest known state is the floor.
func (t *CursorTable) Undo(key FieldKey, seq []Entry) (string, CursorResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cursors[key]
	if !ok {
		return "", CursorNoCursor
	}
	if c.stale(seq) {
		return "", CursorStale
	}
	if c.Position <= 0 {
		return "", CursorAtEdge
	}
	c.Position--
	c.LastKnownContent = seq[c.Position].Content
	return c.LastKnownContent, CursorMoved
}

// Redo steps the cursor of key one entry forward.
func (t *CursorTable) Redo(key FieldKey, seq []Entry) (string, CursorResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cursors[key]
	if !ok {
		return "", CursorNoCursor
	}
	if c.stale(seq) {
		return "", CursorStale
	}
	if c.Position >= len(seq)-1 {
		return "", CursorAtEdge
	}
	c.Position++
	c.LastKnownContent = seq[c.Position].Content
	return c.LastKnownContent, CursorMoved
}

// CanUndo reports whether Undo would move.
func (t *CursorTable) CanUndo(key FieldKey, seq []Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cursors[key]
	return ok && !c.stale(seq) && c.Position > 0
}

// CanRedo reports whether Redo would move.
func (t *CursorTable) CanRedo(key FieldKey, seq []Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cursors[key]
	return ok && !c.stale(seq) && c.Position < len(seq)-1
}

// Stale reports whether the cursor of key was built on a sequence other
// than seq. A missing cursor is not stale.
func (t *CursorTable) Stale(key FieldKey, seq []Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cursors[key]
	return ok && c.stale(seq)
}

// Get returns a copy of the cursor of key.
func (t *CursorTable) Get(key FieldKey) (Cursor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cursors[key]
	if !ok {
		return Cursor{}, false
	}
	return *c, true
}

// Drop discards the cursor of key, e.g. when its widget is torn down.
func (t *CursorTable) Drop(key FieldKey) {
	t.mu.Lock()
	delete(t.cursors, key)
	t.mu.Unlock()
}

// Reset discards every cursor.
func (t *CursorTable) Reset() {
	t.mu.Lock()
	t.cursors = make(map[FieldKey]*Cursor)
	t.mu.Unlock()
}

// Len returns the number of live cursors.
func (t *CursorTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cursors)
}

// newestTimestamp returns the last timestamp of an oldest-first sequence, or 0.
func newestTimestamp(seq []Entry) int64 {
	if len(seq) == 0 {
		return 0
	}
	return seq[len(seq)-1].Timestamp
}
