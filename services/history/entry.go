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
	"strings"
	"unicode/utf8"
)

// OperationType describes how an entry's content was produced.
//
// The well-known values are declared below; any other non-empty label is
// accepted and stored as-is.
type OperationType string

const (
	OpInput     OperationType = "input"
	OpTranslate OperationType = "translate"
	OpExpand    OperationType = "expand"
	OpCaption   OperationType = "caption"
	OpUndo      OperationType = "undo"
	OpRedo      OperationType = "redo"
)

// FieldKey identifies one tracked text field: the unit of undo/redo scope.
type FieldKey struct {
	NodeKey  string `json:"node_id"`
	InputKey string `json:"input_id"`
}

// String renders the key as "node:input".
func (k FieldKey) String() string {
	return k.NodeKey + ":" + k.InputKey
}

// Valid reports whether both identifiers are present.
func (k FieldKey) Valid() bool {
	return strings.TrimSpace(k.NodeKey) != "" && strings.TrimSpace(k.InputKey) != ""
}

// Entry is one accepted edit of a field.
type Entry struct {
	NodeKey       string        `json:"node_id"`
	InputKey      string        `json:"input_id"`
	Content       string        `json:"content"`
	OperationType OperationType `json:"operation_type"`

	// Timestamp is the creation instant in Unix milliseconds. Unique across the log.
	Timestamp int64 `json:"timestamp"`

	// RequestID correlates entries produced by one multi-step operation.
	RequestID string `json:"request_id,omitempty"`
}

// Field returns the entry's FieldKey.
func (e Entry) Field() FieldKey {
	return FieldKey{NodeKey: e.NodeKey, InputKey: e.InputKey}
}

// EntryPatch holds optional field updates merged into one entry by Patch.
// Nil fields are left untouched.
type EntryPatch struct {
	Content       *string        `json:"content,omitempty"`
	OperationType *OperationType `json:"operation_type,omitempty"`
	RequestID     *string        `json:"request_id,omitempty"`
}

// Stats is a read-only aggregate over the whole log.
type Stats struct {
	Total        int            `json:"total"`
	PerField     map[string]int `json:"per_field"`
	PerOperation map[string]int `json:"per_operation"`
}

// truncateContent clips s to max runes and appends marker when clipped.
func truncateContent(s string, max int, marker string) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + marker
}

// sameContent compares two snapshots the way dedup does: trimmed, exact.
func sameContent(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
