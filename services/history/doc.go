// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history implements the edit history cache and undo/redo engine.
//
// Every accepted edit of every tracked text field is recorded as an Entry in
// one global, append-only log. The log is keyed per field by a FieldKey
// (node identifier + input identifier) and bounded by a per-field cap and a
// global cap. Each field additionally gets an in-memory undo/redo Cursor that
// walks the field's oldest-to-newest slice of the log.
//
// # Components
//
//	Engine
//	 ├── Log              global entry log (add, dedup, evict, query)
//	 │    ├── Store       whole-blob key/value persistence
//	 │    └── RoundTripFilter
//	 │         └── TranslationLookup
//	 └── CursorTable      per-field undo/redo positions (memory only)
//
// # Persistence
//
// The whole log is stored as a single JSON array under Config.LogKey. Every
// public operation reads the blob, builds the next state on a copy, and
// writes the full blob back. A failed write leaves the previous blob in
// place, so callers never observe a half-applied mutation.
//
// # Thread Safety
//
// Engine, Log and CursorTable are safe for concurrent use. The Log serialises
// all public operations behind one mutex; the read-modify-write pattern is not
// safe across processes sharing one Store.
package history
