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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/edithistory/services/telemetry"
)

const tracerName = "edithistory.history"

// Engine is the history cache and undo/redo engine of one application session.
//
// # Description
//
// Holds a Log and a CursorTable. Construct one per session and pass it to
// every caller; there is no package-level state besides metrics.
//
// Undo, Redo, CanUndo and CanRedo re-derive the field's oldest-first
// sequence from the Log on every call. A cursor whose sequence changed since
// it was built (an Add that bypassed AddAndResync, an eviction, a clear) is
// stale and refuses to move until InitCursor or AddAndResync rebuilds it.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	log     *Log
	cursors *CursorTable
	logger  *slog.Logger
}

// NewEngine creates an Engine.
//
// # Inputs
//
//   - store: Persistence for the log. Must not be nil.
//   - lookup: Translation pair lookup for the round-trip filter. May be nil.
//   - cfg: Caps. Zero fields take defaults.
//   - opts: WithLogger, WithClock.
//
// # Outputs
//
//   - *Engine: Ready-to-use engine with no cursors.
//   - error: Non-nil for a nil store or invalid config.
func NewEngine(store Store, lookup TranslationLookup, cfg Config, opts ...Option) (*Engine, error) {
	opts = append(opts, WithTranslationLookup(lookup))
	log, err := NewLog(store, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		log:     log,
		cursors: NewCursorTable(),
		logger:  log.logger,
	}, nil
}

// Config returns the effective log configuration.
func (e *Engine) Config() Config {
	return e.log.Config()
}

// Add records an entry. See Log.Add.
//
// A live cursor of the same field becomes stale; use AddAndResync to keep it.
func (e *Engine) Add(ctx context.Context, entry Entry) (Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "history.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("history.field", entry.Field().String()),
		attribute.String("history.operation_type", string(entry.OperationType)),
	)

	stored, err := e.log.Add(ctx, entry)
	if err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}
	span.SetAttributes(attribute.Int64("history.timestamp", stored.Timestamp))
	return stored, nil
}

// AddAndResync records an entry and moves the field's cursor to it.
//
// # Description
//
// On success the field's sequence is re-derived and the cursor set to its
// last index with the new content, creating the cursor if none existed. On
// rejection the cursor is left untouched.
func (e *Engine) AddAndResync(ctx context.Context, entry Entry) (Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "history.AddAndResync")
	defer span.End()
	key := entry.Field()
	span.SetAttributes(attribute.String("history.field", key.String()))

	stored, err := e.log.Add(ctx, entry)
	if err != nil {
		telemetry.RecordError(span, err)
		return Entry{}, err
	}

	seq, err := e.log.ListForField(ctx, key, true)
	if err != nil {
		telemetry.RecordError(span, err)
		return stored, err
	}
	e.cursors.Init(key, stored.Content, seq)
	return stored, nil
}

// List returns entries newest-first. See Log.List.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	return e.log.List(ctx, opts)
}

// ListForField returns one field's entries. See Log.ListForField.
func (e *Engine) ListForField(ctx context.Context, key FieldKey, oldestFirst bool) ([]Entry, error) {
	return e.log.ListForField(ctx, key, oldestFirst)
}

// InitCursor builds the cursor of key at the field's newest entry.
// A field without entries gets a cursor at the empty sentinel.
func (e *Engine) InitCursor(ctx context.Context, key FieldKey, current string) (Cursor, error) {
	seq, err := e.log.ListForField(ctx, key, true)
	if err != nil {
		return Cursor{}, err
	}
	return e.cursors.Init(key, current, seq), nil
}

// Undo moves the cursor of key one entry back and returns that content.
// ok is false when there is nothing to undo, no cursor, or a stale cursor.
func (e *Engine) Undo(ctx context.Context, key FieldKey) (content string, ok bool, err error) {
	return e.move(ctx, key, "undo")
}

// Redo moves the cursor of key one entry forward and returns that content.
func (e *Engine) Redo(ctx context.Context, key FieldKey) (content string, ok bool, err error) {
	return e.move(ctx, key, "redo")
}

func (e *Engine) move(ctx context.Context, key FieldKey, direction string) (string, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "history."+direction)
	defer span.End()
	span.SetAttributes(attribute.String("history.field", key.String()))

	seq, err := e.log.ListForField(ctx, key, true)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", false, err
	}

	var (
		content string
		result  CursorResult
	)
	if direction == "undo" {
		content, result = e.cursors.Undo(key, seq)
	} else {
		content, result = e.cursors.Redo(key, seq)
	}
	cursorMovesTotal.WithLabelValues(direction, string(result)).Inc()
	span.SetAttributes(attribute.String("history.cursor_result", string(result)))

	if result == CursorStale {
		telemetry.LoggerWithTrace(ctx, e.logger).Debug("refusing to move stale cursor",
			slog.String("field", key.String()),
			slog.String("direction", direction),
		)
	}
	return content, result == CursorMoved, nil
}

// CanUndo reports whether Undo would move the cursor of key.
func (e *Engine) CanUndo(ctx context.Context, key FieldKey) (bool, error) {
	seq, err := e.log.ListForField(ctx, key, true)
	if err != nil {
		return false, err
	}
	return e.cursors.CanUndo(key, seq), nil
}

// CanRedo reports whether Redo would move the cursor of key.
func (e *Engine) CanRedo(ctx context.Context, key FieldKey) (bool, error) {
	seq, err := e.log.ListForField(ctx, key, true)
	if err != nil {
		return false, err
	}
	return e.cursors.CanRedo(key, seq), nil
}

// CursorStale reports whether the cursor of key no longer matches the
// field's history, so Undo and Redo would refuse to move it.
func (e *Engine) CursorStale(ctx context.Context, key FieldKey) (bool, error) {
	seq, err := e.log.ListForField(ctx, key, true)
	if err != nil {
		return false, err
	}
	return e.cursors.Stale(key, seq), nil
}

// Cursor returns the cursor of key, if any.
func (e *Engine) Cursor(key FieldKey) (Cursor, bool) {
	return e.cursors.Get(key)
}

// DropCursor discards the cursor of key without touching its entries.
func (e *Engine) DropCursor(key FieldKey) {
	e.cursors.Drop(key)
}

// Retag changes the operation type of one entry. See Log.Retag.
func (e *Engine) Retag(ctx context.Context, key FieldKey, timestamp int64, newType OperationType) (bool, error) {
	return e.log.Retag(ctx, key, timestamp, newType)
}

// Patch merges updates into one entry. See Log.Patch.
func (e *Engine) Patch(ctx context.Context, key FieldKey, timestamp int64, patch EntryPatch) (bool, error) {
	return e.log.Patch(ctx, key, timestamp, patch)
}

// ClearField removes every entry of key and discards its cursor.
func (e *Engine) ClearField(ctx context.Context, key FieldKey) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "history.ClearField")
	defer span.End()

	removed, err := e.log.ClearField(ctx, key)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}
	e.cursors.Drop(key)
	span.SetAttributes(attribute.Int("history.removed", removed))
	return removed, nil
}

// ClearAll empties the log and discards every cursor.
func (e *Engine) ClearAll(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "history.ClearAll")
	defer span.End()

	if err := e.log.ClearAll(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	e.cursors.Reset()
	telemetry.LoggerWithTrace(ctx, e.logger).Info("history cleared")
	return nil
}

// Stats aggregates the log. See Log.Stats.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.log.Stats(ctx)
}

// ByRequestID returns correlated entries newest-first. See Log.ByRequestID.
func (e *Engine) ByRequestID(ctx context.Context, requestID string) ([]Entry, error) {
	return e.log.ByRequestID(ctx, requestID)
}

// Snapshot returns the whole log oldest-first.
func (e *Engine) Snapshot(ctx context.Context) ([]Entry, error) {
	return e.log.Snapshot(ctx)
}
