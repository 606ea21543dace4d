// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assist runs LLM-backed translate and expand actions on a field and
// records both the original text and the result in edit history under one
// request id.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/AleutianAI/edithistory/services/history"
	"github.com/AleutianAI/edithistory/services/telemetry"
	"github.com/AleutianAI/edithistory/services/translation"
)

// Assistant produces translated or expanded text.
type Assistant interface {
	Translate(ctx context.Context, text, lang string) (translation.Translation, error)
	Expand(ctx context.Context, text string) (string, error)
}

// Result describes one assist action.
type Result struct {
	// Content is the text the field should now show.
	Content string `json:"content"`

	// RequestID correlates the original and result entries.
	RequestID string `json:"request_id"`

	// Recorded is false when history rejected the result, e.g. a
	// translate toggle back to the source.
	Recorded bool `json:"recorded"`

	// Reverted is true when a translation was turned back into its source.
	Reverted bool `json:"reverted,omitempty"`
}

// Service records assist actions in history.
type Service struct {
	engine    *history.Engine
	assistant Assistant
	logger    *slog.Logger
	newID     func() string
}

// NewService creates a Service.
func NewService(engine *history.Engine, assistant Assistant, logger *slog.Logger) (*Service, error) {
	if engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if assistant == nil {
		return nil, errors.New("assistant must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    engine,
		assistant: assistant,
		logger:    logger,
		newID:     uuid.NewString,
	}, nil
}

// Translate translates the field's text and records it as a translate entry.
//
// # Description
//
// The current text is recorded first as an input entry carrying a fresh
// request id. When the text already is the field's newest entry, that entry
// is tagged with the request id instead. The translation (or the cached
// source, for a known translation) is then recorded with AddAndResync so a
// live cursor stays usable.
//
// # Outputs
//
//   - Result: Text to show plus correlation data.
//   - error: Invalid field or text, LLM failure, or a store error.
func (s *Service) Translate(ctx context.Context, key history.FieldKey, text, lang string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "edithistory.assist", "assist.Translate")
	defer span.End()

	requestID := s.newID()
	if err := s.recordOriginal(ctx, key, text, requestID); err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}

	out, err := s.assistant.Translate(ctx, text, lang)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, fmt.Errorf("translate: %w", err)
	}

	recorded, err := s.recordResult(ctx, key, out.Text, history.OpTranslate, requestID)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}
	return Result{Content: out.Text, RequestID: requestID, Recorded: recorded, Reverted: out.Reverted}, nil
}

// Expand expands the field's text and records it as an expand entry.
func (s *Service) Expand(ctx context.Context, key history.FieldKey, text string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "edithistory.assist", "assist.Expand")
	defer span.End()

	requestID := s.newID()
	if err := s.recordOriginal(ctx, key, text, requestID); err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}

	expanded, err := s.assistant.Expand(ctx, text)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, fmt.Errorf("expand: %w", err)
	}

	recorded, err := s.recordResult(ctx, key, expanded, history.OpExpand, requestID)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}
	return Result{Content: expanded, RequestID: requestID, Recorded: recorded}, nil
}

func (s *Service) recordOriginal(ctx context.Context, key history.FieldKey, text, requestID string) error {
	_, err := s.engine.AddAndResync(ctx, history.Entry{
		NodeKey:       key.NodeKey,
		InputKey:      key.InputKey,
		Content:       text,
		OperationType: history.OpInput,
		RequestID:     requestID,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, history.ErrDuplicate) {
		return err
	}

	newest, err := s.engine.ListForField(ctx, key, false)
	if err != nil {
		return err
	}
	if len(newest) > 0 && newest[0].RequestID == "" {
		if _, err := s.engine.Patch(ctx, key, newest[0].Timestamp, history.EntryPatch{RequestID: &requestID}); err != nil {
			return err
		}
	}
	return nil
}

// recordResult adds the assist output. Filter rejections are not errors.
func (s *Service) recordResult(ctx context.Context, key history.FieldKey, content string, op history.OperationType, requestID string) (bool, error) {
	_, err := s.engine.AddAndResync(ctx, history.Entry{
		NodeKey:       key.NodeKey,
		InputKey:      key.InputKey,
		Content:       content,
		OperationType: op,
		RequestID:     requestID,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, history.ErrRoundTrip), errors.Is(err, history.ErrDuplicate):
		s.logger.Debug("assist result not recorded",
			slog.String("field", key.String()),
			slog.String("operation_type", string(op)),
			slog.String("reason", err.Error()),
		)
		return false, nil
	default:
		return false, err
	}
}
