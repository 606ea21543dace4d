// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/edithistory/services/assist"
	"github.com/AleutianAI/edithistory/services/history"
	"github.com/AleutianAI/edithistory/services/telemetry"
	"github.com/AleutianAI/edithistory/services/translation"
)

type handlers struct {
	engine *history.Engine
	assist *assist.Service
	logger *slog.Logger
}

// =============================================================================
// Request and response bodies
// =============================================================================

type addRequest struct {
	NodeID        string `json:"node_id" binding:"required"`
	InputID       string `json:"input_id" binding:"required"`
	Content       string `json:"content" binding:"required"`
	OperationType string `json:"operation_type" binding:"omitempty,max=64"`
	RequestID     string `json:"request_id" binding:"omitempty,max=128"`
}

type patchRequest struct {
	Content       *string `json:"content"`
	OperationType *string `json:"operation_type" binding:"omitempty,min=1,max=64"`
	RequestID     *string `json:"request_id" binding:"omitempty,max=128"`
}

type retagRequest struct {
	OperationType string `json:"operation_type" binding:"required,max=64"`
}

type initCursorRequest struct {
	Current string `json:"current"`
}

type assistRequest struct {
	NodeID  string `json:"node_id" binding:"required"`
	InputID string `json:"input_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
	Lang    string `json:"lang" binding:"omitempty,max=64"`
}

type moveResponse struct {
	Content string `json:"content"`
	Moved   bool   `json:"moved"`
}

// CursorState is the GET /v1/cursor response. Cursor is nil when the field
// has none.
type CursorState struct {
	Cursor  *history.Cursor `json:"cursor"`
	CanUndo bool            `json:"can_undo"`
	CanRedo bool            `json:"can_redo"`

	// Stale is true when the field's history changed since the cursor was
	// built; the cursor must be re-initialised before it can move.
	Stale bool `json:"stale"`
}

type entriesResponse struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

func newEntriesResponse(entries []history.Entry) entriesResponse {
	if entries == nil {
		entries = []history.Entry{}
	}
	return entriesResponse{Entries: entries, Count: len(entries)}
}

// =============================================================================
// Error mapping
// =============================================================================

// statusFor maps engine errors to an HTTP status and a stable reason code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, history.ErrMissingIdentifier):
		return http.StatusBadRequest, "missing_identifier"
	case errors.Is(err, history.ErrEmptyContent), errors.Is(err, translation.ErrEmptyText):
		return http.StatusBadRequest, "empty_content"
	case errors.Is(err, history.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, history.ErrRoundTrip):
		return http.StatusConflict, "round_trip"
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	status, reason := statusFor(err)
	if status >= http.StatusInternalServerError {
		telemetry.LoggerWithTrace(c.Request.Context(), h.logger).Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{"error": "internal error", "reason": reason})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "reason": "invalid_request"})
}

func fieldParam(c *gin.Context) history.FieldKey {
	return history.FieldKey{NodeKey: c.Param("node"), InputKey: c.Param("input")}
}

func timestampParam(c *gin.Context) (int64, bool) {
	ts, err := strconv.ParseInt(c.Param("ts"), 10, 64)
	if err != nil {
		badRequest(c, "timestamp must be an integer (unix milliseconds)")
		return 0, false
	}
	return ts, true
}

// =============================================================================
// Handlers
// =============================================================================

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) addEntry(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	entry := history.Entry{
		NodeKey:       req.NodeID,
		InputKey:      req.InputID,
		Content:       req.Content,
		OperationType: history.OperationType(req.OperationType),
		RequestID:     req.RequestID,
	}

	var (
		stored history.Entry
		err    error
	)
	if c.Query("resync") == "true" {
		stored, err = h.engine.AddAndResync(c.Request.Context(), entry)
	} else {
		stored, err = h.engine.Add(c.Request.Context(), entry)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *handlers) listEntries(c *gin.Context) {
	opts := history.ListOptions{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}
	node, input := c.Query("node_id"), c.Query("input_id")
	if node != "" || input != "" {
		key := history.FieldKey{NodeKey: node, InputKey: input}
		if !key.Valid() {
			h.fail(c, history.ErrMissingIdentifier)
			return
		}
		opts.Field = &key
	}

	entries, err := h.engine.List(c.Request.Context(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntriesResponse(entries))
}

func (h *handlers) listField(c *gin.Context) {
	oldestFirst := true
	switch c.DefaultQuery("order", "oldest") {
	case "oldest":
	case "newest":
		oldestFirst = false
	default:
		badRequest(c, "order must be oldest or newest")
		return
	}

	entries, err := h.engine.ListForField(c.Request.Context(), fieldParam(c), oldestFirst)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntriesResponse(entries))
}

func (h *handlers) clearField(c *gin.Context) {
	removed, err := h.engine.ClearField(c.Request.Context(), fieldParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handlers) clearAll(c *gin.Context) {
	if err := h.engine.ClearAll(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) patchEntry(c *gin.Context) {
	ts, ok := timestampParam(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	patch := history.EntryPatch{Content: req.Content, RequestID: req.RequestID}
	if req.OperationType != nil {
		op := history.OperationType(*req.OperationType)
		patch.OperationType = &op
	}

	found, err := h.engine.Patch(c.Request.Context(), fieldParam(c), ts, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !found {
		h.fail(c, history.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *handlers) retagEntry(c *gin.Context) {
	ts, ok := timestampParam(c)
	if !ok {
		return
	}
	var req retagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "operation_type is required")
		return
	}

	found, err := h.engine.Retag(c.Request.Context(), fieldParam(c), ts, history.OperationType(req.OperationType))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !found {
		h.fail(c, history.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *handlers) initCursor(c *gin.Context) {
	var req initCursorRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}
	cursor, err := h.engine.InitCursor(c.Request.Context(), fieldParam(c), req.Current)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cursor)
}

func (h *handlers) undo(c *gin.Context) {
	content, moved, err := h.engine.Undo(c.Request.Context(), fieldParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, moveResponse{Content: content, Moved: moved})
}

func (h *handlers) redo(c *gin.Context) {
	content, moved, err := h.engine.Redo(c.Request.Context(), fieldParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, moveResponse{Content: content, Moved: moved})
}

func (h *handlers) getCursor(c *gin.Context) {
	ctx := c.Request.Context()
	key := fieldParam(c)
	if !key.Valid() {
		h.fail(c, history.ErrMissingIdentifier)
		return
	}

	var resp CursorState
	if cursor, ok := h.engine.Cursor(key); ok {
		resp.Cursor = &cursor
	}
	var err error
	if resp.CanUndo, err = h.engine.CanUndo(ctx, key); err != nil {
		h.fail(c, err)
		return
	}
	if resp.CanRedo, err = h.engine.CanRedo(ctx, key); err != nil {
		h.fail(c, err)
		return
	}
	if resp.Stale, err = h.engine.CursorStale(ctx, key); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) byRequestID(c *gin.Context) {
	entries, err := h.engine.ByRequestID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntriesResponse(entries))
}

func (h *handlers) export(c *gin.Context) {
	entries, err := h.engine.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntriesResponse(entries))
}

func (h *handlers) translate(c *gin.Context) {
	var req assistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	key := history.FieldKey{NodeKey: req.NodeID, InputKey: req.InputID}
	result, err := h.assist.Translate(c.Request.Context(), key, req.Text, req.Lang)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) expand(c *gin.Context) {
	var req assistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	key := history.FieldKey{NodeKey: req.NodeID, InputKey: req.InputID}
	result, err := h.assist.Expand(c.Request.Context(), key, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
