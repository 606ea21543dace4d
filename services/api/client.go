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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/edithistory/services/history"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is maps reason codes back to the history sentinels so callers can use
// errors.Is on client errors.
func (e *APIError) Is(target error) bool {
	switch e.Reason {
	case "missing_identifier":
		return target == history.ErrMissingIdentifier
	case "empty_content":
		return target == history.ErrEmptyContent
	case "duplicate":
		return target == history.ErrDuplicate
	case "round_trip":
		return target == history.ErrRoundTrip
	case "not_found":
		return target == history.ErrNotFound
	default:
		return false
	}
}

// Client talks to a running `edithistory serve`.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://127.0.0.1:8765").
// A nil httpClient uses one with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// List returns entries newest-first, the field's first when key is set.
func (c *Client) List(ctx context.Context, key *history.FieldKey, limit int) ([]history.Entry, error) {
	q := url.Values{}
	if key != nil {
		q.Set("node_id", key.NodeKey)
		q.Set("input_id", key.InputKey)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp entriesResponse
	err := c.do(ctx, http.MethodGet, "/v1/history?"+q.Encode(), nil, &resp)
	return resp.Entries, err
}

// ListForField returns one field's entries.
func (c *Client) ListForField(ctx context.Context, key history.FieldKey, oldestFirst bool) ([]history.Entry, error) {
	order := "newest"
	if oldestFirst {
		order = "oldest"
	}
	var resp entriesResponse
	err := c.do(ctx, http.MethodGet, fieldPath("/v1/history/field", key)+"?order="+order, nil, &resp)
	return resp.Entries, err
}

// Add records an entry. resync keeps the server-side cursor in step.
func (c *Client) Add(ctx context.Context, entry history.Entry, resync bool) (history.Entry, error) {
	body := addRequest{
		NodeID:        entry.NodeKey,
		InputID:       entry.InputKey,
		Content:       entry.Content,
		OperationType: string(entry.OperationType),
		RequestID:     entry.RequestID,
	}
	path := "/v1/history"
	if resync {
		path += "?resync=true"
	}
	var stored history.Entry
	err := c.do(ctx, http.MethodPost, path, body, &stored)
	return stored, err
}

// Stats returns the aggregate counts.
func (c *Client) Stats(ctx context.Context) (history.Stats, error) {
	var stats history.Stats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &stats)
	return stats, err
}

// Export returns the whole log oldest-first.
func (c *Client) Export(ctx context.Context) ([]history.Entry, error) {
	var resp entriesResponse
	err := c.do(ctx, http.MethodGet, "/v1/export", nil, &resp)
	return resp.Entries, err
}

// ClearField removes one field's entries.
func (c *Client) ClearField(ctx context.Context, key history.FieldKey) (int, error) {
	var resp struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, fieldPath("/v1/history/field", key), nil, &resp)
	return resp.Removed, err
}

// ClearAll empties the log.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/history", nil, nil)
}

// InitCursor (re)builds the server-side cursor of key.
func (c *Client) InitCursor(ctx context.Context, key history.FieldKey, current string) (history.Cursor, error) {
	var cursor history.Cursor
	err := c.do(ctx, http.MethodPost, fieldPath("/v1/cursor", key)+"/init", initCursorRequest{Current: current}, &cursor)
	return cursor, err
}

// Cursor reports the server-side cursor of key and whether it can move.
func (c *Client) Cursor(ctx context.Context, key history.FieldKey) (CursorState, error) {
	var state CursorState
	err := c.do(ctx, http.MethodGet, fieldPath("/v1/cursor", key), nil, &state)
	return state, err
}

// Undo moves the cursor of key back.
func (c *Client) Undo(ctx context.Context, key history.FieldKey) (string, bool, error) {
	var resp moveResponse
	err := c.do(ctx, http.MethodPost, fieldPath("/v1/cursor", key)+"/undo", nil, &resp)
	return resp.Content, resp.Moved, err
}

// Redo moves the cursor of key forward.
func (c *Client) Redo(ctx context.Context, key history.FieldKey) (string, bool, error) {
	var resp moveResponse
	err := c.do(ctx, http.MethodPost, fieldPath("/v1/cursor", key)+"/redo", nil, &resp)
	return resp.Content, resp.Moved, err
}

func fieldPath(prefix string, key history.FieldKey) string {
	return prefix + "/" + url.PathEscape(key.NodeKey) + "/" + url.PathEscape(key.InputKey)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Reason: payload.Reason, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
