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
	"strings"
)

// PairRole says which side of a translation pair a looked-up text is on.
type PairRole string

const (
	// RoleSource marks text that was translated into Pair.Counterpart.
	RoleSource PairRole = "source"

	// RoleTranslation marks text that is the translation of Pair.Counterpart.
	RoleTranslation PairRole = "translation"
)

// Pair is the result of a translation lookup.
type Pair struct {
	Role        PairRole `json:"role"`
	Counterpart string   `json:"counterpart"`
}

// TranslationLookup answers source/translation pair queries.
//
// LookupPair returns ok=false when text is not a member of any known pair.
type TranslationLookup interface {
	LookupPair(ctx context.Context, text string) (pair Pair, ok bool, err error)
}

// RoundTripFilter suppresses translate entries that merely toggle back to
// the counterpart of the field's previous translate entry.
type RoundTripFilter struct {
	lookup TranslationLookup
	logger *slog.Logger
}

// NewRoundTripFilter creates a filter. A nil lookup disables filtering.
func NewRoundTripFilter(lookup TranslationLookup, logger *slog.Logger) *RoundTripFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoundTripFilter{lookup: lookup, logger: logger}
}

// IsRoundTripDuplicate reports whether candidate is a translate/untranslate
// toggle of newest, the most recent existing entry of key.
//
// # Description
//
// Only applies when op is OpTranslate and the newest entry is also a
// translate entry. The trimmed candidate is looked up; it is a duplicate
// when it is a known source whose translation equals the newest content, or
// a known translation whose source equals the newest content.
//
// Lookup failures are logged and treated as "not a duplicate".
//
// # Inputs
//
//   - ctx: Context for the lookup.
//   - key: Field the candidate belongs to (log attribute only).
//   - candidate: Untrimmed candidate content.
//   - op: Candidate operation type.
//   - newest: Most recent existing entry of key, or nil.
func (f *RoundTripFilter) IsRoundTripDuplicate(ctx context.Context, key FieldKey, candidate string, op OperationType, newest *Entry) bool {
	if f == nil || f.lookup == nil || op != OpTranslate {
		return false
	}
	if newest == nil || newest.OperationType != OpTranslate {
		return false
	}

	text := strings.TrimSpace(candidate)
	pair, ok, err := f.lookup.LookupPair(ctx, text)
	if err != nil {
		f.logger.Warn("translation lookup failed, keeping entry",
			slog.String("field", key.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		return false
	}

	previous := strings.TrimSpace(newest.Content)
	switch pair.Role {
	case RoleSource, RoleTranslation:
		return strings.TrimSpace(pair.Counterpart) == previous
	default:
		return false
	}
}
