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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "edithistory"
	metricsSubsystem = "history"
)

// Rejection reasons used as the "reason" label.
const (
	reasonMissingIdentifier = "missing_identifier"
	reasonEmpty             = "empty_content"
	reasonRoundTrip         = "round_trip"
	reasonDuplicate         = "duplicate"
	reasonStoreError        = "store_error"
)

var (
	entriesAddedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "entries_added_total",
		Help:      "Entries accepted into the history log by operation type",
	}, []string{"operation_type"})

	entriesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "entries_rejected_total",
		Help:      "Candidate entries rejected by reason",
	}, []string{"reason"})

	entriesEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "entries_evicted_total",
		Help:      "Entries evicted by cap stage (per_field, global)",
	}, []string{"stage"})

	cursorMovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "cursor_moves_total",
		Help:      "Undo/redo attempts by direction and result",
	}, []string{"direction", "result"})

	logEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "log_entries",
		Help:      "Entries in the history log after the last write",
	})
)

// wellKnownOp maps custom labels to "custom" so label cardinality stays bounded.
func wellKnownOp(op OperationType) string {
	switch op {
	case OpInput, OpTranslate, OpExpand, OpCaption, OpUndo, OpRedo:
		return string(op)
	default:
		return "custom"
	}
}
