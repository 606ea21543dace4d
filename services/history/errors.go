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

import "errors"

var (
	// ErrMissingIdentifier indicates an entry or query without a node or input key.
	ErrMissingIdentifier = errors.New("node and input identifiers are required")

	// ErrEmptyContent indicates empty or whitespace-only content.
	ErrEmptyContent = errors.New("content is empty")

	// ErrDuplicate indicates the content matches the newest entry of the field.
	ErrDuplicate = errors.New("content matches the most recent entry")

	// ErrRoundTrip indicates a translation that only toggles back to the
	// previous translate entry's counterpart.
	ErrRoundTrip = errors.New("translation round-trip of the previous entry")

	// ErrNotFound is returned by a Store when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidConfig indicates a Config that cannot bound the log.
	ErrInvalidConfig = errors.New("invalid history config")
)
