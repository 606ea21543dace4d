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

import "fmt"

const (
	// DefaultMaxPerField caps entries kept for a single field.
	DefaultMaxPerField = 20

	// DefaultMaxTotal caps entries kept across the whole log.
	DefaultMaxTotal = 100

	// DefaultMaxContentLength is the content cap in runes.
	DefaultMaxContentLength = 5000

	// DefaultTruncationMarker is appended to clipped content.
	DefaultTruncationMarker = "..."

	// DefaultLogKey is the Store key holding the serialized log.
	DefaultLogKey = "edit_history"

	// DefaultListLimit is used by List when no positive limit is given.
	DefaultListLimit = 50
)

// Config bounds the history log.
//
// Zero values are replaced by the defaults above; negative values are
// rejected by Validate.
type Config struct {
	MaxPerField      int    `yaml:"max_per_field" mapstructure:"max_per_field"`
	MaxTotal         int    `yaml:"max_total" mapstructure:"max_total"`
	MaxContentLength int    `yaml:"max_content_length" mapstructure:"max_content_length"`
	TruncationMarker string `yaml:"truncation_marker" mapstructure:"truncation_marker"`
	LogKey           string `yaml:"log_key" mapstructure:"log_key"`
}

// DefaultConfig returns the stock caps.
func DefaultConfig() Config {
	return Config{
		MaxPerField:      DefaultMaxPerField,
		MaxTotal:         DefaultMaxTotal,
		MaxContentLength: DefaultMaxContentLength,
		TruncationMarker: DefaultTruncationMarker,
		LogKey:           DefaultLogKey,
	}
}

// Validate rejects negative caps.
func (c Config) Validate() error {
	if c.MaxPerField < 0 {
		return fmt.Errorf("%w: max_per_field must not be negative, got %d", ErrInvalidConfig, c.MaxPerField)
	}
	if c.MaxTotal < 0 {
		return fmt.Errorf("%w: max_total must not be negative, got %d", ErrInvalidConfig, c.MaxTotal)
	}
	if c.MaxContentLength < 0 {
		return fmt.Errorf("%w: max_content_length must not be negative, got %d", ErrInvalidConfig, c.MaxContentLength)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxPerField == 0 {
		c.MaxPerField = DefaultMaxPerField
	}
	if c.MaxTotal == 0 {
		c.MaxTotal = DefaultMaxTotal
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = DefaultMaxContentLength
	}
	if c.TruncationMarker == "" {
		c.TruncationMarker = DefaultTruncationMarker
	}
	if c.LogKey == "" {
		c.LogKey = DefaultLogKey
	}
	return c
}
