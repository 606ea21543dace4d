// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/edithistory/services/history"
)

const (
	// DefaultMaxPairs caps the number of cached pairs.
	DefaultMaxPairs = 500

	// DefaultPairsKey is the Store key holding the cache.
	DefaultPairsKey = "translation_pairs"
)

// ErrEmptyText is returned for blank source or translation text.
var ErrEmptyText = errors.New("text must not be empty")

// CachedPair is one remembered translation.
type CachedPair struct {
	Source      string `json:"source"`
	Translation string `json:"translation"`
	Lang        string `json:"lang,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// PairCache is a size-capped memo of source/translation pairs.
//
// Pairs are kept oldest-first; recording past MaxPairs drops the oldest.
// Re-recording an existing source replaces its pair and makes it newest.
// Like the history log, every call re-reads the stored blob.
//
// # Thread Safety
//
// Safe for concurrent use.
type PairCache struct {
	store    history.Store
	key      string
	maxPairs int
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// PairCacheOption configures a PairCache.
type PairCacheOption func(*PairCache)

// WithPairsKey overrides DefaultPairsKey.
func WithPairsKey(key string) PairCacheOption {
	return func(c *PairCache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) PairCacheOption {
	return func(c *PairCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewPairCache creates a cache over store. maxPairs <= 0 uses DefaultMaxPairs.
func NewPairCache(store history.Store, maxPairs int, opts ...PairCacheOption) *PairCache {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	c := &PairCache{
		store:    store,
		key:      DefaultPairsKey,
		maxPairs: maxPairs,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ history.TranslationLookup = (*PairCache)(nil)

// Record remembers that source translates to translation in lang.
func (c *PairCache) Record(ctx context.Context, source, translation, lang string) error {
	source = strings.TrimSpace(source)
	translation = strings.TrimSpace(translation)
	if source == "" || translation == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pairs, err := c.load(ctx)
	if err != nil {
		return err
	}
	next := make([]CachedPair, 0, len(pairs)+1)
	for _, p := range pairs {
		if p.Source == source && p.Lang == lang {
			continue
		}
		next = append(next, p)
	}
	next = append(next, CachedPair{
		Source:      source,
		Translation: translation,
		Lang:        lang,
		CreatedAt:   c.now().UnixMilli(),
	})
	if over := len(next) - c.maxPairs; over > 0 {
		next = next[over:]
	}
	return c.save(ctx, next)
}

// LookupPair reports whether text is either side of a cached pair.
// The newest matching pair wins.
func (c *PairCache) LookupPair(ctx context.Context, text string) (history.Pair, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return history.Pair{}, false, nil
	}

	c.mu.Lock()
	pairs, err := c.load(ctx)
	c.mu.Unlock()
	if err != nil {
		return history.Pair{}, false, err
	}

	for i := len(pairs) - 1; i >= 0; i-- {
		switch text {
		case pairs[i].Source:
			return history.Pair{Role: history.RoleSource, Counterpart: pairs[i].Translation}, true, nil
		case pairs[i].Translation:
			return history.Pair{Role: history.RoleTranslation, Counterpart: pairs[i].Source}, true, nil
		}
	}
	return history.Pair{}, false, nil
}

// TranslationOf returns the cached translation of source into lang.
func (c *PairCache) TranslationOf(ctx context.Context, source, lang string) (string, bool, error) {
	source = strings.TrimSpace(source)

	c.mu.Lock()
	pairs, err := c.load(ctx)
	c.mu.Unlock()
	if err != nil {
		return "", false, err
	}

	for i := len(pairs) - 1; i >= 0; i-- {
		if pairs[i].Source == source && pairs[i].Lang == lang {
			return pairs[i].Translation, true, nil
		}
	}
	return "", false, nil
}

// Len returns the number of cached pairs.
func (c *PairCache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pairs, err := c.load(ctx)
	return len(pairs), err
}

// Clear drops every pair.
func (c *PairCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Remove(ctx, c.key); err != nil {
		return fmt.Errorf("clear translation pairs: %w", err)
	}
	return nil
}

func (c *PairCache) load(ctx context.Context) ([]CachedPair, error) {
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, history.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load translation pairs: %w", err)
	}
	var pairs []CachedPair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		c.logger.Warn("discarding unreadable translation cache",
			slog.String("key", c.key),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return pairs, nil
}

func (c *PairCache) save(ctx context.Context, pairs []CachedPair) error {
	raw, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("encode translation pairs: %w", err)
	}
	if err := c.store.Set(ctx, c.key, raw); err != nil {
		return fmt.Errorf("persist translation pairs: %w", err)
	}
	return nil
}
