// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/edithistory/services/history"
)

// KVStore is a history.Store over a DB.
//
// Keys are namespaced with a prefix so the history log and the pair cache
// can share one database with other data.
type KVStore struct {
	db     *DB
	prefix string
}

// DefaultKeyPrefix namespaces every key written by KVStore.
const DefaultKeyPrefix = "edithistory/"

// NewKVStore wraps db. An empty prefix uses DefaultKeyPrefix.
func NewKVStore(db *DB, prefix string) *KVStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KVStore{db: db, prefix: prefix}
}

var _ history.Store = (*KVStore)(nil)

func (s *KVStore) key(k string) []byte {
	return []byte(s.prefix + k)
}

// Get returns a copy of the value under key, or history.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, history.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

// Set replaces the value under key in one committed transaction.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.key(key), value)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}
