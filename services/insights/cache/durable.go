// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badgerlib "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInsights/services/insights/storage/badger"
)

// =============================================================================
// Durable Tier
// =============================================================================

// DurableStore is the slower, restart-surviving tier of the result cache.
//
// # Description
//
// Keys handed to the store are already namespaced by the cache
// (`<namespacePrefix><logicalKey>`); values are the JSON Entry wire format.
// The store may be unavailable or failing at any time — the cache treats
// every returned error as a degradation signal, logs it, and continues
// volatile-only. Implementations must never panic on bad input.
//
// # Thread Safety
//
// All methods must be safe for concurrent use.
type DurableStore interface {
	// Set writes an entry under the namespaced key.
	Set(ctx context.Context, key string, entry Entry) error

	// Get reads an entry. The boolean is false on a clean miss.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists all stored keys sharing the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ApproxBytes estimates the stored size of all keys under the prefix.
	ApproxBytes(ctx context.Context, prefix string) (int64, error)
}

// BadgerStore implements DurableStore on the service's embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a DurableStore backed by the given database.
//
// # Outputs
//
//   - *BadgerStore: Ready for use.
//   - error: Non-nil if db is nil.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &BadgerStore{db: db}, nil
}

// Set writes the JSON-encoded entry under key.
func (s *BadgerStore) Set(ctx context.Context, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	return s.db.WithTxn(ctx, func(txn *badgerlib.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

// Get reads and decodes the entry under key.
func (s *BadgerStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := s.db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badgerlib.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry %q: %w", key, err)
	}
	return entry, found, nil
}

// Delete removes the key. Absent keys are a no-op.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	return s.db.WithTxn(ctx, func(txn *badgerlib.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Keys lists every stored key under prefix.
func (s *BadgerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
		opts := badgerlib.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cache keys %q: %w", prefix, err)
	}
	return keys, nil
}

// ApproxBytes sums the estimated item sizes under prefix.
func (s *BadgerStore) ApproxBytes(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := s.db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
		opts := badgerlib.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			total += it.Item().EstimatedSize()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("estimate cache size %q: %w", prefix, err)
	}
	return total, nil
}

// matchesPattern reports whether a namespaced key's logical part contains
// the pattern as a substring. Containment is deliberately broad: the
// pattern "insight" also invalidates "insightsForUser_2".
func matchesPattern(namespacedKey, namespace, pattern string) bool {
	logical := strings.TrimPrefix(namespacedKey, namespace)
	return strings.Contains(logical, pattern)
}
