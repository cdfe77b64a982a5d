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
	"testing"
	"time"

	badgerlib "github.com/dgraph-io/badger/v4"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB(t *testing.T) {
	t.Run("persistent requires a path", func(t *testing.T) {
		if _, err := OpenDB(DefaultConfig()); err == nil {
			t.Error("empty path should be rejected")
		}
	})

	t.Run("persistent opens with gc runner", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Path = t.TempDir()
		cfg.SyncWrites = false
		db, err := OpenDB(cfg)
		if err != nil {
			t.Fatalf("OpenDB failed: %v", err)
		}
		defer db.Close()

		if db.InMemory() {
			t.Error("should not be in-memory")
		}
		if db.Path() != cfg.Path {
			t.Errorf("path = %q, want %q", db.Path(), cfg.Path)
		}
	})

	t.Run("in-memory reports no path", func(t *testing.T) {
		db := openTestDB(t)
		if !db.InMemory() || db.Path() != "" {
			t.Errorf("got inMemory=%v path=%q", db.InMemory(), db.Path())
		}
	})
}

func TestWithTxn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("commit and read back", func(t *testing.T) {
		err := db.WithTxn(ctx, func(txn *badgerlib.Txn) error {
			return txn.Set([]byte("k1"), []byte("v1"))
		})
		if err != nil {
			t.Fatalf("WithTxn failed: %v", err)
		}

		var value []byte
		err = db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
			item, err := txn.Get([]byte("k1"))
			if err != nil {
				return err
			}
			value, err = item.ValueCopy(nil)
			return err
		})
		if err != nil {
			t.Fatalf("WithReadTxn failed: %v", err)
		}
		if string(value) != "v1" {
			t.Errorf("value = %q, want v1", value)
		}
	})

	t.Run("error discards the write", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTxn(ctx, func(txn *badgerlib.Txn) error {
			if err := txn.Set([]byte("k2"), []byte("v2")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}

		err = db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
			_, err := txn.Get([]byte("k2"))
			return err
		})
		if !errors.Is(err, badgerlib.ErrKeyNotFound) {
			t.Errorf("discarded key should be absent, got %v", err)
		}
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		err := db.WithTxn(cancelled, func(*badgerlib.Txn) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
		err = db.WithReadTxn(cancelled, func(*badgerlib.Txn) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	})
}

func TestNewGCRunner_Validation(t *testing.T) {
	db := openTestDB(t)

	if _, err := NewGCRunner(nil, time.Minute, 0.5, nil); err == nil {
		t.Error("nil db should be rejected")
	}
	if _, err := NewGCRunner(db.DB, 0, 0.5, nil); err == nil {
		t.Error("zero interval should be rejected")
	}
	if _, err := NewGCRunner(db.DB, time.Minute, 1.5, nil); err == nil {
		t.Error("out-of-range ratio should be rejected")
	}
}

func TestGCRunner_StartStop(t *testing.T) {
	db := openTestDB(t)

	runner, err := NewGCRunner(db.DB, 10*time.Millisecond, 0.5, nil)
	if err != nil {
		t.Fatalf("NewGCRunner failed: %v", err)
	}
	runner.Start()
	// Let at least one tick fire; in-memory GC just reports ErrNoRewrite.
	time.Sleep(30 * time.Millisecond)
	runner.Stop()
}
