// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	badgerlib "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
	"github.com/AleutianAI/AleutianInsights/services/insights/storage/badger"
)

// =============================================================================
// Repository Interface
// =============================================================================

// Repository is the persistence collaborator for Analysis entities.
//
// # Description
//
// The orchestrator is the only writer; it persists every lifecycle
// transition through Update. FindByFingerprint backs submit deduplication:
// the fingerprint is the hash of (userID, taskID, analysisType, data), and
// the repository keeps a fingerprint → first-entity index for it.
//
// # Thread Safety
//
// All methods must be safe for concurrent use.
type Repository interface {
	// Create persists a new analysis and assigns its ID in place.
	Create(ctx context.Context, a *datatypes.Analysis) error

	// Update persists the current state of an existing analysis.
	// Returns ErrNotFound if the entity was deleted.
	Update(ctx context.Context, a *datatypes.Analysis) error

	// GetByID loads an analysis. Returns ErrNotFound on a miss.
	GetByID(ctx context.Context, id datatypes.AnalysisID) (*datatypes.Analysis, error)

	// FindByFingerprint returns the analysis first created for the given
	// dedup fingerprint, or (nil, nil) when none exists.
	FindByFingerprint(ctx context.Context, fingerprint string) (*datatypes.Analysis, error)

	// ListByUser returns all analyses for a user, newest first.
	ListByUser(ctx context.Context, userID datatypes.UserID) ([]*datatypes.Analysis, error)
}

// =============================================================================
// Badger Repository
// =============================================================================

// Key layout in the shared BadgerDB:
//
//	analysis:<8-byte big-endian id>   → JSON Analysis
//	analysis_fp:<hex fingerprint>     → 8-byte big-endian id
const (
	entityKeyPrefix      = "analysis:"
	fingerprintKeyPrefix = "analysis_fp:"
	sequenceKey          = "analysis_seq"
)

// BadgerRepository implements Repository on the embedded BadgerDB.
type BadgerRepository struct {
	db  *badger.DB
	seq *badgerlib.Sequence
}

// NewBadgerRepository creates a repository on the given database.
//
// # Outputs
//
//   - *BadgerRepository: Ready for use. Call Close() to release the ID
//     sequence during shutdown.
//   - error: Non-nil if db is nil or the sequence cannot be opened.
func NewBadgerRepository(db *badger.DB) (*BadgerRepository, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 64)
	if err != nil {
		return nil, fmt.Errorf("open analysis id sequence: %w", err)
	}
	return &BadgerRepository{db: db, seq: seq}, nil
}

// Close releases the ID sequence lease.
func (r *BadgerRepository) Close() error {
	return r.seq.Release()
}

func entityKey(id datatypes.AnalysisID) []byte {
	key := make([]byte, len(entityKeyPrefix)+8)
	copy(key, entityKeyPrefix)
	binary.BigEndian.PutUint64(key[len(entityKeyPrefix):], uint64(id))
	return key
}

func fingerprintKey(fingerprint string) []byte {
	return []byte(fingerprintKeyPrefix + fingerprint)
}

// Create assigns the next sequence ID and persists the entity together
// with its fingerprint index entry in one transaction.
func (r *BadgerRepository) Create(ctx context.Context, a *datatypes.Analysis) error {
	next, err := r.seq.Next()
	if err != nil {
		return fmt.Errorf("next analysis id: %w", err)
	}
	// Sequence starts at 0; IDs are positive.
	a.ID = datatypes.AnalysisID(next + 1)

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analysis %d: %w", a.ID, err)
	}
	fingerprint := datatypes.Fingerprint(a.UserID, a.TaskID, a.AnalysisType, a.Data)

	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, uint64(a.ID))

	return r.db.WithTxn(ctx, func(txn *badgerlib.Txn) error {
		if err := txn.Set(entityKey(a.ID), payload); err != nil {
			return err
		}
		// First writer wins the dedup index; later identical requests
		// resolve to this entity.
		if _, err := txn.Get(fingerprintKey(fingerprint)); errors.Is(err, badgerlib.ErrKeyNotFound) {
			return txn.Set(fingerprintKey(fingerprint), idBytes)
		}
		return nil
	})
}

// Update persists the entity under its existing ID.
func (r *BadgerRepository) Update(ctx context.Context, a *datatypes.Analysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analysis %d: %w", a.ID, err)
	}
	return r.db.WithTxn(ctx, func(txn *badgerlib.Txn) error {
		if _, err := txn.Get(entityKey(a.ID)); errors.Is(err, badgerlib.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Set(entityKey(a.ID), payload)
	})
}

// GetByID loads and decodes the entity.
func (r *BadgerRepository) GetByID(ctx context.Context, id datatypes.AnalysisID) (*datatypes.Analysis, error) {
	var a datatypes.Analysis
	err := r.db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
		item, err := txn.Get(entityKey(id))
		if errors.Is(err, badgerlib.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load analysis %d: %w", id, err)
	}
	return &a, nil
}

// FindByFingerprint resolves the dedup index to an entity.
func (r *BadgerRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*datatypes.Analysis, error) {
	var id datatypes.AnalysisID
	found := false
	err := r.db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
		item, err := txn.Get(fingerprintKey(fingerprint))
		if errors.Is(err, badgerlib.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt fingerprint index entry (%d bytes)", len(val))
			}
			id = datatypes.AnalysisID(binary.BigEndian.Uint64(val))
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("resolve fingerprint: %w", err)
	}
	if !found {
		return nil, nil
	}
	a, err := r.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Index points at a deleted entity; treat as a clean miss.
		return nil, nil
	}
	return a, err
}

// ListByUser scans the entity keyspace, newest first.
func (r *BadgerRepository) ListByUser(ctx context.Context, userID datatypes.UserID) ([]*datatypes.Analysis, error) {
	var out []*datatypes.Analysis
	err := r.db.WithReadTxn(ctx, func(txn *badgerlib.Txn) error {
		opts := badgerlib.DefaultIteratorOptions
		opts.Prefix = []byte(entityKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var a datatypes.Analysis
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			if a.UserID == userID {
				copied := a
				out = append(out, &copied)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list analyses for user %d: %w", userID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// In-Memory Repository
// =============================================================================

// MemoryRepository implements Repository in process memory. Used in tests
// and when the service runs without a database path configured.
type MemoryRepository struct {
	mu           sync.RWMutex
	nextID       datatypes.AnalysisID
	entities     map[datatypes.AnalysisID]datatypes.Analysis
	fingerprints map[string]datatypes.AnalysisID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities:     make(map[datatypes.AnalysisID]datatypes.Analysis),
		fingerprints: make(map[string]datatypes.AnalysisID),
	}
}

func (r *MemoryRepository) Create(_ context.Context, a *datatypes.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	a.ID = r.nextID
	r.entities[a.ID] = *a
	fingerprint := datatypes.Fingerprint(a.UserID, a.TaskID, a.AnalysisType, a.Data)
	if _, ok := r.fingerprints[fingerprint]; !ok {
		r.fingerprints[fingerprint] = a.ID
	}
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *datatypes.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[a.ID]; !ok {
		return ErrNotFound
	}
	r.entities[a.ID] = *a
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id datatypes.AnalysisID) (*datatypes.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := a
	return &copied, nil
}

func (r *MemoryRepository) FindByFingerprint(_ context.Context, fingerprint string) (*datatypes.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.fingerprints[fingerprint]
	if !ok {
		return nil, nil
	}
	a, ok := r.entities[id]
	if !ok {
		return nil, nil
	}
	copied := a
	return &copied, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID datatypes.UserID) ([]*datatypes.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*datatypes.Analysis
	for _, a := range r.entities {
		if a.UserID == userID {
			copied := a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes an entity outright. Only exposed on the memory repository;
// used by tests to simulate an analysis deleted mid-flight.
func (r *MemoryRepository) Delete(id datatypes.AnalysisID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, id)
}
