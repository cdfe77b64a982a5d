// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the namespaced, TTL-based result cache for the
// insights service.
//
// # Description
//
// The cache has two tiers:
//
//	Volatile (in-process map, fast)  →  Durable (BadgerDB, survives restart)
//
// Writes land in the volatile tier and are best-effort mirrored into the
// durable tier; any durable failure is logged and the cache continues
// volatile-only for that key. Reads check the volatile tier first and
// rehydrate from the durable tier on a miss. TTL is validated on whichever
// entry is found; expired entries are removed from both tiers.
//
// # Lifecycle
//
// The cache does nothing until its owner calls Start(), which launches the
// periodic expiry sweeper. Stop() halts the sweeper. There are no
// construction-time side effects.
//
// # Thread Safety
//
// All methods are safe for concurrent use; the volatile tier is guarded by
// a single mutex, which also makes each Invalidate call atomic with respect
// to concurrent Set/Get on the matched keys.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianInsights/services/insights/observability"
)

// =============================================================================
// Entries
// =============================================================================

// Entry is the wire format shared by both tiers:
// JSON {data, storedAt: epoch-ms, ttl: ms} under `<namespacePrefix><key>`.
type Entry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt int64           `json:"storedAt"`
	TTL      int64           `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
// An entry is valid iff now - storedAt <= ttl.
func (e Entry) Expired(now time.Time) bool {
	return now.UnixMilli()-e.StoredAt > e.TTL
}

// volatileEntry keeps the caller's value alongside the serialized form so
// volatile hits avoid a decode round-trip.
type volatileEntry struct {
	value    any
	raw      json.RawMessage
	storedAt int64
	ttl      int64
}

func (e volatileEntry) expired(now time.Time) bool {
	return now.UnixMilli()-e.storedAt > e.ttl
}

// Stats summarizes cache occupancy for the ops surface.
type Stats struct {
	VolatileCount     int   `json:"volatileCount"`
	DurableApproxByte int64 `json:"durableApproxBytes"`
	TotalKeys         int   `json:"totalKeys"`
}

// Config holds the externally supplied cache settings.
type Config struct {
	// Namespace prefixes every durable key. Must be non-empty.
	Namespace string

	// DefaultTTL applies when Set is called with ttl 0.
	DefaultTTL time.Duration

	// SweepInterval is the period of the background expiry sweeper.
	// Default: 5 minutes.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults: five-minute default TTL and
// sweep interval under the "insights_cache:" namespace.
func DefaultConfig() Config {
	return Config{
		Namespace:     "insights_cache:",
		DefaultTTL:    5 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// =============================================================================
// ResultCache
// =============================================================================

// ResultCache is the two-tier TTL cache. Construct with New; the durable
// store may be nil, in which case the cache runs volatile-only.
type ResultCache struct {
	config  Config
	durable DurableStore

	mu      sync.Mutex
	entries map[string]volatileEntry

	lifecycleMu sync.Mutex
	running     bool
	done        chan struct{}
	sweeperDone chan struct{}

	now func() time.Time // swappable for TTL tests
}

// New creates a ResultCache. No background work starts until Start().
//
// # Inputs
//
//   - config: Cache settings. Zero-value fields fall back to DefaultConfig.
//   - durable: Durable tier. May be nil for volatile-only operation.
//
// # Outputs
//
//   - *ResultCache: Ready for use.
//   - error: Non-nil if the namespace is empty after defaulting.
func New(config Config, durable DurableStore) (*ResultCache, error) {
	defaults := DefaultConfig()
	if config.Namespace == "" {
		config.Namespace = defaults.Namespace
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if !strings.HasSuffix(config.Namespace, ":") {
		return nil, fmt.Errorf("cache namespace %q must end with ':'", config.Namespace)
	}

	return &ResultCache{
		config:  config,
		durable: durable,
		entries: make(map[string]volatileEntry),
		now:     time.Now,
	}, nil
}

// Start launches the periodic expiry sweeper.
//
// # Outputs
//
//   - error: Non-nil if the sweeper is already running.
func (c *ResultCache) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running {
		return fmt.Errorf("cache sweeper is already running")
	}
	c.running = true
	c.done = make(chan struct{})
	c.sweeperDone = make(chan struct{})

	slog.Info("cache sweeper starting",
		"namespace", c.config.Namespace,
		"sweep_interval", c.config.SweepInterval.String(),
	)

	go c.runSweeper(ctx, c.done, c.sweeperDone)
	return nil
}

// Stop halts the sweeper and waits for the current cycle to finish.
// Safe to call multiple times.
func (c *ResultCache) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running {
		return
	}
	close(c.done)
	<-c.sweeperDone
	c.running = false
	slog.Info("cache sweeper stopped")
}

func (c *ResultCache) runSweeper(ctx context.Context, done, finished chan struct{}) {
	defer close(finished)

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// =============================================================================
// Core Operations
// =============================================================================

// Set stores data under key in the volatile tier and best-effort mirrors it
// into the durable tier. A ttl of 0 uses the configured default.
//
// Serialization or durable-store failures are logged and do not fail the
// call; the key stays cached volatile-only.
func (c *ResultCache) Set(ctx context.Context, key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := c.now()

	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("cache entry not mirrorable, keeping volatile-only",
			"key", key, "error", err)
		observability.CountCacheDurableError()
		raw = nil
	}

	c.mu.Lock()
	c.entries[key] = volatileEntry{
		value:    data,
		raw:      raw,
		storedAt: now.UnixMilli(),
		ttl:      ttl.Milliseconds(),
	}
	size := len(c.entries)
	c.mu.Unlock()

	observability.CountCacheOp("set")
	observability.SetCacheVolatileEntries(size)

	if c.durable == nil || raw == nil {
		return
	}
	entry := Entry{Data: raw, StoredAt: now.UnixMilli(), TTL: ttl.Milliseconds()}
	if err := c.durable.Set(ctx, c.config.Namespace+key, entry); err != nil {
		slog.Warn("durable cache tier write failed, continuing volatile-only",
			"key", key, "error", err)
		observability.CountCacheDurableError()
	}
}

// Get returns the cached value for key, or (nil, false) on a miss.
//
// The volatile tier is checked first; on a volatile miss the durable tier
// is consulted and, when it holds a live entry, the volatile tier is
// repopulated (the rehydrated value is a json.RawMessage — use GetInto for
// a typed read). Expired entries are deleted from both tiers.
func (c *ResultCache) Get(ctx context.Context, key string) (any, bool) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expired(now) {
		c.mu.Unlock()
		observability.CountCacheOp("hit")
		return entry.value, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		// Volatile entry expired; mirror the deletion.
		observability.CountCacheOp("expired")
		c.durableDelete(ctx, key)
		return nil, false
	}

	if c.durable == nil {
		observability.CountCacheOp("miss")
		return nil, false
	}

	stored, found, err := c.durable.Get(ctx, c.config.Namespace+key)
	if err != nil {
		slog.Warn("durable cache tier read failed", "key", key, "error", err)
		observability.CountCacheDurableError()
		observability.CountCacheOp("miss")
		return nil, false
	}
	if !found {
		observability.CountCacheOp("miss")
		return nil, false
	}
	if stored.Expired(now) {
		observability.CountCacheOp("expired")
		c.durableDelete(ctx, key)
		return nil, false
	}

	// Rehydrate the volatile tier with the remaining lifetime intact.
	c.mu.Lock()
	c.entries[key] = volatileEntry{
		value:    json.RawMessage(stored.Data),
		raw:      stored.Data,
		storedAt: stored.StoredAt,
		ttl:      stored.TTL,
	}
	size := len(c.entries)
	c.mu.Unlock()
	observability.SetCacheVolatileEntries(size)
	observability.CountCacheOp("hit")
	return json.RawMessage(stored.Data), true
}

// GetInto reads the cached value for key into dest (a pointer), handling
// both in-process values and durable-tier rehydrations uniformly.
//
// # Outputs
//
//   - bool: True if a live entry was found and decoded into dest.
func (c *ResultCache) GetInto(ctx context.Context, key string, dest any) bool {
	value, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	raw, isRaw := value.(json.RawMessage)
	if !isRaw {
		encoded, err := json.Marshal(value)
		if err != nil {
			slog.Warn("cache value not decodable into destination", "key", key, "error", err)
			return false
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		slog.Warn("cache value decode failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key from both tiers unconditionally.
func (c *ResultCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()

	observability.CountCacheOp("delete")
	observability.SetCacheVolatileEntries(size)
	c.durableDelete(ctx, key)
}

// Invalidate removes every key in either tier whose logical key contains
// pattern as a substring.
//
// Containment is deliberately broad — "insight" also matches
// "insightsForUser_2" — and the breadth is part of the contract. The
// volatile removals happen under one lock hold, and every removed key is
// mirrored to the durable tier, so no key survives in one tier after being
// invalidated from the other.
//
// # Outputs
//
//   - int: Number of distinct keys removed across both tiers.
func (c *ResultCache) Invalidate(ctx context.Context, pattern string) int {
	removed := make(map[string]struct{})

	c.mu.Lock()
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed[key] = struct{}{}
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	// Durable-only keys matching the pattern are invalidated too.
	if c.durable != nil {
		keys, err := c.durable.Keys(ctx, c.config.Namespace)
		if err != nil {
			slog.Warn("durable cache tier listing failed during invalidate",
				"pattern", pattern, "error", err)
			observability.CountCacheDurableError()
		} else {
			for _, namespaced := range keys {
				if matchesPattern(namespaced, c.config.Namespace, pattern) {
					removed[strings.TrimPrefix(namespaced, c.config.Namespace)] = struct{}{}
				}
			}
		}
		for key := range removed {
			c.durableDelete(ctx, key)
		}
	}

	observability.CountCacheOp("invalidate")
	observability.SetCacheVolatileEntries(size)
	slog.Debug("cache invalidated", "pattern", pattern, "removed", len(removed))
	return len(removed)
}

// Clear removes every key under this cache's namespace from both tiers.
func (c *ResultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]volatileEntry)
	c.mu.Unlock()
	observability.SetCacheVolatileEntries(0)

	if c.durable == nil {
		return
	}
	keys, err := c.durable.Keys(ctx, c.config.Namespace)
	if err != nil {
		slog.Warn("durable cache tier listing failed during clear", "error", err)
		observability.CountCacheDurableError()
		return
	}
	for _, namespaced := range keys {
		if err := c.durable.Delete(ctx, namespaced); err != nil {
			slog.Warn("durable cache tier delete failed during clear",
				"key", namespaced, "error", err)
			observability.CountCacheDurableError()
		}
	}
}

// Cleanup sweeps the volatile tier, removes expired entries, and mirrors
// each removal to the durable tier. Runs on the sweeper period and may be
// called directly.
//
// # Outputs
//
//   - int: Number of expired entries removed.
func (c *ResultCache) Cleanup(ctx context.Context) int {
	now := c.now()

	c.mu.Lock()
	var expired []string
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			expired = append(expired, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	for _, key := range expired {
		c.durableDelete(ctx, key)
		observability.CountCacheOp("expired")
	}
	observability.SetCacheVolatileEntries(size)

	if len(expired) > 0 {
		slog.Debug("cache sweep removed expired entries", "count", len(expired))
	}
	return len(expired)
}

// GetStats reports current occupancy of both tiers.
func (c *ResultCache) GetStats(ctx context.Context) Stats {
	c.mu.Lock()
	volatileCount := len(c.entries)
	volatileKeys := make(map[string]struct{}, volatileCount)
	for key := range c.entries {
		volatileKeys[key] = struct{}{}
	}
	c.mu.Unlock()

	stats := Stats{VolatileCount: volatileCount, TotalKeys: volatileCount}
	if c.durable == nil {
		return stats
	}

	keys, err := c.durable.Keys(ctx, c.config.Namespace)
	if err != nil {
		slog.Warn("durable cache tier listing failed during stats", "error", err)
		observability.CountCacheDurableError()
		return stats
	}
	total := volatileCount
	for _, namespaced := range keys {
		logical := strings.TrimPrefix(namespaced, c.config.Namespace)
		if _, ok := volatileKeys[logical]; !ok {
			total++
		}
	}
	stats.TotalKeys = total

	if bytes, err := c.durable.ApproxBytes(ctx, c.config.Namespace); err == nil {
		stats.DurableApproxByte = bytes
	}
	return stats
}

// durableDelete mirrors a deletion into the durable tier, degrading on error.
func (c *ResultCache) durableDelete(ctx context.Context, key string) {
	if c.durable == nil {
		return
	}
	if err := c.durable.Delete(ctx, c.config.Namespace+key); err != nil {
		slog.Warn("durable cache tier delete failed", "key", key, "error", err)
		observability.CountCacheDurableError()
	}
}
