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
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDurable is a map-backed DurableStore with per-method error injection.
type fakeDurable struct {
	mu      sync.Mutex
	entries map[string]Entry

	setErr    error
	getErr    error
	deleteErr error
	keysErr   error
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: make(map[string]Entry)}
}

func (f *fakeDurable) Set(_ context.Context, key string, entry Entry) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = entry
	return nil
}

func (f *fakeDurable) Get(_ context.Context, key string) (Entry, bool, error) {
	if f.getErr != nil {
		return Entry{}, false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[key]
	return entry, ok, nil
}

func (f *fakeDurable) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *fakeDurable) Keys(_ context.Context, prefix string) ([]string, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeDurable) ApproxBytes(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for key, entry := range f.entries {
		if strings.HasPrefix(key, prefix) {
			total += int64(len(entry.Data))
		}
	}
	return total, nil
}

func newTestCache(t *testing.T, durable DurableStore) *ResultCache {
	t.Helper()
	c, err := New(Config{Namespace: "test:", DefaultTTL: time.Minute}, durable)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

// =============================================================================
// Core Operation Tests
// =============================================================================

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	c.Set(ctx, "analysis_1", map[string]any{"score": 82.5}, 0)

	value, ok := c.Get(ctx, "analysis_1")
	if !ok {
		t.Fatal("expected a hit")
	}
	if _, isMap := value.(map[string]any); !isMap {
		t.Errorf("volatile hit should return the original value, got %T", value)
	}

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("unknown key should miss")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set(ctx, "short", "value", 100*time.Millisecond)

	// Exactly at the boundary the entry is still valid.
	c.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	if _, ok := c.Get(ctx, "short"); !ok {
		t.Error("entry at exact TTL boundary should still be valid")
	}

	c.now = func() time.Time { return base.Add(101 * time.Millisecond) }
	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("entry past TTL should be expired")
	}
}

func TestCache_DurableMirrorAndRehydrate(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	c.Set(ctx, "analysis_7", map[string]int{"score": 90}, time.Minute)
	if _, ok := durable.entries["test:analysis_7"]; !ok {
		t.Fatal("set should mirror into the durable tier")
	}

	// Fresh cache simulating a restart: volatile tier empty, durable kept.
	restarted := newTestCache(t, durable)
	value, ok := restarted.Get(ctx, "analysis_7")
	if !ok {
		t.Fatal("expected a durable-tier hit after restart")
	}
	raw, isRaw := value.(json.RawMessage)
	if !isRaw {
		t.Fatalf("rehydrated value should be json.RawMessage, got %T", value)
	}
	var decoded map[string]int
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded["score"] != 90 {
		t.Errorf("rehydrated payload wrong: %s (%v)", raw, err)
	}

	// The rehydration repopulated the volatile tier.
	if got := restarted.GetStats(ctx).VolatileCount; got != 1 {
		t.Errorf("volatile count = %d, want 1", got)
	}
}

func TestCache_GetInto(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	type result struct {
		Score float64 `json:"score"`
	}
	c.Set(ctx, "analysis_9", result{Score: 55}, time.Minute)

	var volatileHit result
	if !c.GetInto(ctx, "analysis_9", &volatileHit) || volatileHit.Score != 55 {
		t.Errorf("volatile GetInto got %+v", volatileHit)
	}

	restarted := newTestCache(t, durable)
	var durableHit result
	if !restarted.GetInto(ctx, "analysis_9", &durableHit) || durableHit.Score != 55 {
		t.Errorf("durable GetInto got %+v", durableHit)
	}
}

func TestCache_DurableDegradation(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	durable.setErr = errors.New("disk full")
	c := newTestCache(t, durable)

	// Durable failure must not fail the call or lose the volatile entry.
	c.Set(ctx, "analysis_1", "value", time.Minute)
	if _, ok := c.Get(ctx, "analysis_1"); !ok {
		t.Error("entry should stay cached volatile-only after durable failure")
	}

	durable.getErr = errors.New("read failure")
	if _, ok := c.Get(ctx, "not-in-volatile"); ok {
		t.Error("durable read failure should surface as a miss")
	}
}

func TestCache_Delete(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	c.Set(ctx, "analysis_3", "value", time.Minute)
	c.Delete(ctx, "analysis_3")

	if _, ok := c.Get(ctx, "analysis_3"); ok {
		t.Error("deleted key should miss")
	}
	if _, ok := durable.entries["test:analysis_3"]; ok {
		t.Error("delete should mirror into the durable tier")
	}
}

// =============================================================================
// Invalidation Tests
// =============================================================================

func TestCache_InvalidateSubstring(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	c.Set(ctx, "insight_2", "a", time.Minute)
	c.Set(ctx, "insightsForUser_2", "b", time.Minute)
	c.Set(ctx, "analysis_2", "c", time.Minute)

	// Broad containment: "insight" takes out both insight keys.
	removed := c.Invalidate(ctx, "insight")
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, ok := c.Get(ctx, "insight_2"); ok {
		t.Error("insight_2 should be gone")
	}
	if _, ok := c.Get(ctx, "insightsForUser_2"); ok {
		t.Error("insightsForUser_2 should be gone")
	}
	if _, ok := c.Get(ctx, "analysis_2"); !ok {
		t.Error("analysis_2 should survive")
	}
	if _, ok := durable.entries["test:insightsForUser_2"]; ok {
		t.Error("invalidation should reach the durable tier")
	}
}

func TestCache_InvalidateDurableOnlyKeys(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	// Key present only in the durable tier (e.g. written before a restart).
	entry := Entry{Data: []byte(`"x"`), StoredAt: time.Now().UnixMilli(), TTL: time.Minute.Milliseconds()}
	durable.entries["test:insightsForUser_5"] = entry

	if removed := c.Invalidate(ctx, "ForUser_5"); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := durable.entries["test:insightsForUser_5"]; ok {
		t.Error("durable-only key should be invalidated")
	}
}

// =============================================================================
// Sweeper and Stats Tests
// =============================================================================

func TestCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set(ctx, "old", "a", 50*time.Millisecond)
	c.Set(ctx, "fresh", "b", time.Hour)

	c.now = func() time.Time { return base.Add(time.Second) }
	if removed := c.Cleanup(ctx); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := c.Get(ctx, "fresh"); !ok {
		t.Error("fresh entry should survive the sweep")
	}
	if _, ok := durable.entries["test:old"]; ok {
		t.Error("sweep should mirror removals into the durable tier")
	}
}

func TestCache_StartStop(t *testing.T) {
	c := newTestCache(t, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}

	c.Stop()
	// Stop is idempotent.
	c.Stop()

	if err := c.Start(context.Background()); err != nil {
		t.Errorf("restart after Stop failed: %v", err)
	}
	c.Stop()
}

func TestCache_GetStats(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	c := newTestCache(t, durable)

	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Minute)
	// Durable-only key counts once in the total.
	durable.entries["test:c"] = Entry{Data: []byte(`"3"`), StoredAt: time.Now().UnixMilli(), TTL: 60000}

	stats := c.GetStats(ctx)
	if stats.VolatileCount != 2 {
		t.Errorf("VolatileCount = %d, want 2", stats.VolatileCount)
	}
	if stats.TotalKeys != 3 {
		t.Errorf("TotalKeys = %d, want 3", stats.TotalKeys)
	}
	if stats.DurableApproxByte <= 0 {
		t.Errorf("DurableApproxByte = %d, want > 0", stats.DurableApproxByte)
	}
}

func TestNew_RejectsBadNamespace(t *testing.T) {
	if _, err := New(Config{Namespace: "no-colon"}, nil); err == nil {
		t.Error("namespace without trailing colon should be rejected")
	}
}
