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
	"fmt"
	"hash/fnv"
	"time"

	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
)

// =============================================================================
// Engine Interface
// =============================================================================

// Result is the outcome of a single analysis computation.
type Result struct {
	// Summary is the human-readable result text persisted on the entity.
	Summary string

	// ScoreValue is the computed score in the default [0, 100] range.
	ScoreValue float64
}

// Engine computes an analysis result for a validated payload.
//
// # Description
//
// The orchestrator calls Run on a background goroutine with a context that
// carries the hard execution deadline. Implementations must honor context
// cancellation promptly; a run that outlives its context is abandoned by
// the orchestrator but keeps burning a goroutine until it returns.
type Engine interface {
	Run(ctx context.Context, a *datatypes.Analysis, payload datatypes.Payload) (Result, error)
}

// =============================================================================
// Simulated Engine
// =============================================================================

// SimulatedEngine models analysis computation as a typed delay followed by
// a deterministic score derived from the input payload. It stands in for
// the heuristic scoring backends until those are wired up.
type SimulatedEngine struct {
	// DurationScale shrinks the per-type nominal duration. 1.0 in
	// production; tests use a small fraction to keep runs fast.
	DurationScale float64
}

// NewSimulatedEngine creates an engine running at the nominal per-type
// durations.
func NewSimulatedEngine() *SimulatedEngine {
	return &SimulatedEngine{DurationScale: 1.0}
}

// Run sleeps for the type's scaled nominal duration, then produces a
// deterministic summary and score.
//
// # Outputs
//
//   - Result: Summary text and score. Only meaningful when error is nil.
//   - error: ctx.Err() if the context was cancelled or its deadline
//     elapsed before the computation finished.
func (e *SimulatedEngine) Run(ctx context.Context, a *datatypes.Analysis, payload datatypes.Payload) (Result, error) {
	scale := e.DurationScale
	if scale <= 0 {
		scale = 1.0
	}
	delay := time.Duration(float64(a.AnalysisType.Info().ExpectedDuration) * scale)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
	}

	score := deriveScore(a)
	info := a.AnalysisType.Info()
	summary := fmt.Sprintf("%s for user %d scored %.1f", info.DisplayName, a.UserID, score)
	if a.TaskID != nil {
		summary = fmt.Sprintf("%s (task %d)", summary, *a.TaskID)
	}
	return Result{Summary: summary, ScoreValue: score}, nil
}

// deriveScore hashes the submission identity into a stable score in
// [0, 100] so repeated runs of the same job score identically.
func deriveScore(a *datatypes.Analysis) float64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%s|", a.UserID, a.AnalysisType)
	h.Write(a.Data)
	return float64(h.Sum32()%1001) / 10.0
}
