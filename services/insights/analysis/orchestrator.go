// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis implements the analysis lifecycle orchestrator: submit
// with deduplication, asynchronous background execution under a hard time
// ceiling, explicit retry, and application of externally reported terminal
// outcomes.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianInsights/services/insights/cache"
	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
	"github.com/AleutianAI/AleutianInsights/services/insights/observability"
)

// =============================================================================
// Configuration
// =============================================================================

// DefaultExecutionCeiling is the hard upper bound on a single background
// execution. The effective deadline for a run is
// min(type's expected duration, ceiling).
const DefaultExecutionCeiling = 10 * time.Second

// DefaultResultTTL is how long completed analyses stay in the result cache.
const DefaultResultTTL = 10 * time.Minute

// userListTTL bounds staleness of cached per-user listings. Lifecycle
// transitions drop the listing eagerly; the TTL is the backstop.
const userListTTL = time.Minute

// Config holds orchestrator settings. The zero value gets production
// defaults from NewOrchestrator.
type Config struct {
	// ExecutionCeiling caps every background run regardless of the
	// analysis type's nominal duration.
	ExecutionCeiling time.Duration

	// ResultTTL is the cache TTL for completed analysis entities.
	ResultTTL time.Duration
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator owns the Analysis lifecycle.
//
// # Description
//
// Submit validates and deduplicates, persists a pending entity, and kicks
// off execution on a background goroutine. The entity is mutated only here;
// realtime terminal events are applied through ApplyCompletedEvent and
// ApplyFailedEvent rather than written directly by the channel.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex spans the
// dedup lookup and create in Submit, so two concurrent identical requests
// cannot both create an entity.
type Orchestrator struct {
	repo    Repository
	engine  Engine
	results *cache.ResultCache
	config  Config

	mu       sync.Mutex
	inflight map[datatypes.AnalysisID]*runHandle
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator.
//
// # Inputs
//
//   - repo: Entity persistence. Required.
//   - engine: Analysis computation. Required.
//   - results: Result cache. May be nil; completed entities are then always
//     served from the repository.
//   - config: Settings; zero-value fields fall back to defaults.
//
// # Outputs
//
//   - *Orchestrator: Ready for use. Call Close() during shutdown.
//   - error: Non-nil if a required collaborator is missing.
func NewOrchestrator(repo Repository, engine Engine, results *cache.ResultCache, config Config) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("repository must not be nil")
	}
	if engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if config.ExecutionCeiling <= 0 {
		config.ExecutionCeiling = DefaultExecutionCeiling
	}
	if config.ResultTTL <= 0 {
		config.ResultTTL = DefaultResultTTL
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:     repo,
		engine:   engine,
		results:  results,
		config:   config,
		inflight: make(map[datatypes.AnalysisID]*runHandle),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}, nil
}

// Close cancels every in-flight execution and waits for the background
// goroutines to drain. The orchestrator rejects new work afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	slog.Info("analysis orchestrator closed")
}

func cacheKey(id datatypes.AnalysisID) string {
	return fmt.Sprintf("analysis_%d", id)
}

// userListKey is the cache key for a user's analysis listing. The
// "ForUser_<id>" suffix is what user-scoped invalidation patterns match.
func userListKey(userID datatypes.UserID) string {
	return fmt.Sprintf("analysesForUser_%d", userID)
}

func (o *Orchestrator) dropUserList(ctx context.Context, userID datatypes.UserID) {
	if o.results != nil {
		o.results.Delete(ctx, userListKey(userID))
	}
}

// =============================================================================
// Submit
// =============================================================================

// Submit validates the request, deduplicates it against prior submissions,
// and starts background execution for newly created entities.
//
// # Description
//
// Two submissions with equal (userID, taskID, analysisType, data) are the
// same logical job: the second returns the first entity unchanged, whatever
// its status, without starting another execution.
//
// # Outputs
//
//   - *datatypes.Analysis: The pending entity, or the prior entity on a
//     dedup match.
//   - bool: True if a new entity was created.
//   - error: A *datatypes.ValidationError for rejected requests, ErrClosed
//     after shutdown, or a repository error.
func (o *Orchestrator) Submit(ctx context.Context, req *datatypes.SubmitRequest) (*datatypes.Analysis, bool, error) {
	if verr := req.Validate(); verr != nil {
		observability.CountSubmission(req.AnalysisType, "invalid")
		return nil, false, verr
	}
	// Validate guarantees the type parses.
	analysisType, _ := datatypes.ParseAnalysisType(req.AnalysisType)
	payload, err := datatypes.DecodePayload(analysisType, req.Data)
	if err != nil {
		observability.CountSubmission(req.AnalysisType, "invalid")
		return nil, false, &datatypes.ValidationError{Field: "data", Code: "malformed_payload", Reason: err.Error()}
	}

	fingerprint := datatypes.Fingerprint(req.UserID, req.TaskID, analysisType, req.Data)

	// The lock spans lookup and create so concurrent duplicates resolve to
	// one entity.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, false, ErrClosed
	}

	if existing, err := o.repo.FindByFingerprint(ctx, fingerprint); err != nil {
		o.mu.Unlock()
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	} else if existing != nil {
		o.mu.Unlock()
		observability.CountSubmission(string(analysisType), "dedup")
		slog.Debug("submission deduplicated",
			"analysis_id", existing.ID,
			"status", existing.Status,
		)
		return existing, false, nil
	}

	now := time.Now().UTC()
	a := &datatypes.Analysis{
		UserID:       req.UserID,
		TaskID:       req.TaskID,
		AnalysisType: analysisType,
		Data:         req.Data,
		Status:       datatypes.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.repo.Create(ctx, a); err != nil {
		o.mu.Unlock()
		return nil, false, fmt.Errorf("create analysis: %w", err)
	}
	o.startExecutionLocked(a, payload)
	o.mu.Unlock()

	o.dropUserList(ctx, a.UserID)
	observability.CountSubmission(string(analysisType), "accepted")
	slog.Info("analysis submitted",
		"analysis_id", a.ID,
		"user_id", a.UserID,
		"analysis_type", a.AnalysisType,
	)
	return a, true, nil
}

// BatchResult is the per-request outcome of a batch submission.
type BatchResult struct {
	Analysis *datatypes.Analysis        `json:"analysis,omitempty"`
	Created  bool                       `json:"created"`
	Error    *datatypes.ValidationError `json:"error,omitempty"`
}

// SubmitBatch submits each request in order, isolating failures: one
// rejected request never blocks the rest.
func (o *Orchestrator) SubmitBatch(ctx context.Context, reqs []datatypes.SubmitRequest) ([]BatchResult, error) {
	out := make([]BatchResult, 0, len(reqs))
	for i := range reqs {
		a, created, err := o.Submit(ctx, &reqs[i])
		if err != nil {
			var verr *datatypes.ValidationError
			if errors.As(err, &verr) {
				out = append(out, BatchResult{Error: verr})
				continue
			}
			return nil, err
		}
		out = append(out, BatchResult{Analysis: a, Created: created})
	}
	return out, nil
}

// =============================================================================
// Execution
// =============================================================================

// runHandle identifies one background run so a finishing run only clears
// its own registration, never a successor started by a retry.
type runHandle struct {
	cancel context.CancelFunc
}

// startExecutionLocked launches the background run for a pending entity.
// Caller holds o.mu.
func (o *Orchestrator) startExecutionLocked(a *datatypes.Analysis, payload datatypes.Payload) {
	runCtx, cancelRun := context.WithCancel(o.baseCtx)
	handle := &runHandle{cancel: cancelRun}
	o.inflight[a.ID] = handle

	entity := *a
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancelRun()
		o.execute(runCtx, &entity, payload)
		o.clearInflight(entity.ID, handle)
	}()
}

func (o *Orchestrator) clearInflight(id datatypes.AnalysisID, own *runHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[id] == own {
		delete(o.inflight, id)
	}
}

// execute runs one analysis to a terminal state.
//
// The deadline is min(type's expected duration, the hard ceiling). A run
// cancelled from outside (retry or shutdown) is abandoned without
// persisting; a deadline overrun or engine error transitions to failed.
func (o *Orchestrator) execute(runCtx context.Context, a *datatypes.Analysis, payload datatypes.Payload) {
	deadline := a.AnalysisType.Info().ExpectedDuration
	if deadline <= 0 || deadline > o.config.ExecutionCeiling {
		deadline = o.config.ExecutionCeiling
	}
	ctx, cancel := context.WithTimeout(runCtx, deadline)
	defer cancel()

	a.Status = datatypes.StatusProcessing
	a.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(o.baseCtx, a); err != nil {
		slog.Error("failed to persist processing transition",
			"analysis_id", a.ID, "error", err)
		// Best effort: a pending entity with no run behind it can neither
		// complete nor be retried, so settle it as failed.
		o.persistFailure(a, fmt.Sprintf("persist processing transition: %v", err))
		return
	}

	started := time.Now()
	result, runErr := o.engine.Run(ctx, a, payload)
	elapsed := time.Since(started).Seconds()

	if runErr != nil && runCtx.Err() != nil {
		// Cancelled by retry or shutdown; the canceller owns the entity now.
		observability.CountExecution(string(a.AnalysisType), "cancelled", elapsed)
		slog.Debug("analysis execution cancelled", "analysis_id", a.ID)
		return
	}

	// Reload before the terminal write: an external terminal event may have
	// landed while the engine ran.
	current, err := o.repo.GetByID(o.baseCtx, a.ID)
	if err != nil {
		slog.Error("failed to reload analysis before terminal transition",
			"analysis_id", a.ID, "error", err)
		o.persistFailure(a, fmt.Sprintf("reload before terminal transition: %v", err))
		observability.CountExecution(string(a.AnalysisType), "failed", elapsed)
		return
	}
	if current.Status != datatypes.StatusProcessing {
		slog.Info("skipping terminal transition, analysis already settled",
			"analysis_id", a.ID, "status", current.Status)
		return
	}

	if runErr != nil {
		reason := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("execution exceeded %s deadline", deadline)
		}
		o.persistFailure(current, reason)
		observability.CountExecution(string(a.AnalysisType), "failed", elapsed)
		return
	}

	score, err := datatypes.NewAnalysisScore(result.ScoreValue)
	if err != nil {
		o.persistFailure(current, fmt.Sprintf("engine produced invalid score: %v", err))
		observability.CountExecution(string(a.AnalysisType), "failed", elapsed)
		return
	}

	current.Status = datatypes.StatusCompleted
	current.Result = result.Summary
	current.Score = score
	current.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(o.baseCtx, current); err != nil {
		slog.Error("failed to persist completed transition",
			"analysis_id", current.ID, "error", err)
		return
	}
	if o.results != nil {
		o.results.Set(o.baseCtx, cacheKey(current.ID), current, o.config.ResultTTL)
	}
	o.dropUserList(o.baseCtx, current.UserID)
	observability.CountExecution(string(a.AnalysisType), "completed", elapsed)
	slog.Info("analysis completed",
		"analysis_id", current.ID,
		"score", score.Value,
		"duration_seconds", elapsed,
	)
}

func (o *Orchestrator) persistFailure(a *datatypes.Analysis, reason string) {
	a.Status = datatypes.StatusFailed
	a.Result = reason
	a.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(o.baseCtx, a); err != nil {
		slog.Error("failed to persist failed transition",
			"analysis_id", a.ID, "error", err)
		return
	}
	o.dropUserList(o.baseCtx, a.UserID)
	slog.Warn("analysis failed", "analysis_id", a.ID, "reason", reason)
}

// =============================================================================
// Reads
// =============================================================================

// Get returns the analysis by id, serving completed entities from the
// result cache when possible.
func (o *Orchestrator) Get(ctx context.Context, id datatypes.AnalysisID) (*datatypes.Analysis, error) {
	if o.results != nil {
		var cached datatypes.Analysis
		if o.results.GetInto(ctx, cacheKey(id), &cached) && cached.ID == id {
			return &cached, nil
		}
	}
	a, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.results != nil && a.Status == datatypes.StatusCompleted {
		o.results.Set(ctx, cacheKey(id), a, o.config.ResultTTL)
	}
	return a, nil
}

// ListByUser returns the user's analyses, newest first. Listings are
// cached briefly under a user-scoped key; lifecycle transitions and
// user-scoped invalidations drop them.
func (o *Orchestrator) ListByUser(ctx context.Context, userID datatypes.UserID) ([]*datatypes.Analysis, error) {
	if o.results != nil {
		var cached []*datatypes.Analysis
		if o.results.GetInto(ctx, userListKey(userID), &cached) {
			return cached, nil
		}
	}
	analyses, err := o.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if o.results != nil {
		o.results.Set(ctx, userListKey(userID), analyses, userListTTL)
	}
	return analyses, nil
}

// =============================================================================
// Retry
// =============================================================================

// Retry moves a failed analysis back to pending and starts a fresh
// execution.
//
// # Description
//
// Only the failed state is retryable; every other status returns
// ErrCannotRetry. The previous result text and score are kept on the
// entity until the new run overwrites them, so a reader mid-retry sees
// the old outcome alongside the pending status.
//
// # Outputs
//
//   - *datatypes.Analysis: The entity back in pending.
//   - error: ErrNotFound, ErrCannotRetry, ErrClosed, or a repository error.
func (o *Orchestrator) Retry(ctx context.Context, id datatypes.AnalysisID) (*datatypes.Analysis, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	a, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != datatypes.StatusFailed {
		return nil, fmt.Errorf("%w (status %q)", ErrCannotRetry, a.Status)
	}
	payload, err := datatypes.DecodePayload(a.AnalysisType, a.Data)
	if err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}

	// A stale run may still be draining; cancel it so it cannot race the
	// new execution's terminal write.
	if stale, ok := o.inflight[id]; ok {
		stale.cancel()
		delete(o.inflight, id)
	}

	a.Status = datatypes.StatusPending
	a.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("persist retry transition: %w", err)
	}
	if o.results != nil {
		o.results.Delete(ctx, cacheKey(id))
	}
	o.dropUserList(ctx, a.UserID)

	o.startExecutionLocked(a, payload)
	observability.CountRetry()
	slog.Info("analysis retry accepted", "analysis_id", id)
	return a, nil
}

// =============================================================================
// External Terminal Events
// =============================================================================

// ApplyCompletedEvent applies a completed outcome reported by the realtime
// channel.
//
// Application is idempotent: if the entity already carries the same
// terminal status the event is a no-op, and a conflicting terminal status
// is logged and left untouched. A matching in-flight local run is
// cancelled.
func (o *Orchestrator) ApplyCompletedEvent(ctx context.Context, ev datatypes.AnalysisCompletedEvent) error {
	score, err := datatypes.NewAnalysisScore(ev.Score)
	if err != nil {
		return fmt.Errorf("event score: %w", err)
	}
	return o.applyTerminal(ctx, ev.AnalysisID, datatypes.StatusCompleted, func(a *datatypes.Analysis) {
		a.Result = ev.Result
		a.Score = score
	})
}

// ApplyFailedEvent applies a failed outcome reported by the realtime
// channel. Same idempotency rules as ApplyCompletedEvent.
func (o *Orchestrator) ApplyFailedEvent(ctx context.Context, ev datatypes.AnalysisFailedEvent) error {
	return o.applyTerminal(ctx, ev.AnalysisID, datatypes.StatusFailed, func(a *datatypes.Analysis) {
		a.Result = ev.Reason
	})
}

func (o *Orchestrator) applyTerminal(ctx context.Context, id datatypes.AnalysisID, terminal datatypes.AnalysisStatus, mutate func(*datatypes.Analysis)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if a.Status == terminal {
		slog.Debug("terminal event already applied", "analysis_id", id, "status", terminal)
		return nil
	}
	if a.Status.IsTerminal() {
		slog.Warn("conflicting terminal event ignored",
			"analysis_id", id,
			"current_status", a.Status,
			"event_status", terminal,
		)
		return nil
	}

	// The external system settled the job; a local run still in flight
	// would only race it.
	if run, ok := o.inflight[id]; ok {
		run.cancel()
		delete(o.inflight, id)
	}

	a.Status = terminal
	mutate(a)
	a.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("persist external terminal event: %w", err)
	}
	if o.results != nil {
		if terminal == datatypes.StatusCompleted {
			o.results.Set(ctx, cacheKey(id), a, o.config.ResultTTL)
		} else {
			o.results.Delete(ctx, cacheKey(id))
		}
	}
	o.dropUserList(ctx, a.UserID)
	slog.Info("external terminal event applied", "analysis_id", id, "status", terminal)
	return nil
}
