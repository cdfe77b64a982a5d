// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the insights service.
//
// This file contains the Analysis entity, its identifier and status types,
// the closed AnalysisType enumeration, and the submit request types with
// their validation rules. For realtime wire message types, see realtime.go.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxPayloadBytes is the maximum size of a submitted analysis payload.
	// Prevents memory exhaustion from oversized request bodies.
	MaxPayloadBytes = 64 * 1024 // 64KB

	// DefaultScoreMin is the lower inclusive bound for analysis scores.
	DefaultScoreMin = 0.0

	// DefaultScoreMax is the upper inclusive bound for analysis scores.
	DefaultScoreMax = 100.0
)

// =============================================================================
// Identifiers
// =============================================================================

// AnalysisID identifies a single analysis job. Equality is by value.
type AnalysisID int64

// UserID identifies the user an analysis belongs to.
type UserID int64

// TaskID identifies the optional task an analysis is scoped to.
type TaskID int64

// =============================================================================
// Analysis Status
// =============================================================================

// AnalysisStatus is the lifecycle state of an Analysis.
//
// Legal transitions:
//
//	pending    → processing   (execution begins)
//	processing → completed    (execution succeeds)
//	processing → failed       (any execution error)
//	failed     → pending      (explicit retry only)
//
// completed is terminal; it is never re-entered except through a fresh
// submit deduplication match returning the same entity.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether the status is a terminal execution outcome.
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
func (s AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// =============================================================================
// Analysis Type
// =============================================================================

// AnalysisType is the closed enumeration of supported analysis kinds.
type AnalysisType string

const (
	TypePerformance AnalysisType = "performance"
	TypeBehavior    AnalysisType = "behavior"
	TypePattern     AnalysisType = "pattern"
	TypeCognitive   AnalysisType = "cognitive"
	TypeEfficiency  AnalysisType = "efficiency"
)

// TypeInfo carries the static metadata for an AnalysisType variant.
//
// # Fields
//
//   - DisplayName: Human-readable name for UI and logs.
//   - ExpectedDuration: Nominal execution duration. The orchestrator caps
//     actual execution at a hard ceiling regardless of this value.
//   - RequiresTaskID: True if submissions of this type must carry a TaskID.
type TypeInfo struct {
	DisplayName      string
	ExpectedDuration time.Duration
	RequiresTaskID   bool
}

// typeInfoTable is the single source of truth for the closed enumeration.
var typeInfoTable = map[AnalysisType]TypeInfo{
	TypePerformance: {DisplayName: "Performance Analysis", ExpectedDuration: 3 * time.Second, RequiresTaskID: true},
	TypeBehavior:    {DisplayName: "Behavior Analysis", ExpectedDuration: 5 * time.Second, RequiresTaskID: false},
	TypePattern:     {DisplayName: "Pattern Detection", ExpectedDuration: 8 * time.Second, RequiresTaskID: false},
	TypeCognitive:   {DisplayName: "Cognitive Assessment", ExpectedDuration: 4 * time.Second, RequiresTaskID: false},
	TypeEfficiency:  {DisplayName: "Efficiency Analysis", ExpectedDuration: 6 * time.Second, RequiresTaskID: true},
}

// ParseAnalysisType converts a raw string into an AnalysisType.
//
// # Outputs
//
//   - AnalysisType: The parsed variant.
//   - error: Non-nil if the string is not a known variant.
func ParseAnalysisType(raw string) (AnalysisType, error) {
	t := AnalysisType(raw)
	if _, ok := typeInfoTable[t]; !ok {
		return "", fmt.Errorf("unknown analysis type %q", raw)
	}
	return t, nil
}

// Valid reports whether t is a known variant.
func (t AnalysisType) Valid() bool {
	_, ok := typeInfoTable[t]
	return ok
}

// Info returns the static metadata for t. Returns the zero TypeInfo for
// unknown variants; callers should check Valid first.
func (t AnalysisType) Info() TypeInfo {
	return typeInfoTable[t]
}

// AnalysisTypes returns all known variants in a stable order.
func AnalysisTypes() []AnalysisType {
	return []AnalysisType{TypePerformance, TypeBehavior, TypePattern, TypeCognitive, TypeEfficiency}
}

// =============================================================================
// Analysis Score
// =============================================================================

// AnalysisScore is a numeric score constrained to an inclusive [Min, Max]
// range. The zero value is a valid "no score yet" marker with Value 0.
//
// Construct via NewAnalysisScore or NewAnalysisScoreWithBounds; the bounds
// invariant is enforced at construction and at every update, returned as an
// ordinary error rather than a panic.
type AnalysisScore struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// NewAnalysisScore creates a score with the default [0, 100] bounds.
//
// # Outputs
//
//   - AnalysisScore: The validated score.
//   - error: Non-nil if value lies outside the default bounds.
func NewAnalysisScore(value float64) (AnalysisScore, error) {
	return NewAnalysisScoreWithBounds(value, DefaultScoreMin, DefaultScoreMax)
}

// NewAnalysisScoreWithBounds creates a score with explicit inclusive bounds.
//
// # Outputs
//
//   - AnalysisScore: The validated score.
//   - error: Non-nil if min > max or value lies outside [min, max].
func NewAnalysisScoreWithBounds(value, min, max float64) (AnalysisScore, error) {
	if min > max {
		return AnalysisScore{}, fmt.Errorf("score bounds inverted: min %v > max %v", min, max)
	}
	if value < min || value > max {
		return AnalysisScore{}, fmt.Errorf("score %v outside bounds [%v, %v]", value, min, max)
	}
	return AnalysisScore{Value: value, Min: min, Max: max}, nil
}

// WithValue returns a copy of the score holding a new value, re-validating
// the bounds invariant.
func (s AnalysisScore) WithValue(value float64) (AnalysisScore, error) {
	return NewAnalysisScoreWithBounds(value, s.Min, s.Max)
}

// =============================================================================
// Analysis Entity
// =============================================================================

// Analysis is the central entity: a single named computation job with an
// explicit lifecycle and persisted outcome.
//
// The entity is owned exclusively by the analysis orchestrator and mutated
// only through its transition operations. The realtime channel never touches
// it directly; terminal events flow through the orchestrator's apply-event
// entry point.
type Analysis struct {
	ID           AnalysisID      `json:"id"`
	UserID       UserID          `json:"userId"`
	TaskID       *TaskID         `json:"taskId,omitempty"`
	AnalysisType AnalysisType    `json:"analysisType"`
	Data         json.RawMessage `json:"data"`
	Result       string          `json:"result"`
	Score        AnalysisScore   `json:"score"`
	Status       AnalysisStatus  `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Fingerprint returns the dedup identity of an analysis request:
// (userID, taskID, analysisType, data) hashed into a fixed-size key.
//
// Two submissions with equal fingerprints are the same logical job and
// must resolve to the same entity.
func Fingerprint(userID UserID, taskID *TaskID, analysisType AnalysisType, data json.RawMessage) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|", userID)
	if taskID != nil {
		fmt.Fprintf(h, "%d", *taskID)
	}
	fmt.Fprintf(h, "|%s|", analysisType)
	h.Write(compactJSON(data))
	return hex.EncodeToString(h.Sum(nil))
}

// compactJSON normalizes whitespace so textually different but equivalent
// payloads fingerprint identically. Falls back to the raw bytes when the
// payload is not valid JSON (validation rejects those earlier anyway).
func compactJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// =============================================================================
// Submit Request Validation
// =============================================================================

// SubmitRequest is the request body for submitting a new analysis.
type SubmitRequest struct {
	UserID       UserID          `json:"userId" validate:"required,gt=0"`
	TaskID       *TaskID         `json:"taskId,omitempty"`
	AnalysisType string          `json:"analysisType" validate:"required"`
	Data         json.RawMessage `json:"data" validate:"required"`
}

// ValidationError is a typed, synchronous request validation failure.
// It is surfaced directly to callers and never logged-and-swallowed.
type ValidationError struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// analysisValidate is the validator instance for analysis datatypes.
var analysisValidate *validator.Validate

func init() {
	analysisValidate = validator.New()
}

// Validate checks the submit request against the full rule set:
// positive user id, known analysis type, non-empty payload within size
// limits, and a positive task id when the type requires one.
//
// # Outputs
//
//   - *ValidationError: Nil when the request is valid; otherwise the first
//     failed rule, suitable for a 400 response body.
func (r *SubmitRequest) Validate() *ValidationError {
	if err := analysisValidate.Struct(r); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{
				Field:  errs[0].Field(),
				Code:   "invalid_" + errs[0].Field(),
				Reason: fmt.Sprintf("failed %q constraint", errs[0].Tag()),
			}
		}
		return &ValidationError{Field: "request", Code: "invalid_request", Reason: err.Error()}
	}

	analysisType, err := ParseAnalysisType(r.AnalysisType)
	if err != nil {
		return &ValidationError{Field: "analysisType", Code: "unknown_analysis_type", Reason: err.Error()}
	}

	if len(r.Data) > MaxPayloadBytes {
		return &ValidationError{Field: "data", Code: "payload_too_large",
			Reason: fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes)}
	}
	if emptyPayload(r.Data) {
		return &ValidationError{Field: "data", Code: "empty_payload", Reason: "data must be non-empty"}
	}
	if _, err := DecodePayload(analysisType, r.Data); err != nil {
		return &ValidationError{Field: "data", Code: "malformed_payload", Reason: err.Error()}
	}

	if analysisType.Info().RequiresTaskID {
		if r.TaskID == nil || *r.TaskID <= 0 {
			return &ValidationError{
				Field:  "taskId",
				Code:   "task_id_required",
				Reason: fmt.Sprintf("analysis type %q requires a positive taskId", analysisType),
			}
		}
	}
	return nil
}

// emptyPayload reports whether raw is absent, an empty JSON object/array,
// or JSON null.
func emptyPayload(raw json.RawMessage) bool {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return true
	}
	switch val := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}
