// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
)

// =============================================================================
// Status Lifecycle Tests
// =============================================================================

func TestAnalysisStatus_CanTransitionTo(t *testing.T) {
	allowed := []struct {
		from, to AnalysisStatus
	}{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusPending},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct {
		from, to AnalysisStatus
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusCompleted},
		{StatusProcessing, StatusPending},
	}
	for _, tc := range forbidden {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be forbidden", tc.from, tc.to)
		}
	}
}

func TestAnalysisStatus_IsTerminal(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed and failed are terminal")
	}
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("pending and processing are not terminal")
	}
}

// =============================================================================
// Analysis Type Tests
// =============================================================================

func TestParseAnalysisType(t *testing.T) {
	t.Run("known variants parse", func(t *testing.T) {
		for _, variant := range AnalysisTypes() {
			parsed, err := ParseAnalysisType(string(variant))
			if err != nil {
				t.Errorf("ParseAnalysisType(%q) failed: %v", variant, err)
			}
			if parsed != variant {
				t.Errorf("got %q, want %q", parsed, variant)
			}
			if parsed.Info().ExpectedDuration <= 0 {
				t.Errorf("%q has no expected duration", variant)
			}
		}
	})

	t.Run("unknown variant is rejected", func(t *testing.T) {
		if _, err := ParseAnalysisType("sentiment"); err == nil {
			t.Error("unknown type should be rejected")
		}
	})

	t.Run("task-scoped types are flagged", func(t *testing.T) {
		if !TypePerformance.Info().RequiresTaskID {
			t.Error("performance requires a task id")
		}
		if !TypeEfficiency.Info().RequiresTaskID {
			t.Error("efficiency requires a task id")
		}
		if TypeBehavior.Info().RequiresTaskID {
			t.Error("behavior does not require a task id")
		}
	})
}

// =============================================================================
// Score Tests
// =============================================================================

func TestNewAnalysisScore(t *testing.T) {
	t.Run("accepts values in bounds", func(t *testing.T) {
		for _, v := range []float64{0, 50, 100} {
			if _, err := NewAnalysisScore(v); err != nil {
				t.Errorf("NewAnalysisScore(%v) failed: %v", v, err)
			}
		}
	})

	t.Run("rejects out-of-bounds values", func(t *testing.T) {
		for _, v := range []float64{-0.1, 100.1, 1000} {
			if _, err := NewAnalysisScore(v); err == nil {
				t.Errorf("NewAnalysisScore(%v) should fail", v)
			}
		}
	})

	t.Run("rejects inverted bounds", func(t *testing.T) {
		if _, err := NewAnalysisScoreWithBounds(5, 10, 0); err == nil {
			t.Error("min > max should fail")
		}
	})

	t.Run("WithValue revalidates", func(t *testing.T) {
		score, err := NewAnalysisScoreWithBounds(5, 0, 10)
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := score.WithValue(11); err == nil {
			t.Error("value outside retained bounds should fail")
		}
		updated, err := score.WithValue(7)
		if err != nil {
			t.Fatalf("WithValue(7) failed: %v", err)
		}
		if updated.Value != 7 || updated.Max != 10 {
			t.Errorf("got %+v, want value 7 with max 10", updated)
		}
	})
}

// =============================================================================
// Fingerprint Tests
// =============================================================================

func TestFingerprint(t *testing.T) {
	taskA := TaskID(7)
	taskB := TaskID(8)
	data := json.RawMessage(`{"timeRangeDays": 30}`)

	t.Run("identical inputs match", func(t *testing.T) {
		a := Fingerprint(1, &taskA, TypePerformance, data)
		b := Fingerprint(1, &taskA, TypePerformance, data)
		if a != b {
			t.Error("equal inputs must fingerprint identically")
		}
	})

	t.Run("whitespace-only differences match", func(t *testing.T) {
		spaced := json.RawMessage(`{ "timeRangeDays":   30 }`)
		if Fingerprint(1, &taskA, TypePerformance, data) != Fingerprint(1, &taskA, TypePerformance, spaced) {
			t.Error("whitespace must not change the fingerprint")
		}
	})

	t.Run("each identity component matters", func(t *testing.T) {
		base := Fingerprint(1, &taskA, TypePerformance, data)
		if base == Fingerprint(2, &taskA, TypePerformance, data) {
			t.Error("user id must change the fingerprint")
		}
		if base == Fingerprint(1, &taskB, TypePerformance, data) {
			t.Error("task id must change the fingerprint")
		}
		if base == Fingerprint(1, &taskA, TypeEfficiency, data) {
			t.Error("analysis type must change the fingerprint")
		}
		if base == Fingerprint(1, nil, TypePerformance, data) {
			t.Error("absent task id must change the fingerprint")
		}
	})
}

// =============================================================================
// Submit Request Validation Tests
// =============================================================================

func validSubmitRequest() SubmitRequest {
	task := TaskID(42)
	return SubmitRequest{
		UserID:       7,
		TaskID:       &task,
		AnalysisType: string(TypePerformance),
		Data:         json.RawMessage(`{"timeRangeDays": 30, "metrics": ["speed"]}`),
	}
}

func TestSubmitRequest_Validate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		req := validSubmitRequest()
		if verr := req.Validate(); verr != nil {
			t.Errorf("valid request rejected: %v", verr)
		}
	})

	t.Run("zero user id is rejected", func(t *testing.T) {
		req := validSubmitRequest()
		req.UserID = 0
		if verr := req.Validate(); verr == nil {
			t.Error("userId 0 should be rejected")
		}
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		req := validSubmitRequest()
		req.AnalysisType = "astrology"
		verr := req.Validate()
		if verr == nil || verr.Code != "unknown_analysis_type" {
			t.Errorf("got %v, want unknown_analysis_type", verr)
		}
	})

	t.Run("empty payload is rejected", func(t *testing.T) {
		req := validSubmitRequest()
		req.Data = json.RawMessage(`{}`)
		verr := req.Validate()
		if verr == nil || verr.Code != "empty_payload" {
			t.Errorf("got %v, want empty_payload", verr)
		}
	})

	t.Run("oversized payload is rejected", func(t *testing.T) {
		req := validSubmitRequest()
		big := `{"metrics": ["` + strings.Repeat("x", MaxPayloadBytes) + `"]}`
		req.Data = json.RawMessage(big)
		verr := req.Validate()
		if verr == nil || verr.Code != "payload_too_large" {
			t.Errorf("got %v, want payload_too_large", verr)
		}
	})

	t.Run("task-scoped type without task id is rejected", func(t *testing.T) {
		req := validSubmitRequest()
		req.TaskID = nil
		verr := req.Validate()
		if verr == nil || verr.Code != "task_id_required" {
			t.Errorf("got %v, want task_id_required", verr)
		}
	})

	t.Run("non-task type without task id passes", func(t *testing.T) {
		req := SubmitRequest{
			UserID:       7,
			AnalysisType: string(TypeBehavior),
			Data:         json.RawMessage(`{"windowDays": 14, "dimensions": ["focus"]}`),
		}
		if verr := req.Validate(); verr != nil {
			t.Errorf("behavior without taskId rejected: %v", verr)
		}
	})

	t.Run("payload mismatching the type is rejected", func(t *testing.T) {
		req := validSubmitRequest()
		req.Data = json.RawMessage(`{"timeRangeDays": "thirty"}`)
		verr := req.Validate()
		if verr == nil || verr.Code != "malformed_payload" {
			t.Errorf("got %v, want malformed_payload", verr)
		}
	})
}
