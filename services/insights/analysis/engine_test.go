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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
)

func TestSimulatedEngine_Run(t *testing.T) {
	a := &datatypes.Analysis{
		UserID:       3,
		AnalysisType: datatypes.TypeBehavior,
		Data:         json.RawMessage(`{"windowDays": 14}`),
	}
	payload, err := datatypes.DecodePayload(a.AnalysisType, a.Data)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	t.Run("produces a deterministic in-bounds score", func(t *testing.T) {
		engine := &SimulatedEngine{DurationScale: 0.001}

		first, err := engine.Run(context.Background(), a, payload)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		second, err := engine.Run(context.Background(), a, payload)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if first.ScoreValue != second.ScoreValue {
			t.Errorf("same input scored %v then %v", first.ScoreValue, second.ScoreValue)
		}
		if first.ScoreValue < 0 || first.ScoreValue > 100 {
			t.Errorf("score %v out of bounds", first.ScoreValue)
		}
		if first.Summary == "" {
			t.Error("summary should be non-empty")
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		engine := NewSimulatedEngine() // nominal 5s delay for behavior
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		started := time.Now()
		_, err := engine.Run(ctx, a, payload)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("got %v, want DeadlineExceeded", err)
		}
		if elapsed := time.Since(started); elapsed > time.Second {
			t.Errorf("cancelled run took %v", elapsed)
		}
	})
}
