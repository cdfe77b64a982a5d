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
	"errors"
	"testing"
)

func TestParseRealtimeMessage(t *testing.T) {
	t.Run("valid message parses", func(t *testing.T) {
		raw := []byte(`{"type": "ANALYSIS_COMPLETED", "data": {"analysisId": 3, "result": "ok", "score": 82.5}, "timestamp": "2025-08-30T12:00:00Z"}`)
		msg, err := ParseRealtimeMessage(raw)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if msg.Type != MessageAnalysisCompleted {
			t.Errorf("got type %q", msg.Type)
		}
		ev, err := msg.CompletedEvent()
		if err != nil {
			t.Fatalf("decode event failed: %v", err)
		}
		if ev.AnalysisID != 3 || ev.Score != 82.5 {
			t.Errorf("got %+v", ev)
		}
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		raw := []byte(`{"type": "SOMETHING_ELSE", "data": {"x": 1}}`)
		_, err := ParseRealtimeMessage(raw)
		if !errors.Is(err, ErrUnknownMessageType) {
			t.Errorf("got %v, want ErrUnknownMessageType", err)
		}
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		if _, err := ParseRealtimeMessage([]byte(`{"type": "PATTERN`)); err == nil {
			t.Error("truncated frame should be rejected")
		}
	})

	t.Run("missing data is rejected", func(t *testing.T) {
		if _, err := ParseRealtimeMessage([]byte(`{"type": "PATTERN_DETECTED"}`)); err == nil {
			t.Error("frame without data should be rejected")
		}
	})
}

func TestRealtimeMessage_TypedEvents(t *testing.T) {
	t.Run("completed event requires analysis id", func(t *testing.T) {
		msg := RealtimeMessage{Type: MessageAnalysisCompleted, Data: []byte(`{"result": "ok"}`)}
		if _, err := msg.CompletedEvent(); err == nil {
			t.Error("missing analysisId should be rejected")
		}
	})

	t.Run("failed event requires analysis id", func(t *testing.T) {
		msg := RealtimeMessage{Type: MessageAnalysisFailed, Data: []byte(`{"reason": "timeout"}`)}
		if _, err := msg.FailedEvent(); err == nil {
			t.Error("missing analysisId should be rejected")
		}
	})

	t.Run("pattern event decodes", func(t *testing.T) {
		msg := RealtimeMessage{Type: MessagePatternDetected, Data: []byte(`{"userId": 9, "pattern": "late-night work"}`)}
		ev, err := msg.PatternEvent()
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if ev.UserID != 9 || ev.Pattern != "late-night work" {
			t.Errorf("got %+v", ev)
		}
	})
}
