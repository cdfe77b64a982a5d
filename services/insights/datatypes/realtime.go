// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Realtime wire message types for the push-notification channel.
//
// Messages are transient: they are parsed, dispatched by type, and never
// persisted. Malformed payloads and unknown types are rejected here with an
// error so the channel can log and drop them without tearing down the
// connection.

package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Message Types
// =============================================================================

// RealtimeMessageType enumerates the push event kinds the channel dispatches.
type RealtimeMessageType string

const (
	MessagePatternDetected   RealtimeMessageType = "PATTERN_DETECTED"
	MessageInsightGenerated  RealtimeMessageType = "INSIGHT_GENERATED"
	MessageAnalysisCompleted RealtimeMessageType = "ANALYSIS_COMPLETED"
	MessageAnalysisFailed    RealtimeMessageType = "ANALYSIS_FAILED"
)

// ErrUnknownMessageType is returned when a wire message carries a type
// outside the known enumeration. The channel logs and ignores these.
var ErrUnknownMessageType = errors.New("unknown realtime message type")

// Valid reports whether t is a known message type.
func (t RealtimeMessageType) Valid() bool {
	switch t {
	case MessagePatternDetected, MessageInsightGenerated, MessageAnalysisCompleted, MessageAnalysisFailed:
		return true
	}
	return false
}

// RealtimeMessage is a single push event received over the channel.
//
// Wire format:
//
//	{ "type": "ANALYSIS_COMPLETED", "data": {...}, "timestamp": "2025-..." }
type RealtimeMessage struct {
	Type      RealtimeMessageType `json:"type"`
	Data      json.RawMessage     `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
}

// ParseRealtimeMessage decodes a raw frame into a RealtimeMessage.
//
// # Outputs
//
//   - RealtimeMessage: The decoded message.
//   - error: Non-nil for malformed JSON, a missing/unknown type
//     (ErrUnknownMessageType), or an absent data object.
func ParseRealtimeMessage(raw []byte) (RealtimeMessage, error) {
	var msg RealtimeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return RealtimeMessage{}, fmt.Errorf("decode realtime message: %w", err)
	}
	if !msg.Type.Valid() {
		return RealtimeMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	if len(msg.Data) == 0 {
		return RealtimeMessage{}, errors.New("realtime message has no data")
	}
	return msg, nil
}

// =============================================================================
// Typed Event Payloads
// =============================================================================

// AnalysisCompletedEvent is the data payload of ANALYSIS_COMPLETED.
type AnalysisCompletedEvent struct {
	AnalysisID AnalysisID `json:"analysisId"`
	Result     string     `json:"result"`
	Score      float64    `json:"score"`
}

// AnalysisFailedEvent is the data payload of ANALYSIS_FAILED.
type AnalysisFailedEvent struct {
	AnalysisID AnalysisID `json:"analysisId"`
	Reason     string     `json:"reason,omitempty"`
}

// PatternDetectedEvent is the data payload of PATTERN_DETECTED.
type PatternDetectedEvent struct {
	UserID  UserID `json:"userId"`
	Pattern string `json:"pattern"`
}

// InsightGeneratedEvent is the data payload of INSIGHT_GENERATED.
type InsightGeneratedEvent struct {
	UserID  UserID `json:"userId"`
	Insight string `json:"insight"`
}

// CompletedEvent decodes the message data as an AnalysisCompletedEvent.
func (m RealtimeMessage) CompletedEvent() (AnalysisCompletedEvent, error) {
	var ev AnalysisCompletedEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return AnalysisCompletedEvent{}, fmt.Errorf("decode completed event: %w", err)
	}
	if ev.AnalysisID <= 0 {
		return AnalysisCompletedEvent{}, errors.New("completed event missing analysisId")
	}
	return ev, nil
}

// FailedEvent decodes the message data as an AnalysisFailedEvent.
func (m RealtimeMessage) FailedEvent() (AnalysisFailedEvent, error) {
	var ev AnalysisFailedEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return AnalysisFailedEvent{}, fmt.Errorf("decode failed event: %w", err)
	}
	if ev.AnalysisID <= 0 {
		return AnalysisFailedEvent{}, errors.New("failed event missing analysisId")
	}
	return ev, nil
}

// PatternEvent decodes the message data as a PatternDetectedEvent.
func (m RealtimeMessage) PatternEvent() (PatternDetectedEvent, error) {
	var ev PatternDetectedEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return PatternDetectedEvent{}, fmt.Errorf("decode pattern event: %w", err)
	}
	return ev, nil
}

// InsightEvent decodes the message data as an InsightGeneratedEvent.
func (m RealtimeMessage) InsightEvent() (InsightGeneratedEvent, error) {
	var ev InsightGeneratedEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return InsightGeneratedEvent{}, fmt.Errorf("decode insight event: %w", err)
	}
	return ev, nil
}
