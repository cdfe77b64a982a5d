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
	"fmt"
)

// =============================================================================
// Typed Analysis Payloads
// =============================================================================

// Payload is the tagged union of analysis input payloads, keyed by
// AnalysisType. Each variant carries an explicit schema instead of an
// untyped blob; unknown fields in the wire payload are tolerated, missing
// required fields are not.
type Payload interface {
	// PayloadType returns the AnalysisType variant this payload belongs to.
	PayloadType() AnalysisType
	// Validate checks variant-specific constraints.
	Validate() error
}

// PerformancePayload is the input for performance analyses. Scoped to a
// task, so the submit rules require a TaskID alongside it.
type PerformancePayload struct {
	TimeRangeDays int      `json:"timeRangeDays"`
	Metrics       []string `json:"metrics,omitempty"`
}

func (p *PerformancePayload) PayloadType() AnalysisType { return TypePerformance }

func (p *PerformancePayload) Validate() error {
	if p.TimeRangeDays <= 0 {
		return fmt.Errorf("timeRangeDays must be positive, got %d", p.TimeRangeDays)
	}
	return nil
}

// BehaviorPayload is the input for behavior analyses.
type BehaviorPayload struct {
	WindowDays int      `json:"windowDays"`
	Dimensions []string `json:"dimensions,omitempty"`
}

func (p *BehaviorPayload) PayloadType() AnalysisType { return TypeBehavior }

func (p *BehaviorPayload) Validate() error {
	if p.WindowDays <= 0 {
		return fmt.Errorf("windowDays must be positive, got %d", p.WindowDays)
	}
	return nil
}

// PatternPayload is the input for pattern detection.
type PatternPayload struct {
	LookbackDays int     `json:"lookbackDays"`
	MinSupport   float64 `json:"minSupport,omitempty"`
}

func (p *PatternPayload) PayloadType() AnalysisType { return TypePattern }

func (p *PatternPayload) Validate() error {
	if p.LookbackDays <= 0 {
		return fmt.Errorf("lookbackDays must be positive, got %d", p.LookbackDays)
	}
	if p.MinSupport < 0 || p.MinSupport > 1 {
		return fmt.Errorf("minSupport must be within [0, 1], got %v", p.MinSupport)
	}
	return nil
}

// CognitivePayload is the input for cognitive assessments.
type CognitivePayload struct {
	AssessmentIDs []int64 `json:"assessmentIds"`
}

func (p *CognitivePayload) PayloadType() AnalysisType { return TypeCognitive }

func (p *CognitivePayload) Validate() error {
	if len(p.AssessmentIDs) == 0 {
		return fmt.Errorf("assessmentIds must be non-empty")
	}
	return nil
}

// EfficiencyPayload is the input for efficiency analyses. Task-scoped like
// performance.
type EfficiencyPayload struct {
	BaselineDays int  `json:"baselineDays"`
	IncludeIdle  bool `json:"includeIdle,omitempty"`
}

func (p *EfficiencyPayload) PayloadType() AnalysisType { return TypeEfficiency }

func (p *EfficiencyPayload) Validate() error {
	if p.BaselineDays <= 0 {
		return fmt.Errorf("baselineDays must be positive, got %d", p.BaselineDays)
	}
	return nil
}

// DecodePayload decodes raw JSON into the typed payload variant for the
// given analysis type and validates it.
//
// # Outputs
//
//   - Payload: The decoded, validated variant.
//   - error: Non-nil for unknown types, malformed JSON, or failed
//     variant-specific validation.
func DecodePayload(t AnalysisType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case TypePerformance:
		p = &PerformancePayload{}
	case TypeBehavior:
		p = &BehaviorPayload{}
	case TypePattern:
		p = &PatternPayload{}
	case TypeCognitive:
		p = &CognitivePayload{}
	case TypeEfficiency:
		p = &EfficiencyPayload{}
	default:
		return nil, fmt.Errorf("no payload schema for analysis type %q", t)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", t, err)
	}
	return p, nil
}
