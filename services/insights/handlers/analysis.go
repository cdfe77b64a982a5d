// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin HTTP handlers for the insights service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsights/services/insights/analysis"
	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitAnalysis handles POST /v1/analyses.
//
// # Description
//
// Validates and submits one analysis. A brand-new submission returns 201;
// a deduplicated submission returns 200 with the prior entity, whatever
// its status. Validation failures return 400 with the failed field and
// rule.
func SubmitAnalysis(orch *analysis.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		a, created, err := orch.Submit(c.Request.Context(), &req)
		if err != nil {
			var verr *datatypes.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr})
				return
			}
			slog.Error("analysis submission failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit analysis"})
			return
		}
		if created {
			c.JSON(http.StatusCreated, a)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// SubmitAnalysisBatch handles POST /v1/analyses/batch.
//
// Each request in the batch is submitted independently; per-request
// validation failures appear inline in the results instead of failing
// the whole batch.
func SubmitAnalysisBatch(orch *analysis.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Requests []datatypes.SubmitRequest `json:"requests"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if len(body.Requests) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "requests must be non-empty"})
			return
		}

		results, err := orch.SubmitBatch(c.Request.Context(), body.Requests)
		if err != nil {
			slog.Error("batch submission failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit batch"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// GetAnalysis handles GET /v1/analyses/:id.
func GetAnalysis(orch *analysis.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseAnalysisID(c)
		if !ok {
			return
		}
		a, err := orch.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, analysis.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			slog.Error("failed to load analysis", "analysis_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// RetryAnalysis handles POST /v1/analyses/:id/retry.
//
// Only failed analyses are retryable; any other status returns 409.
func RetryAnalysis(orch *analysis.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseAnalysisID(c)
		if !ok {
			return
		}
		a, err := orch.Retry(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, analysis.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
			case errors.Is(err, analysis.ErrCannotRetry):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				slog.Error("failed to retry analysis", "analysis_id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry analysis"})
			}
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// ListUserAnalyses handles GET /v1/users/:userId/analyses.
func ListUserAnalyses(orch *analysis.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("userId")
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId must be a positive integer"})
			return
		}
		analyses, err := orch.ListByUser(c.Request.Context(), datatypes.UserID(userID))
		if err != nil {
			slog.Error("failed to list analyses", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list analyses"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"analyses": analyses})
	}
}

func parseAnalysisID(c *gin.Context) (datatypes.AnalysisID, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return datatypes.AnalysisID(id), true
}
