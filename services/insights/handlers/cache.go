// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsights/services/insights/cache"
)

// CacheStats handles GET /v1/cache/stats.
func CacheStats(results *cache.ResultCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, results.GetStats(c.Request.Context()))
	}
}

// InvalidateCache handles POST /v1/cache/invalidate.
//
// The pattern matches by substring against logical keys in both tiers,
// so short patterns can remove more than the caller expects.
func InvalidateCache(results *cache.ResultCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Pattern string `json:"pattern"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Pattern == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pattern must be non-empty"})
			return
		}
		removed := results.Invalidate(c.Request.Context(), body.Pattern)
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}
