// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianInsights/services/insights/analysis"
	"github.com/AleutianAI/AleutianInsights/services/insights/cache"
	"github.com/AleutianAI/AleutianInsights/services/insights/handlers"
	"github.com/AleutianAI/AleutianInsights/services/insights/realtime"
)

// Deps carries the wired collaborators handlers close over.
type Deps struct {
	Orchestrator *analysis.Orchestrator
	Cache        *cache.ResultCache
	Channel      *realtime.Channel
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		analyses := v1.Group("/analyses")
		{
			analyses.POST("", handlers.SubmitAnalysis(deps.Orchestrator))
			analyses.POST("/batch", handlers.SubmitAnalysisBatch(deps.Orchestrator))
			analyses.GET("/:id", handlers.GetAnalysis(deps.Orchestrator))
			analyses.POST("/:id/retry", handlers.RetryAnalysis(deps.Orchestrator))
		}
		v1.GET("/users/:userId/analyses", handlers.ListUserAnalyses(deps.Orchestrator))

		cacheAdmin := v1.Group("/cache")
		{
			cacheAdmin.GET("/stats", handlers.CacheStats(deps.Cache))
			cacheAdmin.POST("/invalidate", handlers.InvalidateCache(deps.Cache))
		}

		if deps.Channel != nil {
			rt := v1.Group("/realtime")
			{
				rt.GET("/status", handlers.RealtimeStatus(deps.Channel))
				rt.POST("/connect", handlers.RealtimeConnect(deps.Channel))
				rt.POST("/disconnect", handlers.RealtimeDisconnect(deps.Channel))
			}
		}
	}
}
