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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsights/services/insights/analysis"
	"github.com/AleutianAI/AleutianInsights/services/insights/cache"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	results, err := cache.New(cache.Config{Namespace: "test:", DefaultTTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	orch, err := analysis.NewOrchestrator(analysis.NewMemoryRepository(), analysis.NewSimulatedEngine(), results, analysis.Config{})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	t.Cleanup(orch.Close)

	router := gin.New()
	SetupRoutes(router, Deps{Orchestrator: orch, Cache: results})
	return router
}

func TestSetupRoutes(t *testing.T) {
	router := newRouter(t)

	// Entity-level 404s are fine here; an unregistered route would also
	// return 404, so those cases assert on paths with no entity lookup.
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/v1/analyses"},
		{http.MethodPost, "/v1/analyses/batch"},
		{http.MethodGet, "/v1/users/1/analyses"},
		{http.MethodGet, "/v1/cache/stats"},
		{http.MethodPost, "/v1/cache/invalidate"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(tc.method, tc.path, nil))
			if recorder.Code == http.StatusNotFound {
				t.Errorf("route not registered: %s %s", tc.method, tc.path)
			}
		})
	}

	t.Run("health responds ok", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
		if recorder.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", recorder.Code)
		}
	})

	t.Run("realtime routes absent without a channel", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/realtime/status", nil))
		if recorder.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", recorder.Code)
		}
	})
}
