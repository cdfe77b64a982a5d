// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/AleutianInsights/pkg/logging"
	"github.com/AleutianAI/AleutianInsights/services/insights/analysis"
	"github.com/AleutianAI/AleutianInsights/services/insights/cache"
	"github.com/AleutianAI/AleutianInsights/services/insights/config"
	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
	"github.com/AleutianAI/AleutianInsights/services/insights/middleware"
	"github.com/AleutianAI/AleutianInsights/services/insights/observability"
	"github.com/AleutianAI/AleutianInsights/services/insights/realtime"
	"github.com/AleutianAI/AleutianInsights/services/insights/routes"
	"github.com/AleutianAI/AleutianInsights/services/insights/storage/badger"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("insights-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildRepository opens the durable store when a path is configured and
// falls back to in-memory persistence otherwise.
func buildRepository(cfg *config.Config) (analysis.Repository, cache.DurableStore, func(), error) {
	if cfg.Storage.Path == "" {
		slog.Info("INSIGHTS_DB_PATH not set, running with in-memory persistence")
		return analysis.NewMemoryRepository(), nil, func() {}, nil
	}

	dbConf := badger.DefaultConfig()
	dbConf.Path = cfg.Storage.Path
	dbConf.GCInterval = cfg.Storage.GCInterval
	db, err := badger.OpenDB(dbConf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open badger at %s: %w", cfg.Storage.Path, err)
	}
	repo, err := analysis.NewBadgerRepository(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	durable, err := cache.NewBadgerStore(db)
	if err != nil {
		repo.Close()
		db.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := repo.Close(); err != nil {
			slog.Error("failed to close analysis repository", "error", err)
		}
		if err := db.Close(); err != nil {
			slog.Error("failed to close badger", "error", err)
		}
	}
	return repo, durable, cleanup, nil
}

// buildChannel wires the realtime channel to the orchestration core:
// terminal events flow into the orchestrator, user-scoped notifications
// invalidate cached listings.
func buildChannel(cfg *config.Config, orch *analysis.Orchestrator, results *cache.ResultCache) (*realtime.Channel, error) {
	channelConf := realtime.Config{
		URL:                  cfg.Realtime.URL,
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	}
	channel, err := realtime.NewChannel(channelConf, realtime.NewWebSocketTransport())
	if err != nil {
		return nil, err
	}

	channel.Subscribe(datatypes.MessageAnalysisCompleted, func(msg datatypes.RealtimeMessage) {
		ev, err := msg.CompletedEvent()
		if err != nil {
			slog.Warn("dropping malformed completed event", "error", err)
			return
		}
		if err := orch.ApplyCompletedEvent(context.Background(), ev); err != nil {
			slog.Error("failed to apply completed event", "analysis_id", ev.AnalysisID, "error", err)
		}
	})
	channel.Subscribe(datatypes.MessageAnalysisFailed, func(msg datatypes.RealtimeMessage) {
		ev, err := msg.FailedEvent()
		if err != nil {
			slog.Warn("dropping malformed failed event", "error", err)
			return
		}
		if err := orch.ApplyFailedEvent(context.Background(), ev); err != nil {
			slog.Error("failed to apply failed event", "analysis_id", ev.AnalysisID, "error", err)
		}
	})
	channel.Subscribe(datatypes.MessagePatternDetected, func(msg datatypes.RealtimeMessage) {
		ev, err := msg.PatternEvent()
		if err != nil {
			slog.Warn("dropping malformed pattern event", "error", err)
			return
		}
		results.Invalidate(context.Background(), fmt.Sprintf("ForUser_%d", ev.UserID))
	})
	channel.Subscribe(datatypes.MessageInsightGenerated, func(msg datatypes.RealtimeMessage) {
		ev, err := msg.InsightEvent()
		if err != nil {
			slog.Warn("dropping malformed insight event", "error", err)
			return
		}
		results.Invalidate(context.Background(), fmt.Sprintf("ForUser_%d", ev.UserID))
	})
	return channel, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("INSIGHTS_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	closeLogs := logging.Setup(logging.Config{
		Service: "insights",
		JSON:    true,
		LogDir:  os.Getenv("INSIGHTS_LOG_DIR"),
	})
	defer closeLogs()

	observability.InitMetrics()

	// --- Init the tracer ---
	if cfg.Otel.Endpoint != "" {
		cleanup, err := initTracer(cfg.Otel.Endpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	repo, durable, closeStorage, err := buildRepository(cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer closeStorage()

	results, err := cache.New(cache.Config{
		Namespace:     cfg.Cache.Namespace,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, durable)
	if err != nil {
		log.Fatalf("failed to initialize result cache: %v", err)
	}
	if err := results.Start(context.Background()); err != nil {
		log.Fatalf("failed to start result cache: %v", err)
	}
	defer results.Stop()

	orch, err := analysis.NewOrchestrator(repo, analysis.NewSimulatedEngine(), results, analysis.Config{
		ExecutionCeiling: cfg.Analysis.ExecutionCeiling,
		ResultTTL:        cfg.Analysis.ResultTTL,
	})
	if err != nil {
		log.Fatalf("failed to initialize orchestrator: %v", err)
	}
	defer orch.Close()

	var channel *realtime.Channel
	if cfg.Realtime.URL != "" {
		channel, err = buildChannel(cfg, orch, results)
		if err != nil {
			log.Fatalf("failed to initialize realtime channel: %v", err)
		}
		if err := channel.Connect(context.Background()); err != nil {
			// Bounded reconnection takes it from here.
			slog.Warn("initial realtime connect failed, reconnecting in background", "error", err)
		}
		defer channel.Close()
	} else {
		slog.Info("INSIGHTS_REALTIME_URL not set, realtime channel disabled")
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("insights-service"))
	router.Use(middleware.RequestLogger())

	routes.SetupRoutes(router, routes.Deps{
		Orchestrator: orch,
		Cache:        results,
		Channel:      channel,
	})

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		slog.Info("starting the insights server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
