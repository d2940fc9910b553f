// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server assembles the conversion pipeline into a runnable
// HTTP service: storage, sink, aggregator, scoring, records, realtime
// hub, routes, metrics, and the weights hot-reload watcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/ConversionPulse/services/conversion/aggregate"
	"github.com/AleutianAI/ConversionPulse/services/conversion/config"
	"github.com/AleutianAI/ConversionPulse/services/conversion/middleware"
	"github.com/AleutianAI/ConversionPulse/services/conversion/observability"
	"github.com/AleutianAI/ConversionPulse/services/conversion/pipeline"
	"github.com/AleutianAI/ConversionPulse/services/conversion/realtime"
	"github.com/AleutianAI/ConversionPulse/services/conversion/records"
	"github.com/AleutianAI/ConversionPulse/services/conversion/routes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/scoring"
	"github.com/AleutianAI/ConversionPulse/services/conversion/sink"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage/sqlite"
)

// Server is a fully wired conversion service.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	store   *sqlite.Store
	spool   *sink.Spool
	sink    *sink.Sink
	hub     *realtime.Hub
	manager *records.Manager
	watcher *config.Watcher
	router  *gin.Engine
}

// New wires every component from cfg.
//
// # Description
//
// Opens the SQLite store (and BadgerDB spool when configured), builds
// the aggregation and scoring stages, connects both change-notification
// sources to the realtime hub, and registers the HTTP routes. Metrics
// are registered on first assembly. Nothing is started yet; Run does
// the listening and teardown.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	observability.InitMetrics()

	store, err := sqlite.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hub := realtime.NewHub(logger, realtime.WithOnDrop(func(topic string) {
		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.NotificationsDroppedTotal.WithLabelValues(topic).Inc()
		}
	}))

	sinkOpts := []sink.Option{sink.WithNotifier(hub)}
	var spool *sink.Spool
	if cfg.Storage.SpoolPath != "" {
		spool, err = sink.OpenSpool(sink.SpoolConfig{Path: cfg.Storage.SpoolPath})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open spool: %w", err)
		}
		sinkOpts = append(sinkOpts, sink.WithSpool(spool))
	}
	eventSink := sink.New(store, logger, sinkOpts...)

	aggregator := aggregate.New(store, aggregate.Config{
		Window:          cfg.Pipeline.AggregationWindow,
		ActiveWindow:    cfg.Pipeline.ActiveWindow,
		DedupeTolerance: cfg.Pipeline.DedupeTolerance,
		BookingPagePath: cfg.Pipeline.BookingPagePath,
	}, aggregate.SystemClock{})

	engine := scoring.NewEngine(cfg.Scoring)
	manager := records.NewManager(store, engine, logger, records.WithNotifier(hub))
	processor := pipeline.NewProcessor(aggregator, manager, logger)

	var watcher *config.Watcher
	if cfg.WeightsPath != "" {
		watcher = config.NewWatcher(cfg.WeightsPath, 0, func(weights scoring.Weights) {
			manager.SetEngine(scoring.NewEngine(weights))
		}, logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("conversion-service"))
	router.Use(middleware.RequestLogger(logger))

	routes.SetupRoutes(router, routes.Deps{
		Sink:            eventSink,
		Processor:       processor,
		Aggregator:      aggregator,
		Manager:         manager,
		Hub:             hub,
		PendingMinScore: cfg.Pipeline.PendingMinScore,
		Logger:          logger,
	})

	return &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		spool:   spool,
		sink:    eventSink,
		hub:     hub,
		manager: manager,
		watcher: watcher,
		router:  router,
	}, nil
}

// Router exposes the gin engine (tests).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives,
// then shuts down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			// A dead watcher only disables hot reload; keep serving.
			s.logger.Warn("weights watcher failed to start", "error", err)
		} else {
			defer s.watcher.Close()
		}
	}
	if s.spool != nil {
		go s.sink.RunSpoolLoop(ctx, s.cfg.Storage.SpoolFlushInterval)
	}

	httpServer := &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("conversion service listening", "address", s.cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.closeAll()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
	}
	s.closeAll()
	return nil
}

func (s *Server) closeAll() {
	if s.spool != nil {
		// One last flush so a clean shutdown leaves no journaled events.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.sink.FlushSpool(flushCtx)
		cancel()
		if err := s.spool.Close(); err != nil {
			s.logger.Error("spool close failed", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err)
	}
}
