// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes registers the conversion service's HTTP surface.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/ConversionPulse/services/conversion/aggregate"
	"github.com/AleutianAI/ConversionPulse/services/conversion/handlers"
	"github.com/AleutianAI/ConversionPulse/services/conversion/pipeline"
	"github.com/AleutianAI/ConversionPulse/services/conversion/realtime"
	"github.com/AleutianAI/ConversionPulse/services/conversion/records"
	"github.com/AleutianAI/ConversionPulse/services/conversion/sink"
)

// Deps carries the wired components the routes need.
type Deps struct {
	Sink            *sink.Sink
	Processor       *pipeline.Processor
	Aggregator      *aggregate.Aggregator
	Manager         *records.Manager
	Hub             *realtime.Hub
	PendingMinScore float64
	Logger          *slog.Logger
}

// SetupRoutes registers all endpoints on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/events", handlers.IngestEvents(deps.Sink, deps.Processor, logger))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId/summary", handlers.GetSessionSummary(deps.Aggregator, logger))
		}

		conversions := v1.Group("/conversions")
		{
			conversions.GET("/pending", handlers.ListPendingConversions(deps.Manager, deps.PendingMinScore, logger))
			conversions.GET("/:sessionId", handlers.GetConversion(deps.Manager, logger))
			conversions.POST("/:sessionId/validate", handlers.ValidateConversion(deps.Manager, logger))
			conversions.POST("/:sessionId/reject", handlers.RejectConversion(deps.Manager, logger))
		}

		dashboard := v1.Group("/dashboard")
		{
			dashboard.GET("/ws", handlers.DashboardWebSocket(deps.Hub, logger))
		}
	}
}
