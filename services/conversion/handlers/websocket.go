// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ConversionPulse/services/conversion/observability"
	"github.com/AleutianAI/ConversionPulse/services/conversion/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// DashboardWebSocket streams change notifications to a dashboard.
//
// # Description
//
// GET /v1/dashboard/ws?topics=interaction-events,conversion-records.
// An empty topics parameter subscribes to everything. Delivery is
// best-effort: the dashboard keeps its polling loop as the correctness
// fallback and treats each notification purely as a re-fetch hint.
func DashboardWebSocket(hub *realtime.Hub, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "error", err)
			return
		}

		var topics []string
		if raw := c.Query("topics"); raw != "" {
			for _, topic := range strings.Split(raw, ",") {
				if topic = strings.TrimSpace(topic); topic != "" {
					topics = append(topics, topic)
				}
			}
		}
		logger.Info("dashboard connected", "topics", topics)

		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.SubscribersActive.Inc()
			defer observability.DefaultMetrics.SubscribersActive.Dec()
		}
		hub.ServeConn(c.Request.Context(), conn, topics)
	}
}
