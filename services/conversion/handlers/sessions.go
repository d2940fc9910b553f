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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ConversionPulse/services/conversion/aggregate"
)

// GetSessionSummary returns the derived summary for one session.
//
// GET /v1/sessions/:sessionId/summary. A session with no events in the
// aggregation window has no summary and yields 404.
func GetSessionSummary(aggregator *aggregate.Aggregator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		summary, err := aggregator.Summarize(c.Request.Context(), sessionID)
		if err != nil {
			logger.Error("session summary failed", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute session summary"})
			return
		}
		if summary == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no events for session"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
