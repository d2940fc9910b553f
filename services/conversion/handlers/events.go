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

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/observability"
	"github.com/AleutianAI/ConversionPulse/services/conversion/pipeline"
	"github.com/AleutianAI/ConversionPulse/services/conversion/sink"
)

// IngestEvents accepts a batch of interaction events from the page.
//
// # Description
//
// POST /v1/events. The body is a Batch; sessionId and type are required
// per event, everything else optional. A malformed batch is a 400 (client
// bug worth surfacing). Once the batch is accepted, the touched sessions
// are re-aggregated and re-scored inline; failures in that stage degrade
// silently because ingestion itself already succeeded.
//
// Responds 202: writes are fire-and-forget from the page's perspective
// and a store failure has already been spooled or logged by the sink.
func IngestEvents(eventSink *sink.Sink, processor *pipeline.Processor, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch datatypes.Batch
		if err := c.ShouldBindJSON(&batch); err != nil {
			countBatch("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		if err := batch.Validate(); err != nil {
			countBatch("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := eventSink.RecordBatch(c.Request.Context(), batch.Events); err != nil {
			// RecordBatch only errors on validation, which Validate above
			// already covered; treat defensively as a client error anyway.
			countBatch("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		countBatch("ok")
		countEvents(batch.Events)

		sessionIDs := make([]string, 0, 1)
		for _, event := range batch.Events {
			sessionIDs = append(sessionIDs, event.SessionID)
		}
		processor.ProcessSessions(c.Request.Context(), sessionIDs)

		logger.Debug("event batch accepted", "events", len(batch.Events))
		c.JSON(http.StatusAccepted, gin.H{"accepted": len(batch.Events)})
	}
}

func countBatch(outcome string) {
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.EventBatchesTotal.WithLabelValues(outcome).Inc()
	}
}

func countEvents(events []datatypes.InteractionEvent) {
	if observability.DefaultMetrics == nil {
		return
	}
	for _, event := range events {
		observability.DefaultMetrics.EventsIngestedTotal.WithLabelValues(string(event.Type)).Inc()
	}
}
