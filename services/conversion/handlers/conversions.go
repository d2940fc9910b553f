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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/observability"
	"github.com/AleutianAI/ConversionPulse/services/conversion/records"
)

// validationRequest is the body of validate/reject calls.
type validationRequest struct {
	Notes string `json:"notes"`
}

// ListPendingConversions returns the validation queue.
//
// GET /v1/conversions/pending?minScore=0.5. The queue is ordered newest
// first; minScore defaults to the operator-configured threshold.
func ListPendingConversions(manager *records.Manager, defaultMinScore float64, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		minScore := defaultMinScore
		if raw := c.Query("minScore"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed < 0 || parsed > 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "minScore must be a number in [0,1]"})
				return
			}
			minScore = parsed
		}

		pending, err := manager.ListPendingAboveThreshold(c.Request.Context(), minScore)
		if err != nil {
			logger.Error("pending conversions query failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending conversions"})
			return
		}
		if pending == nil {
			pending = []datatypes.ConversionRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"conversions": pending})
	}
}

// GetConversion returns one session's conversion record.
//
// GET /v1/conversions/:sessionId.
func GetConversion(manager *records.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		record, err := manager.Get(c.Request.Context(), sessionID)
		if err != nil {
			if records.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			logger.Error("conversion lookup failed", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversion"})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// ValidateConversion finalizes a record as a confirmed booking.
//
// POST /v1/conversions/:sessionId/validate. Unlike the rest of the
// pipeline, workflow misuse is surfaced to the operator: 404 for an
// unknown session, 409 for an already-finalized record.
func ValidateConversion(manager *records.Manager, logger *slog.Logger) gin.HandlerFunc {
	return finalizeHandler(manager, logger, datatypes.ValidationValidated)
}

// RejectConversion finalizes a record as not a booking. Symmetric to
// ValidateConversion.
func RejectConversion(manager *records.Manager, logger *slog.Logger) gin.HandlerFunc {
	return finalizeHandler(manager, logger, datatypes.ValidationRejected)
}

func finalizeHandler(manager *records.Manager, logger *slog.Logger, state datatypes.ValidationState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		var req validationRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
				return
			}
		}

		var record datatypes.ConversionRecord
		var err error
		if state == datatypes.ValidationValidated {
			record, err = manager.Validate(c.Request.Context(), sessionID, req.Notes)
		} else {
			record, err = manager.Reject(c.Request.Context(), sessionID, req.Notes)
		}
		if err != nil {
			switch {
			case records.IsNotFound(err):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case records.IsAlreadyFinalized(err):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				logger.Error("validation workflow failed",
					"sessionId", sessionID, "state", state, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
			}
			return
		}

		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.ValidationsTotal.WithLabelValues(string(state)).Inc()
		}
		c.JSON(http.StatusOK, record)
	}
}
