// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline wires the aggregation and scoring stages together:
// for each touched session it recomputes the summary and upserts the
// conversion record.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/ConversionPulse/services/conversion/aggregate"
	"github.com/AleutianAI/ConversionPulse/services/conversion/attribution"
	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/records"
)

// Processor recomputes summaries and conversion records for sessions
// touched by new events.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the aggregator and manager.
type Processor struct {
	aggregator *aggregate.Aggregator
	manager    *records.Manager
	logger     *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(aggregator *aggregate.Aggregator, manager *records.Manager, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{aggregator: aggregator, manager: manager, logger: logger}
}

// ProcessSession refreshes one session: summary, score, record.
//
// # Description
//
// A session with no events in the window is skipped (no summary is
// materialized and no conversion record is created). Aggregation and
// upsert failures are logged and swallowed: the pipeline is diagnostic,
// and a failed refresh is repaired by the next event or polling pass.
//
// # Outputs
//
//   - *datatypes.SessionSummary: The refreshed summary, or nil when the
//     session has no events or the refresh failed.
func (p *Processor) ProcessSession(ctx context.Context, sessionID string) *datatypes.SessionSummary {
	summary, err := p.aggregator.Summarize(ctx, sessionID)
	if err != nil {
		p.logger.Warn("session aggregation failed", "sessionId", sessionID, "error", err)
		return nil
	}
	if summary == nil {
		return nil
	}

	attr := attribution.ParseAttribution(summary.LandingPageURL)
	if _, err := p.manager.Upsert(ctx, summary, attr); err != nil {
		p.logger.Warn("conversion upsert failed", "sessionId", sessionID, "error", err)
	}
	return summary
}

// ProcessSessions refreshes each distinct session in order.
func (p *Processor) ProcessSessions(ctx context.Context, sessionIDs []string) {
	seen := make(map[string]bool, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		if seen[sessionID] {
			continue
		}
		seen[sessionID] = true
		p.ProcessSession(ctx, sessionID)
	}
}
