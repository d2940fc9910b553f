// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package records owns the one-row-per-session conversion records and the
// human validation workflow over them.
//
// The Manager is the single writer for ConversionRecord rows. Concurrent
// upserts for the same session are safe because the store's upsert is
// idempotent by key with last-write-wins on mutable fields; the scoring
// engine is monotonically non-decreasing in practice, so such races are
// low-stakes.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/observability"
	"github.com/AleutianAI/ConversionPulse/services/conversion/scoring"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage"
)

// TopicConversionRecords is the change topic published on every
// successful upsert, validation, and rejection.
const TopicConversionRecords = "conversion-records"

// Notifier receives a "something changed, re-fetch" signal per topic.
// Satisfied by realtime.Hub.
type Notifier interface {
	Notify(topic string, sessionID string)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Manager maintains conversion records from session summaries.
//
// # Thread Safety
//
// Safe for concurrent use; record state lives in the store, and the
// scoring engine is held behind an atomic pointer so the weights
// hot-reload goroutine can swap it while upserts are in flight.
type Manager struct {
	store    storage.ConversionStore
	engine   atomic.Pointer[scoring.Engine]
	notifier Notifier
	clock    Clock
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier attaches a change notifier.
func WithNotifier(notifier Notifier) Option {
	return func(m *Manager) { m.notifier = notifier }
}

// WithClock injects a clock (tests).
func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a Manager writing through store and scoring with
// engine.
func NewManager(store storage.ConversionStore, engine *scoring.Engine, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		clock:  systemClock{},
		logger: logger,
	}
	m.engine.Store(engine)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetEngine swaps the scoring engine. Called by the weights hot-reload
// path; future upserts use the new weights, stored scores are untouched.
func (m *Manager) SetEngine(engine *scoring.Engine) {
	m.engine.Store(engine)
}

// Upsert scores the summary and writes the session's conversion record.
//
// # Description
//
// Creates the record in the Pending state on first sight of a session;
// re-scores and updates the mutable fields while the record stays Pending;
// succeeds as a no-op once the record is finalized (the frozen row is
// returned unchanged). A nil summary is rejected: a session with zero
// events must never materialize a record.
//
// Every successful write publishes a change notification on the
// conversion-records topic.
//
// # Inputs
//
//   - ctx: Bounds the store write.
//   - summary: The session's current summary. Must be non-nil.
//   - attr: UTM attribution for the session.
//
// # Outputs
//
//   - datatypes.ConversionRecord: The stored record after the call.
//   - error: Non-nil on store failure or nil summary.
func (m *Manager) Upsert(ctx context.Context, summary *datatypes.SessionSummary, attr datatypes.Attribution) (datatypes.ConversionRecord, error) {
	if summary == nil {
		return datatypes.ConversionRecord{}, fmt.Errorf("refusing to upsert conversion without a session summary")
	}

	now := m.clock.Now()
	confirmed := summary.ConfirmationSeen()
	engine := m.engine.Load()
	score := engine.Score(summary, confirmed, now)

	record := datatypes.ConversionRecord{
		ID:                          uuid.NewString(),
		SessionID:                   summary.SessionID,
		ConfidenceScore:             score,
		BookingConfirmationDetected: confirmed,
		EstimatedConversion:         engine.EstimatedConversion(score),
		ValidationState:             datatypes.ValidationPending,
		Attribution:                 attr,
		IframeInteractions:          summary.IframeInteractions,
		BookingPageTimeSeconds:      summary.BookingPageTimeSeconds,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}

	stored, err := m.store.UpsertPending(ctx, record)
	if err != nil {
		return datatypes.ConversionRecord{}, fmt.Errorf("upsert conversion for session %s: %w", summary.SessionID, err)
	}

	m.logger.Debug("conversion upserted",
		"sessionId", stored.SessionID,
		"score", stored.ConfidenceScore,
		"state", stored.ValidationState)
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.ConfidenceScore.Observe(score)
		observability.DefaultMetrics.ConversionUpsertsTotal.WithLabelValues(string(stored.ValidationState)).Inc()
	}
	m.notify(stored.SessionID)
	return stored, nil
}

// Get returns the session's conversion record.
func (m *Manager) Get(ctx context.Context, sessionID string) (datatypes.ConversionRecord, error) {
	record, err := m.store.GetConversion(ctx, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return datatypes.ConversionRecord{}, &NotFoundError{SessionID: sessionID}
		}
		return datatypes.ConversionRecord{}, err
	}
	return record, nil
}

// ListPendingAboveThreshold returns the validation queue: Pending records
// scoring at least minScore, newest first.
func (m *Manager) ListPendingAboveThreshold(ctx context.Context, minScore float64) ([]datatypes.ConversionRecord, error) {
	records, err := m.store.ListPendingAboveThreshold(ctx, minScore)
	if err != nil {
		return nil, fmt.Errorf("list pending conversions: %w", err)
	}
	return records, nil
}

func (m *Manager) notify(sessionID string) {
	if m.notifier != nil {
		m.notifier.Notify(TopicConversionRecords, sessionID)
	}
}
