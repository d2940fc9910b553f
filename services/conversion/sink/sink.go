// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sink is the append-only ingestion path for interaction events.
//
// # Description
//
// The sink is strictly append: no read-modify-write ever happens here.
// Tracking is best-effort diagnostics, so a write failure must never
// propagate to the page that produced the event. When the database is
// unreachable the sink journals the batch to a local BadgerDB spool and a
// background loop re-flushes it; when no spool is configured the batch is
// logged and dropped.
//
// Every accepted batch triggers a change notification on the
// interaction-events topic so dashboards can re-fetch.
package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage"
)

// Notifier receives a "something changed, re-fetch" signal per topic.
// Satisfied by realtime.Hub.
type Notifier interface {
	Notify(topic string, sessionID string)
}

// TopicInteractionEvents is the change topic published on every accepted
// batch.
const TopicInteractionEvents = "interaction-events"

// Sink appends interaction events to the event store.
//
// # Thread Safety
//
// Safe for concurrent use; the store and spool carry their own locking.
type Sink struct {
	store    storage.EventStore
	spool    *Spool
	notifier Notifier
	logger   *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithSpool attaches a durability spool for failed writes.
func WithSpool(spool *Spool) Option {
	return func(s *Sink) { s.spool = spool }
}

// WithNotifier attaches a change notifier.
func WithNotifier(notifier Notifier) Option {
	return func(s *Sink) { s.notifier = notifier }
}

// New creates a Sink writing to store.
func New(store storage.EventStore, logger *slog.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a single event. See RecordBatch.
func (s *Sink) Record(ctx context.Context, event datatypes.InteractionEvent) error {
	return s.RecordBatch(ctx, []datatypes.InteractionEvent{event})
}

// RecordBatch appends a batch of events.
//
// # Description
//
// Validation failures are returned to the caller (a malformed batch is a
// client bug worth surfacing at the HTTP layer). Store failures are not:
// the batch is spooled when possible, logged otherwise, and nil is
// returned either way, because losing a tracking event is an acceptable
// degradation rather than a user-facing error.
//
// # Inputs
//
//   - ctx: Bounds the store write.
//   - events: Events to append. SessionID and Type are required per event.
//
// # Outputs
//
//   - error: Non-nil only for validation failures.
func (s *Sink) RecordBatch(ctx context.Context, events []datatypes.InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return err
		}
	}

	if err := s.store.InsertEvents(ctx, events); err != nil {
		s.logger.Warn("event write failed", "events", len(events), "error", err)
		if s.spool != nil {
			if spoolErr := s.spool.Add(events); spoolErr != nil {
				s.logger.Error("event batch dropped: spool write failed",
					"events", len(events), "error", spoolErr)
			}
		}
		return nil
	}

	s.publish(events)
	return nil
}

// FlushSpool retries spooled batches against the store. Batches that still
// fail stay in the spool for the next pass.
func (s *Sink) FlushSpool(ctx context.Context) {
	if s.spool == nil {
		return
	}
	flushed, err := s.spool.Drain(ctx, func(ctx context.Context, events []datatypes.InteractionEvent) error {
		if err := s.store.InsertEvents(ctx, events); err != nil {
			return err
		}
		s.publish(events)
		return nil
	})
	if err != nil {
		s.logger.Warn("spool flush incomplete", "flushed", flushed, "error", err)
		return
	}
	if flushed > 0 {
		s.logger.Info("spool flushed", "batches", flushed)
	}
}

// RunSpoolLoop flushes the spool on interval until ctx is cancelled.
func (s *Sink) RunSpoolLoop(ctx context.Context, interval time.Duration) {
	if s.spool == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FlushSpool(ctx)
		}
	}
}

func (s *Sink) publish(events []datatypes.InteractionEvent) {
	if s.notifier == nil {
		return
	}
	seen := make(map[string]bool, 1)
	for _, event := range events {
		if !seen[event.SessionID] {
			seen[event.SessionID] = true
			s.notifier.Notify(TopicInteractionEvents, event.SessionID)
		}
	}
}
