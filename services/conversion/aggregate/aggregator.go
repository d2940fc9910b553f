// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package aggregate turns a session's raw interaction events into a
// SessionSummary.
//
// # Description
//
// Summaries are a read-side projection: they are recomputed from the
// event stream on every request (collapsed via singleflight when several
// callers ask for the same session at once) and are never stored as a
// source of truth.
//
// Events may arrive out of order, so all first/last computations sort by
// timestamp offset before use. Visually identical high-frequency events
// (scroll, resize) within the dedupe tolerance collapse to one occurrence;
// booking-confirmation events never collapse.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage"
)

// Config holds the aggregation windows and booking-page matcher.
type Config struct {
	// Window bounds how far back events are read. Zero selects 30m.
	Window time.Duration

	// ActiveWindow is the trailing window within which a session counts
	// as active. Zero selects 5m.
	ActiveWindow time.Duration

	// DedupeTolerance collapses identical high-frequency events arriving
	// within this interval. Zero selects 1s.
	DedupeTolerance time.Duration

	// BookingPagePath marks booking-page URLs by path prefix match.
	BookingPagePath string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 30 * time.Minute
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 5 * time.Minute
	}
	if c.DedupeTolerance <= 0 {
		c.DedupeTolerance = time.Second
	}
	if c.BookingPagePath == "" {
		c.BookingPagePath = "/book"
	}
	return c
}

// Aggregator computes session summaries from the event store.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Summarize calls for the same
// session share one store read and one computation.
type Aggregator struct {
	store  storage.EventStore
	config Config
	clock  Clock
	group  singleflight.Group
}

// New creates an Aggregator over store. A nil clock selects the system
// clock.
func New(store storage.EventStore, config Config, clock Clock) *Aggregator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Aggregator{store: store, config: config.withDefaults(), clock: clock}
}

// Summarize computes the summary for one session.
//
// # Outputs
//
//   - *datatypes.SessionSummary: Nil when the session has no events in the
//     window (a zero-event session is never materialized).
//   - error: Non-nil only on store read failure.
func (a *Aggregator) Summarize(ctx context.Context, sessionID string) (*datatypes.SessionSummary, error) {
	result, err, _ := a.group.Do(sessionID, func() (any, error) {
		// The flight's result is shared with every collapsed caller, so
		// cancellation of the caller that happened to win the flight must
		// not fail the read for its peers.
		fetchCtx := context.WithoutCancel(ctx)
		since := a.clock.Now().Add(-a.config.Window)
		events, err := a.store.EventsBySession(fetchCtx, sessionID, since)
		if err != nil {
			return nil, fmt.Errorf("fetch events for session %s: %w", sessionID, err)
		}
		return a.Compute(sessionID, events), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*datatypes.SessionSummary), nil
}

// Compute derives a summary from an already-fetched event slice.
//
// Exposed separately from Summarize so the computation is unit-testable
// against literal event slices with no store behind it. Returns nil for an
// empty slice.
func (a *Aggregator) Compute(sessionID string, events []storage.StoredEvent) *datatypes.SessionSummary {
	events = sanitize(events)
	if len(events) == 0 {
		return nil
	}

	// Arrival order is meaningless; offset order is the client's truth.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampOffsetMs < events[j].TimestampOffsetMs
	})

	deduped := a.dedupe(events)

	summary := &datatypes.SessionSummary{
		SessionID:    sessionID,
		CountsByType: make(map[datatypes.EventType]int),
	}

	pages := make(map[string]bool)
	var firstBookingMs, lastBookingMs int64 = -1, -1
	var lastRatio float64
	haveRatio := false

	for _, event := range deduped {
		summary.TotalEvents++
		summary.CountsByType[event.Type]++

		if event.PageURL != "" {
			pages[event.PageURL] = true
		}
		if a.onBookingPage(event.PageURL) {
			if firstBookingMs < 0 {
				firstBookingMs = event.TimestampOffsetMs
			}
			lastBookingMs = event.TimestampOffsetMs
		}
		if isIframeInteraction(event) {
			summary.IframeInteractions++
		}
		if event.IntersectionRatio != nil {
			ratio := *event.IntersectionRatio
			if ratio > summary.IframeVisibleRatioPeak {
				summary.IframeVisibleRatioPeak = ratio
			}
			lastRatio = ratio
			haveRatio = true
		}
	}

	summary.UniquePagesVisited = len(pages)
	summary.IframeVisible = haveRatio && lastRatio > 0
	for _, event := range deduped {
		if event.PageURL != "" {
			summary.LandingPageURL = event.PageURL
			break
		}
	}

	// Dwell is last minus first booking-page offset, floored at 0 to guard
	// against single-event sessions and client clock skew.
	if firstBookingMs >= 0 && lastBookingMs > firstBookingMs {
		summary.BookingPageTimeSeconds = int((lastBookingMs - firstBookingMs) / 1000)
	}

	// Map the max offset back to wall clock: the most stable session start
	// estimate across retried deliveries is the minimum receivedAt-offset.
	maxOffset := deduped[len(deduped)-1].TimestampOffsetMs
	start := deduped[0].ReceivedAt.Add(-time.Duration(deduped[0].TimestampOffsetMs) * time.Millisecond)
	for _, event := range deduped[1:] {
		candidate := event.ReceivedAt.Add(-time.Duration(event.TimestampOffsetMs) * time.Millisecond)
		if candidate.Before(start) {
			start = candidate
		}
	}
	summary.LastActivityAt = start.Add(time.Duration(maxOffset) * time.Millisecond)
	summary.IsActive = a.clock.Now().Sub(summary.LastActivityAt) < a.config.ActiveWindow

	return summary
}

// sanitize drops events with corrupted timestamps; they are excluded from
// the summary without failing the rest of the session.
func sanitize(events []storage.StoredEvent) []storage.StoredEvent {
	kept := events[:0:0]
	for _, event := range events {
		if event.TimestampOffsetMs < 0 || event.ReceivedAt.IsZero() {
			continue
		}
		kept = append(kept, event)
	}
	return kept
}

// dedupe collapses runs of identical high-frequency events within the
// tolerance. Events are offset-sorted on entry.
func (a *Aggregator) dedupe(events []storage.StoredEvent) []storage.StoredEvent {
	toleranceMs := a.config.DedupeTolerance.Milliseconds()
	lastKept := make(map[datatypes.EventType]int64)
	kept := events[:0:0]
	for _, event := range events {
		if datatypes.HighFrequencyTypes[event.Type] {
			if prev, seen := lastKept[event.Type]; seen && event.TimestampOffsetMs-prev < toleranceMs {
				continue
			}
			lastKept[event.Type] = event.TimestampOffsetMs
		}
		kept = append(kept, event)
	}
	return kept
}

func (a *Aggregator) onBookingPage(pageURL string) bool {
	if pageURL == "" {
		return false
	}
	return strings.Contains(pageURL, a.config.BookingPagePath)
}

// isIframeInteraction reports whether the event happened inside or around
// the booking iframe. Clicks and form submits carry an element selector
// targeting the iframe container; confirmations always count.
func isIframeInteraction(event storage.StoredEvent) bool {
	switch event.Type {
	case datatypes.EventBookingConfirmation, datatypes.EventFormSubmit:
		return true
	case datatypes.EventClick, datatypes.EventFocus:
		return strings.Contains(event.ElementSelector, "iframe") ||
			strings.Contains(event.ElementSelector, "booking")
	default:
		return false
	}
}
