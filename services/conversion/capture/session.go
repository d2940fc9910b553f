// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package capture normalizes raw page signals into typed interaction
// events and forwards them to the ingestion sink.
//
// # Description
//
// The capture layer is the producer side of the pipeline: one Tracker per
// browsing session, observing clicks, scrolls, focus changes, viewport
// resizes, and iframe intersection-ratio changes. Signals become
// InteractionEvents stamped with an offset from the session's tracking
// start, then flow asynchronously to the sink so observation never blocks
// the caller.
//
// Session identity is an explicit SessionContext value threaded through
// every call, created once when tracking starts; nothing here re-derives
// identity from ambient state.
package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ConversionPulse/services/conversion/attribution"
	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// SessionContext identifies one continuous browsing visit.
//
// Created once when tracking starts and passed explicitly to every
// capture and ingestion call for the session's lifetime.
type SessionContext struct {
	// SessionID is the opaque, client-stable session identifier.
	SessionID string

	// StartedAt is the tracking start; event offsets are measured from it.
	StartedAt time.Time

	// LandingURL is the first page of the visit.
	LandingURL string

	// Attribution is parsed from the landing URL at session creation.
	Attribution datatypes.Attribution
}

// NewSessionContext starts a session at now for the given landing URL.
func NewSessionContext(landingURL string, now time.Time) *SessionContext {
	return &SessionContext{
		SessionID:   uuid.NewString(),
		StartedAt:   now,
		LandingURL:  landingURL,
		Attribution: attribution.ParseAttribution(landingURL),
	}
}

// ResumeSessionContext rebuilds a context for a session the client
// already holds an identifier for (page navigations within one visit).
func ResumeSessionContext(sessionID, landingURL string, startedAt time.Time) *SessionContext {
	return &SessionContext{
		SessionID:   sessionID,
		StartedAt:   startedAt,
		LandingURL:  landingURL,
		Attribution: attribution.ParseAttribution(landingURL),
	}
}

// OffsetMs returns the event offset for an observation at t, floored at 0
// to guard against clock adjustments during the visit.
func (s *SessionContext) OffsetMs(t time.Time) int64 {
	offset := t.Sub(s.StartedAt).Milliseconds()
	if offset < 0 {
		return 0
	}
	return offset
}
