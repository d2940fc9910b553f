// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// SessionSummary is the derived, read-side projection of a session's
// interaction events.
//
// # Description
//
// A summary is never persisted as a source of truth. It is recomputed from
// the raw event stream on demand (or on a polling interval) and is safe to
// discard at any time. A session with zero events has no summary.
//
// # Fields
//
//   - SessionID: The session this summary was computed for.
//   - LandingPageURL: Earliest observed page URL; attribution source.
//   - TotalEvents: Count of events after high-frequency dedupe.
//   - CountsByType: Per-type counts after dedupe.
//   - UniquePagesVisited: Number of distinct non-empty page URLs.
//   - BookingPageTimeSeconds: Dwell time between the first and last event on
//     the booking page, floored at 0.
//   - IframeInteractions: Events observed inside or around the booking iframe.
//   - IframeVisibleRatioPeak: Highest intersection ratio observed, 0..1.
//   - IframeVisible: Whether the iframe was visible at the last
//     visibility-change observation.
//   - LastActivityAt: Wall-clock time of the most recent event.
//   - IsActive: Activity within the trailing active window (default 5m).
type SessionSummary struct {
	SessionID              string            `json:"sessionId"`
	LandingPageURL         string            `json:"landingPageUrl,omitempty"`
	TotalEvents            int               `json:"totalEvents"`
	CountsByType           map[EventType]int `json:"countsByType"`
	UniquePagesVisited     int               `json:"uniquePagesVisited"`
	BookingPageTimeSeconds int               `json:"bookingPageTimeSeconds"`
	IframeInteractions     int               `json:"iframeInteractions"`
	IframeVisibleRatioPeak float64           `json:"iframeVisibleRatioPeak"`
	IframeVisible          bool              `json:"iframeVisible"`
	LastActivityAt         time.Time         `json:"lastActivityAt"`
	IsActive               bool              `json:"isActive"`
}

// Count returns the post-dedupe count for one event type.
func (s *SessionSummary) Count(t EventType) int {
	if s.CountsByType == nil {
		return 0
	}
	return s.CountsByType[t]
}

// ConfirmationSeen reports whether an explicit booking-confirmation event
// was observed for the session.
func (s *SessionSummary) ConfirmationSeen() bool {
	return s.Count(EventBookingConfirmation) > 0
}
