// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// ValidationState is the human-validation status of a conversion record.
//
// The state machine is Pending -> {Validated, Rejected}; both successor
// states are terminal and only the validation workflow may transition a
// record. A finalized record's score is frozen as a historical fact.
type ValidationState string

const (
	ValidationPending   ValidationState = "pending"
	ValidationValidated ValidationState = "validated"
	ValidationRejected  ValidationState = "rejected"
)

// Terminal reports whether the state permits no further transitions.
func (s ValidationState) Terminal() bool {
	return s == ValidationValidated || s == ValidationRejected
}

// Attribution is UTM-derived marketing channel metadata for a session.
type Attribution struct {
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
}

// Empty reports whether no UTM parameter was present.
func (a Attribution) Empty() bool {
	return a.UTMSource == "" && a.UTMMedium == "" && a.UTMCampaign == ""
}

// ConversionRecord is the persisted, per-session outcome of scoring plus
// its human-validation status. Exactly one record exists per session.
//
// # Invariants
//
//   - ValidationState starts Pending and transitions only via the validation
//     workflow; it is never reverted automatically.
//   - ConfidenceScore may be recomputed (and UpdatedAt bumped) only while
//     ValidationState == Pending. Once Validated or Rejected the mutable
//     fields are frozen.
//   - BookingConfirmationDetected is true only if an explicit confirmation
//     signal was observed, independent of the heuristic score.
type ConversionRecord struct {
	ID                          string          `json:"id"`
	SessionID                   string          `json:"sessionId"`
	ConfidenceScore             float64         `json:"confidenceScore"`
	BookingConfirmationDetected bool            `json:"bookingConfirmationDetected"`
	EstimatedConversion         bool            `json:"estimatedConversion"`
	ValidationState             ValidationState `json:"validationState"`
	ValidationNotes             string          `json:"validationNotes,omitempty"`
	ValidatedAt                 *time.Time      `json:"validatedAt,omitempty"`
	Attribution                 Attribution     `json:"attribution"`
	IframeInteractions          int             `json:"iframeInteractions"`
	BookingPageTimeSeconds      int             `json:"bookingPageTimeSeconds"`
	CreatedAt                   time.Time       `json:"createdAt"`
	UpdatedAt                   time.Time       `json:"updatedAt"`
}
