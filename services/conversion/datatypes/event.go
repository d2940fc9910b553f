// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and storage types shared by the
// conversion pipeline: interaction events, session summaries, conversion
// records, and UTM attribution.
//
// Field names on the JSON tags are the contract other components honor.
// One InteractionEvent row is stored per observed browser signal; one
// ConversionRecord row is stored per session.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// EventType classifies an observed browser-side signal.
type EventType string

const (
	EventClick               EventType = "click"
	EventScroll              EventType = "scroll"
	EventFocus               EventType = "focus"
	EventBlur                EventType = "blur"
	EventResize              EventType = "resize"
	EventVisibilityChange    EventType = "visibility-change"
	EventBookingConfirmation EventType = "booking-confirmation"
	EventFormSubmit          EventType = "form-submit"
	EventPageView            EventType = "page-view"
)

// ValidEventTypes is the closed set of accepted event types.
// Ingestion rejects anything outside this set.
var ValidEventTypes = map[EventType]bool{
	EventClick:               true,
	EventScroll:              true,
	EventFocus:               true,
	EventBlur:                true,
	EventResize:              true,
	EventVisibilityChange:    true,
	EventBookingConfirmation: true,
	EventFormSubmit:          true,
	EventPageView:            true,
}

// HighFrequencyTypes are event types the aggregator is allowed to collapse
// when near-duplicates arrive within the debounce tolerance. Booking
// confirmations are never in this set.
var HighFrequencyTypes = map[EventType]bool{
	EventScroll: true,
	EventResize: true,
}

// Coordinates is an optional click/tap position in page pixels.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InteractionEvent is one normalized browser signal.
//
// # Description
//
// Events are produced client-side with a timestamp offset relative to the
// session's tracking start (not wall clock), which keeps duration math
// immune to client clock skew. A single client emits offsets that are
// monotonically non-decreasing, but ingestion tolerates out-of-order
// arrival caused by network retries; nothing downstream may assume strict
// ordering.
//
// # Validation
//
// SessionID and Type are required; everything else is optional.
// IntersectionRatio, when present, must be within [0,1].
type InteractionEvent struct {
	SessionID         string         `json:"sessionId" validate:"required"`
	Type              EventType      `json:"type" validate:"required,eventtype"`
	TimestampOffsetMs int64          `json:"timestampOffsetMs" validate:"gte=0"`
	PageURL           string         `json:"pageUrl"`
	ElementSelector   string         `json:"elementSelector,omitempty"`
	ElementText       string         `json:"elementText,omitempty"`
	Coordinates       *Coordinates   `json:"coordinates,omitempty"`
	IntersectionRatio *float64       `json:"intersectionRatio,omitempty" validate:"omitempty,gte=0,lte=1"`
	Payload           map[string]any `json:"payload,omitempty"`
}

// Batch is the ingestion request body: one or more events from the same page.
type Batch struct {
	Events []InteractionEvent `json:"events" validate:"required,min=1,dive"`
}

// eventValidate is the validator instance for event datatypes.
// Initialized in init() with custom validators.
var eventValidate *validator.Validate

func init() {
	eventValidate = validator.New()
	_ = eventValidate.RegisterValidation("eventtype", validateEventType)
}

// validateEventType enforces membership in ValidEventTypes.
func validateEventType(fl validator.FieldLevel) bool {
	return ValidEventTypes[EventType(fl.Field().String())]
}

// Validate checks the event against its struct tags and the event type
// whitelist.
//
// # Outputs
//
//   - error: Non-nil with a field-level description if the event is invalid.
func (e *InteractionEvent) Validate() error {
	if err := eventValidate.Struct(e); err != nil {
		return fmt.Errorf("invalid interaction event: %w", err)
	}
	return nil
}

// Validate checks the batch and every contained event.
func (b *Batch) Validate() error {
	if err := eventValidate.Struct(b); err != nil {
		return fmt.Errorf("invalid event batch: %w", err)
	}
	return nil
}
