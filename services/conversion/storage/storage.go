// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the persistence contract for the conversion
// pipeline and its error sentinels.
//
// Raw interaction events are append-only and exclusively owned by the
// ingestion sink; conversion records are keyed one-per-session and
// exclusively written by the record manager. Implementations must make
// UpsertPending safe under concurrent calls for the same session
// (last-write-wins on mutable fields is acceptable).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// ErrNotFound indicates no conversion record exists for the session.
var ErrNotFound = errors.New("conversion record not found")

// ErrAlreadyFinalized indicates the record left the Pending state and its
// mutable fields are frozen.
var ErrAlreadyFinalized = errors.New("conversion record already finalized")

// StoredEvent is an InteractionEvent together with its server-side arrival
// time. ReceivedAt is assigned on write and used to map timestamp offsets
// back to wall clock during aggregation.
type StoredEvent struct {
	datatypes.InteractionEvent
	ReceivedAt time.Time `json:"receivedAt"`
}

// EventStore appends and reads raw interaction events.
type EventStore interface {
	// InsertEvents appends a batch atomically. Events are validated before
	// the write; one invalid event rejects the whole batch.
	InsertEvents(ctx context.Context, events []datatypes.InteractionEvent) error

	// EventsBySession returns the session's events received at or after
	// since, in arrival order. Callers must not assume offset order.
	EventsBySession(ctx context.Context, sessionID string, since time.Time) ([]StoredEvent, error)

	// SessionsSince lists distinct session IDs with at least one event
	// received at or after since.
	SessionsSince(ctx context.Context, since time.Time) ([]string, error)
}

// ConversionStore owns the one-row-per-session conversion records.
type ConversionStore interface {
	// UpsertPending creates the record (Pending) or, when the stored row
	// is still Pending, updates its mutable fields. A finalized row is
	// left untouched and returned as-is; the call still succeeds.
	UpsertPending(ctx context.Context, record datatypes.ConversionRecord) (datatypes.ConversionRecord, error)

	// GetConversion returns the record for a session, or ErrNotFound.
	GetConversion(ctx context.Context, sessionID string) (datatypes.ConversionRecord, error)

	// Finalize transitions a Pending record to a terminal state. Returns
	// ErrNotFound when no record exists and ErrAlreadyFinalized when the
	// record already left Pending.
	Finalize(ctx context.Context, sessionID string, state datatypes.ValidationState, notes string, at time.Time) (datatypes.ConversionRecord, error)

	// ListPendingAboveThreshold returns Pending records with score >=
	// minScore, ordered by CreatedAt descending.
	ListPendingAboveThreshold(ctx context.Context, minScore float64) ([]datatypes.ConversionRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	EventStore
	ConversionStore
	Close() error
}
