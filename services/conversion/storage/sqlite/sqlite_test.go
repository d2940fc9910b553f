// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pendingRecord(sessionID string, score float64) datatypes.ConversionRecord {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	return datatypes.ConversionRecord{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		ConfidenceScore: score,
		ValidationState: datatypes.ValidationPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TestOpen_FileDatabase verifies a file-backed database opens and migrates.
func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	err = store.InsertEvents(context.Background(), []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventClick},
	})
	assert.NoError(t, err)
}

// TestInsertEvents_Roundtrip verifies stored events come back with all
// optional fields intact.
func TestInsertEvents_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ratio := 0.65
	event := datatypes.InteractionEvent{
		SessionID:         "s1",
		Type:              datatypes.EventClick,
		TimestampOffsetMs: 1500,
		PageURL:           "https://inn.example/book?utm_source=google",
		ElementSelector:   "#booking-iframe",
		ElementText:       "Reserve now",
		Coordinates:       &datatypes.Coordinates{X: 120, Y: 480},
		IntersectionRatio: &ratio,
		Payload:           map[string]any{"buttonId": "reserve"},
	}
	require.NoError(t, store.InsertEvents(ctx, []datatypes.InteractionEvent{event}))

	events, err := store.EventsBySession(ctx, "s1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, event.SessionID, got.SessionID)
	assert.Equal(t, event.Type, got.Type)
	assert.Equal(t, event.TimestampOffsetMs, got.TimestampOffsetMs)
	assert.Equal(t, event.PageURL, got.PageURL)
	assert.Equal(t, event.ElementSelector, got.ElementSelector)
	assert.Equal(t, event.ElementText, got.ElementText)
	require.NotNil(t, got.Coordinates)
	assert.Equal(t, *event.Coordinates, *got.Coordinates)
	require.NotNil(t, got.IntersectionRatio)
	assert.Equal(t, ratio, *got.IntersectionRatio)
	assert.Equal(t, "reserve", got.Payload["buttonId"])
	assert.False(t, got.ReceivedAt.IsZero())
}

// TestInsertEvents_MinimalEvent verifies optional fields survive as zero
// values rather than scan errors.
func TestInsertEvents_MinimalEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEvents(ctx, []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventScroll},
	}))

	events, err := store.EventsBySession(ctx, "s1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Coordinates)
	assert.Nil(t, events[0].IntersectionRatio)
	assert.Empty(t, events[0].ElementSelector)
}

// TestInsertEvents_InvalidRejectsBatch verifies one bad event rolls back the
// whole batch.
func TestInsertEvents_InvalidRejectsBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.InsertEvents(ctx, []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventClick},
		{SessionID: "s1", Type: "mouse-wiggle"},
	})
	require.Error(t, err)

	events, err := store.EventsBySession(ctx, "s1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events, "a rejected batch must write nothing")
}

// TestInsertEvents_EmptyBatch verifies an empty batch is a no-op.
func TestInsertEvents_EmptyBatch(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.InsertEvents(context.Background(), nil))
}

// TestEventsBySession_SinceFilter verifies the received-at lower bound.
func TestEventsBySession_SinceFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEvents(ctx, []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventClick},
	}))

	events, err := store.EventsBySession(ctx, "s1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

// TestSessionsSince verifies distinct session listing.
func TestSessionsSince(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEvents(ctx, []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventClick},
		{SessionID: "s1", Type: datatypes.EventScroll},
		{SessionID: "s2", Type: datatypes.EventPageView},
	}))

	sessions, err := store.SessionsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, sessions)
}

// TestUpsertPending_CreatesSingleRow verifies repeated upserts keep one row
// per session with the latest score.
func TestUpsertPending_CreatesSingleRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := pendingRecord("s1", 0.3)
	_, err := store.UpsertPending(ctx, first)
	require.NoError(t, err)

	second := pendingRecord("s1", 0.7)
	second.UpdatedAt = first.UpdatedAt.Add(time.Minute)
	stored, err := store.UpsertPending(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, 0.7, stored.ConfidenceScore)
	assert.Equal(t, datatypes.ValidationPending, stored.ValidationState)

	pending, err := store.ListPendingAboveThreshold(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "upsert must never create a second row")
}

// TestUpsertPending_UpdatedAtNeverRegresses verifies a late-arriving stale
// upsert cannot move updated_at backwards.
func TestUpsertPending_UpdatedAtNeverRegresses(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	fresh := pendingRecord("s1", 0.6)
	fresh.UpdatedAt = fresh.UpdatedAt.Add(time.Hour)
	_, err := store.UpsertPending(ctx, fresh)
	require.NoError(t, err)

	stale := pendingRecord("s1", 0.4)
	stored, err := store.UpsertPending(ctx, stale)
	require.NoError(t, err)

	assert.Equal(t, 0.4, stored.ConfidenceScore, "score is last-write-wins")
	assert.Equal(t, fresh.UpdatedAt.UnixMilli(), stored.UpdatedAt.UnixMilli(),
		"updated_at must keep the max value seen")
}

// TestUpsertPending_FinalizedRowFrozen verifies an upsert after finalization
// changes nothing and still succeeds.
func TestUpsertPending_FinalizedRowFrozen(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	original := pendingRecord("s1", 0.7)
	_, err := store.UpsertPending(ctx, original)
	require.NoError(t, err)

	_, err = store.Finalize(ctx, "s1", datatypes.ValidationRejected, "browsed only", time.Now())
	require.NoError(t, err)

	higher := pendingRecord("s1", 0.95)
	stored, err := store.UpsertPending(ctx, higher)
	require.NoError(t, err, "upsert against a finalized row must not error")

	assert.Equal(t, 0.7, stored.ConfidenceScore, "finalized score is frozen")
	assert.Equal(t, datatypes.ValidationRejected, stored.ValidationState)
	assert.Equal(t, "browsed only", stored.ValidationNotes)
}

// TestGetConversion_NotFound verifies the sentinel for unknown sessions.
func TestGetConversion_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetConversion(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestFinalize_Validate verifies the Pending -> Validated transition.
func TestFinalize_Validate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPending(ctx, pendingRecord("s1", 0.8))
	require.NoError(t, err)

	at := time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)
	record, err := store.Finalize(ctx, "s1", datatypes.ValidationValidated, "phone confirmed", at)
	require.NoError(t, err)

	assert.Equal(t, datatypes.ValidationValidated, record.ValidationState)
	assert.Equal(t, "phone confirmed", record.ValidationNotes)
	require.NotNil(t, record.ValidatedAt)
	assert.Equal(t, at.UnixMilli(), record.ValidatedAt.UnixMilli())
	assert.Equal(t, 0.8, record.ConfidenceScore, "finalization freezes, not clears, the score")
}

// TestFinalize_NotFound verifies finalizing an unknown session.
func TestFinalize_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Finalize(context.Background(), "ghost", datatypes.ValidationValidated, "", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestFinalize_AlreadyFinalized verifies the terminal states reject a second
// transition.
func TestFinalize_AlreadyFinalized(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPending(ctx, pendingRecord("s1", 0.8))
	require.NoError(t, err)
	_, err = store.Finalize(ctx, "s1", datatypes.ValidationValidated, "", time.Now())
	require.NoError(t, err)

	_, err = store.Finalize(ctx, "s1", datatypes.ValidationRejected, "", time.Now())
	assert.ErrorIs(t, err, storage.ErrAlreadyFinalized)
}

// TestListPendingAboveThreshold verifies score filtering and newest-first
// ordering, with finalized records excluded.
func TestListPendingAboveThreshold(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := pendingRecord("s1", 0.9)
	newer := pendingRecord("s2", 0.6)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)
	low := pendingRecord("s3", 0.2)
	finalized := pendingRecord("s4", 0.95)

	for _, r := range []datatypes.ConversionRecord{older, newer, low, finalized} {
		_, err := store.UpsertPending(ctx, r)
		require.NoError(t, err)
	}
	_, err := store.Finalize(ctx, "s4", datatypes.ValidationValidated, "", time.Now())
	require.NoError(t, err)

	pending, err := store.ListPendingAboveThreshold(ctx, 0.5)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "s2", pending[0].SessionID, "newest created first")
	assert.Equal(t, "s1", pending[1].SessionID)
}
