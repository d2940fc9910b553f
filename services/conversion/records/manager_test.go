// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package records

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/scoring"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage/sqlite"
)

var recordsNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ instant time.Time }

func (c *fixedClock) Now() time.Time { return c.instant }

// recordingNotifier collects published notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	topics []string
	ids    []string
}

func (n *recordingNotifier) Notify(topic, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
	n.ids = append(n.ids, sessionID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics)
}

func newTestManager(t *testing.T) (*Manager, *recordingNotifier, *fixedClock) {
	t.Helper()
	store, err := sqlite.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	clock := &fixedClock{instant: recordsNow}
	manager := NewManager(store, scoring.NewEngine(scoring.DefaultWeights()), nil,
		WithNotifier(notifier), WithClock(clock))
	return manager, notifier, clock
}

func engagedSummary(sessionID string) *datatypes.SessionSummary {
	return &datatypes.SessionSummary{
		SessionID:              sessionID,
		TotalEvents:            10,
		BookingPageTimeSeconds: 125,
		IframeInteractions:     3,
		IframeVisibleRatioPeak: 0.6,
		IframeVisible:          true,
		LastActivityAt:         recordsNow.Add(-10 * time.Second),
		CountsByType:           map[datatypes.EventType]int{datatypes.EventClick: 3},
	}
}

// TestUpsert_CreatesPendingRecord verifies first sight of a session creates
// a scored Pending record.
func TestUpsert_CreatesPendingRecord(t *testing.T) {
	manager, notifier, _ := newTestManager(t)

	record, err := manager.Upsert(context.Background(), engagedSummary("s1"), datatypes.Attribution{
		UTMSource: "google", UTMMedium: "cpc", UTMCampaign: "summer",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "s1", record.SessionID)
	assert.InDelta(t, 0.70, record.ConfidenceScore, 1e-9)
	assert.True(t, record.EstimatedConversion)
	assert.False(t, record.BookingConfirmationDetected)
	assert.Equal(t, datatypes.ValidationPending, record.ValidationState)
	assert.Equal(t, "google", record.Attribution.UTMSource)
	assert.Equal(t, 1, notifier.count())
}

// TestUpsert_NilSummaryRejected verifies a zero-event session can never
// materialize a record.
func TestUpsert_NilSummaryRejected(t *testing.T) {
	manager, notifier, _ := newTestManager(t)

	_, err := manager.Upsert(context.Background(), nil, datatypes.Attribution{})
	require.Error(t, err)
	assert.Equal(t, 0, notifier.count())

	pending, err := manager.ListPendingAboveThreshold(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestUpsert_ConfirmationForcesFullScore verifies an explicit confirmation
// jumps the stored score to 1.0 on the next upsert.
func TestUpsert_ConfirmationForcesFullScore(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)
	assert.Less(t, first.ConfidenceScore, 1.0)

	confirmed := engagedSummary("s1")
	confirmed.CountsByType[datatypes.EventBookingConfirmation] = 1

	second, err := manager.Upsert(ctx, confirmed, datatypes.Attribution{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, second.ConfidenceScore)
	assert.True(t, second.BookingConfirmationDetected)
	assert.True(t, second.EstimatedConversion)
}

// TestUpsert_RescoresWhilePending verifies repeated upserts update the score
// in place.
func TestUpsert_RescoresWhilePending(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	weak := &datatypes.SessionSummary{SessionID: "s1", TotalEvents: 1}
	first, err := manager.Upsert(ctx, weak, datatypes.Attribution{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.ConfidenceScore)
	assert.False(t, first.EstimatedConversion)

	second, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)
	assert.InDelta(t, 0.70, second.ConfidenceScore, 1e-9)

	pending, err := manager.ListPendingAboveThreshold(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// TestValidate_Finalizes verifies Pending -> Validated with notes.
func TestValidate_Finalizes(t *testing.T) {
	manager, notifier, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)

	record, err := manager.Validate(ctx, "s1", "guest called to confirm")
	require.NoError(t, err)

	assert.Equal(t, datatypes.ValidationValidated, record.ValidationState)
	assert.Equal(t, "guest called to confirm", record.ValidationNotes)
	require.NotNil(t, record.ValidatedAt)
	assert.Equal(t, recordsNow.UnixMilli(), record.ValidatedAt.UnixMilli())
	assert.Equal(t, 2, notifier.count(), "upsert and finalize each notify")
}

// TestReject_FreezesScore verifies the rejected scenario: a later upsert
// with a stronger summary does not change the stored score.
func TestReject_FreezesScore(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)

	rejected, err := manager.Reject(ctx, "s1", "browsed only")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ValidationRejected, rejected.ValidationState)
	assert.Equal(t, "browsed only", rejected.ValidationNotes)

	stronger := engagedSummary("s1")
	stronger.CountsByType[datatypes.EventBookingConfirmation] = 1
	after, err := manager.Upsert(ctx, stronger, datatypes.Attribution{})
	require.NoError(t, err)

	assert.InDelta(t, 0.70, after.ConfidenceScore, 1e-9, "finalized score must stay frozen")
	assert.Equal(t, datatypes.ValidationRejected, after.ValidationState)
}

// TestValidate_NotFound verifies the typed error for unknown sessions.
func TestValidate_NotFound(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.Validate(context.Background(), "ghost", "")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.SessionID)
}

// TestValidate_AlreadyFinalized verifies the typed error carries the current
// terminal state.
func TestValidate_AlreadyFinalized(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)
	_, err = manager.Reject(ctx, "s1", "")
	require.NoError(t, err)

	_, err = manager.Validate(ctx, "s1", "")
	require.Error(t, err)
	assert.True(t, IsAlreadyFinalized(err))

	var finalized *AlreadyFinalizedError
	require.ErrorAs(t, err, &finalized)
	assert.Equal(t, datatypes.ValidationRejected, finalized.State)
}

// TestGet_NotFound verifies lookup of an unknown session.
func TestGet_NotFound(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// TestListPendingAboveThreshold_Filters verifies the threshold applies.
func TestListPendingAboveThreshold_Filters(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Upsert(ctx, engagedSummary("strong"), datatypes.Attribution{})
	require.NoError(t, err)
	weak := &datatypes.SessionSummary{SessionID: "weak", TotalEvents: 1}
	_, err = manager.Upsert(ctx, weak, datatypes.Attribution{})
	require.NoError(t, err)

	pending, err := manager.ListPendingAboveThreshold(ctx, 0.5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "strong", pending[0].SessionID)
}

// TestSetEngine_HotReload verifies new weights apply to subsequent upserts
// without touching stored scores.
func TestSetEngine_HotReload(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	before, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)
	assert.InDelta(t, 0.70, before.ConfidenceScore, 1e-9)

	// Zero out every weight; the same summary now scores 0.
	manager.SetEngine(scoring.NewEngine(scoring.Weights{}))

	after, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, after.ConfidenceScore)
}

// TestSetEngine_ConcurrentWithUpsert verifies engine swaps are safe while
// upserts are in flight. Run with the race detector.
func TestSetEngine_ConcurrentWithUpsert(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			manager.SetEngine(scoring.NewEngine(scoring.DefaultWeights()))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := manager.Upsert(ctx, engagedSummary("s1"), datatypes.Attribution{})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	record, err := manager.Get(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 0.70, record.ConfidenceScore, 1e-9)
}
