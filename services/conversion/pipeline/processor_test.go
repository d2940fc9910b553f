// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ConversionPulse/services/conversion/aggregate"
	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/records"
	"github.com/AleutianAI/ConversionPulse/services/conversion/scoring"
	"github.com/AleutianAI/ConversionPulse/services/conversion/sink"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage/sqlite"
)

// newTestPipeline wires a real store, sink, aggregator and manager.
func newTestPipeline(t *testing.T) (*Processor, *sink.Sink, *records.Manager) {
	t.Helper()
	store, err := sqlite.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eventSink := sink.New(store, nil)
	aggregator := aggregate.New(store, aggregate.Config{}, nil)
	manager := records.NewManager(store, scoring.NewEngine(scoring.DefaultWeights()), nil)
	return NewProcessor(aggregator, manager, nil), eventSink, manager
}

// TestProcessSession_EndToEnd verifies events flow through aggregation into
// a scored pending record with attribution.
func TestProcessSession_EndToEnd(t *testing.T) {
	processor, eventSink, manager := newTestPipeline(t)
	ctx := context.Background()

	landing := "https://inn.example/?utm_source=google&utm_campaign=summer"
	require.NoError(t, eventSink.RecordBatch(ctx, []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventPageView, TimestampOffsetMs: 0, PageURL: landing},
		{SessionID: "s1", Type: datatypes.EventClick, TimestampOffsetMs: 5000,
			PageURL: "https://inn.example/book", ElementSelector: "#booking-iframe"},
		{SessionID: "s1", Type: datatypes.EventClick, TimestampOffsetMs: 70_000,
			PageURL: "https://inn.example/book", ElementSelector: "#booking-iframe"},
	}))

	summary := processor.ProcessSession(ctx, "s1")
	require.NotNil(t, summary)
	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, landing, summary.LandingPageURL)

	record, err := manager.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ValidationPending, record.ValidationState)
	assert.Equal(t, "google", record.Attribution.UTMSource)
	assert.Equal(t, "summer", record.Attribution.UTMCampaign)
	assert.Equal(t, 2, record.IframeInteractions)
	assert.Greater(t, record.ConfidenceScore, 0.0)
}

// TestProcessSession_NoEventsSkipped verifies a zero-event session creates
// nothing.
func TestProcessSession_NoEventsSkipped(t *testing.T) {
	processor, _, manager := newTestPipeline(t)
	ctx := context.Background()

	assert.Nil(t, processor.ProcessSession(ctx, "ghost"))

	_, err := manager.Get(ctx, "ghost")
	assert.True(t, records.IsNotFound(err))

	pending, err := manager.ListPendingAboveThreshold(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestProcessSessions_DedupsIDs verifies repeated ids in one batch are
// processed once without error.
func TestProcessSessions_DedupsIDs(t *testing.T) {
	processor, eventSink, manager := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, eventSink.RecordBatch(ctx, []datatypes.InteractionEvent{
		{SessionID: "s1", Type: datatypes.EventClick, PageURL: "https://inn.example/"},
		{SessionID: "s2", Type: datatypes.EventClick, PageURL: "https://inn.example/"},
	}))

	processor.ProcessSessions(ctx, []string{"s1", "s1", "s2", "s1"})

	pending, err := manager.ListPendingAboveThreshold(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
