// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// EventRecorder is the injected ingestion sink. Satisfied by sink.Sink.
type EventRecorder interface {
	Record(ctx context.Context, event datatypes.InteractionEvent) error
}

// DefaultThresholds are the intersection-ratio steps at which visibility
// changes are reported, mirroring a multi-threshold intersection observer.
var DefaultThresholds = []float64{0, 0.25, 0.5, 0.75, 1.0}

// Config holds Tracker tunables.
type Config struct {
	// ThrottleInterval coalesces scroll and resize observations to at
	// most one per interval. Zero selects 250ms.
	ThrottleInterval time.Duration

	// Thresholds are the visibility steps to report. Nil selects
	// DefaultThresholds.
	Thresholds []float64

	// QueueSize bounds the asynchronous delivery buffer. Zero selects 64.
	QueueSize int
}

// Tracker observes one session's signals and forwards typed events.
//
// # Description
//
// Every observation is stamped with the session's current offset and
// queued for asynchronous delivery; the caller never waits on the sink
// and never sees a sink error. Scroll and resize are throttled; a full
// delivery queue drops the event with a log line, except for
// booking-confirmation events, which are delivered synchronously because
// they are ground truth.
//
// # Cancellation
//
// Close tears down the delivery worker and waits for it to exit. After
// Close, observations are silently ignored; no timer, goroutine, or
// observer survives.
//
// # Thread Safety
//
// Safe for concurrent use.
type Tracker struct {
	session *SessionContext
	sink    EventRecorder
	logger  *slog.Logger
	now     func() time.Time

	scrollLimiter *rate.Limiter
	resizeLimiter *rate.Limiter
	thresholds    []float64

	mu        sync.Mutex
	lastRatio float64
	closed    bool

	queue  chan datatypes.InteractionEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow injects a clock (tests).
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker starts a tracker for session, delivering to recorder.
func NewTracker(session *SessionContext, recorder EventRecorder, cfg Config, logger *slog.Logger, opts ...Option) *Tracker {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = 250 * time.Millisecond
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		session:       session,
		sink:          recorder,
		logger:        logger,
		now:           time.Now,
		scrollLimiter: rate.NewLimiter(rate.Every(cfg.ThrottleInterval), 1),
		resizeLimiter: rate.NewLimiter(rate.Every(cfg.ThrottleInterval), 1),
		thresholds:    cfg.Thresholds,
		lastRatio:     -1,
		queue:         make(chan datatypes.InteractionEvent, cfg.QueueSize),
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.deliver(ctx)
	return t
}

// Close stops the delivery worker and waits for in-flight writes.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.queue)
	t.wg.Wait()
	t.cancel()
}

// ObservePageView records a navigation to pageURL.
func (t *Tracker) ObservePageView(pageURL string) {
	t.enqueue(t.newEvent(datatypes.EventPageView, pageURL))
}

// ObserveClick records a click at coords on the element described by
// selector/text.
func (t *Tracker) ObserveClick(pageURL, selector, text string, coords *datatypes.Coordinates) {
	event := t.newEvent(datatypes.EventClick, pageURL)
	event.ElementSelector = selector
	event.ElementText = text
	event.Coordinates = coords
	t.enqueue(event)
}

// ObserveScroll records a scroll, coalesced to the throttle interval.
func (t *Tracker) ObserveScroll(pageURL string) {
	if !t.scrollLimiter.Allow() {
		return
	}
	t.enqueue(t.newEvent(datatypes.EventScroll, pageURL))
}

// ObserveResize records a viewport resize, coalesced to the throttle
// interval.
func (t *Tracker) ObserveResize(pageURL string) {
	if !t.resizeLimiter.Allow() {
		return
	}
	t.enqueue(t.newEvent(datatypes.EventResize, pageURL))
}

// ObserveFocus records focus entering the page or iframe area.
func (t *Tracker) ObserveFocus(pageURL, selector string) {
	event := t.newEvent(datatypes.EventFocus, pageURL)
	event.ElementSelector = selector
	t.enqueue(event)
}

// ObserveBlur records focus leaving the page.
func (t *Tracker) ObserveBlur(pageURL string) {
	t.enqueue(t.newEvent(datatypes.EventBlur, pageURL))
}

// ObserveIntersection records the iframe's intersection ratio, emitting a
// visibility-change event only when the ratio crosses one of the
// configured thresholds since the last observation.
func (t *Tracker) ObserveIntersection(pageURL string, ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	t.mu.Lock()
	crossed := t.lastRatio < 0 || thresholdStep(t.thresholds, t.lastRatio) != thresholdStep(t.thresholds, ratio)
	if crossed {
		t.lastRatio = ratio
	}
	t.mu.Unlock()
	if !crossed {
		return
	}

	event := t.newEvent(datatypes.EventVisibilityChange, pageURL)
	r := ratio
	event.IntersectionRatio = &r
	t.enqueue(event)
}

// ObserveFormSubmit records a form submission inside the booking area.
func (t *Tracker) ObserveFormSubmit(pageURL, selector string) {
	event := t.newEvent(datatypes.EventFormSubmit, pageURL)
	event.ElementSelector = selector
	t.enqueue(event)
}

// ObserveBookingConfirmation forwards an externally detected booking
// confirmation. Delivered synchronously: this signal is ground truth and
// must not be lost to a full queue, though a sink failure is still only
// logged.
func (t *Tracker) ObserveBookingConfirmation(pageURL string, payload map[string]any) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	event := t.newEvent(datatypes.EventBookingConfirmation, pageURL)
	event.Payload = payload
	if err := t.sink.Record(context.Background(), event); err != nil {
		t.logger.Warn("booking confirmation write failed",
			"sessionId", t.session.SessionID, "error", err)
	}
}

func (t *Tracker) newEvent(eventType datatypes.EventType, pageURL string) datatypes.InteractionEvent {
	return datatypes.InteractionEvent{
		SessionID:         t.session.SessionID,
		Type:              eventType,
		TimestampOffsetMs: t.session.OffsetMs(t.now()),
		PageURL:           pageURL,
	}
}

// enqueue hands the event to the delivery worker without blocking. Lost
// tracking events are an acceptable degradation; the drop is logged and
// the caller continues.
func (t *Tracker) enqueue(event datatypes.InteractionEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	select {
	case t.queue <- event:
	default:
		t.logger.Debug("capture queue full, event dropped",
			"sessionId", t.session.SessionID, "type", event.Type)
	}
	t.mu.Unlock()
}

func (t *Tracker) deliver(ctx context.Context) {
	defer t.wg.Done()
	for event := range t.queue {
		if err := t.sink.Record(ctx, event); err != nil {
			// Capture never propagates write failures.
			t.logger.Warn("event delivery failed",
				"sessionId", t.session.SessionID, "type", event.Type, "error", err)
		}
	}
}

// thresholdStep returns the index of the highest threshold the ratio has
// reached.
func thresholdStep(thresholds []float64, ratio float64) int {
	step := -1
	for i, threshold := range thresholds {
		if ratio >= threshold {
			step = i
		}
	}
	return step
}
