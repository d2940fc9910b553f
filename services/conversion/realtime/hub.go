// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package realtime pushes change notifications to dashboard consumers.
//
// # Description
//
// Publish/subscribe per logical topic. A notification does not carry the
// changed payload, only "something changed, re-fetch": consumers re-read
// the aggregated state through the normal query endpoints, so a dropped
// push is corrected by the polling fallback and no delivery guarantee is
// needed here.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// notification (counted, logged at debug). Dashboards poll on an interval
// as the correctness fallback, so best-effort is sufficient by design.
package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Notification is the re-fetch signal sent to subscribers.
type Notification struct {
	Topic     string    `json:"topic"`
	SessionID string    `json:"sessionId,omitempty"`
	At        time.Time `json:"at"`
}

// Subscriber is one consumer's buffered notification feed.
type Subscriber struct {
	topics map[string]bool
	ch     chan Notification
}

// C returns the subscriber's notification channel. The channel is closed
// on Unsubscribe.
func (s *Subscriber) C() <-chan Notification {
	return s.ch
}

// Hub fans notifications out to subscribers.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Hub struct {
	logger *slog.Logger
	onDrop func(topic string)

	mu   sync.Mutex
	subs map[*Subscriber]bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithOnDrop installs a hook invoked once per missed notification
// (metrics).
func WithOnDrop(hook func(topic string)) Option {
	return func(h *Hub) { h.onDrop = hook }
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger: logger,
		subs:   make(map[*Subscriber]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a consumer for the given topics. An empty topic list
// subscribes to everything.
func (h *Hub) Subscribe(topics ...string) *Subscriber {
	sub := &Subscriber{
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan Notification, 16),
	}
	for _, topic := range topics {
		sub.topics[topic] = true
	}
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if h.subs[sub] {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// SubscriberCount returns the number of attached consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Notify publishes a change signal for topic. Never blocks; subscribers
// with full buffers miss this notification and recover via polling.
func (h *Hub) Notify(topic string, sessionID string) {
	note := Notification{Topic: topic, SessionID: sessionID, At: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- note:
		default:
			if h.onDrop != nil {
				h.onDrop(topic)
			}
			h.logger.Debug("notification dropped for slow subscriber", "topic", topic)
		}
	}
}
