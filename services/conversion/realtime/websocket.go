// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 5 * time.Second

	// pingPeriod keeps intermediaries from closing idle dashboards.
	pingPeriod = 30 * time.Second
)

// ServeConn streams hub notifications for the given topics over an
// upgraded websocket connection until the client disconnects or ctx is
// cancelled.
//
// # Description
//
// The connection receives one JSON Notification per change plus periodic
// pings. Reads from the client are drained and discarded (the dashboard
// feed is one-way); a read error is how client disconnect is detected.
// The subscriber is always detached before returning, so no feed leaks
// across dashboard navigations.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, topics []string) {
	sub := h.Subscribe(topics...)
	defer h.Unsubscribe(sub)
	defer conn.Close()

	// Reader goroutine: detect disconnect, discard inbound frames.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			h.logger.Debug("dashboard websocket disconnected")
			return
		case note, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(note); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
