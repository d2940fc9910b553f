// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sqlite implements storage.Store on a CGO-free SQLite database.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// request handlers do not trip "database is locked". An empty path selects
// an in-memory database, which the tests use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite driver

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage"
)

// Store implements storage.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open creates (or opens) the database at path and ensures the schema.
//
// # Inputs
//
//   - path: Database file. Empty selects a shared in-memory database.
//
// # Outputs
//
//   - *Store: Ready for use. Caller must Close.
//   - error: Non-nil if the database cannot be opened or migrated.
func Open(path string) (*Store, error) {
	// WAL + busy timeout to avoid "database is locked" under concurrency.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == "" {
		// Unique name per open so parallel tests get isolated databases;
		// shared cache keeps all pooled connections on the same instance.
		dsn = fmt.Sprintf("file:mem_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS interaction_events(
	  id                 INTEGER PRIMARY KEY,
	  session_id         TEXT    NOT NULL,
	  type               TEXT    NOT NULL CHECK (type IN (
	    'click','scroll','focus','blur','resize','visibility-change',
	    'booking-confirmation','form-submit','page-view')),
	  ts_offset_ms       INTEGER NOT NULL,
	  page_url           TEXT    NOT NULL DEFAULT '',
	  element_selector   TEXT,
	  element_text       TEXT,
	  coord_x            INTEGER,
	  coord_y            INTEGER,
	  intersection_ratio REAL,
	  payload_json       TEXT    NOT NULL DEFAULT '{}' CHECK (json_valid(payload_json)),
	  received_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session  ON interaction_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_received ON interaction_events(received_at);
	CREATE INDEX IF NOT EXISTS idx_events_type     ON interaction_events(type);

	CREATE TABLE IF NOT EXISTS conversion_records(
	  session_id                    TEXT PRIMARY KEY,
	  id                            TEXT NOT NULL,
	  confidence_score              REAL NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	  booking_confirmation_detected INTEGER NOT NULL DEFAULT 0,
	  estimated_conversion          INTEGER NOT NULL DEFAULT 0,
	  validation_state              TEXT NOT NULL CHECK (validation_state IN ('pending','validated','rejected')),
	  validation_notes              TEXT NOT NULL DEFAULT '',
	  validated_at                  INTEGER,
	  utm_source                    TEXT NOT NULL DEFAULT '',
	  utm_medium                    TEXT NOT NULL DEFAULT '',
	  utm_campaign                  TEXT NOT NULL DEFAULT '',
	  iframe_interactions           INTEGER NOT NULL DEFAULT 0,
	  booking_page_time_seconds     INTEGER NOT NULL DEFAULT 0,
	  created_at                    INTEGER NOT NULL,
	  updated_at                    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversions_state_score
	  ON conversion_records(validation_state, confidence_score);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvents appends a batch of events in one transaction.
func (s *Store) InsertEvents(ctx context.Context, events []datatypes.InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO interaction_events(
	  session_id, type, ts_offset_ms, page_url, element_selector, element_text,
	  coord_x, coord_y, intersection_ratio, payload_json, received_at)
	  VALUES(?,?,?,?,?,?,?,?,?,json(?),?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, event := range events {
		if err := event.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		payload := event.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal event payload: %w", err)
		}
		var coordX, coordY any
		if event.Coordinates != nil {
			coordX, coordY = event.Coordinates.X, event.Coordinates.Y
		}
		if _, err := stmt.ExecContext(ctx,
			event.SessionID, string(event.Type), event.TimestampOffsetMs,
			event.PageURL, nullable(event.ElementSelector), nullable(event.ElementText),
			coordX, coordY, event.IntersectionRatio, string(payloadJSON), now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EventsBySession returns the session's events in arrival order.
func (s *Store) EventsBySession(ctx context.Context, sessionID string, since time.Time) ([]storage.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
	  session_id, type, ts_offset_ms, page_url, element_selector, element_text,
	  coord_x, coord_y, intersection_ratio, payload_json, received_at
	  FROM interaction_events
	  WHERE session_id = ? AND received_at >= ?
	  ORDER BY id ASC`, sessionID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []storage.StoredEvent
	for rows.Next() {
		var (
			event          storage.StoredEvent
			eventType      string
			selector, text sql.NullString
			coordX, coordY sql.NullInt64
			ratio          sql.NullFloat64
			payloadJSON    string
			receivedAt     int64
		)
		if err := rows.Scan(&event.SessionID, &eventType, &event.TimestampOffsetMs,
			&event.PageURL, &selector, &text, &coordX, &coordY, &ratio,
			&payloadJSON, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = datatypes.EventType(eventType)
		event.ElementSelector = selector.String
		event.ElementText = text.String
		if coordX.Valid && coordY.Valid {
			event.Coordinates = &datatypes.Coordinates{X: int(coordX.Int64), Y: int(coordY.Int64)}
		}
		if ratio.Valid {
			r := ratio.Float64
			event.IntersectionRatio = &r
		}
		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			// Corrupted payloads are dropped, not fatal to the session.
			event.Payload = nil
		}
		event.ReceivedAt = time.UnixMilli(receivedAt)
		events = append(events, event)
	}
	return events, rows.Err()
}

// SessionsSince lists sessions with activity at or after since.
func (s *Store) SessionsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM interaction_events WHERE received_at >= ?`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// UpsertPending inserts the record or updates it while it is still Pending.
//
// The conflict clause guards on validation_state so a finalized row is a
// no-op: concurrent upserts for the same session are therefore safe with
// last-write-wins on the mutable fields.
func (s *Store) UpsertPending(ctx context.Context, record datatypes.ConversionRecord) (datatypes.ConversionRecord, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversion_records(
	  session_id, id, confidence_score, booking_confirmation_detected,
	  estimated_conversion, validation_state, validation_notes, validated_at,
	  utm_source, utm_medium, utm_campaign, iframe_interactions,
	  booking_page_time_seconds, created_at, updated_at)
	  VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	  ON CONFLICT(session_id) DO UPDATE SET
	    confidence_score              = excluded.confidence_score,
	    booking_confirmation_detected = excluded.booking_confirmation_detected,
	    estimated_conversion          = excluded.estimated_conversion,
	    utm_source                    = excluded.utm_source,
	    utm_medium                    = excluded.utm_medium,
	    utm_campaign                  = excluded.utm_campaign,
	    iframe_interactions           = excluded.iframe_interactions,
	    booking_page_time_seconds     = excluded.booking_page_time_seconds,
	    updated_at                    = MAX(conversion_records.updated_at, excluded.updated_at)
	  WHERE conversion_records.validation_state = 'pending'`,
		record.SessionID, record.ID, record.ConfidenceScore,
		boolInt(record.BookingConfirmationDetected), boolInt(record.EstimatedConversion),
		string(datatypes.ValidationPending), record.ValidationNotes, nil,
		record.Attribution.UTMSource, record.Attribution.UTMMedium, record.Attribution.UTMCampaign,
		record.IframeInteractions, record.BookingPageTimeSeconds,
		record.CreatedAt.UnixMilli(), record.UpdatedAt.UnixMilli())
	if err != nil {
		return datatypes.ConversionRecord{}, fmt.Errorf("upsert conversion: %w", err)
	}
	return s.GetConversion(ctx, record.SessionID)
}

// GetConversion returns the record for a session.
func (s *Store) GetConversion(ctx context.Context, sessionID string) (datatypes.ConversionRecord, error) {
	row := s.db.QueryRowContext(ctx, selectConversion+` WHERE session_id = ?`, sessionID)
	record, err := scanConversion(row)
	if err == sql.ErrNoRows {
		return datatypes.ConversionRecord{}, storage.ErrNotFound
	}
	return record, err
}

// Finalize moves a Pending record to a terminal state.
func (s *Store) Finalize(ctx context.Context, sessionID string, state datatypes.ValidationState, notes string, at time.Time) (datatypes.ConversionRecord, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE conversion_records SET
	  validation_state = ?, validation_notes = ?, validated_at = ?, updated_at = ?
	  WHERE session_id = ? AND validation_state = 'pending'`,
		string(state), notes, at.UnixMilli(), at.UnixMilli(), sessionID)
	if err != nil {
		return datatypes.ConversionRecord{}, fmt.Errorf("finalize conversion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return datatypes.ConversionRecord{}, fmt.Errorf("finalize conversion: %w", err)
	}
	if affected == 0 {
		// Either the record is missing or it already left Pending.
		if _, getErr := s.GetConversion(ctx, sessionID); getErr != nil {
			return datatypes.ConversionRecord{}, getErr
		}
		return datatypes.ConversionRecord{}, storage.ErrAlreadyFinalized
	}
	return s.GetConversion(ctx, sessionID)
}

// ListPendingAboveThreshold returns the validation queue, newest first.
func (s *Store) ListPendingAboveThreshold(ctx context.Context, minScore float64) ([]datatypes.ConversionRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectConversion+`
	  WHERE validation_state = 'pending' AND confidence_score >= ?
	  ORDER BY created_at DESC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("query pending conversions: %w", err)
	}
	defer rows.Close()

	var records []datatypes.ConversionRecord
	for rows.Next() {
		record, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const selectConversion = `SELECT
  session_id, id, confidence_score, booking_confirmation_detected,
  estimated_conversion, validation_state, validation_notes, validated_at,
  utm_source, utm_medium, utm_campaign, iframe_interactions,
  booking_page_time_seconds, created_at, updated_at
  FROM conversion_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversion(row rowScanner) (datatypes.ConversionRecord, error) {
	var (
		record               datatypes.ConversionRecord
		state                string
		confirmed, estimated int
		validatedAt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&record.SessionID, &record.ID, &record.ConfidenceScore,
		&confirmed, &estimated, &state, &record.ValidationNotes, &validatedAt,
		&record.Attribution.UTMSource, &record.Attribution.UTMMedium,
		&record.Attribution.UTMCampaign, &record.IframeInteractions,
		&record.BookingPageTimeSeconds, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return record, err
		}
		return record, fmt.Errorf("scan conversion: %w", err)
	}
	record.BookingConfirmationDetected = confirmed != 0
	record.EstimatedConversion = estimated != 0
	record.ValidationState = datatypes.ValidationState(state)
	if validatedAt.Valid {
		t := time.UnixMilli(validatedAt.Int64)
		record.ValidatedAt = &t
	}
	record.CreatedAt = time.UnixMilli(createdAt)
	record.UpdatedAt = time.UnixMilli(updatedAt)
	return record, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
