// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// Spool is a local BadgerDB journal for event batches that could not be
// written to the database.
//
// # Description
//
// Keys are "spool/<unix-nanos>/<uuid>" so iteration drains oldest batches
// first. Values are the JSON-encoded batch. The spool survives process
// restarts when backed by disk; tests use the in-memory mode.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Spool struct {
	db *badger.DB
}

// SpoolConfig holds spool construction options.
type SpoolConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence (tests).
	InMemory bool
}

// OpenSpool opens a spool at cfg.Path, or in memory.
func OpenSpool(cfg SpoolConfig) (*Spool, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("spool path is required for persistent spool")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil) // BadgerDB's own logging is noise here
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	return &Spool{db: db}, nil
}

// Close releases the underlying database.
func (p *Spool) Close() error {
	return p.db.Close()
}

// Add journals one batch.
func (p *Spool) Add(events []datatypes.InteractionEvent) error {
	value, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode spooled batch: %w", err)
	}
	key := fmt.Sprintf("spool/%020d/%s", time.Now().UnixNano(), uuid.NewString())
	err = p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("write spooled batch: %w", err)
	}
	return nil
}

// Len returns the number of journaled batches.
func (p *Spool) Len() int {
	count := 0
	_ = p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("spool/")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Drain replays journaled batches oldest-first through write, deleting
// each batch once write succeeds.
//
// # Description
//
// Stops at the first batch whose write fails and returns that error; the
// failing batch and everything behind it stay journaled for the next
// drain. A batch whose stored value no longer decodes is dropped with no
// error, since it can never succeed.
//
// # Outputs
//
//   - int: Number of batches successfully replayed.
//   - error: The write error that stopped the drain, or nil.
func (p *Spool) Drain(ctx context.Context, write func(context.Context, []datatypes.InteractionEvent) error) (int, error) {
	flushed := 0
	for {
		key, events, ok, err := p.oldest()
		if err != nil {
			return flushed, err
		}
		if !ok {
			return flushed, nil
		}
		if events != nil {
			if err := write(ctx, events); err != nil {
				return flushed, err
			}
			flushed++
		}
		if err := p.delete(key); err != nil {
			return flushed, err
		}
		if ctx.Err() != nil {
			return flushed, ctx.Err()
		}
	}
}

// oldest returns the first journaled batch. A corrupt value is reported
// with nil events so the caller deletes it.
func (p *Spool) oldest() (key []byte, events []datatypes.InteractionEvent, ok bool, err error) {
	err = p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("spool/")})
		defer it.Close()
		it.Rewind()
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		ok = true
		return item.Value(func(val []byte) error {
			if jsonErr := json.Unmarshal(val, &events); jsonErr != nil {
				events = nil
			}
			return nil
		})
	})
	return key, events, ok, err
}

func (p *Spool) delete(key []byte) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete spooled batch: %w", err)
	}
	return nil
}
