// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package records

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
	"github.com/AleutianAI/ConversionPulse/services/conversion/storage"
)

// NotFoundError reports a validate/reject call against a session with no
// conversion record. This is a real operator-facing condition and is
// surfaced, unlike the silent degradation elsewhere in the pipeline.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no conversion record for session %s", e.SessionID)
}

// Unwrap ties the typed error to the storage sentinel so errors.Is works
// across layers.
func (e *NotFoundError) Unwrap() error { return storage.ErrNotFound }

// AlreadyFinalizedError reports a validate/reject call against a record
// that already left the Pending state. Finalization is terminal: the
// hard failure (rather than an idempotent no-op) makes the operator see
// they acted on a closed record.
type AlreadyFinalizedError struct {
	SessionID string
	State     datatypes.ValidationState
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("conversion record for session %s is already %s", e.SessionID, e.State)
}

func (e *AlreadyFinalizedError) Unwrap() error { return storage.ErrAlreadyFinalized }

// IsNotFound reports whether err is a missing-record condition.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// IsAlreadyFinalized reports whether err is a finalized-record condition.
func IsAlreadyFinalized(err error) bool {
	return errors.Is(err, storage.ErrAlreadyFinalized)
}
