// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package records

import (
	"context"
	"fmt"

	"github.com/AleutianAI/ConversionPulse/services/conversion/datatypes"
)

// Validate confirms a Pending conversion record as a real booking.
//
// # Description
//
// Human-in-the-loop correctness backstop: the scoring heuristic is known
// to be imperfect, so an operator confirms or rejects each estimated
// conversion. Validation is terminal; the record's score is frozen from
// this point as a historical fact. Notes exist to feed future heuristic
// tuning.
//
// # Outputs
//
//   - datatypes.ConversionRecord: The finalized record.
//   - error: *NotFoundError when no record exists for the session;
//     *AlreadyFinalizedError when the record already left Pending.
func (m *Manager) Validate(ctx context.Context, sessionID, notes string) (datatypes.ConversionRecord, error) {
	return m.finalize(ctx, sessionID, datatypes.ValidationValidated, notes)
}

// Reject marks a Pending conversion record as not a booking. Symmetric to
// Validate.
func (m *Manager) Reject(ctx context.Context, sessionID, notes string) (datatypes.ConversionRecord, error) {
	return m.finalize(ctx, sessionID, datatypes.ValidationRejected, notes)
}

func (m *Manager) finalize(ctx context.Context, sessionID string, state datatypes.ValidationState, notes string) (datatypes.ConversionRecord, error) {
	record, err := m.store.Finalize(ctx, sessionID, state, notes, m.clock.Now())
	if err != nil {
		if IsNotFound(err) {
			return datatypes.ConversionRecord{}, &NotFoundError{SessionID: sessionID}
		}
		if IsAlreadyFinalized(err) {
			current, getErr := m.store.GetConversion(ctx, sessionID)
			if getErr != nil {
				return datatypes.ConversionRecord{}, getErr
			}
			return datatypes.ConversionRecord{}, &AlreadyFinalizedError{
				SessionID: sessionID,
				State:     current.ValidationState,
			}
		}
		return datatypes.ConversionRecord{}, fmt.Errorf("finalize session %s: %w", sessionID, err)
	}

	m.logger.Info("conversion finalized",
		"sessionId", sessionID,
		"state", record.ValidationState,
		"score", record.ConfidenceScore)
	m.notify(sessionID)
	return record, nil
}
