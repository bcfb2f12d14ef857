package ledger

import (
	"parking-service/internal/model"
)

// DeriveState computes a plate's occupancy state from its record history.
// Records must be ordered oldest first, ties in occurred_at broken by
// insertion order. This is the single source of truth for entry, exit and
// billing decisions and is applied identically to records loaded from the
// relational store and from the fallback journal.
func DeriveState(records []model.ActivityRecord) model.VehicleState {
	entry := LatestOpenEntry(records)
	if entry == nil {
		return model.StateAbsent
	}
	if entry.Paid {
		return model.StateParkedPaid
	}
	return model.StateParkedUnpaid
}

// LatestOpenEntry returns the most recent entry record that has no later
// exit or unauthorized_exit, or nil when the vehicle is absent.
func LatestOpenEntry(records []model.ActivityRecord) *model.ActivityRecord {
	for i := len(records) - 1; i >= 0; i-- {
		switch records[i].Action {
		case model.ActionExit, model.ActionUnauthorizedExit:
			// The most recent movement closed the stay.
			return nil
		case model.ActionEntry:
			return &records[i]
		}
	}
	return nil
}
