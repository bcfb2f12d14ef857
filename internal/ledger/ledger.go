package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/model"
	"parking-service/internal/plate"
	"parking-service/internal/store"
)

// Store is the persistence surface the ledger delegates to, implemented by
// store.DualStore.
type Store interface {
	Append(ctx context.Context, rec *model.ActivityRecord) (store.Outcome, error)
	History(ctx context.Context, plate string) ([]model.ActivityRecord, store.Outcome, error)
	MarkPaid(ctx context.Context, plate string, amount float64) (bool, store.Outcome, error)
}

type ExitStatus int

const (
	ExitUnauthorized ExitStatus = iota
	ExitAuthorized
)

// ExitResult reports how an exit attempt was resolved. Record is nil when
// the vehicle was absent and nothing was appended.
type ExitResult struct {
	Status ExitStatus
	Record *model.ActivityRecord
}

// Ledger owns the business rules over the activity history: what counts as
// a valid entry, an authorized exit and a payable stay. Storage mechanics
// belong to the dual store; the ledger never reinterprets them.
type Ledger struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func New(s Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: s,
		now:   time.Now,
		log:   log,
	}
}

// WithClock replaces the time source. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CurrentState derives the plate's occupancy state from whichever backend
// is reachable.
func (l *Ledger) CurrentState(ctx context.Context, p string) (model.VehicleState, error) {
	records, _, err := l.store.History(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return DeriveState(records), nil
}

// OpenEntry returns the current open entry record, or nil when the vehicle
// is absent or its stay is closed.
func (l *Ledger) OpenEntry(ctx context.Context, p string) (*model.ActivityRecord, error) {
	records, _, err := l.store.History(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return LatestOpenEntry(records), nil
}

// RecordEntry appends an entry record for an absent vehicle. A plate that
// is already inside, paid or not, gets ErrDuplicateEntry; the conflict is
// surfaced, never swallowed.
func (l *Ledger) RecordEntry(ctx context.Context, p string) (uuid.UUID, error) {
	if _, ok := plate.Validate(p); !ok {
		return uuid.Nil, fmt.Errorf("%w: malformed plate %q", ErrValidation, p)
	}

	state, err := l.CurrentState(ctx, p)
	if err != nil {
		return uuid.Nil, err
	}
	if state != model.StateAbsent {
		return uuid.Nil, fmt.Errorf("%w: plate %s is %s", ErrDuplicateEntry, p, state)
	}

	rec := &model.ActivityRecord{
		ID:         uuid.New(),
		Plate:      p,
		Action:     model.ActionEntry,
		Paid:       false,
		AmountDue:  0,
		OccurredAt: l.now(),
	}

	outcome, err := l.store.Append(ctx, rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	l.log.Info().
		Str("plate", p).
		Str("backend", outcome.Backend.String()).
		Bool("pending", outcome.Pending).
		Time("occurred_at", rec.OccurredAt).
		Msg("entry recorded")
	return rec.ID, nil
}

// RecordExit closes the current stay. A paid stay gets an exit record
// carrying the amount fixed at payment time; an unpaid stay gets an
// unauthorized_exit record with amount zero; an absent vehicle gets
// nothing to close.
func (l *Ledger) RecordExit(ctx context.Context, p string) (ExitResult, error) {
	if _, ok := plate.Validate(p); !ok {
		return ExitResult{}, fmt.Errorf("%w: malformed plate %q", ErrValidation, p)
	}

	records, _, err := l.store.History(ctx, p)
	if err != nil {
		return ExitResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	entry := LatestOpenEntry(records)
	if entry == nil {
		return ExitResult{Status: ExitUnauthorized}, nil
	}

	rec := &model.ActivityRecord{
		ID:         uuid.New(),
		Plate:      p,
		OccurredAt: l.now(),
	}
	if entry.Paid {
		rec.Action = model.ActionExit
		rec.Paid = true
		// The amount was fixed when the stay was paid; it is not
		// re-derived at the barrier.
		rec.AmountDue = entry.AmountDue
	} else {
		rec.Action = model.ActionUnauthorizedExit
		rec.AmountDue = 0
	}

	outcome, err := l.store.Append(ctx, rec)
	if err != nil {
		return ExitResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	status := ExitUnauthorized
	if rec.Action == model.ActionExit {
		status = ExitAuthorized
	}

	l.log.Info().
		Str("plate", p).
		Str("action", string(rec.Action)).
		Str("backend", outcome.Backend.String()).
		Float64("amount_due", rec.AmountDue).
		Msg("exit recorded")
	return ExitResult{Status: status, Record: rec}, nil
}

// MarkPaid flips the current unpaid entry to paid with the given amount.
// Returns false when the plate has no open unpaid stay.
func (l *Ledger) MarkPaid(ctx context.Context, p string, amount float64) (bool, error) {
	if _, ok := plate.Validate(p); !ok {
		return false, fmt.Errorf("%w: malformed plate %q", ErrValidation, p)
	}
	if amount < 0 {
		return false, fmt.Errorf("%w: negative amount %.2f", ErrValidation, amount)
	}

	updated, outcome, err := l.store.MarkPaid(ctx, p, amount)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if updated {
		l.log.Info().
			Str("plate", p).
			Float64("amount", amount).
			Str("backend", outcome.Backend.String()).
			Msg("stay marked paid")
	}
	return updated, nil
}
