package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/journal"
	"parking-service/internal/model"
)

// Primary is the relational side of the dual store, implemented by
// repository.LedgerRepository.
type Primary interface {
	Ping(ctx context.Context) error
	AppendRecord(ctx context.Context, rec *model.ActivityRecord) error
	History(ctx context.Context, plate string) ([]model.ActivityRecord, error)
	MarkPaid(ctx context.Context, plate string, amount float64) (bool, error)
}

// Fallback is the flat-file side, implemented by journal.Journal.
type Fallback interface {
	Append(rec model.ActivityRecord) error
	History(plate string) ([]model.ActivityRecord, error)
	MarkPaid(plate string, amount float64) (bool, error)
	// MarkPending records a durable reconciliation marker for a row that
	// never reached the primary.
	MarkPending(rec model.ActivityRecord) error
	TakePending() ([]model.ActivityRecord, error)
	// MarkPendingPayment queues a payment flip the primary never saw.
	MarkPendingPayment(plate string, amount float64) error
	TakePendingPayments() ([]journal.PendingPayment, error)
}

// DualStore writes every ledger mutation to the relational store when it is
// reachable and always to the flat-file journal, so no event is lost while
// either backend is up. Reads prefer the primary; connectivity is checked on
// use, never cached, so a recovered database is picked up within one call.
type DualStore struct {
	primary  Primary
	fallback Fallback
	log      zerolog.Logger
}

func NewDualStore(primary Primary, fallback Fallback, log zerolog.Logger) *DualStore {
	return &DualStore{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// PrimaryAvailable pings the relational store. Cheap, one round trip.
func (s *DualStore) PrimaryAvailable(ctx context.Context) bool {
	return s.primary.Ping(ctx) == nil
}

// Append persists one ledger record. Primary first inside its own
// transaction; the journal append afterwards is best-effort backup. When
// the primary is down the record goes journal-only and is flagged pending
// reconciliation. Both backends failing is a hard error.
func (s *DualStore) Append(ctx context.Context, rec *model.ActivityRecord) (Outcome, error) {
	if err := s.primary.AppendRecord(ctx, rec); err == nil {
		if jerr := s.fallback.Append(*rec); jerr != nil {
			// Journal is the backup, not the authority. Logged, non-fatal.
			s.log.Warn().Err(jerr).
				Str("plate", rec.Plate).
				Str("action", string(rec.Action)).
				Msg("journal append failed after primary write")
		}
		return Outcome{Backend: BackendPrimary}, nil
	} else {
		s.log.Warn().Err(err).
			Str("plate", rec.Plate).
			Str("action", string(rec.Action)).
			Msg("primary append failed, falling back to journal")
	}

	if err := s.fallback.Append(*rec); err != nil {
		return Outcome{}, fmt.Errorf("append failed on both backends: %w", err)
	}
	if err := s.fallback.MarkPending(*rec); err != nil {
		s.log.Error().Err(err).Str("plate", rec.Plate).Msg("failed to write pending marker")
	}
	return Outcome{Backend: BackendFallback, Pending: true}, nil
}

// History loads a plate's records, oldest first, from whichever backend is
// reachable. Callers derive state from the result with one shared
// algorithm, so the backend choice is invisible to them.
func (s *DualStore) History(ctx context.Context, plate string) ([]model.ActivityRecord, Outcome, error) {
	if s.PrimaryAvailable(ctx) {
		records, err := s.primary.History(ctx, plate)
		if err == nil {
			return records, Outcome{Backend: BackendPrimary}, nil
		}
		s.log.Warn().Err(err).Str("plate", plate).Msg("primary history read failed")
	}

	records, err := s.fallback.History(plate)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("history unavailable on both backends: %w", err)
	}
	return records, Outcome{Backend: BackendFallback}, nil
}

// MarkPaid flips the current unpaid entry to paid on both backends. The
// journal update is applied even when the primary succeeded, so the
// fallback view stays billable. A flip the primary never saw gets a
// durable pending-payment marker so the reconciler replays it; without
// that the recovered primary would still derive parked_unpaid and refuse
// a paid driver's exit.
func (s *DualStore) MarkPaid(ctx context.Context, plate string, amount float64) (bool, Outcome, error) {
	if s.PrimaryAvailable(ctx) {
		updated, err := s.primary.MarkPaid(ctx, plate, amount)
		if err == nil {
			if _, jerr := s.fallback.MarkPaid(plate, amount); jerr != nil {
				s.log.Warn().Err(jerr).Str("plate", plate).Msg("journal payment update failed after primary update")
			}
			return updated, Outcome{Backend: BackendPrimary}, nil
		}
		s.log.Warn().Err(err).Str("plate", plate).Msg("primary payment update failed")
	}

	updated, err := s.fallback.MarkPaid(plate, amount)
	if err != nil {
		return false, Outcome{}, fmt.Errorf("payment update failed on both backends: %w", err)
	}
	if updated {
		if perr := s.fallback.MarkPendingPayment(plate, amount); perr != nil {
			s.log.Error().Err(perr).Str("plate", plate).Msg("failed to write pending payment marker")
		}
	}
	return updated, Outcome{Backend: BackendFallback, Pending: updated}, nil
}

// Reconcile replays journal-only records and payment flips into the
// primary. Appends go first so a payment taken against an outage-era entry
// finds its row. Best-effort: anything that still cannot be written is
// re-queued for the next pass.
func (s *DualStore) Reconcile(ctx context.Context) (int, error) {
	if !s.PrimaryAvailable(ctx) {
		return 0, nil
	}

	appends, err := s.reconcileAppends(ctx)
	if err != nil {
		return appends, err
	}

	payments, err := s.reconcilePayments(ctx)
	replayed := appends + payments
	if replayed > 0 {
		s.log.Info().
			Int("appends", appends).
			Int("payments", payments).
			Msg("reconciled journal records into primary store")
	}
	return replayed, err
}

func (s *DualStore) reconcileAppends(ctx context.Context) (int, error) {
	pending, err := s.fallback.TakePending()
	if err != nil {
		return 0, fmt.Errorf("read pending records: %w", err)
	}

	replayed := 0
	for i := range pending {
		rec := pending[i]
		if err := s.primary.AppendRecord(ctx, &rec); err != nil {
			s.log.Warn().Err(err).
				Str("plate", rec.Plate).
				Msg("reconciliation write failed, re-queueing")
			for _, left := range pending[i:] {
				if qerr := s.fallback.MarkPending(left); qerr != nil {
					s.log.Error().Err(qerr).Str("plate", left.Plate).Msg("failed to re-queue pending record")
				}
			}
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func (s *DualStore) reconcilePayments(ctx context.Context) (int, error) {
	pending, err := s.fallback.TakePendingPayments()
	if err != nil {
		return 0, fmt.Errorf("read pending payments: %w", err)
	}

	replayed := 0
	for i, p := range pending {
		updated, err := s.primary.MarkPaid(ctx, p.Plate, p.Amount)
		if err != nil {
			s.log.Warn().Err(err).
				Str("plate", p.Plate).
				Msg("payment replay failed, re-queueing")
			for _, left := range pending[i:] {
				if qerr := s.fallback.MarkPendingPayment(left.Plate, left.Amount); qerr != nil {
					s.log.Error().Err(qerr).Str("plate", left.Plate).Msg("failed to re-queue pending payment")
				}
			}
			return replayed, err
		}
		if !updated {
			// The entry this payment belongs to has not reached the
			// primary yet. Keep the marker for the next pass.
			s.log.Warn().Str("plate", p.Plate).Msg("payment replay found no open unpaid entry, re-queueing")
			if qerr := s.fallback.MarkPendingPayment(p.Plate, p.Amount); qerr != nil {
				s.log.Error().Err(qerr).Str("plate", p.Plate).Msg("failed to re-queue pending payment")
			}
			continue
		}
		replayed++
	}
	return replayed, nil
}

// RunReconciler loops Reconcile on an interval until the context ends. It
// lives off the gate decision path entirely.
func (s *DualStore) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.log.Debug().Err(err).Msg("reconciliation pass incomplete")
			}
		}
	}
}
