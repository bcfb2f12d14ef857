package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/gate"
	"parking-service/internal/ledger"
	"parking-service/internal/plate"
)

// Gate is the hardware surface the coordinator drives, satisfied by
// gate.Controller.
type Gate interface {
	SendMeta(cmd gate.Command, meta gate.Meta) gate.SendResult
	OpenThenClose(ctx context.Context, hold time.Duration, meta gate.Meta)
}

type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// Outcome summarizes what one confirmed plate caused.
type Outcome string

const (
	// OutcomeNone: candidate absorbed (not yet confirmed, or the lane is
	// mid-hold and dropping observations).
	OutcomeNone         Outcome = "none"
	OutcomeEntryAllowed Outcome = "entry_allowed"
	OutcomeEntryDenied  Outcome = "entry_denied"
	OutcomeExitAllowed  Outcome = "exit_allowed"
	OutcomeExitDenied   Outcome = "exit_denied"
)

type Decision struct {
	Outcome Outcome
	Plate   string
}

const unauthorizedAlerts = 3

// Options tunes the coordinator. Zero values get the production defaults.
type Options struct {
	HoldDuration     time.Duration
	AlertInterval    time.Duration
	BufferSize       int
	ConfirmThreshold int
	Cooldown         time.Duration
}

func (o *Options) applyDefaults() {
	if o.HoldDuration == 0 {
		o.HoldDuration = 15 * time.Second
	}
	if o.AlertInterval == 0 {
		o.AlertInterval = time.Second
	}
	if o.BufferSize == 0 {
		o.BufferSize = 3
	}
	if o.ConfirmThreshold == 0 {
		o.ConfirmThreshold = 3
	}
	if o.Cooldown == 0 {
		o.Cooldown = 5 * time.Second
	}
}

// Coordinator orchestrates plate confirmation, the ledger, billing-fixed
// amounts and the gate into entry/exit/payment workflows. It is the only
// component the capture loop and the reporting surface call into.
type Coordinator struct {
	ledger *ledger.Ledger
	entry  *Lane
	exit   *Lane
	log    zerolog.Logger
}

func NewCoordinator(l *ledger.Ledger, g Gate, opts Options, log zerolog.Logger) *Coordinator {
	opts.applyDefaults()
	c := &Coordinator{
		ledger: l,
		log:    log,
	}
	c.entry = newLane(DirectionEntry, c, g, opts, log)
	c.exit = newLane(DirectionExit, c, g, opts, log)
	return c
}

// Lane returns the pipeline endpoint for one direction.
func (c *Coordinator) Lane(d Direction) *Lane {
	if d == DirectionExit {
		return c.exit
	}
	return c.entry
}

// SubmitPayment marks the plate's current unpaid stay as paid with the
// caller's amount. The authoritative amount was computed when the stay was
// billed; it is accepted here, not recomputed.
func (c *Coordinator) SubmitPayment(ctx context.Context, p string, amount float64) (bool, error) {
	updated, err := c.ledger.MarkPaid(ctx, p, amount)
	if err != nil {
		return false, err
	}
	if !updated {
		c.log.Info().Str("plate", p).Msg("payment submitted for plate with no open unpaid stay")
	}
	return updated, nil
}

// Lane is one direction's confirm-then-decide pipeline. A lane processes
// one decision at a time: while the gate hold (or alert escalation) is in
// progress further observations are dropped, which is fine because one
// physical gate admits one vehicle at a time and the drop naturally
// rate-limits duplicate triggers. The other lane is unaffected.
type Lane struct {
	direction Direction
	coord     *Coordinator
	gate      Gate
	opts      Options
	log       zerolog.Logger

	mu        sync.Mutex
	confirmer *plate.Confirmer
	busy      bool
}

func newLane(d Direction, c *Coordinator, g Gate, opts Options, log zerolog.Logger) *Lane {
	return &Lane{
		direction: d,
		coord:     c,
		gate:      g,
		opts:      opts,
		log:       log.With().Str("lane", string(d)).Logger(),
		confirmer: plate.NewConfirmer(opts.BufferSize, opts.ConfirmThreshold, opts.Cooldown),
	}
}

// Observe feeds one raw OCR candidate into the lane. Candidates that do
// not confirm a plate, and confirmations arriving while the lane is busy,
// resolve to OutcomeNone.
func (l *Lane) Observe(ctx context.Context, candidate string) (Decision, error) {
	l.mu.Lock()
	confirmed, ok := l.confirmer.Observe(candidate)
	if !ok {
		l.mu.Unlock()
		return Decision{Outcome: OutcomeNone}, nil
	}
	if l.busy {
		l.mu.Unlock()
		l.log.Debug().Str("plate", confirmed).Msg("lane busy, observation dropped")
		return Decision{Outcome: OutcomeNone, Plate: confirmed}, nil
	}
	l.mu.Unlock()

	if l.direction == DirectionExit {
		return l.decideExit(ctx, confirmed)
	}
	return l.decideEntry(ctx, confirmed)
}

func (l *Lane) decideEntry(ctx context.Context, p string) (Decision, error) {
	recordID, err := l.coord.ledger.RecordEntry(ctx, p)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			l.log.Warn().Str("plate", p).Msg("entry denied, vehicle already inside")
			l.gate.SendMeta(gate.CommandAlert, l.meta(p, nil, OutcomeEntryDenied))
			return Decision{Outcome: OutcomeEntryDenied, Plate: p}, nil
		}
		return Decision{}, err
	}

	l.admit(ctx, l.meta(p, &recordID, OutcomeEntryAllowed))
	return Decision{Outcome: OutcomeEntryAllowed, Plate: p}, nil
}

func (l *Lane) decideExit(ctx context.Context, p string) (Decision, error) {
	result, err := l.coord.ledger.RecordExit(ctx, p)
	if err != nil {
		return Decision{}, err
	}

	var recordID *uuid.UUID
	if result.Record != nil {
		recordID = &result.Record.ID
	}

	if result.Status == ledger.ExitAuthorized {
		l.admit(ctx, l.meta(p, recordID, OutcomeExitAllowed))
		return Decision{Outcome: OutcomeExitAllowed, Plate: p}, nil
	}

	l.log.Warn().Str("plate", p).Msg("unauthorized exit attempt, gate stays closed")
	l.escalate(ctx, l.meta(p, recordID, OutcomeExitDenied))
	return Decision{Outcome: OutcomeExitDenied, Plate: p}, nil
}

// meta stamps a dispatch with the decision behind it.
func (l *Lane) meta(p string, recordID *uuid.UUID, outcome Outcome) gate.Meta {
	return gate.Meta{
		Lane:     string(l.direction),
		Plate:    p,
		RecordID: recordID,
		Detail:   map[string]string{"outcome": string(outcome)},
	}
}

// admit opens the gate and schedules the unconditional close after the
// hold, off the caller's goroutine so frame intake never stalls. The hold
// must survive the observation that triggered it: an HTTP request context
// is cancelled as soon as the handler returns, which would collapse the
// hold to nothing.
func (l *Lane) admit(ctx context.Context, meta gate.Meta) {
	ctx = context.WithoutCancel(ctx)
	l.setBusy(true)
	go func() {
		defer l.setBusy(false)
		l.gate.OpenThenClose(ctx, l.opts.HoldDuration, meta)
	}()
}

// escalate sounds the buzzer three times at the alert interval. The lane
// stays busy for the duration so the same attempt does not re-trigger.
// Detached from the triggering context for the same reason as admit.
func (l *Lane) escalate(ctx context.Context, meta gate.Meta) {
	ctx = context.WithoutCancel(ctx)
	l.setBusy(true)
	go func() {
		defer l.setBusy(false)
		for i := 0; i < unauthorizedAlerts; i++ {
			if i > 0 {
				select {
				case <-time.After(l.opts.AlertInterval):
				case <-ctx.Done():
					return
				}
			}
			l.gate.SendMeta(gate.CommandAlert, meta)
		}
	}()
}

func (l *Lane) setBusy(busy bool) {
	l.mu.Lock()
	l.busy = busy
	l.mu.Unlock()
}
