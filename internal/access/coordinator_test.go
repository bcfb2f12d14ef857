package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/gate"
	"parking-service/internal/ledger"
	"parking-service/internal/model"
	"parking-service/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	records []model.ActivityRecord
}

func (s *memStore) Append(_ context.Context, rec *model.ActivityRecord) (store.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return store.Outcome{Backend: store.BackendPrimary}, nil
}

func (s *memStore) History(_ context.Context, plate string) ([]model.ActivityRecord, store.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActivityRecord
	for _, r := range s.records {
		if r.Plate == plate {
			out = append(out, r)
		}
	}
	return out, store.Outcome{Backend: store.BackendPrimary}, nil
}

func (s *memStore) MarkPaid(_ context.Context, plate string, amount float64) (bool, store.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.Plate != plate {
			continue
		}
		if r.Action != model.ActionEntry {
			break
		}
		if r.Paid {
			break
		}
		s.records[i].Paid = true
		s.records[i].AmountDue = amount
		return true, store.Outcome{Backend: store.BackendPrimary}, nil
	}
	return false, store.Outcome{Backend: store.BackendPrimary}, nil
}

type fakeGate struct {
	mu       sync.Mutex
	commands []gate.Command
	metas    []gate.Meta
}

func (g *fakeGate) SendMeta(cmd gate.Command, meta gate.Meta) gate.SendResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = append(g.commands, cmd)
	g.metas = append(g.metas, meta)
	return gate.Acknowledged
}

func (g *fakeGate) OpenThenClose(ctx context.Context, hold time.Duration, meta gate.Meta) {
	g.SendMeta(gate.CommandOpen, meta)
	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
	g.SendMeta(gate.CommandClose, meta)
}

func (g *fakeGate) snapshot() []gate.Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gate.Command, len(g.commands))
	copy(out, g.commands)
	return out
}

func (g *fakeGate) lastMeta() gate.Meta {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.metas) == 0 {
		return gate.Meta{}
	}
	return g.metas[len(g.metas)-1]
}

func (g *fakeGate) count(cmd gate.Command) int {
	n := 0
	for _, c := range g.snapshot() {
		if c == cmd {
			n++
		}
	}
	return n
}

func testCoordinator(t *testing.T, opts Options) (*Coordinator, *memStore, *fakeGate) {
	t.Helper()
	ms := &memStore{}
	fg := &fakeGate{}
	l := ledger.New(ms, zerolog.Nop())
	return NewCoordinator(l, fg, opts, zerolog.Nop()), ms, fg
}

func fastOptions() Options {
	return Options{
		HoldDuration:  5 * time.Millisecond,
		AlertInterval: time.Millisecond,
		Cooldown:      time.Minute,
	}
}

func confirm(t *testing.T, lane *Lane, plate string) Decision {
	t.Helper()
	var d Decision
	var err error
	for i := 0; i < 3; i++ {
		d, err = lane.Observe(context.Background(), plate)
		require.NoError(t, err)
	}
	return d
}

func TestLaneEntryConfirmsThenAdmits(t *testing.T) {
	c, ms, fg := testCoordinator(t, fastOptions())
	lane := c.Lane(DirectionEntry)

	d, err := lane.Observe(context.Background(), "RAB123C")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, d.Outcome)

	_, err = lane.Observe(context.Background(), "RAB123C")
	require.NoError(t, err)

	d, err = lane.Observe(context.Background(), "RAB123C")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEntryAllowed, d.Outcome)
	assert.Equal(t, "RAB123C", d.Plate)

	require.Eventually(t, func() bool {
		return fg.count(gate.CommandClose) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []gate.Command{gate.CommandOpen, gate.CommandClose}, fg.snapshot())

	recs, _, err := ms.History(context.Background(), "RAB123C")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ActionEntry, recs[0].Action)
}

func TestLaneEntryDeniedWhileInside(t *testing.T) {
	c, ms, fg := testCoordinator(t, fastOptions())
	_, err := ms.Append(context.Background(), &model.ActivityRecord{
		ID: uuid.New(), Plate: "RAB123C", Action: model.ActionEntry, OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	d := confirm(t, c.Lane(DirectionEntry), "RAB123C")
	assert.Equal(t, OutcomeEntryDenied, d.Outcome)

	assert.Equal(t, 1, fg.count(gate.CommandAlert))
	assert.Zero(t, fg.count(gate.CommandOpen))
}

func TestLaneExitAuthorizedAfterPayment(t *testing.T) {
	c, ms, fg := testCoordinator(t, fastOptions())
	_, err := ms.Append(context.Background(), &model.ActivityRecord{
		ID: uuid.New(), Plate: "RAB123C", Action: model.ActionEntry, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	updated, err := c.SubmitPayment(context.Background(), "RAB123C", 500)
	require.NoError(t, err)
	assert.True(t, updated)

	d := confirm(t, c.Lane(DirectionExit), "RAB123C")
	assert.Equal(t, OutcomeExitAllowed, d.Outcome)

	require.Eventually(t, func() bool {
		return fg.count(gate.CommandClose) == 1
	}, time.Second, time.Millisecond)

	recs, _, err := ms.History(context.Background(), "RAB123C")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.ActionExit, recs[1].Action)
	assert.Equal(t, 500.0, recs[1].AmountDue)
}

func TestLaneExitUnpaidKeepsGateClosedAndAlerts(t *testing.T) {
	c, ms, fg := testCoordinator(t, fastOptions())
	_, err := ms.Append(context.Background(), &model.ActivityRecord{
		ID: uuid.New(), Plate: "RAB123C", Action: model.ActionEntry, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	d := confirm(t, c.Lane(DirectionExit), "RAB123C")
	assert.Equal(t, OutcomeExitDenied, d.Outcome)

	require.Eventually(t, func() bool {
		return fg.count(gate.CommandAlert) == 3
	}, time.Second, time.Millisecond)
	assert.Zero(t, fg.count(gate.CommandOpen))

	recs, _, err := ms.History(context.Background(), "RAB123C")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.ActionUnauthorizedExit, recs[1].Action)
}

func TestLaneDropsConfirmationsWhileBusy(t *testing.T) {
	opts := fastOptions()
	opts.HoldDuration = time.Second
	c, _, fg := testCoordinator(t, opts)
	lane := c.Lane(DirectionEntry)

	d := confirm(t, lane, "RAB123C")
	require.Equal(t, OutcomeEntryAllowed, d.Outcome)

	// second vehicle confirms while the hold is in progress
	d = confirm(t, lane, "RAD456E")
	assert.Equal(t, OutcomeNone, d.Outcome)
	assert.Equal(t, "RAD456E", d.Plate)
	assert.Equal(t, 1, fg.count(gate.CommandOpen))
}

func TestLanesAreIndependent(t *testing.T) {
	opts := fastOptions()
	opts.HoldDuration = time.Second
	c, ms, _ := testCoordinator(t, opts)

	d := confirm(t, c.Lane(DirectionEntry), "RAB123C")
	require.Equal(t, OutcomeEntryAllowed, d.Outcome)

	// the exit lane still decides while the entry lane holds its gate
	_, err := ms.Append(context.Background(), &model.ActivityRecord{
		ID: uuid.New(), Plate: "RAD456E", Action: model.ActionEntry, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	d = confirm(t, c.Lane(DirectionExit), "RAD456E")
	assert.Equal(t, OutcomeExitDenied, d.Outcome)
}

func TestEscalationSurvivesObservationContextCancel(t *testing.T) {
	c, ms, fg := testCoordinator(t, fastOptions())
	_, err := ms.Append(context.Background(), &model.ActivityRecord{
		ID: uuid.New(), Plate: "RAB123C", Action: model.ActionEntry, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	// The caller's context dies as soon as the decision is made, the way
	// an HTTP request context does when the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	lane := c.Lane(DirectionExit)
	var d Decision
	for i := 0; i < 3; i++ {
		d, err = lane.Observe(ctx, "RAB123C")
		require.NoError(t, err)
	}
	require.Equal(t, OutcomeExitDenied, d.Outcome)
	cancel()

	require.Eventually(t, func() bool {
		return fg.count(gate.CommandAlert) == 3
	}, time.Second, time.Millisecond)
}

func TestHoldSurvivesObservationContextCancel(t *testing.T) {
	opts := fastOptions()
	opts.HoldDuration = 150 * time.Millisecond
	c, _, fg := testCoordinator(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	lane := c.Lane(DirectionEntry)
	var d Decision
	var err error
	for i := 0; i < 3; i++ {
		d, err = lane.Observe(ctx, "RAB123C")
		require.NoError(t, err)
	}
	require.Equal(t, OutcomeEntryAllowed, d.Outcome)
	cancel()
	start := time.Now()

	require.Eventually(t, func() bool {
		return fg.count(gate.CommandClose) == 1
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), opts.HoldDuration/2)
	assert.Equal(t, []gate.Command{gate.CommandOpen, gate.CommandClose}, fg.snapshot())
}

func TestDispatchesCarryDecisionMetadata(t *testing.T) {
	c, _, fg := testCoordinator(t, fastOptions())

	d := confirm(t, c.Lane(DirectionEntry), "RAB123C")
	require.Equal(t, OutcomeEntryAllowed, d.Outcome)

	require.Eventually(t, func() bool {
		return fg.count(gate.CommandClose) == 1
	}, time.Second, time.Millisecond)

	meta := fg.lastMeta()
	assert.Equal(t, "entry", meta.Lane)
	assert.Equal(t, "RAB123C", meta.Plate)
	require.NotNil(t, meta.RecordID)
	assert.Equal(t, "entry_allowed", meta.Detail["outcome"])
}

func TestSubmitPaymentWithoutOpenStay(t *testing.T) {
	c, _, _ := testCoordinator(t, fastOptions())
	updated, err := c.SubmitPayment(context.Background(), "RAB123C", 500)
	require.NoError(t, err)
	assert.False(t, updated)
}
