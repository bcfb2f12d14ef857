package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/billing"
	"parking-service/internal/ledger"
	"parking-service/internal/plate"
)

// Responses understood by the kiosk firmware.
const (
	respSuccess      = "SUCCESS"
	respNoEntry      = "ERROR:NO_ENTRY"
	respInsufficient = "ERROR:INSUFFICIENT"
	respInvalidData  = "ERROR:INVALID_DATA"
)

const pollTimeout = 200 * time.Millisecond

// Port is the serial channel to the payment kiosk.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Terminal services the self-payment kiosk over its serial line. The kiosk
// announces a card with "PLATE:<plate>;BAL:<balance>"; the terminal quotes
// the amount due with "PAY:<amount>", waits for the kiosk to confirm the
// deduction with "DONE", then settles the stay in the ledger.
type Terminal struct {
	port        Port
	ledger      *ledger.Ledger
	ratePerHour float64
	window      time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewTerminal(port Port, l *ledger.Ledger, ratePerHour float64, window time.Duration, log zerolog.Logger) *Terminal {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Terminal{
		port:        port,
		ledger:      l,
		ratePerHour: ratePerHour,
		window:      window,
		now:         time.Now,
		log:         log,
	}
}

// WithClock replaces the time source. Tests only.
func (t *Terminal) WithClock(now func() time.Time) *Terminal {
	t.now = now
	return t
}

// Run reads kiosk messages until the context is cancelled.
func (t *Terminal) Run(ctx context.Context) error {
	defer t.port.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := t.readLine(ctx, 0)
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		t.handle(ctx, line)
	}
}

// handle processes one kiosk message and writes the outcome back.
func (t *Terminal) handle(ctx context.Context, line string) {
	p, balance, ok := parseRequest(line)
	if !ok {
		t.log.Warn().Str("message", line).Msg("malformed kiosk request")
		t.respond(respInvalidData)
		return
	}

	entry, err := t.ledger.OpenEntry(ctx, p)
	if err != nil {
		t.log.Error().Err(err).Str("plate", p).Msg("kiosk lookup failed")
		return
	}
	if entry == nil || entry.Paid {
		t.respond(respNoEntry)
		return
	}

	amount := entry.AmountDue
	if amount <= 0 {
		amount = billing.Fee(entry.OccurredAt, t.now(), t.ratePerHour)
	}

	if balance < amount {
		t.log.Info().
			Str("plate", p).
			Float64("balance", balance).
			Float64("amount", amount).
			Msg("kiosk balance insufficient")
		t.respond(respInsufficient)
		return
	}

	if _, err := t.port.Write([]byte("PAY:" + formatAmount(amount) + "\n")); err != nil {
		t.log.Error().Err(err).Msg("kiosk write failed")
		return
	}

	ack, err := t.readLine(ctx, t.window)
	if err != nil {
		t.log.Error().Err(err).Msg("kiosk read failed")
		return
	}
	if ack != "DONE" {
		t.log.Warn().Str("plate", p).Str("ack", ack).Msg("kiosk did not confirm deduction")
		return
	}

	updated, err := t.ledger.MarkPaid(ctx, p, amount)
	if err != nil {
		t.log.Error().Err(err).Str("plate", p).Msg("settling paid stay failed")
		return
	}
	if !updated {
		t.respond(respNoEntry)
		return
	}

	t.log.Info().Str("plate", p).Float64("amount", amount).Msg("kiosk payment settled")
	t.respond(respSuccess)
}

func (t *Terminal) respond(msg string) {
	if _, err := t.port.Write([]byte(msg + "\n")); err != nil {
		t.log.Error().Err(err).Msg("kiosk write failed")
	}
}

// readLine accumulates bytes until a newline. A zero window blocks until a
// line arrives or the context is cancelled; a positive window gives up and
// returns an empty line when it elapses.
func (t *Terminal) readLine(ctx context.Context, window time.Duration) (string, error) {
	var deadline time.Time
	if window > 0 {
		deadline = time.Now().Add(window)
	}
	if err := t.port.SetReadTimeout(pollTimeout); err != nil {
		return "", err
	}

	var buf []byte
	chunk := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", nil
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if chunk[i] == '\n' {
				return strings.TrimSpace(string(buf)), nil
			}
			buf = append(buf, chunk[i])
		}
	}
}

// parseRequest decodes "PLATE:<plate>;BAL:<balance>". BALANCE is accepted
// as an alias for BAL.
func parseRequest(line string) (string, float64, bool) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	if len(parts) != 2 {
		return "", 0, false
	}

	rawPlate, ok := strings.CutPrefix(parts[0], "PLATE:")
	if !ok {
		return "", 0, false
	}
	p, ok := plate.Validate(rawPlate)
	if !ok {
		return "", 0, false
	}

	rawBalance, ok := strings.CutPrefix(parts[1], "BAL:")
	if !ok {
		rawBalance, ok = strings.CutPrefix(parts[1], "BALANCE:")
		if !ok {
			return "", 0, false
		}
	}
	balance, err := strconv.ParseFloat(strings.TrimSpace(rawBalance), 64)
	if err != nil || balance < 0 {
		return "", 0, false
	}

	return p, balance, true
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
