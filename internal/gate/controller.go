package gate

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// Command is one of the fixed gate tokens. The wire encoding is the token
// followed by a newline, 9600 baud 8N1; the controller board answers with a
// newline-terminated ASCII string.
type Command string

const (
	CommandOpen  Command = "OPEN"
	CommandClose Command = "CLOSE"
	CommandAlert Command = "BUZZ"
)

// SendResult classifies one dispatch.
type SendResult int

const (
	// Acknowledged: the board answered within the response window, or the
	// controller is simulating.
	Acknowledged SendResult = iota
	// NoResponse: the write went out but nothing came back. Best-effort
	// success, the hardware is assumed to have acted.
	NoResponse
	// ChannelError: the write itself failed. The channel is dropped and
	// the controller simulates for the rest of the process lifetime.
	ChannelError
)

func (r SendResult) String() string {
	switch r {
	case Acknowledged:
		return "acknowledged"
	case NoResponse:
		return "no_response"
	case ChannelError:
		return "channel_error"
	default:
		return "unknown"
	}
}

// Meta ties a dispatch to the decision that caused it, so the audit trail
// can associate commands with ledger records.
type Meta struct {
	Lane     string
	Plate    string
	RecordID *uuid.UUID
	Detail   map[string]string
}

// Port is the serial channel the controller drives, satisfied by
// serial.Port.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Controller owns the serial channel to the gate for the process lifetime.
// With no channel attached every send is simulated and acknowledged, so
// callers cannot tell simulation from real hardware at the contract level.
type Controller struct {
	mu             sync.Mutex
	port           Port
	responseWindow time.Duration
	log            zerolog.Logger
	onDispatch     func(cmd Command, result SendResult, meta Meta)
}

// Connect opens the serial port with a bounded number of attempts and a
// fixed backoff between them. When the port cannot be opened the controller
// comes up in simulation mode and stays there; reconnection requires a
// process restart.
func Connect(portName string, baudRate, retries int, backoff, responseWindow time.Duration, log zerolog.Logger) *Controller {
	c := &Controller{
		responseWindow: responseWindow,
		log:            log,
	}

	if portName == "" {
		log.Warn().Msg("no gate serial port configured, running in simulation mode")
		return c
	}

	mode := &serial.Mode{BaudRate: baudRate}
	for attempt := 1; attempt <= retries; attempt++ {
		port, err := serial.Open(portName, mode)
		if err == nil {
			log.Info().Str("port", portName).Int("baud", baudRate).Msg("gate hardware connected")
			c.port = port
			return c
		}
		log.Warn().Err(err).
			Str("port", portName).
			Int("attempt", attempt).
			Msg("gate serial connect failed")
		if attempt < retries {
			time.Sleep(backoff)
		}
	}

	log.Warn().Str("port", portName).Msg("gate hardware unreachable, falling back to simulation mode")
	return c
}

// NewWithPort builds a controller around an existing channel. Tests and
// custom wiring.
func NewWithPort(port Port, responseWindow time.Duration, log zerolog.Logger) *Controller {
	return &Controller{
		port:           port,
		responseWindow: responseWindow,
		log:            log,
	}
}

// SetAuditor registers a hook invoked after every dispatch. Wired to the
// gate event audit trail.
func (c *Controller) SetAuditor(fn func(cmd Command, result SendResult, meta Meta)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDispatch = fn
}

// Simulated reports whether the controller currently has no channel.
func (c *Controller) Simulated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port == nil
}

// Send dispatches one command with no decision context attached.
func (c *Controller) Send(cmd Command) SendResult {
	return c.SendMeta(cmd, Meta{})
}

// SendMeta dispatches one command and waits at most the response window for
// an acknowledgment. Missing bytes are NoResponse, not an error; a failed
// write drops the channel permanently. The meta is handed to the auditor
// untouched.
func (c *Controller) SendMeta(cmd Command, meta Meta) SendResult {
	c.mu.Lock()
	result := c.send(cmd)
	hook := c.onDispatch
	c.mu.Unlock()

	if hook != nil {
		hook(cmd, result, meta)
	}
	return result
}

func (c *Controller) send(cmd Command) SendResult {
	if c.port == nil {
		c.log.Info().Str("command", string(cmd)).Msg("simulated gate command")
		return Acknowledged
	}

	if _, err := c.port.Write([]byte(string(cmd) + "\n")); err != nil {
		c.log.Error().Err(err).Str("command", string(cmd)).Msg("gate serial write failed, dropping channel")
		c.port.Close()
		c.port = nil
		return ChannelError
	}

	response, ok := c.readLine()
	if !ok {
		c.log.Debug().Str("command", string(cmd)).Msg("no gate response within window")
		return NoResponse
	}

	c.log.Debug().Str("command", string(cmd)).Str("response", response).Msg("gate acknowledged")
	return Acknowledged
}

// readLine drains whatever arrives within the response window, up to one
// newline-terminated answer.
func (c *Controller) readLine() (string, bool) {
	if err := c.port.SetReadTimeout(c.responseWindow); err != nil {
		return "", false
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64)
	deadline := time.Now().Add(c.responseWindow)
	for {
		n, err := c.port.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if bytes.IndexByte(buf.Bytes(), '\n') >= 0 {
				break
			}
		}
		if err != nil || n == 0 || time.Now().After(deadline) {
			break
		}
	}

	line := strings.TrimSpace(buf.String())
	return line, line != ""
}

// OpenThenClose opens the gate, holds it for the given duration and closes
// it unconditionally, even when the open was never acknowledged. The caller
// decides which goroutine pays for the hold.
func (c *Controller) OpenThenClose(ctx context.Context, hold time.Duration, meta Meta) {
	c.SendMeta(CommandOpen, meta)

	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}

	c.SendMeta(CommandClose, meta)
}

// Close releases the channel at process shutdown.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
