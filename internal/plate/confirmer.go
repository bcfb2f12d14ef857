package plate

import (
	"time"
)

// Confirmer debounces a stream of raw OCR candidates into confirmed plate
// identities. A plate is confirmed when it wins a majority vote over a
// small rolling buffer; a cooldown suppresses immediate re-confirmation of
// the same plate so an idling vehicle does not re-trigger the workflow
// every frame.
//
// The confirmer is confined to one lane's single-threaded loop and needs
// no locking.
type Confirmer struct {
	bufferSize int
	threshold  int
	cooldown   time.Duration
	now        func() time.Time

	buffer      []string
	lastPlate   string
	lastEmitted time.Time
}

func NewConfirmer(bufferSize, threshold int, cooldown time.Duration) *Confirmer {
	if bufferSize <= 0 {
		bufferSize = 3
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Confirmer{
		bufferSize: bufferSize,
		threshold:  threshold,
		cooldown:   cooldown,
		now:        time.Now,
		buffer:     make([]string, 0, bufferSize),
	}
}

// WithClock replaces the time source. Tests only.
func (c *Confirmer) WithClock(now func() time.Time) *Confirmer {
	c.now = now
	return c
}

// Observe feeds one OCR candidate. Invalid candidates are dropped silently,
// OCR noise is expected. Returns the confirmed plate when the vote passes.
func (c *Confirmer) Observe(candidate string) (string, bool) {
	p, ok := Validate(candidate)
	if !ok {
		return "", false
	}

	if len(c.buffer) == c.bufferSize {
		c.buffer = c.buffer[1:]
	}
	c.buffer = append(c.buffer, p)

	if len(c.buffer) < c.threshold {
		return "", false
	}

	winner, count := majority(c.buffer)
	if count < c.threshold {
		return "", false
	}

	now := c.now()
	if winner == c.lastPlate && now.Sub(c.lastEmitted) <= c.cooldown {
		return "", false
	}

	c.lastPlate = winner
	c.lastEmitted = now
	c.buffer = c.buffer[:0]
	return winner, true
}

func majority(values []string) (string, int) {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best, bestCount
}
