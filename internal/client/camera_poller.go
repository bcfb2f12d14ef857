package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/access"
)

// CameraPoller drives both lanes from the camera service: every interval it
// pulls fresh reads per direction and feeds them to the lane pipelines.
// Reads are ordered by capture time on the service side; the since mark
// advances past everything already delivered.
type CameraPoller struct {
	client      *CameraClient
	coordinator *access.Coordinator
	interval    time.Duration
	log         zerolog.Logger
	lastSeen    map[access.Direction]time.Time
}

func NewCameraPoller(client *CameraClient, coordinator *access.Coordinator, interval time.Duration, log zerolog.Logger) *CameraPoller {
	if interval <= 0 {
		interval = time.Second
	}
	start := time.Now()
	return &CameraPoller{
		client:      client,
		coordinator: coordinator,
		interval:    interval,
		log:         log,
		lastSeen: map[access.Direction]time.Time{
			access.DirectionEntry: start,
			access.DirectionExit:  start,
		},
	}
}

// Run polls until the context is cancelled. Camera service outages are
// logged and retried on the next tick.
func (p *CameraPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, access.DirectionEntry)
			p.poll(ctx, access.DirectionExit)
		}
	}
}

func (p *CameraPoller) poll(ctx context.Context, direction access.Direction) {
	reads, err := p.client.RecentReads(ctx, string(direction), p.lastSeen[direction])
	if err != nil {
		p.log.Warn().Err(err).Str("lane", string(direction)).Msg("camera poll failed")
		return
	}

	lane := p.coordinator.Lane(direction)
	for _, read := range reads {
		if read.CapturedAt.After(p.lastSeen[direction]) {
			p.lastSeen[direction] = read.CapturedAt
		}

		decision, err := lane.Observe(ctx, read.RawText)
		if err != nil {
			p.log.Error().Err(err).Str("lane", string(direction)).Msg("observation failed")
			continue
		}
		if decision.Outcome != access.OutcomeNone {
			p.log.Info().
				Str("lane", string(direction)).
				Str("plate", decision.Plate).
				Str("outcome", string(decision.Outcome)).
				Str("camera_id", read.CameraID).
				Msg("lane decision")
		}
	}
}
