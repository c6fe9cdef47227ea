// Package stream turns a job's progress log into a sequence of server-sent
// events, polling the job store on a fixed tick.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/seo-brief/internal/brief"
	"github.com/JakeFAU/seo-brief/internal/metrics"
)

// EventType names an SSE event.
type EventType string

// Event types sent to clients.
const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Defaults for the polling loop.
const (
	DefaultInterval       = time.Second
	DefaultHeartbeatTicks = 15
)

// Event is one frame sent to the client.
type Event struct {
	Type EventType
	Data string
}

// JobReader is the read side of the job store.
type JobReader interface {
	Get(ctx context.Context, jobID string) (brief.Job, error)
}

// Ticker abstracts time.Ticker so tests can drive the loop by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop() { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Config controls the polling loop.
type Config struct {
	Interval time.Duration
	// HeartbeatTicks is how many non-terminal ticks pass between heartbeats.
	HeartbeatTicks int
	NewTicker      func(time.Duration) Ticker
}

// Streamer follows one job per Stream call.
type Streamer struct {
	jobs JobReader
	cfg  Config
}

// New builds a Streamer.
func New(jobs JobReader, cfg Config) *Streamer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HeartbeatTicks <= 0 {
		cfg.HeartbeatTicks = DefaultHeartbeatTicks
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	return &Streamer{jobs: jobs, cfg: cfg}
}

type completePayload struct {
	ReportHTML string `json:"report_html"`
}

// Stream sends every progress message of jobID exactly once and in order,
// then one terminal event. It returns nil after the terminal event, ctx's
// error when the client goes away, or the first send error.
func (s *Streamer) Stream(ctx context.Context, jobID string, send func(Event) error) error {
	metrics.StreamOpened()
	defer metrics.StreamClosed()

	ticker := s.cfg.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	sent := 0
	idle := 0
	for {
		job, err := s.jobs.Get(ctx, jobID)
		if errors.Is(err, brief.ErrJobNotFound) {
			return send(Event{Type: EventError, Data: "Job not found"})
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		for ; sent < len(job.Progress); sent++ {
			if err := send(Event{Type: EventProgress, Data: job.Progress[sent]}); err != nil {
				return err
			}
		}

		switch job.Status {
		case brief.StatusComplete:
			payload, err := json.Marshal(completePayload{ReportHTML: job.Result})
			if err != nil {
				return fmt.Errorf("encode complete payload: %w", err)
			}
			return send(Event{Type: EventComplete, Data: string(payload)})
		case brief.StatusError:
			msg := job.Error
			if msg == "" {
				msg = "Unknown error"
			}
			return send(Event{Type: EventError, Data: msg})
		}

		idle++
		if idle >= s.cfg.HeartbeatTicks {
			if err := send(Event{Type: EventHeartbeat, Data: "ping"}); err != nil {
				return err
			}
			idle = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}
