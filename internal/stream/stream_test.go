package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-brief/internal/storage/memory"
)

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() { m.once.Do(func() { close(m.stopped) }) }

// tick blocks until the stream loop consumes the tick.
func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("stream loop did not wait for a tick")
	}
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func newStore() *memory.JobStore {
	return memory.NewJobStore(&seqIDs{}, wallClock{})
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Event, 64)}
}

func (r *recorder) send(evt Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	r.notify <- evt
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case evt := <-r.notify:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestStreamCompletedJobYieldsSingleComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	job, err := store.Create(ctx, "cold brew")
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, job.ID))
	require.NoError(t, store.Complete(ctx, job.ID, "<html>done</html>", nil))

	rec := newRecorder()
	s := New(store, Config{NewTicker: func(time.Duration) Ticker { return newManualTicker() }})
	require.NoError(t, s.Stream(ctx, job.ID, rec.send))

	events := rec.all()
	require.Len(t, events, 1)
	require.Equal(t, EventComplete, events[0].Type)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &payload))
	require.Equal(t, map[string]string{"report_html": "<html>done</html>"}, payload)
}

func TestStreamFlushesProgressBeforeTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	job, err := store.Create(ctx, "cold brew")
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, job.ID))
	store.AppendProgress(ctx, job.ID, "one")
	store.AppendProgress(ctx, job.ID, "ERROR: boom")
	require.NoError(t, store.Fail(ctx, job.ID, "boom"))

	rec := newRecorder()
	require.NoError(t, New(store, Config{}).Stream(ctx, job.ID, rec.send))
	require.Equal(t, []Event{
		{Type: EventProgress, Data: "one"},
		{Type: EventProgress, Data: "ERROR: boom"},
		{Type: EventError, Data: "boom"},
	}, rec.all())
}

func TestStreamUnknownJob(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	require.NoError(t, New(newStore(), Config{}).Stream(context.Background(), "missing", rec.send))
	require.Equal(t, []Event{{Type: EventError, Data: "Job not found"}}, rec.all())
}

func TestStreamFollowsRunningJobInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	job, err := store.Create(ctx, "cold brew")
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, job.ID))
	store.AppendProgress(ctx, job.ID, "first")

	ticker := newManualTicker()
	s := New(store, Config{NewTicker: func(time.Duration) Ticker { return ticker }})
	rec := newRecorder()
	done := make(chan error, 1)
	go func() { done <- s.Stream(ctx, job.ID, rec.send) }()

	require.Equal(t, Event{Type: EventProgress, Data: "first"}, rec.next(t))

	store.AppendProgress(ctx, job.ID, "second")
	store.AppendProgress(ctx, job.ID, "third")
	ticker.tick(t)
	require.Equal(t, Event{Type: EventProgress, Data: "second"}, rec.next(t))
	require.Equal(t, Event{Type: EventProgress, Data: "third"}, rec.next(t))

	store.AppendProgress(ctx, job.ID, "Content brief ready!")
	require.NoError(t, store.Complete(ctx, job.ID, "<html/>", nil))
	ticker.tick(t)
	require.Equal(t, Event{Type: EventProgress, Data: "Content brief ready!"}, rec.next(t))
	require.Equal(t, EventComplete, rec.next(t).Type)

	require.NoError(t, <-done)
	select {
	case <-ticker.stopped:
	default:
		t.Fatal("ticker not stopped")
	}
}

func TestStreamHeartbeatCadence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	job, err := store.Create(ctx, "slow topic")
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, job.ID))

	ticker := newManualTicker()
	s := New(store, Config{NewTicker: func(time.Duration) Ticker { return ticker }})
	rec := newRecorder()
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Stream(streamCtx, job.ID, rec.send) }()

	// The first poll happens before any tick, so the 15th poll follows the 14th tick.
	for i := 0; i < DefaultHeartbeatTicks-1; i++ {
		ticker.tick(t)
	}
	require.Equal(t, Event{Type: EventHeartbeat, Data: "ping"}, rec.next(t))

	for i := 0; i < DefaultHeartbeatTicks-1; i++ {
		ticker.tick(t)
	}
	require.Empty(t, rec.notify)
	ticker.tick(t)
	require.Equal(t, Event{Type: EventHeartbeat, Data: "ping"}, rec.next(t))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Len(t, rec.all(), 2)
}

func TestStreamStopsOnSendError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	job, err := store.Create(ctx, "topic")
	require.NoError(t, err)
	store.AppendProgress(ctx, job.ID, "one")

	boom := errors.New("client gone")
	err = New(store, Config{}).Stream(ctx, job.ID, func(Event) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	s := New(newStore(), Config{})
	require.Equal(t, DefaultInterval, s.cfg.Interval)
	require.Equal(t, DefaultHeartbeatTicks, s.cfg.HeartbeatTicks)
	ticker := s.cfg.NewTicker(time.Hour)
	ticker.Stop()
}
