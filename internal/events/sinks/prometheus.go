package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/seo-brief/internal/events"
)

// PrometheusSink derives job runtime and page latency metrics from events.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pageDuration  *prometheus.HistogramVec
	headlessPages prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brief_jobs_started_total",
			Help: "Total jobs picked up by a worker.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brief_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brief_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 300},
		}, []string{"result"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brief_page_fetch_duration_seconds",
			Help:    "Competitor page fetch latency partitioned by outcome and status class.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome", "status_class"}),
		headlessPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brief_headless_pages_total",
			Help: "Competitor pages that needed a headless render.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsRunning,
		s.jobRuntime,
		s.pageDuration,
		s.headlessPages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case events.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case events.StageJobDone:
			s.finish(evt, "complete")
		case events.StageJobError:
			s.finish(evt, "error")
		case events.StagePageDone:
			s.observePage(evt, "extracted")
		case events.StagePageSkipped:
			s.observePage(evt, "skipped")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt events.Event, result string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observePage(evt events.Event, outcome string) {
	class := evt.StatusClass
	if class == "" {
		class = events.StatusOther
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(outcome, string(class)).Observe(evt.Dur.Seconds())
	}
	if evt.Headless {
		s.headlessPages.Inc()
	}
}

// Close implements events.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
