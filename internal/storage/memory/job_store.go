package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// JobStore keeps brief jobs in process memory. Snapshots handed to callers
// are deep copies, so readers always see a prefix-consistent progress log.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*brief.Job
	idGen brief.IDGenerator
	clock brief.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(idGen brief.IDGenerator, clock brief.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]*brief.Job),
		idGen: idGen,
		clock: clock,
	}
}

// Create allocates a fresh id and stores a queued job for topic.
func (s *JobStore) Create(_ context.Context, topic string) (brief.Job, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return brief.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[jobID]; exists {
		return brief.Job{}, fmt.Errorf("%w: %s", brief.ErrJobExists, jobID)
	}
	job := &brief.Job{
		ID:        jobID,
		Topic:     topic,
		Status:    brief.StatusQueued,
		Progress:  []string{},
		Submitted: s.clock.Now(),
	}
	s.jobs[jobID] = job
	return job.Clone(), nil
}

// Get fetches a job snapshot by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (brief.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return brief.Job{}, brief.ErrJobNotFound
	}
	return job.Clone(), nil
}

// AppendProgress adds a message to the job's log. Unknown ids and finished
// jobs are ignored.
func (s *JobStore) AppendProgress(_ context.Context, jobID string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Progress = append(job.Progress, message)
}

// MarkRunning moves a queued job to running.
func (s *JobStore) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return brief.ErrJobNotFound
	}
	switch {
	case job.Status == brief.StatusRunning:
		return nil
	case job.Status.Terminal():
		return fmt.Errorf("%w: %s", brief.ErrAlreadyTerminal, jobID)
	}
	job.Status = brief.StatusRunning
	job.Started = pointerTime(s.clock.Now())
	return nil
}

// Complete records the rendered artifact and finishes the job.
func (s *JobStore) Complete(
	_ context.Context,
	jobID string,
	result string,
	competitors []brief.Competitor,
) error {
	return s.finish(jobID, func(job *brief.Job) {
		job.Status = brief.StatusComplete
		job.Result = result
		job.Competitors = append([]brief.Competitor(nil), competitors...)
	})
}

// Fail records the error text and finishes the job.
func (s *JobStore) Fail(_ context.Context, jobID string, errText string) error {
	return s.finish(jobID, func(job *brief.Job) {
		job.Status = brief.StatusError
		job.Error = errText
	})
}

// Count returns the number of known jobs.
func (s *JobStore) Count(context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) finish(jobID string, apply func(job *brief.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return brief.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", brief.ErrAlreadyTerminal, jobID)
	}
	apply(job)
	now := s.clock.Now()
	if job.Started == nil {
		job.Started = pointerTime(now)
	}
	job.Finished = pointerTime(now)
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
