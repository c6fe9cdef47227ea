package brief

import (
	"net/http"
	"time"
)

// Status represents the lifecycle of a content brief job.
type Status string

// Job statuses. A job only ever moves forward through this list.
const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job is the snapshot of a content brief request as seen by readers.
type Job struct {
	ID          string       `json:"job_id"`
	Topic       string       `json:"topic"`
	Status      Status       `json:"status"`
	Progress    []string     `json:"progress"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	Competitors []Competitor `json:"competitors,omitempty"`
	Submitted   time.Time    `json:"submitted_at"`
	Started     *time.Time   `json:"started_at,omitempty"`
	Finished    *time.Time   `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (j Job) Clone() Job {
	out := j
	out.Progress = append(make([]string, 0, len(j.Progress)), j.Progress...)
	if j.Competitors != nil {
		out.Competitors = append([]Competitor(nil), j.Competitors...)
	}
	if j.Started != nil {
		ts := *j.Started
		out.Started = &ts
	}
	if j.Finished != nil {
		ts := *j.Finished
		out.Finished = &ts
	}
	return out
}

// SearchResult is one organic hit returned by the search provider.
type SearchResult struct {
	Rank  int
	URL   string
	Title string
}

// Competitor is a ranked page after the fetch and extract step. Content is
// empty when the page was skipped.
type Competitor struct {
	Rank      int    `json:"rank"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Extracted bool   `json:"extracted"`
	Headless  bool   `json:"headless,omitempty"`
	Content   string `json:"-"`
}

// Page is the readable text pulled out of an HTML document.
type Page struct {
	Title   string
	Content string
}

// Analysis is the plain-text outcome of the language model call. Failures are
// reported through the accompanying error, never through optional fields.
type Analysis struct {
	Text  string
	Model string
}

// Report carries everything the renderer needs to build the HTML artifact.
type Report struct {
	Topic       string
	Analysis    Analysis
	Competitors []Competitor
	GeneratedAt time.Time
}

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse holds the raw page returned by a Fetcher.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Topic     string
	Submitted int64
}
