package brief

import (
	"context"
	"io"
	"time"
)

// JobStore owns job state for the life of the process. Each entry has a
// single writer (its worker) and any number of readers.
type JobStore interface {
	Create(ctx context.Context, topic string) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)
	AppendProgress(ctx context.Context, jobID string, message string)
	MarkRunning(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result string, competitors []Competitor) error
	Fail(ctx context.Context, jobID string, errText string) error
	Count(ctx context.Context) int
}

// Queue provides enqueue/dequeue semantics for brief jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Searcher returns ranked organic results for a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// CredentialChecker is implemented by collaborators that need an API key.
// The worker checks every one before starting network work.
type CredentialChecker interface {
	CheckCredentials() error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns an HTML document into readable text.
type Extractor interface {
	Extract(body []byte, fallbackTitle string) (Page, error)
}

// RenderDetector decides whether a page needs a headless browser.
type RenderDetector interface {
	ShouldRender(resp FetchResponse, page Page) bool
}

// Analyzer sends a prompt to a language model.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (Analysis, error)
}

// Renderer builds the final HTML artifact.
type Renderer interface {
	Render(report Report) (string, error)
}

// Limiter paces requests per destination host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes finished reports and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used in archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
