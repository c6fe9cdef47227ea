// Package worker runs the content brief pipeline for queued jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-brief/internal/archive"
	"github.com/JakeFAU/seo-brief/internal/brief"
	"github.com/JakeFAU/seo-brief/internal/events"
	"github.com/JakeFAU/seo-brief/internal/metrics"
)

// Progress line widths.
const (
	fetchURLWidth   = 70
	titleWidth      = 50
	defaultResults  = 5
	defaultPageWait = 30 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	// MaxResults is how many organic results are fetched and analyzed.
	MaxResults int
	// PageTimeout bounds the fetch of a single competitor page.
	PageTimeout time.Duration
}

// Archiver exports finished reports. *archive.Archiver satisfies it.
type Archiver interface {
	Archive(ctx context.Context, job brief.Job, html string) (archive.ReportReady, error)
}

// Deps are the collaborators a Worker drives. Headless, Detector, Limiter,
// Archiver and Events are optional.
type Deps struct {
	Queue     brief.Queue
	Store     brief.JobStore
	Searcher  brief.Searcher
	Fetcher   brief.Fetcher
	Headless  brief.Fetcher
	Detector  brief.RenderDetector
	Extractor brief.Extractor
	Analyzer  brief.Analyzer
	Renderer  brief.Renderer
	Limiter   brief.Limiter
	Archiver  Archiver
	Events    events.Emitter
	Clock     brief.Clock
}

// Worker consumes queue items and executes the pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultResults
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageWait
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run consumes queue items until the queue closes or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, brief.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs one job to a terminal state. Every error and panic inside the
// pipeline ends up as the job's error; nothing escapes to the caller.
func (w *Worker) Process(ctx context.Context, item brief.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.deps.Clock.Now()
	logger := w.logger.With(zap.String("job_id", item.JobID))

	if err := w.deps.Store.MarkRunning(ctx, item.JobID); err != nil {
		logger.Warn("job not runnable", zap.Error(err))
		return
	}
	w.deps.Events.Emit(events.Event{JobID: item.JobID, TS: start, Stage: events.StageJobStart})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			w.fail(ctx, item, fmt.Errorf("internal error: %v", r), start)
		}
	}()

	html, competitors, err := w.execute(ctx, item)
	if err != nil {
		logger.Error("brief failed", zap.Error(err))
		w.fail(ctx, item, err, start)
		return
	}

	final := context.WithoutCancel(ctx)
	w.progress(final, item.JobID, "Content brief ready!")
	if err := w.deps.Store.Complete(final, item.JobID, html, competitors); err != nil {
		logger.Error("complete job failed", zap.Error(err))
		return
	}
	elapsed := w.deps.Clock.Now().Sub(start)
	metrics.ObserveJob(string(brief.StatusComplete))
	w.deps.Events.Emit(events.Event{JobID: item.JobID, TS: w.deps.Clock.Now(), Stage: events.StageJobDone, Dur: elapsed})
	logger.Info("brief complete", zap.Duration("elapsed", elapsed), zap.Int("competitors", len(competitors)))
}

func (w *Worker) execute(ctx context.Context, item brief.QueueItem) (string, []brief.Competitor, error) {
	w.progress(ctx, item.JobID, "Starting content brief for: "+item.Topic)

	if err := w.checkCredentials(); err != nil {
		return "", nil, err
	}

	w.progress(ctx, item.JobID, "Searching Google via Serper API...")
	results, err := w.deps.Searcher.Search(ctx, item.Topic, w.cfg.MaxResults)
	if err != nil {
		return "", nil, fmt.Errorf("search: %w", err)
	}
	if len(results) > w.cfg.MaxResults {
		results = results[:w.cfg.MaxResults]
	}
	if len(results) == 0 {
		return "", nil, brief.ErrNoSearchResults
	}

	w.progress(ctx, item.JobID, fmt.Sprintf("Found %d results — fetching competitor pages...", len(results)))
	competitors := make([]brief.Competitor, 0, len(results))
	for i, result := range results {
		competitors = append(competitors, w.processResult(ctx, item.JobID, i+1, len(results), result))
	}

	w.progress(ctx, item.JobID, "Building competitor analysis prompt...")
	prompt := brief.BuildPrompt(item.Topic, competitors)

	w.progress(ctx, item.JobID, "Sending to the language model for content brief analysis...")
	analysis, err := w.deps.Analyzer.Analyze(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("analysis: %w", err)
	}
	w.progress(ctx, item.JobID, "Analysis complete — formatting report...")

	html, err := w.deps.Renderer.Render(brief.Report{
		Topic:       item.Topic,
		Analysis:    analysis,
		Competitors: competitors,
		GeneratedAt: w.deps.Clock.Now(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("render report: %w", err)
	}

	w.archive(ctx, item, html, competitors)
	return html, competitors, nil
}

func (w *Worker) checkCredentials() error {
	for _, dep := range []any{w.deps.Searcher, w.deps.Analyzer} {
		if checker, ok := dep.(brief.CredentialChecker); ok {
			if err := checker.CheckCredentials(); err != nil {
				return err
			}
		}
	}
	return nil
}

// processResult fetches and extracts one ranked page. It never fails the job:
// any error becomes a single "Skipped" note and an empty competitor entry.
func (w *Worker) processResult(ctx context.Context, jobID string, index, total int, result brief.SearchResult) brief.Competitor {
	w.progress(ctx, jobID, fmt.Sprintf("[%d/%d] Fetching %s...", index, total, brief.Truncate(result.URL, fetchURLWidth)))

	competitor := brief.Competitor{Rank: result.Rank, URL: result.URL, Title: result.Title}
	site := metrics.SanitizeSite(result.URL)
	evt := events.Event{JobID: jobID, Rank: index, Site: site, URL: result.URL}

	start := w.deps.Clock.Now()
	page, resp, err := w.fetchPage(ctx, jobID, result)
	evt.TS = w.deps.Clock.Now()
	evt.Dur = evt.TS.Sub(start)
	if resp.StatusCode != 0 {
		evt.StatusClass = events.ClassifyStatus(resp.StatusCode)
	}

	if err != nil {
		w.progress(ctx, jobID, fmt.Sprintf("Skipped page %d (%s)", index, err))
		w.logger.Warn("page skipped", zap.String("job_id", jobID), zap.String("url", result.URL), zap.Error(err))
		metrics.ObservePage(result.URL, "skipped", len(resp.Body))
		evt.Stage = events.StagePageSkipped
		evt.Note = err.Error()
		w.deps.Events.Emit(evt)
		return competitor
	}

	competitor.Title = page.Title
	competitor.Content = page.Content
	competitor.Extracted = true
	competitor.Headless = resp.UsedHeadless
	w.progress(ctx, jobID, fmt.Sprintf("Extracted content from page %d: %s", index, brief.Truncate(page.Title, titleWidth)))
	metrics.ObservePage(result.URL, "extracted", len(resp.Body))
	evt.Stage = events.StagePageDone
	evt.Bytes = int64(len(resp.Body))
	evt.Headless = resp.UsedHeadless
	w.deps.Events.Emit(evt)
	return competitor
}

func (w *Worker) fetchPage(ctx context.Context, jobID string, result brief.SearchResult) (brief.Page, brief.FetchResponse, error) {
	pageCtx, cancel := context.WithTimeout(ctx, w.cfg.PageTimeout)
	defer cancel()

	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(pageCtx, result.URL); err != nil {
			return brief.Page{}, brief.FetchResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := brief.FetchRequest{JobID: jobID, URL: result.URL}
	resp, err := w.deps.Fetcher.Fetch(pageCtx, req)
	if err != nil {
		return brief.Page{}, resp, err
	}
	page, err := w.deps.Extractor.Extract(resp.Body, result.Title)
	if err != nil {
		return brief.Page{}, resp, err
	}

	if rendered, renderedPage, ok := w.maybeRender(pageCtx, req, resp, page); ok {
		return renderedPage, rendered, nil
	}
	return page, resp, nil
}

// maybeRender re-fetches through the headless browser when the static page
// looks like a script shell. The static result stands if rendering fails.
func (w *Worker) maybeRender(
	ctx context.Context,
	req brief.FetchRequest,
	resp brief.FetchResponse,
	page brief.Page,
) (brief.FetchResponse, brief.Page, bool) {
	if w.deps.Headless == nil || w.deps.Detector == nil || !w.deps.Detector.ShouldRender(resp, page) {
		return resp, page, false
	}

	rendered, err := w.deps.Headless.Fetch(ctx, req)
	if err != nil {
		w.logger.Warn("headless render failed", zap.String("job_id", req.JobID), zap.String("url", req.URL), zap.Error(err))
		return resp, page, false
	}
	rendered.UsedHeadless = true
	renderedPage, err := w.deps.Extractor.Extract(rendered.Body, page.Title)
	if err != nil || renderedPage.Content == "" {
		return resp, page, false
	}
	w.logger.Debug("headless render applied", zap.String("job_id", req.JobID), zap.String("url", req.URL))
	return rendered, renderedPage, true
}

func (w *Worker) archive(ctx context.Context, item brief.QueueItem, html string, competitors []brief.Competitor) {
	if w.deps.Archiver == nil {
		return
	}
	job := brief.Job{ID: item.JobID, Topic: item.Topic, Status: brief.StatusComplete, Competitors: competitors}
	if _, err := w.deps.Archiver.Archive(ctx, job, html); err != nil {
		w.logger.Warn("report archive failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func (w *Worker) progress(ctx context.Context, jobID, message string) {
	w.deps.Store.AppendProgress(ctx, jobID, message)
	w.logger.Debug("progress", zap.String("job_id", jobID), zap.String("message", message))
}

func (w *Worker) fail(ctx context.Context, item brief.QueueItem, err error, start time.Time) {
	final := context.WithoutCancel(ctx)
	msg := err.Error()
	w.progress(final, item.JobID, "ERROR: "+msg)
	if ferr := w.deps.Store.Fail(final, item.JobID, msg); ferr != nil {
		w.logger.Error("fail job", zap.String("job_id", item.JobID), zap.Error(ferr))
		return
	}
	metrics.ObserveJob(string(brief.StatusError))
	now := w.deps.Clock.Now()
	w.deps.Events.Emit(events.Event{
		JobID: item.JobID,
		TS:    now,
		Stage: events.StageJobError,
		Dur:   now.Sub(start),
		Note:  msg,
	})
}
