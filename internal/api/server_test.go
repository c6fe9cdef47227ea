package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-brief/internal/brief"
	"github.com/JakeFAU/seo-brief/internal/config"
	"github.com/JakeFAU/seo-brief/internal/dispatcher"
	queueMemory "github.com/JakeFAU/seo-brief/internal/queue/memory"
	"github.com/JakeFAU/seo-brief/internal/storage/memory"
	"github.com/JakeFAU/seo-brief/internal/stream"
)

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodPost, "/jobs", `{"topic":"  cold brew coffee  "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "job-1", body["job_id"])

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
	require.Equal(t, "cold brew coffee", item.Topic)

	job, err := h.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, brief.StatusQueued, job.Status)
}

func TestServer_SubmitJob_IDsAreFresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		rec := h.do(http.MethodPost, "/jobs", `{"topic":"espresso"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.False(t, seen[body["job_id"]], "duplicate id %s", body["job_id"])
		seen[body["job_id"]] = true
	}
	require.Equal(t, 3, h.ids.calls())
}

func TestServer_SubmitJob_EmptyTopic(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, body := range []string{`{"topic":"   "}`, `{}`} {
		rec := h.do(http.MethodPost, "/jobs", body)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.Contains(t, rec.Body.String(), "topic cannot be empty")
	}
	require.Equal(t, 0, h.store.Count(context.Background()))
	require.Equal(t, 0, h.queue.Len())
}

func TestServer_SubmitJob_InvalidJSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodPost, "/jobs", "{invalid")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, h.store.Count(context.Background()))
}

func TestServer_SubmitJob_AcceptsBacklog(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	const submissions = 50
	seen := make(map[string]bool, submissions)
	for i := 0; i < submissions; i++ {
		rec := h.do(http.MethodPost, "/jobs", fmt.Sprintf(`{"topic":"topic %d"}`, i))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp["job_id"])
		require.False(t, seen[resp["job_id"]])
		seen[resp["job_id"]] = true
	}
	require.Equal(t, submissions, h.queue.Len())
	require.Equal(t, submissions, h.store.Count(context.Background()))

	job, err := h.store.Get(context.Background(), "job-"+fmt.Sprint(submissions))
	require.NoError(t, err)
	require.Equal(t, brief.StatusQueued, job.Status)
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.createJob("pour over")
	h.store.AppendProgress(context.Background(), job.ID, "Starting content brief for: pour over")

	rec := h.do(http.MethodGet, "/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got brief.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, "pour over", got.Topic)
	require.Equal(t, []string{"Starting content brief for: pour over"}, got.Progress)

	rec = h.do(http.MethodGet, "/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "job not found")
}

func TestServer_GetReport(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.createJob("latte art")

	rec := h.do(http.MethodGet, "/jobs/"+job.ID+"/report", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, h.store.Complete(context.Background(), job.ID, "<html>brief</html>", nil))
	rec = h.do(http.MethodGet, "/jobs/"+job.ID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "<html>brief</html>", rec.Body.String())

	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/jobs/missing/report", "").Code)
}

func TestServer_StreamCompletedJobYieldsOnlyComplete(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.createJob("matcha")
	require.NoError(t, h.store.Complete(context.Background(), job.ID, "<p>done</p>", nil))

	rec := h.do(http.MethodGet, "/jobs/"+job.ID+"/stream", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	frame := rec.Body.String()
	require.True(t, strings.HasPrefix(frame, "event: complete\ndata: "), frame)
	require.Equal(t, 1, strings.Count(frame, "event: "))
	data := strings.TrimSuffix(strings.TrimPrefix(frame, "event: complete\ndata: "), "\n\n")
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	require.Equal(t, "<p>done</p>", payload["report_html"])
}

func TestServer_StreamErroredJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.createJob("chai")
	h.store.AppendProgress(context.Background(), job.ID, "ERROR: boom")
	require.NoError(t, h.store.Fail(context.Background(), job.ID, "boom"))

	rec := h.do(http.MethodGet, "/api/content-brief/"+job.ID+"/stream", "")

	require.Equal(t, http.StatusOK, rec.Code)
	events := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Equal(t, []string{
		"event: progress\ndata: ERROR: boom",
		"event: error\ndata: boom",
	}, events)
}

func TestServer_StreamUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodGet, "/jobs/missing/stream", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServer_LegacyRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/content-brief", `{"keyword":"cortado"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	jobID := body["job_id"]

	require.NoError(t, h.store.Complete(context.Background(), jobID, "<p>cortado</p>", nil))
	rec = h.do(http.MethodGet, "/api/content-brief/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status legacyStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, brief.StatusComplete, status.Status)
	require.Equal(t, "<p>cortado</p>", status.ReportHTML)

	rec = h.do(http.MethodPost, "/api/content-brief", `{"keyword":""}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "keyword cannot be empty")
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createJob("one")
	h.createJob("two")

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","jobs":2}`, rec.Body.String())

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/metrics", "").Code)
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "http://localhost:8000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:8000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	store := &panicStore{JobStore: memory.NewJobStore(&countingIDs{}, fixedClock{})}
	server := NewServer(store, &fakeEnqueuer{}, &fakeStreamer{}, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestServer_StreamHandsRequestContextToStreamer(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(&countingIDs{}, fixedClock{})
	job, err := store.Create(context.Background(), "flat white")
	require.NoError(t, err)
	streamer := &fakeStreamer{events: []stream.Event{{Type: stream.EventHeartbeat, Data: "ping"}}}
	server := NewServer(store, &fakeEnqueuer{}, streamer, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/stream", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, job.ID, streamer.jobID)
	require.Equal(t, "event: heartbeat\ndata: ping\n\n", rec.Body.String())
}

func TestServer_EnqueueFailureFailsJob(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore(&countingIDs{}, fixedClock{})
	enq := &fakeEnqueuer{err: errors.New("queue enqueue: queue closed")}
	server := NewServer(store, enq, &fakeStreamer{}, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"topic":"mocha"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"job_id":"job-1"}`, rec.Body.String())
	job, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, brief.StatusError, job.Status)
	require.Equal(t, []string{"ERROR: queue enqueue: queue closed"}, job.Progress)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newHarness(t).server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type harness struct {
	t      *testing.T
	store  *memory.JobStore
	queue  *queueMemory.Queue
	ids    *countingIDs
	server *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ids := &countingIDs{}
	store := memory.NewJobStore(ids, fixedClock{})
	q := queueMemory.NewQueue()
	dispatch := dispatcher.New(q, nil)
	streamer := stream.New(store, stream.Config{Interval: 5 * time.Millisecond})
	cfg := config.Config{
		Server: config.ServerConfig{RequestTimeoutSeconds: 5},
		CORS:   config.CORSConfig{AllowedOrigins: config.DefaultAllowedOrigins},
	}
	return &harness{
		t:      t,
		store:  store,
		queue:  q,
		ids:    ids,
		server: NewServer(store, dispatch, streamer, cfg, zap.NewNop()),
	}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) createJob(topic string) brief.Job {
	h.t.Helper()
	job, err := h.store.Create(context.Background(), topic)
	require.NoError(h.t, err)
	return job
}

type countingIDs struct {
	mu sync.Mutex
	n  int
}

func (c *countingIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("job-%d", c.n), nil
}

func (c *countingIDs) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(100, 0).UTC() }

type fakeEnqueuer struct {
	err error
}

func (f *fakeEnqueuer) Enqueue(context.Context, brief.QueueItem) error {
	return f.err
}

type fakeStreamer struct {
	events []stream.Event
	jobID  string
}

func (f *fakeStreamer) Stream(_ context.Context, jobID string, send func(stream.Event) error) error {
	f.jobID = jobID
	for _, evt := range f.events {
		if err := send(evt); err != nil {
			return err
		}
	}
	return nil
}

type panicStore struct {
	brief.JobStore
}

func (panicStore) Count(context.Context) int {
	panic("count exploded")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
