package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

func TestFetcherCollectorSettings(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "brief-agent", Timeout: time.Second})
	collector := f.collector(&visit{})
	require.Equal(t, "brief-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)

	f = New(Config{RespectRobots: true})
	collector = f.collector(&visit{})
	require.Equal(t, DefaultUserAgent, collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
}

func TestVisitCallbacks(t *testing.T) {
	t.Parallel()

	v := &visit{
		request: brief.FetchRequest{URL: "https://example.com", Headers: http.Header{"X-Trace": {"yes"}}},
		start:   time.Unix(0, 0),
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, acceptHTML, collyReq.Headers.Get("Accept"))

	v.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/guide")},
	})
	require.NoError(t, v.err)
	require.Equal(t, "https://example.com/guide", v.response.URL)
	require.Equal(t, "body", string(v.response.Body))

	v.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Headers:    &http.Header{"Content-Type": {"application/pdf"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/guide.pdf")},
	})
	require.ErrorIs(t, v.err, ErrNotHTML)

	v.onError(nil, errors.New("boom"))
	require.EqualError(t, v.err, "boom")

	v.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	var statusErr *brief.UpstreamStatusError
	require.ErrorAs(t, v.err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	require.True(t, isHTML(""))
	require.True(t, isHTML("text/html"))
	require.True(t, isHTML("application/xhtml+xml; charset=utf-8"))
	require.False(t, isHTML("application/pdf"))
	require.False(t, isHTML(";;"))
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/whitepaper.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.7"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body><article>hello</article></body></html>"))
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), brief.FetchRequest{URL: srv.URL + "/post"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.Equal(t, DefaultUserAgent, gotUA.Load())

	_, err = f.Fetch(context.Background(), brief.FetchRequest{URL: srv.URL + "/missing"})
	var statusErr *brief.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)

	_, err = f.Fetch(context.Background(), brief.FetchRequest{URL: srv.URL + "/whitepaper.pdf"})
	require.ErrorIs(t, err, ErrNotHTML)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, brief.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
