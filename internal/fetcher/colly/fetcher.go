// Package collyfetcher implements the static page Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// DefaultUserAgent identifies requests the way search crawlers do, which
// most publishers serve full article markup to.
const DefaultUserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

const acceptHTML = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"

// ErrNotHTML is returned when a ranked result points at a PDF, image or other
// document the extractor cannot read.
var ErrNotHTML = errors.New("not an HTML page")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher implements brief.Fetcher using the Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes a single HTTP GET using Colly. Redirects are followed, any
// non-2xx answer is reported as *brief.UpstreamStatusError and non-HTML bodies as
// ErrNotHTML.
func (f *Fetcher) Fetch(ctx context.Context, request brief.FetchRequest) (brief.FetchResponse, error) {
	v := &visit{request: request, start: time.Now()}
	collector := f.collector(v)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return brief.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if v.err != nil {
			return brief.FetchResponse{}, fmt.Errorf("colly response failed: %w", v.err)
		}
		if err != nil {
			return brief.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		return v.response, nil
	}
}

// collector clones the shared collector so each page gets its own callbacks.
func (f *Fetcher) collector(v *visit) *colly.Collector {
	c := f.base.Clone()
	c.UserAgent = f.cfg.UserAgent
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)
	return c
}

// visit collects the outcome of one page fetch.
type visit struct {
	request  brief.FetchRequest
	start    time.Time
	response brief.FetchResponse
	err      error
}

func (v *visit) onRequest(r *colly.Request) {
	r.Headers.Set("Accept", acceptHTML)
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	if contentType := r.Headers.Get("Content-Type"); !isHTML(contentType) {
		v.err = fmt.Errorf("%w: %s", ErrNotHTML, contentType)
		return
	}
	v.response = brief.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode != 0 {
		v.err = fmt.Errorf("%w: %v", &brief.UpstreamStatusError{Code: r.StatusCode, URL: v.request.URL}, err)
		return
	}
	v.err = err
}

// isHTML accepts a missing Content-Type so the extractor can decide.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
