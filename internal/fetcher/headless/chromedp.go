// Package headless renders competitor pages that only produce their article
// text after client-side JavaScript runs.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
	acceptLanguage           = "en-US,en;q=0.9"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps open tabs; zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready before reading the DOM.
	Settle    time.Duration
	ExecPath  string
	NoSandbox bool
}

// Fetcher implements brief.Fetcher with one shared Chrome process and a tab per page.
type Fetcher struct {
	cfg      Config
	tabs     slots
	browser  context.Context
	shutdown context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome starts on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("mute-audio", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	browser, shutdown := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:      cfg,
		tabs:     newSlots(cfg.MaxParallel),
		browser:  browser,
		shutdown: shutdown,
	}, nil
}

// Close stops the browser process.
func (f *Fetcher) Close() {
	f.shutdown()
}

// Fetch opens req.URL in a fresh tab and returns the rendered DOM. A main
// document answered with 400 or above is reported as *brief.UpstreamStatusError.
func (f *Fetcher) Fetch(ctx context.Context, req brief.FetchRequest) (brief.FetchResponse, error) {
	if err := f.tabs.acquire(ctx); err != nil {
		return brief.FetchResponse{}, err
	}
	defer f.tabs.release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		f.prepareTab(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return brief.FetchResponse{}, fmt.Errorf("render %s: %w", req.URL, err)
	}

	status, finalURL, header := doc.result(req.URL, location)
	if status >= http.StatusBadRequest {
		return brief.FetchResponse{}, &brief.UpstreamStatusError{Code: status, URL: req.URL}
	}
	return brief.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      header,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) prepareTab(extra http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(f.cfg.UserAgent).WithAcceptLanguage(acceptLanguage)
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(extra)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// slots bounds concurrent tabs. A nil slots never blocks.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		return nil
	}
	return make(slots, n)
}

func (s slots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

// documentResponse keeps the first document response seen in a tab, which is
// the page itself; later ones belong to iframes.
type documentResponse struct {
	mu     sync.Mutex
	seen   bool
	status int
	url    string
	header http.Header
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.header = fromNetworkHeaders(resp.Response.Headers)
}

// result falls back to the tab location, then the requested URL, and treats
// a missing status as 200.
func (d *documentResponse) result(requestURL, location string) (int, string, http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	url := d.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	header := d.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return status, url, header
}

// fromNetworkHeaders splits the newline-joined values Chrome reports for
// repeated headers.
func fromNetworkHeaders(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for key, value := range h {
		for _, line := range strings.Split(fmt.Sprint(value), "\n") {
			out.Add(key, line)
		}
	}
	return out
}

func toNetworkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
