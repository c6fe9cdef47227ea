package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2, NoSandbox: true})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.tabs))
	require.Equal(t, defaultSettle, fetcher.cfg.Settle)
	require.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)

	unlimited, err := NewChromedp(Config{NavigationTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(unlimited.Close)
	require.Nil(t, unlimited.tabs)
	require.Equal(t, time.Second, unlimited.cfg.NavigationTimeout)
}

func TestSlotsRespectContext(t *testing.T) {
	t.Parallel()

	tabs := newSlots(1)
	require.NoError(t, tabs.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tabs.acquire(ctx), context.Canceled)

	tabs.release()
	require.NoError(t, tabs.acquire(context.Background()))

	var unlimited slots
	require.NoError(t, unlimited.acquire(ctx))
	unlimited.release()
}

func TestHeaderConversion(t *testing.T) {
	t.Parallel()

	out := toNetworkHeaders(http.Header{"Accept": {"text/html", "application/xhtml+xml"}, "Empty": {}})
	require.Equal(t, "text/html, application/xhtml+xml", out["Accept"])
	require.NotContains(t, out, "Empty")

	in := fromNetworkHeaders(network.Headers{"Set-Cookie": "a=1\nb=2", "Content-Type": "text/html"})
	require.Equal(t, []string{"a=1", "b=2"}, in.Values("Set-Cookie"))
	require.Equal(t, "text/html", in.Get("Content-Type"))
}

func TestDocumentResponseKeepsMainDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/guide",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://ads.example.net/frame"},
	})

	status, url, header := doc.result("https://req", "https://location")
	require.Equal(t, 203, status)
	require.Equal(t, "https://example.com/guide", url)
	require.Equal(t, "abc", header.Get("X-Request-ID"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	status, url, header := doc.result("https://req", "https://location")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://location", url)
	require.NotNil(t, header)

	_, url, _ = doc.result("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), brief.FetchRequest{})
	require.ErrorIs(t, err, ErrDisabled)
}
