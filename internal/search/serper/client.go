// Package serper queries the Serper Google Search API for organic results.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// DefaultEndpoint is the Serper search URL.
const DefaultEndpoint = "https://google.serper.dev/search"

// Config controls the Serper client.
type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// Client implements brief.Searcher.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New builds a Client. A missing API key is not an error here; each Search
// reports it so the failure lands on the job that needed it.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{apiKey: cfg.APIKey, endpoint: cfg.Endpoint, http: httpClient}
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
}

type searchResponse struct {
	Organic []struct {
		Link     string `json:"link"`
		Title    string `json:"title"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// CheckCredentials reports a missing API key.
func (c *Client) CheckCredentials() error {
	if strings.TrimSpace(c.apiKey) == "" {
		return &brief.CredentialError{Name: "SERPER_API_KEY"}
	}
	return nil
}

// Search returns up to limit organic results ranked from 1. Serper is asked
// for limit results, but the list is trimmed again here because results
// without a link are dropped. A limit of zero takes Serper's default page.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]brief.SearchResult, error) {
	if err := c.CheckCredentials(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(searchRequest{Query: query, Num: limit})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &brief.UpstreamStatusError{Code: resp.StatusCode, URL: c.endpoint}
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]brief.SearchResult, 0, limit)
	for _, item := range decoded.Organic {
		if limit > 0 && len(results) == limit {
			break
		}
		if item.Link == "" {
			continue
		}
		rank := len(results) + 1
		title := item.Title
		if title == "" {
			title = fmt.Sprintf("Page %d", rank)
		}
		results = append(results, brief.SearchResult{Rank: rank, URL: item.Link, Title: title})
	}
	return results, nil
}
