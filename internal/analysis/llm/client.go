// Package llm sends competitor prompts to Claude through Anthropic's
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/JakeFAU/seo-brief/internal/brief"
	"github.com/JakeFAU/seo-brief/internal/metrics"
)

const (
	// DefaultBaseURL is Anthropic's OpenAI SDK compatibility endpoint.
	DefaultBaseURL = "https://api.anthropic.com/v1/"
	// DefaultModel is the Claude model used for briefs.
	DefaultModel = "claude-sonnet-4-6"
	// DefaultMaxTokens caps the brief length.
	DefaultMaxTokens = 4096
	// DefaultTimeout bounds one Analyze call.
	DefaultTimeout = 120 * time.Second
)

// Config controls the analysis client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements brief.Analyzer.
type Client struct {
	client    openai.Client
	apiKey    string
	model     string
	maxTokens int64
	timeout   time.Duration
}

// New builds a Client. The API key is checked on each call so a missing key
// fails the job rather than the process.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:    openai.NewClient(opts...),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		timeout:   cfg.Timeout,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// CheckCredentials reports a missing API key.
func (c *Client) CheckCredentials() error {
	if strings.TrimSpace(c.apiKey) == "" {
		return &brief.CredentialError{Name: "ANTHROPIC_API_KEY"}
	}
	return nil
}

// Analyze sends prompt as a single user message and returns the reply text.
// Failures are returned as is; there is no retry.
func (c *Client) Analyze(ctx context.Context, prompt string) (brief.Analysis, error) {
	if err := c.CheckCredentials(); err != nil {
		return brief.Analysis{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	analysis, err := c.complete(ctx, prompt)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveAnalysis(outcome, time.Since(start))
	return analysis, err
}

func (c *Client) complete(ctx context.Context, prompt string) (brief.Analysis, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(c.maxTokens),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return brief.Analysis{}, fmt.Errorf("chat completion failed with status %d: %w", apiErr.StatusCode, err)
		}
		return brief.Analysis{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return brief.Analysis{}, brief.ErrEmptyAnalysis
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return brief.Analysis{}, brief.ErrEmptyAnalysis
	}
	model := string(completion.Model)
	if model == "" {
		model = c.model
	}
	return brief.Analysis{Text: text, Model: model}, nil
}

var (
	_ brief.Analyzer          = (*Client)(nil)
	_ brief.CredentialChecker = (*Client)(nil)
)
