// Package config loads and validates service configuration via Viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultAllowedOrigins lets a local dev server and file:// pages reach the API.
var DefaultAllowedOrigins = []string{"http://localhost:8000", "http://127.0.0.1:8000", "null"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
	RequestTimeoutSeconds    int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	MaxResults         int `mapstructure:"max_results"`
	PageTimeoutSeconds int `mapstructure:"page_timeout_seconds"`
}

// SearchConfig configures the Serper client.
type SearchConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// FetchConfig configures the colly page fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the chromedp rendering fallback.
type HeadlessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	SettleMs        int    `mapstructure:"settle_ms"`
	MinContentRunes int    `mapstructure:"min_content_runes"`
	ExecPath        string `mapstructure:"exec_path"`
	NoSandbox       bool   `mapstructure:"no_sandbox"`
}

// RateLimitConfig configures per-domain politeness. Overrides is a list
// rather than a map because viper splits keys on dots, which would turn a
// hostname key into nested sections.
type RateLimitConfig struct {
	Enabled      bool       `mapstructure:"enabled"`
	DefaultRPS   float64    `mapstructure:"default_rps"`
	DefaultBurst int        `mapstructure:"default_burst"`
	Overrides    []HostRate `mapstructure:"overrides"`
}

// HostRate sets the request rate for one hostname.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// OverrideMap indexes the overrides by hostname. Later entries win.
func (r RateLimitConfig) OverrideMap() map[string]float64 {
	out := make(map[string]float64, len(r.Overrides))
	for _, o := range r.Overrides {
		out[o.Host] = o.RPS
	}
	return out
}

// AnalysisConfig configures the language model client.
type AnalysisConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StreamConfig controls the progress stream polling loop.
type StreamConfig struct {
	IntervalMs     int `mapstructure:"interval_ms"`
	HeartbeatTicks int `mapstructure:"heartbeat_ticks"`
}

// ArchiveConfig selects where finished reports are exported.
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Backend      string `mapstructure:"backend"`
	Prefix       string `mapstructure:"prefix"`
	ContentType  string `mapstructure:"content_type"`
	LocalDir     string `mapstructure:"local_dir"`
	Bucket       string `mapstructure:"bucket"`
	CacheControl string `mapstructure:"cache_control"`
}

// PubSubConfig holds metadata for report-ready notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig configures the pipeline lifecycle hub.
type EventsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEnabled     bool `mapstructure:"log_enabled"`
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int  `mapstructure:"sink_timeout_ms"`
}

// Archive backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from an optional .env file, an optional config file
// and the environment. Missing API keys are not an error here; they fail
// each job instead.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("BRIEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	origins, err := ParseOrigins(v.Get("cors.allowed_origins"))
	if err != nil {
		return Config{}, err
	}
	cfg.CORS.AllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv exports the variables in name unless they are already set. A
// missing file is not an error.
func LoadDotEnv(name string) error {
	if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("cors.allowed_origins", DefaultAllowedOrigins)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_results", 5)
	v.SetDefault("worker.page_timeout_seconds", 30)
	v.SetDefault("search.endpoint", "https://google.serper.dev/search")
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.min_content_runes", 200)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 1)
	v.SetDefault("analysis.base_url", "https://api.anthropic.com/v1/")
	v.SetDefault("analysis.model", "claude-sonnet-4-6")
	v.SetDefault("analysis.max_tokens", 4096)
	v.SetDefault("analysis.timeout_seconds", 120)
	v.SetDefault("stream.interval_ms", 1000)
	v.SetDefault("stream.heartbeat_ticks", 15)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendMemory)
	v.SetDefault("archive.prefix", "briefs")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.metrics_enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.max_batch_wait_ms", 250)
	v.SetDefault("events.sink_timeout_ms", 5000)
}

// bindEnv maps the unprefixed variable names used by deployments. The BRIEF_
// form wins when both are set.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"search.api_key":       {"BRIEF_SEARCH_API_KEY", "SERPER_API_KEY"},
		"analysis.api_key":     {"BRIEF_ANALYSIS_API_KEY", "ANTHROPIC_API_KEY"},
		"cors.allowed_origins": {"BRIEF_CORS_ALLOWED_ORIGINS", "CORS_ORIGINS"},
		"server.port":          {"BRIEF_SERVER_PORT", "PORT"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// ParseOrigins accepts a JSON array, a comma separated list or an already
// decoded slice. Empty input yields DefaultAllowedOrigins.
func ParseOrigins(raw any) ([]string, error) {
	var origins []string
	switch val := raw.(type) {
	case nil:
	case []string:
		origins = val
	case []any:
		for _, item := range val {
			origins = append(origins, fmt.Sprint(item))
		}
	case string:
		trimmed := strings.TrimSpace(val)
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal([]byte(trimmed), &origins); err != nil {
				return nil, fmt.Errorf("parse cors origins: %w", err)
			}
			break
		}
		origins = strings.Split(trimmed, ",")
	default:
		return nil, fmt.Errorf("parse cors origins: unsupported type %T", raw)
	}

	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultAllowedOrigins...), nil
	}
	return out, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MaxResults <= 0 {
		return fmt.Errorf("worker.max_results must be > 0")
	}
	if c.Worker.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.page_timeout_seconds must be > 0")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		return fmt.Errorf("analysis.timeout_seconds must be > 0")
	}
	if c.Stream.IntervalMs <= 0 {
		return fmt.Errorf("stream.interval_ms must be > 0")
	}
	if c.Stream.HeartbeatTicks <= 0 {
		return fmt.Errorf("stream.heartbeat_ticks must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("ratelimit.default_rps must be > 0 when rate limiting is enabled")
	}
	for i, o := range c.RateLimit.Overrides {
		if o.Host == "" || o.RPS <= 0 {
			return fmt.Errorf("ratelimit.overrides[%d] needs a host and rps > 0", i)
		}
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendMemory:
		case BackendLocal:
			if strings.TrimSpace(c.Archive.LocalDir) == "" {
				return fmt.Errorf("archive.local_dir must be set for the local backend")
			}
		case BackendGCS:
			if strings.TrimSpace(c.Archive.Bucket) == "" {
				return fmt.Errorf("archive.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
		}
	}
	if (c.PubSub.TopicName == "") != (c.PubSub.ProjectID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// StreamInterval is the polling period of progress streams.
func (c Config) StreamInterval() time.Duration {
	return time.Duration(c.Stream.IntervalMs) * time.Millisecond
}

// RequestTimeout bounds non-streaming HTTP handlers.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeoutSeconds)
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
