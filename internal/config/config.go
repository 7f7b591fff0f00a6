package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	DispatchInline = "inline"
	DispatchAsynq  = "asynq"

	SummarizerOpenAI = "openai"
	SummarizerGemini = "gemini"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	StoreBackend string
	DatabaseURL  string

	DispatchMode      string
	RedisAddr         string
	QueueName         string
	WorkerConcurrency int

	UpstreamBaseURL    string
	UpstreamAPIKey     string
	TranscriptionModel string

	SummarizerBackend string
	SummaryModel      string
	GeminiAPIKeys     []string
	GeminiModel       string

	AppleBearerToken string
	AppleStorefront  string
	AppleAPIBaseURL  string
	ITunesBaseURL    string
	MatchThreshold   float64

	SplitThresholdChars int
	MaxAudioBytes       int64
	MaxTranscriptChars  int

	RequestTimeout         time.Duration
	PresuppliedTimeout     time.Duration
	MatchTimeout           time.Duration
	AppleMetadataTimeout   time.Duration
	AppleAssetTimeout      time.Duration
	AudioDownloadTimeout   time.Duration
	TranscriptionTimeout   time.Duration
	SummaryTimeout         time.Duration
	JobTimeout             time.Duration
	TranscriptWaitInterval time.Duration
	StreamPollInterval     time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	NotifyWebhookURL string
}

type envConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`

	DispatchMode      string `env:"DISPATCH_MODE" envDefault:"inline"`
	RedisAddr         string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	QueueName         string `env:"QUEUE_NAME" envDefault:"summaries"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"4"`

	UpstreamBaseURL    string `env:"UPSTREAM_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	UpstreamAPIKey     string `env:"UPSTREAM_API_KEY"`
	TranscriptionModel string `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-large-v3"`

	SummarizerBackend string   `env:"SUMMARIZER_BACKEND" envDefault:"openai"`
	SummaryModel      string   `env:"SUMMARY_MODEL" envDefault:"meta-llama/llama-4-scout-17b-16e-instruct"`
	GeminiAPIKeys     []string `env:"GEMINI_API_KEY" envSeparator:","`
	GeminiModel       string   `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	AppleBearerToken string  `env:"APPLE_BEARER_TOKEN"`
	AppleStorefront  string  `env:"APPLE_STOREFRONT" envDefault:"us"`
	AppleAPIBaseURL  string  `env:"APPLE_API_BASE_URL" envDefault:"https://amp-api.podcasts.apple.com"`
	ITunesBaseURL    string  `env:"ITUNES_BASE_URL" envDefault:"https://itunes.apple.com"`
	MatchThreshold   float64 `env:"MATCH_THRESHOLD" envDefault:"0.3"`

	SplitThresholdChars int   `env:"SPLIT_THRESHOLD_CHARS" envDefault:"500"`
	MaxAudioBytes       int64 `env:"MAX_AUDIO_BYTES" envDefault:"209715200"`
	MaxTranscriptChars  int   `env:"MAX_TRANSCRIPT_CHARS" envDefault:"120000"`

	RequestTimeoutSeconds       int           `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"15"`
	PresuppliedTimeoutSeconds   int           `env:"PRESUPPLIED_TIMEOUT_SECONDS" envDefault:"15"`
	MatchTimeoutSeconds         int           `env:"MATCH_TIMEOUT_SECONDS" envDefault:"10"`
	AppleMetadataTimeoutSeconds int           `env:"APPLE_METADATA_TIMEOUT_SECONDS" envDefault:"10"`
	AppleAssetTimeoutSeconds    int           `env:"APPLE_ASSET_TIMEOUT_SECONDS" envDefault:"30"`
	AudioDownloadTimeoutSeconds int           `env:"AUDIO_DOWNLOAD_TIMEOUT_SECONDS" envDefault:"300"`
	TranscriptionTimeoutSeconds int           `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"600"`
	SummaryTimeoutSeconds       int           `env:"SUMMARY_TIMEOUT_SECONDS" envDefault:"120"`
	JobTimeoutSeconds           int           `env:"JOB_TIMEOUT_SECONDS" envDefault:"2700"`
	TranscriptWaitInterval      time.Duration `env:"TRANSCRIPT_WAIT_INTERVAL" envDefault:"2s"`
	StreamPollInterval          time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"1s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`

	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: strings.TrimSpace(raw.ListenAddr),
		LogLevel:   strings.ToLower(strings.TrimSpace(raw.LogLevel)),

		StoreBackend: strings.ToLower(strings.TrimSpace(raw.StoreBackend)),
		DatabaseURL:  strings.TrimSpace(raw.DatabaseURL),

		DispatchMode:      strings.ToLower(strings.TrimSpace(raw.DispatchMode)),
		RedisAddr:         strings.TrimSpace(raw.RedisAddr),
		QueueName:         strings.TrimSpace(raw.QueueName),
		WorkerConcurrency: raw.WorkerConcurrency,

		UpstreamBaseURL:    trimURL(raw.UpstreamBaseURL),
		UpstreamAPIKey:     strings.TrimSpace(raw.UpstreamAPIKey),
		TranscriptionModel: strings.TrimSpace(raw.TranscriptionModel),

		SummarizerBackend: strings.ToLower(strings.TrimSpace(raw.SummarizerBackend)),
		SummaryModel:      strings.TrimSpace(raw.SummaryModel),
		GeminiAPIKeys:     compact(raw.GeminiAPIKeys),
		GeminiModel:       strings.TrimSpace(raw.GeminiModel),

		AppleBearerToken: strings.TrimSpace(raw.AppleBearerToken),
		AppleStorefront:  strings.ToLower(strings.TrimSpace(raw.AppleStorefront)),
		AppleAPIBaseURL:  trimURL(raw.AppleAPIBaseURL),
		ITunesBaseURL:    trimURL(raw.ITunesBaseURL),
		MatchThreshold:   raw.MatchThreshold,

		SplitThresholdChars: raw.SplitThresholdChars,
		MaxAudioBytes:       raw.MaxAudioBytes,
		MaxTranscriptChars:  raw.MaxTranscriptChars,

		RequestTimeout:         seconds(raw.RequestTimeoutSeconds),
		PresuppliedTimeout:     seconds(raw.PresuppliedTimeoutSeconds),
		MatchTimeout:           seconds(raw.MatchTimeoutSeconds),
		AppleMetadataTimeout:   seconds(raw.AppleMetadataTimeoutSeconds),
		AppleAssetTimeout:      seconds(raw.AppleAssetTimeoutSeconds),
		AudioDownloadTimeout:   seconds(raw.AudioDownloadTimeoutSeconds),
		TranscriptionTimeout:   seconds(raw.TranscriptionTimeoutSeconds),
		SummaryTimeout:         seconds(raw.SummaryTimeoutSeconds),
		JobTimeout:             seconds(raw.JobTimeoutSeconds),
		TranscriptWaitInterval: raw.TranscriptWaitInterval,
		StreamPollInterval:     raw.StreamPollInterval,

		RateLimitRPS:   raw.RateLimitRPS,
		RateLimitBurst: raw.RateLimitBurst,

		NotifyWebhookURL: strings.TrimSpace(raw.NotifyWebhookURL),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q", StoreMemory, StorePostgres)
	}
	switch c.DispatchMode {
	case DispatchInline:
	case DispatchAsynq:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when DISPATCH_MODE=asynq")
		}
		if c.StoreBackend != StorePostgres {
			return errors.New("DISPATCH_MODE=asynq needs a shared store, set STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("DISPATCH_MODE must be %q or %q", DispatchInline, DispatchAsynq)
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be > 0")
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if c.TranscriptionModel == "" {
		return errors.New("TRANSCRIPTION_MODEL must not be empty")
	}
	switch c.SummarizerBackend {
	case SummarizerOpenAI:
		if c.SummaryModel == "" {
			return errors.New("SUMMARY_MODEL must not be empty")
		}
	case SummarizerGemini:
		if len(c.GeminiAPIKeys) == 0 {
			return errors.New("GEMINI_API_KEY is required when SUMMARIZER_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("SUMMARIZER_BACKEND must be %q or %q", SummarizerOpenAI, SummarizerGemini)
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return errors.New("MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.SplitThresholdChars <= 0 {
		return errors.New("SPLIT_THRESHOLD_CHARS must be > 0")
	}
	if c.MaxAudioBytes <= 0 {
		return errors.New("MAX_AUDIO_BYTES must be > 0")
	}
	if c.MaxTranscriptChars <= 0 {
		return errors.New("MAX_TRANSCRIPT_CHARS must be > 0")
	}
	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"REQUEST_TIMEOUT_SECONDS", c.RequestTimeout},
		{"PRESUPPLIED_TIMEOUT_SECONDS", c.PresuppliedTimeout},
		{"MATCH_TIMEOUT_SECONDS", c.MatchTimeout},
		{"APPLE_METADATA_TIMEOUT_SECONDS", c.AppleMetadataTimeout},
		{"APPLE_ASSET_TIMEOUT_SECONDS", c.AppleAssetTimeout},
		{"AUDIO_DOWNLOAD_TIMEOUT_SECONDS", c.AudioDownloadTimeout},
		{"TRANSCRIPTION_TIMEOUT_SECONDS", c.TranscriptionTimeout},
		{"SUMMARY_TIMEOUT_SECONDS", c.SummaryTimeout},
		{"JOB_TIMEOUT_SECONDS", c.JobTimeout},
		{"TRANSCRIPT_WAIT_INTERVAL", c.TranscriptWaitInterval},
		{"STREAM_POLL_INTERVAL", c.StreamPollInterval},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return fmt.Errorf("%s must be > 0", t.name)
		}
	}
	if c.RateLimitRPS <= 0 {
		return errors.New("RATE_LIMIT_RPS must be > 0")
	}
	if c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func trimURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
