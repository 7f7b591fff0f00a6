package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, DispatchInline, cfg.DispatchMode)
	assert.Equal(t, SummarizerOpenAI, cfg.SummarizerBackend)
	assert.InDelta(t, 0.3, cfg.MatchThreshold, 1e-9)
	assert.Equal(t, 500, cfg.SplitThresholdChars)
	assert.Equal(t, int64(200<<20), cfg.MaxAudioBytes)
	assert.Equal(t, 15*time.Second, cfg.PresuppliedTimeout)
	assert.Equal(t, 45*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 2*time.Second, cfg.TranscriptWaitInterval)
	assert.Empty(t, cfg.GeminiAPIKeys)
}

func TestLoadCleansValues(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", " https://api.openai.com/v1/ ")
	t.Setenv("SUMMARIZER_BACKEND", "Gemini")
	t.Setenv("GEMINI_API_KEY", "k1, ,k2")
	t.Setenv("APPLE_STOREFRONT", "GB")
	t.Setenv("LOG_LEVEL", " DEBUG ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", cfg.UpstreamBaseURL)
	assert.Equal(t, SummarizerGemini, cfg.SummarizerBackend)
	assert.Equal(t, []string{"k1", "k2"}, cfg.GeminiAPIKeys)
	assert.Equal(t, "gb", cfg.AppleStorefront)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn":   {"STORE_BACKEND": "postgres"},
		"unknown store":          {"STORE_BACKEND": "sqlite"},
		"asynq with memory":      {"DISPATCH_MODE": "asynq"},
		"gemini without keys":    {"SUMMARIZER_BACKEND": "gemini"},
		"threshold out of range": {"MATCH_THRESHOLD": "1.5"},
		"zero job timeout":       {"JOB_TIMEOUT_SECONDS": "0"},
		"zero burst":             {"RATE_LIMIT_BURST": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadAcceptsQueueMode(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/podbrief?sslmode=disable")
	t.Setenv("DISPATCH_MODE", "asynq")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DispatchAsynq, cfg.DispatchMode)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PODBRIEF_DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("PODBRIEF_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("PODBRIEF_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("PODBRIEF_DOTENV_PROBE"))
}
