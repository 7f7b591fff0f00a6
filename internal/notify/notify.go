package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"podbrief/internal/domain"
)

const DefaultWebhookTimeout = 10 * time.Second

type Event struct {
	EpisodeID string       `json:"episode_id"`
	Level     domain.Level `json:"level"`
	Language  string       `json:"language"`
	SummaryID string       `json:"summary_id"`
}

func eventFor(s domain.Summary) Event {
	return Event{EpisodeID: s.EpisodeID, Level: s.Level, Language: s.Language, SummaryID: s.ID}
}

// Logger only records that a summary became ready.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) SummaryReady(_ context.Context, s domain.Summary) error {
	l.logger.Info("summary ready notification", "episode_id", s.EpisodeID, "level", s.Level, "language", s.Language, "summary_id", s.ID)
	return nil
}

type Webhook struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

func NewWebhook(url string, httpClient *http.Client, timeout time.Duration) *Webhook {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Webhook{url: strings.TrimSpace(url), httpClient: httpClient, timeout: timeout}
}

func (w *Webhook) SummaryReady(ctx context.Context, s domain.Summary) error {
	body, err := json.Marshal(eventFor(s))
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
