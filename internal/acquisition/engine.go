package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/providers"
	"podbrief/internal/store"
)

const DefaultWaitInterval = 2 * time.Second

// finalizeTimeout bounds the terminal status write. That write is detached
// from the caller's context: a run cancelled mid-provider still lands failed.
const finalizeTimeout = 10 * time.Second

type Recorder interface {
	ObserveProvider(provider string, outcome providers.Outcome, duration time.Duration)
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

func WithWaitInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.waitInterval = d
		}
	}
}

// Engine obtains at most one transcript per (episode, language), trying
// providers in order until one produces text.
type Engine struct {
	store        store.Transcripts
	providers    []providers.Provider
	recorder     Recorder
	logger       *slog.Logger
	waitInterval time.Duration
}

func New(st store.Transcripts, chain []providers.Provider, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:        st,
		providers:    chain,
		logger:       logger,
		waitInterval: DefaultWaitInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Acquire returns the transcript for ep in language. If a ready record exists
// it is returned as is; if another caller is already acquiring it, the
// in-flight record is returned without calling any provider. Otherwise this
// call claims the record and runs the provider chain to a terminal status.
func (e *Engine) Acquire(ctx context.Context, ep domain.Episode, language string) (domain.Transcript, error) {
	language = domain.NormalizeLanguage(language)

	current, err := e.store.GetTranscript(ctx, ep.ID, language)
	switch {
	case err == nil:
		if !store.Claimable(current.Status) {
			return current, nil
		}
		claimed, err := e.store.ClaimTranscript(ctx, current.ID, current.Attempt, domain.StatusTranscribing)
		if errors.Is(err, store.ErrStale) {
			return e.store.GetTranscript(ctx, ep.ID, language)
		}
		if err != nil {
			return domain.Transcript{}, err
		}
		e.logger.Info("retrying transcript acquisition", "episode_id", ep.ID, "language", language, "attempt", claimed.Attempt)
		return e.run(ctx, claimed, ep)
	case errors.Is(err, store.ErrNotFound):
		created, err := e.store.CreateTranscript(ctx, domain.Transcript{
			EpisodeID: ep.ID,
			Language:  language,
			Status:    domain.StatusTranscribing,
		})
		if errors.Is(err, store.ErrConflict) {
			return e.store.GetTranscript(ctx, ep.ID, language)
		}
		if err != nil {
			return domain.Transcript{}, err
		}
		return e.run(ctx, created, ep)
	default:
		return domain.Transcript{}, err
	}
}

// Wait polls until the transcript for (episodeID, language) is terminal.
func (e *Engine) Wait(ctx context.Context, episodeID, language string) (domain.Transcript, error) {
	language = domain.NormalizeLanguage(language)
	ticker := time.NewTicker(e.waitInterval)
	defer ticker.Stop()
	for {
		t, err := e.store.GetTranscript(ctx, episodeID, language)
		if err != nil {
			return domain.Transcript{}, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, fmt.Errorf("wait for transcript: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) run(ctx context.Context, rec domain.Transcript, ep domain.Episode) (domain.Transcript, error) {
	started := time.Now()
	var reasons []string
	for i, p := range e.providers {
		last := i == len(e.providers)-1
		callStarted := time.Now()
		res := p.Acquire(ctx, ep, rec.Language)
		e.observe(p.Name(), res.Outcome, time.Since(callStarted))

		if res.Outcome != providers.OutcomeHit && ctx.Err() != nil {
			return e.fail(ctx, rec, ep, fmt.Sprintf("%s: interrupted: %v", p.Name(), ctx.Err()))
		}

		switch res.Outcome {
		case providers.OutcomeHit:
			provider := res.Transcript.Provider
			if provider == "" {
				provider = p.Name()
			}
			fctx, cancel := finalizeContext(ctx)
			err := e.store.UpdateTranscript(fctx, rec.ID, rec.Attempt, []domain.Status{domain.StatusTranscribing}, store.TranscriptUpdate{
				Status:     domain.StatusReady,
				Text:       res.Transcript.Text,
				Utterances: res.Transcript.Utterances,
				Provider:   provider,
			})
			if err != nil {
				defer cancel()
				return e.settle(fctx, rec, err)
			}
			cancel()
			e.logger.Info("transcript acquired",
				"episode_id", ep.ID,
				"language", rec.Language,
				"provider", provider,
				"utterances", len(res.Transcript.Utterances),
				"duration_ms", time.Since(started).Milliseconds(),
			)
			rec.Status = domain.StatusReady
			rec.Text = res.Transcript.Text
			rec.Utterances = res.Transcript.Utterances
			rec.Provider = provider
			rec.Error = ""
			return rec, nil
		case providers.OutcomeMiss:
			e.logger.Debug("transcript provider missed", "episode_id", ep.ID, "provider", p.Name(), "reason", res.Reason)
			reasons = append(reasons, p.Name()+": "+res.Reason)
		case providers.OutcomeFail:
			msg := "failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			if last {
				return e.fail(ctx, rec, ep, fmt.Sprintf("%s: %s", p.Name(), msg))
			}
			e.logger.Warn("transcript provider failed, trying next", "episode_id", ep.ID, "provider", p.Name(), "error", msg)
			reasons = append(reasons, p.Name()+": "+msg)
		}
	}
	if len(reasons) == 0 {
		return e.fail(ctx, rec, ep, "no transcript providers configured")
	}
	return e.fail(ctx, rec, ep, "no transcript source available ("+strings.Join(reasons, "; ")+")")
}

func (e *Engine) fail(ctx context.Context, rec domain.Transcript, ep domain.Episode, message string) (domain.Transcript, error) {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	err := e.store.UpdateTranscript(fctx, rec.ID, rec.Attempt, []domain.Status{domain.StatusTranscribing}, store.TranscriptUpdate{
		Status: domain.StatusFailed,
		Error:  message,
	})
	if err != nil {
		return e.settle(fctx, rec, err)
	}
	e.logger.Warn("transcript acquisition failed", "episode_id", ep.ID, "language", rec.Language, "attempt", rec.Attempt, "error", message)
	rec.Status = domain.StatusFailed
	rec.Error = message
	return rec, nil
}

// settle resolves a failed terminal write. A stale write means a newer
// attempt owns the record, so its current state is what callers should see.
func (e *Engine) settle(ctx context.Context, rec domain.Transcript, err error) (domain.Transcript, error) {
	if errors.Is(err, store.ErrStale) {
		return e.store.GetTranscript(ctx, rec.EpisodeID, rec.Language)
	}
	return domain.Transcript{}, fmt.Errorf("persist transcript %s: %w", rec.ID, err)
}

func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func (e *Engine) observe(provider string, outcome providers.Outcome, d time.Duration) {
	if e.recorder != nil {
		e.recorder.ObserveProvider(provider, outcome, d)
	}
}
