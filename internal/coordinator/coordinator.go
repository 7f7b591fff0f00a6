package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/store"
	"podbrief/internal/summary"
)

const (
	DefaultJobTimeout = 45 * time.Minute
	finalizeTimeout   = 10 * time.Second
)

var ErrInvalidRequest = errors.New("coordinator: invalid request")

type Request struct {
	Episode  domain.Episode
	Level    domain.Level
	Language string
}

type SummaryView struct {
	ID        string
	Level     domain.Level
	Status    domain.Status
	Content   json.RawMessage
	Error     string
	UpdatedAt time.Time
}

type TranscriptView struct {
	Status   domain.Status
	Language string
	Provider string
	Error    string
}

type StatusView struct {
	EpisodeID  string
	Language   string
	Transcript TranscriptView
	// Summaries holds an entry for every level; levels never requested are
	// reported as not_ready.
	Summaries map[domain.Level]SummaryView
}

// Job is the unit of background work: generate one summary attempt.
type Job struct {
	SummaryID string         `json:"summary_id"`
	Attempt   int            `json:"attempt"`
	Episode   domain.Episode `json:"episode"`
	Level     domain.Level   `json:"level"`
	Language  string         `json:"language"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type TranscriptSource interface {
	Acquire(ctx context.Context, ep domain.Episode, language string) (domain.Transcript, error)
	Wait(ctx context.Context, episodeID, language string) (domain.Transcript, error)
}

type Notifier interface {
	SummaryReady(ctx context.Context, s domain.Summary) error
}

type Recorder interface {
	ObserveSummary(level domain.Level, status domain.Status)
	IncDispatchError()
}

type Records interface {
	store.Summaries
	GetTranscript(ctx context.Context, episodeID, language string) (domain.Transcript, error)
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

func WithJobTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.jobTimeout = d
		}
	}
}

// Coordinator owns the summary lifecycle. Callers only ever see persisted
// state; the work itself runs behind a Dispatcher.
type Coordinator struct {
	records    Records
	transcript TranscriptSource
	generators map[domain.Level]summary.Generator
	dispatcher Dispatcher
	notifier   Notifier
	recorder   Recorder
	logger     *slog.Logger
	jobTimeout time.Duration
}

func New(records Records, transcripts TranscriptSource, generators map[domain.Level]summary.Generator, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		records:    records,
		transcript: transcripts,
		generators: generators,
		logger:     logger,
		jobTimeout: DefaultJobTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SetDispatcher wires the background executor. It is separate from New
// because in-process dispatchers call back into Process.
func (c *Coordinator) SetDispatcher(d Dispatcher) {
	c.dispatcher = d
}

// RequestSummary is idempotent: a ready summary is returned as is, an
// in-flight one reports its status, and only a missing or failed one
// schedules work.
func (c *Coordinator) RequestSummary(ctx context.Context, req Request) (SummaryView, error) {
	if strings.TrimSpace(req.Episode.ID) == "" {
		return SummaryView{}, fmt.Errorf("%w: episode id is required", ErrInvalidRequest)
	}
	level, err := domain.ParseLevel(string(req.Level))
	if err != nil {
		return SummaryView{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, ok := c.generators[level]; !ok {
		return SummaryView{}, fmt.Errorf("%w: no generator for level %q", ErrInvalidRequest, level)
	}
	language := domain.NormalizeLanguage(req.Language)
	if req.Episode.Language == "" {
		req.Episode.Language = language
	}
	episodeID := req.Episode.ID

	var rec domain.Summary
	current, err := c.records.GetSummary(ctx, episodeID, level, language)
	switch {
	case err == nil:
		if !store.Claimable(current.Status) {
			return viewOf(current), nil
		}
		rec, err = c.records.ClaimSummary(ctx, current.ID, current.Attempt, domain.StatusQueued)
		if errors.Is(err, store.ErrStale) {
			return c.reread(ctx, episodeID, level, language)
		}
		if err != nil {
			return SummaryView{}, err
		}
	case errors.Is(err, store.ErrNotFound):
		rec, err = c.records.CreateSummary(ctx, domain.Summary{
			EpisodeID: episodeID,
			Level:     level,
			Language:  language,
			Status:    domain.StatusQueued,
		})
		if errors.Is(err, store.ErrConflict) {
			return c.reread(ctx, episodeID, level, language)
		}
		if err != nil {
			return SummaryView{}, err
		}
	default:
		return SummaryView{}, err
	}

	job := Job{SummaryID: rec.ID, Attempt: rec.Attempt, Episode: req.Episode, Level: level, Language: language}
	if err := c.dispatch(ctx, job); err != nil {
		c.logger.Error("summary dispatch failed", "episode_id", episodeID, "level", level, "error", err)
		if c.recorder != nil {
			c.recorder.IncDispatchError()
		}
		msg := "could not schedule summary generation: " + err.Error()
		if ferr := c.finish(ctx, job, []domain.Status{domain.StatusQueued}, store.SummaryUpdate{Status: domain.StatusFailed, Error: msg}); ferr != nil {
			return SummaryView{}, ferr
		}
		return c.reread(ctx, episodeID, level, language)
	}

	c.logger.Info("summary queued", "episode_id", episodeID, "level", level, "language", language, "attempt", rec.Attempt)
	return viewOf(rec), nil
}

// Process runs one summary attempt to a terminal status. It returns an error
// only when the outcome could not be persisted.
func (c *Coordinator) Process(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()
	started := time.Now()
	log := c.logger.With("episode_id", job.Episode.ID, "level", job.Level, "language", job.Language, "attempt", job.Attempt)

	err := c.records.UpdateSummary(ctx, job.SummaryID, job.Attempt, []domain.Status{domain.StatusQueued}, store.SummaryUpdate{Status: domain.StatusTranscribing})
	if errors.Is(err, store.ErrStale) {
		log.Info("summary job superseded, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("start summary %s: %w", job.SummaryID, err)
	}

	gen, ok := c.generators[job.Level]
	if !ok {
		return c.fail(ctx, log, job, domain.StatusTranscribing, fmt.Sprintf("no generator for level %q", job.Level))
	}

	tr, err := c.transcript.Acquire(ctx, job.Episode, job.Language)
	if err == nil && tr.Status.Processing() {
		log.Info("transcript owned by another worker, waiting")
		tr, err = c.transcript.Wait(ctx, job.Episode.ID, job.Language)
	}
	if err != nil {
		return c.fail(ctx, log, job, domain.StatusTranscribing, "transcript acquisition: "+err.Error())
	}
	if tr.Status != domain.StatusReady {
		msg := "transcript unavailable"
		if tr.Error != "" {
			msg += ": " + tr.Error
		}
		return c.fail(ctx, log, job, domain.StatusTranscribing, msg)
	}

	err = c.records.UpdateSummary(ctx, job.SummaryID, job.Attempt, []domain.Status{domain.StatusTranscribing}, store.SummaryUpdate{Status: domain.StatusSummarizing})
	if errors.Is(err, store.ErrStale) {
		log.Info("summary job superseded, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark summary %s summarizing: %w", job.SummaryID, err)
	}

	content, err := gen.Generate(ctx, tr.Text)
	if err != nil {
		return c.fail(ctx, log, job, domain.StatusSummarizing, err.Error())
	}

	err = c.finish(ctx, job, []domain.Status{domain.StatusSummarizing}, store.SummaryUpdate{Status: domain.StatusReady, Content: content})
	if err != nil {
		return err
	}
	if c.recorder != nil {
		c.recorder.ObserveSummary(job.Level, domain.StatusReady)
	}
	log.Info("summary ready", "transcript_provider", tr.Provider, "duration_ms", time.Since(started).Milliseconds())

	if c.notifier != nil {
		rec, err := c.records.GetSummary(ctx, job.Episode.ID, job.Level, job.Language)
		if err == nil {
			err = c.notifier.SummaryReady(ctx, rec)
		}
		if err != nil {
			log.Warn("summary ready notification failed", "error", err)
		}
	}
	return nil
}

// Status is a pure read of the persisted state for (episodeID, language).
func (c *Coordinator) Status(ctx context.Context, episodeID, language string) (StatusView, error) {
	language = domain.NormalizeLanguage(language)
	view := StatusView{
		EpisodeID:  episodeID,
		Language:   language,
		Transcript: TranscriptView{Status: domain.StatusNotReady, Language: language},
		Summaries:  make(map[domain.Level]SummaryView, len(domain.Levels)),
	}

	tr, err := c.records.GetTranscript(ctx, episodeID, language)
	switch {
	case err == nil:
		view.Transcript = TranscriptView{Status: tr.Status, Language: tr.Language, Provider: tr.Provider, Error: tr.Error}
	case !errors.Is(err, store.ErrNotFound):
		return StatusView{}, err
	}

	summaries, err := c.records.ListSummaries(ctx, episodeID, language)
	if err != nil {
		return StatusView{}, err
	}
	for _, s := range summaries {
		view.Summaries[s.Level] = viewOf(s)
	}
	for _, level := range domain.Levels {
		if _, ok := view.Summaries[level]; !ok {
			view.Summaries[level] = SummaryView{Level: level, Status: domain.StatusNotReady}
		}
	}
	return view, nil
}

// Transcript is a pure read of the transcript record.
func (c *Coordinator) Transcript(ctx context.Context, episodeID, language string) (domain.Transcript, error) {
	return c.records.GetTranscript(ctx, episodeID, domain.NormalizeLanguage(language))
}

func (c *Coordinator) dispatch(ctx context.Context, job Job) error {
	if c.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	return c.dispatcher.Dispatch(ctx, job)
}

func (c *Coordinator) fail(ctx context.Context, log *slog.Logger, job Job, from domain.Status, message string) error {
	log.Warn("summary failed", "error", message)
	err := c.finish(ctx, job, []domain.Status{from}, store.SummaryUpdate{Status: domain.StatusFailed, Error: message})
	if err != nil {
		return err
	}
	if c.recorder != nil {
		c.recorder.ObserveSummary(job.Level, domain.StatusFailed)
	}
	return nil
}

// finish writes a terminal status even if ctx has expired, so a timed out
// job still leaves a retryable record behind.
func (c *Coordinator) finish(ctx context.Context, job Job, from []domain.Status, u store.SummaryUpdate) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	err := c.records.UpdateSummary(ctx, job.SummaryID, job.Attempt, from, u)
	if errors.Is(err, store.ErrStale) {
		c.logger.Info("summary moved on before terminal write", "summary_id", job.SummaryID, "attempt", job.Attempt)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist summary %s: %w", job.SummaryID, err)
	}
	return nil
}

func (c *Coordinator) reread(ctx context.Context, episodeID string, level domain.Level, language string) (SummaryView, error) {
	s, err := c.records.GetSummary(ctx, episodeID, level, language)
	if err != nil {
		return SummaryView{}, err
	}
	return viewOf(s), nil
}

func viewOf(s domain.Summary) SummaryView {
	v := SummaryView{ID: s.ID, Level: s.Level, Status: s.Status, Error: s.Error, UpdatedAt: s.UpdatedAt}
	if s.Status == domain.StatusReady {
		v.Content = s.Content
	}
	return v
}
