package store

import (
	"context"
	"encoding/json"
	"errors"

	"podbrief/internal/domain"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict means a live record already holds the unique key.
	ErrConflict = errors.New("store: record already exists")
	// ErrStale means the conditional write lost: the record moved to another
	// attempt or out of the expected status.
	ErrStale = errors.New("store: record changed underneath the write")
)

type TranscriptUpdate struct {
	Status     domain.Status
	Text       string
	Utterances []domain.Utterance
	Provider   string
	Error      string
}

type SummaryUpdate struct {
	Status  domain.Status
	Content json.RawMessage
	Error   string
}

// Transcripts persists one transcript per (episode, language) among live rows.
type Transcripts interface {
	GetTranscript(ctx context.Context, episodeID, language string) (domain.Transcript, error)
	// CreateTranscript inserts t and returns ErrConflict if a live record for
	// the same key exists.
	CreateTranscript(ctx context.Context, t domain.Transcript) (domain.Transcript, error)
	// ClaimTranscript starts a new attempt on a failed or not_ready record
	// whose attempt still equals attempt. It returns ErrStale when another
	// caller got there first.
	ClaimTranscript(ctx context.Context, id string, attempt int, status domain.Status) (domain.Transcript, error)
	// UpdateTranscript applies u only while the record is on attempt and its
	// status is one of from.
	UpdateTranscript(ctx context.Context, id string, attempt int, from []domain.Status, u TranscriptUpdate) error
}

// Summaries persists one summary per (episode, level, language) among live rows.
type Summaries interface {
	GetSummary(ctx context.Context, episodeID string, level domain.Level, language string) (domain.Summary, error)
	ListSummaries(ctx context.Context, episodeID, language string) ([]domain.Summary, error)
	CreateSummary(ctx context.Context, s domain.Summary) (domain.Summary, error)
	ClaimSummary(ctx context.Context, id string, attempt int, status domain.Status) (domain.Summary, error)
	UpdateSummary(ctx context.Context, id string, attempt int, from []domain.Status, u SummaryUpdate) error
}

type Store interface {
	Transcripts
	Summaries
	Ping(ctx context.Context) error
	Close() error
}

// Claimable reports whether a record in status s may start a new attempt.
func Claimable(s domain.Status) bool {
	return s == domain.StatusFailed || s == domain.StatusNotReady
}

// Allowed reports whether status is among from.
func Allowed(status domain.Status, from []domain.Status) bool {
	for _, f := range from {
		if f == status {
			return true
		}
	}
	return false
}
