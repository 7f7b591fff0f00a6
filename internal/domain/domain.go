package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusNotReady     Status = "not_ready"
	StatusQueued       Status = "queued"
	StatusTranscribing Status = "transcribing"
	StatusSummarizing  Status = "summarizing"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further automatic transition follows s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Processing reports whether some worker currently owns the record.
func (s Status) Processing() bool {
	switch s {
	case StatusQueued, StatusTranscribing, StatusSummarizing:
		return true
	default:
		return false
	}
}

type Level string

const (
	LevelQuick Level = "quick"
	LevelDeep  Level = "deep"
)

var Levels = []Level{LevelQuick, LevelDeep}

func ParseLevel(raw string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelQuick:
		return LevelQuick, nil
	case LevelDeep:
		return LevelDeep, nil
	default:
		return "", fmt.Errorf("unknown summary level %q", raw)
	}
}

const DefaultLanguage = "en"

// NormalizeLanguage lowercases a language hint and keeps only its primary subtag.
func NormalizeLanguage(raw string) string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return DefaultLanguage
	}
	return lang
}

// Episode is owned by the catalog; this service only reads it.
type Episode struct {
	ID            string
	Title         string
	AudioURL      string
	TranscriptURL string
	PodcastTitle  string
	Language      string
}

type Utterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    int     `json:"speaker"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// AcquiredTranscript is what a provider hands back on a hit.
type AcquiredTranscript struct {
	Text       string
	Utterances []Utterance
	Provider   string
}

type Transcript struct {
	ID         string
	EpisodeID  string
	Language   string
	Status     Status
	Text       string
	Utterances []Utterance
	Provider   string
	Error      string
	Attempt    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Summary struct {
	ID        string
	EpisodeID string
	Level     Level
	Language  string
	Status    Status
	Content   json.RawMessage
	Error     string
	Attempt   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
