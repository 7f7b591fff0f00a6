package model

import (
	"encoding/json"
	"time"
)

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

type SummaryRequest struct {
	Level         string `json:"level"`
	Language      string `json:"language,omitempty"`
	AudioURL      string `json:"audio_url"`
	TranscriptURL string `json:"transcript_url,omitempty"`
	PodcastTitle  string `json:"podcast_title,omitempty"`
	EpisodeTitle  string `json:"episode_title,omitempty"`
}

// SummaryResponse carries content only once the summary is ready; until then
// content is null.
type SummaryResponse struct {
	ID        string          `json:"id,omitempty"`
	Level     string          `json:"level"`
	Status    string          `json:"status"`
	Content   json.RawMessage `json:"content"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

type TranscriptStatus struct {
	Status   string `json:"status"`
	Language string `json:"language"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

type StatusResponse struct {
	EpisodeID  string                     `json:"episode_id"`
	Language   string                     `json:"language"`
	Transcript TranscriptStatus           `json:"transcript"`
	Summaries  map[string]SummaryResponse `json:"summaries"`
}

type Utterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    int     `json:"speaker"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type TranscriptResponse struct {
	EpisodeID  string      `json:"episode_id"`
	Language   string      `json:"language"`
	Status     string      `json:"status"`
	Provider   string      `json:"provider,omitempty"`
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances"`
	Error      string      `json:"error,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
