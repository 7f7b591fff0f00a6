package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"podbrief/internal/coordinator"
	"podbrief/internal/domain"
	"podbrief/internal/model"

	"github.com/go-chi/chi/v5"
)

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.summaries.Status(r.Context(), chi.URLParam(r, "episodeID"), r.URL.Query().Get("language"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(view))
}

func (s *server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	t, err := s.summaries.Transcript(r.Context(), chi.URLParam(r, "episodeID"), r.URL.Query().Get("language"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTranscriptResponse(t))
}

func (s *server) handleRequestSummary(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	var req model.SummaryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}

	level, err := domain.ParseLevel(req.Level)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "level must be one of quick, deep", nil)
		return
	}
	audioURL := strings.TrimSpace(req.AudioURL)
	if !isHTTPURL(audioURL) {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "audio_url must be an absolute http(s) URL", nil)
		return
	}
	transcriptURL := strings.TrimSpace(req.TranscriptURL)
	if transcriptURL != "" && !isHTTPURL(transcriptURL) {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "transcript_url must be an absolute http(s) URL", nil)
		return
	}

	language := domain.NormalizeLanguage(req.Language)
	view, err := s.summaries.RequestSummary(r.Context(), coordinator.Request{
		Episode: domain.Episode{
			ID:            chi.URLParam(r, "episodeID"),
			Title:         strings.TrimSpace(req.EpisodeTitle),
			AudioURL:      audioURL,
			TranscriptURL: transcriptURL,
			PodcastTitle:  strings.TrimSpace(req.PodcastTitle),
			Language:      language,
		},
		Level:    level,
		Language: language,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if view.Status.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, toSummaryResponse(view))
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func toSummaryResponse(v coordinator.SummaryView) model.SummaryResponse {
	out := model.SummaryResponse{
		ID:      v.ID,
		Level:   string(v.Level),
		Status:  string(v.Status),
		Content: v.Content,
		Error:   v.Error,
	}
	if !v.UpdatedAt.IsZero() {
		updated := v.UpdatedAt.UTC()
		out.UpdatedAt = &updated
	}
	return out
}

func toStatusResponse(v coordinator.StatusView) model.StatusResponse {
	out := model.StatusResponse{
		EpisodeID: v.EpisodeID,
		Language:  v.Language,
		Transcript: model.TranscriptStatus{
			Status:   string(v.Transcript.Status),
			Language: v.Transcript.Language,
			Provider: v.Transcript.Provider,
			Error:    v.Transcript.Error,
		},
		Summaries: make(map[string]model.SummaryResponse, len(v.Summaries)),
	}
	for level, sv := range v.Summaries {
		if sv.Level == "" {
			sv.Level = level
		}
		out.Summaries[string(level)] = toSummaryResponse(sv)
	}
	return out
}

func toTranscriptResponse(t domain.Transcript) model.TranscriptResponse {
	utterances := make([]model.Utterance, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		utterances = append(utterances, model.Utterance{
			Start:      u.Start,
			End:        u.End,
			Speaker:    u.Speaker,
			Text:       u.Text,
			Confidence: u.Confidence,
		})
	}
	return model.TranscriptResponse{
		EpisodeID:  t.EpisodeID,
		Language:   t.Language,
		Status:     string(t.Status),
		Provider:   t.Provider,
		Text:       t.Text,
		Utterances: utterances,
		Error:      t.Error,
		UpdatedAt:  t.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
}
