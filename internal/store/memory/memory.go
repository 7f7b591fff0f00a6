package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/store"

	"github.com/google/uuid"
)

type transcriptKey struct {
	episodeID string
	language  string
}

type summaryKey struct {
	episodeID string
	level     domain.Level
	language  string
}

// Store keeps records in process memory. It enforces the same uniqueness and
// conditional-write rules as the Postgres store, so it is safe to share
// between goroutines but not between processes.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	transcripts map[transcriptKey]*domain.Transcript
	summaries   map[summaryKey]*domain.Summary
}

func New() *Store {
	return &Store{
		now:         time.Now,
		transcripts: make(map[transcriptKey]*domain.Transcript),
		summaries:   make(map[summaryKey]*domain.Summary),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) GetTranscript(_ context.Context, episodeID, language string) (domain.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[transcriptKey{episodeID, language}]
	if !ok {
		return domain.Transcript{}, store.ErrNotFound
	}
	return copyTranscript(t), nil
}

func (s *Store) CreateTranscript(_ context.Context, t domain.Transcript) (domain.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := transcriptKey{t.EpisodeID, t.Language}
	if _, ok := s.transcripts[key]; ok {
		return domain.Transcript{}, store.ErrConflict
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Attempt == 0 {
		t.Attempt = 1
	}
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	rec := copyTranscript(&t)
	s.transcripts[key] = &rec
	return copyTranscript(&rec), nil
}

func (s *Store) ClaimTranscript(_ context.Context, id string, attempt int, status domain.Status) (domain.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transcriptByID(id)
	if t == nil {
		return domain.Transcript{}, store.ErrNotFound
	}
	if t.Attempt != attempt || !store.Claimable(t.Status) {
		return domain.Transcript{}, store.ErrStale
	}
	t.Attempt++
	t.Status = status
	t.Error = ""
	t.UpdatedAt = s.now().UTC()
	return copyTranscript(t), nil
}

func (s *Store) UpdateTranscript(_ context.Context, id string, attempt int, from []domain.Status, u store.TranscriptUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transcriptByID(id)
	if t == nil {
		return store.ErrNotFound
	}
	if t.Attempt != attempt || !store.Allowed(t.Status, from) {
		return store.ErrStale
	}
	t.Status = u.Status
	t.Error = u.Error
	if u.Text != "" {
		t.Text = u.Text
		t.Utterances = slices.Clone(u.Utterances)
		t.Provider = u.Provider
	}
	t.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) GetSummary(_ context.Context, episodeID string, level domain.Level, language string) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.summaries[summaryKey{episodeID, level, language}]
	if !ok {
		return domain.Summary{}, store.ErrNotFound
	}
	return copySummary(sm), nil
}

func (s *Store) ListSummaries(_ context.Context, episodeID, language string) ([]domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Summary
	for _, level := range domain.Levels {
		if sm, ok := s.summaries[summaryKey{episodeID, level, language}]; ok {
			out = append(out, copySummary(sm))
		}
	}
	return out, nil
}

func (s *Store) CreateSummary(_ context.Context, sm domain.Summary) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := summaryKey{sm.EpisodeID, sm.Level, sm.Language}
	if _, ok := s.summaries[key]; ok {
		return domain.Summary{}, store.ErrConflict
	}
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	if sm.Attempt == 0 {
		sm.Attempt = 1
	}
	now := s.now().UTC()
	sm.CreatedAt, sm.UpdatedAt = now, now
	rec := copySummary(&sm)
	s.summaries[key] = &rec
	return copySummary(&rec), nil
}

func (s *Store) ClaimSummary(_ context.Context, id string, attempt int, status domain.Status) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm := s.summaryByID(id)
	if sm == nil {
		return domain.Summary{}, store.ErrNotFound
	}
	if sm.Attempt != attempt || !store.Claimable(sm.Status) {
		return domain.Summary{}, store.ErrStale
	}
	sm.Attempt++
	sm.Status = status
	sm.Error = ""
	sm.UpdatedAt = s.now().UTC()
	return copySummary(sm), nil
}

func (s *Store) UpdateSummary(_ context.Context, id string, attempt int, from []domain.Status, u store.SummaryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm := s.summaryByID(id)
	if sm == nil {
		return store.ErrNotFound
	}
	if sm.Attempt != attempt || !store.Allowed(sm.Status, from) {
		return store.ErrStale
	}
	sm.Status = u.Status
	sm.Error = u.Error
	if len(u.Content) > 0 {
		sm.Content = slices.Clone(u.Content)
	}
	sm.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) transcriptByID(id string) *domain.Transcript {
	for _, t := range s.transcripts {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Store) summaryByID(id string) *domain.Summary {
	for _, sm := range s.summaries {
		if sm.ID == id {
			return sm
		}
	}
	return nil
}

func copyTranscript(t *domain.Transcript) domain.Transcript {
	out := *t
	out.Utterances = slices.Clone(t.Utterances)
	return out
}

func copySummary(s *domain.Summary) domain.Summary {
	out := *s
	out.Content = slices.Clone(s.Content)
	return out
}
