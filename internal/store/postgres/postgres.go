package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const transcriptColumns = `id, episode_id, language, status, text, utterances, provider, error, attempt, created_at, updated_at`

const summaryColumns = `id, episode_id, level, language, status, content, error, attempt, created_at, updated_at`

type Store struct {
	db *sqlx.DB
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type transcriptRow struct {
	ID         string    `db:"id"`
	EpisodeID  string    `db:"episode_id"`
	Language   string    `db:"language"`
	Status     string    `db:"status"`
	Text       string    `db:"text"`
	Utterances []byte    `db:"utterances"`
	Provider   string    `db:"provider"`
	Error      string    `db:"error"`
	Attempt    int       `db:"attempt"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r transcriptRow) record() (domain.Transcript, error) {
	t := domain.Transcript{
		ID:        r.ID,
		EpisodeID: r.EpisodeID,
		Language:  r.Language,
		Status:    domain.Status(r.Status),
		Text:      r.Text,
		Provider:  r.Provider,
		Error:     r.Error,
		Attempt:   r.Attempt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Utterances) > 0 {
		if err := json.Unmarshal(r.Utterances, &t.Utterances); err != nil {
			return domain.Transcript{}, fmt.Errorf("decode utterances for transcript %s: %w", r.ID, err)
		}
	}
	return t, nil
}

type summaryRow struct {
	ID        string    `db:"id"`
	EpisodeID string    `db:"episode_id"`
	Level     string    `db:"level"`
	Language  string    `db:"language"`
	Status    string    `db:"status"`
	Content   []byte    `db:"content"`
	Error     string    `db:"error"`
	Attempt   int       `db:"attempt"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r summaryRow) record() domain.Summary {
	sm := domain.Summary{
		ID:        r.ID,
		EpisodeID: r.EpisodeID,
		Level:     domain.Level(r.Level),
		Language:  r.Language,
		Status:    domain.Status(r.Status),
		Error:     r.Error,
		Attempt:   r.Attempt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Content) > 0 {
		sm.Content = json.RawMessage(r.Content)
	}
	return sm
}

func (s *Store) GetTranscript(ctx context.Context, episodeID, language string) (domain.Transcript, error) {
	var row transcriptRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE episode_id = $1 AND language = $2 AND deleted_at IS NULL`,
		episodeID, language)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transcript{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("get transcript: %w", err)
	}
	return row.record()
}

func (s *Store) CreateTranscript(ctx context.Context, t domain.Transcript) (domain.Transcript, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Attempt == 0 {
		t.Attempt = 1
	}
	utterances, err := encodeUtterances(t.Utterances)
	if err != nil {
		return domain.Transcript{}, err
	}

	var row transcriptRow
	err = s.db.GetContext(ctx, &row,
		`INSERT INTO transcripts (id, episode_id, language, status, text, utterances, provider, error, attempt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+transcriptColumns,
		t.ID, t.EpisodeID, t.Language, string(t.Status), t.Text, utterances, t.Provider, t.Error, t.Attempt)
	if isUniqueViolation(err) {
		return domain.Transcript{}, store.ErrConflict
	}
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("create transcript: %w", err)
	}
	return row.record()
}

func (s *Store) ClaimTranscript(ctx context.Context, id string, attempt int, status domain.Status) (domain.Transcript, error) {
	var row transcriptRow
	err := s.db.GetContext(ctx, &row,
		`UPDATE transcripts
		 SET attempt = attempt + 1, status = $3, error = '', updated_at = now()
		 WHERE id = $1 AND attempt = $2 AND status IN ('failed', 'not_ready') AND deleted_at IS NULL
		 RETURNING `+transcriptColumns,
		id, attempt, string(status))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transcript{}, store.ErrStale
	}
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("claim transcript: %w", err)
	}
	return row.record()
}

func (s *Store) UpdateTranscript(ctx context.Context, id string, attempt int, from []domain.Status, u store.TranscriptUpdate) error {
	var utterances any
	if u.Text != "" {
		var err error
		if utterances, err = encodeUtterances(u.Utterances); err != nil {
			return err
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts
		 SET status = $3,
		     error = $4,
		     text = COALESCE(NULLIF($5, ''), text),
		     utterances = CASE WHEN $5 <> '' THEN $6::jsonb ELSE utterances END,
		     provider = COALESCE(NULLIF($7, ''), provider),
		     updated_at = now()
		 WHERE id = $1 AND attempt = $2 AND status = ANY($8) AND deleted_at IS NULL`,
		id, attempt, string(u.Status), u.Error, u.Text, utterances, u.Provider, statusArray(from))
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	return expectOneRow(res)
}

func (s *Store) GetSummary(ctx context.Context, episodeID string, level domain.Level, language string) (domain.Summary, error) {
	var row summaryRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+summaryColumns+` FROM summaries WHERE episode_id = $1 AND level = $2 AND language = $3 AND deleted_at IS NULL`,
		episodeID, string(level), language)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Summary{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	return row.record(), nil
}

func (s *Store) ListSummaries(ctx context.Context, episodeID, language string) ([]domain.Summary, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+summaryColumns+` FROM summaries
		 WHERE episode_id = $1 AND language = $2 AND deleted_at IS NULL
		 ORDER BY CASE level WHEN 'quick' THEN 0 ELSE 1 END`,
		episodeID, language)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	out := make([]domain.Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) CreateSummary(ctx context.Context, sm domain.Summary) (domain.Summary, error) {
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	if sm.Attempt == 0 {
		sm.Attempt = 1
	}
	var row summaryRow
	err := s.db.GetContext(ctx, &row,
		`INSERT INTO summaries (id, episode_id, level, language, status, content, error, attempt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+summaryColumns,
		sm.ID, sm.EpisodeID, string(sm.Level), sm.Language, string(sm.Status), nullJSON(sm.Content), sm.Error, sm.Attempt)
	if isUniqueViolation(err) {
		return domain.Summary{}, store.ErrConflict
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("create summary: %w", err)
	}
	return row.record(), nil
}

func (s *Store) ClaimSummary(ctx context.Context, id string, attempt int, status domain.Status) (domain.Summary, error) {
	var row summaryRow
	err := s.db.GetContext(ctx, &row,
		`UPDATE summaries
		 SET attempt = attempt + 1, status = $3, error = '', updated_at = now()
		 WHERE id = $1 AND attempt = $2 AND status IN ('failed', 'not_ready') AND deleted_at IS NULL
		 RETURNING `+summaryColumns,
		id, attempt, string(status))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Summary{}, store.ErrStale
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("claim summary: %w", err)
	}
	return row.record(), nil
}

func (s *Store) UpdateSummary(ctx context.Context, id string, attempt int, from []domain.Status, u store.SummaryUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE summaries
		 SET status = $3,
		     error = $4,
		     content = COALESCE($5::jsonb, content),
		     updated_at = now()
		 WHERE id = $1 AND attempt = $2 AND status = ANY($6) AND deleted_at IS NULL`,
		id, attempt, string(u.Status), u.Error, nullJSON(u.Content), statusArray(from))
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrStale
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func statusArray(from []domain.Status) pq.StringArray {
	out := make(pq.StringArray, 0, len(from))
	for _, s := range from {
		out = append(out, string(s))
	}
	return out
}

func encodeUtterances(us []domain.Utterance) (any, error) {
	if len(us) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(us)
	if err != nil {
		return nil, fmt.Errorf("encode utterances: %w", err)
	}
	return string(b), nil
}

// nullJSON keeps an absent document as SQL NULL instead of an empty string,
// which jsonb would reject.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
