package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultBaseURL   = "https://itunes.apple.com"
	DefaultThreshold = 0.30
	maxTermLength    = 200
	candidateLimit   = 5
	episodeWeight    = 0.7
	showWeight       = 0.3
	scoreEpsilon     = 1e-9
)

var ErrNotFound = errors.New("matcher: no episode scored above threshold")

type Candidate struct {
	EpisodeID      string
	EpisodeTitle   string
	CollectionName string
}

type Match struct {
	Candidate
	Score float64
}

type Option func(*Matcher)

func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(m *Matcher) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// Matcher finds the public search index identifier of an episode known only
// by its show and episode titles.
type Matcher struct {
	baseURL    string
	httpClient *http.Client
	threshold  float64
	timeout    time.Duration
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Matcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	m := &Matcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		threshold:  DefaultThreshold,
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Matcher) Threshold() float64 {
	return m.threshold
}

func (m *Matcher) Find(ctx context.Context, showTitle, episodeTitle string) (Match, error) {
	if strings.TrimSpace(episodeTitle) == "" {
		return Match{}, ErrNotFound
	}
	candidates, err := m.search(ctx, SearchTerm(showTitle, episodeTitle))
	if err != nil {
		return Match{}, err
	}
	return Best(candidates, showTitle, episodeTitle, m.threshold)
}

func (m *Matcher) search(ctx context.Context, term string) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("term", term)
	q.Set("media", "podcast")
	q.Set("entity", "podcastEpisode")
	q.Set("limit", strconv.Itoa(candidateLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search index request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search index returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			TrackID        json.Number `json:"trackId"`
			TrackName      string      `json:"trackName"`
			CollectionName string      `json:"collectionName"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search index response: %w", err)
	}

	out := make([]Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.TrackID.String() == "" {
			continue
		}
		out = append(out, Candidate{
			EpisodeID:      r.TrackID.String(),
			EpisodeTitle:   r.TrackName,
			CollectionName: r.CollectionName,
		})
	}
	return out, nil
}

// Best returns the highest-scoring candidate if it clears threshold. Ties keep
// the candidate the index ranked first.
func Best(candidates []Candidate, showTitle, episodeTitle string, threshold float64) (Match, error) {
	var best Match
	found := false
	for _, c := range candidates {
		score := Score(showTitle, episodeTitle, c)
		if !found || score > best.Score {
			best = Match{Candidate: c, Score: score}
			found = true
		}
	}
	if !found || !Accept(best.Score, threshold) {
		return Match{}, ErrNotFound
	}
	return best, nil
}

func Accept(score, threshold float64) bool {
	return score+scoreEpsilon >= threshold
}

func Score(showTitle, episodeTitle string, c Candidate) float64 {
	return episodeWeight*Overlap(episodeTitle, c.EpisodeTitle) + showWeight*Overlap(showTitle, c.CollectionName)
}

// Overlap is the Jaccard index of the normalized word sets of a and b.
func Overlap(a, b string) float64 {
	setA := wordSet(Normalize(a))
	setB := wordSet(Normalize(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func SearchTerm(showTitle, episodeTitle string) string {
	term := strings.TrimSpace(strings.TrimSpace(showTitle) + " " + strings.TrimSpace(episodeTitle))
	runes := []rune(term)
	if len(runes) > maxTermLength {
		term = strings.TrimSpace(string(runes[:maxTermLength]))
	}
	return term
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
