package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"podbrief/internal/domain"
	"podbrief/internal/matcher"
	"podbrief/internal/ttml"
)

const (
	DefaultAppleAPIBaseURL = "https://amp-api.podcasts.apple.com"
	DefaultStorefront      = "us"
	minTranscriptChars     = 100
	assetMaxBytes          = 50 << 20
)

type EpisodeFinder interface {
	Find(ctx context.Context, showTitle, episodeTitle string) (matcher.Match, error)
}

type AppleOptions struct {
	BaseURL         string
	BearerToken     string
	Storefront      string
	MetadataTimeout time.Duration
	AssetTimeout    time.Duration
}

// ApplePodcasts pulls the timed markup transcript the directory publishes for
// an episode it can identify by title.
type ApplePodcasts struct {
	httpClient *http.Client
	finder     EpisodeFinder
	parser     *ttml.Parser
	opts       AppleOptions
	logger     *slog.Logger
}

func NewApplePodcasts(httpClient *http.Client, finder EpisodeFinder, parser *ttml.Parser, opts AppleOptions, logger *slog.Logger) *ApplePodcasts {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if parser == nil {
		parser = ttml.New(0)
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = DefaultAppleAPIBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if strings.TrimSpace(opts.Storefront) == "" {
		opts.Storefront = DefaultStorefront
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 10 * time.Second
	}
	if opts.AssetTimeout <= 0 {
		opts.AssetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplePodcasts{httpClient: httpClient, finder: finder, parser: parser, opts: opts, logger: logger}
}

func (a *ApplePodcasts) Name() string { return NameApplePodcasts }

func (a *ApplePodcasts) Acquire(ctx context.Context, ep domain.Episode, _ string) Result {
	token := strings.TrimSpace(a.opts.BearerToken)
	if token == "" {
		return Miss("no directory credential configured")
	}
	if a.finder == nil {
		return Miss("no episode matcher configured")
	}

	match, err := a.finder.Find(ctx, ep.PodcastTitle, ep.Title)
	if errors.Is(err, matcher.ErrNotFound) {
		return Miss("no directory match for %q", ep.Title)
	}
	if err != nil {
		return Fail(fmt.Errorf("match episode: %w", err))
	}
	a.logger.Debug("matched directory episode",
		"episode_id", ep.ID,
		"directory_id", match.EpisodeID,
		"score", match.Score,
	)

	assetURL, res := a.assetURL(ctx, token, match.EpisodeID)
	if assetURL == "" {
		return res
	}

	asset, err := fetch(ctx, a.httpClient, assetURL, a.opts.AssetTimeout, assetMaxBytes, nil)
	if err != nil {
		return Fail(fmt.Errorf("fetch transcript asset: %w", err))
	}
	if asset.Status < 200 || asset.Status > 299 {
		return Miss("transcript asset returned status %d", asset.Status)
	}

	markup := string(asset.Body)
	t := domain.AcquiredTranscript{Provider: NameApplePodcasts}
	if parsed, err := a.parser.Parse(markup); err == nil {
		t.Text = parsed.FullText
		t.Utterances = parsed.Utterances
	} else {
		t.Text = ttml.StripTags(markup)
	}
	if utf8.RuneCountInString(strings.TrimSpace(t.Text)) < minTranscriptChars {
		return Miss("transcript asset too short (%d chars)", utf8.RuneCountInString(strings.TrimSpace(t.Text)))
	}
	return Hit(t)
}

// assetURL resolves the signed markup URL. When it returns "", res holds the
// outcome to report.
func (a *ApplePodcasts) assetURL(ctx context.Context, token, directoryID string) (string, Result) {
	q := url.Values{}
	q.Set("fields", "ttmlToken,ttmlAssetUrls")
	q.Set("include[podcast-episodes]", "podcast")
	q.Set("l", "en-US")
	q.Set("with", "entitlements")
	endpoint := fmt.Sprintf("%s/v1/catalog/%s/podcast-episodes/%s/transcripts?%s",
		a.opts.BaseURL, url.PathEscape(a.opts.Storefront), url.PathEscape(directoryID), q.Encode())

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept", "application/json")

	res, err := fetch(ctx, a.httpClient, endpoint, a.opts.MetadataTimeout, 5<<20, header)
	if err != nil {
		return "", Fail(fmt.Errorf("transcripts endpoint: %w", err))
	}
	switch {
	case res.Status == http.StatusNotFound:
		return "", Miss("directory has no transcript for episode %s", directoryID)
	case res.Status < 200 || res.Status > 299:
		return "", Miss("transcripts endpoint returned status %d", res.Status)
	}

	var doc struct {
		Data []struct {
			Attributes struct {
				TTMLAssetURLs map[string]any `json:"ttmlAssetUrls"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(res.Body, &doc); err != nil {
		return "", Miss("transcripts endpoint returned unreadable payload")
	}
	if len(doc.Data) == 0 {
		return "", Miss("directory returned no transcript entries")
	}

	assets := doc.Data[0].Attributes.TTMLAssetURLs
	if u, ok := assets["ttml"].(string); ok && strings.TrimSpace(u) != "" {
		return u, Result{}
	}
	keys := make([]string, 0, len(assets))
	for k := range assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if u, ok := assets[k].(string); ok && strings.TrimSpace(u) != "" {
			return u, Result{}
		}
	}
	return "", Miss("directory returned no transcript asset url")
}
