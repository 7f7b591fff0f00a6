package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/ttml"

	"github.com/go-shiori/go-readability"
)

const presuppliedMaxBytes = 20 << 20

var (
	reCueTiming = regexp.MustCompile(`^\s*([\d:.,]+)\s*-->\s*([\d:.,]+)`)
	reCueSniff  = regexp.MustCompile(`(?m)^\s*[\d:.,]+\s*-->`)
	reVoiceTag  = regexp.MustCompile(`<v(?:\.[^\s>]+)?\s+([^>]+)>`)
	reCueTag    = regexp.MustCompile(`<[^>]+>`)
)

// Presupplied fetches a transcript the feed already publishes for the episode.
type Presupplied struct {
	httpClient *http.Client
	parser     *ttml.Parser
	timeout    time.Duration
	logger     *slog.Logger
}

func NewPresupplied(httpClient *http.Client, parser *ttml.Parser, timeout time.Duration, logger *slog.Logger) *Presupplied {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if parser == nil {
		parser = ttml.New(0)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presupplied{httpClient: httpClient, parser: parser, timeout: timeout, logger: logger}
}

func (p *Presupplied) Name() string { return NamePresupplied }

func (p *Presupplied) Acquire(ctx context.Context, ep domain.Episode, _ string) Result {
	src := strings.TrimSpace(ep.TranscriptURL)
	if src == "" {
		return Miss("episode has no transcript url")
	}

	res, err := fetch(ctx, p.httpClient, src, p.timeout, presuppliedMaxBytes, nil)
	if err != nil {
		p.logger.Debug("presupplied transcript fetch failed", "episode_id", ep.ID, "error", err)
		return Miss("fetch transcript url: %v", err)
	}
	if res.Status < 200 || res.Status > 299 {
		return Miss("transcript url returned status %d", res.Status)
	}

	body := bytes.TrimSpace(bytes.TrimPrefix(res.Body, []byte("\xef\xbb\xbf")))
	if len(body) == 0 {
		return Miss("transcript url returned an empty body")
	}

	t, ok := p.decode(body, res.ContentType)
	if !ok || strings.TrimSpace(t.Text) == "" {
		return Miss("transcript url had no usable text")
	}
	t.Provider = NamePresupplied
	return Hit(t)
}

func (p *Presupplied) decode(body []byte, contentType string) (domain.AcquiredTranscript, bool) {
	ct := strings.ToLower(contentType)
	head := strings.ToLower(string(body[:min(len(body), 512)]))

	switch {
	case strings.HasPrefix(head, "webvtt") || strings.Contains(ct, "text/vtt"):
		return decodeCues(string(body))
	case strings.Contains(ct, "ttml") || strings.Contains(head, "<tt"):
		return p.decodeTTML(string(body))
	case strings.Contains(ct, "json") || body[0] == '{' || body[0] == '[':
		return decodeJSON(body)
	case strings.Contains(ct, "srt") || strings.Contains(ct, "subrip") || reCueSniff.Match(firstLines(body, 3)):
		return decodeCues(string(body))
	case strings.Contains(ct, "html") || strings.Contains(head, "<html") || strings.Contains(head, "<!doctype"):
		return decodeHTML(string(body))
	default:
		return domain.AcquiredTranscript{Text: collapseSpace(string(body))}, true
	}
}

func (p *Presupplied) decodeTTML(markup string) (domain.AcquiredTranscript, bool) {
	parsed, err := p.parser.Parse(markup)
	if errors.Is(err, ttml.ErrNoUtterances) {
		return domain.AcquiredTranscript{Text: ttml.StripTags(markup)}, true
	}
	if err != nil {
		return domain.AcquiredTranscript{}, false
	}
	return domain.AcquiredTranscript{Text: parsed.FullText, Utterances: parsed.Utterances}, true
}

// decodeCues handles both WebVTT and SRT. Voice tags carry the speaker when
// present.
func decodeCues(doc string) (domain.AcquiredTranscript, bool) {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	var utterances []domain.Utterance
	speakers := map[string]int{}

	for _, block := range strings.Split(doc, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		timing := -1
		for i, line := range lines {
			if reCueTiming.MatchString(line) {
				timing = i
				break
			}
		}
		if timing < 0 {
			continue
		}
		m := reCueTiming.FindStringSubmatch(lines[timing])
		start := ttml.ParseTimestamp(strings.ReplaceAll(m[1], ",", "."))
		end := ttml.ParseTimestamp(strings.ReplaceAll(m[2], ",", "."))
		if end < start {
			end = start
		}

		raw := strings.Join(lines[timing+1:], " ")
		speaker := 0
		if v := reVoiceTag.FindStringSubmatch(raw); v != nil {
			name := strings.TrimSpace(v[1])
			if id := speakerID(name); id != 0 {
				speaker = id
			} else if id, ok := speakers[name]; ok {
				speaker = id
			} else {
				speaker = len(speakers) + 1
				speakers[name] = speaker
			}
		}
		text := collapseSpace(reCueTag.ReplaceAllString(raw, ""))
		if text == "" {
			continue
		}
		utterances = append(utterances, domain.Utterance{Start: start, End: end, Speaker: speaker, Text: text, Confidence: 1.0})
	}

	if len(utterances) == 0 {
		return domain.AcquiredTranscript{}, false
	}
	return domain.AcquiredTranscript{Text: utterancesText(utterances), Utterances: utterances}, true
}

type jsonSegment struct {
	Speaker   any      `json:"speaker"`
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
	Start     *float64 `json:"start"`
	End       *float64 `json:"end"`
	Body      string   `json:"body"`
	Text      string   `json:"text"`
}

// decodeJSON accepts {"text": ...}, Podcasting 2.0 {"segments": [{speaker,
// startTime, endTime, body}]} and whisper-style {"segments": [{start, end,
// text}]}, as well as a bare segment array.
func decodeJSON(body []byte) (domain.AcquiredTranscript, bool) {
	var doc struct {
		Text     string        `json:"text"`
		Segments []jsonSegment `json:"segments"`
	}
	if body[0] == '[' {
		if err := json.Unmarshal(body, &doc.Segments); err != nil {
			return domain.AcquiredTranscript{}, false
		}
	} else if err := json.Unmarshal(body, &doc); err != nil {
		return domain.AcquiredTranscript{}, false
	}

	var utterances []domain.Utterance
	for _, s := range doc.Segments {
		text := collapseSpace(s.Body)
		if text == "" {
			text = collapseSpace(s.Text)
		}
		if text == "" {
			continue
		}
		start := firstFloat(s.StartTime, s.Start)
		end := firstFloat(s.EndTime, s.End)
		if end < start {
			end = start
		}
		utterances = append(utterances, domain.Utterance{
			Start:      start,
			End:        end,
			Speaker:    speakerID(s.Speaker),
			Text:       text,
			Confidence: 1.0,
		})
	}

	text := strings.TrimSpace(doc.Text)
	if text == "" {
		text = utterancesText(utterances)
	}
	if text == "" {
		return domain.AcquiredTranscript{}, false
	}
	return domain.AcquiredTranscript{Text: text, Utterances: utterances}, true
}

func decodeHTML(page string) (domain.AcquiredTranscript, bool) {
	article, err := readability.FromReader(strings.NewReader(page), nil)
	if err == nil {
		if text := collapseSpace(article.TextContent); text != "" {
			return domain.AcquiredTranscript{Text: text}, true
		}
	}
	text := ttml.StripTags(page)
	return domain.AcquiredTranscript{Text: text}, text != ""
}

func firstFloat(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstLines(body []byte, n int) []byte {
	lines := bytes.SplitN(body, []byte("\n"), n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return bytes.Join(lines, []byte("\n"))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
