package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"podbrief/internal/domain"
)

const (
	DefaultMaxTranscriptChars = 120000
	truncationMarker          = "\n\n[transcript truncated]"
)

// Prompt is what a generator hands to the language model. The backend decides
// how System and User map onto its own message format.
type Prompt struct {
	System string
	User   string
}

// Summarizer is the opaque language model boundary. It must return the raw
// model output; validation happens in the generator.
type Summarizer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

type Generator interface {
	Level() domain.Level
	Generate(ctx context.Context, transcript string) (json.RawMessage, error)
}

type Options struct {
	MaxTranscriptChars int
	Timeout            time.Duration
}

type generator struct {
	level      domain.Level
	summarizer Summarizer
	system     string
	opts       Options
	decode     func(raw string) (any, error)
}

func NewQuick(s Summarizer, opts Options) Generator {
	return newGenerator(domain.LevelQuick, s, QuickSystemPrompt, opts, func(raw string) (any, error) {
		var c QuickContent
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
		if err := c.normalize(); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func NewDeep(s Summarizer, opts Options) Generator {
	return newGenerator(domain.LevelDeep, s, DeepSystemPrompt, opts, func(raw string) (any, error) {
		var c DeepContent
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
		if err := c.normalize(); err != nil {
			return nil, err
		}
		return c, nil
	})
}

// ForLevels builds one generator per supported level.
func ForLevels(s Summarizer, opts Options) map[domain.Level]Generator {
	return map[domain.Level]Generator{
		domain.LevelQuick: NewQuick(s, opts),
		domain.LevelDeep:  NewDeep(s, opts),
	}
}

func newGenerator(level domain.Level, s Summarizer, system string, opts Options, decode func(string) (any, error)) *generator {
	if opts.MaxTranscriptChars <= 0 {
		opts.MaxTranscriptChars = DefaultMaxTranscriptChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &generator{level: level, summarizer: s, system: system, opts: opts, decode: decode}
}

func (g *generator) Level() domain.Level { return g.level }

func (g *generator) Generate(ctx context.Context, transcript string) (json.RawMessage, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("%w: empty transcript", ErrInvalidContent)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	raw, err := g.summarizer.Complete(ctx, Prompt{
		System: g.system,
		User:   fmt.Sprintf("TRANSCRIPT:\n%s", Truncate(transcript, g.opts.MaxTranscriptChars)),
	})
	if err != nil {
		return nil, fmt.Errorf("generate %s summary: %w", g.level, err)
	}

	content, err := g.decode(ExtractJSON(raw))
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s summary: %w", g.level, err)
	}
	return out, nil
}

// Truncate caps s at max runes, marking the cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + truncationMarker
}

// ExtractJSON strips markdown code fences and any prose around the outermost
// JSON object.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
