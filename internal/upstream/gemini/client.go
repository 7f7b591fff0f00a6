package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// contentGenerator is the slice of *genai.Models the client needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Request struct {
	System string
	User   string
	JSON   bool
}

// Client calls the Gemini API, rotating across API keys when one is rate
// limited.
type Client struct {
	model    string
	keys     []string
	observer ObserverFunc

	mu      sync.Mutex
	current int
	models  map[string]contentGenerator
	dial    func(ctx context.Context, key string) (contentGenerator, error)
}

func New(apiKeys []string, model string, opts ...Option) (*Client, error) {
	keys := make([]string, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("gemini: at least one API key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	c := &Client{
		model:  strings.TrimSpace(model),
		keys:   keys,
		models: make(map[string]contentGenerator),
		dial:   dialGenAI,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func dialGenAI(ctx context.Context, key string) (contentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

func (c *Client) Generate(ctx context.Context, in Request) (string, error) {
	config := &genai.GenerateContentConfig{}
	if strings.TrimSpace(in.System) != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: in.System}}}
	}
	if in.JSON {
		config.ResponseMIMEType = "application/json"
	}

	var lastErr error
	for range c.keys {
		models, key, err := c.generator(ctx)
		if err != nil {
			lastErr = fmt.Errorf("create gemini client: %w", err)
			c.rotate(key)
			continue
		}

		started := time.Now()
		result, err := models.GenerateContent(ctx, c.model, genai.Text(in.User), config)
		if err != nil {
			c.observe("generate_content", 0, time.Since(started))
			if isQuotaError(err) {
				c.rotate(key)
				lastErr = err
				continue
			}
			return "", fmt.Errorf("generate content: %w", err)
		}
		c.observe("generate_content", 200, time.Since(started))

		if text := responseText(result); text != "" {
			return text, nil
		}
		return "", errors.New("empty response from gemini")
	}
	return "", fmt.Errorf("all gemini API keys exhausted: %w", lastErr)
}

func (c *Client) generator(ctx context.Context) (contentGenerator, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.keys[c.current]
	if m, ok := c.models[key]; ok {
		return m, key, nil
	}
	m, err := c.dial(ctx, key)
	if err != nil {
		return nil, key, err
	}
	c.models[key] = m
	return m, key, nil
}

// rotate advances past key unless another caller already did.
func (c *Client) rotate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[c.current] == key {
		c.current = (c.current + 1) % len(c.keys)
	}
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer("gemini_"+endpoint, status, duration)
	}
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
