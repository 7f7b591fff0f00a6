package summary

import (
	"context"
	"strings"

	"podbrief/internal/upstream/gemini"
	"podbrief/internal/upstream/openai"
)

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI drives an OpenAI-compatible chat completions endpoint in JSON mode.
type OpenAI struct {
	client ChatClient
	model  string
}

func NewOpenAI(client ChatClient, model string) *OpenAI {
	return &OpenAI{client: client, model: strings.TrimSpace(model)}
}

func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	resp, err := o.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

type GeminiClient interface {
	Generate(ctx context.Context, in gemini.Request) (string, error)
}

type Gemini struct {
	client GeminiClient
}

func NewGemini(client GeminiClient) *Gemini {
	return &Gemini{client: client}
}

func (g *Gemini) Complete(ctx context.Context, p Prompt) (string, error) {
	return g.client.Generate(ctx, gemini.Request{System: p.System, User: p.User, JSON: true})
}
