package summary

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"podbrief/internal/domain"
	"podbrief/internal/upstream/gemini"
	"podbrief/internal/upstream/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSummarizer struct {
	prompt Prompt
	out    string
	err    error
}

func (f *fakeSummarizer) Complete(_ context.Context, p Prompt) (string, error) {
	f.prompt = p
	return f.out, f.err
}

func TestQuickGeneratorValidatesAndNormalizes(t *testing.T) {
	s := &fakeSummarizer{out: "```json\n" + `{
		"hook_headline": "  Rust rewires systems work ",
		"executive_brief": "Two engineers compare notes.",
		"golden_nugget": "Ownership moves bugs to compile time.",
		"perfect_for": "backend engineers",
		"tags": ["rust", " ", "systems"]
	}` + "\n```"}

	g := NewQuick(s, Options{})
	assert.Equal(t, domain.LevelQuick, g.Level())

	raw, err := g.Generate(context.Background(), "[00:00:00] Speaker 1: hello")
	require.NoError(t, err)
	var got QuickContent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Rust rewires systems work", got.HookHeadline)
	assert.Equal(t, []string{"rust", "systems"}, got.Tags)

	assert.Equal(t, QuickSystemPrompt, s.prompt.System)
	assert.Contains(t, s.prompt.User, "Speaker 1: hello")
}

func TestQuickGeneratorRejectsMissingFields(t *testing.T) {
	s := &fakeSummarizer{out: `{"hook_headline":"x","tags":[]}`}
	_, err := NewQuick(s, Options{}).Generate(context.Background(), "text")
	require.ErrorIs(t, err, ErrInvalidContent)
	assert.Contains(t, err.Error(), "executive_brief")
	assert.Contains(t, err.Error(), "perfect_for")
}

func TestGeneratorRejectsNonJSON(t *testing.T) {
	s := &fakeSummarizer{out: "I'm sorry, I can't help with that."}
	_, err := NewDeep(s, Options{}).Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestDeepGeneratorAcceptsTakeawayShapes(t *testing.T) {
	s := &fakeSummarizer{out: `Here you go: {
		"comprehensive_overview": "A long talk.",
		"core_concepts": [{"concept": "Ownership", "explanation": "One owner per value."}, {"concept": "", "explanation": "dropped"}],
		"chronological_breakdown": [{"timestamp_description": "[00:00:00] Intro", "content": "Hellos."}],
		"contrarian_views": [],
		"actionable_takeaways": ["Try the borrow checker", {"text": "Read the book"}, {"text": "  "}]
	}`}

	raw, err := NewDeep(s, Options{}).Generate(context.Background(), "text")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []any{"Try the borrow checker", "Read the book"}, got["actionable_takeaways"])
	assert.Equal(t, []any{}, got["contrarian_views"])
	assert.Len(t, got["core_concepts"], 1)
}

func TestDeepGeneratorRejectsEmptyConcepts(t *testing.T) {
	s := &fakeSummarizer{out: `{"comprehensive_overview":"x","core_concepts":[],"chronological_breakdown":[{"content":"c"}],"actionable_takeaways":["a"]}`}
	_, err := NewDeep(s, Options{}).Generate(context.Background(), "text")
	require.ErrorIs(t, err, ErrInvalidContent)
	assert.Contains(t, err.Error(), "core_concepts")
}

func TestGeneratorRejectsAbsentArrays(t *testing.T) {
	quick := &fakeSummarizer{out: `{"hook_headline":"h","executive_brief":"b","golden_nugget":"g","perfect_for":"p"}`}
	_, err := NewQuick(quick, Options{}).Generate(context.Background(), "text")
	require.ErrorIs(t, err, ErrInvalidContent)
	assert.Contains(t, err.Error(), "tags")

	deep := &fakeSummarizer{out: `{"comprehensive_overview":"x","core_concepts":[{"concept":"c","explanation":"e"}],"chronological_breakdown":[{"content":"c"}],"actionable_takeaways":["a"]}`}
	_, err = NewDeep(deep, Options{}).Generate(context.Background(), "text")
	require.ErrorIs(t, err, ErrInvalidContent)
	assert.Contains(t, err.Error(), "contrarian_views")

	deep.out = `{"comprehensive_overview":"x","core_concepts":[{"concept":"c","explanation":"e"}],"chronological_breakdown":[{"content":"c"}],"contrarian_views":null,"actionable_takeaways":["a"]}`
	_, err = NewDeep(deep, Options{}).Generate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestGeneratorAcceptsEmptyArrays(t *testing.T) {
	quick := &fakeSummarizer{out: `{"hook_headline":"h","executive_brief":"b","golden_nugget":"g","perfect_for":"p","tags":[]}`}
	raw, err := NewQuick(quick, Options{}).Generate(context.Background(), "text")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hook_headline":"h","executive_brief":"b","golden_nugget":"g","perfect_for":"p","tags":[]}`, string(raw))

	deep := &fakeSummarizer{out: `{"comprehensive_overview":"x","core_concepts":[{"concept":"c","explanation":"e"}],"chronological_breakdown":[{"content":"c"}],"contrarian_views":[],"actionable_takeaways":["a"]}`}
	raw, err = NewDeep(deep, Options{}).Generate(context.Background(), "text")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []any{}, got["contrarian_views"])
}

func TestGeneratorTruncatesTranscript(t *testing.T) {
	s := &fakeSummarizer{err: errors.New("stop")}
	_, err := NewQuick(s, Options{MaxTranscriptChars: 10}).Generate(context.Background(), strings.Repeat("é", 50))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidContent)
	assert.Contains(t, s.prompt.User, strings.Repeat("é", 10)+truncationMarker)
	assert.NotContains(t, s.prompt.User, strings.Repeat("é", 11))
}

func TestGeneratorRejectsEmptyTranscript(t *testing.T) {
	s := &fakeSummarizer{}
	_, err := NewQuick(s, Options{}).Generate(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidContent)
	assert.Empty(t, s.prompt.User)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		`prefix {"a":{"b":2}} suffix`: `{"a":{"b":2}}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), "ExtractJSON(%q)", in)
	}
}

type fakeChat struct {
	req openai.ChatCompletionRequest
}

func (f *fakeChat) ChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return openai.ChatCompletionResponse{Content: `{"x":1}`}, nil
}

type fakeGemini struct {
	req gemini.Request
}

func (f *fakeGemini) Generate(_ context.Context, in gemini.Request) (string, error) {
	f.req = in
	return `{"y":2}`, nil
}

func TestBackendsMapPrompt(t *testing.T) {
	chat := &fakeChat{}
	out, err := NewOpenAI(chat, " gpt-4o-mini ").Complete(context.Background(), Prompt{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, out)
	assert.Equal(t, "gpt-4o-mini", chat.req.Model)
	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, "system", chat.req.Messages[0].Role)
	require.NotNil(t, chat.req.ResponseFormat)
	assert.Equal(t, "json_object", chat.req.ResponseFormat.Type)

	gem := &fakeGemini{}
	out, err = NewGemini(gem).Complete(context.Background(), Prompt{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, `{"y":2}`, out)
	assert.Equal(t, gemini.Request{System: "sys", User: "usr", JSON: true}, gem.req)
}
