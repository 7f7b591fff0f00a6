package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	key    string
	err    error
	text   string
	calls  int
	config *genai.GenerateContentConfig
	model  string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: f.text[:2]}, {Text: f.text[2:]}}},
	}}}, nil
}

func newTestClient(t *testing.T, fakes map[string]*fakeModels) *Client {
	t.Helper()
	keys := make([]string, 0, len(fakes))
	for _, k := range []string{"key-a", "key-b"} {
		if _, ok := fakes[k]; ok {
			keys = append(keys, k)
		}
	}
	c, err := New(keys, "")
	require.NoError(t, err)
	c.dial = func(_ context.Context, key string) (contentGenerator, error) {
		return fakes[key], nil
	}
	return c
}

func TestGenerateJoinsPartsAndSetsJSONMode(t *testing.T) {
	a := &fakeModels{text: `{"ok":true}`}
	c := newTestClient(t, map[string]*fakeModels{"key-a": a})

	out, err := c.Generate(context.Background(), Request{System: "be brief", User: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, DefaultModel, a.model)
	assert.Equal(t, "application/json", a.config.ResponseMIMEType)
	require.NotNil(t, a.config.SystemInstruction)
	assert.Equal(t, "be brief", a.config.SystemInstruction.Parts[0].Text)
}

func TestGenerateRotatesKeysOnQuotaErrors(t *testing.T) {
	a := &fakeModels{err: errors.New("Error 429, RESOURCE_EXHAUSTED")}
	b := &fakeModels{text: "fine"}
	c := newTestClient(t, map[string]*fakeModels{"key-a": a, "key-b": b})

	out, err := c.Generate(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	// The healthy key stays current.
	_, err = c.Generate(context.Background(), Request{User: "again"})
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 2, b.calls)
}

func TestGenerateStopsOnOtherErrors(t *testing.T) {
	a := &fakeModels{err: errors.New("invalid argument")}
	b := &fakeModels{text: "unused"}
	c := newTestClient(t, map[string]*fakeModels{"key-a": a, "key-b": b})

	_, err := c.Generate(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Zero(t, b.calls)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New([]string{" ", ""}, "m")
	assert.Error(t, err)
}
