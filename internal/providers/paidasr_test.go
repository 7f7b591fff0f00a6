package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"podbrief/internal/domain"
	"podbrief/internal/upstream/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	got   openai.TranscriptionRequest
	audio string
	out   openai.Transcription
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, file io.Reader, in openai.TranscriptionRequest) (openai.Transcription, error) {
	f.got = in
	b, _ := io.ReadAll(file)
	f.audio = string(b)
	return f.out, f.err
}

func serveAudio(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestPaidASRConvertsSegments(t *testing.T) {
	ts := serveAudio(t, "ID3-audio-bytes")
	client := &fakeTranscriber{out: openai.Transcription{
		Text: "hello there",
		Segments: []openai.Segment{
			{Start: 0, End: 1.5, Text: " hello", Speaker: "SPEAKER_01"},
			{Start: 1.5, End: 3, Text: " there"},
			{Start: 3, End: 3, Text: "  "},
		},
	}}

	p := NewPaidASR(ts.Client(), client, PaidASROptions{Model: "whisper-1"}, nil)
	res := p.Acquire(context.Background(), domain.Episode{ID: "e", AudioURL: ts.URL + "/media/ep12.mp3?token=x"}, "en")
	require.Equal(t, OutcomeHit, res.Outcome, res.String())

	assert.Equal(t, "ID3-audio-bytes", client.audio)
	assert.Equal(t, "whisper-1", client.got.Model)
	assert.Equal(t, "ep12.mp3", client.got.FileName)
	assert.Equal(t, "en", client.got.Language)

	assert.Equal(t, NamePaidASR, res.Transcript.Provider)
	assert.Equal(t, "hello there", res.Transcript.Text)
	require.Len(t, res.Transcript.Utterances, 2)
	assert.Equal(t, 1, res.Transcript.Utterances[0].Speaker)
	assert.Equal(t, 0, res.Transcript.Utterances[1].Speaker)
}

func TestPaidASRFailsOnServiceError(t *testing.T) {
	ts := serveAudio(t, "audio")
	client := &fakeTranscriber{err: &openai.Error{StatusCode: http.StatusBadGateway}}

	res := NewPaidASR(ts.Client(), client, PaidASROptions{}, nil).Acquire(context.Background(), domain.Episode{AudioURL: ts.URL}, "en")
	require.Equal(t, OutcomeFail, res.Outcome)
	var upErr *openai.Error
	assert.True(t, errors.As(res.Err, &upErr))
}

func TestPaidASRRejectsOversizedAudio(t *testing.T) {
	ts := serveAudio(t, strings.Repeat("a", 64))
	client := &fakeTranscriber{}

	res := NewPaidASR(ts.Client(), client, PaidASROptions{MaxAudioBytes: 16}, nil).Acquire(context.Background(), domain.Episode{AudioURL: ts.URL}, "en")
	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Empty(t, client.audio)
}

func TestPaidASRFailsWithoutAudioURL(t *testing.T) {
	res := NewPaidASR(nil, &fakeTranscriber{}, PaidASROptions{}, nil).Acquire(context.Background(), domain.Episode{}, "en")
	assert.Equal(t, OutcomeFail, res.Outcome)
}

func TestSpeakerID(t *testing.T) {
	assert.Equal(t, 3, speakerID(float64(3)))
	assert.Equal(t, 12, speakerID("SPEAKER_12"))
	assert.Equal(t, 0, speakerID("narrator"))
	assert.Equal(t, 0, speakerID(nil))
}

func TestAudioFileName(t *testing.T) {
	assert.Equal(t, "show.m4a", audioFileName("https://cdn.example.com/a/b/show.m4a?x=1"))
	assert.Equal(t, "audio.mp3", audioFileName("https://cdn.example.com/stream"))
	assert.Equal(t, "audio.mp3", audioFileName("://bad"))
}
