package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/upstream/openai"
)

const DefaultMaxAudioBytes = 200 << 20

type TranscriptionClient interface {
	Transcribe(ctx context.Context, file io.Reader, in openai.TranscriptionRequest) (openai.Transcription, error)
}

type PaidASROptions struct {
	Model           string
	MaxAudioBytes   int64
	DownloadTimeout time.Duration
	Timeout         time.Duration
}

// PaidASR downloads episode audio and submits it for speech recognition. It
// is the provider of last resort and almost always produces a transcript.
type PaidASR struct {
	httpClient *http.Client
	client     TranscriptionClient
	opts       PaidASROptions
	logger     *slog.Logger
}

func NewPaidASR(httpClient *http.Client, client TranscriptionClient, opts PaidASROptions, logger *slog.Logger) *PaidASR {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	opts.Model = strings.TrimSpace(opts.Model)
	if logger == nil {
		logger = slog.Default()
	}
	return &PaidASR{httpClient: httpClient, client: client, opts: opts, logger: logger}
}

func (p *PaidASR) Name() string { return NamePaidASR }

func (p *PaidASR) Acquire(ctx context.Context, ep domain.Episode, language string) Result {
	audioURL := strings.TrimSpace(ep.AudioURL)
	if audioURL == "" {
		return Fail(errors.New("episode has no audio url"))
	}
	if p.client == nil {
		return Fail(errors.New("speech recognition client not configured"))
	}

	started := time.Now()
	audio, err := fetch(ctx, p.httpClient, audioURL, p.opts.DownloadTimeout, p.opts.MaxAudioBytes, nil)
	if err != nil {
		return Fail(fmt.Errorf("download audio: %w", err))
	}
	if audio.Status < 200 || audio.Status > 299 {
		return Fail(fmt.Errorf("download audio: status %d", audio.Status))
	}
	if len(audio.Body) == 0 {
		return Fail(errors.New("download audio: empty body"))
	}
	p.logger.Info("audio downloaded",
		"episode_id", ep.ID,
		"bytes", len(audio.Body),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	out, err := p.client.Transcribe(ctx, bytes.NewReader(audio.Body), openai.TranscriptionRequest{
		Model:    p.opts.Model,
		FileName: audioFileName(audioURL),
		Language: language,
	})
	if err != nil {
		return Fail(fmt.Errorf("speech recognition: %w", err))
	}

	utterances := make([]domain.Utterance, 0, len(out.Segments))
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		utterances = append(utterances, domain.Utterance{
			Start:      s.Start,
			End:        s.End,
			Speaker:    speakerID(s.Speaker),
			Text:       text,
			Confidence: 1.0,
		})
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		text = utterancesText(utterances)
	}
	if text == "" {
		return Fail(errors.New("speech recognition returned no text"))
	}
	return Hit(domain.AcquiredTranscript{Text: text, Utterances: utterances, Provider: NamePaidASR})
}

func audioFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "audio.mp3"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "audio.mp3"
	}
	return name
}
