package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"podbrief/internal/domain"
)

type Outcome string

const (
	OutcomeHit  Outcome = "hit"
	OutcomeMiss Outcome = "miss"
	OutcomeFail Outcome = "fail"
)

// Result is what a single acquisition attempt produced. Exactly one of
// Transcript (hit), Reason (miss) or Err (fail) is meaningful.
type Result struct {
	Outcome    Outcome
	Transcript domain.AcquiredTranscript
	Reason     string
	Err        error
}

func Hit(t domain.AcquiredTranscript) Result {
	return Result{Outcome: OutcomeHit, Transcript: t}
}

func Miss(format string, args ...any) Result {
	return Result{Outcome: OutcomeMiss, Reason: fmt.Sprintf(format, args...)}
}

func Fail(err error) Result {
	return Result{Outcome: OutcomeFail, Err: err}
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeHit:
		return "hit via " + r.Transcript.Provider
	case OutcomeMiss:
		return "miss: " + r.Reason
	case OutcomeFail:
		if r.Err != nil {
			return "fail: " + r.Err.Error()
		}
		return "fail"
	default:
		return "unknown"
	}
}

// Provider is one source of transcripts. Expected negative outcomes (nothing
// published, no match, not found) are misses; only unexpected service errors
// are failures.
type Provider interface {
	Name() string
	Acquire(ctx context.Context, ep domain.Episode, language string) Result
}

const (
	NamePresupplied   = "presupplied"
	NameApplePodcasts = "apple_podcasts"
	NamePaidASR       = "paid_asr"
)

var reSpeakerDigits = regexp.MustCompile(`(\d+)$`)

// speakerID maps the loosely typed speaker labels providers return onto an
// integer id. Unknown shapes become 0.
func speakerID(v any) int {
	switch s := v.(type) {
	case float64:
		return int(s)
	case int:
		return s
	case string:
		if m := reSpeakerDigits.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	return 0
}

type fetchResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// fetch performs a bounded GET. A non-2xx status is reported through Status,
// not as an error.
func fetch(ctx context.Context, client *http.Client, rawURL string, timeout time.Duration, maxBytes int64, header http.Header) (fetchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	out := fetchResult{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out, nil
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return out, fmt.Errorf("read body: %w", err)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return out, fmt.Errorf("response exceeds %d bytes", maxBytes)
	}
	out.Body = body
	return out, nil
}

func utterancesText(us []domain.Utterance) string {
	parts := make([]string, 0, len(us))
	for _, u := range us {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
