package acquisition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/providers"
	"podbrief/internal/store"
	"podbrief/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name    string
	results []providers.Result
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Acquire(ctx context.Context, _ domain.Episode, _ string) providers.Result {
	n := int(p.calls.Add(1))
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if n > len(p.results) {
		return p.results[len(p.results)-1]
	}
	return p.results[n-1]
}

func miss(name string) *scriptedProvider {
	return &scriptedProvider{name: name, results: []providers.Result{providers.Miss("nothing here")}}
}

func hit(name, text string) *scriptedProvider {
	return &scriptedProvider{name: name, results: []providers.Result{providers.Hit(domain.AcquiredTranscript{
		Text:       text,
		Utterances: []domain.Utterance{{Start: 0, End: 1, Text: text}},
		Provider:   name,
	})}}
}

type recordedOutcome struct {
	provider string
	outcome  providers.Outcome
}

type fakeRecorder struct {
	mu  sync.Mutex
	got []recordedOutcome
}

func (r *fakeRecorder) ObserveProvider(provider string, outcome providers.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, recordedOutcome{provider, outcome})
}

var episode = domain.Episode{ID: "ep-1", Title: "Episode", AudioURL: "https://cdn.example.com/ep-1.mp3"}

func TestAcquireFallsThroughInOrder(t *testing.T) {
	first := miss(providers.NamePresupplied)
	second := hit(providers.NameApplePodcasts, "from the directory")
	third := hit(providers.NamePaidASR, "from asr")
	rec := &fakeRecorder{}

	e := New(memory.New(), []providers.Provider{first, second, third}, nil, WithRecorder(rec))
	tr, err := e.Acquire(context.Background(), episode, "en-US")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusReady, tr.Status)
	assert.Equal(t, "en", tr.Language)
	assert.Equal(t, providers.NameApplePodcasts, tr.Provider)
	assert.Equal(t, "from the directory", tr.Text)
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 1, second.calls.Load())
	assert.EqualValues(t, 0, third.calls.Load())
	assert.Equal(t, []recordedOutcome{
		{providers.NamePresupplied, providers.OutcomeMiss},
		{providers.NameApplePodcasts, providers.OutcomeHit},
	}, rec.got)
}

func TestAcquireReturnsReadyWithoutProviders(t *testing.T) {
	st := memory.New()
	p := hit(providers.NamePaidASR, "text")
	e := New(st, []providers.Provider{p}, nil)

	_, err := e.Acquire(context.Background(), episode, "en")
	require.NoError(t, err)
	again, err := e.Acquire(context.Background(), episode, "en")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusReady, again.Status)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestAcquireNonLastFailureIsTreatedAsMiss(t *testing.T) {
	broken := &scriptedProvider{name: providers.NameApplePodcasts, results: []providers.Result{providers.Fail(errors.New("directory down"))}}
	asr := hit(providers.NamePaidASR, "asr text")

	tr, err := New(memory.New(), []providers.Provider{broken, asr}, nil).Acquire(context.Background(), episode, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, tr.Status)
	assert.Equal(t, providers.NamePaidASR, tr.Provider)
}

func TestAcquireFailureIsPersistedAndRetryable(t *testing.T) {
	st := memory.New()
	asr := &scriptedProvider{name: providers.NamePaidASR, results: []providers.Result{
		providers.Fail(errors.New("speech recognition: status 502")),
		providers.Hit(domain.AcquiredTranscript{Text: "second time lucky"}),
	}}
	e := New(st, []providers.Provider{miss(providers.NamePresupplied), asr}, nil)

	tr, err := e.Acquire(context.Background(), episode, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, tr.Status)
	assert.Contains(t, tr.Error, "status 502")
	assert.Equal(t, 1, tr.Attempt)

	stored, err := st.GetTranscript(context.Background(), episode.ID, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	retried, err := e.Acquire(context.Background(), episode, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, retried.Status)
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, providers.NamePaidASR, retried.Provider)
	assert.Empty(t, retried.Error)
}

func TestAcquireAllMissesFails(t *testing.T) {
	tr, err := New(memory.New(), []providers.Provider{miss("a"), miss("b")}, nil).Acquire(context.Background(), episode, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, tr.Status)
	assert.Contains(t, tr.Error, "a: nothing here")
	assert.Contains(t, tr.Error, "b: nothing here")
}

func TestAcquireIsSingleFlight(t *testing.T) {
	st := memory.New()
	p := hit(providers.NamePaidASR, "only once")
	p.block = make(chan struct{})
	p.entered = make(chan struct{}, 1)
	e := New(st, []providers.Provider{p}, nil)

	ownerDone := make(chan domain.Transcript, 1)
	go func() {
		tr, err := e.Acquire(context.Background(), episode, "en")
		assert.NoError(t, err)
		ownerDone <- tr
	}()
	<-p.entered

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := e.Acquire(context.Background(), episode, "en")
			assert.NoError(t, err)
			assert.Equal(t, domain.StatusTranscribing, tr.Status)
		}()
	}
	wg.Wait()
	close(p.block)

	owner := <-ownerDone
	assert.Equal(t, domain.StatusReady, owner.Status)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestWaitReturnsOnceTerminal(t *testing.T) {
	st := memory.New()
	rec, err := st.CreateTranscript(context.Background(), domain.Transcript{EpisodeID: episode.ID, Language: "en", Status: domain.StatusTranscribing})
	require.NoError(t, err)
	e := New(st, nil, nil, WithWaitInterval(5*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = st.UpdateTranscript(context.Background(), rec.ID, rec.Attempt, []domain.Status{domain.StatusTranscribing}, store.TranscriptUpdate{
			Status: domain.StatusReady,
			Text:   "done",
		})
	}()

	tr, err := e.Wait(context.Background(), episode.ID, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, tr.Status)
	assert.Equal(t, "done", tr.Text)
}

func TestWaitHonoursContext(t *testing.T) {
	st := memory.New()
	_, err := st.CreateTranscript(context.Background(), domain.Transcript{EpisodeID: episode.ID, Language: "en", Status: domain.StatusTranscribing})
	require.NoError(t, err)
	e := New(st, nil, nil, WithWaitInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	tr, err := e.Wait(ctx, episode.ID, "en")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StatusTranscribing, tr.Status)
}

// ctxStore rejects writes once the context is done, the way database/sql does.
type ctxStore struct {
	*memory.Store
}

func (s ctxStore) UpdateTranscript(ctx context.Context, id string, attempt int, from []domain.Status, u store.TranscriptUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateTranscript(ctx, id, attempt, from, u)
}

type cancellingProvider struct {
	cancel context.CancelFunc
}

func (p *cancellingProvider) Name() string { return providers.NamePaidASR }

func (p *cancellingProvider) Acquire(ctx context.Context, _ domain.Episode, _ string) providers.Result {
	p.cancel()
	return providers.Fail(ctx.Err())
}

func TestAcquireCancelledMidProviderStillLandsFailed(t *testing.T) {
	st := ctxStore{memory.New()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	next := hit(providers.NamePaidASR, "unused")

	e := New(st, []providers.Provider{&cancellingProvider{cancel: cancel}, next}, nil)
	tr, err := e.Acquire(ctx, episode, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, tr.Status)
	assert.Contains(t, tr.Error, context.Canceled.Error())
	assert.EqualValues(t, 0, next.calls.Load())

	persisted, err := st.GetTranscript(context.Background(), episode.ID, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, persisted.Status)

	retry := hit(providers.NamePaidASR, "second time lucky")
	tr, err = New(st, []providers.Provider{retry}, nil).Acquire(context.Background(), episode, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, tr.Status)
	assert.Equal(t, "second time lucky", tr.Text)
	assert.EqualValues(t, 1, retry.calls.Load())
}
