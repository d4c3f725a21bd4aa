package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/api"
	"github.com/M0usa391/video-saver-tik-tok/internal/models"
	"github.com/M0usa391/video-saver-tik-tok/internal/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const videoURL = "https://www.tiktok.com/@x/video/123"

func testOptions() Options {
	return Options{
		Timeout:         time.Second,
		MaxRetries:      1,
		RetryDelay:      time.Millisecond,
		TickInterval:    time.Millisecond,
		ProgressStep:    3,
		ProgressCeiling: 75,
		DomainToken:     "tiktok.com",
	}
}

// updateLog collects every update the controller emits.
type updateLog struct {
	mu      sync.Mutex
	updates []models.Update
}

func (l *updateLog) observe(u models.Update) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

func (l *updateLog) all() []models.Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Update(nil), l.updates...)
}

func (l *updateLog) kinds() []models.NotificationKind {
	var kinds []models.NotificationKind
	for _, u := range l.all() {
		if u.Kind != models.NotifyProgress {
			kinds = append(kinds, u.Kind)
		}
	}
	return kinds
}

type fakeAcquirer struct {
	artifact models.Artifact
	calls    int
}

func (f *fakeAcquirer) Acquire(_ context.Context, result models.RemoteResult) models.Artifact {
	f.calls++
	a := f.artifact
	a.RemoteURL = result.DownloadURL
	return a
}

type fakeRecorder struct {
	entries []models.HistoryEntry
	err     error
}

func (f *fakeRecorder) Append(entry models.HistoryEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func newEndpoint(t *testing.T, handler http.HandlerFunc) (*api.Client, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return api.NewClient(server.URL, server.Client()), &hits
}

func TestSubmit_ServerErrorTwice(t *testing.T) {
	client, hits := newEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	var ul updateLog
	c := New(client, testOptions(), WithObserver(ul.observe))

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	assert.Equal(t, models.PhaseFailed, out.State.Phase)
	assert.Equal(t, models.FailureServerError, out.State.Failure)
	assert.Equal(t, 1, out.State.AttemptNumber)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))

	var serverErr *api.ServerError
	require.ErrorAs(t, out.Err, &serverErr)
	assert.Equal(t, http.StatusInternalServerError, serverErr.Status)
	assert.Equal(t, []models.NotificationKind{models.NotifyRetry, models.NotifyFailure}, ul.kinds())
}

func TestSubmit_MissingDownloadURLIsTerminal(t *testing.T) {
	client, hits := newEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})
	c := New(client, testOptions())

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	assert.Equal(t, models.PhaseFailed, out.State.Phase)
	assert.Equal(t, models.FailureMissingDownloadURL, out.State.Failure)
	assert.Equal(t, 0, out.State.AttemptNumber)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.ErrorIs(t, out.Err, ErrMissingDownloadURL)
}

func TestSubmit_ValidationNeverCallsEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    models.FailureKind
		wantErr error
	}{
		{"Wrong domain", "https://example.com/not-tiktok", models.FailureInvalidDomain, validator.ErrInvalidDomain},
		{"Empty", "", models.FailureEmpty, validator.ErrEmpty},
		{"Whitespace", "   ", models.FailureEmpty, validator.ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, hits := newEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
				t.Error("endpoint must not be called")
			})
			var ul updateLog
			c := New(client, testOptions(), WithObserver(ul.observe))

			out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: tt.input})

			assert.Equal(t, models.PhaseFailed, out.State.Phase)
			assert.Equal(t, tt.kind, out.State.Failure)
			assert.Equal(t, 0, out.State.AttemptNumber)
			assert.Equal(t, 0, out.Attempts)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.Equal(t, int32(0), atomic.LoadInt32(hits))
			assert.Equal(t, []models.NotificationKind{models.NotifyValidation}, ul.kinds())
		})
	}
}

func TestSubmit_TimeoutIsTerminal(t *testing.T) {
	var calls int32
	resolver := ResolverFunc(func(ctx context.Context, _ string) (models.RemoteResult, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return models.RemoteResult{}, fmt.Errorf("%w: %w", api.ErrTransport, ctx.Err())
	})
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	var ul updateLog
	c := New(resolver, opts, WithObserver(ul.observe))

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	assert.Equal(t, models.PhaseFailed, out.State.Phase)
	assert.Equal(t, models.FailureTimeout, out.State.Failure)
	assert.Equal(t, 0, out.State.AttemptNumber)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Equal(t, []models.NotificationKind{models.NotifyTimeout}, ul.kinds())
}

func TestSubmit_TransportErrorRetriedOnce(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
		wantNumber int
	}{
		{"One retry", 1, 2, 1},
		{"No retries", 0, 1, 0},
		{"Two retries", 2, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			resolver := ResolverFunc(func(ctx context.Context, _ string) (models.RemoteResult, error) {
				calls++
				return models.RemoteResult{}, fmt.Errorf("%w: connection refused", api.ErrTransport)
			})
			opts := testOptions()
			opts.MaxRetries = tt.maxRetries
			c := New(resolver, opts)

			out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

			assert.Equal(t, models.FailureTransportError, out.State.Failure)
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantNumber, out.State.AttemptNumber)
		})
	}
}

func TestSubmit_MalformedJSONIsTransportError(t *testing.T) {
	client, hits := newEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	})
	c := New(client, testOptions())

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	assert.Equal(t, models.FailureTransportError, out.State.Failure)
	assert.ErrorIs(t, out.Err, api.ErrMalformedResponse)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestSubmit_RetryThenSuccess(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, _ string) (models.RemoteResult, error) {
		calls++
		if calls == 1 {
			return models.RemoteResult{}, &api.ServerError{Status: http.StatusBadGateway}
		}
		time.Sleep(10 * time.Millisecond)
		return models.RemoteResult{DownloadURL: "https://cdn.example/v.mp4", Title: "cat"}, nil
	})
	var ul updateLog
	c := New(resolver, testOptions(), WithObserver(ul.observe), WithRand(rand.New(rand.NewSource(1))))

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, out.State.AttemptNumber)
	assert.Equal(t, float64(100), out.State.Progress)
	assert.Equal(t, models.FailureKind(""), out.State.Failure)
	assert.Equal(t, "https://cdn.example/v.mp4", out.Result.DownloadURL)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []models.NotificationKind{models.NotifyRetry, models.NotifySuccess}, ul.kinds())
}

func TestSubmit_ProgressBehaviour(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, _ string) (models.RemoteResult, error) {
		calls++
		time.Sleep(30 * time.Millisecond)
		if calls == 1 {
			return models.RemoteResult{}, fmt.Errorf("%w: reset by peer", api.ErrTransport)
		}
		return models.RemoteResult{DownloadURL: "https://cdn.example/v.mp4"}, nil
	})
	var ul updateLog
	c := New(resolver, testOptions(), WithObserver(ul.observe), WithRand(rand.New(rand.NewSource(7))))

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})
	require.True(t, out.Succeeded())

	updates := ul.all()
	require.NotEmpty(t, updates)
	last := -1.0
	attempt := -1
	sawTicks := false
	for _, u := range updates {
		if u.State.Phase != models.PhaseInFlight {
			continue
		}
		if u.State.AttemptNumber != attempt {
			attempt = u.State.AttemptNumber
			assert.Equal(t, 0.0, u.State.Progress, "attempt %d must start at zero", attempt)
			last = 0
			continue
		}
		sawTicks = true
		assert.GreaterOrEqual(t, u.State.Progress, last)
		assert.LessOrEqual(t, u.State.Progress, 75.0)
		last = u.State.Progress
	}
	assert.True(t, sawTicks, "expected progress ticks while in flight")
	assert.Equal(t, 1, attempt)

	for _, u := range updates {
		assert.Equal(t, u.State.Phase == models.PhaseSucceeded, u.State.Progress == 100,
			"progress 100 only on success (phase %s)", u.State.Phase)
	}
}

func TestSubmit_NoTicksAfterTerminal(t *testing.T) {
	client, _ := newEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	opts := testOptions()
	opts.MaxRetries = 0
	var ul updateLog
	c := New(client, opts, WithObserver(ul.observe))

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})
	require.Equal(t, models.PhaseFailed, out.State.Phase)
	count := len(ul.all())

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ul.all(), count)
	assert.Equal(t, models.PhaseFailed, c.State().Phase)
	assert.Equal(t, models.NotifyFailure, ul.all()[count-1].Kind)
}

func TestSubmit_CancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	resolver := ResolverFunc(func(rctx context.Context, _ string) (models.RemoteResult, error) {
		calls++
		cancel()
		<-rctx.Done()
		return models.RemoteResult{}, fmt.Errorf("%w: %w", api.ErrTransport, rctx.Err())
	})
	var ul updateLog
	c := New(resolver, testOptions(), WithObserver(ul.observe))

	out := c.Submit(ctx, models.DownloadRequest{SourceURL: videoURL})

	assert.Equal(t, models.PhaseAborted, out.State.Phase)
	assert.ErrorIs(t, out.Err, ErrAborted)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []models.NotificationKind{models.NotifyAborted}, ul.kinds())
}

func TestSubmit_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	resolver := ResolverFunc(func(context.Context, string) (models.RemoteResult, error) {
		calls++
		return models.RemoteResult{}, &api.ServerError{Status: http.StatusInternalServerError}
	})
	opts := testOptions()
	opts.RetryDelay = time.Minute
	c := New(resolver, opts, WithObserver(func(u models.Update) {
		if u.Kind == models.NotifyRetry {
			cancel()
		}
	}))

	out := c.Submit(ctx, models.DownloadRequest{SourceURL: videoURL})

	assert.Equal(t, models.PhaseAborted, out.State.Phase)
	assert.ErrorIs(t, out.Err, ErrAborted)
	assert.Equal(t, 1, calls)
}

func TestSubmit_AcquiresAndRecords(t *testing.T) {
	created := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	resolver := ResolverFunc(func(context.Context, string) (models.RemoteResult, error) {
		return models.RemoteResult{DownloadURL: "https://cdn.example/v.mp4", Filename: "v.mp4"}, nil
	})
	acquirer := &fakeAcquirer{artifact: models.Artifact{Kind: models.ArtifactLink, FallbackReason: "status 403"}}
	recorder := &fakeRecorder{}
	var ul updateLog
	c := New(resolver, testOptions(),
		WithObserver(ul.observe),
		WithAcquirer(acquirer),
		WithRecorder(recorder),
		WithClock(func() time.Time { return created }),
	)

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, acquirer.calls)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, models.ArtifactLink, out.Artifact.Kind)
	assert.Equal(t, "https://cdn.example/v.mp4", out.Artifact.RemoteURL)
	assert.Equal(t, []models.NotificationKind{models.NotifySuccess, models.NotifyFallback}, ul.kinds())

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, models.HistoryEntry{
		SourceURL:   videoURL,
		DownloadURL: "https://cdn.example/v.mp4",
		DisplayName: "v.mp4",
		CreatedAt:   created,
	}, recorder.entries[0])
}

func TestSubmit_RecorderFailureKeepsSuccess(t *testing.T) {
	resolver := ResolverFunc(func(context.Context, string) (models.RemoteResult, error) {
		return models.RemoteResult{DownloadURL: "https://cdn.example/v.mp4"}, nil
	})
	acquirer := &fakeAcquirer{artifact: models.Artifact{Kind: models.ArtifactBlob, Handle: "h"}}
	recorder := &fakeRecorder{err: errors.New("disk full")}
	var ul updateLog
	c := New(resolver, testOptions(), WithObserver(ul.observe), WithAcquirer(acquirer), WithRecorder(recorder))

	out := c.Submit(context.Background(), models.DownloadRequest{SourceURL: videoURL})

	assert.True(t, out.Succeeded())
	assert.NoError(t, out.Err)
	assert.Equal(t, []models.NotificationKind{models.NotifySuccess}, ul.kinds())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 60*time.Second, opts.Timeout)
	assert.Equal(t, 1, opts.MaxRetries)
	assert.Equal(t, 3*time.Second, opts.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, opts.TickInterval)
	assert.Equal(t, 75.0, opts.ProgressCeiling)
	assert.Equal(t, "tiktok.com", opts.DomainToken)
}

func TestNextProgress(t *testing.T) {
	tests := []struct {
		name                   string
		current, step, ceiling float64
		want                   float64
	}{
		{"Normal step", 10, 2.5, 75, 12.5},
		{"Capped at ceiling", 74, 3, 75, 75},
		{"Already above ceiling", 80, 1, 75, 80},
		{"Negative step", 10, -1, 75, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextProgress(tt.current, tt.step, tt.ceiling))
		})
	}
}
