package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/api"
	"github.com/M0usa391/video-saver-tik-tok/internal/config"
	"github.com/M0usa391/video-saver-tik-tok/internal/models"
	"github.com/M0usa391/video-saver-tik-tok/internal/validator"

	log "github.com/sirupsen/logrus"
)

// Terminal errors that do not come from the resolver itself.
var (
	ErrAborted            = errors.New("download aborted")
	ErrTimeout            = errors.New("resolve attempt timed out")
	ErrMissingDownloadURL = errors.New("response carries no downloadUrl")
)

// Resolver turns a source link into a RemoteResult. *api.Client implements it.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (models.RemoteResult, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, sourceURL string) (models.RemoteResult, error)

func (f ResolverFunc) Resolve(ctx context.Context, sourceURL string) (models.RemoteResult, error) {
	return f(ctx, sourceURL)
}

// Acquirer materializes a successful result. It must not fail; problems are
// reported through a link artifact.
type Acquirer interface {
	Acquire(ctx context.Context, result models.RemoteResult) models.Artifact
}

// Recorder receives one history entry per successful request.
type Recorder interface {
	Append(entry models.HistoryEntry) error
}

// Options holds the tunables of a Controller.
type Options struct {
	Timeout         time.Duration // Per attempt; zero disables it
	MaxRetries      int           // Additional attempts after the first
	RetryDelay      time.Duration
	TickInterval    time.Duration // Zero disables progress estimation
	ProgressStep    float64
	ProgressCeiling float64
	DomainToken     string
}

// OptionsFromConfig derives controller options from the loaded configuration.
func OptionsFromConfig(cfg models.Config) Options {
	return Options{
		Timeout:         time.Duration(cfg.TimeoutSec) * time.Second,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		TickInterval:    time.Duration(cfg.ProgressTickMs) * time.Millisecond,
		ProgressStep:    cfg.ProgressStep,
		ProgressCeiling: cfg.ProgressCeiling,
		DomainToken:     cfg.DomainToken,
	}
}

// DefaultOptions returns the options of the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

type Option func(*Controller)

// WithObserver registers the update callback. It is invoked while the
// controller lock is held, so it must not call back into the Controller.
func WithObserver(observer func(models.Update)) Option {
	return func(c *Controller) { c.observer = observer }
}

func WithAcquirer(acquirer Acquirer) Option {
	return func(c *Controller) { c.acquirer = acquirer }
}

func WithRecorder(recorder Recorder) Option {
	return func(c *Controller) { c.recorder = recorder }
}

// WithRand sets the source of progress increments.
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Outcome is the terminal result of Submit.
type Outcome struct {
	State    models.AttemptState
	Result   *models.RemoteResult
	Artifact *models.Artifact
	Err      error
	Attempts int // Resolver calls made
}

// Succeeded reports whether the request ended in PhaseSucceeded.
func (o Outcome) Succeeded() bool {
	return o.State.Phase == models.PhaseSucceeded
}

// Controller owns the single active attempt of one download form.
type Controller struct {
	resolver Resolver
	opts     Options
	observer func(models.Update)
	acquirer Acquirer
	recorder Recorder
	rng      *rand.Rand
	now      func() time.Time

	mu         sync.Mutex
	state      models.AttemptState
	generation uint64
}

func New(resolver Resolver, opts Options, options ...Option) *Controller {
	c := &Controller{
		resolver: resolver,
		opts:     opts,
		now:      time.Now,
		state:    models.AttemptState{Phase: models.PhaseIdle},
	}
	for _, o := range options {
		o(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.opts.MaxRetries < 0 {
		c.opts.MaxRetries = 0
	}
	return c
}

// State returns a snapshot of the current attempt.
func (c *Controller) State() models.AttemptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit validates req and drives it to a terminal state on the calling
// goroutine. Cancelling ctx aborts the request. Callers must not run two
// Submits on one Controller at the same time.
func (c *Controller) Submit(ctx context.Context, req models.DownloadRequest) Outcome {
	c.mu.Lock()
	c.generation++
	c.state = models.AttemptState{Phase: models.PhaseValidating, StartedAt: c.now()}
	c.mu.Unlock()

	if err := validator.Validate(req.SourceURL, c.opts.DomainToken); err != nil {
		kind := models.FailureInvalidDomain
		msg := "The link must point to " + c.opts.DomainToken
		if errors.Is(err, validator.ErrEmpty) {
			kind = models.FailureEmpty
			msg = "Please paste a video link first"
		}
		return c.fail(models.NotifyValidation, kind, msg, err, 0)
	}

	calls := 0
	for attempt := 0; ; attempt++ {
		calls++
		result, kind, err := c.runAttempt(ctx, req, attempt)
		switch {
		case err == nil:
			return c.succeed(ctx, req, result, calls)
		case errors.Is(err, ErrAborted):
			return c.abort(err, calls)
		}

		if kind.Retryable() && attempt < c.opts.MaxRetries {
			c.scheduleRetry(kind, err, attempt)
			if !sleep(ctx, c.opts.RetryDelay) {
				return c.abort(fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx)), calls)
			}
			continue
		}

		notification := models.NotifyFailure
		msg := fmt.Sprintf("Download failed: %v", err)
		if kind == models.FailureTimeout {
			notification = models.NotifyTimeout
			msg = "The server took too long to answer, please try again later"
		}
		return c.fail(notification, kind, msg, err, calls)
	}
}

// runAttempt performs one resolver call with its own timeout and progress
// estimator. A nil error means a usable result.
func (c *Controller) runAttempt(ctx context.Context, req models.DownloadRequest, attempt int) (models.RemoteResult, models.FailureKind, error) {
	gen := c.beginAttempt(attempt)
	est := c.startEstimator(gen)
	defer est.stop()

	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if c.opts.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	result, err := c.resolver.Resolve(attemptCtx, req.SourceURL)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err == nil {
		if result.DownloadURL == "" {
			return result, models.FailureMissingDownloadURL, ErrMissingDownloadURL
		}
		return result, "", nil
	}

	switch {
	case ctx.Err() != nil:
		return result, "", fmt.Errorf("%w: %w", ErrAborted, err)
	case timedOut:
		return result, models.FailureTimeout, fmt.Errorf("%w after %s: %w", ErrTimeout, c.opts.Timeout, err)
	case errors.Is(err, api.ErrServerError):
		return result, models.FailureServerError, err
	default:
		return result, models.FailureTransportError, err
	}
}

func (c *Controller) beginAttempt(attempt int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.state = models.AttemptState{
		Phase:         models.PhaseInFlight,
		AttemptNumber: attempt,
		StartedAt:     c.now(),
	}
	c.emit(models.Update{Kind: models.NotifyProgress, State: c.state})
	return c.generation
}

// scheduleRetry parks the state between two attempts. The attempt number is
// only advanced once the next attempt begins.
func (c *Controller) scheduleRetry(kind models.FailureKind, err error, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.state.Phase = models.PhaseIdle
	c.state.Failure = kind
	log.WithError(err).Warnf("Attempt %d failed (%s), retrying in %s", attempt+1, kind, c.opts.RetryDelay)
	c.emit(models.Update{
		Kind:    models.NotifyRetry,
		State:   c.state,
		Message: fmt.Sprintf("Connection problem, retrying (attempt %d of %d)", attempt+2, c.opts.MaxRetries+1),
		Err:     err,
	})
}

func (c *Controller) succeed(ctx context.Context, req models.DownloadRequest, result models.RemoteResult, calls int) Outcome {
	c.mu.Lock()
	c.generation++
	c.state.Phase = models.PhaseSucceeded
	c.state.Failure = ""
	c.state.Progress = 100
	state := c.state
	c.emit(models.Update{
		Kind:    models.NotifySuccess,
		State:   state,
		Message: "Video ready: " + result.DisplayName(),
		Result:  &result,
	})
	c.mu.Unlock()

	out := Outcome{State: state, Result: &result, Attempts: calls}

	if c.acquirer != nil {
		artifact := c.acquirer.Acquire(ctx, result)
		out.Artifact = &artifact
		if artifact.Kind == models.ArtifactLink {
			c.mu.Lock()
			c.emit(models.Update{
				Kind:     models.NotifyFallback,
				State:    c.state,
				Message:  "Preview unavailable, use the direct link instead",
				Result:   &result,
				Artifact: &artifact,
			})
			c.mu.Unlock()
		}
	}

	if c.recorder != nil {
		entry := models.HistoryEntry{
			SourceURL:   req.SourceURL,
			DownloadURL: result.DownloadURL,
			DisplayName: result.DisplayName(),
			CreatedAt:   c.now(),
		}
		if err := c.recorder.Append(entry); err != nil {
			log.WithError(err).Error("Failed to record download in history")
		}
	}
	return out
}

func (c *Controller) fail(notification models.NotificationKind, kind models.FailureKind, msg string, err error, calls int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.state.Phase = models.PhaseFailed
	c.state.Failure = kind
	c.emit(models.Update{Kind: notification, State: c.state, Message: msg, Err: err})
	return Outcome{State: c.state, Err: err, Attempts: calls}
}

func (c *Controller) abort(err error, calls int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.state.Phase = models.PhaseAborted
	c.emit(models.Update{Kind: models.NotifyAborted, State: c.state, Message: "Download cancelled", Err: err})
	return Outcome{State: c.state, Err: err, Attempts: calls}
}

// emit must be called with c.mu held.
func (c *Controller) emit(u models.Update) {
	if c.observer != nil {
		c.observer(u)
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
