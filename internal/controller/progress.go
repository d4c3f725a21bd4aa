package controller

import (
	"sync"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/models"
)

// estimator advances a synthetic progress value while one attempt is in
// flight. The resolve call offers no byte-level signal, so the value is for
// display only.
type estimator struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// startEstimator ticks on behalf of attempt generation gen until stopped or
// until the controller moves past that generation.
func (c *Controller) startEstimator(gen uint64) *estimator {
	e := &estimator{done: make(chan struct{})}
	if c.opts.TickInterval <= 0 {
		return e
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(c.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				if !c.tick(gen) {
					return
				}
			}
		}
	}()
	return e
}

// stop returns once the ticking goroutine has exited.
func (e *estimator) stop() {
	e.once.Do(func() { close(e.done) })
	e.wg.Wait()
}

// tick applies one increment if gen is still the live in-flight attempt.
// It reports whether ticking should continue.
func (c *Controller) tick(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.state.Phase != models.PhaseInFlight {
		return false
	}
	next := nextProgress(c.state.Progress, c.rng.Float64()*c.opts.ProgressStep, c.opts.ProgressCeiling)
	if next == c.state.Progress {
		return true
	}
	c.state.Progress = next
	c.emit(models.Update{Kind: models.NotifyProgress, State: c.state})
	return true
}

// nextProgress adds step to current without passing ceiling and never goes
// backwards.
func nextProgress(current, step, ceiling float64) float64 {
	if step < 0 {
		step = 0
	}
	next := current + step
	if next > ceiling {
		next = ceiling
	}
	if next < current {
		return current
	}
	return next
}
