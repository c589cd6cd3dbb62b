// Package coordinator runs the scenes of one job concurrently under a fixed
// cap and fails the job with the first scene that fails.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lessonforge/pkg/logx"
)

// DefaultMaxConcurrency is the scene cap when none is configured.
const DefaultMaxConcurrency = 5

// Unit is one scene's work. Run is given a context that is cancelled once
// any other unit of the same job fails; a unit is expected to stop scheduling
// new repairs when that happens and to let calls in flight finish.
type Unit struct {
	SceneIndex int
	Run        func(ctx context.Context) error
}

// SettledFunc is called after each unit returns. It runs on the unit's
// goroutine and must be safe for concurrent use.
type SettledFunc func(sceneIndex int, err error)

// Coordinator runs units through a counting admission gate.
type Coordinator struct {
	maxConcurrency int64
	onSettled      SettledFunc
	logger         *logx.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSettled registers a callback for each finished unit.
func WithSettled(fn SettledFunc) Option {
	return func(c *Coordinator) { c.onSettled = fn }
}

// New creates a coordinator that runs at most maxConcurrency units at once.
func New(maxConcurrency int, opts ...Option) *Coordinator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	c := &Coordinator{
		maxConcurrency: int64(maxConcurrency),
		logger:         logx.NewLogger("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every unit and returns the first failure. Once a unit fails no
// further units are admitted and the others see their context cancelled. Run
// returns only after every admitted unit has returned.
func (c *Coordinator) Run(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}

	jobCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	g, gctx := errgroup.WithContext(jobCtx)
	gate := semaphore.NewWeighted(c.maxConcurrency)

	// first holds the failure that aborted the job. Siblings that return
	// after seeing the cancellation must not replace it.
	var (
		first     error
		firstOnce sync.Once
	)

	admitted := 0
	for _, u := range units {
		if err := gate.Acquire(gctx, 1); err != nil || gctx.Err() != nil {
			if err == nil {
				gate.Release(1)
			}
			// A unit already failed or the caller gave up.
			break
		}
		admitted++
		g.Go(func() error {
			err := u.Run(gctx)
			if err != nil {
				err = fmt.Errorf("scene %d: %w", u.SceneIndex, err)
				firstOnce.Do(func() { first = err })
				// Abort before freeing the slot so no waiting unit is admitted.
				abort(err)
			}
			gate.Release(1)
			if c.onSettled != nil {
				c.onSettled(u.SceneIndex, err)
			}
			return err
		})
	}

	err := g.Wait()
	if skipped := len(units) - admitted; skipped > 0 {
		c.logger.Warn("%d of %d scenes were not started", skipped, len(units))
	}
	if first != nil {
		return first
	}
	if err != nil {
		return err
	}
	// Nothing failed but admission stopped, so the caller cancelled.
	if admitted < len(units) {
		return fmt.Errorf("scene scheduling stopped: %w", context.Cause(ctx))
	}
	return nil
}

// IsCancellation reports whether err only reflects a cancelled job.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
