package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of background bookkeeping.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// FanOut runs background tasks after a reply has been returned. Tasks in a
// batch run concurrently with no ordering between them. A task's error or
// panic is logged and dropped; it never affects the other tasks or the
// caller.
type FanOut struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewFanOut creates a FanOut whose batches share one deadline.
func NewFanOut(timeout time.Duration) *FanOut {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FanOut{timeout: timeout}
}

// Dispatch starts tasks in the background and returns immediately. The
// batch context keeps ctx's values but not its cancellation, so finishing
// the request does not cut bookkeeping short.
func (f *FanOut) Dispatch(ctx context.Context, log *zap.Logger, tasks ...Task) {
	if len(tasks) == 0 {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()

		f.RunAll(bctx, log, tasks...)
	}()
}

// RunAll runs tasks concurrently on ctx and waits for all of them. Like
// Dispatch, a failing or panicking task is only logged.
func (f *FanOut) RunAll(ctx context.Context, log *zap.Logger, tasks ...Task) {
	var g errgroup.Group
	for _, t := range tasks {
		g.Go(func() error {
			f.run(ctx, log, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *FanOut) run(ctx context.Context, log *zap.Logger, t Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: background task panicked",
				zap.String("task", t.Name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := t.Run(ctx); err != nil {
		log.Warn("pipeline: background task failed",
			zap.String("task", t.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	log.Debug("pipeline: background task done",
		zap.String("task", t.Name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// Wait blocks until every dispatched batch has finished.
func (f *FanOut) Wait() {
	f.wg.Wait()
}
