package async

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tierflow/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// SafeGo executes fn in a goroutine with panic recovery and an optional
// timeout. A zero timeout only inherits the parent's cancellation. Errors and
// panics are logged through the logger carried by parentCtx.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()

		logger := observability.FromContext(ctx).WithField("task", taskName)
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Batch runs fn for every item with at most limit running at once. The first
// error cancels the remaining work and is returned, annotated with taskName.
// A panic in fn is returned as an error.
func Batch[T any](ctx context.Context, items []T, limit int, taskName string, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	logger := observability.FromContext(ctx).WithField("task", taskName)
	for _, item := range items {
		g.Go(func() (err error) {
			defer observability.RecoverToError(logger, taskName, &err)
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s: %w", taskName, err)
	}
	return nil
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
