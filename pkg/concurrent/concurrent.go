package concurrent

import (
	"context"
	"errors"
	"sync"

	"github.com/zeusync/ecs/pkg/sequence"
	"golang.org/x/sync/errgroup"
)

// Concurrent runs action for each element in its own goroutine, at most
// limit at a time (limit <= 0 means no limit). The context passed to action
// is cancelled once any action fails; the first error is returned.
func Concurrent[T any](ctx context.Context, i *sequence.Iterator[T], limit int, action func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for value := range i.Seq() {
		g.Go(func() error {
			return action(gctx, value)
		})
	}
	return g.Wait()
}

// All runs action for each element concurrently and waits for every one of
// them, returning all failures joined.
func All[T any](ctx context.Context, i *sequence.Iterator[T], action func(context.Context, T) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for value := range i.Seq() {
		wg.Add(1)
		go func(value T) {
			defer wg.Done()
			if err := action(ctx, value); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(value)
	}
	wg.Wait()
	return errors.Join(errs...)
}
