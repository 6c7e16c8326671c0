package pipeline

import (
	"context"
	"sync"
)

// fanOut runs fn over in with at most limit calls in flight. Results keep
// input order. The first error cancels the remaining calls and is returned.
func fanOut[In, Out any](ctx context.Context, limit int, in []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(in))
	if len(in) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	fail := func(err error) {
		once.Do(func() {
			first = err
			cancel()
		})
	}

	sem := make(chan struct{}, max(limit, 1))
	for i, v := range in {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
			defer func() { <-sem }()

			o, err := fn(ctx, v)
			if err != nil {
				fail(err)
				return
			}
			out[i] = o
		}()
	}
	wg.Wait()

	if first != nil {
		return nil, first
	}
	return out, nil
}
