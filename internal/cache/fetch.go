package cache

import (
	"context"
	"sync"

	"mockpit/internal/models"
)

// fetchCall is one in-flight full-list fetch shared by every waiter.
type fetchCall struct {
	gen      int64
	done     chan struct{}
	mappings []*models.Mapping
	err      error
}

// fetcher coalesces concurrent full-list fetches. A request arriving while
// one is in flight joins it instead of issuing a duplicate call. A forced
// request never accepts a fetch that started before it was made: it waits
// out the in-flight call, then issues (or joins) a strictly newer one.
type fetcher struct {
	mu       sync.Mutex
	gen      int64
	inflight *fetchCall
	run      func(ctx context.Context) ([]*models.Mapping, error)
	lifetime func() context.Context
}

func newFetcher(run func(ctx context.Context) ([]*models.Mapping, error), lifetime func() context.Context) *fetcher {
	return &fetcher{run: run, lifetime: lifetime}
}

func (f *fetcher) fetch(ctx context.Context, force bool) ([]*models.Mapping, error) {
	f.mu.Lock()
	entryGen := f.gen

	for {
		call := f.inflight
		if call == nil {
			call = &fetchCall{gen: f.gen + 1, done: make(chan struct{})}
			f.gen = call.gen
			f.inflight = call
			f.mu.Unlock()
			go f.execute(call)
			f.mu.Lock()
		}

		if !force || call.gen > entryGen {
			f.mu.Unlock()
			select {
			case <-call.done:
				return call.mappings, call.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Forced and the in-flight call predates the request: let it finish,
		// then loop to start a fresh one.
		f.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		f.mu.Lock()
	}
}

func (f *fetcher) execute(call *fetchCall) {
	ctx := context.Background()
	if f.lifetime != nil {
		if lc := f.lifetime(); lc != nil {
			ctx = lc
		}
	}
	call.mappings, call.err = f.run(ctx)

	f.mu.Lock()
	if f.inflight == call {
		f.inflight = nil
	}
	f.mu.Unlock()
	close(call.done)
}
