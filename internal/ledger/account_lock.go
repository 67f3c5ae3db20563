package ledger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// gate serializes recomputes per key and coalesces bursts. At most one
// run per key is in flight; every request that arrives while it runs
// shares a single follow-up run that starts when the current one ends.
type gate struct {
	work func(ctx context.Context, key string) (decimal.Decimal, error)
	log  zerolog.Logger

	mu    sync.Mutex
	slots map[string]*slot
	wg    sync.WaitGroup
}

type slot struct {
	next    *flight
	nextCtx context.Context
	joined  int // requests merged into next
}

type flight struct {
	done    chan struct{}
	balance decimal.Decimal
	err     error
}

func newGate(work func(ctx context.Context, key string) (decimal.Decimal, error), log zerolog.Logger) *gate {
	return &gate{work: work, log: log, slots: make(map[string]*slot)}
}

// Do runs work for key, or joins the pending follow-up if a run is
// already in flight. The run itself is detached from ctx cancellation so
// a caller giving up never leaves a half-finished recompute; the caller
// just stops waiting.
func (g *gate) Do(ctx context.Context, key string) (decimal.Decimal, error) {
	g.mu.Lock()
	var f *flight
	if s, busy := g.slots[key]; busy {
		if s.next == nil {
			s.next = &flight{done: make(chan struct{})}
			s.nextCtx = context.WithoutCancel(ctx)
		}
		s.joined++
		f = s.next
		g.mu.Unlock()
	} else {
		f = &flight{done: make(chan struct{})}
		g.slots[key] = &slot{}
		g.wg.Add(1)
		g.mu.Unlock()
		go g.drive(context.WithoutCancel(ctx), key, f)
	}

	select {
	case <-f.done:
		return f.balance, f.err
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
}

func (g *gate) drive(ctx context.Context, key string, f *flight) {
	defer g.wg.Done()
	for {
		f.balance, f.err = g.work(ctx, key)
		close(f.done)

		g.mu.Lock()
		s := g.slots[key]
		if s.next == nil {
			delete(g.slots, key)
			g.mu.Unlock()
			return
		}
		f, ctx = s.next, s.nextCtx
		joined := s.joined
		s.next, s.nextCtx, s.joined = nil, nil, 0
		g.mu.Unlock()

		g.log.Debug().Str("key", key).Int("coalesced", joined).Msg("running follow-up recompute")
	}
}

// waiting is the number of requests merged into key's pending follow-up.
func (g *gate) waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.slots[key]; ok {
		return s.joined
	}
	return 0
}

// Wait blocks until every in-flight and follow-up run has finished.
func (g *gate) Wait() {
	g.wg.Wait()
}
