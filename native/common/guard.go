package common

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrReentrancy = errors.New("reentrant call")

// ReentrancyGuard serializes guarded operations. Concurrent callers queue for
// the guard; a caller whose context was issued by Enter on the same guard is
// nested inside a guarded operation and fails with ErrReentrancy instead of
// deadlocking.
type ReentrancyGuard struct {
	once    sync.Once
	slot    chan struct{}
	entered atomic.Bool
}

type guardKey struct{ g *ReentrancyGuard }

func (g *ReentrancyGuard) init() {
	g.once.Do(func() { g.slot = make(chan struct{}, 1) })
}

// Enter waits for the guard and returns a context marked as holding it. Work
// done on behalf of the guarded operation, including receiver callbacks, must
// use the returned context so nested entry is detected. The release func must
// be called once; extra calls are ignored. Enter fails with the context's
// error if ctx ends while waiting.
func (g *ReentrancyGuard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil {
		return ctx, func() {}, nil
	}
	key := guardKey{g}
	if ctx.Value(key) != nil {
		return ctx, nil, ErrReentrancy
	}
	g.init()
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx, nil, ctx.Err()
	}
	g.entered.Store(true)
	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			g.entered.Store(false)
			<-g.slot
		}
	}
	return context.WithValue(ctx, key, struct{}{}), release, nil
}

// Entered reports whether a guarded operation is in flight.
func (g *ReentrancyGuard) Entered() bool {
	if g == nil {
		return false
	}
	return g.entered.Load()
}
