// Package reactor drives the 1 Hz slow-path tick that ages the query
// table and the verdict cache.
//
// The original design is a single-threaded readiness loop that also
// drives an interleaved tick once roughly a second has elapsed since the
// last one. This forwarder instead runs query handling across per-socket
// and per-connection goroutines (see internal/server), so there is no
// single loop to interleave
// a tick into. What survives is the tick itself: a coarse, best-effort
// 1 Hz callback, now driven by a time.Ticker on its own goroutine and
// supervised with a context.Context and sync.WaitGroup the way the
// servers in this repository are supervised.
package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickInterval is the nominal period between ticks. The original spec
// calls this "not a precise timer"; time.Ticker gives the same
// best-effort guarantee. It is a var, not a const, so tests can shrink
// it rather than waiting out a full second per tick.
var TickInterval = time.Second

// Ticker runs a set of registered callbacks once per TickInterval until
// its context is cancelled.
type Ticker struct {
	logger *slog.Logger
	fns    []func()
	wg     sync.WaitGroup
}

// New creates a Ticker that will invoke fns, in order, on every tick.
func New(logger *slog.Logger, fns ...func()) *Ticker {
	return &Ticker{logger: logger, fns: fns}
}

// Run ticks on the calling goroutine and blocks until ctx is cancelled.
// Callers that want a non-blocking start should invoke Run in its own
// goroutine and use Wait to join it.
func (t *Ticker) Run(ctx context.Context) {
	t.wg.Add(1)
	defer t.wg.Done()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fireOnce()
		}
	}
}

func (t *Ticker) fireOnce() {
	for _, fn := range t.fns {
		fn()
	}
}

// Wait blocks until a goroutine running Run has returned.
func (t *Ticker) Wait() {
	t.wg.Wait()
}
