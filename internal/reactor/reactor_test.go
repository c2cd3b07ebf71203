package reactor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sansdns/sans-forward/internal/reactor"
	"github.com/stretchr/testify/assert"
)

func TestTicker_FiresRegisteredCallbacks(t *testing.T) {
	orig := reactor.TickInterval
	reactor.TickInterval = 5 * time.Millisecond
	t.Cleanup(func() { reactor.TickInterval = orig })

	var calls int32
	tk := reactor.New(nil, func() { atomic.AddInt32(&calls, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	tk.Run(ctx)

	assert.Greater(t, atomic.LoadInt32(&calls), int32(0))
}

func TestTicker_FiresMultipleCallbacksInOrder(t *testing.T) {
	orig := reactor.TickInterval
	reactor.TickInterval = 5 * time.Millisecond
	t.Cleanup(func() { reactor.TickInterval = orig })

	var order []int
	tk := reactor.New(nil,
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	tk.Run(ctx)

	if assert.NotEmpty(t, order) {
		assert.Equal(t, 1, order[0])
		assert.Equal(t, 2, order[1])
	}
}

func TestTicker_StopsOnCancel(t *testing.T) {
	tk := reactor.New(nil, func() {})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tk.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
