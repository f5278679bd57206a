package streaming

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	ncerr "gostream/internal/errors"
)

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	p := newWorkerPool("test", 2)
	defer p.shutdownNow()

	var running, peak, finished atomic.Int32
	for i := 0; i < 8; i++ {
		err := p.submit(func(context.Context, *worker) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			finished.Add(1)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "all tasks", func() bool { return finished.Load() == 8 })
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if p.workers() > 2 {
		t.Errorf("workers = %d, want <= 2", p.workers())
	}
}

func TestWorkerPool_ShutdownNow(t *testing.T) {
	p := newWorkerPool("test", 1)

	started := make(chan struct{})
	var interrupted atomic.Bool
	p.submit(func(ctx context.Context, _ *worker) { //nolint:errcheck
		close(started)
		<-ctx.Done()
		interrupted.Store(true)
	})
	<-started
	for i := 0; i < 3; i++ {
		p.submit(func(context.Context, *worker) { t.Error("queued task ran after shutdown") }) //nolint:errcheck
	}

	if dropped := p.shutdownNow(); dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}
	select {
	case <-p.done():
	case <-time.After(3 * time.Second):
		t.Fatal("workers did not exit")
	}
	if !interrupted.Load() {
		t.Error("running task not interrupted")
	}
	if err := p.submit(func(context.Context, *worker) {}); !errors.Is(err, ncerr.ErrSendAfterClose) {
		t.Errorf("submit after shutdown: %v", err)
	}
	if p.shutdownNow() != 0 {
		t.Error("second shutdownNow dropped tasks")
	}
}
