package streaming

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of payload transfers running at once across
// every Sender that shares it.  Waiters are served in arrival order.
type Limiter struct {
	sem         *semaphore.Weighted
	capacity    int64
	outstanding atomic.Int64
	peak        atomic.Int64
}

// NewLimiter returns a limiter with n permits.  n <= 0 means one permit
// per CPU.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), capacity: int64(n)}
}

var (
	defaultLimiterOnce sync.Once
	defaultLimiter     *Limiter
)

// DefaultLimiter is the process-wide limiter used by Senders built
// without one.
func DefaultLimiter() *Limiter {
	defaultLimiterOnce.Do(func() { defaultLimiter = NewLimiter(0) })
	return defaultLimiter
}

// Acquire waits at most slice for a permit.  A waiter that gives up
// loses its place in line.
func (l *Limiter) Acquire(ctx context.Context, slice time.Duration) bool {
	wctx, cancel := context.WithTimeout(ctx, slice)
	defer cancel()
	if err := l.sem.Acquire(wctx, 1); err != nil {
		return false
	}
	n := l.outstanding.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return true
}

// Release returns a permit.  It never blocks, and a Release without a
// matching Acquire is ignored.
func (l *Limiter) Release() {
	if l.outstanding.Add(-1) < 0 {
		l.outstanding.Add(1)
		return
	}
	l.sem.Release(1)
}

func (l *Limiter) Capacity() int    { return int(l.capacity) }
func (l *Limiter) Outstanding() int { return int(l.outstanding.Load()) }
func (l *Limiter) Available() int   { return int(l.capacity - l.outstanding.Load()) }

// Peak returns the highest number of permits ever held at once.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }
