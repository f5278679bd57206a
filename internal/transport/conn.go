package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glycerine/idem"

	ncerr "gostream/internal/errors"
	"gostream/internal/metrics"
	"gostream/util"
)

var connSeq atomic.Int64

// Connection is a byte stream to one peer with its own event
// goroutine.  Every write, completion callback and scheduled task runs
// on that goroutine, so writes issued in order are delivered in order.
type Connection struct {
	id      string
	nc      net.Conn
	logger  *util.Logger
	metrics *metrics.Collector

	busy atomic.Bool

	mu     sync.Mutex // guards queue, closed transitions and busy CAS
	queue  []*writeOp
	closed atomic.Bool

	wake  chan struct{}
	tasks chan func()
	halt  *idem.Halter
}

type writeOp struct {
	data   []byte
	flush  bool
	onDone func(error)
	result chan error
}

// NewConnection takes ownership of nc and starts its event goroutine.
func NewConnection(nc net.Conn, logger *util.Logger, m *metrics.Collector) *Connection {
	id := fmt.Sprintf("conn-%d", connSeq.Add(1))
	c := &Connection{
		id:      id,
		nc:      nc,
		logger:  logger,
		metrics: m,
		wake:    make(chan struct{}, 1),
		tasks:   make(chan func()),
		halt:    idem.NewHalterNamed(id),
	}
	m.ConnectionOpened()
	go c.loop()
	return c
}

// ID identifies the connection in logs.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *Connection) IsOpen() bool { return !c.closed.Load() }

// Busy reports whether a payload transfer currently owns the connection.
func (c *Connection) Busy() bool { return c.busy.Load() }

// SetBusy is only called by the actor that set busy in the first place.
func (c *Connection) SetBusy(v bool) { c.busy.Store(v) }

// CompareAndSetBusy atomically swaps busy from old to new.  It is
// serialized against WriteAsyncIfIdle.
func (c *Connection) CompareAndSetBusy(old, new bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy.CompareAndSwap(old, new)
}

// Done is closed once the event goroutine has exited.
func (c *Connection) Done() <-chan struct{} { return c.halt.Done.Chan }

// WriteAsync queues b and returns immediately.  onDone, if set, runs on
// the event goroutine with the write's result.  On a closed connection
// onDone runs inline with ErrConnectionClosed.
func (c *Connection) WriteAsync(b []byte, onDone func(error)) {
	if !c.TryWriteAsync(b, onDone) && onDone != nil {
		onDone(ncerr.ErrConnectionClosed)
	}
}

// TryWriteAsync queues b like WriteAsync but reports a closed connection
// by returning false instead of running onDone.
func (c *Connection) TryWriteAsync(b []byte, onDone func(error)) bool {
	return c.enqueue(&writeOp{data: b, onDone: onDone})
}

// WriteAsyncIfIdle is WriteAsync unless the connection is busy, in
// which case nothing is queued and false is returned.  The busy check
// and the enqueue happen under the same lock as CompareAndSetBusy.
func (c *Connection) WriteAsyncIfIdle(b []byte, onDone func(error)) bool {
	c.mu.Lock()
	if c.busy.Load() {
		c.mu.Unlock()
		return false
	}
	if c.closed.Load() {
		c.mu.Unlock()
		if onDone != nil {
			onDone(ncerr.ErrConnectionClosed)
		}
		return true
	}
	c.queue = append(c.queue, &writeOp{data: b, onDone: onDone})
	c.mu.Unlock()
	c.poke()
	return true
}

// Write queues b and waits for it to reach the socket.  If ctx ends
// first the connection is closed and ErrTransferInterrupted returned.
func (c *Connection) Write(ctx context.Context, b []byte) error {
	return c.wait(ctx, &writeOp{data: b, result: make(chan error, 1)})
}

// Flush waits until everything queued before it has been written.
func (c *Connection) Flush(ctx context.Context) error {
	return c.wait(ctx, &writeOp{flush: true, result: make(chan error, 1)})
}

func (c *Connection) wait(ctx context.Context, op *writeOp) error {
	if !c.enqueue(op) {
		return ncerr.ErrConnectionClosed
	}
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		c.Close() //nolint:errcheck
		return fmt.Errorf("%w: %s: %v", ncerr.ErrTransferInterrupted, c.id, ctx.Err())
	}
}

// Close shuts the socket and stops the event goroutine.  Queued writes
// complete with ErrConnectionClosed.  Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.mu.Unlock()

	err := c.nc.Close()
	c.halt.ReqStop.Close()
	c.metrics.ConnectionClosed()
	c.logger.Debug("%s to %s closed", c.id, c.nc.RemoteAddr())
	return err
}

func (c *Connection) enqueue(op *writeOp) bool {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, op)
	c.mu.Unlock()
	c.poke()
	return true
}

func (c *Connection) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connection) pop() *writeOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	op := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return op
}

func (c *Connection) loop() {
	defer c.halt.Done.Close()
	for {
		select {
		case <-c.wake:
		case fn := <-c.tasks:
			fn()
			continue
		case <-c.halt.ReqStop.Chan:
			c.drain()
			return
		}
		c.drain()
	}
}

func (c *Connection) drain() {
	for op := c.pop(); op != nil; op = c.pop() {
		c.run(op)
	}
}

func (c *Connection) run(op *writeOp) {
	var err error
	switch {
	case c.closed.Load():
		err = ncerr.ErrConnectionClosed
	case op.flush:
	default:
		var n int
		n, err = c.nc.Write(op.data)
		c.metrics.BytesSent(int64(n))
		if err != nil {
			err = ncerr.Wrap("write", c.nc.RemoteAddr().String(), err)
			c.logger.Debug("%s write failed: %v", c.id, err)
			c.Close() //nolint:errcheck
		}
	}
	if op.onDone != nil {
		op.onDone(err)
	}
	if op.result != nil {
		op.result <- err
	}
}

// ── Scheduled tasks ──────────────────────────────────────────────────

// Timer is a recurring task bound to a connection.
type Timer struct {
	stop *idem.IdemCloseChan
}

// Cancel stops future firings.  Idempotent and safe from any goroutine.
func (t *Timer) Cancel() { t.stop.Close() }

func (t *Timer) Cancelled() bool { return t.stop.IsClosed() }

// Schedule runs fn every period on the event goroutine, first one
// period from now.  Once the connection is closed fn runs on the timer
// goroutine instead, so it can observe IsOpen() == false and cancel.
func (c *Connection) Schedule(period time.Duration, fn func(*Timer)) *Timer {
	t := &Timer{stop: idem.NewIdemCloseChan()}
	go func() {
		tk := time.NewTicker(period)
		defer tk.Stop()
		for {
			select {
			case <-t.stop.Chan:
				return
			case <-tk.C:
			}
			task := func() {
				if !t.Cancelled() {
					fn(t)
				}
			}
			select {
			case c.tasks <- task:
			case <-c.halt.ReqStop.Chan:
				task()
			case <-t.stop.Chan:
				return
			}
		}
	}()
	return t
}
