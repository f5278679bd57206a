package streaming

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gostream/internal/message"
	"gostream/internal/metrics"
	"gostream/internal/session"
	"gostream/internal/transport"
	"gostream/util"
)

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// fakeSession records reported errors.
type fakeSession struct {
	preview session.PreviewKind
	onDone  func(name string) // runs on every completed transfer

	mu        sync.Mutex
	state     session.State
	errs      []error
	completed []string
	changed   chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{state: session.StateStreaming, changed: make(chan struct{}, 128)}
}

func (f *fakeSession) OnError(err error) <-chan struct{} {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
	f.notify()
	done := make(chan struct{})
	close(done)
	return done
}

func (f *fakeSession) OnTransferComplete(name string, _ int64) {
	f.mu.Lock()
	f.completed = append(f.completed, name)
	f.mu.Unlock()
	if f.onDone != nil {
		f.onDone(name)
	}
	f.notify()
}

func (f *fakeSession) notify() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) setState(s session.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeSession) Peer() string                     { return "10.0.0.2:7000" }
func (f *fakeSession) PlanID() string                   { return "plan-1" }
func (f *fakeSession) Index() int                       { return 0 }
func (f *fakeSession) Operation() string                { return "bootstrap" }
func (f *fakeSession) PendingRepair() string            { return "" }
func (f *fakeSession) PreviewKind() session.PreviewKind { return f.preview }

func (f *fakeSession) errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func (f *fakeSession) completedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// peer is the far end of a fake connection.
type peer struct {
	conn net.Conn
	mu   sync.Mutex
	buf  bytes.Buffer
}

func (p *peer) drain() {
	b := make([]byte, 4096)
	for {
		n, err := p.conn.Read(b)
		p.mu.Lock()
		p.buf.Write(b[:n])
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (p *peer) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

// messages decodes everything the peer has received so far.
func (p *peer) messages(t *testing.T) []message.Message {
	t.Helper()
	c, err := message.NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	d, err := c.NewDecoder(bytes.NewReader(p.bytes()), message.CurrentVersion)
	if err != nil {
		t.Fatal(err)
	}
	var out []message.Message
	for {
		m, err := d.Next()
		if err != nil {
			return out
		}
		if in, ok := m.(*message.IncomingStream); ok {
			io.Copy(io.Discard, in.Payload) //nolint:errcheck
		}
		out = append(out, m)
	}
}

// fakeFactory hands out pipe-backed connections.
type fakeFactory struct {
	metrics *metrics.Collector
	noDrain bool // peers never read, so writes block
	err     error
	hook    func(*transport.Connection)
	// gate, when set, holds every dial until it is closed.  dialing
	// receives one value per dial that reached the gate.
	gate    chan struct{}
	dialing chan struct{}

	created atomic.Int32
	mu      sync.Mutex
	peers   []*peer
	conns   []*transport.Connection
}

func (f *fakeFactory) CreateConnection(ctx context.Context, _ transport.Template, _ int) (*transport.Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.gate != nil {
		f.dialing <- struct{}{}
		<-f.gate
	}
	f.created.Add(1)
	a, b := net.Pipe()
	p := &peer{conn: b}
	if !f.noDrain {
		go p.drain()
	}
	c := transport.NewConnection(a, quietLogger(), f.metrics)
	if f.hook != nil {
		f.hook(c)
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) peer(i int) *peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[i]
}

func (f *fakeFactory) conn(i int) *transport.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close() //nolint:errcheck
	}
}

func testOptions(m *metrics.Collector) Options {
	return Options{
		KeepAlivePeriod: -1,
		PermitWaitSlice: 10 * time.Millisecond,
		CloseWait:       time.Second,
		Limiter:         NewLimiter(4),
		Logger:          quietLogger(),
		Metrics:         m,
	}
}

func newTestSender(t *testing.T, sess session.Session, f transport.ConnectionFactory, opts Options) *Sender {
	t.Helper()
	s, err := New(sess, transport.Template{Peer: "10.0.0.2:7000"}, f, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func stream(name string, size int) *message.OutgoingStream {
	return message.NewOutgoingStream("ks.tbl", 1, message.NewBytesSource(name, bytes.Repeat([]byte("d"), size)), false)
}

func netPipe() (net.Conn, net.Conn) { return net.Pipe() }

// stallFactory dials until ctx is done.
type stallFactory struct {
	dialing chan struct{}
}

func (f stallFactory) CreateConnection(ctx context.Context, _ transport.Template, _ int) (*transport.Connection, error) {
	f.dialing <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}
