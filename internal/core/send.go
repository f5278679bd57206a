package core

import (
	"context"
	"fmt"
	"io"
	"time"

	ncerr "gostream/internal/errors"
	"gostream/internal/message"
	"gostream/internal/metrics"
	"gostream/internal/session"
	"gostream/internal/transport"
	"gostream/streaming"
	"gostream/util"
)

// DefaultTableID labels payloads sent from the command line.
const DefaultTableID = "gostream.files"

// failFlushTimeout bounds the best-effort SessionFailed notice.
const failFlushTimeout = 5 * time.Second

// Factory is a ConnectionFactory that owns its connections.
type Factory interface {
	transport.ConnectionFactory
	io.Closer
}

// SendMode runs one outbound stream session: Init, Prepare, one
// OutgoingStream per file, then Complete once every transfer is done.
type SendMode struct {
	Session  *session.Stream
	Factory  Factory
	Template transport.Template
	Options  streaming.Options
	Files    []string
	TableID  string
	Compress bool
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// Run sends every file and returns the session's outcome.
func (m *SendMode) Run(ctx context.Context) error {
	defer m.Factory.Close() //nolint:errcheck
	defer m.logMetrics()

	streams, prepare, err := m.plan()
	if err != nil {
		return err
	}

	opts := m.Options
	opts.Logger = m.Logger
	opts.Metrics = m.Metrics
	sender, err := streaming.New(m.Session, m.Template, m.Factory, opts)
	if err != nil {
		return err
	}
	defer sender.Close()

	// A failure reported from anywhere (a worker, a control write
	// callback) ends the blocking waits below.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.Session.OnFailure(func(error) { cancel() })

	m.Logger.Verbose("[Stream #%s] starting %s session with %s: %d files",
		m.Session.PlanID(), m.Session.Operation(), m.Template.Peer, len(streams))

	if err := sender.Initialize(); err != nil {
		return m.fail(sender, err)
	}
	m.Session.SetState(session.StatePreparing)
	if err := sender.Send(prepare); err != nil {
		return m.fail(sender, err)
	}

	m.Session.SetState(session.StateStreaming)
	if m.Session.PreviewKind().IsPreview() {
		m.Logger.Info("[Stream #%s] preview session: %d files announced, none sent",
			m.Session.PlanID(), len(streams))
	} else {
		for _, st := range streams {
			if err := sender.Send(st); err != nil {
				return m.fail(sender, err)
			}
		}
		if err := m.Session.WaitTransfers(ctx, len(streams)); err != nil {
			return m.fail(sender, err)
		}
	}

	m.Session.SetState(session.StateWaitComplete)
	if err := sender.Send(&message.Complete{}); err != nil {
		return m.fail(sender, err)
	}
	if err := sender.Flush(ctx); err != nil {
		return m.fail(sender, err)
	}
	if err := m.Session.Err(); err != nil {
		return err
	}
	m.Session.SetState(session.StateComplete)

	n, size := m.Session.Transferred()
	m.Logger.Info("[Stream #%s] session with %s complete: %d files, %d bytes",
		m.Session.PlanID(), m.Template.Peer, n, size)
	return nil
}

// plan opens a source for every file and builds the Prepare summary.
func (m *SendMode) plan() ([]*message.OutgoingStream, *message.Prepare, error) {
	table := m.TableID
	if table == "" {
		table = DefaultTableID
	}
	streams := make([]*message.OutgoingStream, 0, len(m.Files))
	sum := message.Summary{TableID: table}
	for i, path := range m.Files {
		src, err := message.NewFileSource(path)
		if err != nil {
			return nil, nil, err
		}
		st := message.NewOutgoingStream(table, i, src, m.Compress)
		streams = append(streams, st)
		sum.Files++
		sum.TotalSize += st.Size
	}
	return streams, &message.Prepare{Summaries: []message.Summary{sum}}, nil
}

// fail records err, tells the peer when the control connection is still
// usable and returns the session's first error.
func (m *SendMode) fail(sender *streaming.Sender, err error) error {
	m.Session.OnError(err)
	if !sender.IsClosed() && sender.HasControlConnection() && !ncerr.IsInterrupted(err) {
		if serr := sender.Send(&message.SessionFailed{Reason: err.Error()}); serr == nil {
			ctx, cancel := context.WithTimeout(context.Background(), failFlushTimeout)
			sender.Flush(ctx) //nolint:errcheck
			cancel()
		}
	}
	if first := m.Session.Err(); first != nil {
		return fmt.Errorf("stream session %s: %w", m.Session.PlanID(), first)
	}
	return err
}

func (m *SendMode) logMetrics() {
	if m.Metrics != nil && m.Logger.Level() >= util.LogVerbose {
		m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	}
}
