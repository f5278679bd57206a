package streaming

import (
	"fmt"
	"io"
	"time"

	"gostream/internal/message"
	"gostream/internal/metrics"
	"gostream/util"
)

const (
	DefaultKeepAlivePeriod   = 30 * time.Second
	DefaultCloseWait         = 5 * time.Minute
	DefaultPermitWaitSlice   = time.Second
	DefaultPermitLogInterval = 3 * time.Minute
)

// Codec is the wire encoding a Sender writes with.
type Codec interface {
	SerializedSize(m message.Message, version int) (int64, error)
	Serialize(m message.Message, w io.Writer, version int) error
}

// Options configures a Sender.  Zero values take the defaults above.
type Options struct {
	// Version is the streaming protocol version of every connection.
	Version int
	// From is the local address announced in Init.
	From string

	// KeepAlivePeriod between pings on the control connection.
	// Negative disables keep-alives.
	KeepAlivePeriod time.Duration
	// CloseWait bounds how long a worker waits for the session to
	// handle a reported transfer failure.
	CloseWait time.Duration
	// PermitWaitSlice is how long one admission attempt blocks before
	// the closed state is checked again.
	PermitWaitSlice time.Duration
	// PermitLogInterval rate-limits the "waiting for a permit" notice.
	PermitLogInterval time.Duration

	// Workers is the size of the transfer worker pool; defaults to the
	// limiter's capacity.
	Workers int
	Limiter *Limiter
	Codec   Codec

	Logger  *util.Logger
	Metrics *metrics.Collector
}

func (o Options) withDefaults() (Options, error) {
	if o.Version == 0 {
		o.Version = message.CurrentVersion
	}
	if o.KeepAlivePeriod == 0 {
		o.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	if o.CloseWait <= 0 {
		o.CloseWait = DefaultCloseWait
	}
	if o.PermitWaitSlice <= 0 {
		o.PermitWaitSlice = DefaultPermitWaitSlice
	}
	if o.PermitLogInterval <= 0 {
		o.PermitLogInterval = DefaultPermitLogInterval
	}
	if o.Limiter == nil {
		o.Limiter = DefaultLimiter()
	}
	if o.Workers <= 0 {
		o.Workers = o.Limiter.Capacity()
	}
	if o.Codec == nil {
		c, err := message.NewCodec()
		if err != nil {
			return o, fmt.Errorf("stream codec: %w", err)
		}
		o.Codec = c
	}
	if o.Logger == nil {
		o.Logger = util.NewLogger(int(util.LogNormal))
	}
	return o, nil
}
