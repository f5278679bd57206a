// Package transport provides the connections a stream sender writes
// on.  Dialers handle the "how" of reaching a peer (TCP, QUIC, or an
// SSH-tunnelled hop); Connection adds the per-connection event loop
// that orders writes and runs scheduled tasks.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer, a QUIC dialer that opens one stream per call and
// an SSH-tunnelled dialer that routes traffic through a gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
