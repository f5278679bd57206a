package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"gostream/tunnel"
	"gostream/util"
)

// DefaultSSHKeepAlive is the gateway ping period of tunnels made by
// NewSSHDialer.
const DefaultSSHKeepAlive = 15 * time.Second

// SSHDialer reaches stream peers through an SSH gateway.  The tunnel is
// connected on the first Dial and reconnected on a later Dial if it has
// died in between.  Peer addresses are resolved on the gateway side.
type SSHDialer struct {
	tunnel tunnel.Tunnel
	name   string
	logger *util.Logger
	mu     sync.Mutex
	dials  int
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  The tunnel is not connected until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultSSHKeepAlive
	}
	name := fmt.Sprintf("%s@%s", cfg.User, util.FormatAddr(cfg.Host, cfg.Port))
	return NewTunnelDialer(tunnel.NewSSHTunnel(cfg, logger), name, logger)
}

// NewTunnelDialer dials through any Tunnel.
func NewTunnelDialer(t tunnel.Tunnel, name string, logger *util.Logger) *SSHDialer {
	return &SSHDialer{tunnel: t, name: name, logger: logger}
}

func (d *SSHDialer) ensure(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel.IsAlive() {
		return nil
	}
	if d.dials > 0 {
		d.logger.Warn("SSH tunnel to %s lost, reconnecting", d.name)
		d.tunnel.Close() //nolint:errcheck
	}
	d.dials++

	d.logger.Verbose("establishing SSH tunnel to %s", d.name)
	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	return nil
}

// Dial opens a forwarded connection to address.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnel.Close()
}
