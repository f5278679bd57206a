// Package config defines the runtime configuration for gostream and
// provides helpers for parsing peer and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "gostream/internal/errors"
	"gostream/internal/session"
)

// Transport names accepted by --transport.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
	TransportSSH  = "ssh"
)

// Config holds every tuneable for a single gostream run.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host      string
	Port      int // peer port
	LocalPort int // -p: listen port, or local source port when sending
	Listen    bool
	Transport string
	Timeout   time.Duration // dial timeout

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Streaming ────────────────────────────────────────────────────
	Files                []string // payloads to send
	OutputDir            string   // where received streams are written
	Operation            string
	MaxParallelTransfers int // shared permit count; 0 → one per CPU
	KeepAlivePeriod      time.Duration
	CloseWait            time.Duration
	Preview              string
	Compress             bool
	ProtocolVersion      int

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	LogFile    string
	ConfigFile string
	DryRun     bool
}

// Default returns a Config carrying every default from defaults.go.
func Default() *Config {
	return &Config{
		Transport:            TransportTCP,
		Timeout:              DefaultConnTimeout,
		OutputDir:            DefaultOutputDir,
		Operation:            DefaultOperation,
		MaxParallelTransfers: DefaultMaxParallelTransfers,
		KeepAlivePeriod:      DefaultKeepAlivePeriod,
		CloseWait:            DefaultCloseWait,
		Preview:              session.PreviewNone.String(),
		ProtocolVersion:      DefaultProtocolVersion,
	}
}

// Addr returns the peer address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PreviewKind parses Preview.  Validate has already rejected bad values.
func (c *Config) PreviewKind() session.PreviewKind {
	p, _ := session.ParsePreviewKind(c.Preview)
	return p
}

// ── Peer-spec parser ─────────────────────────────────────────────────

// ParsePeer splits "host:port".  IPv6 hosts must be bracketed.
func ParsePeer(spec string) (host string, port int, err error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 || i == len(spec)-1 {
		return "", 0, fmt.Errorf("invalid peer %q – expected host:port", spec)
	}
	host = strings.Trim(spec[:i], "[]")
	port, err = strconv.Atoi(spec[i+1:])
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid peer port %q", spec[i+1:])
	}
	if host == "" {
		return "", 0, fmt.Errorf("peer host is required")
	}
	return host, port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec fills the tunnel fields from TunnelSpec.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	if c.Transport == "" || c.Transport == TransportTCP {
		c.Transport = TransportSSH
	}
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportQUIC, TransportSSH:
	default:
		return &ncerr.ConfigError{
			Field:   "transport",
			Value:   c.Transport,
			Message: "unknown transport",
			Hint:    "use tcp, quic or ssh",
		}
	}

	if c.Listen {
		if c.LocalPort == 0 {
			return &ncerr.ConfigError{
				Field:   "port",
				Message: "listen mode requires a port",
				Hint:    "gostream -l -p 7000",
			}
		}
		if c.Transport == TransportSSH {
			return &ncerr.ConfigError{
				Field:   "transport",
				Value:   c.Transport,
				Message: "listen mode through an SSH tunnel is not supported",
			}
		}
		if c.OutputDir == "" {
			return &ncerr.ConfigError{Field: "output", Message: "an output directory is required"}
		}
	} else {
		if c.Host == "" || c.Port == 0 {
			return &ncerr.ConfigError{
				Field:   "peer",
				Message: "peer host:port is required",
				Hint:    "gostream 10.0.0.2:7000 data.db (use --help for usage)",
			}
		}
		if len(c.Files) == 0 {
			return &ncerr.ConfigError{
				Field:   "files",
				Message: "at least one file to send is required",
			}
		}
	}

	if c.Transport == TransportSSH && !c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Message: "ssh transport needs a tunnel host",
			Hint:    "add -T user@bastion",
		}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
	}

	if c.MaxParallelTransfers < 0 {
		return &ncerr.ConfigError{
			Field:   "parallel",
			Value:   c.MaxParallelTransfers,
			Message: "must not be negative",
			Hint:    "0 means one transfer per CPU",
		}
	}
	if c.CloseWait < 0 {
		return &ncerr.ConfigError{Field: "close-wait", Value: c.CloseWait, Message: "must not be negative"}
	}
	if c.ProtocolVersion != DefaultProtocolVersion {
		return &ncerr.ConfigError{
			Field:   "protocol-version",
			Value:   c.ProtocolVersion,
			Message: "unsupported streaming protocol version",
			Hint:    fmt.Sprintf("this build speaks version %d", DefaultProtocolVersion),
		}
	}
	if _, err := session.ParsePreviewKind(c.Preview); err != nil {
		return &ncerr.ConfigError{
			Field:   "preview",
			Value:   c.Preview,
			Message: err.Error(),
			Hint:    "use none, all, repaired or unrepaired",
		}
	}
	return nil
}
