package core

import (
	"fmt"

	"gostream/config"
	"gostream/internal/metrics"
	"gostream/internal/session"
	"gostream/internal/transport"
	"gostream/streaming"
	"gostream/tunnel"
	"gostream/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if cfg.Listen {
		return buildListen(cfg, logger, m), nil
	}
	return buildSend(cfg, logger, m)
}

// ── mode builders ────────────────────────────────────────────────────

func buildSend(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	dialer, err := buildDialer(cfg, logger)
	if err != nil {
		return nil, err
	}
	peer := util.FormatAddr(cfg.Host, cfg.Port)

	sess := session.New(session.Config{
		Peer:      peer,
		Operation: cfg.Operation,
		Preview:   cfg.PreviewKind(),
	}, logger)

	network := "tcp"
	if cfg.Transport == config.TransportQUIC {
		network = "udp"
	}

	return &SendMode{
		Session:  sess,
		Factory:  transport.NewDialFactory(dialer, logger, m),
		Template: transport.Template{Peer: peer, Network: network},
		Options: streaming.Options{
			Version:         cfg.ProtocolVersion,
			From:            localAddress(cfg),
			KeepAlivePeriod: cfg.KeepAlivePeriod,
			CloseWait:       cfg.CloseWait,
			Limiter:         streaming.NewLimiter(cfg.MaxParallelTransfers),
		},
		Files:    cfg.Files,
		Compress: cfg.Compress,
		Logger:   logger,
		Metrics:  m,
	}, nil
}

func buildListen(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	return &ListenMode{
		Address:   fmt.Sprintf(":%d", cfg.LocalPort),
		Transport: cfg.Transport,
		OutputDir: cfg.OutputDir,
		Grace:     config.DefaultGracePeriod,
		Logger:    logger,
		Metrics:   m,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) (transport.Dialer, error) {
	switch cfg.Transport {
	case config.TransportSSH:
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
		}, logger), nil
	case config.TransportQUIC:
		return transport.NewQUICDialer(logger)
	default:
		return &transport.TCPDialer{
			Timeout:   cfg.Timeout,
			LocalPort: cfg.LocalPort,
		}, nil
	}
}

// localAddress is what Init announces as the sender's address.
func localAddress(cfg *config.Config) string {
	if cfg.LocalPort > 0 {
		return fmt.Sprintf(":%d", cfg.LocalPort)
	}
	return "-"
}
