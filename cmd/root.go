// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"gostream/config"
	"gostream/internal/core"
	"gostream/internal/metrics"
	"gostream/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X gostream/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the appropriate gostream mode.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	fs := newFlagSet(cfg)

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("gostream %s\n", version)
		return nil
	}

	// ── file + environment overlay ───────────────────────────────
	if err := config.Load(cfg, cfg.ConfigFile, fs.Changed); err != nil {
		return err
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		fmt.Fprintf(os.Stderr, "configuration OK (%s)\n", describe(cfg))
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		logger.SetTimestamps(true)
		logger.SetRotatingFile(cfg.LogFile, config.DefaultLogMaxSizeMB)
	}
	defer logger.Sync() //nolint:errcheck
	if cfg.ConfigFile != "" {
		logger.Verbose("using config file %s", cfg.ConfigFile)
	}

	mode, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// newFlagSet binds every flag to cfg.  Long names double as config
// file keys and GOSTREAM_* variable names.
func newFlagSet(cfg *config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet("gostream", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", false, "Listen mode: receive streams")
	fs.IntVarP(&cfg.LocalPort, config.KeyPort, "p", 0, "Listen port (with -l) or local source port")
	fs.StringVar(&cfg.Transport, config.KeyTransport, cfg.Transport, "Transport: tcp, quic or ssh")
	fs.DurationVarP(&cfg.Timeout, config.KeyTimeout, "w", cfg.Timeout, "Dial timeout")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, config.KeyTunnel, "T", "", "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, config.KeySSHKey, "", "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, config.KeySSHPassword, false, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, config.KeySSHAgent, false, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, config.KeyStrictHostKey, false, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, config.KeyKnownHosts, "", "Custom known_hosts path")

	// ── streaming ────────────────────────────────────────────────
	fs.StringVarP(&cfg.OutputDir, config.KeyOutput, "o", cfg.OutputDir, "Directory for received streams (with -l)")
	fs.StringVar(&cfg.Operation, config.KeyOperation, cfg.Operation, "Operation label sent in Init")
	fs.IntVarP(&cfg.MaxParallelTransfers, config.KeyParallel, "j", cfg.MaxParallelTransfers, "Concurrent transfers (0 = one per CPU)")
	fs.DurationVar(&cfg.KeepAlivePeriod, config.KeyKeepAlive, cfg.KeepAlivePeriod, "Control connection keep-alive period (negative disables)")
	fs.DurationVar(&cfg.CloseWait, config.KeyCloseWait, cfg.CloseWait, "How long a failed transfer waits for the session")
	fs.StringVar(&cfg.Preview, config.KeyPreview, cfg.Preview, "Preview kind: none, all, repaired, unrepaired")
	fs.BoolVarP(&cfg.Compress, config.KeyCompress, "z", false, "Compress payloads with zstd")
	fs.IntVar(&cfg.ProtocolVersion, config.KeyProtocolVersion, cfg.ProtocolVersion, "Streaming protocol version")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, config.KeyVerbose, "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.LogFile, config.KeyLogFile, "", "Write logs to a rotating file")
	fs.StringVar(&cfg.ConfigFile, "config", "", "Config file (default ./gostream.yaml)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")

	return fs
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if cfg.Listen {
		if len(remaining) > 0 {
			return fmt.Errorf("listen mode takes no positional arguments")
		}
		return nil
	}

	// Send mode: host:port file [file …]
	if len(remaining) < 1 {
		return fmt.Errorf("peer host:port required (use --help for usage)")
	}
	host, port, err := config.ParsePeer(remaining[0])
	if err != nil {
		return err
	}
	cfg.Host, cfg.Port = host, port
	cfg.Files = remaining[1:]
	return nil
}

func describe(cfg *config.Config) string {
	if cfg.Listen {
		return fmt.Sprintf("listen on :%d over %s into %s", cfg.LocalPort, cfg.Transport, cfg.OutputDir)
	}
	return fmt.Sprintf("send %d files to %s over %s", len(cfg.Files), cfg.Addr(), cfg.Transport)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `gostream – stream session sender v%s

Sends files to a peer as a stream session and receives them on the
other side.

Usage:
  gostream [options] <host:port> <file...>        Send
  gostream -l -p <port> [-o dir] [options]        Receive
  gostream -T user@gateway <host:port> <file...>  Send through SSH

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  gostream -l -p 7000 -o /var/lib/incoming        Receive on 7000
  gostream 10.0.0.2:7000 a.db b.db                Send two files
  gostream -j 4 -z --transport quic peer:7000 *.db
  gostream --preview all peer:7000 a.db           Announce only
`)
}
