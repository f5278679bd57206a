package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds a single dial attempt.
	DefaultConnTimeout = 30 * time.Second

	// DefaultOutputDir receives incoming streams in listen mode.
	DefaultOutputDir = "."

	// DefaultOperation labels sessions started from the CLI.
	DefaultOperation = "transfer"

	// DefaultMaxParallelTransfers is the process-wide permit count.
	// Zero means one concurrent transfer per CPU.
	DefaultMaxParallelTransfers = 0

	// DefaultKeepAlivePeriod is the ping period on control connections.
	DefaultKeepAlivePeriod = 30 * time.Second

	// DefaultCloseWait bounds how long a failed transfer waits for the
	// session to handle the failure.
	DefaultCloseWait = 5 * time.Minute

	// DefaultProtocolVersion is the only streaming version spoken.
	DefaultProtocolVersion = 1

	// DefaultLogMaxSizeMB is the rotation size of --log-file.
	DefaultLogMaxSizeMB = 10

	// DefaultGracePeriod is how long listen mode waits for receivers to
	// finish on shutdown.
	DefaultGracePeriod = 5 * time.Second
)
