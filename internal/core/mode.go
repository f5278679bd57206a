// Package core is the orchestration layer.  It composes transports,
// sessions and the stream sender into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  message  →  streaming  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of gostream (send or
// listen).  Each mode owns its full lifecycle from connection
// establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
