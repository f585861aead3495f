// Package orchestrator creates voice sessions and tracks them for listing
// and shutdown.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Per-session transcript log size
	TranscriptMaxEntries = 200

	// Drain message sent to every client before shutdown
	ShutdownMessage = "server shutting down"

	// Result label for a session that started cleanly
	StartResultOK = "ok"

	// Time allowed for a warned client to read the shutdown frame
	DrainWarnGrace = 100 * time.Millisecond
)
