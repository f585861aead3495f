// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	ServiceName = "krishi-jyoti-voice"

	// Largest inbound frame accepted from a client
	MaxFrameBytes = 1 << 20

	// Per-IP connect limiting
	IPLimiterCleanupInterval = time.Minute     // How often to purge stale IP entries
	IPLimiterEntryTTL        = 3 * time.Minute // TTL for inactive IP entries

	// Close reasons, kept under the 123-byte protocol limit
	ReasonStopped      = "stopped"
	ReasonAgentLost    = "voice agent connection lost"
	ReasonStartFailed  = "voice session failed to start"
	ReasonUnavailable  = "voice service unavailable"
	ReasonShuttingDown = "server shutting down"
)
