// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// AgentConnectTimeout bounds spawning the agent subprocess plus the
	// initialize handshake, both at startup and during reconnects.
	AgentConnectTimeout = 30 * time.Second

	// ShutdownTimeout is the maximum time to wait for in-flight HTTP
	// requests to drain during graceful shutdown.
	ShutdownTimeout = 15 * time.Second

	// InterruptAckTimeout bounds the turn/interrupt RPC; an unresponsive
	// agent must not wedge a cancel request.
	InterruptAckTimeout = 10 * time.Second
)
