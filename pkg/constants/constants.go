// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Call lifecycle constants
const (
	// DefaultRingTimeout is how long a call may sit in ringing before the
	// reaper force-transitions still-invited participants to missed
	DefaultRingTimeout = 60 * time.Second

	// DefaultReaperInterval is the sweep period of the reaper
	DefaultReaperInterval = 30 * time.Second

	// MaxGroupCallMembers bounds the membership list of a group call
	MaxGroupCallMembers = 16
)

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketSendBuffer is the per-connection outbound queue size;
	// a full queue drops the connection (at-most-once delivery)
	WebSocketSendBuffer = 256
)

// Presence constants
const (
	// PresenceTTL is how long a presence key lives without a heartbeat
	PresenceTTL = 5 * time.Minute

	// PresenceRefreshInterval refreshes presence while a connection lives
	PresenceRefreshInterval = 2 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry drops a user's token set after this long without a
	// re-registration
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)
