package streamer

import "time"

// ConnectionStatus is the read-only connection classification published in
// Stats.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusRetrying     ConnectionStatus = "retrying"
	StatusError        ConnectionStatus = "error"
	StatusStopped      ConnectionStatus = "stopped"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Stats is an immutable snapshot of the Streamer's published metrics.
type Stats struct {
	Running            bool
	Connected           bool
	ConnectionStatus    ConnectionStatus
	MessageCounts       map[string]int
	LastUpdates         map[string]time.Time
	TotalReconnects     int
	UptimeSeconds       float64
	RetryCount          int
	LastError           string
	ConnectionTime      *time.Time
	LastDisconnectTime  *time.Time
}

// Unhealthy matches the Supervisor's "is_stream_healthy" inverse: either the
// stream claims to be running but not connected, or its status indicates
// retrying/disconnected/error/stopped.
func (s Stats) Unhealthy() bool {
	if s.Running && !s.Connected {
		return true
	}
	switch s.ConnectionStatus {
	case StatusRetrying, StatusDisconnected, StatusError, StatusStopped:
		return true
	}
	return false
}
