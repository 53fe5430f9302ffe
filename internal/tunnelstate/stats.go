package tunnelstate

import (
	"encoding/json"
	"fmt"
	"time"
)

// TunnelStats is a point-in-time snapshot of one tunnel's traffic counters,
// the shape returned to control/RPC/metrics callers.
type TunnelStats struct {
	Local             string        `json:"local"`
	Strategy          string        `json:"strategy"`
	ClientsConnected  uint64        `json:"clients_connected"`
	ClientsServed     uint64        `json:"clients_served"`
	BytesSent         uint64        `json:"bytes_sent"`
	BytesReceived     uint64        `json:"bytes_received"`
	Errors            uint64        `json:"errors"`
	Remotes           []RemoteStats `json:"remotes"`
	DeadRemotes       []RemoteStats `json:"dead_remotes"`
	LastSelectedIndex int           `json:"last_selected_index"`
}

// RemoteStats is a point-in-time snapshot of one remote's counters. Retries
// is the consecutive-failure count that resets on every successful connect or
// recovery; Errors is the lifetime total that never resets.
type RemoteStats struct {
	Address          string      `json:"address"`
	StreamsOpen      int         `json:"streams_open"`
	StreamsPending   int         `json:"streams_pending"`
	StreamsServed    uint64      `json:"streams_served"`
	BytesSent        uint64      `json:"bytes_sent"`
	BytesReceived    uint64      `json:"bytes_received"`
	Retries          int         `json:"retries"`
	Errors           uint64      `json:"errors"`
	LastError        string      `json:"last_error,omitempty"`
	LastErrorTime    epochMillis `json:"last_error_time,omitempty"`
	DeadSince        epochMillis `json:"dead_since,omitempty"`
	NextProbeAttempt epochMillis `json:"next_probe_attempt,omitempty"`
}

// epochMillis matches original_source's wire format for timestamps:
// milliseconds since the Unix epoch, or null when unset.
type epochMillis time.Time

func (e epochMillis) MarshalJSON() ([]byte, error) {
	t := time.Time(e)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UnixMilli())
}

func asEpochMillis(t time.Time) epochMillis { return epochMillis(t) }

// ControlSummary renders the one-line form the STATUS control command prints
// per tunnel.
func (t TunnelStats) ControlSummary() string {
	return fmt.Sprintf("strategy=%s clients=%d served=%d remotes=%d dead=%d sent=%d recv=%d errors=%d",
		t.Strategy, t.ClientsConnected, t.ClientsServed, len(t.Remotes), len(t.DeadRemotes), t.BytesSent, t.BytesReceived, t.Errors)
}
