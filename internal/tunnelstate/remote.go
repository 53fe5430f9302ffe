package tunnelstate

import (
	"time"

	"github.com/relaymesh/plexy/internal/socketspec"
)

// RemoteOptions configures per-remote retry and health-check behavior,
// defaulting from the tunnel's options when a remote does not override
// them (original state/info.rs).
type RemoteOptions struct {
	Retries       int
	CheckInterval time.Duration
	UseTLS        bool
}

// RemoteInfo is the live-remote counter and load record a load-balancing
// Strategy selects among. All mutation happens through its methods so the
// owning tunnel entry's single mutex is the only required synchronization.
type RemoteInfo struct {
	Address        socketspec.Spec
	Options        RemoteOptions
	StreamsOpen    int
	StreamsPending int
	StreamsServed  uint64
	BytesSent      uint64
	BytesReceived  uint64
	Retries        int
	TotalErrors    uint64
	LastError      string
	LastErrorTime  time.Time
}

// NewRemoteInfo constructs a fresh, zero-traffic remote record.
func NewRemoteInfo(addr socketspec.Spec, opts RemoteOptions) *RemoteInfo {
	return &RemoteInfo{Address: addr, Options: opts}
}

// NewPendingStream records a dial attempt in flight, before the connection
// to the remote has succeeded.
func (r *RemoteInfo) NewPendingStream() {
	r.StreamsPending++
}

// RemoteConnected transitions a pending stream to an open one, resetting the
// retry counter since the remote has proven reachable again.
func (r *RemoteInfo) RemoteConnected() {
	if r.StreamsPending > 0 {
		r.StreamsPending--
	}
	r.StreamsOpen++
	r.StreamsServed++
	r.Retries = 0
}

// Error records a failed dial or a mid-stream I/O error. It decrements
// whichever counter (pending or open) the failure applies to and increments
// both the consecutive retry count and the lifetime error total; the caller
// decides, based on the returned retry count and the remote's configured
// Retries budget, whether to mark the remote dead. Unlike Retries, TotalErrors
// never resets, so it survives a recovery and a later re-death.
func (r *RemoteInfo) Error(wasPending bool, err error) int {
	if wasPending {
		if r.StreamsPending > 0 {
			r.StreamsPending--
		}
	} else if r.StreamsOpen > 0 {
		r.StreamsOpen--
	}
	r.Retries++
	r.TotalErrors++
	r.LastErrorTime = time.Now()
	if err != nil {
		r.LastError = err.Error()
	}
	return r.Retries
}

// ClientDisconnected records a stream closing normally. Byte counts are
// folded into BytesSent/BytesReceived as they move, via UpdateMovedBytes, so
// this only needs to retire the open stream.
func (r *RemoteInfo) ClientDisconnected() {
	if r.StreamsOpen > 0 {
		r.StreamsOpen--
	}
}

// UpdateMovedBytes adds to the running totals without closing the stream,
// called as a transfer makes progress so STATUS/dashboard/metrics reflect an
// in-progress connection instead of only a connection that has finished.
func (r *RemoteInfo) UpdateMovedBytes(bytesSent, bytesReceived uint64) {
	r.BytesSent += bytesSent
	r.BytesReceived += bytesReceived
}

// Load returns the RemoteLoad view a Strategy selects against.
func (r *RemoteInfo) Load() (open, pending int) {
	return r.StreamsOpen, r.StreamsPending
}

// Snapshot renders the RemoteStats view returned to control/RPC/metrics
// callers.
func (r *RemoteInfo) Snapshot() RemoteStats {
	return RemoteStats{
		Address:        r.Address.Display(),
		StreamsOpen:    r.StreamsOpen,
		StreamsPending: r.StreamsPending,
		StreamsServed:  r.StreamsServed,
		BytesSent:      r.BytesSent,
		BytesReceived:  r.BytesReceived,
		Retries:        r.Retries,
		Errors:         r.TotalErrors,
		LastError:      r.LastError,
		LastErrorTime:  asEpochMillis(r.LastErrorTime),
	}
}

// DeadRemote is a remote that has exhausted its retry budget and been moved
// out of the live set. It carries a cancel function for the background
// prober goroutine keeping watch on it.
type DeadRemote struct {
	Info      *RemoteInfo
	DiedAt    time.Time
	NextProbe time.Time
	Cancel    func()
}

// RemoteRecovered converts a DeadRemote back into a live RemoteInfo with a
// clean retry counter, called once the prober observes a successful
// reconnect.
func (d *DeadRemote) RemoteRecovered() *RemoteInfo {
	d.Info.Retries = 0
	d.Info.LastError = ""
	return d.Info
}

// RecordProbeFailure folds a failed probe attempt into the dead remote's
// error counters, so a remote that keeps failing its health check does not
// look frozen in status output while it waits to recover.
func (d *DeadRemote) RecordProbeFailure(err error) {
	d.Info.TotalErrors++
	d.Info.LastErrorTime = time.Now()
	if err != nil {
		d.Info.LastError = err.Error()
	}
}

// Snapshot renders the RemoteStats view for a dead remote, including the
// death and next-probe timestamps the live view omits.
func (d *DeadRemote) Snapshot() RemoteStats {
	s := d.Info.Snapshot()
	s.DeadSince = asEpochMillis(d.DiedAt)
	s.NextProbeAttempt = asEpochMillis(d.NextProbe)
	return s
}
