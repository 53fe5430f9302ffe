// Package tunnelstate holds the in-memory state machine for every tunnel
// plexy is currently serving: its live and dead remotes, its traffic
// counters, and the load-balancing cursor each connection consults. There is
// no on-disk persistence; the Registry is the entire durable record, and
// it does not survive a restart.
package tunnelstate

import (
	"sync"
	"time"

	"github.com/relaymesh/plexy/internal/socketspec"
)

// tunnelEntry pairs a TunnelInfo with its own lock. Locking is per-entry, not
// global: two goroutines serving two different tunnels never contend, and a
// goroutine holding one entry's lock never blocks on I/O while holding it.
type tunnelEntry struct {
	mu   sync.Mutex
	info *TunnelInfo
}

// Registry is the process-wide table of tunnels, keyed by local socket. It
// is safe for concurrent use from the proxy's accept loops, the control
// surfaces, and the dead-remote probers.
type Registry struct {
	mu      sync.RWMutex
	tunnels map[socketspec.Spec]*tunnelEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tunnels: make(map[socketspec.Spec]*tunnelEntry)}
}

// AddTunnel registers a new tunnel on local. It returns ErrTunnelExists if
// the local socket is already in use.
func (r *Registry) AddTunnel(local socketspec.Spec, opts TunnelOptions) (*TunnelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tunnels[local]; ok {
		return nil, ErrTunnelExists(local)
	}
	info := NewTunnelInfo(local, opts)
	r.tunnels[local] = &tunnelEntry{info: info}
	return info, nil
}

// RemoveTunnel signals the tunnel's close channel (waking its accept loop
// and every connection it owns) and drops it from the registry. It returns
// the removed TunnelInfo so the caller can wait for in-flight connections to
// drain before reusing the port.
func (r *Registry) RemoveTunnel(local socketspec.Spec) (*TunnelInfo, error) {
	r.mu.Lock()
	entry, ok := r.tunnels[local]
	if !ok {
		r.mu.Unlock()
		return nil, ErrTunnelDoesNotExist(local)
	}
	delete(r.tunnels, local)
	r.mu.Unlock()

	entry.mu.Lock()
	for _, dr := range entry.info.dead {
		if dr.Cancel != nil {
			dr.Cancel()
		}
	}
	entry.mu.Unlock()

	entry.info.SignalClose()
	return entry.info, nil
}

// TunnelExists reports whether local names a currently-registered tunnel.
func (r *Registry) TunnelExists(local socketspec.Spec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tunnels[local]
	return ok
}

// NumberOfTunnels returns the current tunnel count.
func (r *Registry) NumberOfTunnels() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// ListTunnels returns the local sockets of every registered tunnel, in no
// particular order.
func (r *Registry) ListTunnels() []socketspec.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]socketspec.Spec, 0, len(r.tunnels))
	for local := range r.tunnels {
		out = append(out, local)
	}
	return out
}

// entry looks up a tunnel's entry, taking the registry's read lock only for
// the map lookup itself.
func (r *Registry) entry(local socketspec.Spec) (*tunnelEntry, error) {
	r.mu.RLock()
	entry, ok := r.tunnels[local]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTunnelDoesNotExist(local)
	}
	return entry, nil
}

// Tunnel returns the TunnelInfo for local without locking its entry; callers
// that only read immutable fields (Local, Options, Done()) may use this
// directly. Callers that read or write mutable state must go through the
// Registry's other methods instead, which take the entry's lock.
func (r *Registry) Tunnel(local socketspec.Spec) (*TunnelInfo, error) {
	entry, err := r.entry(local)
	if err != nil {
		return nil, err
	}
	return entry.info, nil
}

// AddRemote attaches a new live remote to local. It returns ErrRemoteExists
// if the remote is already live or dead on that tunnel.
func (r *Registry) AddRemote(local, remote socketspec.Spec, opts RemoteOptions) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, ok := entry.info.remotes[remote]; ok {
		return ErrRemoteExists(remote)
	}
	if _, ok := entry.info.dead[remote]; ok {
		return ErrRemoteExists(remote)
	}
	entry.info.addRemote(remote, NewRemoteInfo(remote, opts))
	return nil
}

// RemoveRemote detaches a remote (live or dead) from local, cancelling its
// prober if one is running.
func (r *Registry) RemoveRemote(local, remote socketspec.Spec) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.info.removeRemote(remote) {
		return ErrRemoteDoesNotExist(remote)
	}
	return nil
}

// SelectRemote chooses a remote for a new client connection according to the
// tunnel's configured strategy, marks it as having a pending stream, and
// advances the round-robin cursor. It returns ErrNoRemote if the tunnel has
// no live remotes.
func (r *Registry) SelectRemote(local socketspec.Spec) (socketspec.Spec, error) {
	entry, err := r.entry(local)
	if err != nil {
		return socketspec.Spec{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	addrs, snap := entry.info.liveSnapshot()
	if len(addrs) == 0 {
		return socketspec.Spec{}, ErrNoRemote(local)
	}
	idx, err := entry.info.Options.Strategy.Select(snap)
	if err != nil {
		return socketspec.Spec{}, err
	}
	entry.info.lastSelectedIndex = idx
	chosen := addrs[idx]
	entry.info.remotes[chosen].NewPendingStream()
	return chosen, nil
}

// RemoteConnected records a successful dial to remote on local, counting
// the client as connected to (and served by) the tunnel.
func (r *Registry) RemoteConnected(local, remote socketspec.Spec) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	info, ok := entry.info.remotes[remote]
	if !ok {
		return ErrRemoteDoesNotExist(remote)
	}
	info.RemoteConnected()
	entry.info.clientConnected()
	return nil
}

// RemoteErrorResult reports what RemoteError decided: whether the remote's
// retry budget was exhausted and it was moved to the dead set.
type RemoteErrorResult struct {
	MarkedDead bool
	DeadRemote *DeadRemote
}

// RemoteError records a dial failure or mid-stream I/O error against
// remote on local. If the resulting retry count reaches the remote's
// configured budget, the remote is moved into the dead set and returned in
// the result for the caller to hand to the prober.
func (r *Registry) RemoteError(local, remote socketspec.Spec, wasPending bool, cause error) (RemoteErrorResult, error) {
	entry, err := r.entry(local)
	if err != nil {
		return RemoteErrorResult{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	info, ok := entry.info.remotes[remote]
	if !ok {
		return RemoteErrorResult{}, ErrRemoteDoesNotExist(remote)
	}
	retries := info.Error(wasPending, cause)
	budget := info.Options.Retries
	if budget >= 0 && retries >= budget {
		checkInterval := info.Options.CheckInterval
		if checkInterval <= 0 {
			checkInterval = entry.info.Options.CheckInterval
		}
		dr := entry.info.markDead(remote, checkInterval)
		return RemoteErrorResult{MarkedDead: true, DeadRemote: dr}, nil
	}
	return RemoteErrorResult{}, nil
}

// AttachProbeCancel stores the cancel function for a dead remote's
// background prober, once the Registry's caller has started it. Keeping
// this separate from markDead means the entry's lock is never held while
// the prober goroutine is being spawned.
func (r *Registry) AttachProbeCancel(local, remote socketspec.Spec, cancel func()) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	dr, ok := entry.info.dead[remote]
	if !ok {
		return ErrRemoteDoesNotExist(remote)
	}
	dr.Cancel = cancel
	return nil
}

// RemoteRecovered promotes a dead remote back to live, called by the prober
// once it observes a successful reconnect.
func (r *Registry) RemoteRecovered(local, remote socketspec.Spec) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.info.promote(remote) == nil {
		return ErrRemoteDoesNotExist(remote)
	}
	return nil
}

// RearmProbe updates a still-dead remote's next-probe timestamp after a
// failed probe attempt.
func (r *Registry) RearmProbe(local, remote socketspec.Spec, next time.Time) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	dr, ok := entry.info.dead[remote]
	if !ok {
		return ErrRemoteDoesNotExist(remote)
	}
	dr.NextProbe = next
	return nil
}

// ClientDisconnected finalizes a connection's counters on both the tunnel
// and its remote once the bidirectional copy finishes. Byte totals are not
// passed here: they were already folded in live via UpdateTransferred as the
// copy progressed, so this only retires the open stream.
func (r *Registry) ClientDisconnected(local, remote socketspec.Spec) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	info, ok := entry.info.remotes[remote]
	if !ok {
		return ErrRemoteDoesNotExist(remote)
	}
	info.ClientDisconnected()
	entry.info.clientDisconnected()
	return nil
}

// UpdateTransferred folds a chunk of moved bytes into remote's running
// totals without closing its stream, called as a bidirectional copy makes
// progress so STATUS/dashboard/metrics reflect an in-progress connection
// instead of only a connection that has already finished.
func (r *Registry) UpdateTransferred(local, remote socketspec.Spec, bytesSent, bytesReceived uint64) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	info, ok := entry.info.remotes[remote]
	if !ok {
		return ErrRemoteDoesNotExist(remote)
	}
	info.UpdateMovedBytes(bytesSent, bytesReceived)
	return nil
}

// RecordProbeFailure folds a failed health-check probe attempt into a dead
// remote's error counters via the same pathway a connection failure uses,
// so a remote that keeps failing its probe does not look frozen in status
// output while it waits to recover.
func (r *Registry) RecordProbeFailure(local, remote socketspec.Spec, cause error) error {
	entry, err := r.entry(local)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	dr, ok := entry.info.dead[remote]
	if !ok {
		return ErrRemoteDoesNotExist(remote)
	}
	dr.RecordProbeFailure(cause)
	return nil
}

// Stats returns a point-in-time snapshot of one tunnel's counters.
func (r *Registry) Stats(local socketspec.Spec) (TunnelStats, error) {
	entry, err := r.entry(local)
	if err != nil {
		return TunnelStats{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.info.snapshot(), nil
}

// AllStats returns a snapshot of every registered tunnel, keyed by its
// display address, for the STATUS control command and the dashboard.
func (r *Registry) AllStats() map[string]TunnelStats {
	r.mu.RLock()
	entries := make(map[socketspec.Spec]*tunnelEntry, len(r.tunnels))
	for k, v := range r.tunnels {
		entries[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]TunnelStats, len(entries))
	for local, entry := range entries {
		entry.mu.Lock()
		out[local.Display()] = entry.info.snapshot()
		entry.mu.Unlock()
	}
	return out
}
