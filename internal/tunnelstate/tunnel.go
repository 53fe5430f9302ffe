package tunnelstate

import (
	"sync"
	"time"

	"github.com/relaymesh/plexy/internal/lbstrategy"
	"github.com/relaymesh/plexy/internal/socketspec"
)

// TunnelOptions are the per-tunnel defaults captured once when a tunnel is
// created. Unlike the original's mutable process-wide default, these are
// resolved once from the CLI/tunnel-spec options and then passed down
// immutably — no tunnel ever observes another tunnel's option changes.
type TunnelOptions struct {
	// Strategy picks among live remotes on each new client connection.
	Strategy lbstrategy.Strategy
	// Retries bounds how many different remotes one client connection will
	// try before giving up, the cross-remote retry budget from the
	// tunnel spec's "retries" option.
	Retries int
	// Errors is the default errors_till_dead budget handed to a remote
	// added under this tunnel when it does not set its own, the tunnel
	// spec's "errors" option. It is independent of Retries: Retries bounds
	// one client connection's fallthrough across remotes, Errors bounds
	// how many consecutive failures a single remote tolerates before it is
	// moved to the dead set.
	Errors        int
	Timeout       time.Duration
	CheckInterval time.Duration
	RemoteTLS     bool
}

// TunnelInfo holds everything the proxy needs to serve one local listener:
// its live and dead remotes, its round-robin cursor, its aggregate counters,
// and the close signal that tells its accept loop and every connection
// goroutine it owns to shut down.
//
// All mutation goes through the tunnel entry's mutex (see Registry); callers
// must never hold that mutex across a blocking I/O call.
type TunnelInfo struct {
	Local   socketspec.Spec
	Options TunnelOptions

	// order preserves remote insertion order for round-robin and for
	// stable Snapshot/Status output; remotes indexes the same set by
	// address for O(1) lookup.
	order   []socketspec.Spec
	remotes map[socketspec.Spec]*RemoteInfo
	dead    map[socketspec.Spec]*DeadRemote

	lastSelectedIndex int

	clientsConnected uint64
	clientsServed    uint64

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewTunnelInfo builds an empty tunnel record with no remotes attached.
func NewTunnelInfo(local socketspec.Spec, opts TunnelOptions) *TunnelInfo {
	return &TunnelInfo{
		Local:             local,
		Options:           opts,
		remotes:           make(map[socketspec.Spec]*RemoteInfo),
		dead:              make(map[socketspec.Spec]*DeadRemote),
		lastSelectedIndex: -1,
		closeCh:           make(chan struct{}),
	}
}

// Done returns the channel that is closed when the tunnel is shutting down.
// Every listener and connection goroutine for this tunnel selects on it.
func (t *TunnelInfo) Done() <-chan struct{} { return t.closeCh }

// SignalClose closes the done channel exactly once. Closing a channel is a
// broadcast: every goroutine blocked on Done() wakes, any number of times,
// which is what makes it the right primitive for a level-triggered shutdown
// flag instead of the original's polled AtomicBool.
func (t *TunnelInfo) SignalClose() {
	t.closeOnce.Do(func() { close(t.closeCh) })
}

// addRemote inserts a new live remote, preserving insertion order. The
// caller (Registry) holds the tunnel's lock and has already checked for
// duplicates.
func (t *TunnelInfo) addRemote(addr socketspec.Spec, info *RemoteInfo) {
	t.order = append(t.order, addr)
	t.remotes[addr] = info
}

// removeRemote drops a live or dead remote by address, returning true if it
// was present in either set.
func (t *TunnelInfo) removeRemote(addr socketspec.Spec) bool {
	if _, ok := t.remotes[addr]; ok {
		delete(t.remotes, addr)
		t.removeFromOrder(addr)
		return true
	}
	if dr, ok := t.dead[addr]; ok {
		if dr.Cancel != nil {
			dr.Cancel()
		}
		delete(t.dead, addr)
		return true
	}
	return false
}

func (t *TunnelInfo) removeFromOrder(addr socketspec.Spec) {
	for i, a := range t.order {
		if a == addr {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// liveSnapshot builds the lbstrategy.Snapshot view of currently-live
// remotes, in insertion order.
func (t *TunnelInfo) liveSnapshot() ([]socketspec.Spec, lbstrategy.Snapshot) {
	addrs := make([]socketspec.Spec, 0, len(t.order))
	loads := make([]lbstrategy.RemoteLoad, 0, len(t.order))
	for _, addr := range t.order {
		r, ok := t.remotes[addr]
		if !ok {
			continue
		}
		addrs = append(addrs, addr)
		open, pending := r.Load()
		loads = append(loads, lbstrategy.RemoteLoad{StreamsOpen: open, StreamsPending: pending})
	}
	return addrs, lbstrategy.Snapshot{Remotes: loads, LastSelectedIndex: t.lastSelectedIndex}
}

// markDead moves a live remote into the dead set, detaching it from the
// round-robin order. The returned DeadRemote has no Cancel set yet; the
// Registry attaches the prober's cancel function after starting it, so the
// tunnel's mutex is never held across goroutine startup.
func (t *TunnelInfo) markDead(addr socketspec.Spec, checkInterval time.Duration) *DeadRemote {
	info, ok := t.remotes[addr]
	if !ok {
		return nil
	}
	delete(t.remotes, addr)
	t.removeFromOrder(addr)
	dr := &DeadRemote{
		Info:      info,
		DiedAt:    time.Now(),
		NextProbe: time.Now().Add(checkInterval),
	}
	t.dead[addr] = dr
	return dr
}

// promote moves a dead remote back into the live set, appending it to the
// end of the round-robin order.
func (t *TunnelInfo) promote(addr socketspec.Spec) *RemoteInfo {
	dr, ok := t.dead[addr]
	if !ok {
		return nil
	}
	delete(t.dead, addr)
	info := dr.RemoteRecovered()
	t.order = append(t.order, addr)
	t.remotes[addr] = info
	return info
}

// snapshot renders the full TunnelStats view for this tunnel.
func (t *TunnelInfo) snapshot() TunnelStats {
	remotes := make([]RemoteStats, 0, len(t.order))
	var sent, received, errs uint64
	for _, addr := range t.order {
		if r, ok := t.remotes[addr]; ok {
			remotes = append(remotes, r.Snapshot())
			sent += r.BytesSent
			received += r.BytesReceived
			errs += r.TotalErrors
		}
	}
	dead := make([]RemoteStats, 0, len(t.dead))
	for _, dr := range t.dead {
		dead = append(dead, dr.Snapshot())
		sent += dr.Info.BytesSent
		received += dr.Info.BytesReceived
		errs += dr.Info.TotalErrors
	}
	return TunnelStats{
		Local:             t.Local.Display(),
		Strategy:          t.Options.Strategy.String(),
		ClientsConnected:  t.clientsConnected,
		ClientsServed:     t.clientsServed,
		BytesSent:         sent,
		BytesReceived:     received,
		Errors:            errs,
		Remotes:           remotes,
		DeadRemotes:       dead,
		LastSelectedIndex: t.lastSelectedIndex,
	}
}

func (t *TunnelInfo) clientConnected() {
	t.clientsConnected++
	t.clientsServed++
}

func (t *TunnelInfo) clientDisconnected() {
	if t.clientsConnected > 0 {
		t.clientsConnected--
	}
}
