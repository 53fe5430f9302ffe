// Package prober runs the background retry loop that watches a dead remote
// and promotes it back to live once it becomes reachable again, grounded on
// original_source's per-remote tokio task (src/lib.rs TunnelHandler spawn
// sites), adapted to a single goroutine-per-remote retry loop with
// explicit cancellation.
package prober

import (
	"context"
	"net"
	"time"

	"github.com/relaymesh/plexy/internal/socketspec"
)

// Dialer is the narrow interface the prober needs to test reachability.
// Production code passes (&net.Dialer{}).DialContext; tests substitute a
// fake to control timing and outcomes deterministically.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Registry is the subset of *tunnelstate.Registry the prober depends on,
// kept narrow so this package does not import tunnelstate's full surface
// and so tests can substitute a fake.
type Registry interface {
	RemoteRecovered(local, remote socketspec.Spec) error
	RearmProbe(local, remote socketspec.Spec, next time.Time) error
	RecordProbeFailure(local, remote socketspec.Spec, cause error) error
}

// Start launches a goroutine that retries a TCP connect to remote every
// interval until it succeeds, the registry reports the remote is gone, or
// the returned cancel function is called. Cancellation is safe to call any
// number of times and from any goroutine.
//
// The goroutine never connects to the application protocol on top of the
// probe connection: a bare TCP handshake is all original_source checks,
// and a bare handshake is all this does, closing the probe connection
// immediately on success.
func Start(parent context.Context, dialer Dialer, reg Registry, local, remote socketspec.Spec, interval time.Duration) (cancel func()) {
	ctx, cancel := context.WithCancel(parent)
	go run(ctx, dialer, reg, local, remote, interval)
	return cancel
}

func run(ctx context.Context, dialer Dialer, reg Registry, local, remote socketspec.Spec, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		dialCtx, cancelDial := context.WithTimeout(ctx, interval)
		conn, err := dialer.DialContext(dialCtx, "tcp", remote.Address())
		cancelDial()

		if err == nil {
			conn.Close()
			// RemoteDoesNotExist means the remote (or its whole tunnel)
			// was removed while we were dialing; nothing left to do.
			_ = reg.RemoteRecovered(local, remote)
			return
		}

		// Record the failed attempt through the same error pathway a
		// live connection failure uses, so a remote that keeps failing
		// its probe does not look frozen in status output.
		_ = reg.RecordProbeFailure(local, remote, err)

		next := time.Now().Add(interval)
		if rearmErr := reg.RearmProbe(local, remote, next); rearmErr != nil {
			return
		}
		timer.Reset(interval)
	}
}
