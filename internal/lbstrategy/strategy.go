// Package lbstrategy implements the closed set of remote-selection policies
// a tunnel can use. The set is deliberately closed, so Strategy is a small
// enum rather than an exported interface third parties could implement.
package lbstrategy

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Strategy names one of the three load-balancing policies.
type Strategy int

const (
	// Random picks uniformly among the live remotes.
	Random Strategy = iota
	// RoundRobin cycles through live remotes in insertion order.
	RoundRobin
	// MinimumOpenConnections picks the remote with the least combined
	// open and pending streams.
	MinimumOpenConnections
)

// Default is used whenever a tunnel spec does not name a strategy.
const Default = Random

// String renders the canonical display form.
func (s Strategy) String() string {
	switch s {
	case Random:
		return "random"
	case RoundRobin:
		return "round-robin"
	case MinimumOpenConnections:
		return "minimum-open-connections"
	default:
		return "unknown"
	}
}

// Parse accepts the canonical name and the documented aliases
// (underscore/camel forms, "min-open-connections").
func Parse(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random":
		return Random, nil
	case "round-robin", "round_robin", "roundrobin":
		return RoundRobin, nil
	case "minimum-open-connections", "minimum_open_connections", "minimumopenconnections",
		"min-open-connections", "min_open_connections", "minopenconnections":
		return MinimumOpenConnections, nil
	default:
		return 0, fmt.Errorf("invalid load-balancing strategy %q", s)
	}
}

// RemoteLoad is the minimal view a strategy needs of one candidate remote.
type RemoteLoad struct {
	StreamsOpen    int
	StreamsPending int
}

// Snapshot is a read-only, order-preserving view of a tunnel's live remotes,
// passed to Select. Index i must correspond to insertion order so
// RoundRobin's cursor remains meaningful across calls.
type Snapshot struct {
	Remotes           []RemoteLoad
	LastSelectedIndex int // -1 if unset
}

// ErrNoRemote is returned when Snapshot.Remotes is empty.
var ErrNoRemote = fmt.Errorf("no live remote available")

// Select returns a 0-based index into snap.Remotes, or ErrNoRemote if empty.
// Callers are expected to bypass Select entirely for the single-remote fast
// path; Select still handles it correctly if invoked anyway.
func (s Strategy) Select(snap Snapshot) (int, error) {
	n := len(snap.Remotes)
	if n == 0 {
		return 0, ErrNoRemote
	}
	if n == 1 {
		return 0, nil
	}
	switch s {
	case Random:
		return rand.IntN(n), nil
	case RoundRobin:
		last := snap.LastSelectedIndex
		if last < 0 {
			last = n - 1
		}
		return (last + 1) % n, nil
	case MinimumOpenConnections:
		minIdx, minLoad := 0, -1
		for i, r := range snap.Remotes {
			load := r.StreamsOpen + r.StreamsPending
			if load == 0 {
				return i, nil
			}
			if minLoad == -1 || load < minLoad {
				minIdx, minLoad = i, load
			}
		}
		return minIdx, nil
	default:
		return 0, fmt.Errorf("unknown strategy %v", s)
	}
}
