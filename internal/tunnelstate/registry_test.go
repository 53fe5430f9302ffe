package tunnelstate

import (
	"errors"
	"testing"
	"time"

	"github.com/relaymesh/plexy/internal/lbstrategy"
	"github.com/relaymesh/plexy/internal/socketspec"
)

func mustParse(t *testing.T, s string) socketspec.Spec {
	t.Helper()
	spec, err := socketspec.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return spec
}

func defaultOptions() TunnelOptions {
	return TunnelOptions{Strategy: lbstrategy.RoundRobin, Retries: 2, Timeout: time.Second, CheckInterval: time.Millisecond}
}

func TestAddTunnelRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	if _, err := r.AddTunnel(local, defaultOptions()); err != nil {
		t.Fatal(err)
	}
	_, err := r.AddTunnel(local, defaultOptions())
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeTunnelExists {
		t.Fatalf("expected CodeTunnelExists, got %v", err)
	}
}

func TestSelectRemoteNoRemoteIsStable(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	if _, err := r.AddTunnel(local, defaultOptions()); err != nil {
		t.Fatal(err)
	}
	_, err := r.SelectRemote(local)
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeNoRemote {
		t.Fatalf("expected CodeNoRemote, got %v", err)
	}
}

func TestSelectRemoteRoundRobinVisitsEachOnce(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	if _, err := r.AddTunnel(local, defaultOptions()); err != nil {
		t.Fatal(err)
	}
	remotes := []socketspec.Spec{mustParse(t, "4001"), mustParse(t, "4002"), mustParse(t, "4003")}
	for _, rem := range remotes {
		if err := r.AddRemote(local, rem, RemoteOptions{Retries: 2, CheckInterval: time.Millisecond}); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[socketspec.Spec]int{}
	for i := 0; i < len(remotes); i++ {
		chosen, err := r.SelectRemote(local)
		if err != nil {
			t.Fatal(err)
		}
		seen[chosen]++
	}
	for _, rem := range remotes {
		if seen[rem] != 1 {
			t.Fatalf("remote %s selected %d times, want 1", rem, seen[rem])
		}
	}
}

func TestRemoteErrorMarksDeadAfterRetryBudget(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	remote := mustParse(t, "4001")
	opts := defaultOptions()
	if _, err := r.AddTunnel(local, opts); err != nil {
		t.Fatal(err)
	}
	if err := r.AddRemote(local, remote, RemoteOptions{Retries: 2, CheckInterval: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SelectRemote(local); err != nil {
		t.Fatal(err)
	}

	res, err := r.RemoteError(local, remote, true, errors.New("dial refused"))
	if err != nil {
		t.Fatal(err)
	}
	if res.MarkedDead {
		t.Fatal("remote should still be alive within its error budget")
	}

	if _, err := r.SelectRemote(local); err != nil {
		t.Fatal(err)
	}
	res, err = r.RemoteError(local, remote, true, errors.New("dial refused"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.MarkedDead {
		t.Fatal("expected remote to be marked dead once consecutive errors reach its budget")
	}
}

// TestRemoteErrorSingleFailureBudgetKillsImmediately guards the
// errors_till_dead=1 boundary: one failure must be enough to mark a remote
// dead, not two.
func TestRemoteErrorSingleFailureBudgetKillsImmediately(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	remote := mustParse(t, "4001")
	if _, err := r.AddTunnel(local, defaultOptions()); err != nil {
		t.Fatal(err)
	}
	if err := r.AddRemote(local, remote, RemoteOptions{Retries: 1, CheckInterval: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SelectRemote(local); err != nil {
		t.Fatal(err)
	}
	res, err := r.RemoteError(local, remote, true, errors.New("dial refused"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.MarkedDead {
		t.Fatal("expected a single failure to mark the remote dead when its budget is 1")
	}
}

func TestRemoteErrorExceedsBudgetMovesToDead(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	remote := mustParse(t, "4001")
	opts := defaultOptions()
	opts.Retries = 0
	if _, err := r.AddTunnel(local, opts); err != nil {
		t.Fatal(err)
	}
	if err := r.AddRemote(local, remote, RemoteOptions{Retries: 0, CheckInterval: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SelectRemote(local); err != nil {
		t.Fatal(err)
	}
	res, err := r.RemoteError(local, remote, true, errors.New("refused"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.MarkedDead {
		t.Fatal("expected remote to be marked dead once retries exceed budget")
	}

	stats, err := r.Stats(local)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Remotes) != 0 || len(stats.DeadRemotes) != 1 {
		t.Fatalf("expected 0 live / 1 dead, got %d live / %d dead", len(stats.Remotes), len(stats.DeadRemotes))
	}
}

func TestRemoteRecoveredPromotesBackToLive(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	remote := mustParse(t, "4001")
	opts := defaultOptions()
	opts.Retries = 0
	if _, err := r.AddTunnel(local, opts); err != nil {
		t.Fatal(err)
	}
	if err := r.AddRemote(local, remote, RemoteOptions{Retries: 0, CheckInterval: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SelectRemote(local); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RemoteError(local, remote, true, errors.New("refused")); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoteRecovered(local, remote); err != nil {
		t.Fatal(err)
	}
	chosen, err := r.SelectRemote(local)
	if err != nil {
		t.Fatal(err)
	}
	if chosen != remote {
		t.Fatalf("expected recovered remote to be selectable again, got %s", chosen)
	}
}

func TestRemoveTunnelSignalsClose(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	info, err := r.AddTunnel(local, defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	removed, err := r.RemoveTunnel(local)
	if err != nil {
		t.Fatal(err)
	}
	if removed != info {
		t.Fatal("expected RemoveTunnel to return the original TunnelInfo")
	}
	select {
	case <-info.Done():
	default:
		t.Fatal("expected Done() channel to be closed after RemoveTunnel")
	}
	if r.TunnelExists(local) {
		t.Fatal("tunnel should no longer be registered")
	}
}

func TestClientDisconnectedUpdatesCounters(t *testing.T) {
	r := NewRegistry()
	local := mustParse(t, "3000")
	remote := mustParse(t, "4001")
	if _, err := r.AddTunnel(local, defaultOptions()); err != nil {
		t.Fatal(err)
	}
	if err := r.AddRemote(local, remote, RemoteOptions{Retries: 2, CheckInterval: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SelectRemote(local); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoteConnected(local, remote); err != nil {
		t.Fatal(err)
	}
	// Bytes are folded in live, as the copy progresses, not at disconnect.
	if err := r.UpdateTransferred(local, remote, 60, 120); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateTransferred(local, remote, 40, 80); err != nil {
		t.Fatal(err)
	}
	if err := r.ClientDisconnected(local, remote); err != nil {
		t.Fatal(err)
	}
	stats, err := r.Stats(local)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Remotes[0].BytesSent != 100 || stats.Remotes[0].BytesReceived != 200 {
		t.Fatalf("unexpected byte counters: %+v", stats.Remotes[0])
	}
	if stats.Remotes[0].StreamsOpen != 0 {
		t.Fatalf("expected StreamsOpen 0 after disconnect, got %d", stats.Remotes[0].StreamsOpen)
	}
}
