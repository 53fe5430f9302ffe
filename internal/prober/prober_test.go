package prober

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/relaymesh/plexy/internal/socketspec"
)

type fakeDialer struct {
	mu      sync.Mutex
	attempt int
	succeed int // dial succeeds on this attempt number (1-based); 0 = never
}

func (f *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	f.mu.Lock()
	f.attempt++
	n := f.attempt
	f.mu.Unlock()
	if f.succeed != 0 && n >= f.succeed {
		server, client := net.Pipe()
		go func() { <-ctx.Done(); server.Close() }()
		return client, nil
	}
	return nil, errors.New("connection refused")
}

type fakeRegistry struct {
	mu              sync.Mutex
	recovered       chan socketspec.Spec
	rearmed         int
	recordedFailure int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{recovered: make(chan socketspec.Spec, 1)}
}

func (f *fakeRegistry) RemoteRecovered(local, remote socketspec.Spec) error {
	f.recovered <- remote
	return nil
}

func (f *fakeRegistry) RearmProbe(local, remote socketspec.Spec, next time.Time) error {
	f.mu.Lock()
	f.rearmed++
	f.mu.Unlock()
	return nil
}

func (f *fakeRegistry) RecordProbeFailure(local, remote socketspec.Spec, cause error) error {
	f.mu.Lock()
	f.recordedFailure++
	f.mu.Unlock()
	return nil
}

func TestProberPromotesOnSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := socketspec.New("127.0.0.1", 3000)
	remote := socketspec.New("127.0.0.1", 4001)
	dialer := &fakeDialer{succeed: 2}
	reg := newFakeRegistry()

	cancel := Start(context.Background(), dialer, reg, local, remote, 5*time.Millisecond)
	defer cancel()

	select {
	case got := <-reg.recovered:
		if got != remote {
			t.Fatalf("recovered %v, want %v", got, remote)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote to be recovered")
	}
}

func TestProberStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := socketspec.New("127.0.0.1", 3000)
	remote := socketspec.New("127.0.0.1", 4001)
	dialer := &fakeDialer{} // never succeeds
	reg := newFakeRegistry()

	cancel := Start(context.Background(), dialer, reg, local, remote, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-reg.recovered:
		t.Fatal("remote should never have recovered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProberRearmsOnEachFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := socketspec.New("127.0.0.1", 3000)
	remote := socketspec.New("127.0.0.1", 4001)
	dialer := &fakeDialer{}
	reg := newFakeRegistry()

	cancel := Start(context.Background(), dialer, reg, local, remote, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	reg.mu.Lock()
	rearmed := reg.rearmed
	reg.mu.Unlock()
	if rearmed == 0 {
		t.Fatal("expected at least one rearm after repeated failures")
	}
}

func TestProberRecordsFailureOnEachAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := socketspec.New("127.0.0.1", 3000)
	remote := socketspec.New("127.0.0.1", 4001)
	dialer := &fakeDialer{}
	reg := newFakeRegistry()

	cancel := Start(context.Background(), dialer, reg, local, remote, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	reg.mu.Lock()
	recorded := reg.recordedFailure
	reg.mu.Unlock()
	if recorded == 0 {
		t.Fatal("expected at least one recorded failure after repeated probe failures")
	}
}
