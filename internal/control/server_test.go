package control

import (
	"context"
	"net"
	"testing"
	"time"
)

type fakeStatus string

func (f fakeStatus) ControlSummary() string { return string(f) }

type fakeEngine struct {
	opened        []string
	closed        []string
	addedRemote   []string
	removedRemote []string
	fail          bool
}

func (f *fakeEngine) OpenTunnel(ctx context.Context, specText string) error {
	if f.fail {
		return errTest
	}
	f.opened = append(f.opened, specText)
	return nil
}

func (f *fakeEngine) CloseTunnel(localText string) error {
	if f.fail {
		return errTest
	}
	f.closed = append(f.closed, localText)
	return nil
}

func (f *fakeEngine) Status(localText string) (map[string]TunnelStatus, error) {
	if f.fail {
		return nil, errTest
	}
	return map[string]TunnelStatus{"127.0.0.1:3000": fakeStatus("clients=1")}, nil
}

func (f *fakeEngine) ListTunnels() []string {
	return []string{"127.0.0.1:3000"}
}

func (f *fakeEngine) AddRemote(localText, remoteText string) error {
	if f.fail {
		return errTest
	}
	f.addedRemote = append(f.addedRemote, localText+">"+remoteText)
	return nil
}

func (f *fakeEngine) RemoveRemote(localText, remoteText string) error {
	if f.fail {
		return errTest
	}
	f.removedRemote = append(f.removedRemote, localText+">"+remoteText)
	return nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("boom")

func startTestServer(t *testing.T, engine Engine) (net.Addr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(engine, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	return ln.Addr(), func() { cancel(); ln.Close() }
}

func TestClientOpenStatusClose(t *testing.T) {
	engine := &fakeEngine{}
	addr, stop := startTestServer(t, engine)
	defer stop()

	client, err := Dial("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Open("3000=4000"); err != nil {
		t.Fatal(err)
	}
	if len(engine.opened) != 1 || engine.opened[0] != "3000=4000" {
		t.Fatalf("unexpected opened list: %v", engine.opened)
	}

	status, err := client.Status("")
	if err != nil {
		t.Fatal(err)
	}
	if status == "" {
		t.Fatal("expected non-empty status body")
	}

	if err := client.CloseTunnel("3000"); err != nil {
		t.Fatal(err)
	}
	if len(engine.closed) != 1 || engine.closed[0] != "3000" {
		t.Fatalf("unexpected closed list: %v", engine.closed)
	}
}

func TestClientSurfacesEngineErrors(t *testing.T) {
	engine := &fakeEngine{fail: true}
	addr, stop := startTestServer(t, engine)
	defer stop()

	client, err := Dial("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Open("3000=4000"); err == nil {
		t.Fatal("expected error from OPEN")
	}
}

func TestClientListAddRemoveRemote(t *testing.T) {
	engine := &fakeEngine{}
	addr, stop := startTestServer(t, engine)
	defer stop()

	client, err := Dial("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	list, err := client.List()
	if err != nil {
		t.Fatal(err)
	}
	if list == "" {
		t.Fatal("expected non-empty list body")
	}

	if err := client.AddRemote("3000", "4001"); err != nil {
		t.Fatal(err)
	}
	if len(engine.addedRemote) != 1 || engine.addedRemote[0] != "3000>4001" {
		t.Fatalf("unexpected addedRemote list: %v", engine.addedRemote)
	}

	if err := client.RemoveRemote("3000", "4001"); err != nil {
		t.Fatal(err)
	}
	if len(engine.removedRemote) != 1 || engine.removedRemote[0] != "3000>4001" {
		t.Fatalf("unexpected removedRemote list: %v", engine.removedRemote)
	}
}

func TestParseCommandRejectsUnknownVerb(t *testing.T) {
	if _, err := ParseCommand("BOGUS foo"); err == nil {
		t.Fatal("expected error for unknown verb")
	}
}

func TestParseCommandUppercasesVerb(t *testing.T) {
	cmd, err := ParseCommand("status 3000")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Verb != "STATUS" || cmd.Arg != "3000" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}
