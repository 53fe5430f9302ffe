package copier

import (
	"bytes"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// tcpPair returns both ends of a loopback TCP connection. Unlike net.Pipe,
// these support CloseWrite, which Copy uses to propagate a clean EOF.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return dialed, <-accepted
}

func TestCopyMovesBytesBothWays(t *testing.T) {
	clientLocal, clientRemote := tcpPair(t)
	remoteLocal, remoteRemote := tcpPair(t)

	done := make(chan struct{})
	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	var progressed uint64
	go func() {
		res, err := Copy(done, clientRemote, remoteRemote, func(c2r, r2c uint64) {
			atomic.AddUint64(&progressed, c2r+r2c)
		})
		resultCh <- res
		errCh <- err
	}()

	go func() {
		clientLocal.Write([]byte("hello remote"))
		clientLocal.(halfCloser).CloseWrite()
	}()
	got, err := io.ReadAll(remoteLocal)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello remote")) {
		t.Fatalf("remote received %q", got)
	}

	remoteLocal.Write([]byte("hello client"))
	remoteLocal.Close()
	got2, err := io.ReadAll(clientLocal)
	if err != nil && err != io.ErrClosedPipe {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, []byte("hello client")) {
		t.Fatalf("client received %q", got2)
	}

	select {
	case res := <-resultCh:
		if res.BytesClientToRemote == 0 || res.BytesRemoteToClient == 0 {
			t.Fatalf("expected nonzero byte counts both ways, got %+v", res)
		}
		if atomic.LoadUint64(&progressed) != res.BytesClientToRemote+res.BytesRemoteToClient {
			t.Fatalf("progress callback total %d did not match final result %+v", progressed, res)
		}
	case <-time.After(time.Second):
		t.Fatal("Copy did not finish")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCopyStopsOnDoneSignal(t *testing.T) {
	client, clientPeer := net.Pipe()
	remote, remotePeer := net.Pipe()
	defer clientPeer.Close()
	defer remotePeer.Close()

	done := make(chan struct{})
	resultCh := make(chan Result, 1)
	go func() {
		res, _ := Copy(done, client, remote, nil)
		resultCh <- res
	}()

	close(done)

	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("Copy did not return after done was closed")
	}
}
