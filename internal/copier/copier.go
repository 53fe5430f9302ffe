// Package copier implements the bidirectional byte-splicing engine that
// moves data between a client and its selected remote, grounded on the
// CopyBuffer/TransferState state machine in original_source src/aio.rs.
// Rust's hand-rolled poll loop reads one chunk, fully flushes it, then reads
// the next; this package keeps that same read-fully-before-writing,
// write-fully-before-reading-again discipline with an explicit buffered
// loop rather than io.Copy, so every chunk can be reported to the caller as
// it moves instead of only once the whole transfer finishes.
package copier

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// bufferSize is the chunk size each direction reads and flushes at a time,
// matching original_source src/aio.rs's fixed transfer buffer.
const bufferSize = 32 * 1024

// halfCloser is implemented by net.TCPConn and net.UnixConn; when a copy
// direction reaches EOF cleanly, we propagate it as a half-close instead of
// severing the whole connection, so the other direction can still drain.
type halfCloser interface {
	CloseWrite() error
}

// Progress reports bytes moved since the last call, in each direction. A
// call with a non-zero clientToRemote delta always has a zero
// remoteToClient delta and vice versa, since each direction reports its own
// chunks independently.
type Progress func(clientToRemote, remoteToClient uint64)

// Result reports how many bytes moved in each direction before the copy
// finished, whether by clean EOF, by I/O error, or by the close signal.
type Result struct {
	BytesClientToRemote uint64
	BytesRemoteToClient uint64
}

// Copy splices client and remote bidirectionally until both directions have
// finished, an I/O error occurs, or done is closed. done being closed mid-
// transfer is not an error: Copy closes both connections to unblock any
// pending Read, then returns the partial byte counts accumulated up to that
// point, preserving accurate byte accounting across a forced shutdown.
//
// onProgress, if non-nil, is called after every chunk flushed in either
// direction with that chunk's size (not a running total), so callers can
// fold it into their own accumulator (e.g.
// tunnelstate.Registry.UpdateTransferred) as the transfer makes progress
// instead of waiting for Copy to return.
//
// The returned error is the first I/O error observed on either direction,
// or nil on a clean or close-signaled finish.
func Copy(done <-chan struct{}, client, remote net.Conn, onProgress Progress) (Result, error) {
	var (
		clientToRemote, remoteToClient uint64
		wg                             sync.WaitGroup
		errOnce                        sync.Once
		firstErr                       error
	)

	recordErr := func(err error) {
		if err == nil || err == io.EOF {
			return
		}
		select {
		case <-done:
			// Errors caused by the close signal shutting both sides down
			// are the expected way a cancelled copy ends.
			return
		default:
		}
		errOnce.Do(func() { firstErr = err })
		// Unblock the sibling direction so Copy returns on the first error.
		client.Close()
		remote.Close()
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-done:
			client.Close()
			remote.Close()
		case <-finished:
		}
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := copyOneDirection(remote, client, func(chunk int) {
			atomic.AddUint64(&clientToRemote, uint64(chunk))
			if onProgress != nil {
				onProgress(uint64(chunk), 0)
			}
		})
		recordErr(err)
	}()
	go func() {
		defer wg.Done()
		_, err := copyOneDirection(client, remote, func(chunk int) {
			atomic.AddUint64(&remoteToClient, uint64(chunk))
			if onProgress != nil {
				onProgress(0, uint64(chunk))
			}
		})
		recordErr(err)
	}()
	wg.Wait()
	close(finished)

	return Result{
		BytesClientToRemote: atomic.LoadUint64(&clientToRemote),
		BytesRemoteToClient: atomic.LoadUint64(&remoteToClient),
	}, firstErr
}

// copyOneDirection moves bytes from src to dst in bufferSize chunks until
// src returns EOF, a read/write error occurs, or one side is closed out
// from under it by the sibling direction's error path or the close signal.
// report, if non-nil, is called after every successfully written chunk with
// its size. On a
// clean EOF it half-closes dst's write side so the peer sees the end of
// stream without losing the chance to finish sending its own reply.
func copyOneDirection(dst io.Writer, src io.Reader, report func(n int)) (int64, error) {
	buf := make([]byte, bufferSize)
	var total int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				total += int64(nw)
				if report != nil {
					report(nw)
				}
			}
			if werr != nil {
				return total, werr
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if hc, ok := dst.(halfCloser); ok {
					_ = hc.CloseWrite()
				}
				return total, nil
			}
			return total, rerr
		}
	}
}
