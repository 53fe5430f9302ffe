// Package proxyserver runs the accept loop and per-connection splicing that
// turns a tunnelstate.TunnelInfo into an actual listening TCP proxy,
// grounded on original_source src/lib.rs (process_socket, TunnelHandler,
// start_tunnel, create_tunnel, run_tunnel), using an accept-loop-plus-
// goroutine-per-connection idiom with a WaitGroup for graceful shutdown.
package proxyserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/relaymesh/plexy/internal/copier"
	"github.com/relaymesh/plexy/internal/prober"
	"github.com/relaymesh/plexy/internal/socketspec"
	"github.com/relaymesh/plexy/internal/tunnelspec"
	"github.com/relaymesh/plexy/internal/tunnelstate"
)

// TLSConfigFunc resolves the outbound tls.Config to use when dialing a
// remote with remote-tls enabled. Kept as a function rather than a single
// config so the server can honor a per-tunnel CA bundle/server name.
type TLSConfigFunc func(local socketspec.Spec) (*tls.Config, error)

// Server owns the set of currently-running tunnel listeners and the shared
// dependencies (registry, dialer, logger) every connection needs.
type Server struct {
	Registry  *tunnelstate.Registry
	Logger    *slog.Logger
	TLSConfig TLSConfigFunc
	Dialer    net.Dialer

	mu        sync.Mutex
	listeners map[socketspec.Spec]*tunnelListener
}

// NewServer wires a Server around an existing registry.
func NewServer(reg *tunnelstate.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Registry:  reg,
		Logger:    logger,
		listeners: make(map[socketspec.Spec]*tunnelListener),
	}
}

type tunnelListener struct {
	ln   net.Listener
	info *tunnelstate.TunnelInfo
	wg   sync.WaitGroup
}

// StartTunnel registers spec in the registry, binds its local listener, and
// begins accepting connections in the background. It returns once the
// listener is bound, not once it stops serving.
func (s *Server) StartTunnel(ctx context.Context, spec tunnelspec.Spec, opts tunnelstate.TunnelOptions) error {
	info, err := s.Registry.AddTunnel(spec.Local, opts)
	if err != nil {
		return err
	}
	for _, remote := range spec.Remotes {
		remoteOpts := tunnelstate.RemoteOptions{
			Retries:       opts.Errors,
			CheckInterval: opts.CheckInterval,
			UseTLS:        opts.RemoteTLS,
		}
		if err := s.Registry.AddRemote(spec.Local, remote, remoteOpts); err != nil {
			s.Registry.RemoveTunnel(spec.Local)
			return err
		}
	}

	ln, err := net.Listen("tcp", spec.Local.Address())
	if err != nil {
		s.Registry.RemoveTunnel(spec.Local)
		return err
	}

	tl := &tunnelListener{ln: ln, info: info}
	s.mu.Lock()
	s.listeners[spec.Local] = tl
	s.mu.Unlock()

	go s.closeListenerOnShutdown(info, ln)
	go s.acceptLoop(ctx, tl)
	s.Logger.Info("tunnel started", "local", spec.Local.Display(), "remotes", len(spec.Remotes), "strategy", opts.Strategy.String())
	return nil
}

func (s *Server) closeListenerOnShutdown(info *tunnelstate.TunnelInfo, ln net.Listener) {
	<-info.Done()
	ln.Close()
}

// StopTunnel removes local from the registry, which signals its close
// channel and causes the accept loop and every live connection goroutine to
// unwind. It waits for the connection goroutines to finish before
// returning; it does not wait for the accept loop itself to exit.
func (s *Server) StopTunnel(local socketspec.Spec) error {
	s.mu.Lock()
	tl, ok := s.listeners[local]
	if ok {
		delete(s.listeners, local)
	}
	s.mu.Unlock()
	if !ok {
		return tunnelstate.ErrTunnelDoesNotExist(local)
	}
	if _, err := s.Registry.RemoveTunnel(local); err != nil {
		return err
	}
	tl.wg.Wait()
	return nil
}

// StopAll stops every currently running tunnel, continuing past individual
// failures and returning their combined error so a shutdown sequence can
// report every tunnel that failed to stop cleanly instead of only the
// first one.
func (s *Server) StopAll() error {
	s.mu.Lock()
	locals := make([]socketspec.Spec, 0, len(s.listeners))
	for local := range s.listeners {
		locals = append(locals, local)
	}
	s.mu.Unlock()

	var err error
	for _, local := range locals {
		err = multierr.Append(err, s.StopTunnel(local))
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, tl *tunnelListener) {
	local := tl.info.Local
	for {
		conn, err := tl.ln.Accept()
		if err != nil {
			select {
			case <-tl.info.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.Logger.Warn("accept failed", "local", local.Display(), "error", err)
			return
		}
		tl.wg.Add(1)
		go func() {
			defer tl.wg.Done()
			s.handleConnection(ctx, tl, conn)
		}()
	}
}

// handleConnection implements one client's full lifecycle: select a remote,
// dial it (optionally over TLS), falling through to a different live remote
// up to the tunnel's retry budget if the dial fails, then splice bytes
// bidirectionally until either side closes or the tunnel is shut down.
func (s *Server) handleConnection(ctx context.Context, tl *tunnelListener, client net.Conn) {
	defer client.Close()
	local := tl.info.Local
	connID := uuid.NewString()

	remote, remoteConn, ok := s.dialWithRetry(ctx, tl, local, connID)
	if !ok {
		return
	}
	defer remoteConn.Close()

	if err := s.Registry.RemoteConnected(local, remote); err != nil {
		s.Logger.Warn("remote connected after removal", "conn", connID, "local", local.Display(), "remote", remote.Display(), "error", err)
		return
	}

	onProgress := func(bytesClientToRemote, bytesRemoteToClient uint64) {
		if err := s.Registry.UpdateTransferred(local, remote, bytesClientToRemote, bytesRemoteToClient); err != nil {
			s.Logger.Debug("transfer update after removal", "conn", connID, "local", local.Display(), "remote", remote.Display(), "error", err)
		}
	}
	_, copyErr := copier.Copy(tl.info.Done(), client, remoteConn, onProgress)
	if copyErr != nil {
		s.Logger.Debug("connection ended with error", "conn", connID, "local", local.Display(), "remote", remote.Display(), "error", copyErr)
	}
	if err := s.Registry.ClientDisconnected(local, remote); err != nil {
		s.Logger.Debug("remote gone at disconnect", "conn", connID, "local", local.Display(), "remote", remote.Display(), "error", err)
	}
}

// dialWithRetry selects and dials a remote, falling through to a different
// live remote on failure until the tunnel's retries budget is exhausted or
// no remote remains. Each failed attempt is recorded through the same
// error pathway a mid-stream failure uses, so a remote that keeps refusing
// connections is marked dead exactly as it would be outside a retry loop.
func (s *Server) dialWithRetry(ctx context.Context, tl *tunnelListener, local socketspec.Spec, connID string) (socketspec.Spec, net.Conn, bool) {
	budget := tl.info.Options.Retries
	for attempt := 0; attempt < budget; attempt++ {
		remote, err := s.Registry.SelectRemote(local)
		if err != nil {
			s.Logger.Debug("no remote available", "conn", connID, "local", local.Display(), "error", err)
			return socketspec.Spec{}, nil, false
		}

		dialTimeout := tl.info.Options.Timeout
		if dialTimeout <= 0 {
			dialTimeout = 10 * time.Second
		}
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		remoteConn, dialErr := s.dial(dialCtx, local, remote, tl.info.Options.RemoteTLS)
		cancel()
		if dialErr == nil {
			return remote, remoteConn, true
		}

		s.onDialError(tl, local, remote, connID, dialErr)
	}
	s.Logger.Debug("exhausted cross-remote retry budget", "conn", connID, "local", local.Display(), "attempts", budget)
	return socketspec.Spec{}, nil, false
}

func (s *Server) onDialError(tl *tunnelListener, local, remote socketspec.Spec, connID string, dialErr error) {
	res, err := s.Registry.RemoteError(local, remote, true, dialErr)
	if err != nil {
		s.Logger.Debug("remote error after removal", "conn", connID, "local", local.Display(), "remote", remote.Display(), "error", err)
		return
	}
	if !res.MarkedDead {
		return
	}
	s.Logger.Warn("remote marked dead", "conn", connID, "local", local.Display(), "remote", remote.Display(), "cause", dialErr)
	interval := tl.info.Options.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	cancel := prober.Start(context.Background(), &s.Dialer, s.Registry, local, remote, interval)
	if err := s.Registry.AttachProbeCancel(local, remote, cancel); err != nil {
		cancel()
	}
}

func (s *Server) dial(ctx context.Context, local, remote socketspec.Spec, useTLS bool) (net.Conn, error) {
	if !useTLS || s.TLSConfig == nil {
		return s.Dialer.DialContext(ctx, "tcp", remote.Address())
	}
	cfg, err := s.TLSConfig(local)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return s.Dialer.DialContext(ctx, "tcp", remote.Address())
	}
	tlsDialer := &tls.Dialer{NetDialer: &s.Dialer, Config: cfg}
	return tlsDialer.DialContext(ctx, "tcp", remote.Address())
}
