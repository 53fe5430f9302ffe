package control

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// Engine is the subset of *daemon.Daemon the control server needs. Kept
// narrow and local so this package does not depend on the daemon package
// (which would create an import cycle once daemon starts the control
// server), and so tests can supply a fake.
type Engine interface {
	OpenTunnel(ctx context.Context, specText string) error
	CloseTunnel(localText string) error
	Status(localText string) (map[string]TunnelStatus, error)
	ListTunnels() []string
	AddRemote(localText, remoteText string) error
	RemoveRemote(localText, remoteText string) error
}

// TunnelStatus is the minimal view the control protocol renders for
// STATUS; daemon.Daemon's richer tunnelstate.TunnelStats satisfies it via
// Daemon.AsControlEngine in internal/daemon.
type TunnelStatus interface {
	ControlSummary() string
}

// Server accepts line-protocol control connections, grounded on
// original_source src/controller.rs's control_loop/run_controller.
type Server struct {
	Engine Engine
	Logger *slog.Logger
}

// NewServer builds a control server around an Engine.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Engine: engine, Logger: logger}
}

// Serve accepts connections on ln until it is closed or ctx is done,
// handling each one synchronously in its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		cmd, err := ParseCommand(line)
		if err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			continue
		}
		if s.dispatch(ctx, conn, cmd) {
			return
		}
	}
}

// dispatch executes one command, writing its response to conn, and reports
// whether the connection should now close (EXIT, or a fatal write error).
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd Command) bool {
	switch cmd.Verb {
	case "EXIT":
		fmt.Fprintln(conn, "OK bye")
		return true
	case "HELP":
		fmt.Fprintln(conn, helpText)
	case "OPEN":
		if err := s.Engine.OpenTunnel(ctx, cmd.Arg); err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		fmt.Fprintln(conn, "OK")
	case "CLOSE":
		if err := s.Engine.CloseTunnel(cmd.Arg); err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		fmt.Fprintln(conn, "OK")
	case "STATUS":
		status, err := s.Engine.Status(cmd.Arg)
		if err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		fmt.Fprintln(conn, "OK "+strconv.Itoa(len(status))+" tunnel(s)")
		for local, st := range status {
			fmt.Fprintf(conn, "%s %s\n", local, st.ControlSummary())
		}
		fmt.Fprintln(conn, "END")
	case "LIST":
		locals := s.Engine.ListTunnels()
		fmt.Fprintln(conn, "OK "+strconv.Itoa(len(locals))+" tunnel(s)")
		for _, local := range locals {
			fmt.Fprintln(conn, local)
		}
		fmt.Fprintln(conn, "END")
	case "ADD_REMOTE":
		local, remote, err := splitTwo(cmd.Arg)
		if err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		if err := s.Engine.AddRemote(local, remote); err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		fmt.Fprintln(conn, "OK")
	case "REMOVE_REMOTE":
		local, remote, err := splitTwo(cmd.Arg)
		if err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		if err := s.Engine.RemoveRemote(local, remote); err != nil {
			fmt.Fprintf(conn, "ERROR %s\n", err)
			break
		}
		fmt.Fprintln(conn, "OK")
	}
	return false
}

// splitTwo splits an ADD_REMOTE/REMOVE_REMOTE argument into its local and
// remote socket fields, which are separated by a single run of whitespace.
func splitTwo(arg string) (first, second string, err error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("expected \"<local> <remote>\", got %q", arg)
	}
	return fields[0], fields[1], nil
}
