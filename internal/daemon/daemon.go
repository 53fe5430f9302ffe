// Package daemon composes the registry and proxy server into the single
// engine every user-facing surface (control, JSON-RPC, metrics, dashboard,
// CLI) drives, grounded on original_source src/lib.rs (create_tunnel,
// start_tunnel, stop_tunnel, TunnelHandler) which performs the same
// consolidation for the Rust binary's main.rs.
package daemon

import (
	"context"
	"crypto/tls"
	"log/slog"

	"github.com/relaymesh/plexy/internal/appconfig"
	"github.com/relaymesh/plexy/internal/control"
	"github.com/relaymesh/plexy/internal/proxyserver"
	"github.com/relaymesh/plexy/internal/socketspec"
	"github.com/relaymesh/plexy/internal/tlsclient"
	"github.com/relaymesh/plexy/internal/tunnelspec"
	"github.com/relaymesh/plexy/internal/tunnelstate"
)

// Daemon is the running instance of plexy: a registry of tunnel state and
// the listener server that serves it.
type Daemon struct {
	Registry *tunnelstate.Registry
	Server   *proxyserver.Server
	Config   appconfig.Config
	Logger   *slog.Logger
}

// New builds a Daemon from configuration, wiring the proxy server's
// outbound TLS dialer from cfg.TLS.CABundlePath. The returned Daemon has no
// tunnels open yet; call OpenTunnel for each one.
func New(cfg appconfig.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	reg := tunnelstate.NewRegistry()
	srv := proxyserver.NewServer(reg, logger)
	srv.TLSConfig = func(socketspec.Spec) (*tls.Config, error) {
		return tlsclient.New(cfg.TLS.CABundlePath, "")
	}
	return &Daemon{Registry: reg, Server: srv, Config: cfg, Logger: logger}
}

// optionsFromSpec resolves a parsed tunnel spec's options against the
// daemon's configured defaults, the same fallback chain original_source
// src/config.rs applies when a tunnel definition omits a field.
func (d *Daemon) optionsFromSpec(spec tunnelspec.Spec) (tunnelstate.TunnelOptions, error) {
	defaultStrategy, err := d.Config.Strategy()
	if err != nil {
		return tunnelstate.TunnelOptions{}, err
	}
	opts := tunnelstate.TunnelOptions{
		Strategy:      defaultStrategy,
		Retries:       d.Config.Defaults.Retries,
		Errors:        d.Config.Defaults.Errors,
		Timeout:       d.Config.Timeout(),
		CheckInterval: d.Config.CheckInterval(),
		RemoteTLS:     false,
	}
	if spec.HasStrategy {
		opts.Strategy = spec.Strategy
	}
	if spec.HasRetries {
		opts.Retries = spec.Retries
	}
	if spec.HasErrors {
		opts.Errors = spec.Errors
	}
	if spec.HasTimeout {
		opts.Timeout = spec.Timeout
	}
	if spec.HasCheck {
		opts.CheckInterval = spec.CheckInterval
	}
	if spec.HasRemoteTLS {
		opts.RemoteTLS = spec.RemoteTLS
	}
	return opts, nil
}

// OpenTunnel parses specText and starts serving it, applying the daemon's
// configured defaults for any option the spec text omits.
func (d *Daemon) OpenTunnel(ctx context.Context, specText string) error {
	spec, err := tunnelspec.Parse(specText)
	if err != nil {
		return err
	}
	opts, err := d.optionsFromSpec(spec)
	if err != nil {
		return err
	}
	return d.Server.StartTunnel(ctx, spec, opts)
}

// CloseTunnel parses localText as a socket spec and stops the tunnel
// listening there.
func (d *Daemon) CloseTunnel(localText string) error {
	local, err := socketspec.Parse(localText)
	if err != nil {
		return err
	}
	return d.Server.StopTunnel(local)
}

// ListTunnels returns the display address of every currently open tunnel.
func (d *Daemon) ListTunnels() []string {
	locals := d.Registry.ListTunnels()
	out := make([]string, 0, len(locals))
	for _, local := range locals {
		out = append(out, local.Display())
	}
	return out
}

// AddRemote parses localText/remoteText and attaches the remote to an
// already-open tunnel, using the tunnel's own errors_till_dead budget and
// the daemon's configured dead-check interval since a bare ADD_REMOTE call
// carries no per-remote options of its own.
func (d *Daemon) AddRemote(localText, remoteText string) error {
	local, err := socketspec.Parse(localText)
	if err != nil {
		return err
	}
	remote, err := socketspec.Parse(remoteText)
	if err != nil {
		return err
	}
	tunnel, err := d.Registry.Tunnel(local)
	if err != nil {
		return err
	}
	opts := tunnelstate.RemoteOptions{
		Retries:       tunnel.Options.Errors,
		CheckInterval: d.Config.CheckInterval(),
		UseTLS:        tunnel.Options.RemoteTLS,
	}
	return d.Registry.AddRemote(local, remote, opts)
}

// RemoveRemote parses localText/remoteText and detaches the remote from its
// tunnel, cancelling any in-flight dead-remote prober for it.
func (d *Daemon) RemoveRemote(localText, remoteText string) error {
	local, err := socketspec.Parse(localText)
	if err != nil {
		return err
	}
	remote, err := socketspec.Parse(remoteText)
	if err != nil {
		return err
	}
	return d.Registry.RemoveRemote(local, remote)
}

// Status returns the stats for a single tunnel when localText is non-empty,
// or every tunnel when it is empty.
func (d *Daemon) Status(localText string) (map[string]tunnelstate.TunnelStats, error) {
	if localText == "" {
		return d.Registry.AllStats(), nil
	}
	local, err := socketspec.Parse(localText)
	if err != nil {
		return nil, err
	}
	stats, err := d.Registry.Stats(local)
	if err != nil {
		return nil, err
	}
	return map[string]tunnelstate.TunnelStats{local.Display(): stats}, nil
}

// Shutdown stops every open tunnel, used when the process is asked to
// exit so in-flight connections unwind before main returns.
func (d *Daemon) Shutdown() error {
	return d.Server.StopAll()
}

// NumberOfTunnels reports how many tunnels are currently registered, the
// value the JSON-RPC numberOfTunnels method exposes.
func (d *Daemon) NumberOfTunnels() int {
	return d.Registry.NumberOfTunnels()
}

// Remotes returns the live and dead remote addresses for local, the value
// the JSON-RPC remotes method exposes.
func (d *Daemon) Remotes(localText string) ([]string, []string, error) {
	local, err := socketspec.Parse(localText)
	if err != nil {
		return nil, nil, err
	}
	stats, err := d.Registry.Stats(local)
	if err != nil {
		return nil, nil, err
	}
	live := make([]string, 0, len(stats.Remotes))
	for _, r := range stats.Remotes {
		live = append(live, r.Address)
	}
	dead := make([]string, 0, len(stats.DeadRemotes))
	for _, r := range stats.DeadRemotes {
		dead = append(dead, r.Address)
	}
	return live, dead, nil
}

// AsControlEngine adapts the Daemon to control.Engine. It exists as an
// adapter rather than having Daemon implement control.Engine directly
// because control.Engine's Status signature returns the narrow
// control.TunnelStatus view, while Status above returns the richer
// tunnelstate.TunnelStats the RPC and dashboard surfaces need.
func (d *Daemon) AsControlEngine() control.Engine {
	return controlEngine{d}
}

type controlEngine struct{ d *Daemon }

func (c controlEngine) OpenTunnel(ctx context.Context, specText string) error {
	return c.d.OpenTunnel(ctx, specText)
}

func (c controlEngine) CloseTunnel(localText string) error {
	return c.d.CloseTunnel(localText)
}

func (c controlEngine) Status(localText string) (map[string]control.TunnelStatus, error) {
	stats, err := c.d.Status(localText)
	if err != nil {
		return nil, err
	}
	out := make(map[string]control.TunnelStatus, len(stats))
	for local, st := range stats {
		out[local] = st
	}
	return out, nil
}

func (c controlEngine) ListTunnels() []string { return c.d.ListTunnels() }

func (c controlEngine) AddRemote(localText, remoteText string) error {
	return c.d.AddRemote(localText, remoteText)
}

func (c controlEngine) RemoveRemote(localText, remoteText string) error {
	return c.d.RemoveRemote(localText, remoteText)
}
