// Package cli provides the command-line interface for plexy, built with
// Cobra around a NewRootCommand/RunE/subcommand-tree shape.
//
// Command tree:
//
//	plexy [--tunnel ...] [--bundle name]  → runs the proxy daemon in the
//	                                         foreground until interrupted
//	plexy dashboard --rpc <addr>          → live TUI dashboard, reads a
//	                                         running daemon's RPC surface
//	plexy diagnostics [--tunnel ...]      → preflight checks, no daemon
//	                                         needs to be running
//	plexy bundle list|show|create|delete  → manage named tunnel-spec sets
//	plexy tunnel open|close|status|list|
//	      add-remote|remove-remote        → one-shot control-protocol
//	                                         commands against a running
//	                                         daemon
//
// plexy's daemon holds all tunnel state in memory only: no on-disk
// persistence of tunnel definitions across restarts. So every subcommand
// other than the root and `diagnostics` talks to a *running* daemon
// process over the control or RPC surface instead of touching shared
// in-process state directly.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymesh/plexy/internal/appconfig"
	"github.com/relaymesh/plexy/internal/bundle"
	"github.com/relaymesh/plexy/internal/control"
	"github.com/relaymesh/plexy/internal/daemon"
	"github.com/relaymesh/plexy/internal/dashboard"
	"github.com/relaymesh/plexy/internal/diagnostics"
	"github.com/relaymesh/plexy/internal/metricsexport"
	"github.com/relaymesh/plexy/internal/rpcserver"
	"github.com/relaymesh/plexy/internal/tunnelspec"
)

// NewRootCommand builds plexy's top-level Cobra command. Running it with no
// subcommand starts the daemon; see the package doc for the full tree.
func NewRootCommand() *cobra.Command {
	var (
		tunnelFlags  []string
		bundleName   string
		controlAddr  string
		rpcAddr      string
		metricsAddr  string
		caBundlePath string
		logLevel     string
	)

	root := &cobra.Command{
		Use:   "plexy",
		Short: "Dynamic multi-tunnel TCP reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), runOptions{
				tunnelSpecs:  tunnelFlags,
				bundleName:   bundleName,
				controlAddr:  controlAddr,
				rpcAddr:      rpcAddr,
				metricsAddr:  metricsAddr,
				caBundlePath: caBundlePath,
				logLevel:     logLevel,
			})
		},
	}
	root.Flags().StringArrayVar(&tunnelFlags, "tunnel", nil, "tunnel definition local=remote(,remote)*[options] (repeatable)")
	root.Flags().StringVar(&bundleName, "bundle", "", "name of a saved tunnel bundle to open at startup")
	root.Flags().StringVar(&controlAddr, "control", "", "unix socket path for the control protocol (empty disables it)")
	root.Flags().StringVar(&rpcAddr, "rpc", "", "address to serve the JSON-RPC surface on (empty disables it)")
	root.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus metrics on (empty disables it)")
	root.Flags().StringVar(&caBundlePath, "ca-bundle", "", "PEM file of CA certificates trusted when dialing remote-tls remotes")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newDashboardCmd())
	root.AddCommand(newDiagnosticsCmd())
	root.AddCommand(newBundleCmd())
	root.AddCommand(newTunnelCmd())
	return root
}

type runOptions struct {
	tunnelSpecs  []string
	bundleName   string
	controlAddr  string
	rpcAddr      string
	metricsAddr  string
	caBundlePath string
	logLevel     string
}

// runDaemon loads configuration, resolves every tunnel the caller named
// (directly or via a bundle) against it, opens them, starts whichever
// ambient surfaces were requested, and blocks until interrupted. This
// mirrors original_source src/main.rs: set defaults once, spawn the
// conditional Prometheus/control/rpc surfaces, then block forever.
func runDaemon(ctx context.Context, opts runOptions) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.caBundlePath != "" {
		cfg.TLS.CABundlePath = opts.caBundlePath
	}
	if opts.controlAddr != "" {
		cfg.Control.SocketPath = opts.controlAddr
	}
	if opts.rpcAddr != "" {
		cfg.RPC.Address = opts.rpcAddr
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Address = opts.metricsAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	specTexts := append([]string{}, opts.tunnelSpecs...)
	if opts.bundleName != "" {
		def, err := bundle.Get(opts.bundleName)
		if err != nil {
			return err
		}
		specTexts = append(specTexts, def.Tunnels...)
	}
	if len(specTexts) == 0 {
		return fmt.Errorf("no tunnels configured: pass --tunnel or --bundle")
	}

	d := daemon.New(cfg, logger)
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, text := range specTexts {
		if err := d.OpenTunnel(runCtx, text); err != nil {
			return fmt.Errorf("open tunnel %q: %w", text, err)
		}
	}

	if cfg.Control.SocketPath != "" {
		if err := startControlSurface(runCtx, d, cfg.Control.SocketPath, logger); err != nil {
			return err
		}
	}
	if cfg.RPC.Address != "" {
		go serveHTTP(runCtx, cfg.RPC.Address, rpcserver.NewServer(d, logger).Handler(), logger, "rpc")
	}
	if cfg.Metrics.Address != "" {
		go serveHTTP(runCtx, cfg.Metrics.Address, metricsexport.Handler(d), logger, "metrics")
	}

	logger.Info("plexy running", "tunnels", len(specTexts))
	<-runCtx.Done()
	logger.Info("shutting down")
	if err := d.Shutdown(); err != nil {
		logger.Warn("errors while stopping tunnels", "error", err)
	}
	return nil
}

func startControlSurface(ctx context.Context, d *daemon.Daemon, socketPath string, logger *slog.Logger) error {
	os.Remove(socketPath)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket %s: %w", socketPath, err)
	}
	srv := control.NewServer(d.AsControlEngine(), logger)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			logger.Warn("control surface stopped", "error", err)
		}
	}()
	return nil
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, name string) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn(name+" surface stopped", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newDashboardCmd launches the read-only TUI dashboard against a running
// daemon's RPC surface.
func newDashboardCmd() *cobra.Command {
	var rpcAddr string
	var refreshSeconds int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live TUI view of a running daemon's tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := rpcserver.NewClient(rpcAddr)
			return dashboard.Run(client, time.Duration(refreshSeconds)*time.Second)
		},
	}
	cmd.Flags().StringVar(&rpcAddr, "rpc", "http://127.0.0.1:9000", "base URL of the daemon's JSON-RPC surface")
	cmd.Flags().IntVar(&refreshSeconds, "refresh", 1, "refresh interval in seconds")
	return cmd
}

// newDiagnosticsCmd runs preflight checks against a set of tunnel
// definitions without needing a daemon running.
func newDiagnosticsCmd() *cobra.Command {
	var tunnelFlags []string
	var bundleName string
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Run preflight checks against tunnel definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			texts := append([]string{}, tunnelFlags...)
			if bundleName != "" {
				def, err := bundle.Get(bundleName)
				if err != nil {
					return err
				}
				texts = append(texts, def.Tunnels...)
			}
			specs := make([]tunnelspec.Spec, 0, len(texts))
			for _, t := range texts {
				s, err := tunnelspec.Parse(t)
				if err != nil {
					return err
				}
				specs = append(specs, s)
			}
			report := diagnostics.Run(specs, cfg)
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			highest := diagnostics.SeverityLow
			for _, i := range report.Issues {
				fmt.Printf("[%s] %-24s %-28s %s\n", i.Severity, i.Check, i.Target, i.Message)
				if i.Severity == diagnostics.SeverityHigh {
					highest = diagnostics.SeverityHigh
				}
			}
			if highest == diagnostics.SeverityHigh {
				return fmt.Errorf("diagnostics found high-severity issues")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&tunnelFlags, "tunnel", nil, "tunnel definition to check (repeatable)")
	cmd.Flags().StringVar(&bundleName, "bundle", "", "bundle name to check")
	return cmd
}

// newBundleCmd manages named tunnel-spec bundles.
func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bundle", Short: "Manage saved tunnel bundles"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := bundle.LoadAll()
			if err != nil {
				return err
			}
			sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
			for _, d := range defs {
				fmt.Printf("%-20s %d tunnel(s)\n", d.Name, len(d.Tunnels))
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a bundle's tunnel definitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := bundle.Get(args[0])
			if err != nil {
				return err
			}
			for _, t := range def.Tunnels {
				fmt.Println(t)
			}
			return nil
		},
	}

	createCmd := &cobra.Command{
		Use:   "create <name> <tunnel...>",
		Short: "Create or replace a bundle",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bundle.Create(args[0], args[1:])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bundle.Delete(args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, createCmd, deleteCmd)
	return cmd
}

// newTunnelCmd sends one-shot control-protocol commands to a running
// daemon.
func newTunnelCmd() *cobra.Command {
	var controlAddr string
	cmd := &cobra.Command{Use: "tunnel", Short: "Manage tunnels on a running daemon"}

	dial := func() (*control.Client, error) {
		return control.Dial("unix", controlAddr, 5*time.Second)
	}

	openCmd := &cobra.Command{
		Use:   "open <spec>",
		Short: "Open a new tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Open(args[0])
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <local>",
		Short: "Close a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.CloseTunnel(args[0])
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [local]",
		Short: "Show tunnel status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			local := ""
			if len(args) == 1 {
				local = args[0]
			}
			body, err := c.Status(local)
			if err != nil {
				return err
			}
			fmt.Print(body)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every open tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			body, err := c.List()
			if err != nil {
				return err
			}
			fmt.Print(body)
			return nil
		},
	}

	addRemoteCmd := &cobra.Command{
		Use:   "add-remote <local> <remote>",
		Short: "Attach a remote to a running tunnel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.AddRemote(args[0], args[1])
		},
	}

	removeRemoteCmd := &cobra.Command{
		Use:   "remove-remote <local> <remote>",
		Short: "Detach a remote from a running tunnel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.RemoveRemote(args[0], args[1])
		},
	}

	cmd.PersistentFlags().StringVar(&controlAddr, "control", "", "unix socket path for the control protocol")
	cmd.AddCommand(openCmd, closeCmd, statusCmd, listCmd, addRemoteCmd, removeRemoteCmd)
	return cmd
}
