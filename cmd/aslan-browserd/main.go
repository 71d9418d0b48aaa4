// aslan-browserd bootstraps the browser-automation server: it resolves
// configuration, builds the process logger, stands up the chromedp
// allocator all tabs share, wires the tab/session registry, the learn
// recorder, and the method router, and serves the Unix-socket JSON-RPC
// transport until interrupted (spec.md §2 "Dependency order", §6.1).
//
// Grounded on ajsharma-browser_tail/cmd/browser_tail/main.go for the
// cobra-root-plus-signal-handling shape, generalized from a one-shot CDP
// capture tool to a long-running multi-tab server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/config"
	"github.com/brennhill/aslan-browser/internal/jsonrpc"
	"github.com/brennhill/aslan-browser/internal/learn"
	"github.com/brennhill/aslan-browser/internal/logging"
	"github.com/brennhill/aslan-browser/internal/redaction"
	"github.com/brennhill/aslan-browser/internal/registry"
	"github.com/brennhill/aslan-browser/internal/router"
	"github.com/brennhill/aslan-browser/internal/transport"
	"github.com/brennhill/aslan-browser/internal/webview"
)

// version is injected at build time via -ldflags; empty in dev builds.
var version = ""

var (
	flagConfigFile string
	flagSocketPath string
	flagLogLevel   string
	flagHidden     bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "aslan-browserd",
		Short:         "Local browser-automation server (JSON-RPC over a Unix socket)",
		Version:       versionString(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServe,
	}
	cmd.Flags().StringVar(&flagConfigFile, "config", "", "path to config.yaml (default ~/.aslan-browser/config.yaml)")
	cmd.Flags().StringVar(&flagSocketPath, "socket", "", "Unix socket path (overrides config)")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	cmd.Flags().BoolVar(&flagHidden, "hidden", false, "park tab0's window off-screen at startup (spec §5 window hierarchy)")

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return nil
		},
	}
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Flags are the last cascade tier (SPEC_FULL.md §1).
	if flagSocketPath != "" {
		cfg.SocketPath = flagSocketPath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	allocatorCtx, allocatorCancel, err := newAllocator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start chromedp allocator: %w", err)
	}
	defer allocatorCancel()

	newDriver := func(ctx context.Context) (webview.Driver, error) {
		return webview.NewChromeDriver(allocatorCtx, logger)
	}

	// The server needs a Dispatcher at construction, but the router needs the
	// registry (for Notifier wiring) first; dispatchHandle breaks the cycle
	// by deferring the router's binding until just after both exist.
	dispatchHandle := &lazyDispatcher{}
	srv := transport.NewServer(cfg.SocketPath, dispatchHandle, logger)
	reg := registry.New(newDriver, srv, logger)

	redactor := redaction.NewRedactionEngine("")
	recorder := learn.NewManager(reg, redactor, logger)
	reg.SetRecorder(recorder)

	rtr := router.New(reg, recorder, cfg.NavigationTimeoutMs, logger)
	dispatchHandle.bind(rtr)

	// spec.md §3 invariant 2: "one default tab at process start".
	tab0, err := reg.CreateTab(ctx, "")
	if err != nil {
		return fmt.Errorf("create default tab: %w", err)
	}
	logger.Info("default tab created", zap.String("tabId", tab0), zap.Bool("hidden", flagHidden))

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}
	logger.Info("aslan-browserd listening", zap.String("socket", cfg.SocketPath), zap.String("version", versionString()))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Warn("transport stopped", zap.Error(err))
		}
	}

	if err := srv.Shutdown(); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// lazyDispatcher satisfies transport.Dispatcher immediately while the real
// *router.Router is still under construction (it needs the registry, which
// needs the transport server as its Notifier). bind must be called exactly
// once before the server starts accepting connections.
type lazyDispatcher struct {
	target transport.Dispatcher
}

func (l *lazyDispatcher) bind(target transport.Dispatcher) { l.target = target }

func (l *lazyDispatcher) Dispatch(ctx context.Context, req jsonrpc.Request, clientID string) (any, error) {
	return l.target.Dispatch(ctx, req, clientID)
}

func (l *lazyDispatcher) OnDisconnect(clientID string) { l.target.OnDisconnect(clientID) }

// newAllocator builds the shared chromedp allocator context every tab's
// driver spawns a browser context under (spec §4.2 "spin up a Tab façade"
// per tab.create; all tabs share one browser process). chrome_remote_addr
// opts into attaching to an already-running Chrome instead of launching one,
// grounded on ajsharma-browser_tail's internal/cdp.Manager remote-vs-launch
// split.
func newAllocator(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc, error) {
	if cfg.ChromeRemoteAddr != "" {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cfg.ChromeRemoteAddr)
		return allocCtx, allocCancel, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(cfg.DefaultWidth, cfg.DefaultHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	return allocCtx, allocCancel, nil
}
