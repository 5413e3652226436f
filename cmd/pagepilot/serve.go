package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/config"
	"github.com/neboloop/pagepilot/internal/mcp"
	"github.com/neboloop/pagepilot/internal/store"
)

// watchConfig applies config file edits to a running engine.
func watchConfig(ctx context.Context, rt *app) {
	if configPath == "" {
		return
	}
	err := config.Watch(ctx, configPath, func(c config.Config) {
		rt.engine.Reload(c.Browser)
	})
	if err != nil {
		rt.logger.Warn("config watch disabled", "path", configPath, "error", err)
	}
}

// startPruner schedules removal of old snapshots for a long-lived command.
// It returns nil when there is no store or retention is off.
func startPruner(rt *app, cfg config.StoreConfig) *store.Pruner {
	if rt.store == nil || cfg.Retention <= 0 {
		return nil
	}
	p, err := store.NewPruner(rt.store, cfg.PruneSchedule, cfg.Retention, rt.logger)
	if err != nil {
		rt.logger.Warn("snapshot pruning disabled", "error", err)
		return nil
	}
	p.Start()
	return p
}

// RelayCmd runs the extension relay in the foreground.
func RelayCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the browser extension relay",
		Long: `Start the relay the pagepilot browser extension connects to. The relay serves
/extension (the extension's socket), /extension/status and /json/list until interrupted.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			AppConfig.Browser.Driver = browser.DriverExtension
			if addr != "" {
				AppConfig.Browser.RelayAddr = addr
			}

			ctx, cancel := signalContext()
			defer cancel()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			watchConfig(ctx, rt)
			if p := startPruner(rt, AppConfig.Store); p != nil {
				defer p.Stop()
			}

			relay := rt.engine.Relay()
			fmt.Printf("Relay listening on http://%s\n", relay.Addr())
			fmt.Printf("Auth token for non-local callers (%s): %s\n", browser.RelayAuthHeader, relay.AuthToken())
			<-ctx.Done()
			fmt.Println("\nShutting down...")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// MCPCmd serves the browser tools over MCP.
func MCPCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve browser tools over MCP",
		Long: `Serve the browser tools (browser_snapshot, browser_search, browser_click, browser_fill,
browser_hover, browser_value, browser_highlight, browser_tabs) to an MCP client. Uses stdio
unless --addr is given, in which case streamable HTTP is served at /mcp.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = AppConfig.MCP.Addr
			}
			ctx, cancel := signalContext()
			defer cancel()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			watchConfig(ctx, rt)
			if p := startPruner(rt, AppConfig.Store); p != nil {
				defer p.Stop()
			}

			opts := mcp.Options{Name: AppConfig.MCP.Name, Logger: rt.logger}
			if rt.store != nil {
				opts.Store = rt.store
			}
			server := mcp.NewServer(rt.engine, opts)

			if addr == "" {
				// stdout carries the protocol; keep logs on stderr only.
				return mcp.ServeStdio(ctx, server)
			}
			return serveHTTP(ctx, addr, mcp.NewHandler(server, rt.logger))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	fmt.Fprintf(os.Stderr, "MCP listening on http://%s/mcp\n", listener.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
