package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neboloop/pagepilot/internal/axtree"
	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/logging"
	"github.com/neboloop/pagepilot/internal/store"
)

// extensionWait is how long one-shot commands wait for the extension to
// connect to a freshly started relay.
const extensionWait = 10 * time.Second

// app is the engine plus the optional snapshot store for one command.
type app struct {
	engine *browser.Engine
	store  *store.Store
	logger *slog.Logger
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func openRuntime(ctx context.Context) (*app, error) {
	logger := logging.Component("cli")
	engine, err := browser.Open(ctx, AppConfig.Browser, slog.Default())
	if err != nil {
		return nil, browser.WrapError(err, "connect")
	}
	rt := &app{engine: engine, logger: logger}

	if path := AppConfig.Store.Path; path != "" {
		st, err := store.Open(path)
		if err != nil {
			logger.Warn("snapshot store unavailable", "path", path, "error", err)
		} else {
			rt.store = st
		}
	}
	return rt, nil
}

// waitForExtension blocks until the relay has an extension or the wait
// runs out. It is a no-op for direct connections.
func (rt *app) waitForExtension(ctx context.Context) error {
	relay := rt.engine.Relay()
	if relay == nil {
		return nil
	}
	deadline := time.NewTimer(extensionWait)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for !relay.ExtensionConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return browser.WrapError(browser.ErrExtensionNotConnected, "connect")
		case <-tick.C:
		}
	}
	return nil
}

func (rt *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.engine.Close(ctx); err != nil {
		rt.logger.Debug("engine close", "error", err)
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

// tab returns --tab, or the first page tab when it is empty.
func (rt *app) tab(ctx context.Context) (browser.TabID, error) {
	if tabID != "" {
		return browser.TabID(tabID), nil
	}
	tabs, err := rt.engine.Tabs(ctx)
	if err != nil {
		return "", browser.WrapError(err, "list tabs")
	}
	for _, t := range tabs {
		if t.Type == "" || t.Type == "page" {
			return t.ID, nil
		}
	}
	return "", errors.New("no page tabs found; open a tab or pass --tab")
}

// save persists snap for later invocations.
func (rt *app) save(ctx context.Context, snap *axtree.Snapshot) {
	if rt.store == nil {
		return
	}
	if err := rt.store.Save(ctx, snap); err != nil {
		rt.logger.Warn("snapshot not saved", "tab", snap.TabID, "error", err)
	}
}

// restore loads tab's stored snapshot into the engine so its ids resolve,
// and returns the snapshot's mode.
func (rt *app) restore(ctx context.Context, tab browser.TabID) (string, error) {
	if rt.store == nil {
		return "", fmt.Errorf("%w: the snapshot store is disabled", browser.ErrNoSnapshot)
	}
	snap, err := rt.store.Load(ctx, string(tab), mode)
	if errors.Is(err, store.ErrNotFound) {
		return "", browser.WrapError(fmt.Errorf("%w %s", browser.ErrNoSnapshot, tab), "restore")
	}
	if err != nil {
		return "", err
	}
	if err := rt.engine.Restore(snap); err != nil {
		return "", err
	}
	return snap.Mode, nil
}

// withRuntime opens a runtime, resolves the tab and runs fn.
func withRuntime(fn func(ctx context.Context, rt *app, tab browser.TabID) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.waitForExtension(ctx); err != nil {
		return err
	}
	tab, err := rt.tab(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, rt, tab)
}
