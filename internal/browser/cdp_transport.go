package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// ChromeTransport talks to Chrome's remote debugging endpoint directly. Each
// attached tab holds its own chromedp connection bound to the existing
// target.
type ChromeTransport struct {
	cdpURL  string
	timeout time.Duration
	events  *EventBus
	logger  *slog.Logger

	mu   sync.Mutex
	tabs map[TabID]*chromeTab
}

type chromeTab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewChromeTransport creates a transport for the endpoint at cdpURL, e.g.
// http://127.0.0.1:9222. events may be nil.
func NewChromeTransport(cdpURL string, events *EventBus, logger *slog.Logger) *ChromeTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeTransport{
		cdpURL:  cdpURL,
		timeout: DefaultCommandTimeout,
		events:  events,
		logger:  logger.With("component", "chrome"),
		tabs:    make(map[TabID]*chromeTab),
	}
}

// Attach connects to the existing target tab.
func (t *ChromeTransport) Attach(ctx context.Context, tab TabID) error {
	t.mu.Lock()
	if _, ok := t.tabs[tab]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	wsURL, err := GetChromeWebSocketURL(t.cdpURL, t.timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(tab)))

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}

	chromedp.ListenTarget(tabCtx, func(ev any) { t.targetEvent(tab, ev) })
	chromedp.ListenBrowser(tabCtx, func(ev any) { t.browserEvent(tab, ev) })

	t.mu.Lock()
	t.tabs[tab] = &chromeTab{ctx: tabCtx, cancel: cancel, allocCancel: allocCancel}
	t.mu.Unlock()
	return nil
}

// targetEvent handles events from tab's own session.
func (t *ChromeTransport) targetEvent(tab TabID, ev any) {
	switch e := ev.(type) {
	case *inspector.EventDetached:
		t.drop(tab)
		t.emitLost(tab, string(e.Reason))
	case *inspector.EventTargetCrashed:
		t.drop(tab)
		t.emitLost(tab, "target crashed")
	}
}

// browserEvent handles browser-level events seen on tab's connection.
func (t *ChromeTransport) browserEvent(tab TabID, ev any) {
	if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == target.ID(tab) {
		t.drop(tab)
		if t.events != nil {
			t.events.TabClosed(tab)
		}
	}
}

func (t *ChromeTransport) emitLost(tab TabID, reason string) {
	if reason == "" {
		reason = "debugger detached"
	}
	if t.events != nil {
		t.events.SessionLost(tab, reason)
	}
}

// drop forgets tab without touching the connection; chromedp's own
// goroutines are finishing.
func (t *ChromeTransport) drop(tab TabID) {
	t.mu.Lock()
	ct := t.tabs[tab]
	delete(t.tabs, tab)
	t.mu.Unlock()
	if ct != nil {
		go func() {
			ct.cancel()
			ct.allocCancel()
		}()
	}
}

// Detach closes the connection for tab.
func (t *ChromeTransport) Detach(_ context.Context, tab TabID) error {
	t.mu.Lock()
	ct := t.tabs[tab]
	delete(t.tabs, tab)
	t.mu.Unlock()
	if ct == nil {
		return nil
	}
	ct.cancel()
	ct.allocCancel()
	return nil
}

func (t *ChromeTransport) executor(tab TabID) (cdp.Executor, error) {
	t.mu.Lock()
	ct := t.tabs[tab]
	t.mu.Unlock()
	if ct == nil {
		return nil, fmt.Errorf("tab %s is not attached", tab)
	}
	c := chromedp.FromContext(ct.ctx)
	if c == nil || c.Target == nil {
		return nil, fmt.Errorf("tab %s has no target", tab)
	}
	return c.Target, nil
}

// Execute runs method on tab's target.
func (t *ChromeTransport) Execute(ctx context.Context, tab TabID, method string, params, result any) error {
	exec, err := t.executor(tab)
	if err != nil {
		return err
	}
	return cdp.Execute(cdp.WithExecutor(ctx, exec), method, params, result)
}

// Tabs lists page targets from the /json/list endpoint.
func (t *ChromeTransport) Tabs(ctx context.Context) ([]TabInfo, error) {
	return ListTabs(ctx, t.cdpURL)
}

// ClearOverlays removes pagepilot overlay frames from an attached tab.
// Unattached tabs are left alone.
func (t *ChromeTransport) ClearOverlays(ctx context.Context, tab TabID) (int, error) {
	exec, err := t.executor(tab)
	if err != nil {
		return 0, nil
	}
	var res evalResult
	params := runtime.Evaluate(overlayCleanupExpression()).WithReturnByValue(true)
	if err := cdp.Execute(cdp.WithExecutor(ctx, exec), runtime.CommandEvaluate, params, &res); err != nil {
		return 0, err
	}
	var removed int
	if err := res.decode(&removed); err != nil {
		return 0, err
	}
	return removed, nil
}

// Close detaches every tab.
func (t *ChromeTransport) Close() {
	t.mu.Lock()
	tabs := t.tabs
	t.tabs = make(map[TabID]*chromeTab)
	t.mu.Unlock()
	for _, ct := range tabs {
		ct.cancel()
		ct.allocCancel()
	}
}
