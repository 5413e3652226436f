package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neboloop/pagepilot/internal/axtree"
	"github.com/neboloop/pagepilot/internal/search"
)

// Engine ties a transport to the session registry, both snapshot strategies
// and the locators. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	config     *ResolvedConfig
	transport  Transport
	events     *EventBus
	channel    *CommandChannel
	registry   *SessionRegistry
	strategies *strategySet
	logger     *slog.Logger

	// Owned processes and servers, stopped by Close.
	chrome *RunningChrome
	relay  *ExtensionRelay
	closed bool
}

// EngineOptions configures NewEngine.
type EngineOptions struct {
	Config    *ResolvedConfig
	Transport Transport
	// Events should be the bus the transport reports to. A new one is
	// created when nil.
	Events *EventBus
	// NewID overrides snapshot id generation.
	NewID  func() string
	Logger *slog.Logger
}

// NewEngine wires an engine around an existing transport.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Config == nil {
		opts.Config = ResolveConfig(DefaultConfig())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(opts.Logger)
	}
	cfg := opts.Config

	channel := NewCommandChannel(opts.Transport,
		WithCommandTimeout(cfg.CommandTimeout),
		WithChannelLogger(opts.Logger),
	)
	registry := NewSessionRegistry(RegistryOptions{
		Transport:    opts.Transport,
		Channel:      channel,
		Events:       opts.Events,
		IdleTimeout:  cfg.IdleTimeout,
		OverlayPause: cfg.OverlayPause,
		Logger:       opts.Logger,
	})

	cdpSnaps := NewCDPSnapshotter(SnapshotterOptions{
		Registry:    registry,
		Concurrency: cfg.BatchConcurrency,
		NewID:       opts.NewID,
		Logger:      opts.Logger,
	})
	set := &strategySet{
		byMode: map[string]Strategy{
			ModeCDP: NewCDPStrategy(registry, cdpSnaps, LocatorOptions{
				ActionTimeout: cfg.ActionTimeout,
				Logger:        opts.Logger,
			}),
		},
		last:   make(map[TabID]string),
		logger: opts.Logger.With("component", "engine"),
	}

	client, hasClient := opts.Transport.(DOMSnapshotClient)
	runner, hasRunner := opts.Transport.(ScriptRunner)
	if hasClient && hasRunner {
		domSnaps := NewDOMSnapshotter(client, nil, opts.Logger)
		if opts.NewID != nil {
			domSnaps.newID = opts.NewID
		}
		set.byMode[ModeDOM] = NewDOMStrategy(domSnaps, runner, cfg.ActionTimeout)
	}

	return &Engine{
		config:     cfg,
		transport:  opts.Transport,
		events:     opts.Events,
		channel:    channel,
		registry:   registry,
		strategies: set,
		logger:     opts.Logger.With("component", "engine"),
	}
}

// Open builds an engine from cfg: a direct Chrome connection (launching
// Chrome when asked and nothing answers) or a started extension relay.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolved := ResolveConfig(cfg)
	events := NewEventBus(logger)

	switch resolved.Driver {
	case DriverExtension:
		relay, err := NewExtensionRelay(events, logger)
		if err != nil {
			return nil, err
		}
		if err := relay.Start(resolved.RelayAddr); err != nil {
			return nil, fmt.Errorf("start relay: %w", err)
		}
		e := NewEngine(EngineOptions{Config: resolved, Transport: relay, Events: events, Logger: logger})
		e.relay = relay
		return e, nil

	default:
		var running *RunningChrome
		if !IsChromeReachable(resolved.CDPUrl, time.Second) {
			if !resolved.Launch {
				return nil, fmt.Errorf("%w: nothing listening on %s", ErrAttachFailed, resolved.CDPUrl)
			}
			var err error
			running, err = LaunchChrome(ctx, resolved, logger)
			if err != nil {
				return nil, err
			}
		}
		transport := NewChromeTransport(resolved.CDPUrl, events, logger)
		transport.timeout = resolved.CommandTimeout
		e := NewEngine(EngineOptions{Config: resolved, Transport: transport, Events: events, Logger: logger})
		e.chrome = running
		return e, nil
	}
}

// Config returns the resolved config.
func (e *Engine) Config() *ResolvedConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Reload applies the timeouts and default mode of cfg to a running engine.
// Transport, driver and launch settings keep their original values.
func (e *Engine) Reload(cfg Config) {
	next := ResolveConfig(cfg)

	e.mu.Lock()
	updated := *e.config
	updated.Mode = next.Mode
	updated.CommandTimeout = next.CommandTimeout
	updated.IdleTimeout = next.IdleTimeout
	e.config = &updated
	e.mu.Unlock()

	e.channel.SetTimeout(next.CommandTimeout)
	e.registry.SetIdleTimeout(next.IdleTimeout)
	e.logger.Info("config reloaded",
		"mode", next.Mode,
		"commandTimeout", next.CommandTimeout,
		"idleTimeout", next.IdleTimeout)
}

// Registry returns the session registry.
func (e *Engine) Registry() *SessionRegistry {
	return e.registry
}

// Events returns the bus transports report session signals on.
func (e *Engine) Events() *EventBus {
	return e.events
}

// Relay returns the extension relay when the engine runs over one.
func (e *Engine) Relay() *ExtensionRelay {
	return e.relay
}

// Modes lists the snapshot modes this engine's transport supports.
func (e *Engine) Modes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	modes := make([]string, 0, len(e.strategies.byMode))
	for _, m := range []string{ModeCDP, ModeDOM} {
		if _, ok := e.strategies.byMode[m]; ok {
			modes = append(modes, m)
		}
	}
	return modes
}

// Strategy returns the strategy for mode, or the configured mode when mode
// is empty, and records it as the tab's current one.
func (e *Engine) Strategy(tab TabID, mode string) (Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("engine is closed")
	}
	if mode == "" {
		mode = e.config.Mode
	}
	st, err := e.strategies.get(mode)
	if err != nil {
		return nil, err
	}
	e.strategies.use(tab, mode)
	return st, nil
}

// Snapshot captures a fresh snapshot of tab.
func (e *Engine) Snapshot(ctx context.Context, tab TabID, mode string) (*axtree.Snapshot, error) {
	st, err := e.Strategy(tab, mode)
	if err != nil {
		return nil, err
	}
	return st.CreateSnapshot(ctx, tab)
}

// Cached returns tab's last snapshot in mode without touching the page.
func (e *Engine) Cached(tab TabID, mode string) (*axtree.Snapshot, error) {
	st, err := e.Strategy(tab, mode)
	if err != nil {
		return nil, err
	}
	snap, ok := st.Cache().Get(tab)
	if !ok {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// Restore puts a previously captured snapshot back in its strategy's
// cache, so ids from an earlier process resolve again.
func (e *Engine) Restore(snap *axtree.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.Index == nil {
		if err := snap.Reindex(); err != nil {
			return err
		}
	}
	tab := TabID(snap.TabID)
	st, err := e.Strategy(tab, snap.Mode)
	if err != nil {
		return err
	}
	st.Cache().Put(tab, snap)
	return nil
}

// Element binds id from tab's cached snapshot to an actionable element.
func (e *Engine) Element(ctx context.Context, tab TabID, id, mode string) (Element, error) {
	st, err := e.Strategy(tab, mode)
	if err != nil {
		return nil, err
	}
	return st.ResolveElement(ctx, tab, id)
}

// Search runs query over tab's cached snapshot text.
func (e *Engine) Search(tab TabID, mode, query string, opts search.Options) (search.Result, error) {
	snap, err := e.Cached(tab, mode)
	if err != nil {
		return search.Result{}, err
	}
	return search.Search(snap.Text(), query, opts), nil
}

// Tabs lists the browser's page tabs.
func (e *Engine) Tabs(ctx context.Context) ([]TabInfo, error) {
	lister, ok := e.transport.(TabLister)
	if !ok {
		return nil, errors.New("transport cannot list tabs")
	}
	return lister.Tabs(ctx)
}

// Close detaches every session and stops whatever the engine started.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.registry.Close(ctx)
	for _, st := range e.strategies.byMode {
		st.Cache().ClearAll()
	}

	var errs []error
	if ct, ok := e.transport.(*ChromeTransport); ok {
		ct.Close()
	}
	if e.relay != nil {
		if err := e.relay.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.chrome != nil {
		if err := StopChrome(e.chrome, 5*time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	e.events.Close()
	return errors.Join(errs...)
}
