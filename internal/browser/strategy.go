package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// Strategy is one way of snapshotting a tab and acting on its elements.
type Strategy interface {
	Mode() string
	CreateSnapshot(ctx context.Context, tab TabID) (*axtree.Snapshot, error)
	GetNode(tab TabID, id string) (*axtree.SnapshotNode, error)
	ResolveElement(ctx context.Context, tab TabID, id string) (Element, error)
	Cache() *SnapshotCache
}

// CDPStrategy snapshots through the accessibility tree and acts through
// synthetic input.
type CDPStrategy struct {
	snapshots *CDPSnapshotter
	registry  *SessionRegistry
	locator   LocatorOptions
}

// NewCDPStrategy creates the debugging-protocol strategy.
func NewCDPStrategy(registry *SessionRegistry, snapshots *CDPSnapshotter, locator LocatorOptions) *CDPStrategy {
	return &CDPStrategy{snapshots: snapshots, registry: registry, locator: locator}
}

func (s *CDPStrategy) Mode() string { return ModeCDP }

func (s *CDPStrategy) Cache() *SnapshotCache { return s.snapshots.Cache() }

func (s *CDPStrategy) CreateSnapshot(ctx context.Context, tab TabID) (*axtree.Snapshot, error) {
	return s.snapshots.CreateSnapshot(ctx, tab)
}

func (s *CDPStrategy) GetNode(tab TabID, id string) (*axtree.SnapshotNode, error) {
	return s.snapshots.GetNode(tab, id)
}

// ResolveElement binds id from the tab's cached snapshot to a Locator.
func (s *CDPStrategy) ResolveElement(_ context.Context, tab TabID, id string) (Element, error) {
	node, err := s.GetNode(tab, id)
	if err != nil {
		return nil, err
	}
	return NewLocator(s.registry, tab, node, s.locator), nil
}

// DOMStrategy snapshots through the content script and acts through page
// scripts.
type DOMStrategy struct {
	snapshots     *DOMSnapshotter
	runner        ScriptRunner
	actionTimeout time.Duration
}

// NewDOMStrategy creates the DOM-only strategy.
func NewDOMStrategy(snapshots *DOMSnapshotter, runner ScriptRunner, actionTimeout time.Duration) *DOMStrategy {
	return &DOMStrategy{snapshots: snapshots, runner: runner, actionTimeout: actionTimeout}
}

func (s *DOMStrategy) Mode() string { return ModeDOM }

func (s *DOMStrategy) Cache() *SnapshotCache { return s.snapshots.Cache() }

func (s *DOMStrategy) CreateSnapshot(ctx context.Context, tab TabID) (*axtree.Snapshot, error) {
	return s.snapshots.CreateSnapshot(ctx, tab)
}

func (s *DOMStrategy) GetNode(tab TabID, id string) (*axtree.SnapshotNode, error) {
	return s.snapshots.GetNode(tab, id)
}

// ResolveElement binds id from the tab's cached snapshot to a DOMLocator.
func (s *DOMStrategy) ResolveElement(_ context.Context, tab TabID, id string) (Element, error) {
	node, err := s.GetNode(tab, id)
	if err != nil {
		return nil, err
	}
	return NewDOMLocator(s.runner, tab, node, s.actionTimeout), nil
}

// strategySet holds both strategies and remembers which one each tab last
// used. Switching a tab drops its snapshot from the other strategy's cache.
type strategySet struct {
	byMode map[string]Strategy
	last   map[TabID]string
	logger *slog.Logger
}

func (s *strategySet) get(mode string) (Strategy, error) {
	st, ok := s.byMode[mode]
	if !ok {
		return nil, fmt.Errorf("snapshot mode %q is not available", mode)
	}
	return st, nil
}

// use records that tab is driven by mode and clears stale entries held by
// the other strategies. The caller holds the engine lock.
func (s *strategySet) use(tab TabID, mode string) {
	if prev, ok := s.last[tab]; ok && prev == mode {
		return
	}
	for m, st := range s.byMode {
		if m == mode {
			continue
		}
		if _, ok := st.Cache().Get(tab); ok {
			st.Cache().Clear(tab)
			s.logger.Debug("cleared snapshot from other strategy", "tab", tab, "mode", m)
		}
	}
	s.last[tab] = mode
}
