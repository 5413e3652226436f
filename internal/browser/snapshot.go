package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// SnapshotOptions configures snapshot text rendering.
type SnapshotOptions struct {
	MaxChars int // Max characters in snapshot text (0 = unlimited)
}

// RenderSnapshot formats snap as text, truncated to opts.MaxChars.
func RenderSnapshot(snap *axtree.Snapshot, opts SnapshotOptions) string {
	return maybeTruncate(snap.Text(), opts.MaxChars)
}

func maybeTruncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "\n... (truncated)"
}

// CDPSnapshotter builds snapshots from the browser's accessibility tree.
type CDPSnapshotter struct {
	registry    *SessionRegistry
	frames      *FrameResolver
	cache       *SnapshotCache
	concurrency int
	newID       func() string
	logger      *slog.Logger
}

// SnapshotterOptions configures a CDPSnapshotter.
type SnapshotterOptions struct {
	Registry    *SessionRegistry
	Cache       *SnapshotCache
	Concurrency int
	// NewID overrides snapshot id generation.
	NewID  func() string
	Logger *slog.Logger
}

// NewCDPSnapshotter creates a snapshotter.
func NewCDPSnapshotter(opts SnapshotterOptions) *CDPSnapshotter {
	if opts.Cache == nil {
		opts.Cache = NewSnapshotCache()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBatchConcurrency
	}
	if opts.NewID == nil {
		opts.NewID = axtree.NewID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CDPSnapshotter{
		registry:    opts.Registry,
		frames:      NewFrameResolver(opts.Registry.Channel(), opts.Concurrency, opts.Logger),
		cache:       opts.Cache,
		concurrency: opts.Concurrency,
		newID:       opts.NewID,
		logger:      opts.Logger.With("component", "snapshot"),
	}
}

// Cache returns the snapshotter's cache.
func (s *CDPSnapshotter) Cache() *SnapshotCache {
	return s.cache
}

// CreateSnapshot captures and caches a fresh snapshot of tab.
func (s *CDPSnapshotter) CreateSnapshot(ctx context.Context, tab TabID) (*axtree.Snapshot, error) {
	start := time.Now()
	if !s.registry.Attach(ctx, tab) {
		return nil, fmt.Errorf("snapshot %s: %w", tab, ErrAttachFailed)
	}

	page := pageSession{ch: s.registry.Channel(), tab: tab}
	if err := page.enable(ctx); err != nil {
		return nil, fmt.Errorf("snapshot %s: enable domains: %w", tab, err)
	}

	raw, err := page.axTree(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", tab, err)
	}
	if len(raw.Nodes) == 0 {
		return nil, fmt.Errorf("snapshot %s: %w", tab, ErrNoAccessibilityNodes)
	}

	tree, err := s.frames.MergeIframes(ctx, tab, raw.Tree())
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: merge iframes: %w", tab, err)
	}

	batch := markerBatch{page: page, limit: s.concurrency, logger: s.logger}
	current, err := batch.read(ctx, backendIDs(tree))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: read markers: %w", tab, err)
	}

	opts := buildOptions(tree, current)
	opts.NewID = s.newID
	root, err := axtree.Build(tree, opts)
	if err != nil {
		if errors.Is(err, axtree.ErrEmpty) {
			return nil, fmt.Errorf("snapshot %s: %w", tab, ErrConversionFailed)
		}
		return nil, fmt.Errorf("snapshot %s: %w", tab, err)
	}

	snap, err := axtree.NewSnapshot(string(tab), root)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w: %v", tab, ErrConversionFailed, err)
	}
	snap.Mode = axtree.ModeCDP

	var meta struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := page.evaluate(ctx, `({url: location.href, title: document.title})`, &meta); err == nil {
		snap.URL, snap.Title = meta.URL, meta.Title
	}

	written, err := batch.inject(ctx, wantedMarkers(root), current)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: write markers: %w", tab, err)
	}

	s.cache.Put(tab, snap)
	s.logger.Debug("snapshot created",
		"tab", tab,
		"raw_nodes", tree.Len(),
		"nodes", len(snap.Index),
		"markers_written", written,
		"elapsed_ms", time.Since(start).Milliseconds())
	return snap, nil
}

// GetNode returns node id from the cached snapshot of tab.
func (s *CDPSnapshotter) GetNode(tab TabID, id string) (*axtree.SnapshotNode, error) {
	return nodeFromCache(s.cache, tab, id)
}

func nodeFromCache(cache *SnapshotCache, tab TabID, id string) (*axtree.SnapshotNode, error) {
	snap, ok := cache.Get(tab)
	if !ok {
		return nil, ErrNoSnapshot
	}
	n, ok := snap.Node(id)
	if !ok {
		return nil, &ElementError{ID: id, Err: ErrElementNotFound}
	}
	return n, nil
}
