package browser

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// FrameResolver maps iframes to the frames they host and merges child frame
// accessibility trees into the main tree.
type FrameResolver struct {
	channel     *CommandChannel
	concurrency int
	logger      *slog.Logger
}

// NewFrameResolver creates a resolver issuing commands through channel.
func NewFrameResolver(channel *CommandChannel, concurrency int, logger *slog.Logger) *FrameResolver {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameResolver{
		channel:     channel,
		concurrency: concurrency,
		logger:      logger.With("component", "frames"),
	}
}

// FrameMap is the frame tree of a tab flattened into lookups.
type FrameMap struct {
	MainFrame string
	// Parents maps a frame id to its parent frame id.
	Parents map[string]string
	// Owners maps a frame id to the backend id of its iframe element.
	Owners map[string]int64
}

// ByOwner inverts Owners.
func (m *FrameMap) ByOwner() map[int64]string {
	out := make(map[int64]string, len(m.Owners))
	for frameID, backendID := range m.Owners {
		out[backendID] = frameID
	}
	return out
}

// Ancestors returns the chain of frames from frameID (inclusive) up to but
// excluding the main frame.
func (m *FrameMap) Ancestors(frameID string) []string {
	var chain []string
	seen := make(map[string]bool)
	for id := frameID; id != "" && id != m.MainFrame && !seen[id]; id = m.Parents[id] {
		seen[id] = true
		chain = append(chain, id)
	}
	return chain
}

// Frames fetches the frame tree of tab and resolves the owner element of
// every child frame. Frames whose owner cannot be resolved are left out.
func (f *FrameResolver) Frames(ctx context.Context, tab TabID) (*FrameMap, error) {
	p := pageSession{ch: f.channel, tab: tab}
	root, err := p.frameTree(ctx)
	if err != nil {
		return nil, err
	}

	m := &FrameMap{
		MainFrame: root.Frame.ID,
		Parents:   make(map[string]string),
		Owners:    make(map[string]int64),
	}
	frames := root.frames()
	for _, fr := range frames {
		if fr.ParentID != "" {
			m.Parents[fr.ID] = fr.ParentID
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, fr := range frames {
		if fr.ID == m.MainFrame {
			continue
		}
		g.Go(func() error {
			backendID, err := p.frameOwner(gctx, fr.ID)
			if err != nil || backendID == 0 {
				f.logger.Debug("frame owner not found", "tab", tab, "frame", fr.ID, "error", err)
				return nil
			}
			mu.Lock()
			m.Owners[fr.ID] = backendID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, ctx.Err()
}

// MergeIframes grafts every reachable iframe's accessibility tree into tree.
// A page without iframes returns tree unchanged. A frame whose tree cannot
// be fetched is skipped.
func (f *FrameResolver) MergeIframes(ctx context.Context, tab TabID, tree *axtree.RawTree) (*axtree.RawTree, error) {
	m, err := f.Frames(ctx, tab)
	if err != nil {
		f.logger.Debug("frame tree unavailable", "tab", tab, "error", err)
		return tree, nil
	}
	if len(m.Owners) == 0 {
		return tree, nil
	}

	p := pageSession{ch: f.channel, tab: tab}
	fetch := func(ctx context.Context, frameID string) ([]axtree.RawNode, error) {
		sub, err := p.axTree(ctx, frameID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Debug("frame tree fetch failed", "tab", tab, "frame", frameID, "error", err)
			return nil, nil
		}
		return sub.RawNodes(), nil
	}
	return axtree.MergeFrames(ctx, tree, m.ByOwner(), fetch)
}
