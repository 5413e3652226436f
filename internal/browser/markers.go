package browser

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/neboloop/pagepilot/internal/axtree"
)

type markerInfo struct {
	ID      string `json:"id"`
	Tag     string `json:"tag"`
	Element bool   `json:"element"`
}

// markerBatch reads and writes the DOM id marker on many nodes with a
// bounded number of concurrent protocol calls. Individual failures are
// logged and skipped.
type markerBatch struct {
	page   pageSession
	limit  int
	logger *slog.Logger
}

// read returns the current marker and tag name of every backend node.
func (m markerBatch) read(ctx context.Context, backendIDs []int64) (map[int64]markerInfo, error) {
	out := make(map[int64]markerInfo, len(backendIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for _, id := range backendIDs {
		g.Go(func() error {
			var info markerInfo
			if err := m.page.callOn(gctx, id, scriptReadMarker, &info, MarkerAttribute); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Debug("marker read failed", "backend", id, "error", err)
				return nil
			}
			mu.Lock()
			out[id] = info
			mu.Unlock()
			return nil
		})
	}
	return out, g.Wait()
}

// inject writes want[backendID] onto every element whose current marker
// differs and returns the number of nodes written. Nodes read as
// non-elements are skipped.
func (m markerBatch) inject(ctx context.Context, want map[int64]string, current map[int64]markerInfo) (int, error) {
	var mu sync.Mutex
	written := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for backendID, id := range want {
		cur, known := current[backendID]
		if known && (!cur.Element || cur.ID == id) {
			continue
		}
		g.Go(func() error {
			var ok bool
			if err := m.page.callOn(gctx, backendID, scriptWriteMarker, &ok, MarkerAttribute, id); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Debug("marker write failed", "backend", backendID, "error", err)
				return nil
			}
			if ok {
				mu.Lock()
				written++
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return written, err
}

// backendIDs lists the distinct non-zero backend ids in tree.
func backendIDs(tree *axtree.RawTree) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, n := range tree.Nodes {
		if n.BackendID == 0 || n.Ignored || seen[n.BackendID] {
			continue
		}
		seen[n.BackendID] = true
		ids = append(ids, n.BackendID)
	}
	return ids
}

// buildOptions maps marker info keyed by backend id onto raw node ids.
func buildOptions(tree *axtree.RawTree, info map[int64]markerInfo) axtree.BuildOptions {
	opts := axtree.BuildOptions{
		ExistingIDs: make(map[string]string),
		TagNames:    make(map[string]string),
	}
	for _, n := range tree.Nodes {
		mi, ok := info[n.BackendID]
		if !ok || !mi.Element {
			continue
		}
		if mi.ID != "" {
			opts.ExistingIDs[n.ID] = mi.ID
		}
		if mi.Tag != "" {
			opts.TagNames[n.ID] = mi.Tag
		}
	}
	return opts
}

// wantedMarkers collects the id each backend node should carry.
func wantedMarkers(root *axtree.SnapshotNode) map[int64]string {
	want := make(map[int64]string)
	axtree.Walk(root, func(n *axtree.SnapshotNode, _ int) {
		if n.BackendID != 0 {
			if _, dup := want[n.BackendID]; !dup {
				want[n.BackendID] = n.ID
			}
		}
	})
	return want
}
