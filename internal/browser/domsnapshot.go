package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// MessageCollectDOMSnapshot is the content-script request type.
const MessageCollectDOMSnapshot = "collect-dom-snapshot"

// DOMSnapshotOptions is passed to the content script.
type DOMSnapshotOptions struct {
	MarkerAttribute string `json:"markerAttribute"`
	IncludeHidden   bool   `json:"includeHidden,omitempty"`
	MaxDepth        int    `json:"maxDepth,omitempty"`
}

// DOMSnapshotRequest is the envelope sent to the content script.
type DOMSnapshotRequest struct {
	Type    string             `json:"type"`
	Options DOMSnapshotOptions `json:"options"`
}

// DOMSnapshotResponse is the content script's reply.
type DOMSnapshotResponse struct {
	Success bool                   `json:"success"`
	Data    *SerializedDomSnapshot `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// SerializedDomSnapshot is a snapshot collected inside the page.
type SerializedDomSnapshot struct {
	Root      *SerializedDomNode `json:"root"`
	Title     string             `json:"title"`
	URL       string             `json:"url"`
	Timestamp int64              `json:"timestamp"` // unix millis
}

// SerializedDomNode mirrors axtree.SnapshotNode. Checked and Pressed may be
// booleans or "mixed".
type SerializedDomNode struct {
	ID          string               `json:"id"`
	Role        string               `json:"role"`
	Name        string               `json:"name"`
	Children    []*SerializedDomNode `json:"children,omitempty"`
	TagName     string               `json:"tagName,omitempty"`
	Value       string               `json:"value,omitempty"`
	Description string               `json:"description,omitempty"`
	Focused     *bool                `json:"focused,omitempty"`
	Focusable   bool                 `json:"focusable,omitempty"`
	Disabled    *bool                `json:"disabled,omitempty"`
	Expanded    *bool                `json:"expanded,omitempty"`
	Selected    *bool                `json:"selected,omitempty"`
	Checked     any                  `json:"checked,omitempty"`
	Pressed     any                  `json:"pressed,omitempty"`
	Level       int                  `json:"level,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	ReadOnly    bool                 `json:"readonly,omitempty"`
	Modal       bool                 `json:"modal,omitempty"`
}

// ConvertDOMSnapshot turns a content-script snapshot into an indexed
// snapshot. Nodes without an id get a fresh one.
func ConvertDOMSnapshot(tab TabID, data *SerializedDomSnapshot, newID func() string) (*axtree.Snapshot, error) {
	if data == nil || data.Root == nil {
		return nil, ErrNoAccessibilityNodes
	}
	if newID == nil {
		newID = axtree.NewID
	}
	root := convertDOMNode(data.Root, newID, 0)
	if len(root.Children) == 0 {
		return nil, ErrConversionFailed
	}
	snap, err := axtree.NewSnapshot(string(tab), root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	snap.Mode = axtree.ModeDOM
	snap.URL = data.URL
	snap.Title = data.Title
	if data.Timestamp > 0 {
		snap.CreatedAt = time.UnixMilli(data.Timestamp)
	}
	return snap, nil
}

// maxDOMDepth bounds recursion on malformed input.
const maxDOMDepth = 512

func convertDOMNode(in *SerializedDomNode, newID func() string, depth int) *axtree.SnapshotNode {
	id := in.ID
	if id == "" {
		id = newID()
	}
	n := &axtree.SnapshotNode{
		ID:          id,
		Role:        in.Role,
		Name:        in.Name,
		TagName:     in.TagName,
		Value:       in.Value,
		Description: in.Description,
		Focused:     in.Focused,
		Focusable:   in.Focusable,
		Disabled:    in.Disabled,
		Expanded:    in.Expanded,
		Selected:    in.Selected,
		Checked:     tristate(in.Checked),
		Pressed:     tristate(in.Pressed),
		Level:       in.Level,
		Required:    in.Required,
		ReadOnly:    in.ReadOnly,
		Modal:       in.Modal,
	}
	if depth >= maxDOMDepth {
		return n
	}
	for _, c := range in.Children {
		if c != nil {
			n.Children = append(n.Children, convertDOMNode(c, newID, depth+1))
		}
	}
	return n
}

func tristate(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// DOMSnapshotter builds snapshots through the content script, without a
// debugging session.
type DOMSnapshotter struct {
	client DOMSnapshotClient
	cache  *SnapshotCache
	newID  func() string
	logger *slog.Logger
}

// NewDOMSnapshotter creates a snapshotter over client.
func NewDOMSnapshotter(client DOMSnapshotClient, cache *SnapshotCache, logger *slog.Logger) *DOMSnapshotter {
	if cache == nil {
		cache = NewSnapshotCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DOMSnapshotter{
		client: client,
		cache:  cache,
		newID:  axtree.NewID,
		logger: logger.With("component", "dom-snapshot"),
	}
}

// Cache returns the snapshotter's cache.
func (s *DOMSnapshotter) Cache() *SnapshotCache {
	return s.cache
}

// CreateSnapshot collects and caches a fresh snapshot of tab.
func (s *DOMSnapshotter) CreateSnapshot(ctx context.Context, tab TabID) (*axtree.Snapshot, error) {
	resp, err := s.client.CollectDOMSnapshot(ctx, tab, DOMSnapshotOptions{MarkerAttribute: MarkerAttribute})
	if err != nil {
		return nil, fmt.Errorf("dom snapshot %s: %w", tab, err)
	}
	if resp == nil || !resp.Success {
		msg := "no response"
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		return nil, fmt.Errorf("dom snapshot %s: %s", tab, msg)
	}
	snap, err := ConvertDOMSnapshot(tab, resp.Data, s.newID)
	if err != nil {
		return nil, fmt.Errorf("dom snapshot %s: %w", tab, err)
	}
	s.cache.Put(tab, snap)
	s.logger.Debug("snapshot created", "tab", tab, "nodes", len(snap.Index))
	return snap, nil
}

// GetNode returns node id from the cached snapshot of tab.
func (s *DOMSnapshotter) GetNode(tab TabID, id string) (*axtree.SnapshotNode, error) {
	return nodeFromCache(s.cache, tab, id)
}
