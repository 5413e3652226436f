package axtree

import (
	"fmt"
	"time"
)

// Snapshot modes.
const (
	ModeCDP = "cdp"
	ModeDOM = "dom"
)

// SnapshotNode is one node of a filtered snapshot.
type SnapshotNode struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Name        string          `json:"name,omitempty"`
	Children    []*SnapshotNode `json:"children,omitempty"`
	Value       string          `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	TagName     string          `json:"tagName,omitempty"`
	FrameID     string          `json:"frameId,omitempty"`
	BackendID   int64           `json:"backendNodeId,omitempty"`

	// Container marks nodes synthesized to keep a branch point that the
	// filter would otherwise have dropped.
	Container bool `json:"container,omitempty"`

	Focused      *bool    `json:"focused,omitempty"`
	Focusable    bool     `json:"focusable,omitempty"`
	Disabled     *bool    `json:"disabled,omitempty"`
	Expanded     *bool    `json:"expanded,omitempty"`
	Selected     *bool    `json:"selected,omitempty"`
	Checked      string   `json:"checked,omitempty"`
	Pressed      string   `json:"pressed,omitempty"`
	Level        int      `json:"level,omitempty"`
	ValueMin     *float64 `json:"valuemin,omitempty"`
	ValueMax     *float64 `json:"valuemax,omitempty"`
	ValueText    string   `json:"valuetext,omitempty"`
	AutoComplete string   `json:"autocomplete,omitempty"`
	HasPopup     string   `json:"haspopup,omitempty"`
	Invalid      string   `json:"invalid,omitempty"`
	Orientation  string   `json:"orientation,omitempty"`
	Modal        bool     `json:"modal,omitempty"`
	ReadOnly     bool     `json:"readonly,omitempty"`
	Required     bool     `json:"required,omitempty"`
}

// IsFocused reports whether the node holds focus.
func (n *SnapshotNode) IsFocused() bool {
	return n.Focused != nil && *n.Focused
}

// Snapshot is a filtered tree plus a flat id index.
type Snapshot struct {
	TabID     string                   `json:"tabId"`
	Mode      string                   `json:"mode"`
	URL       string                   `json:"url,omitempty"`
	Title     string                   `json:"title,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
	Root      *SnapshotNode            `json:"root"`
	Index     map[string]*SnapshotNode `json:"-"`
}

// NewSnapshot indexes root. It fails if an id appears twice or a node is
// reachable along two paths.
func NewSnapshot(tabID string, root *SnapshotNode) (*Snapshot, error) {
	if root == nil {
		return nil, fmt.Errorf("snapshot has no root")
	}
	s := &Snapshot{
		TabID:     tabID,
		Mode:      ModeCDP,
		CreatedAt: time.Now(),
		Root:      root,
	}
	if err := s.Reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reindex rebuilds Index from Root.
func (s *Snapshot) Reindex() error {
	index := make(map[string]*SnapshotNode)
	var walk func(n *SnapshotNode) error
	walk = func(n *SnapshotNode) error {
		if n.ID == "" {
			return fmt.Errorf("node with role %q has no id", n.Role)
		}
		if _, dup := index[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		index[n.ID] = n
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(s.Root); err != nil {
		return err
	}
	s.Index = index
	return nil
}

// Validate checks that every indexed id is reachable from the root exactly
// once and that nothing reachable is missing from the index.
func (s *Snapshot) Validate() error {
	seen := make(map[string]int, len(s.Index))
	var walk func(n *SnapshotNode)
	walk = func(n *SnapshotNode) {
		seen[n.ID]++
		if seen[n.ID] > 1 {
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(s.Root)

	for id, count := range seen {
		if count != 1 {
			return fmt.Errorf("node %q reachable %d times", id, count)
		}
		if s.Index[id] == nil {
			return fmt.Errorf("node %q reachable but not indexed", id)
		}
	}
	for id, n := range s.Index {
		if seen[id] == 0 {
			return fmt.Errorf("indexed node %q is orphaned", id)
		}
		if n.ID != id {
			return fmt.Errorf("index key %q points at node %q", id, n.ID)
		}
	}
	return nil
}

// Node looks up a node by id.
func (s *Snapshot) Node(id string) (*SnapshotNode, bool) {
	n, ok := s.Index[id]
	return n, ok
}

// Text returns the formatted snapshot.
func (s *Snapshot) Text() string {
	return Format(s.Root)
}

// Walk visits every node depth-first, parents before children.
func Walk(n *SnapshotNode, fn func(n *SnapshotNode, depth int)) {
	var walk func(n *SnapshotNode, depth int)
	walk = func(n *SnapshotNode, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	if n != nil {
		walk(n, 0)
	}
}
