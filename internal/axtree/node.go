// Package axtree holds the accessibility tree model and the pure
// transformations that turn a raw protocol tree into a filtered snapshot.
package axtree

import (
	"fmt"
	"strings"
)

// Property is one raw accessibility property (focused, disabled, level, ...).
// Value is whatever the protocol sent: bool, float64, or string.
type Property struct {
	Name  string
	Value any
}

// RawNode is a node of the accessibility tree as reported by the browser.
type RawNode struct {
	ID          string
	Role        string
	Name        string
	Value       string
	Description string
	ParentID    string
	ChildIDs    []string
	BackendID   int64
	FrameID     string
	Ignored     bool
	Properties  []Property
}

// Prop returns the named property value.
func (n *RawNode) Prop(name string) (any, bool) {
	for _, p := range n.Properties {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return nil, false
}

// RawTree is an arena of raw nodes addressed by id. A RawTree is never
// mutated after construction; grafting returns a new tree.
type RawTree struct {
	Nodes []RawNode
	index map[string]int
}

// NewRawTree indexes nodes. When a node lists no children, the child list is
// derived from the ParentID links of the other nodes, preserving input order.
func NewRawTree(nodes []RawNode) *RawTree {
	t := &RawTree{
		Nodes: nodes,
		index: make(map[string]int, len(nodes)),
	}
	for i := range nodes {
		t.index[nodes[i].ID] = i
	}

	derived := make(map[string][]string)
	for i := range nodes {
		if p := nodes[i].ParentID; p != "" {
			derived[p] = append(derived[p], nodes[i].ID)
		}
	}
	for i := range nodes {
		if len(nodes[i].ChildIDs) == 0 && len(derived[nodes[i].ID]) > 0 {
			nodes[i].ChildIDs = derived[nodes[i].ID]
		}
	}
	return t
}

// Len returns the number of nodes in the tree.
func (t *RawTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Nodes)
}

// Node returns the node with the given id, or nil.
func (t *RawTree) Node(id string) *RawNode {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	return &t.Nodes[i]
}

// Root returns the first node without a resolvable parent.
func (t *RawTree) Root() *RawNode {
	for i := range t.Nodes {
		p := t.Nodes[i].ParentID
		if p == "" {
			return &t.Nodes[i]
		}
		if _, ok := t.index[p]; !ok {
			return &t.Nodes[i]
		}
	}
	return nil
}

// Children returns the resolvable children of n in order.
func (t *RawTree) Children(n *RawNode) []*RawNode {
	out := make([]*RawNode, 0, len(n.ChildIDs))
	for _, id := range n.ChildIDs {
		if c := t.Node(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Graft returns a new tree with sub appended and the root of sub attached as
// the last child of parentID. The receiver is left untouched.
func (t *RawTree) Graft(parentID string, sub []RawNode) (*RawTree, error) {
	if t.Node(parentID) == nil {
		return nil, fmt.Errorf("graft: parent %q not in tree", parentID)
	}
	if len(sub) == 0 {
		return t, nil
	}

	inSub := make(map[string]bool, len(sub))
	for _, n := range sub {
		if _, clash := t.index[n.ID]; clash {
			return nil, fmt.Errorf("graft: node id %q already present", n.ID)
		}
		inSub[n.ID] = true
	}

	rootIdx := -1
	for i, n := range sub {
		if n.ParentID == "" || !inSub[n.ParentID] {
			rootIdx = i
			break
		}
	}
	if rootIdx < 0 {
		return nil, fmt.Errorf("graft: subtree has no root")
	}

	nodes := make([]RawNode, 0, len(t.Nodes)+len(sub))
	nodes = append(nodes, t.Nodes...)
	for i, n := range sub {
		if i == rootIdx {
			n.ParentID = parentID
		}
		nodes = append(nodes, n)
	}

	pi := t.index[parentID]
	children := make([]string, 0, len(nodes[pi].ChildIDs)+1)
	children = append(children, nodes[pi].ChildIDs...)
	nodes[pi].ChildIDs = append(children, sub[rootIdx].ID)

	return NewRawTree(nodes), nil
}
