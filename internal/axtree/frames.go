package axtree

import (
	"context"
	"strings"
)

// NamespaceID prefixes a node id with its frame id.
func NamespaceID(frameID, id string) string {
	return frameID + ":" + id
}

// NamespaceSubtree rewrites every id in nodes as frameID:originalID, along
// with parent and child references. Nodes without a frame id inherit
// frameID. The input is not modified.
func NamespaceSubtree(frameID string, nodes []RawNode) []RawNode {
	out := make([]RawNode, len(nodes))
	for i, n := range nodes {
		n.ID = NamespaceID(frameID, n.ID)
		if n.ParentID != "" {
			n.ParentID = NamespaceID(frameID, n.ParentID)
		}
		if len(n.ChildIDs) > 0 {
			ids := make([]string, len(n.ChildIDs))
			for j, c := range n.ChildIDs {
				ids[j] = NamespaceID(frameID, c)
			}
			n.ChildIDs = ids
		}
		if n.FrameID == "" {
			n.FrameID = frameID
		}
		out[i] = n
	}
	return out
}

// FrameFetcher returns the raw accessibility nodes of one frame. Returning
// no nodes and a nil error skips the frame.
type FrameFetcher func(ctx context.Context, frameID string) ([]RawNode, error)

// MergeFrames grafts the accessibility tree of every iframe found in tree
// under its owning iframe node, recursing into nested frames. owners maps
// the backend id of an iframe element to the id of the frame it hosts.
// A tree without iframes is returned as is.
func MergeFrames(ctx context.Context, tree *RawTree, owners map[int64]string, fetch FrameFetcher) (*RawTree, error) {
	root := tree.Root()
	if root == nil || len(owners) == 0 {
		return tree, nil
	}

	processed := make(map[string]bool)
	stack := []string{root.ID}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := tree.Node(id)
		if n == nil {
			continue
		}
		if strings.EqualFold(n.Role, "Iframe") && n.BackendID != 0 {
			if frameID, ok := owners[n.BackendID]; ok && !processed[frameID] {
				processed[frameID] = true
				sub, err := fetch(ctx, frameID)
				if err != nil {
					return nil, err
				}
				if len(sub) > 0 {
					merged, err := tree.Graft(id, NamespaceSubtree(frameID, sub))
					if err != nil {
						return nil, err
					}
					tree = merged
					n = tree.Node(id)
				}
			}
		}

		for i := len(n.ChildIDs) - 1; i >= 0; i-- {
			stack = append(stack, n.ChildIDs[i])
		}
	}
	return tree, nil
}
