package axtree

import (
	"fmt"
	"strconv"
)

// CDPValue is a lenient version of the protocol AXValue type. Plain strings
// are used instead of enum types so unknown values from newer browsers
// decode without error.
type CDPValue struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// CDPProperty is a lenient version of the protocol AXProperty type.
type CDPProperty struct {
	Name  string    `json:"name"`
	Value *CDPValue `json:"value"`
}

// CDPNode is a lenient version of the protocol AXNode type.
type CDPNode struct {
	NodeID           string         `json:"nodeId"`
	Ignored          bool           `json:"ignored"`
	Role             *CDPValue      `json:"role,omitempty"`
	Name             *CDPValue      `json:"name,omitempty"`
	Description      *CDPValue      `json:"description,omitempty"`
	Value            *CDPValue      `json:"value,omitempty"`
	Properties       []*CDPProperty `json:"properties,omitempty"`
	ParentID         string         `json:"parentId,omitempty"`
	ChildIDs         []string       `json:"childIds,omitempty"`
	BackendDOMNodeID int64          `json:"backendDOMNodeId,omitempty"`
	FrameID          string         `json:"frameId,omitempty"`
}

// CDPTree is the result of Accessibility.getFullAXTree.
type CDPTree struct {
	Nodes []CDPNode `json:"nodes"`
}

// RawNodes converts the protocol nodes into RawNodes.
func (t CDPTree) RawNodes() []RawNode {
	out := make([]RawNode, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		rn := RawNode{
			ID:          n.NodeID,
			Role:        valueString(n.Role),
			Name:        valueString(n.Name),
			Value:       valueString(n.Value),
			Description: valueString(n.Description),
			ParentID:    n.ParentID,
			BackendID:   n.BackendDOMNodeID,
			FrameID:     n.FrameID,
			Ignored:     n.Ignored,
		}
		if len(n.ChildIDs) > 0 {
			rn.ChildIDs = append([]string(nil), n.ChildIDs...)
		}
		for _, p := range n.Properties {
			if p == nil || p.Value == nil {
				continue
			}
			rn.Properties = append(rn.Properties, Property{Name: p.Name, Value: p.Value.Value})
		}
		out = append(out, rn)
	}
	return out
}

// Tree converts the protocol nodes into an indexed RawTree.
func (t CDPTree) Tree() *RawTree {
	return NewRawTree(t.RawNodes())
}

func valueString(v *CDPValue) string {
	if v == nil || v.Value == nil {
		return ""
	}
	return stringify(v.Value)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
