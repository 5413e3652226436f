package axtree

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	markerFocused  = "*"
	markerAncestor = "→"
	markerNone     = " "
)

// ShouldInclude reports whether a node earns a full line in formatted
// output. Other nodes print only their role.
func ShouldInclude(n *SnapshotNode) bool {
	role := strings.ToLower(n.Role)
	name := strings.TrimSpace(n.Name)
	switch {
	case interactiveRoles[role], imageRoles[role]:
		return true
	case isStaticText(n.Role):
		return len(name) >= 2
	case isGeneric(n.Role):
		return len(name) >= 2 && !layoutTags[strings.ToLower(name)]
	}
	return len(name) > 1 || len(strings.TrimSpace(n.Value)) > 1 || len(strings.TrimSpace(n.Description)) > 1
}

// Format renders the tree as indented text, one line per node.
func Format(root *SnapshotNode) string {
	if root == nil {
		return ""
	}
	onPath := focusPath(root)

	var sb strings.Builder
	Walk(root, func(n *SnapshotNode, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		switch {
		case n.IsFocused():
			sb.WriteString(markerFocused)
		case onPath[n]:
			sb.WriteString(markerAncestor)
		default:
			sb.WriteString(markerNone)
		}
		if ShouldInclude(n) {
			sb.WriteString(strings.Join(attributes(n), " "))
		} else {
			sb.WriteString(n.Role)
		}
		sb.WriteByte('\n')
	})
	return sb.String()
}

// FormatNode renders the attribute line of a single node.
func FormatNode(n *SnapshotNode) string {
	return strings.Join(attributes(n), " ")
}

// focusPath marks every strict ancestor of a focused node.
func focusPath(root *SnapshotNode) map[*SnapshotNode]bool {
	path := make(map[*SnapshotNode]bool)
	var walk func(n *SnapshotNode) bool
	walk = func(n *SnapshotNode) bool {
		found := false
		for _, c := range n.Children {
			if walk(c) {
				found = true
			}
		}
		if found {
			path[n] = true
		}
		return found || n.IsFocused()
	}
	walk(root)
	return path
}

func attributes(n *SnapshotNode) []string {
	attrs := []string{"uid=" + n.ID, n.Role, strconv.Quote(n.Name)}
	if n.TagName != "" {
		attrs = append(attrs, "<"+strings.ToLower(n.TagName)+">")
	}

	if n.Value != "" {
		attrs = append(attrs, fmt.Sprintf("value=%q", n.Value))
	}
	if n.ValueText != "" {
		attrs = append(attrs, fmt.Sprintf("valuetext=%q", n.ValueText))
	}
	if n.ValueMin != nil {
		attrs = append(attrs, "valuemin="+strconv.FormatFloat(*n.ValueMin, 'f', -1, 64))
	}
	if n.ValueMax != nil {
		attrs = append(attrs, "valuemax="+strconv.FormatFloat(*n.ValueMax, 'f', -1, 64))
	}
	if n.Level > 0 {
		attrs = append(attrs, "level="+strconv.Itoa(n.Level))
	}
	if n.AutoComplete != "" && n.AutoComplete != "none" {
		attrs = append(attrs, fmt.Sprintf("autocomplete=%q", n.AutoComplete))
	}

	attrs = appendCapability(attrs, n.Disabled, "disableable", "disabled")
	attrs = appendCapability(attrs, n.Expanded, "expandable", "expanded")
	if n.Focusable || n.Focused != nil {
		attrs = append(attrs, "focusable")
	}
	if n.IsFocused() {
		attrs = append(attrs, "focused")
	}
	attrs = appendCapability(attrs, n.Selected, "selectable", "selected")
	if n.Modal {
		attrs = append(attrs, "modal")
	}
	if n.ReadOnly {
		attrs = append(attrs, "readonly")
	}
	if n.Required {
		attrs = append(attrs, "required")
	}
	attrs = appendTristate(attrs, "pressed", n.Pressed)
	attrs = appendTristate(attrs, "checked", n.Checked)
	return attrs
}

func appendCapability(attrs []string, v *bool, capability, state string) []string {
	if v == nil {
		return attrs
	}
	attrs = append(attrs, capability)
	if *v {
		attrs = append(attrs, state)
	}
	return attrs
}

// appendTristate prints name for "true" and name="value" for other truthy
// values such as "mixed".
func appendTristate(attrs []string, name, value string) []string {
	switch value {
	case "", "false":
		return attrs
	case "true":
		return append(attrs, name)
	}
	return append(attrs, fmt.Sprintf("%s=%q", name, value))
}
