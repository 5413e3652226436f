package axtree

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrEmpty is returned by Build when nothing survives filtering.
var ErrEmpty = errors.New("no interesting nodes survived filtering")

// interactiveRoles are always kept and act as control ancestors.
var interactiveRoles = map[string]bool{
	"button":     true,
	"link":       true,
	"textbox":    true,
	"combobox":   true,
	"checkbox":   true,
	"radio":      true,
	"menuitem":   true,
	"tab":        true,
	"slider":     true,
	"spinbutton": true,
	"searchbox":  true,
}

var imageRoles = map[string]bool{
	"image": true,
	"img":   true,
}

// layoutTags are names that only echo a bare layout element.
var layoutTags = map[string]bool{
	"div":     true,
	"span":    true,
	"p":       true,
	"section": true,
	"article": true,
	"main":    true,
	"nav":     true,
	"header":  true,
	"footer":  true,
	"aside":   true,
	"ul":      true,
	"ol":      true,
	"li":      true,
	"form":    true,
	"body":    true,
}

// IsInteractiveRole reports whether role is a control role.
func IsInteractiveRole(role string) bool {
	return interactiveRoles[strings.ToLower(role)]
}

func isGeneric(role string) bool {
	switch strings.ToLower(role) {
	case "generic", "none", "":
		return true
	}
	return false
}

func isStaticText(role string) bool {
	return strings.EqualFold(role, "StaticText")
}

func hasText(n *RawNode) bool {
	return len(strings.TrimSpace(n.Name)) > 1 ||
		len(strings.TrimSpace(n.Value)) > 1 ||
		len(strings.TrimSpace(n.Description)) > 1
}

// BuildOptions feeds DOM-side knowledge into Build.
type BuildOptions struct {
	// ExistingIDs maps raw node ids to the marker id already present on the
	// element, so ids stay stable across snapshots.
	ExistingIDs map[string]string
	// TagNames maps raw node ids to lower-case element tag names.
	TagNames map[string]string
	// NewID generates a fresh id. Defaults to NewID.
	NewID func() string
}

// NewID returns a short random snapshot id.
func NewID() string {
	return "e" + strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}

// Build filters and serializes tree into a snapshot root.
func Build(tree *RawTree, opts BuildOptions) (*SnapshotNode, error) {
	if tree.Len() == 0 {
		return nil, ErrEmpty
	}
	root := tree.Root()
	if root == nil {
		return nil, ErrEmpty
	}
	if opts.NewID == nil {
		opts.NewID = NewID
	}

	b := &builder{
		tree:        tree,
		root:        root,
		opts:        opts,
		interesting: make(map[string]bool),
		used:        make(map[string]bool),
		visited:     make(map[string]bool),
	}
	b.collect(root, false)
	b.visited = make(map[string]bool)
	b.postFilter(root)
	b.interesting[root.ID] = true

	b.visited = make(map[string]bool)
	out := b.serialize(root)
	if len(out) != 1 || len(out[0].Children) == 0 {
		return nil, ErrEmpty
	}
	return out[0], nil
}

type builder struct {
	tree        *RawTree
	root        *RawNode
	opts        BuildOptions
	interesting map[string]bool
	used        map[string]bool
	visited     map[string]bool
}

// collect is pass 1. Control nodes count as leaves for the
// beneath-a-control rule even when they have children.
func (b *builder) collect(n *RawNode, underControl bool) {
	if b.visited[n.ID] {
		return
	}
	b.visited[n.ID] = true

	children := b.tree.Children(n)
	control := IsInteractiveRole(n.Role)
	leaf := len(children) == 0 || control

	switch {
	case n == b.root:
		b.interesting[n.ID] = true
	case n.Ignored:
	case control:
		b.interesting[n.ID] = true
	case imageRoles[strings.ToLower(n.Role)]:
		b.interesting[n.ID] = true
	case isStaticText(n.Role):
		if len(strings.TrimSpace(n.Name)) >= 2 {
			b.interesting[n.ID] = true
		}
	case !isGeneric(n.Role) && hasText(n):
		b.interesting[n.ID] = true
	}
	if underControl && leaf && !n.Ignored {
		b.interesting[n.ID] = true
	}

	for _, c := range children {
		b.collect(c, underControl || control)
	}
}

// postFilter drops generic nodes that carry nothing useful. It returns
// whether n or any descendant is interesting after filtering.
func (b *builder) postFilter(n *RawNode) bool {
	if b.visited[n.ID] {
		return false
	}
	b.visited[n.ID] = true

	descendant := false
	for _, c := range b.tree.Children(n) {
		if b.postFilter(c) {
			descendant = true
		}
	}

	if b.interesting[n.ID] && strings.EqualFold(n.Role, "generic") {
		name := strings.TrimSpace(n.Name)
		if (!hasText(n) && !descendant) || len(name) < 2 || layoutTags[strings.ToLower(name)] {
			delete(b.interesting, n.ID)
		}
	}
	return descendant || b.interesting[n.ID]
}

// serialize is pass 2.
func (b *builder) serialize(n *RawNode) []*SnapshotNode {
	if b.visited[n.ID] {
		return nil
	}
	b.visited[n.ID] = true

	var children []*SnapshotNode
	for _, c := range b.tree.Children(n) {
		children = append(children, b.serialize(c)...)
	}

	if !b.interesting[n.ID] {
		switch len(children) {
		case 0:
			return nil
		case 1:
			return children
		default:
			return []*SnapshotNode{{
				ID:        b.idFor(n),
				Role:      n.Role,
				Name:      n.Name,
				TagName:   b.opts.TagNames[n.ID],
				FrameID:   n.FrameID,
				BackendID: n.BackendID,
				Container: true,
				Children:  children,
			}}
		}
	}

	node := &SnapshotNode{
		ID:          b.idFor(n),
		Role:        n.Role,
		Name:        n.Name,
		Value:       n.Value,
		Description: n.Description,
		TagName:     b.opts.TagNames[n.ID],
		FrameID:     n.FrameID,
		BackendID:   n.BackendID,
		Children:    children,
	}
	if strings.EqualFold(n.Role, "link") {
		node.Name = dedupeLinkName(node.Name)
	}
	applyProperties(node, n.Properties)
	return []*SnapshotNode{node}
}

func (b *builder) idFor(n *RawNode) string {
	if id := b.opts.ExistingIDs[n.ID]; id != "" && !b.used[id] {
		b.used[id] = true
		return id
	}
	for {
		id := b.opts.NewID()
		if !b.used[id] {
			b.used[id] = true
			return id
		}
	}
}

func applyProperties(node *SnapshotNode, props []Property) {
	for _, p := range props {
		switch strings.ToLower(p.Name) {
		case "focused":
			node.Focused = boolPtr(truthy(p.Value))
		case "focusable":
			node.Focusable = truthy(p.Value)
		case "disabled":
			node.Disabled = boolPtr(truthy(p.Value))
		case "expanded":
			node.Expanded = boolPtr(truthy(p.Value))
		case "selected":
			node.Selected = boolPtr(truthy(p.Value))
		case "checked":
			node.Checked = stringify(p.Value)
		case "pressed":
			node.Pressed = stringify(p.Value)
		case "level":
			if f, ok := number(p.Value); ok {
				node.Level = int(f)
			}
		case "valuemin":
			if f, ok := number(p.Value); ok {
				node.ValueMin = &f
			}
		case "valuemax":
			if f, ok := number(p.Value); ok {
				node.ValueMax = &f
			}
		case "valuetext":
			node.ValueText = stringify(p.Value)
		case "autocomplete":
			node.AutoComplete = stringify(p.Value)
		case "haspopup":
			node.HasPopup = stringify(p.Value)
		case "invalid":
			node.Invalid = stringify(p.Value)
		case "orientation":
			node.Orientation = stringify(p.Value)
		case "modal":
			node.Modal = truthy(p.Value)
		case "readonly":
			node.ReadOnly = truthy(p.Value)
		case "required":
			node.Required = truthy(p.Value)
		}
	}
}

// dedupeLinkName collapses a repeated leading phrase in link names that
// carry a URL: "Foo Foo https://x" becomes "Foo https://x".
func dedupeLinkName(name string) string {
	idx := strings.Index(name, "http://")
	if i := strings.Index(name, "https://"); i >= 0 && (idx < 0 || i < idx) {
		idx = i
	}
	if idx <= 0 {
		return name
	}

	words := strings.Fields(name[:idx])
	if len(words) < 2 || len(words)%2 != 0 {
		return name
	}
	half := len(words) / 2
	for i := 0; i < half; i++ {
		if words[i] != words[half+i] {
			return name
		}
	}
	return strings.Join(words[:half], " ") + " " + strings.TrimSpace(name[idx:])
}

func boolPtr(v bool) *bool { return &v }

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "mixed"
	case float64:
		return val != 0
	}
	return false
}

func number(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}
