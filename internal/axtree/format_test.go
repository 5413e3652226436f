package axtree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMarkersAndRoleOnlyLines(t *testing.T) {
	focused := true
	input := &SnapshotNode{ID: "e3", Role: "textbox", Name: "Email", TagName: "INPUT", Focused: &focused, Value: "a@b.c"}
	root := &SnapshotNode{
		ID: "e1", Role: "RootWebArea", Name: "Login",
		Children: []*SnapshotNode{
			{ID: "e2", Role: "generic", Container: true, Children: []*SnapshotNode{
				input,
				{ID: "e4", Role: "button", Name: "Sign in", TagName: "button"},
			}},
			{ID: "e5", Role: "StaticText", Name: "Forgot password?"},
		},
	}

	lines := strings.Split(strings.TrimRight(Format(root), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, `→uid=e1 RootWebArea "Login"`, lines[0])
	assert.Equal(t, "  →generic", lines[1])
	assert.Equal(t, `    *uid=e3 textbox "Email" <input> value="a@b.c" focusable focused`, lines[2])
	assert.Equal(t, `     uid=e4 button "Sign in" <button>`, lines[3])
	assert.Equal(t, `   uid=e5 StaticText "Forgot password?"`, lines[4])
}

func TestFormatCapabilities(t *testing.T) {
	no, yes := false, true
	min, max := 0.0, 100.0
	n := &SnapshotNode{
		ID: "s", Role: "slider", Name: "Volume",
		ValueMin: &min, ValueMax: &max, ValueText: "half",
		Disabled: &no, Expanded: &yes, Selected: &no,
		Pressed: "mixed", Checked: "true", Required: true, ReadOnly: true, Modal: true,
		Level: 3, AutoComplete: "list",
	}
	got := FormatNode(n)
	assert.Equal(t,
		`uid=s slider "Volume" valuetext="half" valuemin=0 valuemax=100 level=3 autocomplete="list" `+
			`disableable expandable expanded selectable modal readonly required pressed="mixed" checked`,
		got)
}

func TestShouldInclude(t *testing.T) {
	tests := []struct {
		node SnapshotNode
		want bool
	}{
		{SnapshotNode{Role: "button"}, true},
		{SnapshotNode{Role: "image"}, true},
		{SnapshotNode{Role: "StaticText", Name: "ok"}, true},
		{SnapshotNode{Role: "StaticText", Name: "o"}, false},
		{SnapshotNode{Role: "generic", Name: "div"}, false},
		{SnapshotNode{Role: "generic", Name: "Card"}, true},
		{SnapshotNode{Role: "group"}, false},
		{SnapshotNode{Role: "heading", Name: "Intro"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldInclude(&tt.node), "%s %q", tt.node.Role, tt.node.Name)
	}
}
