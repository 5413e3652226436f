package browser

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// boxes answers DOM.getBoxModel from rects keyed by backend id.
func boxes(rects map[int64]Rect) fakeHandler {
	return func(_ context.Context, _ TabID, raw json.RawMessage) (any, error) {
		r, ok := rects[decodeBackend(raw).BackendNodeID]
		if !ok {
			return nil, assert.AnError
		}
		return boxModel(r.X, r.Y, r.Width, r.Height), nil
	}
}

func hitTest(backend int64, frame string) map[string]any {
	return map[string]any{"backendNodeId": backend, "frameId": frame}
}

func newTestLocator(t *testing.T, ft *fakeTransport, node *axtree.SnapshotNode, goos string) *Locator {
	return NewLocator(newTestRegistry(t, ft, nil), "tab", node, LocatorOptions{
		ActionTimeout: 2 * time.Second,
		GOOS:          goos,
		Logger:        discardLogger(),
	})
}

// scriptLog records which page scripts ran, in order.
type scriptLog struct {
	mu      sync.Mutex
	scripts []string
}

func (l *scriptLog) add(s string) {
	l.mu.Lock()
	l.scripts = append(l.scripts, s)
	l.mu.Unlock()
}

func (l *scriptLog) ran(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, x := range l.scripts {
		if x == s {
			return true
		}
	}
	return false
}

type mouseParams struct {
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ClickCount int64   `json:"clickCount"`
}

type keyParams struct {
	Type      string   `json:"type"`
	Key       string   `json:"key"`
	Modifiers int64    `json:"modifiers"`
	Commands  []string `json:"commands"`
}

func TestBoundingBoxTranslatesIframeOffset(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{
		42:  {X: 10, Y: 20, Width: 50, Height: 30},
		500: {X: 100, Y: 150, Width: 400, Height: 300},
	}))
	ft.reply("Page.getFrameTree", frameTree("M", childFrame("F1")))
	ft.handle("DOM.getFrameOwner", frameOwners(map[string]int64{"F1": 500}))
	// The main document hit test lands on the iframe element.
	ft.reply("DOM.getNodeForLocation", hitTest(500, "M"))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", Role: "button", BackendID: 42, FrameID: "F1"}, "linux")
	box, err := l.BoundingBox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 110, Y: 170, Width: 50, Height: 30}, *box)
}

func TestBoundingBoxKeepsRectWhenHitMatches(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 10, Y: 20, Width: 50, Height: 30}}))
	ft.reply("Page.getFrameTree", frameTree("M", childFrame("F1")))
	ft.handle("DOM.getFrameOwner", frameOwners(map[string]int64{"F1": 500}))
	ft.reply("DOM.getNodeForLocation", hitTest(42, "F1"))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42, FrameID: "F1"}, "linux")
	box, err := l.BoundingBox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 50, Height: 30}, *box)
}

func TestBoundingBoxMainFrameSkipsHitTest(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{7: {X: 1, Y: 2, Width: 3, Height: 4}}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 7}, "linux")
	box, err := l.BoundingBox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 1, Y: 2, Width: 3, Height: 4}, *box)
	assert.Empty(t, ft.callsTo("DOM.getNodeForLocation"))
}

func TestClickDispatchesMouseSequence(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 10, Y: 20, Width: 50, Height: 30}}))
	ft.reply("DOM.getNodeForLocation", hitTest(42, ""))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", Role: "button", BackendID: 42}, "linux")
	res, err := l.Click(context.Background(), ClickOptions{Count: 2})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Clicked", res.Message)
	assert.Equal(t, "e1", res.ID)

	calls := ft.callsTo("Input.dispatchMouseEvent")
	require.Len(t, calls, 6)
	var types []string
	var counts []int64
	for _, c := range calls {
		var p mouseParams
		require.NoError(t, json.Unmarshal(c.Params, &p))
		assert.Equal(t, 35.0, p.X)
		assert.Equal(t, 35.0, p.Y)
		types = append(types, p.Type)
		counts = append(counts, p.ClickCount)
	}
	assert.Equal(t, []string{
		"mouseMoved", "mousePressed", "mouseReleased",
		"mouseMoved", "mousePressed", "mouseReleased",
	}, types)
	assert.Equal(t, []int64{0, 1, 1, 0, 2, 2}, counts)
}

func TestClickCoveredFallsBackToScript(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 0, Y: 0, Width: 20, Height: 20}}))
	ft.reply("Page.getFrameTree", frameTree("M", childFrame("F9")))
	ft.handle("DOM.getFrameOwner", frameOwners(map[string]int64{"F9": 900}))
	ft.reply("DOM.getNodeForLocation", hitTest(99, "F9"))
	ft.handle("DOM.resolveNode", objectIDs())
	log := &scriptLog{}
	ft.handle("Runtime.callFunctionOn", scriptReplies(func(script, _ string, _ []map[string]any) (any, bool) {
		log.add(script)
		return true, true
	}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42, FrameID: "M"}, "linux")
	res, err := l.Click(context.Background(), ClickOptions{Count: 3})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Clicked via script (element covered)", res.Message)
	assert.True(t, log.ran(scriptClick))
	assert.Empty(t, ft.callsTo("Input.dispatchMouseEvent"))
}

func TestClickCoveredByUnrelatedNode(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 0, Y: 0, Width: 20, Height: 20}}))
	ft.reply("DOM.getNodeForLocation", hitTest(77, ""))
	ft.handle("DOM.resolveNode", objectIDs())
	log := &scriptLog{}
	ft.handle("Runtime.callFunctionOn", scriptReplies(func(script, _ string, _ []map[string]any) (any, bool) {
		log.add(script)
		if script == scriptContains {
			return false, true
		}
		return true, true
	}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	res, err := l.Click(context.Background(), ClickOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Clicked via script (element covered)", res.Message)
	assert.True(t, log.ran(scriptContains))
	assert.Empty(t, ft.callsTo("Input.dispatchMouseEvent"))
}

func TestClickHitOnDescendantIsNotCovered(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 0, Y: 0, Width: 20, Height: 20}}))
	ft.reply("DOM.getNodeForLocation", hitTest(43, ""))
	ft.handle("DOM.resolveNode", objectIDs())
	ft.handle("Runtime.callFunctionOn", scriptReplies(func(string, string, []map[string]any) (any, bool) {
		return true, true
	}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	res, err := l.Click(context.Background(), ClickOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Clicked", res.Message)
	assert.Len(t, ft.callsTo("Input.dispatchMouseEvent"), 3)
}

func TestClickZeroSizeIsNotVisible(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 10, Y: 10}}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	res, err := l.Click(context.Background(), ClickOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotVisible)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Hint:")
	assert.Empty(t, ft.callsTo("Input.dispatchMouseEvent"))
}

func TestClickWithoutGeometryUsesScript(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(nil))
	ft.handle("DOM.resolveNode", objectIDs())
	ft.handle("Runtime.callFunctionOn", scriptReplies(func(string, string, []map[string]any) (any, bool) {
		return true, true
	}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	res, err := l.Click(context.Background(), ClickOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Clicked via script (no geometry)", res.Message)
}

func TestActionWithoutBackendID(t *testing.T) {
	ft := newFakeTransport()
	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1"}, "linux")

	res, err := l.Hover(context.Background())
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.False(t, res.Success)
	assert.Zero(t, ft.attachCount("tab"))
}

func TestActionTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.resolveNode", blockUntilDone)
	l := NewLocator(newTestRegistry(t, ft, nil), "tab", &axtree.SnapshotNode{ID: "e1", BackendID: 42}, LocatorOptions{
		ActionTimeout: 40 * time.Millisecond,
		Logger:        discardLogger(),
	})

	res, err := l.Fill(context.Background(), "x")
	assert.ErrorIs(t, err, ErrActionTimeout)
	assert.False(t, res.Success)
}

func fillPage(ft *fakeTransport, editorKind string, editable bool) *scriptLog {
	log := &scriptLog{}
	ft.handle("DOM.resolveNode", objectIDs())
	ft.handle("Runtime.callFunctionOn", scriptReplies(func(script, _ string, _ []map[string]any) (any, bool) {
		log.add(script)
		switch script {
		case scriptEditorFill:
			return editorKind, true
		case scriptIsEditable:
			return editable, true
		}
		return true, true
	}))
	return log
}

func TestFillEditorSkipsKeyboard(t *testing.T) {
	ft := newFakeTransport()
	fillPage(ft, "monaco", true)

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	res, err := l.Fill(context.Background(), "const x = 1")
	require.NoError(t, err)
	assert.Equal(t, "Filled monaco editor", res.Message)
	assert.Empty(t, ft.callsTo("Input.dispatchKeyEvent"))
	assert.Empty(t, ft.callsTo("Input.insertText"))
}

func TestFillInputSelectsAllAndTypes(t *testing.T) {
	for _, tc := range []struct {
		goos string
		mod  int64
	}{
		{"linux", 2},
		{"windows", 2},
		{"darwin", 4},
	} {
		t.Run(tc.goos, func(t *testing.T) {
			ft := newFakeTransport()
			log := fillPage(ft, "", true)

			l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, tc.goos)
			res, err := l.Fill(context.Background(), "x")
			require.NoError(t, err)
			assert.Equal(t, "Filled", res.Message)

			require.Len(t, ft.callsTo("DOM.focus"), 1)
			keys := ft.callsTo("Input.dispatchKeyEvent")
			require.Len(t, keys, 2)
			var down, up keyParams
			require.NoError(t, json.Unmarshal(keys[0].Params, &down))
			require.NoError(t, json.Unmarshal(keys[1].Params, &up))
			assert.Equal(t, "rawKeyDown", down.Type)
			assert.Equal(t, "a", down.Key)
			assert.Equal(t, tc.mod, down.Modifiers)
			assert.Equal(t, []string{"selectAll"}, down.Commands)
			assert.Equal(t, "keyUp", up.Type)

			inserts := ft.callsTo("Input.insertText")
			require.Len(t, inserts, 1)
			assert.JSONEq(t, `{"text":"x"}`, string(inserts[0].Params))
			assert.True(t, log.ran(scriptFillEvents))
		})
	}
}

func TestFillEmptyValueDeletesSelection(t *testing.T) {
	ft := newFakeTransport()
	fillPage(ft, "", true)

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	_, err := l.Fill(context.Background(), "")
	require.NoError(t, err)

	assert.Empty(t, ft.callsTo("Input.insertText"))
	keys := ft.callsTo("Input.dispatchKeyEvent")
	require.Len(t, keys, 4)
	var del keyParams
	require.NoError(t, json.Unmarshal(keys[2].Params, &del))
	assert.Equal(t, "Backspace", del.Key)
}

func TestFillNonEditable(t *testing.T) {
	ft := newFakeTransport()
	fillPage(ft, "", false)

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", Role: "button", BackendID: 42}, "linux")
	res, err := l.Fill(context.Background(), "x")
	assert.ErrorIs(t, err, ErrFillTargetMismatch)
	assert.False(t, res.Success)
	assert.Empty(t, ft.callsTo("Input.insertText"))
}

func TestHoverMovesPointer(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.getBoxModel", boxes(map[int64]Rect{42: {X: 0, Y: 0, Width: 10, Height: 10}}))

	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")
	res, err := l.Hover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hovered", res.Message)

	calls := ft.callsTo("Input.dispatchMouseEvent")
	require.Len(t, calls, 1)
	var p mouseParams
	require.NoError(t, json.Unmarshal(calls[0].Params, &p))
	assert.Equal(t, "mouseMoved", p.Type)
	assert.Equal(t, 5.0, p.X)
}

func TestEditorValue(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("DOM.resolveNode", objectIDs())
	found := true
	ft.handle("Runtime.callFunctionOn", scriptReplies(func(script, _ string, _ []map[string]any) (any, bool) {
		if script == scriptEditorValue {
			return editorValue{Found: found, Value: "hello"}, true
		}
		return nil, false
	}))
	l := newTestLocator(t, ft, &axtree.SnapshotNode{ID: "e1", BackendID: 42}, "linux")

	v, err := l.EditorValue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "hello", *v)

	found = false
	v, err = l.EditorValue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDisposeDetaches(t *testing.T) {
	ft := newFakeTransport()
	r := newTestRegistry(t, ft, nil)
	require.True(t, r.Attach(context.Background(), "tab"))

	l := NewLocator(r, "tab", &axtree.SnapshotNode{ID: "e1", BackendID: 42}, LocatorOptions{Logger: discardLogger()})
	l.Dispose()
	assert.False(t, r.IsAttached("tab"))
}
