package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// DOMLocator drives one element through page scripts only, finding it by
// its id marker. It needs no debugging session.
type DOMLocator struct {
	tab           TabID
	node          *axtree.SnapshotNode
	runner        ScriptRunner
	actionTimeout time.Duration
}

// NewDOMLocator binds node of tab to a script-driven locator.
func NewDOMLocator(runner ScriptRunner, tab TabID, node *axtree.SnapshotNode, actionTimeout time.Duration) *DOMLocator {
	if actionTimeout <= 0 {
		actionTimeout = DefaultActionTimeout
	}
	return &DOMLocator{tab: tab, node: node, runner: runner, actionTimeout: actionTimeout}
}

// Node returns the snapshot node the locator is bound to.
func (l *DOMLocator) Node() *axtree.SnapshotNode {
	return l.node
}

type markerResult struct {
	Found bool            `json:"found"`
	Value json.RawMessage `json:"value"`
}

// call applies fn to the marked element and decodes its return value.
func (l *DOMLocator) call(ctx context.Context, fn string, result any, args ...any) error {
	expr, err := markerExpression(l.node.ID, fn, args...)
	if err != nil {
		return err
	}
	var res markerResult
	if err := l.runner.RunScript(ctx, l.tab, expr, &res); err != nil {
		return err
	}
	if !res.Found {
		return &ElementError{ID: l.node.ID, Err: ErrElementNotFound}
	}
	if result == nil || len(res.Value) == 0 || string(res.Value) == "null" {
		return nil
	}
	return json.Unmarshal(res.Value, result)
}

// BoundingBox returns the element's viewport rect.
func (l *DOMLocator) BoundingBox(ctx context.Context) (*Rect, error) {
	return withDeadline(ctx, l.actionTimeout, l.node.ID, func(ctx context.Context) (*Rect, error) {
		var r *Rect
		if err := l.call(ctx, scriptBoundingRect, &r); err != nil {
			return nil, err
		}
		if r == nil {
			return nil, &ElementError{ID: l.node.ID, Err: ErrNotVisible}
		}
		return r, nil
	})
}

// Click dispatches scripted clicks.
func (l *DOMLocator) Click(ctx context.Context, opts ClickOptions) (*ActionResult, error) {
	return runAction(ctx, l.actionTimeout, "click", l.node.ID, func(ctx context.Context) (string, error) {
		var r *Rect
		if err := l.call(ctx, scriptBoundingRect, &r); err != nil {
			return "", err
		}
		if r != nil && r.Empty() {
			return "", &ElementError{ID: l.node.ID, Err: ErrNotVisible}
		}
		for i := 0; i < max(opts.Count, 1); i++ {
			if err := l.call(ctx, scriptClick, nil); err != nil {
				return "", err
			}
		}
		return "Clicked via script", nil
	})
}

// Fill sets the element's value through its editor API or the native value
// setter.
func (l *DOMLocator) Fill(ctx context.Context, value string) (*ActionResult, error) {
	return runAction(ctx, l.actionTimeout, "fill", l.node.ID, func(ctx context.Context) (string, error) {
		var kind string
		if err := l.call(ctx, scriptEditorFill, &kind, value); err != nil {
			return "", err
		}
		if kind != "" {
			return fmt.Sprintf("Filled %s editor", kind), nil
		}
		var editable bool
		if err := l.call(ctx, scriptIsEditable, &editable); err != nil {
			return "", err
		}
		if !editable {
			return "", &ElementError{ID: l.node.ID, Err: ErrFillTargetMismatch}
		}
		if err := l.call(ctx, scriptSetValue, nil, value); err != nil {
			return "", err
		}
		return "Filled", nil
	})
}

// Hover dispatches scripted hover events.
func (l *DOMLocator) Hover(ctx context.Context) (*ActionResult, error) {
	return runAction(ctx, l.actionTimeout, "hover", l.node.ID, func(ctx context.Context) (string, error) {
		if err := l.call(ctx, scriptHover, nil); err != nil {
			return "", err
		}
		return "Hovered via script", nil
	})
}

// EditorValue reads the element's current value, or nil.
func (l *DOMLocator) EditorValue(ctx context.Context) (*string, error) {
	return withDeadline(ctx, l.actionTimeout, l.node.ID, func(ctx context.Context) (*string, error) {
		var v editorValue
		if err := l.call(ctx, scriptEditorValue, &v); err != nil {
			return nil, err
		}
		if !v.Found {
			return nil, nil
		}
		return &v.Value, nil
	})
}

// Highlight outlines the element for d.
func (l *DOMLocator) Highlight(ctx context.Context, d time.Duration) error {
	_, err := withDeadline(ctx, l.actionTimeout, l.node.ID, func(ctx context.Context) (bool, error) {
		return true, l.call(ctx, scriptHighlight, nil, d.Milliseconds())
	})
	return err
}

// Dispose is a no-op; script calls hold no session.
func (l *DOMLocator) Dispose() {}
