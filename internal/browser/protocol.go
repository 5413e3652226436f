package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// Results are decoded into local structs rather than cdproto return types
// so unknown enum values from newer browsers never fail a call.

type boxModelResult struct {
	Model *struct {
		Content []float64 `json:"content"`
		Width   float64   `json:"width"`
		Height  float64   `json:"height"`
	} `json:"model"`
}

type nodeForLocationResult struct {
	BackendNodeID int64  `json:"backendNodeId"`
	FrameID       string `json:"frameId"`
}

type frameOwnerResult struct {
	BackendNodeID int64 `json:"backendNodeId"`
}

type remoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
	Description string          `json:"description,omitempty"`
}

type resolveNodeResult struct {
	Object remoteObject `json:"object"`
}

type evalResult struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string        `json:"text"`
		Exception *remoteObject `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

func (r *evalResult) err() error {
	if r.ExceptionDetails == nil {
		return nil
	}
	msg := r.ExceptionDetails.Text
	if ex := r.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
		msg = ex.Description
	}
	return fmt.Errorf("script error: %s", msg)
}

func (r *evalResult) decode(result any) error {
	if err := r.err(); err != nil {
		return err
	}
	if result == nil || len(r.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result.Value, result)
}

type frameInfo struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	URL      string `json:"url"`
}

type frameTreeNode struct {
	Frame       frameInfo        `json:"frame"`
	ChildFrames []*frameTreeNode `json:"childFrames,omitempty"`
}

type frameTreeResult struct {
	FrameTree *frameTreeNode `json:"frameTree"`
}

// frames flattens the tree, main frame first.
func (n *frameTreeNode) frames() []frameInfo {
	if n == nil {
		return nil
	}
	out := []frameInfo{n.Frame}
	for _, c := range n.ChildFrames {
		if c.Frame.ParentID == "" {
			c.Frame.ParentID = n.Frame.ID
		}
		out = append(out, c.frames()...)
	}
	return out
}

// pageSession wraps the command channel for one tab.
type pageSession struct {
	ch  *CommandChannel
	tab TabID
}

func (p pageSession) send(ctx context.Context, method string, params, result any) error {
	return p.ch.Send(ctx, p.tab, method, params, result, 0)
}

func (p pageSession) enable(ctx context.Context) error {
	if err := p.send(ctx, dom.CommandEnable, dom.Enable(), nil); err != nil {
		return err
	}
	return p.send(ctx, accessibility.CommandEnable, accessibility.Enable(), nil)
}

func (p pageSession) axTree(ctx context.Context, frameID string) (axtree.CDPTree, error) {
	var tree axtree.CDPTree
	params := accessibility.GetFullAXTree()
	if frameID != "" {
		params = params.WithFrameID(cdp.FrameID(frameID))
	}
	err := p.send(ctx, accessibility.CommandGetFullAXTree, params, &tree)
	return tree, err
}

func (p pageSession) frameTree(ctx context.Context) (*frameTreeNode, error) {
	var res frameTreeResult
	if err := p.send(ctx, page.CommandGetFrameTree, page.GetFrameTree(), &res); err != nil {
		return nil, err
	}
	if res.FrameTree == nil {
		return nil, fmt.Errorf("empty frame tree")
	}
	return res.FrameTree, nil
}

func (p pageSession) frameOwner(ctx context.Context, frameID string) (int64, error) {
	var res frameOwnerResult
	if err := p.send(ctx, dom.CommandGetFrameOwner, dom.GetFrameOwner(cdp.FrameID(frameID)), &res); err != nil {
		return 0, err
	}
	return res.BackendNodeID, nil
}

func (p pageSession) contentRect(ctx context.Context, backendID int64) (*Rect, error) {
	var res boxModelResult
	err := p.send(ctx, dom.CommandGetBoxModel, dom.GetBoxModel().WithBackendNodeID(cdp.BackendNodeID(backendID)), &res)
	if err != nil {
		return nil, err
	}
	if res.Model == nil {
		return nil, fmt.Errorf("no box model")
	}
	return quadToRect(res.Model.Content)
}

func (p pageSession) nodeAt(ctx context.Context, x, y float64) (nodeForLocationResult, error) {
	var res nodeForLocationResult
	params := dom.GetNodeForLocation(int64(math.Round(x)), int64(math.Round(y))).
		WithIncludeUserAgentShadowDOM(true).
		WithIgnorePointerEventsNone(true)
	err := p.send(ctx, dom.CommandGetNodeForLocation, params, &res)
	return res, err
}

func (p pageSession) resolve(ctx context.Context, backendID int64) (string, error) {
	var res resolveNodeResult
	err := p.send(ctx, dom.CommandResolveNode, dom.ResolveNode().WithBackendNodeID(cdp.BackendNodeID(backendID)), &res)
	if err != nil {
		return "", fmt.Errorf("failed to resolve node %d: %w", backendID, err)
	}
	if res.Object.ObjectID == "" {
		return "", fmt.Errorf("failed to resolve node %d: %w", backendID, ErrElementNotFound)
	}
	return res.Object.ObjectID, nil
}

func (p pageSession) release(objectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	_ = p.send(ctx, runtime.CommandReleaseObject, runtime.ReleaseObject(runtime.RemoteObjectID(objectID)), nil)
}

// callOn runs fn with this bound to the element and args passed by value.
func (p pageSession) callOn(ctx context.Context, backendID int64, fn string, result any, args ...any) error {
	objectID, err := p.resolve(ctx, backendID)
	if err != nil {
		return err
	}
	defer p.release(objectID)
	return p.callOnObject(ctx, objectID, fn, result, args...)
}

func (p pageSession) callOnObject(ctx context.Context, objectID, fn string, result any, args ...any) error {
	callArgs := make([]map[string]any, 0, len(args))
	for _, a := range args {
		if ref, ok := a.(objectRef); ok {
			callArgs = append(callArgs, map[string]any{"objectId": string(ref)})
			continue
		}
		callArgs = append(callArgs, map[string]any{"value": a})
	}
	params := map[string]any{
		"functionDeclaration": fn,
		"objectId":            objectID,
		"arguments":           callArgs,
		"returnByValue":       true,
		"awaitPromise":        true,
	}
	var res evalResult
	if err := p.send(ctx, runtime.CommandCallFunctionOn, params, &res); err != nil {
		return err
	}
	return res.decode(result)
}

// objectRef passes a remote object to callOnObject by reference.
type objectRef string

func (p pageSession) evaluate(ctx context.Context, expr string, result any) error {
	var res evalResult
	params := runtime.Evaluate(expr).WithReturnByValue(true).WithAwaitPromise(true)
	if err := p.send(ctx, runtime.CommandEvaluate, params, &res); err != nil {
		return err
	}
	return res.decode(result)
}

func (p pageSession) focus(ctx context.Context, backendID int64) error {
	return p.send(ctx, dom.CommandFocus, dom.Focus().WithBackendNodeID(cdp.BackendNodeID(backendID)), nil)
}

func (p pageSession) scrollIntoView(ctx context.Context, backendID int64) error {
	return p.send(ctx, dom.CommandScrollIntoViewIfNeeded, dom.ScrollIntoViewIfNeeded().WithBackendNodeID(cdp.BackendNodeID(backendID)), nil)
}

func (p pageSession) mouse(ctx context.Context, typ input.MouseType, x, y float64, clicks int64) error {
	params := input.DispatchMouseEvent(typ, x, y)
	if typ != input.MouseMoved {
		params = params.WithButton(input.Left).WithClickCount(clicks)
	}
	return p.send(ctx, input.CommandDispatchMouseEvent, params, nil)
}

func (p pageSession) selectAll(ctx context.Context, mod input.Modifier) error {
	down := input.DispatchKeyEvent(input.KeyRawDown).
		WithKey("a").
		WithCode("KeyA").
		WithWindowsVirtualKeyCode(65).
		WithModifiers(mod).
		WithCommands([]string{"selectAll"})
	if err := p.send(ctx, input.CommandDispatchKeyEvent, down, nil); err != nil {
		return err
	}
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey("a").
		WithCode("KeyA").
		WithWindowsVirtualKeyCode(65).
		WithModifiers(mod)
	return p.send(ctx, input.CommandDispatchKeyEvent, up, nil)
}

func (p pageSession) insertText(ctx context.Context, text string) error {
	return p.send(ctx, input.CommandInsertText, input.InsertText(text), nil)
}

func (p pageSession) deleteSelection(ctx context.Context) error {
	for _, typ := range []input.KeyType{input.KeyRawDown, input.KeyUp} {
		ev := input.DispatchKeyEvent(typ).
			WithKey("Backspace").
			WithCode("Backspace").
			WithWindowsVirtualKeyCode(8)
		if err := p.send(ctx, input.CommandDispatchKeyEvent, ev, nil); err != nil {
			return err
		}
	}
	return nil
}
