package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"time"

	"github.com/chromedp/cdproto/input"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// ActionResult is the result of a browser action. Action methods always
// return a result; the error is non-nil exactly when Success is false.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// ClickOptions configures click behavior.
type ClickOptions struct {
	Count int // Number of clicks (default 1, 2 for double-click)
}

// Element is a handle on one snapshot node, resolved against the live page
// when an action runs.
type Element interface {
	Node() *axtree.SnapshotNode
	BoundingBox(ctx context.Context) (*Rect, error)
	Click(ctx context.Context, opts ClickOptions) (*ActionResult, error)
	Fill(ctx context.Context, value string) (*ActionResult, error)
	Hover(ctx context.Context) (*ActionResult, error)
	EditorValue(ctx context.Context) (*string, error)
	Highlight(ctx context.Context, d time.Duration) error
	Dispose()
}

// Locator drives one element over the debugging protocol.
type Locator struct {
	tab           TabID
	node          *axtree.SnapshotNode
	registry      *SessionRegistry
	frames        *FrameResolver
	actionTimeout time.Duration
	settle        time.Duration
	goos          string
	logger        *slog.Logger
}

// LocatorOptions configures a Locator.
type LocatorOptions struct {
	ActionTimeout time.Duration
	// GOOS selects the select-all shortcut. Defaults to runtime.GOOS.
	GOOS   string
	Logger *slog.Logger
}

// NewLocator binds node of tab to a locator.
func NewLocator(registry *SessionRegistry, tab TabID, node *axtree.SnapshotNode, opts LocatorOptions) *Locator {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.GOOS == "" {
		opts.GOOS = goruntime.GOOS
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Locator{
		tab:           tab,
		node:          node,
		registry:      registry,
		frames:        NewFrameResolver(registry.Channel(), DefaultBatchConcurrency, opts.Logger),
		actionTimeout: opts.ActionTimeout,
		settle:        clickSettle,
		goos:          opts.GOOS,
		logger:        opts.Logger.With("component", "locator", "tab", tab, "id", node.ID),
	}
}

// Node returns the snapshot node the locator is bound to.
func (l *Locator) Node() *axtree.SnapshotNode {
	return l.node
}

func (l *Locator) page() pageSession {
	return pageSession{ch: l.registry.Channel(), tab: l.tab}
}

func (l *Locator) ensure(ctx context.Context) error {
	if l.node.BackendID == 0 {
		return &ElementError{ID: l.node.ID, Err: ErrElementNotFound}
	}
	if !l.registry.Attach(ctx, l.tab) {
		return fmt.Errorf("tab %s: %w", l.tab, ErrAttachFailed)
	}
	return nil
}

// BoundingBox returns the element's content box in page coordinates.
func (l *Locator) BoundingBox(ctx context.Context) (*Rect, error) {
	return withDeadline(ctx, l.actionTimeout, l.node.ID, func(ctx context.Context) (*Rect, error) {
		if err := l.ensure(ctx); err != nil {
			return nil, err
		}
		return l.boundingBox(ctx)
	})
}

func (l *Locator) boundingBox(ctx context.Context) (*Rect, error) {
	page := l.page()
	rect, err := page.contentRect(ctx, l.node.BackendID)
	if err != nil {
		return nil, err
	}
	if l.node.FrameID == "" {
		return rect, nil
	}

	fm, err := l.frames.Frames(ctx, l.tab)
	if err != nil {
		l.logger.Debug("frame tree unavailable", "error", err)
		return rect, nil
	}
	if l.node.FrameID == fm.MainFrame {
		return rect, nil
	}
	cx, cy := rect.Center()
	if !l.occludedAt(ctx, cx, cy) {
		return rect, nil
	}

	// The local rect is relative to the frame viewport; add every owning
	// iframe's offset up to the main frame.
	global := *rect
	for _, frameID := range fm.Ancestors(l.node.FrameID) {
		owner, ok := fm.Owners[frameID]
		if !ok {
			break
		}
		ownerRect, err := page.contentRect(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("iframe owner of %s: %w", frameID, err)
		}
		global = global.Offset(ownerRect.X, ownerRect.Y)
	}
	return &global, nil
}

// occludedAt reports whether the point hit-tests to something other than
// the element or one of its descendants. Hit-test failures count as
// occluded.
func (l *Locator) occludedAt(ctx context.Context, x, y float64) bool {
	page := l.page()
	hit, err := page.nodeAt(ctx, x, y)
	if err != nil {
		l.logger.Debug("hit test failed", "error", err)
		return true
	}
	if l.node.FrameID != "" && hit.FrameID != "" && hit.FrameID != l.node.FrameID {
		return true
	}
	if hit.BackendNodeID == l.node.BackendID {
		return false
	}
	if hit.BackendNodeID == 0 {
		return true
	}
	return !l.contains(ctx, hit.BackendNodeID)
}

func (l *Locator) contains(ctx context.Context, other int64) bool {
	page := l.page()
	self, err := page.resolve(ctx, l.node.BackendID)
	if err != nil {
		return false
	}
	defer page.release(self)
	obj, err := page.resolve(ctx, other)
	if err != nil {
		return false
	}
	defer page.release(obj)

	var ok bool
	if err := page.callOnObject(ctx, self, scriptContains, &ok, objectRef(obj)); err != nil {
		return false
	}
	return ok
}

// Click clicks the element's center. Elements without geometry, or covered
// by something else, get a scripted click instead.
func (l *Locator) Click(ctx context.Context, opts ClickOptions) (*ActionResult, error) {
	return l.act(ctx, "click", func(ctx context.Context) (string, error) {
		if err := l.ensure(ctx); err != nil {
			return "", err
		}
		page := l.page()
		_ = page.scrollIntoView(ctx, l.node.BackendID)

		box, err := l.boundingBox(ctx)
		if err != nil || box == nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			l.logger.Debug("no geometry, using scripted click", "error", err)
			return "Clicked via script (no geometry)", l.scriptedClick(ctx)
		}
		if box.Empty() {
			return "", &ElementError{ID: l.node.ID, Err: ErrNotVisible}
		}

		count := max(opts.Count, 1)
		cx, cy := box.Center()
		for i := 1; i <= count; i++ {
			// One covered center ends native clicking for this call.
			if l.occludedAt(ctx, cx, cy) {
				l.logger.Debug("element covered, using scripted click", "x", cx, "y", cy)
				return "Clicked via script (element covered)", l.scriptedClick(ctx)
			}
			if err := page.mouse(ctx, input.MouseMoved, cx, cy, 0); err != nil {
				return "", err
			}
			if err := page.mouse(ctx, input.MousePressed, cx, cy, int64(i)); err != nil {
				return "", err
			}
			if err := page.mouse(ctx, input.MouseReleased, cx, cy, int64(i)); err != nil {
				return "", err
			}
			if err := sleepCtx(ctx, l.settle); err != nil {
				return "", err
			}
		}
		return "Clicked", nil
	})
}

func (l *Locator) scriptedClick(ctx context.Context) error {
	var ok bool
	if err := l.page().callOn(ctx, l.node.BackendID, scriptClick, &ok); err != nil {
		return err
	}
	if !ok {
		return &ElementError{ID: l.node.ID, Err: ErrElementNotFound}
	}
	return nil
}

// Fill replaces the element's value. Rich editors are filled through their
// own API; anything else is focused, selected and typed over.
func (l *Locator) Fill(ctx context.Context, value string) (*ActionResult, error) {
	return l.act(ctx, "fill", func(ctx context.Context) (string, error) {
		if err := l.ensure(ctx); err != nil {
			return "", err
		}
		page := l.page()
		obj, err := page.resolve(ctx, l.node.BackendID)
		if err != nil {
			return "", &ElementError{ID: l.node.ID, Err: fmt.Errorf("%w: %v", ErrElementNotFound, err)}
		}
		defer page.release(obj)

		var kind string
		if err := page.callOnObject(ctx, obj, scriptEditorFill, &kind, value); err == nil && kind != "" {
			return fmt.Sprintf("Filled %s editor", kind), nil
		} else if err != nil {
			l.logger.Debug("editor fill failed", "error", err)
		}

		var editable bool
		if err := page.callOnObject(ctx, obj, scriptIsEditable, &editable); err != nil {
			return "", err
		}
		if !editable {
			return "", &ElementError{ID: l.node.ID, Err: ErrFillTargetMismatch}
		}

		if err := page.focus(ctx, l.node.BackendID); err != nil {
			return "", fmt.Errorf("focus: %w", err)
		}
		if err := page.selectAll(ctx, selectAllModifier(l.goos)); err != nil {
			return "", fmt.Errorf("select all: %w", err)
		}
		if value == "" {
			err = page.deleteSelection(ctx)
		} else {
			err = page.insertText(ctx, value)
		}
		if err != nil {
			return "", fmt.Errorf("insert text: %w", err)
		}
		var ok bool
		if err := page.callOnObject(ctx, obj, scriptFillEvents, &ok); err != nil {
			return "", fmt.Errorf("dispatch events: %w", err)
		}
		return "Filled", nil
	})
}

func selectAllModifier(goos string) input.Modifier {
	if goos == "darwin" {
		return input.ModifierMeta
	}
	return input.ModifierCtrl
}

// Hover moves the pointer to the element's center, or dispatches scripted
// hover events when the element has no geometry.
func (l *Locator) Hover(ctx context.Context) (*ActionResult, error) {
	return l.act(ctx, "hover", func(ctx context.Context) (string, error) {
		if err := l.ensure(ctx); err != nil {
			return "", err
		}
		page := l.page()
		_ = page.scrollIntoView(ctx, l.node.BackendID)

		box, err := l.boundingBox(ctx)
		if err != nil || box == nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var ok bool
			if err := page.callOn(ctx, l.node.BackendID, scriptHover, &ok); err != nil {
				return "", err
			}
			return "Hovered via script (no geometry)", nil
		}
		if box.Empty() {
			return "", &ElementError{ID: l.node.ID, Err: ErrNotVisible}
		}
		cx, cy := box.Center()
		if err := page.mouse(ctx, input.MouseMoved, cx, cy, 0); err != nil {
			return "", err
		}
		return "Hovered", nil
	})
}

type editorValue struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// EditorValue reads the element's current value. It returns nil when the
// element has no readable value.
func (l *Locator) EditorValue(ctx context.Context) (*string, error) {
	return withDeadline(ctx, l.actionTimeout, l.node.ID, func(ctx context.Context) (*string, error) {
		if err := l.ensure(ctx); err != nil {
			return nil, err
		}
		var v editorValue
		if err := l.page().callOn(ctx, l.node.BackendID, scriptEditorValue, &v); err != nil {
			return nil, err
		}
		if !v.Found {
			return nil, nil
		}
		return &v.Value, nil
	})
}

// Highlight outlines the element for d.
func (l *Locator) Highlight(ctx context.Context, d time.Duration) error {
	_, err := withDeadline(ctx, l.actionTimeout, l.node.ID, func(ctx context.Context) (bool, error) {
		if err := l.ensure(ctx); err != nil {
			return false, err
		}
		var ok bool
		err := l.page().callOn(ctx, l.node.BackendID, scriptHighlight, &ok, d.Milliseconds())
		return ok, err
	})
	return err
}

// Dispose detaches the tab's session right away.
func (l *Locator) Dispose() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCommandTimeout)
	defer cancel()
	l.registry.Detach(ctx, l.tab, true)
}

func (l *Locator) act(ctx context.Context, action string, fn func(context.Context) (string, error)) (*ActionResult, error) {
	return runAction(ctx, l.actionTimeout, action, l.node.ID, fn)
}

// runAction runs fn under one deadline and folds the outcome into an
// ActionResult.
func runAction(ctx context.Context, timeout time.Duration, action, id string, fn func(context.Context) (string, error)) (*ActionResult, error) {
	msg, err := withDeadline(ctx, timeout, id, fn)
	if err != nil {
		return &ActionResult{Success: false, Message: WrapError(err, action).Error(), ID: id}, err
	}
	return &ActionResult{Success: true, Message: msg, ID: id}, nil
}

// withDeadline races fn against timeout. Running out of time yields an
// ElementError wrapping ErrActionTimeout.
func withDeadline[T any](ctx context.Context, timeout time.Duration, id string, fn func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(actx)
		done <- outcome{v, err}
	}()

	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded)
	}

	var zero T
	select {
	case o := <-done:
		if o.err != nil && timedOut() {
			return zero, &ElementError{ID: id, Err: ErrActionTimeout}
		}
		return o.v, o.err
	case <-actx.Done():
		if timedOut() {
			return zero, &ElementError{ID: id, Err: ErrActionTimeout}
		}
		return zero, ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
