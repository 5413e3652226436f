package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/search"
)

const defaultHighlight = 2 * time.Second

type tools struct {
	browser Browser
	store   SnapshotSaver
	logger  *slog.Logger
}

// ElementInput addresses one element of a tab's last snapshot.
type ElementInput struct {
	TabID string `json:"tabId" jsonschema:"Tab id from browser_tabs."`
	ID    string `json:"id" jsonschema:"Element uid from the latest browser_snapshot."`
	Mode  string `json:"mode,omitempty" jsonschema:"Snapshot mode the uid came from: cdp or dom. Defaults to the configured mode."`
}

type TabsInput struct{}

type SnapshotInput struct {
	TabID    string `json:"tabId" jsonschema:"Tab id from browser_tabs."`
	Mode     string `json:"mode,omitempty" jsonschema:"cdp (debugger accessibility tree) or dom (content script walk)."`
	MaxChars int    `json:"maxChars,omitempty" jsonschema:"Truncate the snapshot text to this many characters."`
}

type SearchInput struct {
	TabID         string `json:"tabId" jsonschema:"Tab id from browser_tabs."`
	Query         string `json:"query" jsonschema:"Terms separated by |, matched case-insensitively. Globs like *checkout* are supported."`
	Mode          string `json:"mode,omitempty"`
	ContextLevels *int   `json:"contextLevels,omitempty" jsonschema:"Lines of context around each match (default 1, 0 for none)."`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

type ClickInput struct {
	TabID       string `json:"tabId"`
	ID          string `json:"id"`
	Mode        string `json:"mode,omitempty"`
	DoubleClick bool   `json:"doubleClick,omitempty"`
}

type FillInput struct {
	TabID string `json:"tabId"`
	ID    string `json:"id"`
	Mode  string `json:"mode,omitempty"`
	Value string `json:"value" jsonschema:"Text to put in the field. Empty clears it."`
}

type HighlightInput struct {
	TabID      string `json:"tabId"`
	ID         string `json:"id"`
	Mode       string `json:"mode,omitempty"`
	DurationMs int    `json:"durationMs,omitempty"`
}

func (t *tools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_tabs",
		Description: "List the browser tabs that can be automated.",
	}, guard(t, "browser_tabs", t.tabs))

	mcp.AddTool(server, &mcp.Tool{
		Name: "browser_snapshot",
		Description: `Capture the accessibility snapshot of a tab. Each actionable line carries uid=<id>,
which the element tools take as "id". An element keeps its id across snapshots while it stays in the page.`,
	}, guard(t, "browser_snapshot", t.snapshot))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_search",
		Description: "Search the tab's last snapshot. Matching lines are marked with ✓ and shown with nearby context.",
	}, guard(t, "browser_search", t.search))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_click",
		Description: "Click an element by uid. Falls back to a scripted click when something else covers it.",
	}, guard(t, "browser_click", t.click))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_fill",
		Description: "Replace the contents of an input, textarea, contenteditable or code editor.",
	}, guard(t, "browser_fill", t.fill))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_hover",
		Description: "Move the mouse over an element.",
	}, guard(t, "browser_hover", t.hover))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_value",
		Description: "Read the current text of a rich editor (Monaco, CodeMirror, ProseMirror, Quill, contenteditable).",
	}, guard(t, "browser_value", t.value))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_highlight",
		Description: "Outline an element on the page for a moment.",
	}, guard(t, "browser_highlight", t.highlight))
}

// guard adapts fn to the SDK handler shape and turns panics into tool errors.
func guard[In any](t *tools, name string, fn func(context.Context, In) (*mcp.CallToolResult, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (res *mcp.CallToolResult, out any, err error) {
		defer func() {
			if v := recover(); v != nil {
				t.logger.Error("tool panicked", "tool", name, "panic", v)
				res, err = nil, fmt.Errorf("%s: internal error: %v", name, v)
			}
		}()
		start := time.Now()
		res, err = fn(ctx, in)
		t.logger.Debug("tool call", "tool", name, "duration", time.Since(start), "error", err)
		return res, nil, err
	}
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}

func requireTab(tab string) error {
	if strings.TrimSpace(tab) == "" {
		return NewValidationError("tabId is required", "tabId")
	}
	return nil
}

func (t *tools) tabs(ctx context.Context, _ TabsInput) (*mcp.CallToolResult, error) {
	tabs, err := t.browser.Tabs(ctx)
	if err != nil {
		return nil, browserError(err, "list tabs")
	}
	return jsonResult(tabs)
}

func (t *tools) snapshot(ctx context.Context, in SnapshotInput) (*mcp.CallToolResult, error) {
	if err := requireTab(in.TabID); err != nil {
		return nil, err
	}
	snap, err := t.browser.Snapshot(ctx, browser.TabID(in.TabID), in.Mode)
	if err != nil {
		return nil, browserError(err, "snapshot")
	}
	if t.store != nil {
		if err := t.store.Save(ctx, snap); err != nil {
			t.logger.Warn("snapshot not persisted", "tab", in.TabID, "error", err)
		}
	}
	header := fmt.Sprintf("Page: %s\nURL: %s\nMode: %s\n\n", snap.Title, snap.URL, snap.Mode)
	return textResult(header + browser.RenderSnapshot(snap, browser.SnapshotOptions{MaxChars: in.MaxChars})), nil
}

func (t *tools) search(_ context.Context, in SearchInput) (*mcp.CallToolResult, error) {
	if err := requireTab(in.TabID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, NewValidationError("query is required", "query")
	}
	opts := search.Options{CaseSensitive: in.CaseSensitive}
	if in.ContextLevels != nil {
		opts.ContextLevels = search.ContextLevels(*in.ContextLevels)
	}
	res, err := t.browser.Search(browser.TabID(in.TabID), in.Mode, in.Query, opts)
	if err != nil {
		return nil, browserError(err, "search")
	}
	return textResult(search.Format(res)), nil
}

// withElement resolves in and runs fn, releasing the element afterwards.
func (t *tools) withElement(ctx context.Context, in ElementInput, action string, fn func(browser.Element) (*mcp.CallToolResult, error)) (*mcp.CallToolResult, error) {
	if err := requireTab(in.TabID); err != nil {
		return nil, err
	}
	if in.ID == "" {
		return nil, NewValidationError("id is required", "id")
	}
	el, err := t.browser.Element(ctx, browser.TabID(in.TabID), in.ID, in.Mode)
	if err != nil {
		return nil, browserError(err, action)
	}
	defer el.Dispose()
	return fn(el)
}

func actionResult(res *browser.ActionResult, err error, action string) (*mcp.CallToolResult, error) {
	if err != nil {
		return nil, browserError(err, action)
	}
	if res == nil || !res.Success {
		msg := action + " failed"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		return nil, &ToolError{Code: "failed", Message: msg}
	}
	return textResult(res.Message), nil
}

func (t *tools) click(ctx context.Context, in ClickInput) (*mcp.CallToolResult, error) {
	return t.withElement(ctx, ElementInput{TabID: in.TabID, ID: in.ID, Mode: in.Mode}, "click", func(el browser.Element) (*mcp.CallToolResult, error) {
		opts := browser.ClickOptions{Count: 1}
		if in.DoubleClick {
			opts.Count = 2
		}
		res, err := el.Click(ctx, opts)
		return actionResult(res, err, "click")
	})
}

func (t *tools) fill(ctx context.Context, in FillInput) (*mcp.CallToolResult, error) {
	return t.withElement(ctx, ElementInput{TabID: in.TabID, ID: in.ID, Mode: in.Mode}, "fill", func(el browser.Element) (*mcp.CallToolResult, error) {
		res, err := el.Fill(ctx, in.Value)
		return actionResult(res, err, "fill")
	})
}

func (t *tools) hover(ctx context.Context, in ElementInput) (*mcp.CallToolResult, error) {
	return t.withElement(ctx, in, "hover", func(el browser.Element) (*mcp.CallToolResult, error) {
		res, err := el.Hover(ctx)
		return actionResult(res, err, "hover")
	})
}

func (t *tools) value(ctx context.Context, in ElementInput) (*mcp.CallToolResult, error) {
	return t.withElement(ctx, in, "read value", func(el browser.Element) (*mcp.CallToolResult, error) {
		v, err := el.EditorValue(ctx)
		if err != nil {
			return nil, browserError(err, "read value")
		}
		if v == nil {
			return textResult("No editor found at " + in.ID), nil
		}
		return textResult(*v), nil
	})
}

func (t *tools) highlight(ctx context.Context, in HighlightInput) (*mcp.CallToolResult, error) {
	return t.withElement(ctx, ElementInput{TabID: in.TabID, ID: in.ID, Mode: in.Mode}, "highlight", func(el browser.Element) (*mcp.CallToolResult, error) {
		d := time.Duration(in.DurationMs) * time.Millisecond
		if d <= 0 {
			d = defaultHighlight
		}
		if err := el.Highlight(ctx, d); err != nil {
			return nil, browserError(err, "highlight")
		}
		return textResult("Highlighted " + in.ID), nil
	})
}
