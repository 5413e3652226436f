package browser

import (
	"context"
	"encoding/json"
)

// TabID identifies a browser tab (a CDP page target id).
type TabID string

// Transport is the host's channel to the remote debugging protocol. Execute
// may only be called for an attached tab.
type Transport interface {
	Attach(ctx context.Context, tab TabID) error
	Detach(ctx context.Context, tab TabID) error
	Execute(ctx context.Context, tab TabID, method string, params, result any) error
}

// TabLister is implemented by transports that can enumerate tabs.
type TabLister interface {
	Tabs(ctx context.Context) ([]TabInfo, error)
}

// OverlayCleaner removes pagepilot's own overlay frames from a tab so they
// cannot intercept input. It reports how many were removed.
type OverlayCleaner interface {
	ClearOverlays(ctx context.Context, tab TabID) (int, error)
}

// ScriptRunner evaluates a script in the page without a debugging session.
// It backs the DOM-only strategy.
type ScriptRunner interface {
	RunScript(ctx context.Context, tab TabID, script string, result any) error
}

// DOMSnapshotClient asks the page's content script for a DOM snapshot.
type DOMSnapshotClient interface {
	CollectDOMSnapshot(ctx context.Context, tab TabID, opts DOMSnapshotOptions) (*DOMSnapshotResponse, error)
}

// TabInfo describes an open tab.
type TabInfo struct {
	ID    TabID  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SessionEvents delivers session signals raised outside the engine. Each
// method returns a function that removes the handler.
type SessionEvents interface {
	OnSessionLost(fn func(tab TabID, reason string)) (unsubscribe func())
	OnTabClosed(fn func(tab TabID)) (unsubscribe func())
}

// remarshal copies a decoded JSON value into result.
func remarshal(v any, result any) error {
	if result == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return json.Unmarshal(raw, result)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}
