// Package mcp exposes a browser engine as MCP tools.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neboloop/pagepilot/internal/axtree"
	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/search"
)

// Version is reported to MCP clients.
const Version = "0.3.0"

// Browser is the part of browser.Engine the tools drive.
type Browser interface {
	Tabs(ctx context.Context) ([]browser.TabInfo, error)
	Snapshot(ctx context.Context, tab browser.TabID, mode string) (*axtree.Snapshot, error)
	Search(tab browser.TabID, mode, query string, opts search.Options) (search.Result, error)
	Element(ctx context.Context, tab browser.TabID, id, mode string) (browser.Element, error)
}

// SnapshotSaver persists snapshots taken through the tools.
type SnapshotSaver interface {
	Save(ctx context.Context, snap *axtree.Snapshot) error
}

// Options configures NewServer.
type Options struct {
	Name string
	// Store is optional.
	Store  SnapshotSaver
	Logger *slog.Logger
}

// NewServer creates an MCP server with every browser tool registered.
func NewServer(b Browser, opts Options) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "pagepilot"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    opts.Name,
		Version: Version,
	}, nil)

	t := &tools{
		browser: b,
		store:   opts.Store,
		logger:  opts.Logger.With("component", "mcp"),
	}
	t.register(server)
	return server
}

// ServeStdio runs server over stdin/stdout until ctx is done or the client
// goes away.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
