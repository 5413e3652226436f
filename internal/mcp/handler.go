package mcp

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewHandler serves server over streamable HTTP. Every response carries an
// Mcp-Session-Id so clients that do not send one can still correlate.
func NewHandler(server *mcp.Server, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp-http")

	stream := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			sessionID = uuid.New().String()
			r.Header.Set("Mcp-Session-Id", sessionID)
		}
		logger.Debug("mcp request", "method", r.Method, "path", r.URL.Path, "session", sessionID)
		w.Header().Set("Mcp-Session-Id", sessionID)
		stream.ServeHTTP(w, r)
	})
}
