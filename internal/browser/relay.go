package browser

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// ErrExtensionNotConnected is returned while no extension holds the relay
// socket.
var ErrExtensionNotConnected = errors.New("extension not connected")

// extensionRequestTimeout bounds any single round trip to the extension.
const extensionRequestTimeout = 30 * time.Second

func truncateRelay(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ExtensionRelay is a Transport backed by the pagepilot browser extension.
// The extension connects over a websocket and owns chrome.debugger; the
// relay forwards protocol commands to it and turns its events into session
// signals. Content-script requests for the DOM-only strategy travel the same
// socket.
type ExtensionRelay struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // Protects writes to extensionWS

	authToken string
	events    *EventBus
	logger    *slog.Logger

	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	extensionWS *websocket.Conn

	// Tabs the extension has attached the debugger to, by tab id.
	attached map[TabID]*ConnectedTarget

	// Pending requests to extension
	pendingRequests map[int]*pendingRequest
	nextRequestID   int

	stopped bool
}

// ConnectedTarget represents a tab attached via the extension.
type ConnectedTarget struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

type pendingRequest struct {
	resolve chan json.RawMessage
	reject  chan error
	timer   *time.Timer
}

func (p *pendingRequest) fail(err error) {
	select {
	case p.reject <- err:
	default:
	}
}

// Extension protocol types
type extensionCommand struct {
	ID     int                     `json:"id"`
	Method string                  `json:"method"`
	Params *extensionCommandParams `json:"params,omitempty"`
}

type extensionCommandParams struct {
	TabID     string `json:"tabId,omitempty"`
	Method    string `json:"method,omitempty"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Script    string `json:"script,omitempty"`
	Message   any    `json:"message,omitempty"`
}

type extensionResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type extensionEvent struct {
	Method string                `json:"method"`
	Params *extensionEventParams `json:"params,omitempty"`
}

type extensionEventParams struct {
	TabID     string         `json:"tabId,omitempty"`
	Method    string         `json:"method,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Methods understood by the extension.
const (
	extAttach         = "attachToTab"
	extDetach         = "detachFromTab"
	extForward        = "forwardCDPCommand"
	extRunScript      = "runScript"
	extContentMessage = "sendContentMessage"
	extListTabs       = "listTabs"
)

// NewExtensionRelay creates a relay. Mount Handler on a server or call
// Start to listen on an address.
func NewExtensionRelay(events *EventBus, logger *slog.Logger) (*ExtensionRelay, error) {
	// Generate auth token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ExtensionRelay{
		authToken:       base64.URLEncoding.EncodeToString(tokenBytes),
		events:          events,
		logger:          logger.With("component", "relay"),
		attached:        make(map[TabID]*ConnectedTarget),
		pendingRequests: make(map[int]*pendingRequest),
		nextRequestID:   1,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Allow Chrome extensions and direct connections
				return origin == "" || strings.HasPrefix(origin, "chrome-extension://")
			},
		},
	}, nil
}

// Start serves Handler on addr until Stop is called.
func (r *ExtensionRelay) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r.mu.Lock()
	r.listener = listener
	r.server = &http.Server{Addr: addr, Handler: r.Handler(), ReadHeaderTimeout: 10 * time.Second}
	server := r.server
	r.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("relay server error", "error", err)
		}
	}()
	r.logger.Info("relay listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the listen address after Start.
func (r *ExtensionRelay) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Stop disconnects the extension, rejects pending requests and shuts the
// server down.
func (r *ExtensionRelay) Stop() error {
	r.mu.Lock()
	r.stopped = true

	// Close extension connection
	if r.extensionWS != nil {
		r.extensionWS.Close()
		r.extensionWS = nil
	}

	// Cancel pending requests
	for id, req := range r.pendingRequests {
		req.timer.Stop()
		req.fail(fmt.Errorf("relay stopped"))
		delete(r.pendingRequests, id)
	}
	server := r.server
	r.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// ExtensionConnected returns true if a Chrome extension is connected.
func (r *ExtensionRelay) ExtensionConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensionWS != nil
}

// AuthToken returns the token non-loopback callers must send in
// RelayAuthHeader.
func (r *ExtensionRelay) AuthToken() string {
	return r.authToken
}

// Handler returns an http.Handler that can be mounted on an existing server.
func (r *ExtensionRelay) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/", r.HandleRoot)
	router.Head("/", r.HandleRoot)
	router.Get("/extension/status", r.HandleExtensionStatus)
	router.Get("/json", r.HandleJSONList)
	router.Get("/json/list", r.HandleJSONList)
	router.HandleFunc("/extension", r.HandleExtensionWS)
	return router
}

// HTTP Handlers

func (r *ExtensionRelay) HandleRoot(w http.ResponseWriter, req *http.Request) {
	w.Write([]byte("OK"))
}

func (r *ExtensionRelay) HandleExtensionStatus(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	n := len(r.attached)
	r.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"connected": r.ExtensionConnected(),
		"attached":  n,
	})
}

func (r *ExtensionRelay) HandleJSONList(w http.ResponseWriter, req *http.Request) {
	if !r.checkAuth(w, req) {
		return
	}

	tabs, err := r.Tabs(req.Context())
	if err != nil {
		http.Error(w, WrapError(err, "list tabs").Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tabs)
}

func (r *ExtensionRelay) checkAuth(w http.ResponseWriter, req *http.Request) bool {
	token := req.Header.Get(RelayAuthHeader)

	// Allow loopback connections without token
	remoteIP := req.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	if isLoopbackIP(remoteIP) && token == "" {
		return true
	}
	if token != r.authToken {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// HandleExtensionWS accepts the extension's socket. Only one extension may
// be connected at a time.
func (r *ExtensionRelay) HandleExtensionWS(w http.ResponseWriter, req *http.Request) {
	// Only allow loopback
	remoteIP := req.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	if !isLoopbackIP(remoteIP) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	r.mu.Lock()
	if r.extensionWS != nil || r.stopped {
		r.mu.Unlock()
		r.logger.Debug("extension connection rejected: already connected")
		http.Error(w, "Extension already connected", http.StatusConflict)
		return
	}
	r.mu.Unlock()

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("extension upgrade failed", "error", err)
		return
	}

	r.logger.Info("extension connected", "remote", req.RemoteAddr)
	r.mu.Lock()
	r.extensionWS = ws
	r.mu.Unlock()

	// Start ping ticker
	pingTicker := time.NewTicker(5 * time.Second)
	defer pingTicker.Stop()
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
			}
			r.writeMu.Lock()
			err := ws.WriteJSON(map[string]string{"method": "ping"})
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	// Read messages from extension
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			r.logger.Debug("extension read error (disconnecting)", "error", err)
			break
		}
		r.handleExtensionMessage(message)
	}

	// Cleanup on disconnect
	r.mu.Lock()
	if r.extensionWS == ws {
		r.extensionWS = nil
	}
	lost := make([]TabID, 0, len(r.attached))
	for tab := range r.attached {
		lost = append(lost, tab)
	}
	r.attached = make(map[TabID]*ConnectedTarget)

	// Reject pending requests
	for id, req := range r.pendingRequests {
		req.timer.Stop()
		req.fail(ErrExtensionNotConnected)
		delete(r.pendingRequests, id)
	}
	r.mu.Unlock()
	ws.Close()

	r.logger.Info("extension disconnected", "tabs", len(lost))
	for _, tab := range lost {
		r.sessionLost(tab, "extension disconnected")
	}
}

// Message handling

func (r *ExtensionRelay) handleExtensionMessage(data []byte) {
	r.logger.Debug("extension message", "data", truncateRelay(string(data), 300))

	// Try to parse as response first
	var resp extensionResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID > 0 {
		r.mu.Lock()
		pending := r.pendingRequests[resp.ID]
		delete(r.pendingRequests, resp.ID)
		r.mu.Unlock()

		if pending != nil {
			pending.timer.Stop()
			if resp.Error != "" {
				pending.fail(errors.New(resp.Error))
			} else {
				pending.resolve <- resp.Result
			}
		}
		return
	}

	var evt extensionEvent
	if err := json.Unmarshal(data, &evt); err != nil || evt.Params == nil {
		return
	}

	switch evt.Method {
	case "tabClosed":
		r.tabClosed(TabID(evt.Params.TabID))
	case "debuggerDetached":
		reason := evt.Params.Reason
		if reason == "" {
			reason = "debugger detached"
		}
		r.sessionLost(TabID(evt.Params.TabID), reason)
	case "forwardCDPEvent":
		r.handleCDPEvent(evt.Params)
	}
}

func (r *ExtensionRelay) handleCDPEvent(p *extensionEventParams) {
	tab := TabID(p.TabID)
	switch p.Method {
	case "Target.attachedToTarget":
		info, _ := p.Params["targetInfo"].(map[string]any)
		sessionID, _ := p.Params["sessionId"].(string)
		if info == nil {
			return
		}
		targetID, _ := info["targetId"].(string)
		if targetType, _ := info["type"].(string); targetType != "" && targetType != "page" {
			return
		}
		title, _ := info["title"].(string)
		url, _ := info["url"].(string)
		if tab == "" {
			tab = TabID(targetID)
		}
		r.mu.Lock()
		r.attached[tab] = &ConnectedTarget{SessionID: sessionID, TargetID: targetID, Title: title, URL: url}
		r.mu.Unlock()
	case "Target.detachedFromTarget", "Inspector.detached":
		reason, _ := p.Params["reason"].(string)
		if reason == "" {
			reason = "target detached"
		}
		r.sessionLost(tab, reason)
	case "Target.targetDestroyed":
		r.tabClosed(tab)
	case "Target.targetInfoChanged":
		info, _ := p.Params["targetInfo"].(map[string]any)
		if info == nil {
			return
		}
		targetID, _ := info["targetId"].(string)
		r.mu.Lock()
		for _, t := range r.attached {
			if t.TargetID == targetID {
				if title, ok := info["title"].(string); ok {
					t.Title = title
				}
				if url, ok := info["url"].(string); ok {
					t.URL = url
				}
			}
		}
		r.mu.Unlock()
	}
}

func (r *ExtensionRelay) sessionLost(tab TabID, reason string) {
	if tab == "" {
		return
	}
	r.mu.Lock()
	delete(r.attached, tab)
	r.mu.Unlock()
	if r.events != nil {
		r.events.SessionLost(tab, reason)
	}
}

func (r *ExtensionRelay) tabClosed(tab TabID) {
	if tab == "" {
		return
	}
	r.mu.Lock()
	delete(r.attached, tab)
	r.mu.Unlock()
	if r.events != nil {
		r.events.TabClosed(tab)
	}
}

// Transport

// Attach asks the extension to attach the debugger to tab.
func (r *ExtensionRelay) Attach(ctx context.Context, tab TabID) error {
	raw, err := r.sendToExtension(ctx, extAttach, &extensionCommandParams{TabID: string(tab)})
	if err != nil {
		return err
	}
	var res struct {
		SessionID string `json:"sessionId"`
		TargetID  string `json:"targetId"`
	}
	_ = remarshal(raw, &res)

	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.attached[tab]; t != nil {
		if res.SessionID != "" {
			t.SessionID = res.SessionID
		}
		return nil
	}
	r.attached[tab] = &ConnectedTarget{SessionID: res.SessionID, TargetID: res.TargetID}
	return nil
}

// Detach asks the extension to release tab.
func (r *ExtensionRelay) Detach(ctx context.Context, tab TabID) error {
	r.mu.Lock()
	delete(r.attached, tab)
	r.mu.Unlock()
	_, err := r.sendToExtension(ctx, extDetach, &extensionCommandParams{TabID: string(tab)})
	return err
}

// Execute forwards one protocol command for tab.
func (r *ExtensionRelay) Execute(ctx context.Context, tab TabID, method string, params, result any) error {
	r.mu.RLock()
	t := r.attached[tab]
	r.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("tab %s is not attached", tab)
	}

	raw, err := r.sendToExtension(ctx, extForward, &extensionCommandParams{
		TabID:     string(tab),
		Method:    method,
		Params:    params,
		SessionID: t.SessionID,
	})
	if err != nil {
		return err
	}
	return remarshal(raw, result)
}

// Tabs lists the tabs the extension can see.
func (r *ExtensionRelay) Tabs(ctx context.Context) ([]TabInfo, error) {
	raw, err := r.sendToExtension(ctx, extListTabs, &extensionCommandParams{})
	if err != nil {
		return nil, err
	}
	var tabs []TabInfo
	if err := remarshal(raw, &tabs); err != nil {
		return nil, fmt.Errorf("decode tab list: %w", err)
	}
	for i := range tabs {
		if tabs[i].Type == "" {
			tabs[i].Type = "page"
		}
	}
	return tabs, nil
}

// RunScript evaluates script in tab through the content script.
func (r *ExtensionRelay) RunScript(ctx context.Context, tab TabID, script string, result any) error {
	raw, err := r.sendToExtension(ctx, extRunScript, &extensionCommandParams{TabID: string(tab), Script: script})
	if err != nil {
		return err
	}
	return remarshal(raw, result)
}

// ClearOverlays removes pagepilot overlay frames from tab.
func (r *ExtensionRelay) ClearOverlays(ctx context.Context, tab TabID) (int, error) {
	if !r.ExtensionConnected() {
		return 0, nil
	}
	var removed int
	err := r.RunScript(ctx, tab, overlayCleanupExpression(), &removed)
	return removed, err
}

// CollectDOMSnapshot sends the collect-dom-snapshot message to tab's
// content script.
func (r *ExtensionRelay) CollectDOMSnapshot(ctx context.Context, tab TabID, opts DOMSnapshotOptions) (*DOMSnapshotResponse, error) {
	raw, err := r.sendToExtension(ctx, extContentMessage, &extensionCommandParams{
		TabID:   string(tab),
		Message: DOMSnapshotRequest{Type: MessageCollectDOMSnapshot, Options: opts},
	})
	if err != nil {
		return nil, err
	}
	var resp DOMSnapshotResponse
	if err := remarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode dom snapshot: %w", err)
	}
	return &resp, nil
}

func (r *ExtensionRelay) sendToExtension(ctx context.Context, method string, params *extensionCommandParams) (json.RawMessage, error) {
	r.mu.RLock()
	ws := r.extensionWS
	r.mu.RUnlock()

	if ws == nil {
		return nil, ErrExtensionNotConnected
	}

	cmd := &extensionCommand{ID: r.nextID(), Method: method, Params: params}
	resolve := make(chan json.RawMessage, 1)
	reject := make(chan error, 1)
	timer := time.AfterFunc(extensionRequestTimeout, func() {
		r.mu.Lock()
		delete(r.pendingRequests, cmd.ID)
		r.mu.Unlock()
		select {
		case reject <- fmt.Errorf("extension request timeout"):
		default:
		}
	})

	r.mu.Lock()
	r.pendingRequests[cmd.ID] = &pendingRequest{
		resolve: resolve,
		reject:  reject,
		timer:   timer,
	}
	r.mu.Unlock()

	r.writeMu.Lock()
	err := ws.WriteJSON(cmd)
	r.writeMu.Unlock()

	if err != nil {
		r.dropPending(cmd.ID)
		return nil, err
	}

	select {
	case result := <-resolve:
		return result, nil
	case err := <-reject:
		return nil, err
	case <-ctx.Done():
		r.dropPending(cmd.ID)
		return nil, ctx.Err()
	}
}

func (r *ExtensionRelay) dropPending(id int) {
	r.mu.Lock()
	if p := r.pendingRequests[id]; p != nil {
		p.timer.Stop()
		delete(r.pendingRequests, id)
	}
	r.mu.Unlock()
}

func (r *ExtensionRelay) nextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextRequestID
	r.nextRequestID++
	return id
}

func isLoopbackHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	return h == "localhost" || h == "127.0.0.1" || h == "0.0.0.0" ||
		h == "[::1]" || h == "::1" || h == "[::]" || h == "::"
}

func isLoopbackIP(ip string) bool {
	if ip == "127.0.0.1" || strings.HasPrefix(ip, "127.") {
		return true
	}
	if ip == "::1" || strings.HasPrefix(ip, "::ffff:127.") {
		return true
	}
	return false
}
