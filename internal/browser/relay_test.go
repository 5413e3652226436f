package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtension plays the browser extension's side of the relay socket.
type fakeExtension struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	received []extensionCommand
	respond  func(cmd extensionCommand) (result any, errMsg string)
}

func connectExtension(t *testing.T, srv *httptest.Server, relay *ExtensionRelay, respond func(extensionCommand) (any, string)) *fakeExtension {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/extension"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ext := &fakeExtension{conn: conn, respond: respond}
	go ext.serve()
	require.Eventually(t, relay.ExtensionConnected, time.Second, time.Millisecond)
	return ext
}

func (f *fakeExtension) serve() {
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd extensionCommand
		if json.Unmarshal(data, &cmd) != nil || cmd.ID == 0 {
			continue // ping
		}
		f.mu.Lock()
		f.received = append(f.received, cmd)
		respond := f.respond
		f.mu.Unlock()

		result, errMsg := respond(cmd)
		resp := extensionResponse{ID: cmd.ID, Error: errMsg}
		if result != nil {
			resp.Result, _ = json.Marshal(result)
		}
		f.send(resp)
	}
}

func (f *fakeExtension) send(v any) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = f.conn.WriteJSON(v)
}

func (f *fakeExtension) commands(method string) []extensionCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []extensionCommand
	for _, c := range f.received {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestRelay(t *testing.T) (*ExtensionRelay, *EventBus, *httptest.Server) {
	t.Helper()
	bus := NewEventBus(discardLogger())
	relay, err := NewExtensionRelay(bus, discardLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		_ = relay.Stop()
		srv.Close()
		bus.Close()
	})
	return relay, bus, srv
}

// chromeLike answers the extension protocol the way the real extension
// does for a page with one tab.
func chromeLike(cmd extensionCommand) (any, string) {
	switch cmd.Method {
	case extAttach:
		return map[string]any{"sessionId": "s-" + cmd.Params.TabID, "targetId": "T" + cmd.Params.TabID}, ""
	case extDetach:
		return map[string]any{}, ""
	case extListTabs:
		return []map[string]any{{"id": "7", "title": "Shop", "url": "https://shop.test/"}}, ""
	case extForward:
		if cmd.Params.Method == "DOM.getBoxModel" {
			return boxModel(1, 2, 3, 4), ""
		}
		return nil, "'" + cmd.Params.Method + "' wasn't found"
	case extRunScript:
		return 2, ""
	case extContentMessage:
		return DOMSnapshotResponse{Success: true, Data: sampleDOMSnapshot()}, ""
	}
	return nil, "unknown method"
}

func TestRelayWithoutExtension(t *testing.T) {
	relay, _, _ := newTestRelay(t)

	_, err := relay.Tabs(context.Background())
	assert.ErrorIs(t, err, ErrExtensionNotConnected)

	err = relay.Execute(context.Background(), "7", "DOM.enable", nil, nil)
	assert.Error(t, err)

	removed, err := relay.ClearOverlays(context.Background(), "7")
	assert.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRelayForwardsCommands(t *testing.T) {
	relay, _, srv := newTestRelay(t)
	ext := connectExtension(t, srv, relay, chromeLike)
	ctx := context.Background()

	require.NoError(t, relay.Attach(ctx, "7"))

	var res boxModelResult
	require.NoError(t, relay.Execute(ctx, "7", "DOM.getBoxModel", map[string]any{"backendNodeId": 42}, &res))
	require.NotNil(t, res.Model)
	assert.Equal(t, quad(1, 2, 3, 4), res.Model.Content)

	fwd := ext.commands(extForward)
	require.Len(t, fwd, 1)
	assert.Equal(t, "7", fwd[0].Params.TabID)
	assert.Equal(t, "DOM.getBoxModel", fwd[0].Params.Method)
	assert.Equal(t, "s-7", fwd[0].Params.SessionID)

	err := relay.Execute(ctx, "7", "Bogus.method", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wasn't found")

	require.NoError(t, relay.Detach(ctx, "7"))
	assert.Error(t, relay.Execute(ctx, "7", "DOM.getBoxModel", nil, nil))
}

func TestRelayContentScriptCalls(t *testing.T) {
	relay, _, srv := newTestRelay(t)
	ext := connectExtension(t, srv, relay, chromeLike)
	ctx := context.Background()

	removed, err := relay.ClearOverlays(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	run := ext.commands(extRunScript)
	require.Len(t, run, 1)
	assert.Contains(t, run[0].Params.Script, OverlayAttribute)

	resp, err := relay.CollectDOMSnapshot(ctx, "7", DOMSnapshotOptions{MarkerAttribute: MarkerAttribute})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "Cart", resp.Data.Title)

	msgs := ext.commands(extContentMessage)
	require.Len(t, msgs, 1)
	msg, ok := msgs[0].Params.Message.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, MessageCollectDOMSnapshot, msg["type"])
}

func TestRelayTabsOverHTTP(t *testing.T) {
	relay, _, srv := newTestRelay(t)
	connectExtension(t, srv, relay, chromeLike)

	resp, err := http.Get(srv.URL + "/json/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tabs []TabInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tabs))
	require.Len(t, tabs, 1)
	assert.Equal(t, TabID("7"), tabs[0].ID)
	assert.Equal(t, "page", tabs[0].Type)

	status, err := http.Get(srv.URL + "/extension/status")
	require.NoError(t, err)
	defer status.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(status.Body).Decode(&body))
	assert.Equal(t, true, body["connected"])
}

func TestRelayRejectsSecondExtension(t *testing.T) {
	relay, _, srv := newTestRelay(t)
	connectExtension(t, srv, relay, chromeLike)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/extension"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRelayDebuggerDetachedEvent(t *testing.T) {
	relay, bus, srv := newTestRelay(t)
	ext := connectExtension(t, srv, relay, chromeLike)

	lost := make(chan string, 1)
	unsub := bus.OnSessionLost(func(tab TabID, reason string) {
		lost <- string(tab) + ":" + reason
	})
	defer unsub()

	require.NoError(t, relay.Attach(context.Background(), "7"))
	ext.send(map[string]any{
		"method": "debuggerDetached",
		"params": map[string]any{"tabId": "7", "reason": "canceled_by_user"},
	})

	select {
	case got := <-lost:
		assert.Equal(t, "7:canceled_by_user", got)
	case <-time.After(time.Second):
		t.Fatal("session-lost not emitted")
	}
	assert.Error(t, relay.Execute(context.Background(), "7", "DOM.getBoxModel", nil, nil))
}

func TestRelayTargetDestroyedClosesTab(t *testing.T) {
	relay, bus, srv := newTestRelay(t)
	ext := connectExtension(t, srv, relay, chromeLike)

	closed := make(chan TabID, 1)
	unsub := bus.OnTabClosed(func(tab TabID) { closed <- tab })
	defer unsub()

	ext.send(map[string]any{
		"method": "forwardCDPEvent",
		"params": map[string]any{"tabId": "7", "method": "Target.targetDestroyed", "params": map[string]any{"targetId": "T7"}},
	})
	select {
	case tab := <-closed:
		assert.Equal(t, TabID("7"), tab)
	case <-time.After(time.Second):
		t.Fatal("tab-closed not emitted")
	}
}

func TestRelayDisconnectLosesSessions(t *testing.T) {
	relay, bus, srv := newTestRelay(t)
	ext := connectExtension(t, srv, relay, chromeLike)

	lost := make(chan string, 2)
	unsub := bus.OnSessionLost(func(tab TabID, reason string) { lost <- reason })
	defer unsub()

	require.NoError(t, relay.Attach(context.Background(), "7"))
	ext.conn.Close()

	select {
	case reason := <-lost:
		assert.Equal(t, "extension disconnected", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("session-lost not emitted on disconnect")
	}
	assert.Eventually(t, func() bool { return !relay.ExtensionConnected() }, time.Second, time.Millisecond)
}

func TestRelayRequestHonorsContext(t *testing.T) {
	relay, _, srv := newTestRelay(t)
	connectExtension(t, srv, relay, func(extensionCommand) (any, string) {
		time.Sleep(200 * time.Millisecond)
		return map[string]any{}, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := relay.Tabs(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelayRegistryEndToEnd(t *testing.T) {
	relay, bus, srv := newTestRelay(t)
	connectExtension(t, srv, relay, chromeLike)

	r := NewSessionRegistry(RegistryOptions{Transport: relay, Events: bus, Logger: discardLogger()})
	defer r.Close(context.Background())

	require.True(t, r.Attach(context.Background(), "7"))
	var res boxModelResult
	require.NoError(t, r.Channel().Send(context.Background(), "7", "DOM.getBoxModel", nil, &res, time.Second))
	assert.NotNil(t, res.Model)
}
