package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeCall struct {
	Tab    TabID
	Method string
	Params json.RawMessage
}

// fakeHandler answers one protocol method. The returned value is copied into
// the caller's result through JSON.
type fakeHandler func(ctx context.Context, tab TabID, params json.RawMessage) (any, error)

// fakeTransport records every call and answers from per-method handlers.
// Methods without a handler succeed with an empty result.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]fakeHandler
	calls    []fakeCall
	attaches map[TabID]int
	detaches map[TabID]int

	attachErr  error
	attachGate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]fakeHandler),
		attaches: make(map[TabID]int),
		detaches: make(map[TabID]int),
	}
}

func (f *fakeTransport) handle(method string, h fakeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// reply registers a handler that always returns v.
func (f *fakeTransport) reply(method string, v any) {
	f.handle(method, func(context.Context, TabID, json.RawMessage) (any, error) { return v, nil })
}

func (f *fakeTransport) Attach(ctx context.Context, tab TabID) error {
	f.mu.Lock()
	f.attaches[tab]++
	gate, err := f.attachGate, f.attachErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) Detach(_ context.Context, tab TabID) error {
	f.mu.Lock()
	f.detaches[tab]++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Execute(ctx context.Context, tab TabID, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Tab: tab, Method: method, Params: raw})
	h := f.handlers[method]
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	v, err := h(ctx, tab, raw)
	if err != nil {
		return err
	}
	return remarshal(v, result)
}

func (f *fakeTransport) attachCount(tab TabID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attaches[tab]
}

func (f *fakeTransport) detachCount(tab TabID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detaches[tab]
}

// callsTo returns the recorded calls of method in order.
func (f *fakeTransport) callsTo(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, ft *fakeTransport, events SessionEvents) *SessionRegistry {
	t.Helper()
	logger := discardLogger()
	r := NewSessionRegistry(RegistryOptions{
		Transport:    ft,
		Channel:      NewCommandChannel(ft, WithCommandTimeout(2*time.Second), WithChannelLogger(logger)),
		Events:       events,
		IdleTimeout:  time.Minute,
		OverlayPause: time.Millisecond,
		Logger:       logger,
	})
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

// quad returns a content quad for the rect x, y, w, h.
func quad(x, y, w, h float64) []float64 {
	return []float64{x, y, x + w, y, x + w, y + h, x, y + h}
}

func boxModel(x, y, w, h float64) map[string]any {
	return map[string]any{"model": map[string]any{"content": quad(x, y, w, h), "width": w, "height": h}}
}

type backendParams struct {
	BackendNodeID int64  `json:"backendNodeId"`
	FrameID       string `json:"frameId"`
}

// decodeBackend runs on transport goroutines, so it cannot fail the test.
func decodeBackend(raw json.RawMessage) backendParams {
	var p backendParams
	_ = json.Unmarshal(raw, &p)
	return p
}

type callFunctionParams struct {
	FunctionDeclaration string           `json:"functionDeclaration"`
	ObjectID            string           `json:"objectId"`
	Arguments           []map[string]any `json:"arguments"`
}

// byValue wraps v as a Runtime.callFunctionOn / evaluate result.
func byValue(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": fmt.Sprintf("%T", v), "value": v}}
}

// objectIDs resolves backend node n to the remote object "obj-n".
func objectIDs() fakeHandler {
	return func(_ context.Context, _ TabID, raw json.RawMessage) (any, error) {
		p := decodeBackend(raw)
		return map[string]any{"object": map[string]any{"type": "object", "objectId": fmt.Sprintf("obj-%d", p.BackendNodeID)}}, nil
	}
}
