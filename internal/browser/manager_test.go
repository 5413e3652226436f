package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/pagepilot/internal/search"
)

func newTestEngine(t *testing.T, tr Transport, mode string) *Engine {
	t.Helper()
	e := NewEngine(EngineOptions{
		Config: ResolveConfig(Config{
			Mode:           mode,
			CommandTimeout: 2 * time.Second,
			ActionTimeout:  2 * time.Second,
			OverlayPause:   time.Millisecond,
		}),
		Transport: tr,
		NewID:     sequentialIDs(),
		Logger:    discardLogger(),
	})
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEngineModes(t *testing.T) {
	cdpOnly := newTestEngine(t, newFakeTransport(), "")
	assert.Equal(t, []string{ModeCDP}, cdpOnly.Modes())
	_, err := cdpOnly.Strategy("tab", ModeDOM)
	assert.Error(t, err)

	both := newTestEngine(t, newDOMTransport(), "")
	assert.Equal(t, []string{ModeCDP, ModeDOM}, both.Modes())
}

func TestEngineDefaultModeFromConfig(t *testing.T) {
	e := newTestEngine(t, newDOMTransport(), ModeDOM)
	st, err := e.Strategy("tab", "")
	require.NoError(t, err)
	assert.Equal(t, ModeDOM, st.Mode())
}

func TestEngineSwitchingModeClearsOtherCache(t *testing.T) {
	dt := newDOMTransport()
	installPage(dt.fakeTransport)
	dt.snapshot = &DOMSnapshotResponse{Success: true, Data: sampleDOMSnapshot()}
	e := newTestEngine(t, dt, ModeCDP)

	cdpSnap, err := e.Snapshot(context.Background(), "tab", "")
	require.NoError(t, err)
	assert.Equal(t, ModeCDP, cdpSnap.Mode)
	_, err = e.Cached("tab", ModeCDP)
	require.NoError(t, err)

	domSnap, err := e.Snapshot(context.Background(), "tab", ModeDOM)
	require.NoError(t, err)
	assert.Equal(t, ModeDOM, domSnap.Mode)

	cdp, err := e.strategies.get(ModeCDP)
	require.NoError(t, err)
	_, ok := cdp.Cache().Get("tab")
	assert.False(t, ok, "cdp snapshot is dropped after switching to dom")

	// Other tabs keep their cached snapshots.
	_, err = e.Snapshot(context.Background(), "other", ModeCDP)
	require.NoError(t, err)
	_, err = e.Snapshot(context.Background(), "tab", ModeDOM)
	require.NoError(t, err)
	_, ok = cdp.Cache().Get("other")
	assert.True(t, ok)
}

func TestEngineElementByMode(t *testing.T) {
	dt := newDOMTransport()
	installPage(dt.fakeTransport)
	dt.snapshot = &DOMSnapshotResponse{Success: true, Data: sampleDOMSnapshot()}
	e := newTestEngine(t, dt, ModeCDP)

	_, err := e.Element(context.Background(), "tab", "keep1", "")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = e.Snapshot(context.Background(), "tab", "")
	require.NoError(t, err)
	el, err := e.Element(context.Background(), "tab", "keep1", "")
	require.NoError(t, err)
	assert.IsType(t, &Locator{}, el)
	assert.Equal(t, "OK", el.Node().Name)

	_, err = e.Snapshot(context.Background(), "tab", ModeDOM)
	require.NoError(t, err)
	el, err = e.Element(context.Background(), "tab", "d2", ModeDOM)
	require.NoError(t, err)
	assert.IsType(t, &DOMLocator{}, el)
}

func TestEngineRestoreAndSearch(t *testing.T) {
	dt := newDOMTransport()
	dt.snapshot = &DOMSnapshotResponse{Success: true, Data: sampleDOMSnapshot()}
	first := newTestEngine(t, dt, ModeDOM)
	snap, err := first.Snapshot(context.Background(), "tab", "")
	require.NoError(t, err)

	second := newTestEngine(t, dt, ModeCDP)
	restored := *snap
	restored.Index = nil
	require.NoError(t, second.Restore(&restored))

	el, err := second.Element(context.Background(), "tab", "d2", ModeDOM)
	require.NoError(t, err)
	assert.Equal(t, "Pay", el.Node().Name)

	res, err := second.Search("tab", ModeDOM, "pay|gift", search.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalMatches)
}

func TestEngineTabsRequiresLister(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), "")
	_, err := e.Tabs(context.Background())
	assert.Error(t, err)
}

func TestEngineClose(t *testing.T) {
	ft := newFakeTransport()
	e := newTestEngine(t, ft, "")
	require.True(t, e.Registry().Attach(context.Background(), "tab"))

	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, 1, ft.detachCount("tab"))
	_, err := e.Strategy("tab", "")
	assert.Error(t, err)
}

func TestEngineReload(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("Page.enable", blockUntilDone)
	e := newTestEngine(t, ft, ModeCDP)

	e.Reload(Config{Mode: ModeDOM, CommandTimeout: 30 * time.Millisecond, IdleTimeout: time.Hour})
	assert.Equal(t, ModeDOM, e.Config().Mode)
	assert.Equal(t, 30*time.Millisecond, e.Config().CommandTimeout)
	assert.Equal(t, time.Hour, e.Config().IdleTimeout)

	start := time.Now()
	err := e.channel.Send(context.Background(), "tab", "Page.enable", nil, nil, 0)
	var timeout *CommandTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Less(t, time.Since(start), time.Second)
}
