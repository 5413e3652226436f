package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCoalescesConcurrentAttach(t *testing.T) {
	ft := newFakeTransport()
	ft.attachGate = make(chan struct{})
	r := newTestRegistry(t, ft, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Attach(context.Background(), "tab")
		}()
	}

	require.Eventually(t, func() bool { return ft.attachCount("tab") == 1 }, time.Second, time.Millisecond)
	close(ft.attachGate)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 1, ft.attachCount("tab"))
	assert.True(t, r.IsAttached("tab"))

	// Already attached: no new transport attach.
	assert.True(t, r.Attach(context.Background(), "tab"))
	assert.Equal(t, 1, ft.attachCount("tab"))
}

func TestRegistryAttachFailureReportsFalse(t *testing.T) {
	ft := newFakeTransport()
	ft.attachErr = assert.AnError
	r := newTestRegistry(t, ft, nil)

	assert.False(t, r.Attach(context.Background(), "tab"))
	assert.False(t, r.IsAttached("tab"))
}

func TestRegistryDetachDuringAttachWins(t *testing.T) {
	ft := newFakeTransport()
	ft.attachGate = make(chan struct{})
	r := newTestRegistry(t, ft, nil)

	result := make(chan bool, 1)
	go func() { result <- r.Attach(context.Background(), "tab") }()
	require.Eventually(t, func() bool { return ft.attachCount("tab") == 1 }, time.Second, time.Millisecond)

	r.Detach(context.Background(), "tab", true)
	close(ft.attachGate)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("attach did not return")
	}
	assert.False(t, r.IsAttached("tab"))
	assert.Equal(t, 1, ft.detachCount("tab"))

	// A later attach starts a fresh session.
	assert.True(t, r.Attach(context.Background(), "tab"))
	assert.True(t, r.IsAttached("tab"))
	assert.Equal(t, 2, ft.attachCount("tab"))
}

func TestRegistryForcedDetachRejectsPending(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("Slow.method", blockUntilDone)
	r := newTestRegistry(t, ft, nil)
	require.True(t, r.Attach(context.Background(), "tab"))

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			errs <- r.Channel().Send(context.Background(), "tab", "Slow.method", nil, nil, time.Minute)
		}()
	}
	require.Eventually(t, func() bool { return r.Channel().Pending("tab") == 2 }, time.Second, time.Millisecond)

	r.Detach(context.Background(), "tab", true)

	for range 2 {
		var aborted *CommandAbortedError
		require.ErrorAs(t, <-errs, &aborted)
		assert.Equal(t, "detaching", aborted.Reason)
	}
	assert.False(t, r.IsAttached("tab"))
	assert.Equal(t, 1, ft.detachCount("tab"))
}

func TestRegistrySessionLostRejectsWithReason(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("Slow.method", blockUntilDone)
	bus := NewEventBus(discardLogger())
	defer bus.Close()
	r := newTestRegistry(t, ft, bus)
	require.True(t, r.Attach(context.Background(), "tab"))

	errs := make(chan error, 1)
	go func() {
		errs <- r.Channel().Send(context.Background(), "tab", "Slow.method", nil, nil, time.Minute)
	}()
	require.Eventually(t, func() bool { return r.Channel().Pending("tab") == 1 }, time.Second, time.Millisecond)

	bus.SessionLost("tab", "canceled_by_user")

	select {
	case err := <-errs:
		var aborted *CommandAbortedError
		require.ErrorAs(t, err, &aborted)
		assert.Equal(t, "canceled_by_user", aborted.Reason)
	case <-time.After(time.Second):
		t.Fatal("pending command not rejected")
	}
	require.Eventually(t, func() bool { return !r.IsAttached("tab") }, time.Second, time.Millisecond)

	// The next attach goes through the transport again.
	assert.True(t, r.Attach(context.Background(), "tab"))
	assert.Equal(t, 2, ft.attachCount("tab"))
}

func TestRegistryTabClosedForgetsSession(t *testing.T) {
	ft := newFakeTransport()
	bus := NewEventBus(discardLogger())
	defer bus.Close()
	r := newTestRegistry(t, ft, bus)
	require.True(t, r.Attach(context.Background(), "tab"))

	bus.TabClosed("tab")
	require.Eventually(t, func() bool { return len(r.Attached()) == 0 }, time.Second, time.Millisecond)
}

func TestRegistryIdleDetach(t *testing.T) {
	ft := newFakeTransport()
	r := NewSessionRegistry(RegistryOptions{
		Transport:   ft,
		IdleTimeout: 30 * time.Millisecond,
		Logger:      discardLogger(),
	})
	defer r.Close(context.Background())

	require.True(t, r.Attach(context.Background(), "tab"))
	require.Eventually(t, func() bool { return !r.IsAttached("tab") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ft.detachCount("tab"))
}

func TestRegistryActivityKeepsSessionAlive(t *testing.T) {
	ft := newFakeTransport()
	r := NewSessionRegistry(RegistryOptions{
		Transport:   ft,
		IdleTimeout: 80 * time.Millisecond,
		Logger:      discardLogger(),
	})
	defer r.Close(context.Background())
	require.True(t, r.Attach(context.Background(), "tab"))

	for range 5 {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, r.Channel().Send(context.Background(), "tab", "DOM.enable", nil, nil, 0))
	}
	assert.True(t, r.IsAttached("tab"))
	assert.Zero(t, ft.detachCount("tab"))
}

type overlayTransport struct {
	*fakeTransport
	removed  int
	cleanups int
}

func (o *overlayTransport) ClearOverlays(context.Context, TabID) (int, error) {
	o.cleanups++
	return o.removed, nil
}

func TestRegistryClearsOverlaysBeforeAttach(t *testing.T) {
	ot := &overlayTransport{fakeTransport: newFakeTransport(), removed: 2}
	r := NewSessionRegistry(RegistryOptions{
		Transport:    ot,
		OverlayPause: time.Millisecond,
		Logger:       discardLogger(),
	})
	defer r.Close(context.Background())

	require.True(t, r.Attach(context.Background(), "tab"))
	assert.Equal(t, 1, ot.cleanups)
	assert.Equal(t, 1, ot.attachCount("tab"))
}

func TestRegistryClose(t *testing.T) {
	ft := newFakeTransport()
	r := NewSessionRegistry(RegistryOptions{Transport: ft, Logger: discardLogger()})
	require.True(t, r.Attach(context.Background(), "a"))
	require.True(t, r.Attach(context.Background(), "b"))

	r.Close(context.Background())
	assert.Empty(t, r.Attached())
	assert.False(t, r.Attach(context.Background(), "a"))
}
