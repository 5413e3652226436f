package browser

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockUntilDone never answers.
func blockUntilDone(ctx context.Context, _ TabID, _ json.RawMessage) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChannelSendDecodesResult(t *testing.T) {
	ft := newFakeTransport()
	ft.reply("DOM.getBoxModel", boxModel(1, 2, 3, 4))
	ch := NewCommandChannel(ft, WithChannelLogger(discardLogger()))

	var res boxModelResult
	require.NoError(t, ch.Send(context.Background(), "t1", "DOM.getBoxModel", nil, &res, 0))
	require.NotNil(t, res.Model)
	assert.Equal(t, quad(1, 2, 3, 4), res.Model.Content)
	assert.Zero(t, ch.Pending("t1"))
}

func TestChannelTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("Slow.method", blockUntilDone)
	ch := NewCommandChannel(ft, WithChannelLogger(discardLogger()))

	start := time.Now()
	err := ch.Send(context.Background(), "t1", "Slow.method", nil, nil, 30*time.Millisecond)

	var timeout *CommandTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "Slow.method", timeout.Method)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, ch.Pending("t1"))
}

func TestChannelDefaultTimeoutOption(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("Slow.method", blockUntilDone)
	ch := NewCommandChannel(ft, WithCommandTimeout(20*time.Millisecond))

	err := ch.Send(context.Background(), "t1", "Slow.method", nil, nil, 0)
	var timeout *CommandTimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestChannelCancelAllPending(t *testing.T) {
	ft := newFakeTransport()
	ft.handle("Slow.method", blockUntilDone)
	ch := NewCommandChannel(ft, WithChannelLogger(discardLogger()))

	const n = 3
	errs := make(chan error, n)
	for range n {
		go func() {
			errs <- ch.Send(context.Background(), "t1", "Slow.method", nil, nil, time.Minute)
		}()
	}
	require.Eventually(t, func() bool { return ch.Pending("t1") == n }, time.Second, time.Millisecond)

	other := make(chan error, 1)
	go func() {
		other <- ch.Send(context.Background(), "t2", "Slow.method", nil, nil, 50*time.Millisecond)
	}()

	assert.Equal(t, n, ch.CancelAllPending("t1", "canceled_by_user"))
	for range n {
		err := <-errs
		var aborted *CommandAbortedError
		require.ErrorAs(t, err, &aborted)
		assert.Equal(t, "canceled_by_user", aborted.Reason)
	}

	// Other tabs are untouched.
	var timeout *CommandTimeoutError
	assert.ErrorAs(t, <-other, &timeout)
}

func TestChannelTransportError(t *testing.T) {
	ft := newFakeTransport()
	boom := errors.New("No node with given id found")
	ft.handle("DOM.resolveNode", func(context.Context, TabID, json.RawMessage) (any, error) {
		return nil, boom
	})
	ch := NewCommandChannel(ft)

	err := ch.Send(context.Background(), "t1", "DOM.resolveNode", nil, nil, 0)
	assert.ErrorIs(t, err, boom)
}

func TestChannelReportsActivity(t *testing.T) {
	ft := newFakeTransport()
	ch := NewCommandChannel(ft)

	var seen []TabID
	ch.OnActivity(func(tab TabID) { seen = append(seen, tab) })
	require.NoError(t, ch.Send(context.Background(), "t9", "DOM.enable", nil, nil, 0))
	assert.Equal(t, []TabID{"t9"}, seen)
}
