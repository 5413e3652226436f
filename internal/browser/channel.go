package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CommandChannel issues protocol calls against a tab with a per-call
// deadline and tracks them so a lost session can reject them all at once.
// It never retries.
type CommandChannel struct {
	transport Transport
	timeout   time.Duration
	audit     *auditLogger

	mu         sync.Mutex
	pending    map[TabID]map[uint64]*pendingCommand
	nextID     uint64
	onActivity func(TabID)
}

type pendingCommand struct {
	method string
	reject chan error
}

// ChannelOption configures a CommandChannel.
type ChannelOption func(*CommandChannel)

// WithCommandTimeout sets the timeout used when Send is given zero.
func WithCommandTimeout(d time.Duration) ChannelOption {
	return func(c *CommandChannel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithChannelLogger sets the logger used for command auditing.
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(c *CommandChannel) {
		c.audit = newAuditLogger(logger)
	}
}

// NewCommandChannel creates a channel over transport.
func NewCommandChannel(transport Transport, opts ...ChannelOption) *CommandChannel {
	c := &CommandChannel{
		transport: transport,
		timeout:   DefaultCommandTimeout,
		pending:   make(map[TabID]map[uint64]*pendingCommand),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.audit == nil {
		c.audit = newAuditLogger(nil)
	}
	return c
}

// OnActivity registers fn to be called for every command sent to a tab.
// The session registry uses it to keep attached tabs alive.
func (c *CommandChannel) OnActivity(fn func(TabID)) {
	c.mu.Lock()
	c.onActivity = fn
	c.mu.Unlock()
}

// SetTimeout changes the default timeout for later calls.
func (c *CommandChannel) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Send runs method on tab and decodes the reply into result, which may be
// nil. A zero timeout uses the channel default.
func (c *CommandChannel) Send(ctx context.Context, tab TabID, method string, params, result any, timeout time.Duration) error {
	if timeout <= 0 {
		c.mu.Lock()
		timeout = c.timeout
		c.mu.Unlock()
	}

	p := &pendingCommand{method: method, reject: make(chan error, 1)}
	id, activity := c.register(tab, p)
	defer c.unregister(tab, id)
	if activity != nil {
		activity(tab)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	var raw json.RawMessage
	go func() {
		done <- c.transport.Execute(callCtx, tab, method, params, &raw)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
		if err == nil && result != nil && len(raw) > 0 {
			if uerr := json.Unmarshal(raw, result); uerr != nil {
				err = fmt.Errorf("decode %s result: %w", method, uerr)
			}
		}
	case err = <-p.reject:
	case <-timer.C:
		err = &CommandTimeoutError{Method: method, Elapsed: time.Since(start)}
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.audit.logCommand(tab, method, time.Since(start), err)
	return err
}

// CancelAllPending rejects every outstanding call for tab with reason and
// returns how many were rejected.
func (c *CommandChannel) CancelAllPending(tab TabID, reason string) int {
	c.mu.Lock()
	calls := c.pending[tab]
	delete(c.pending, tab)
	c.mu.Unlock()

	for _, p := range calls {
		select {
		case p.reject <- &CommandAbortedError{Method: p.method, Reason: reason}:
		default:
		}
	}
	return len(calls)
}

// Pending returns the number of outstanding calls for tab.
func (c *CommandChannel) Pending(tab TabID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[tab])
}

func (c *CommandChannel) register(tab TabID, p *pendingCommand) (uint64, func(TabID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	calls := c.pending[tab]
	if calls == nil {
		calls = make(map[uint64]*pendingCommand)
		c.pending[tab] = calls
	}
	calls[c.nextID] = p
	return c.nextID, c.onActivity
}

func (c *CommandChannel) unregister(tab TabID, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := c.pending[tab]
	if calls == nil {
		return
	}
	delete(calls, id)
	if len(calls) == 0 {
		delete(c.pending, tab)
	}
}
