package browser

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionRegistry owns the attach/detach lifecycle of every tab. Concurrent
// attaches for one tab share a single underlying attach; idle sessions are
// detached automatically.
type SessionRegistry struct {
	transport    Transport
	channel      *CommandChannel
	idleTimeout  time.Duration
	overlayPause time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[TabID]*session
	unsubs   []func()
	closed   bool
}

type session struct {
	attached bool
	inflight *attachCall
	idle     *time.Timer
	idleGen  uint64
	// epoch moves on every detach or loss; an attach started under an
	// older epoch is discarded.
	epoch uint64
}

type attachCall struct {
	done chan struct{}
	ok   bool
}

// RegistryOptions configures a SessionRegistry.
type RegistryOptions struct {
	Transport Transport
	Channel   *CommandChannel
	// Events is optional; when set the registry reacts to sessions lost
	// outside its control and to closed tabs.
	Events       SessionEvents
	IdleTimeout  time.Duration
	OverlayPause time.Duration
	Logger       *slog.Logger
}

// NewSessionRegistry creates a registry. Channel defaults to a new channel
// over Transport.
func NewSessionRegistry(opts RegistryOptions) *SessionRegistry {
	if opts.Channel == nil {
		opts.Channel = NewCommandChannel(opts.Transport)
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.OverlayPause <= 0 {
		opts.OverlayPause = DefaultOverlayPause
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &SessionRegistry{
		transport:    opts.Transport,
		channel:      opts.Channel,
		idleTimeout:  opts.IdleTimeout,
		overlayPause: opts.OverlayPause,
		logger:       opts.Logger.With("component", "session"),
		sessions:     make(map[TabID]*session),
	}
	r.channel.OnActivity(r.Touch)

	if opts.Events != nil {
		r.unsubs = append(r.unsubs,
			opts.Events.OnSessionLost(func(tab TabID, reason string) {
				r.forget(tab, reason, false)
			}),
			opts.Events.OnTabClosed(func(tab TabID) {
				r.forget(tab, "tab closed", true)
			}),
		)
	}
	return r
}

// Channel returns the command channel the registry drains on detach.
func (r *SessionRegistry) Channel() *CommandChannel {
	return r.channel
}

// Attach makes sure tab has a debugging session. It reports false when the
// session could not be established and never returns an error.
func (r *SessionRegistry) Attach(ctx context.Context, tab TabID) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	s := r.sessionLocked(tab)
	r.stopIdleLocked(s)

	if call := s.inflight; call != nil {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.ok
		case <-ctx.Done():
			return false
		}
	}

	call := &attachCall{done: make(chan struct{})}
	s.inflight = call
	epoch := s.epoch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if s.inflight == call {
			s.inflight = nil
		}
		r.mu.Unlock()
		close(call.done)
	}()

	call.ok = r.attach(ctx, tab, s, epoch)
	return call.ok
}

func (r *SessionRegistry) attach(ctx context.Context, tab TabID, s *session, epoch uint64) bool {
	if cleaner, ok := r.transport.(OverlayCleaner); ok {
		removed, err := cleaner.ClearOverlays(ctx, tab)
		if err != nil {
			r.logger.Debug("overlay cleanup failed", "tab", tab, "error", err)
		}
		if removed > 0 {
			r.logger.Debug("removed overlay frames", "tab", tab, "count", removed)
			select {
			case <-time.After(r.overlayPause):
			case <-ctx.Done():
				return false
			}
		}
	}

	r.mu.Lock()
	if s.attached {
		r.scheduleIdleLocked(tab, s)
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	if err := r.transport.Attach(ctx, tab); err != nil {
		r.logger.Warn("attach failed", "tab", tab, "error", err)
		return false
	}
	if ctx.Err() != nil {
		_ = r.transport.Detach(context.Background(), tab)
		return false
	}

	r.mu.Lock()
	if s.epoch != epoch || r.closed {
		r.mu.Unlock()
		r.logger.Debug("attach superseded by detach", "tab", tab)
		_ = r.transport.Detach(context.Background(), tab)
		return false
	}
	s.attached = true
	r.scheduleIdleLocked(tab, s)
	r.mu.Unlock()
	r.logger.Debug("attached", "tab", tab)
	return true
}

// Detach ends the session for tab. With immediate false it only restarts
// the idle timer.
func (r *SessionRegistry) Detach(ctx context.Context, tab TabID, immediate bool) {
	if !immediate {
		r.Touch(tab)
		return
	}

	r.mu.Lock()
	s := r.sessions[tab]
	if s == nil {
		r.mu.Unlock()
		r.channel.CancelAllPending(tab, "detaching")
		return
	}
	r.stopIdleLocked(s)
	s.epoch++
	attached := s.attached
	r.mu.Unlock()

	r.channel.CancelAllPending(tab, "detaching")

	if attached {
		if err := r.transport.Detach(ctx, tab); err != nil {
			r.logger.Debug("detach failed", "tab", tab, "error", err)
		}
	}

	r.mu.Lock()
	s.attached = false
	r.mu.Unlock()
	r.logger.Debug("detached", "tab", tab)
}

// Touch restarts the idle timer of an attached tab.
func (r *SessionRegistry) Touch(tab TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[tab]; s != nil && s.attached {
		r.scheduleIdleLocked(tab, s)
	}
}

// IsAttached reports whether tab currently has a session.
func (r *SessionRegistry) IsAttached(tab TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[tab]
	return s != nil && s.attached
}

// Attached returns the tabs with a live session.
func (r *SessionRegistry) Attached() []TabID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tabs []TabID
	for tab, s := range r.sessions {
		if s.attached {
			tabs = append(tabs, tab)
		}
	}
	return tabs
}

// Close detaches every tab and stops listening for events.
func (r *SessionRegistry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	tabs := make([]TabID, 0, len(r.sessions))
	for tab := range r.sessions {
		tabs = append(tabs, tab)
	}
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, tab := range tabs {
		r.Detach(ctx, tab, true)
	}
}

// forget handles a session that ended outside the registry. Pending
// commands are rejected before the state is cleared.
func (r *SessionRegistry) forget(tab TabID, reason string, drop bool) {
	r.channel.CancelAllPending(tab, reason)

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[tab]
	if s == nil {
		return
	}
	r.stopIdleLocked(s)
	s.epoch++
	s.attached = false
	if drop && s.inflight == nil {
		delete(r.sessions, tab)
	}
	r.logger.Info("session lost", "tab", tab, "reason", reason)
}

func (r *SessionRegistry) sessionLocked(tab TabID) *session {
	s := r.sessions[tab]
	if s == nil {
		s = &session{}
		r.sessions[tab] = s
	}
	return s
}

func (r *SessionRegistry) stopIdleLocked(s *session) {
	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}

// SetIdleTimeout changes the idle timeout. Sessions pick it up the next
// time their idle timer is armed.
func (r *SessionRegistry) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.idleTimeout = d
	r.mu.Unlock()
}

func (r *SessionRegistry) scheduleIdleLocked(tab TabID, s *session) {
	r.stopIdleLocked(s)
	gen := s.idleGen
	s.idle = time.AfterFunc(r.idleTimeout, func() {
		r.mu.Lock()
		stale := s.idleGen != gen || r.sessions[tab] != s
		r.mu.Unlock()
		if stale {
			return
		}
		r.logger.Debug("idle timeout", "tab", tab)
		r.Detach(context.Background(), tab, true)
	})
}
