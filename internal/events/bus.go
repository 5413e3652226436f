// Package events fans session signals out to subscribers. Signals are
// delivered one at a time on a single goroutine, in the order they were
// emitted.
package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when emitting on a closed bus.
var ErrClosed = errors.New("event bus closed")

// SessionLost is emitted when a debugging session ends without the engine
// asking for it (extension detached, browser crashed).
type SessionLost struct {
	TabID  string
	Reason string
}

// TabClosed is emitted when a tab with a session is closed.
type TabClosed struct {
	TabID string
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets how many signals may wait for delivery.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan any, n)
		}
	}
}

// WithEmitTimeout bounds how long Emit waits on a full queue.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.emitTimeout = d
		}
	}
}

// Bus is the session signal hub.
type Bus struct {
	logger      *slog.Logger
	queue       chan any
	emitTimeout time.Duration
	shutdown    chan struct{}
	closed      atomic.Bool
	delivered   atomic.Int64
	wg          sync.WaitGroup

	mu     sync.RWMutex
	nextID uint64
	lost   map[uint64]func(SessionLost)
	closes map[uint64]func(TabClosed)
}

// New starts a bus. logger may be nil.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:      logger,
		queue:       make(chan any, 256),
		emitTimeout: 5 * time.Second,
		shutdown:    make(chan struct{}),
		lost:        make(map[uint64]func(SessionLost)),
		closes:      make(map[uint64]func(TabClosed)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// EmitSessionLost queues a SessionLost signal.
func (b *Bus) EmitSessionLost(tab, reason string) error {
	return b.emit(SessionLost{TabID: tab, Reason: reason})
}

// EmitTabClosed queues a TabClosed signal.
func (b *Bus) EmitTabClosed(tab string) error {
	return b.emit(TabClosed{TabID: tab})
}

func (b *Bus) emit(sig any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()
	select {
	case b.queue <- sig:
		return nil
	case <-b.shutdown:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("event queue full, dropped %T", sig)
	}
}

// OnSessionLost registers fn and returns a function that removes it.
func (b *Bus) OnSessionLost(fn func(SessionLost)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.lost[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.lost, id)
		b.mu.Unlock()
	}
}

// OnTabClosed registers fn and returns a function that removes it.
func (b *Bus) OnTabClosed(fn func(TabClosed)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.closes[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.closes, id)
		b.mu.Unlock()
	}
}

// Delivered returns how many signals the loop has dispatched.
func (b *Bus) Delivered() int64 {
	return b.delivered.Load()
}

// Close stops delivery. Queued signals that were not yet dispatched are
// dropped. It is safe to call more than once.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.shutdown)
	b.wg.Wait()
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.shutdown:
			return
		case sig := <-b.queue:
			b.dispatch(sig)
			b.delivered.Add(1)
		}
	}
}

func (b *Bus) dispatch(sig any) {
	b.mu.RLock()
	var handlers []func()
	switch s := sig.(type) {
	case SessionLost:
		for _, fn := range b.lost {
			handlers = append(handlers, func() { fn(s) })
		}
	case TabClosed:
		for _, fn := range b.closes {
			handlers = append(handlers, func() { fn(s) })
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(sig, h)
	}
}

// call runs one handler; a panicking subscriber must not stop the loop.
func (b *Bus) call(sig any, h func()) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Error("event handler panicked", "signal", fmt.Sprintf("%T", sig), "panic", v)
		}
	}()
	h()
}
