// Package status implements the one-way lifecycle status channel.
package status

import (
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// Listener receives published events.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ID identifies a registration.
type ID uint64

type registration struct {
	id ID
	l  Listener
}

// Channel delivers events synchronously to every listener registered at
// publish time, in registration order. There is no buffering, durability or
// replay. A panicking listener is logged and skipped; delivery continues.
type Channel struct {
	mu       sync.RWMutex
	regs     []registration
	nextID   atomic.Uint64
	isClosed atomic.Bool
	logger   *slog.Logger
}

// NewChannel returns an empty channel.
func NewChannel(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{logger: logger}
}

// Register adds l and returns its registration ID. Registering on a closed
// channel returns an ID that is never delivered to.
func (c *Channel) Register(l Listener) ID {
	id := ID(c.nextID.Add(1))
	if l == nil || c.isClosed.Load() {
		return id
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = append(c.regs, registration{id: id, l: l})
	return id
}

// Deregister removes the registration. Unknown or already removed IDs are
// ignored.
func (c *Channel) Deregister(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = slices.DeleteFunc(c.regs, func(r registration) bool { return r.id == id })
}

// Len returns the number of registered listeners.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regs)
}

// Publish delivers e to all current listeners.
func (c *Channel) Publish(e Event) {
	if c.isClosed.Load() {
		return
	}
	c.mu.RLock()
	targets := slices.Clone(c.regs)
	c.mu.RUnlock()

	for _, r := range targets {
		c.deliver(r, e)
	}
}

func (c *Channel) deliver(r registration, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Status listener panicked",
				logfields.Listener(uint64(r.id)),
				logfields.Event(string(e.Kind)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	r.l.OnEvent(e)
}

// Close drops all listeners. Later publishes are no-ops.
func (c *Channel) Close() {
	if c.isClosed.Swap(true) {
		return
	}
	c.mu.Lock()
	c.regs = nil
	c.mu.Unlock()
}
