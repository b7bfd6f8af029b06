// Package local implements in-process message delivery.
package local

import (
	"context"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// Receiver handles a delivered message.
type Receiver interface {
	Receive(ctx context.Context, msg forward.Message)
}

// ReceiverFunc adapts a function to a Receiver.
type ReceiverFunc func(ctx context.Context, msg forward.Message)

func (f ReceiverFunc) Receive(ctx context.Context, msg forward.Message) { f(ctx, msg) }

// ID identifies a registration.
type ID uint64

type broadcastReg struct {
	id      ID
	actions map[string]struct{}
	r       Receiver
}

type componentReg struct {
	id ID
	r  Receiver
}

// Bus delivers messages synchronously inside the process. Broadcasts reach
// every receiver whose action filter matches; service, activity and stop
// deliveries reach the receiver bound to the message component.
type Bus struct {
	mu         sync.RWMutex
	broadcasts []broadcastReg
	components map[string]componentReg
	nextID     atomic.Uint64
	logger     *slog.Logger
}

// NewBus returns an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{components: make(map[string]componentReg), logger: logger}
}

// RegisterBroadcast registers r for broadcasts with one of actions. No
// actions means every broadcast.
func (b *Bus) RegisterBroadcast(r Receiver, actions ...string) ID {
	id := ID(b.nextID.Add(1))
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, broadcastReg{id: id, actions: set, r: r})
	return id
}

// Bind attaches r to component c, replacing any previous binding.
func (b *Bus) Bind(c forward.Component, r Receiver) ID {
	id := ID(b.nextID.Add(1))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.components[c.String()] = componentReg{id: id, r: r}
	return id
}

// Unregister removes a broadcast registration or component binding.
// Unknown IDs are ignored.
func (b *Bus) Unregister(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = slices.DeleteFunc(b.broadcasts, func(r broadcastReg) bool { return r.id == id })
	for k, reg := range b.components {
		if reg.id == id {
			delete(b.components, k)
		}
	}
}

// Dispatch implements forward.Dispatcher.
func (b *Bus) Dispatch(ctx context.Context, msg forward.Message) error {
	if msg.Delivery == forward.DeliveryBroadcast {
		b.broadcast(ctx, msg)
		return nil
	}
	if msg.Component == nil {
		return ferrors.AddressError("delivery needs a component").
			WithContext("delivery", string(msg.Delivery)).Build()
	}
	b.mu.RLock()
	reg, ok := b.components[msg.Component.String()]
	b.mu.RUnlock()
	if !ok {
		return ferrors.NewError(ferrors.CategoryNotFound, "no receiver bound to component").
			WithContext("component", msg.Component.String()).Build()
	}
	b.deliver(ctx, reg.r, msg)
	return nil
}

func (b *Bus) broadcast(ctx context.Context, msg forward.Message) {
	// An explicit broadcast goes to the addressed component only.
	if msg.Component != nil {
		b.mu.RLock()
		reg, ok := b.components[msg.Component.String()]
		b.mu.RUnlock()
		if ok {
			b.deliver(ctx, reg.r, msg)
		}
		return
	}

	b.mu.RLock()
	var targets []Receiver
	for _, reg := range b.broadcasts {
		if _, ok := reg.actions[msg.Action]; ok || len(reg.actions) == 0 {
			targets = append(targets, reg.r)
		}
	}
	b.mu.RUnlock()

	for _, r := range targets {
		b.deliver(ctx, r, msg)
	}
}

func (b *Bus) deliver(ctx context.Context, r Receiver, msg forward.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Receiver panicked",
				logfields.Action(msg.Action),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	r.Receive(ctx, msg)
}
