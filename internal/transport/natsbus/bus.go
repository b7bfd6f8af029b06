// Package natsbus carries outbound messages, status events and inbound
// requests over NATS.
//
// Subjects, relative to a configurable prefix:
//
//	<prefix>.broadcast.<action>        broadcast messages
//	<prefix>.service.<ns>.<name>       start-service messages
//	<prefix>.activity.<ns>.<name>      start-activity messages
//	<prefix>.stop.<ns>.<name>          stop-service messages
//	<prefix>.status                    STATUS, KILLED and EXCEPTION events
//	<prefix>.command.<verb>            inbound lifecycle commands (request/reply)
//	<prefix>.forward.<verb>            inbound forward requests (request/reply)
//
// Dots and wildcard characters inside actions and component parts are
// replaced with underscores so each maps to a single subject token.
package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/status"
)

// Header names set on every published message.
const (
	HeaderID       = "Meterd-Id"
	HeaderOrigin   = "Meterd-Origin"
	HeaderDelivery = "Meterd-Delivery"
	HeaderKind     = "Meterd-Kind"
)

// CommandRequest is the body of an inbound lifecycle command.
type CommandRequest struct {
	Config   string `json:"config,omitempty"`
	Path     string `json:"path,omitempty"`
	Identity string `json:"identity,omitempty"`
}

// Reply is the body sent back to request/reply callers.
type Reply struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// CommandHandler handles an inbound lifecycle command.
type CommandHandler func(ctx context.Context, verb string, req CommandRequest) (any, error)

// ForwardHandler handles an inbound forward request.
type ForwardHandler func(ctx context.Context, verb string, payload *forward.Payload) (any, error)

// BroadcastHandler receives broadcasts published by other processes.
type BroadcastHandler func(ctx context.Context, msg forward.Message)

// Bus publishes and subscribes on one NATS connection.
type Bus struct {
	conn   Conn
	prefix string
	origin string
	ids    func() string
	logger *slog.Logger

	mu   sync.Mutex
	subs []Subscription
}

// Option configures a Bus.
type Option func(*Bus)

// WithIDs sets the message id generator.
func WithIDs(fn func() string) Option { return func(b *Bus) { b.ids = fn } }

// WithOrigin sets the id this process stamps on its messages. Broadcasts
// carrying the same origin are not handed back to ServeBroadcasts handlers.
func WithOrigin(origin string) Option { return func(b *Bus) { b.origin = origin } }

func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// New returns a bus on conn using prefix for every subject.
func New(conn Conn, prefix string, opts ...Option) *Bus {
	b := &Bus{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		ids:    func() string { return "" },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// token makes s usable as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Subject returns the subject msg is published on.
func (b *Bus) Subject(msg forward.Message) (string, error) {
	if msg.Delivery == forward.DeliveryBroadcast {
		return b.prefix + ".broadcast." + token(msg.Action), nil
	}
	if msg.Component == nil {
		return "", ferrors.AddressError("delivery needs a component").
			WithContext("delivery", string(msg.Delivery)).Build()
	}
	var kind string
	switch msg.Delivery {
	case forward.DeliveryStartService:
		kind = "service"
	case forward.DeliveryStartActivity:
		kind = "activity"
	case forward.DeliveryStopService:
		kind = "stop"
	default:
		return "", ferrors.ValidationError("unknown delivery").
			WithContext("delivery", string(msg.Delivery)).Build()
	}
	return b.prefix + "." + kind + "." + token(msg.Component.Namespace) + "." + token(msg.Component.Name), nil
}

// StatusSubject is the subject status events are published on.
func (b *Bus) StatusSubject() string { return b.prefix + ".status" }

func (b *Bus) newMsg(subject, kind string, data []byte) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = data
	if id := b.ids(); id != "" {
		m.Header.Set(HeaderID, id)
	}
	if b.origin != "" {
		m.Header.Set(HeaderOrigin, b.origin)
	}
	m.Header.Set(HeaderKind, kind)
	return m
}

// Dispatch implements forward.Dispatcher.
func (b *Bus) Dispatch(ctx context.Context, msg forward.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := b.Subject(msg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal message").Build()
	}
	m := b.newMsg(subject, "message", data)
	if msg.ID != "" {
		m.Header.Set(HeaderID, msg.ID)
	}
	m.Header.Set(HeaderDelivery, string(msg.Delivery))
	if err := b.conn.PublishMsg(m); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish message").
			WithContext("subject", subject).Retryable().Build()
	}
	b.logger.Debug("Published message", logfields.Subject(subject), logfields.Delivery(string(msg.Delivery)))
	return nil
}

// OnEvent publishes a status event. It implements status.Listener; publish
// errors are logged, never returned to the channel.
func (b *Bus) OnEvent(e status.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("Failed to marshal status event", logfields.Error(err))
		return
	}
	if err := b.conn.PublishMsg(b.newMsg(b.StatusSubject(), string(e.Kind), data)); err != nil {
		b.logger.Warn("Failed to publish status event",
			logfields.Event(string(e.Kind)), logfields.Error(err))
	}
}

func (b *Bus) subscribe(subject string, cb nats.MsgHandler) error {
	sub, err := b.conn.Subscribe(subject, cb)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to subscribe").
			WithContext("subject", subject).Build()
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.logger.Info("Subscribed", logfields.Subject(subject))
	return nil
}

// lastToken returns the subject part after prefix+"."+kind+".".
func (b *Bus) lastToken(subject, kind string) string {
	return strings.TrimPrefix(subject, b.prefix+"."+kind+".")
}

// ServeCommands handles inbound lifecycle commands. Requests with a reply
// subject get a Reply.
func (b *Bus) ServeCommands(ctx context.Context, h CommandHandler) error {
	return b.subscribe(b.prefix+".command.*", func(m *nats.Msg) {
		verb := b.lastToken(m.Subject, "command")
		var req CommandRequest
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, &req); err != nil {
				b.reply(m, nil, ferrors.ValidationError("command body must be a JSON object").WithCause(err).Build())
				return
			}
		}
		res, err := h(ctx, verb, req)
		b.reply(m, res, err)
	})
}

// ServeForwards handles inbound forward requests. The body is the payload.
func (b *Bus) ServeForwards(ctx context.Context, h ForwardHandler) error {
	return b.subscribe(b.prefix+".forward.*", func(m *nats.Msg) {
		verb := b.lastToken(m.Subject, "forward")
		payload := forward.NewPayload()
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, payload); err != nil {
				b.reply(m, nil, ferrors.ValidationError("forward body must be a JSON object").WithCause(err).Build())
				return
			}
		}
		res, err := h(ctx, verb, payload)
		b.reply(m, res, err)
	})
}

// ServeBroadcasts hands broadcasts from other processes to h.
func (b *Bus) ServeBroadcasts(ctx context.Context, h BroadcastHandler) error {
	return b.subscribe(b.prefix+".broadcast.>", func(m *nats.Msg) {
		if b.origin != "" && m.Header.Get(HeaderOrigin) == b.origin {
			return
		}
		var msg forward.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("Dropping malformed broadcast", logfields.Subject(m.Subject), logfields.Error(err))
			return
		}
		if msg.ID == "" {
			msg.ID = m.Header.Get(HeaderID)
		}
		h(ctx, msg)
	})
}

func (b *Bus) reply(m *nats.Msg, res any, err error) {
	if m.Reply == "" {
		if err != nil {
			b.logger.Warn("Request failed", logfields.Subject(m.Subject), logfields.Error(err))
		}
		return
	}
	r := Reply{OK: err == nil, Result: res}
	if err != nil {
		r.Error = err.Error()
		if c, ok := ferrors.AsClassified(err); ok {
			r.Error = c.Message()
			r.Code = string(c.Category())
		}
	}
	data, merr := json.Marshal(r)
	if merr != nil {
		b.logger.Error("Failed to marshal reply", logfields.Error(merr))
		return
	}
	out := nats.NewMsg(m.Reply)
	out.Data = data
	if perr := b.conn.PublishMsg(out); perr != nil {
		b.logger.Warn("Failed to send reply", logfields.Subject(m.Reply), logfields.Error(perr))
	}
}

// Close unsubscribes everything and drains the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			b.logger.Debug("Unsubscribe failed", logfields.Error(err))
		}
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to drain NATS connection").Build()
	}
	return nil
}
