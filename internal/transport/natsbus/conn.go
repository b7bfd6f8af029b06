package natsbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// Conn is the subset of a NATS connection the bus needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (Subscription, error)
	Drain() error
	Close()
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}

type natsConn struct {
	*nats.Conn
}

func (c natsConn) Subscribe(subject string, cb nats.MsgHandler) (Subscription, error) {
	return c.Conn.Subscribe(subject, cb)
}

// ConnectOptions tunes connection establishment.
type ConnectOptions struct {
	Name string
	// Timeout bounds a single dial attempt.
	Timeout time.Duration
	// MaxElapsed bounds the whole retry loop. Zero retries until ctx ends.
	MaxElapsed time.Duration
}

// Connect dials url, retrying with exponential backoff until it succeeds,
// MaxElapsed passes or ctx is done.
func Connect(ctx context.Context, url string, opts ConnectOptions, logger *slog.Logger) (Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "meterd"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = opts.MaxElapsed

	attempt := 0
	dial := func() (*nats.Conn, error) {
		attempt++
		return nats.Connect(url,
			nats.Name(opts.Name),
			nats.Timeout(opts.Timeout),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("NATS disconnected", logfields.URL(url), logfields.Error(err))
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", logfields.URL(nc.ConnectedUrl()))
			}),
		)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("NATS connect failed, retrying",
			logfields.URL(url),
			slog.Int("attempt", attempt),
			slog.Duration("next", next),
			logfields.Error(err))
	}

	nc, err := backoff.RetryNotifyWithData(dial, backoff.WithContext(eb, ctx), notify)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", url).
			WithContext("attempts", attempt).
			Retryable().Build()
	}
	logger.Info("NATS connected", logfields.URL(nc.ConnectedUrl()), slog.Int("attempts", attempt))
	return natsConn{Conn: nc}, nil
}
