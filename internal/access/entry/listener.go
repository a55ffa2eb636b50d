// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default listener settings.
const (
	defaultHeartbeat        = 10 * time.Second
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// Acquirer hands out pooled connections. *pgxpool.Pool satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// PgListener subscribes to NotifyChannel on a connection taken out of the
// pool for its lifetime.
type PgListener struct {
	pool             Acquirer
	heartbeat        time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// ListenerOption configures a PgListener.
type ListenerOption func(*PgListener)

// WithHeartbeat sets how often an idle listener pings the server and emits a
// heartbeat. It should be well under the cache staleness threshold.
func WithHeartbeat(d time.Duration) ListenerOption {
	return func(l *PgListener) {
		l.heartbeat = d
	}
}

// WithReconnectBackoff sets the exponential backoff between reconnect attempts.
func WithReconnectBackoff(initial, maxInterval time.Duration) ListenerOption {
	return func(l *PgListener) {
		l.reconnectInitial = initial
		l.reconnectMax = maxInterval
	}
}

// NewPgListener creates a listener drawing its connection from pool.
func NewPgListener(pool Acquirer, opts ...ListenerOption) *PgListener {
	l := &PgListener{
		pool:             pool,
		heartbeat:        defaultHeartbeat,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Listener = (*PgListener)(nil)

// Listen subscribes and returns the notification stream. The first subscribe
// happens before Listen returns so configuration errors surface to the
// caller; later connection losses are retried until ctx ends, each success
// followed by a Reset notification.
func (l *PgListener) Listen(ctx context.Context) (<-chan Notification, error) {
	conn, err := l.subscribe(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan Notification, 16)
	go l.run(ctx, conn, ch)
	return ch, nil
}

func (l *PgListener) subscribe(ctx context.Context) (*pgx.Conn, error) {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, oops.Code("CACHE_LISTEN_FAILED").With("operation", "acquire").Wrap(err)
	}
	conn := pooled.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		closeConn(conn)
		return nil, oops.Code("CACHE_LISTEN_FAILED").With("operation", "listen").Wrap(err)
	}
	return conn, nil
}

func (l *PgListener) run(ctx context.Context, conn *pgx.Conn, ch chan<- Notification) {
	defer close(ch)

	for {
		err := l.pump(ctx, conn, ch)
		closeConn(conn)
		if ctx.Err() != nil {
			return
		}
		slog.WarnContext(ctx, "entry listener connection lost", "error", err)

		conn, err = l.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.ErrorContext(ctx, "entry listener giving up", "error", err)
			}
			return
		}
		if !send(ctx, ch, Notification{Reset: true}) {
			closeConn(conn)
			return
		}
	}
}

// pump forwards notifications until the connection fails or ctx ends.
func (l *PgListener) pump(ctx context.Context, conn *pgx.Conn, ch chan<- Notification) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, l.heartbeat)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			if !send(ctx, ch, Notification{EntryID: n.Payload}) {
				return ctx.Err()
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			if err := conn.Ping(ctx); err != nil {
				return err
			}
			if !send(ctx, ch, Notification{}) {
				return ctx.Err()
			}
		default:
			return err
		}
	}
}

func (l *PgListener) reconnect(ctx context.Context) (*pgx.Conn, error) {
	backoff := retry.WithCappedDuration(l.reconnectMax, retry.NewExponential(max(l.reconnectInitial, time.Millisecond)))

	var conn *pgx.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := l.subscribe(ctx)
		if err != nil {
			slog.DebugContext(ctx, "entry listener reconnect failed", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func send(ctx context.Context, ch chan<- Notification, n Notification) bool {
	select {
	case ch <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

func closeConn(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}
