package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Channel is the NOTIFY channel the bookings trigger publishes on.
const Channel = "booking_changes"

// Conn is the part of *pgx.Conn the listener uses.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a direct connection; LISTEN does not work through a transaction pooler.
type Dialer func(ctx context.Context) (Conn, error)

// Listener relays notifications on Channel to Bus. A dropped connection is
// redialed with exponential backoff; the feed is best effort and never stops the
// process.
type Listener struct {
	Dial   Dialer
	Bus    *Bus
	Logger *slog.Logger

	// MinBackoff and MaxBackoff bound the redial delay. Zero means 500ms and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Run blocks until ctx is done and always returns nil then.
func (l Listener) Run(ctx context.Context) error {
	minWait, maxWait := l.MinBackoff, l.MaxBackoff
	if minWait <= 0 {
		minWait = 500 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	maxWait = max(maxWait, minWait)

	wait := minWait
	for {
		err := l.session(ctx, func() { wait = minWait })
		if ctx.Err() != nil {
			return nil
		}
		l.Logger.Warn("booking change feed interrupted; reconnecting", "err", err, "backoff", wait.String())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		wait = min(wait*2, maxWait)
	}
}

// session runs one connection until it fails. connected is called once LISTEN
// succeeds.
func (l Listener) session(ctx context.Context, connected func()) error {
	conn, err := l.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	connected()
	l.Logger.Info("listening for booking changes", "channel", Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		c, err := decodeNotification(n.Payload)
		if err != nil {
			l.Logger.Warn("dropping malformed change notification", "payload", n.Payload, "err", err)
			continue
		}
		l.Bus.Publish(c)
	}
}

func decodeNotification(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	if c.Table == "" || c.Op == "" {
		return Change{}, errors.New("missing table or op")
	}
	return c, nil
}
