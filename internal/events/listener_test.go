package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeConn struct {
	mu    sync.Mutex
	notes []string
	fail  error // returned once notes run out; nil blocks until ctx is done
}

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.mu.Lock()
	if len(c.notes) > 0 {
		n := &pgconn.Notification{Channel: Channel, Payload: c.notes[0]}
		c.notes = c.notes[1:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) Close(context.Context) error { return nil }

func TestListener_ReconnectsAfterDroppedConnection(t *testing.T) {
	conns := []Conn{
		nil, // first dial fails
		&fakeConn{notes: []string{`{"table":"bookings","op":"INSERT","id":"b1","companyId":"c1"}`}, fail: errors.New("conn closed")},
		&fakeConn{notes: []string{`{"table":"bookings","op":"UPDATE","id":"b1","companyId":"c1","vendorId":"v1"}`}},
	}
	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		i := dials
		dials++
		if i >= len(conns) || conns[i] == nil {
			return nil, errors.New("connection refused")
		}
		return conns[i], nil
	}

	bus := NewBus()
	got := make(chan Change, 4)
	bus.Subscribe(TableBookings, func(c Change) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Listener{
			Dial:       dial,
			Bus:        bus,
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
			MinBackoff: time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
		}.Run(ctx)
	}()

	for _, want := range []string{OpInsert, OpUpdate} {
		select {
		case c := <-got:
			if c.Op != want || c.ID != "b1" || c.CompanyID != "c1" {
				t.Fatalf("unexpected change: %#v", c)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("listener did not relay %s after reconnecting", want)
		case err := <-done:
			t.Fatalf("listener stopped early: %v", err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if dials != 3 {
		t.Fatalf("expected 3 dials, got %d", dials)
	}
}

func TestListener_StopsWhileBackingOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialed := make(chan struct{}, 1)
	l := Listener{
		Dial: func(context.Context) (Conn, error) {
			select {
			case dialed <- struct{}{}:
			default:
			}
			return nil, errors.New("connection refused")
		},
		Bus:        NewBus(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		MinBackoff: time.Hour,
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-dialed
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener ignored cancellation during backoff")
	}
}
