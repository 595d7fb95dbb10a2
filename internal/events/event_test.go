package events

import "testing"

func TestBus_FiltersByTable(t *testing.T) {
	bus := NewBus()

	var bookings, all []Change
	stop := bus.Subscribe(TableBookings, func(c Change) { bookings = append(bookings, c) })
	bus.Subscribe("", func(c Change) { all = append(all, c) })

	bus.Publish(Change{Table: TableBookings, Op: OpInsert, ID: "b1"})
	bus.Publish(Change{Table: "drivers", Op: OpUpdate, ID: "d1"})

	if len(bookings) != 1 || bookings[0].ID != "b1" {
		t.Fatalf("unexpected bookings deliveries: %#v", bookings)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 deliveries to wildcard subscriber, got %d", len(all))
	}
	if bookings[0].At.IsZero() {
		t.Fatalf("expected publish to stamp the change time")
	}

	stop()
	stop()
	bus.Publish(Change{Table: TableBookings, Op: OpUpdate, ID: "b1"})
	if len(bookings) != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", len(bookings))
	}
}

func TestDecodeNotification(t *testing.T) {
	c, err := decodeNotification(`{"table":"bookings","op":"UPDATE","id":"6f1c"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Table != TableBookings || c.Op != OpUpdate || c.ID != "6f1c" {
		t.Fatalf("unexpected change: %#v", c)
	}

	if _, err := decodeNotification(`{"id":"x"}`); err == nil {
		t.Fatalf("expected error for payload without table")
	}
	if _, err := decodeNotification(`not json`); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
