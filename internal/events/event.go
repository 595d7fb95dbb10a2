package events

import (
	"sync"
	"time"
)

const TableBookings = "bookings"

const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Change says that a row changed. It carries only the row's owners, so receivers
// can scope it; subscribers re-read.
type Change struct {
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId,omitempty"`
	VendorID  string    `json:"vendorId,omitempty"`
	At        time.Time `json:"at"`
}

type subscription struct {
	table string
	fn    func(Change)
}

// Bus fans changes out to in-process subscribers. Publish calls subscribers on the
// publishing goroutine, so they must not block.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

func NewBus() *Bus {
	return &Bus{subs: map[int]subscription{}}
}

// Subscribe registers fn for changes to table, or to every table when table is "".
// The returned func removes the subscription.
func (b *Bus) Subscribe(table string, fn func(Change)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscription{table: table, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	b.mu.RLock()
	fns := make([]func(Change), 0, len(b.subs))
	for _, s := range b.subs {
		if s.table == "" || s.table == c.Table {
			fns = append(fns, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
