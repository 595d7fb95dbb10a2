package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"cabbooking/internal/booking"
	"cabbooking/internal/identity"
	"cabbooking/internal/store/memory"
)

type countingPromoter struct {
	calls atomic.Int32
	err   error
}

func (p *countingPromoter) PromoteStale(context.Context, time.Duration) (int, error) {
	p.calls.Add(1)
	return 0, p.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	p := &countingPromoter{}
	job := VisibilityPromotion{Promoter: p, After: time.Minute, Interval: 0, Logger: quietLogger()}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if p.calls.Load() != 0 {
		t.Fatalf("disabled job must not promote")
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	p := &countingPromoter{err: errors.New("store down")}
	job := VisibilityPromotion{Promoter: p, After: time.Minute, Interval: 5 * time.Millisecond, Logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("job did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestTick_PromotesStaleBookings(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)
	companyID := st.AddCompany("user-c1", "Acme Corp")
	company := identity.Actor{UserID: "user-c1", Role: identity.RoleCompany, OwnerID: companyID}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m := booking.NewManager(booking.Deps{
		Store: st, Numbers: st, Fleet: st, Vendors: st,
		Logger: quietLogger(),
		Now:    func() time.Time { return now },
	})
	b, err := m.Create(ctx, company, booking.CreateInput{
		GuestName: "Priya Shah", GuestPhone: "+91 98765 43210",
		PickupLocation: "Terminal 2", DropoffLocation: "MG Road",
		PickupAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	job := VisibilityPromotion{Promoter: m, After: 15 * time.Minute, Interval: time.Minute, Logger: quietLogger()}
	if n := job.Tick(ctx); n != 0 {
		t.Fatalf("expected nothing promoted, got %d", n)
	}
	now = now.Add(20 * time.Minute)
	if n := job.Tick(ctx); n != 1 {
		t.Fatalf("expected one promotion, got %d", n)
	}
	got, err := st.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Visibility != booking.VisibilityOpenMarket {
		t.Fatalf("expected open_market, got %s", got.Visibility)
	}
}
