package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cabbooking/internal/booking"
	"cabbooking/internal/fleet"
	"cabbooking/internal/identity"
	"cabbooking/internal/store/memory"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	m     *booking.Manager
	now   time.Time

	company identity.Actor
	v1      identity.Actor // associated with company
	v2      identity.Actor // not associated

	driverID, vehicleID string
}

func newFixture(t *testing.T, opts booking.Options) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(nil),
		now:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	companyID := f.store.AddCompany("user-c1", "Acme Corp")
	v1 := f.store.AddVendor("user-v1", "City Cabs")
	v2 := f.store.AddVendor("user-v2", "Metro Rides")
	if _, err := f.store.Activate(f.ctx, companyID, v1); err != nil {
		t.Fatalf("associate: %v", err)
	}

	f.company = identity.Actor{UserID: "user-c1", Role: identity.RoleCompany, OwnerID: companyID}
	f.v1 = identity.Actor{UserID: "user-v1", Role: identity.RoleVendor, OwnerID: v1}
	f.v2 = identity.Actor{UserID: "user-v2", Role: identity.RoleVendor, OwnerID: v2}
	f.driverID, f.vehicleID = f.addFleet(v1)

	f.m = booking.NewManager(booking.Deps{
		Store:   f.store,
		Numbers: f.store,
		Fleet:   f.store,
		Vendors: f.store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return f.now },
		Options: opts,
	})
	return f
}

func (f *fixture) addFleet(vendorID string) (string, string) {
	f.t.Helper()
	d := &fleet.Driver{VendorID: vendorID, Name: "Ravi", Phone: "+91 90000 00001", LicenseNumber: "DL-01", IsAvailable: true}
	if err := f.store.CreateDriver(f.ctx, d); err != nil {
		f.t.Fatalf("create driver: %v", err)
	}
	v := &fleet.Vehicle{VendorID: vendorID, RegistrationNumber: "KA01AB1234", VehicleType: fleet.VehicleSedan, Make: "Toyota", Model: "Etios", IsAvailable: true}
	if err := f.store.CreateVehicle(f.ctx, v); err != nil {
		f.t.Fatalf("create vehicle: %v", err)
	}
	return d.ID, v.ID
}

func (f *fixture) input() booking.CreateInput {
	return booking.CreateInput{
		GuestName:       "Priya Shah",
		GuestPhone:      "+91 98765 43210",
		GuestEmail:      "priya@example.com",
		PickupLocation:  "Terminal 2",
		DropoffLocation: "MG Road",
		PickupAt:        f.now.Add(2 * time.Hour),
		VehicleType:     "sedan",
	}
}

func (f *fixture) create() *booking.Booking {
	f.t.Helper()
	b, err := f.m.Create(f.ctx, f.company, f.input())
	if err != nil {
		f.t.Fatalf("create: %v", err)
	}
	return b
}

// bookingIn drives a fresh booking into status through the public operations.
func (f *fixture) bookingIn(status booking.Status) *booking.Booking {
	f.t.Helper()
	b := f.create()
	must := func(out *booking.Booking, err error) {
		f.t.Helper()
		if err != nil {
			f.t.Fatalf("driving booking to %s: %v", status, err)
		}
		b = out
	}

	switch status {
	case booking.StatusPending:
	case booking.StatusRejected:
		must(f.m.Reject(f.ctx, f.v1, b.ID, ""))
	case booking.StatusCancelled:
		must(f.m.Cancel(f.ctx, f.company, b.ID, ""))
	default:
		must(f.m.Accept(f.ctx, f.v1, b.ID))
		if status == booking.StatusAccepted {
			break
		}
		must(f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, f.driverID, f.vehicleID))
		must(f.m.StartTrip(f.ctx, f.v1, b.ID))
		if status == booking.StatusOngoing {
			break
		}
		must(f.m.EndTrip(f.ctx, f.v1, b.ID, nil))
	}
	if b.Status != status {
		f.t.Fatalf("expected %s, got %s", status, b.Status)
	}
	return b
}

func (f *fixture) history(id string) []booking.HistoryEntry {
	f.t.Helper()
	rows, err := f.store.History(f.ctx, id)
	if err != nil {
		f.t.Fatalf("history: %v", err)
	}
	return rows
}

func (f *fixture) reload(id string) *booking.Booking {
	f.t.Helper()
	b, err := f.store.Get(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get: %v", err)
	}
	return b
}

func TestLifecycle_EndToEnd(t *testing.T) {
	f := newFixture(t, booking.Options{})

	b := f.create()
	if b.Status != booking.StatusPending || b.Visibility != booking.VisibilityAssociated {
		t.Fatalf("expected pending/associated, got %s/%s", b.Status, b.Visibility)
	}
	if b.CompanyID != f.company.OwnerID {
		t.Fatalf("expected company id from actor, got %q", b.CompanyID)
	}
	if !strings.HasPrefix(b.BookingNumber, "BK") || len(b.BookingNumber) != 16 {
		t.Fatalf("unexpected booking number %q", b.BookingNumber)
	}
	if b.PaymentStatus != booking.PaymentPending {
		t.Fatalf("expected payment pending, got %q", b.PaymentStatus)
	}
	if n := len(f.history(b.ID)); n != 0 {
		t.Fatalf("expected no history after create, got %d", n)
	}

	b, err := f.m.Accept(f.ctx, f.v1, b.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if b.Status != booking.StatusAccepted || b.VendorID != f.v1.OwnerID {
		t.Fatalf("unexpected accept result: %s vendor=%s", b.Status, b.VendorID)
	}

	b, err = f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, f.driverID, f.vehicleID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if b.DriverID != f.driverID || b.VehicleID != f.vehicleID || b.Status != booking.StatusAccepted {
		t.Fatalf("unexpected assign result: %#v", b)
	}

	f.now = f.now.Add(2 * time.Hour)
	b, err = f.m.StartTrip(f.ctx, f.v1, b.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != booking.StatusOngoing || b.TripStartedAt == nil || !b.TripStartedAt.Equal(f.now) {
		t.Fatalf("unexpected start result: %s %v", b.Status, b.TripStartedAt)
	}

	f.now = f.now.Add(40 * time.Minute)
	fare := decimal.RequireFromString("450")
	b, err = f.m.EndTrip(f.ctx, f.v1, b.ID, &fare)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if b.Status != booking.StatusCompleted || b.TripEndedAt == nil {
		t.Fatalf("unexpected end result: %s %v", b.Status, b.TripEndedAt)
	}
	if b.ActualFare == nil || !b.ActualFare.Equal(fare) {
		t.Fatalf("expected actual fare 450, got %v", b.ActualFare)
	}

	rows := f.history(b.ID)
	want := []booking.Status{booking.StatusAccepted, booking.StatusOngoing, booking.StatusCompleted}
	if len(rows) != len(want) {
		t.Fatalf("expected %d history rows, got %d", len(want), len(rows))
	}
	for i, s := range want {
		if rows[i].Status != s {
			t.Fatalf("history[%d]: expected %s, got %s", i, s, rows[i].Status)
		}
		if rows[i].ChangedBy != f.v1.UserID {
			t.Fatalf("history[%d]: expected changed by %s, got %s", i, f.v1.UserID, rows[i].ChangedBy)
		}
	}

	if total, _ := f.store.VendorSummary(f.v1.OwnerID); total != 1 {
		t.Fatalf("expected vendor total_bookings 1, got %d", total)
	}
}

func TestAccept_ConcurrentVendorsExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, booking.Options{})
		if _, err := f.store.Activate(f.ctx, f.company.OwnerID, f.v2.OwnerID); err != nil {
			t.Fatalf("associate v2: %v", err)
		}
		b := f.create()

		vendors := []identity.Actor{f.v1, f.v2}
		errs := make([]error, len(vendors))
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
		)
		for n, v := range vendors {
			wg.Add(1)
			go func(n int, v identity.Actor) {
				defer wg.Done()
				<-start
				_, errs[n] = f.m.Accept(f.ctx, v, b.ID)
			}(n, v)
		}
		close(start)
		wg.Wait()

		winner := -1
		for n, err := range errs {
			switch {
			case err == nil:
				if winner != -1 {
					t.Fatalf("two accepts succeeded")
				}
				winner = n
			case !errors.Is(err, booking.ErrAlreadyAssigned):
				t.Fatalf("expected ALREADY_ASSIGNED for loser, got %v", err)
			}
		}
		if winner == -1 {
			t.Fatalf("no accept succeeded: %v", errs)
		}
		if got := f.reload(b.ID).VendorID; got != vendors[winner].OwnerID {
			t.Fatalf("expected vendor %s, got %s", vendors[winner].OwnerID, got)
		}
		if n := len(f.history(b.ID)); n != 1 {
			t.Fatalf("expected exactly one history row, got %d", n)
		}
	}
}

func TestAccept_RetryByWinnerIsNoop(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.create()

	first, err := f.m.Accept(f.ctx, f.v1, b.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.now = f.now.Add(time.Minute)
	again, err := f.m.Accept(f.ctx, f.v1, b.ID)
	if err != nil {
		t.Fatalf("retried accept: %v", err)
	}
	if !again.UpdatedAt.Equal(first.UpdatedAt) || again.VendorID != f.v1.OwnerID {
		t.Fatalf("retry changed the booking: %#v", again)
	}
	if n := len(f.history(b.ID)); n != 1 {
		t.Fatalf("expected one history row, got %d", n)
	}
}

func TestAccept_UnassociatedVendorIsRejectedUntilPromotion(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.create()

	if _, err := f.m.Accept(f.ctx, f.v2, b.ID); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if _, err := f.m.Get(f.ctx, f.v2, b.ID); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN on read, got %v", err)
	}
	items, err := f.m.List(f.ctx, f.v2, booking.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty marketplace for v2, got %d", len(items))
	}
	if got := f.reload(b.ID); got.Status != booking.StatusPending || got.VendorID != "" {
		t.Fatalf("rejected accept changed the booking: %#v", got)
	}

	f.now = f.now.Add(10 * time.Minute)
	if n, err := f.m.PromoteStale(f.ctx, 15*time.Minute); err != nil || n != 0 {
		t.Fatalf("expected nothing to promote yet, got %d (%v)", n, err)
	}
	f.now = f.now.Add(6 * time.Minute)
	if n, err := f.m.PromoteStale(f.ctx, 15*time.Minute); err != nil || n != 1 {
		t.Fatalf("expected one promotion, got %d (%v)", n, err)
	}

	promoted := f.reload(b.ID)
	if promoted.Visibility != booking.VisibilityOpenMarket || promoted.VisibilityChangedAt == nil {
		t.Fatalf("expected open market with timestamp, got %#v", promoted)
	}
	if n := len(f.history(b.ID)); n != 0 {
		t.Fatalf("promotion must not write history, got %d rows", n)
	}
	if _, err := f.m.Accept(f.ctx, f.v2, b.ID); err != nil {
		t.Fatalf("accept after promotion: %v", err)
	}
}

func TestStartTrip_RequiresDriverAndVehicle(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.bookingIn(booking.StatusAccepted)

	_, err := f.m.StartTrip(f.ctx, f.v1, b.ID)
	if !errors.Is(err, booking.ErrPreconditionFailed) {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
	got := f.reload(b.ID)
	if got.Status != booking.StatusAccepted || got.TripStartedAt != nil {
		t.Fatalf("failed start changed the booking: %#v", got)
	}

	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, f.driverID, f.vehicleID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	started, err := f.m.StartTrip(f.ctx, f.v1, b.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != booking.StatusOngoing || started.TripStartedAt == nil {
		t.Fatalf("unexpected start result: %#v", started)
	}
	if _, err := f.m.StartTrip(f.ctx, f.v2, b.ID); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for another vendor, got %v", err)
	}
}

func TestCancel_FromEachStatus(t *testing.T) {
	cases := []struct {
		from booking.Status
		ok   bool
	}{
		{booking.StatusPending, true},
		{booking.StatusAccepted, true},
		{booking.StatusOngoing, true},
		{booking.StatusCompleted, false},
		{booking.StatusRejected, false},
		{booking.StatusCancelled, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			f := newFixture(t, booking.Options{})
			b := f.bookingIn(tc.from)
			before := len(f.history(b.ID))

			out, err := f.m.Cancel(f.ctx, f.company, b.ID, "meeting moved")
			if tc.ok {
				if err != nil {
					t.Fatalf("cancel: %v", err)
				}
				if out.Status != booking.StatusCancelled {
					t.Fatalf("expected cancelled, got %s", out.Status)
				}
				rows := f.history(b.ID)
				if len(rows) != before+1 {
					t.Fatalf("expected one new history row, got %d", len(rows)-before)
				}
				if last := rows[len(rows)-1]; last.Status != booking.StatusCancelled || last.Notes != "meeting moved" {
					t.Fatalf("unexpected history row: %#v", last)
				}
				return
			}
			if !errors.Is(err, booking.ErrInvalidTransition) {
				t.Fatalf("expected INVALID_STATE_TRANSITION, got %v", err)
			}
			if got := f.reload(b.ID); got.Status != tc.from {
				t.Fatalf("failed cancel changed status to %s", got.Status)
			}
			if n := len(f.history(b.ID)); n != before {
				t.Fatalf("failed cancel wrote history")
			}
		})
	}
}

func TestCancel_ByVendorOnlyOnceClaimed(t *testing.T) {
	f := newFixture(t, booking.Options{})

	pending := f.create()
	if _, err := f.m.Cancel(f.ctx, f.v1, pending.ID, ""); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for unclaimed booking, got %v", err)
	}

	accepted := f.bookingIn(booking.StatusAccepted)
	if _, err := f.m.Cancel(f.ctx, f.v2, accepted.ID, ""); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for another vendor, got %v", err)
	}
	out, err := f.m.Cancel(f.ctx, f.v1, accepted.ID, "vehicle broke down")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != booking.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", out.Status)
	}
}

func TestOffGraphTransitionsLeaveRecordUnchanged(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.create()
	f.now = f.now.Add(time.Minute)

	if _, err := f.m.EndTrip(f.ctx, f.v1, b.ID, nil); err == nil {
		t.Fatalf("expected end trip on a pending booking to fail")
	}
	if _, err := f.m.StartTrip(f.ctx, f.v1, b.ID); err == nil {
		t.Fatalf("expected start trip on a pending booking to fail")
	}

	done := f.bookingIn(booking.StatusCompleted)
	for name, op := range map[string]func() error{
		"accept": func() error { _, err := f.m.Accept(f.ctx, f.v1, done.ID); return err },
		"reject": func() error { _, err := f.m.Reject(f.ctx, f.v1, done.ID, ""); return err },
		"start":  func() error { _, err := f.m.StartTrip(f.ctx, f.v1, done.ID); return err },
		"end":    func() error { _, err := f.m.EndTrip(f.ctx, f.v1, done.ID, nil); return err },
		"assign": func() error {
			_, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, done.ID, f.driverID, f.vehicleID)
			return err
		},
	} {
		if err := op(); !errors.Is(err, booking.ErrInvalidTransition) {
			t.Fatalf("%s on completed: expected INVALID_STATE_TRANSITION, got %v", name, err)
		}
	}

	// Another vendor touching a finished claim sees the status, not a lost race.
	if _, err := f.store.Activate(f.ctx, f.company.OwnerID, f.v2.OwnerID); err != nil {
		t.Fatalf("associate v2: %v", err)
	}
	claimedThenCancelled := f.bookingIn(booking.StatusAccepted)
	if _, err := f.m.Cancel(f.ctx, f.v1, claimedThenCancelled.ID, "guest no-show"); err != nil {
		t.Fatalf("vendor cancel: %v", err)
	}
	for _, tc := range []struct {
		name string
		b    *booking.Booking
	}{
		{"completed", done},
		{"cancelled", f.reload(claimedThenCancelled.ID)},
	} {
		before := f.reload(tc.b.ID)
		_, err := f.m.Accept(f.ctx, f.v2, tc.b.ID)
		if !errors.Is(err, booking.ErrInvalidTransition) {
			t.Fatalf("accept on %s by other vendor: expected INVALID_STATE_TRANSITION, got %v", tc.name, err)
		}
		after := f.reload(tc.b.ID)
		if after.VendorID != f.v1.OwnerID || after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Fatalf("accept on %s by other vendor changed the booking: %#v", tc.name, after)
		}
	}

	got := f.reload(b.ID)
	if got.Status != booking.StatusPending || !got.UpdatedAt.Equal(b.UpdatedAt) {
		t.Fatalf("off-graph call changed the booking: %#v", got)
	}
	if n := len(f.history(done.ID)); n != 3 {
		t.Fatalf("expected 3 history rows on completed booking, got %d", n)
	}
}

func TestAssign_ResourceChecks(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.bookingIn(booking.StatusAccepted)
	otherDriver, otherVehicle := f.addFleet(f.v2.OwnerID)

	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, otherDriver, f.vehicleID); !errors.Is(err, booking.ErrResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE for foreign driver, got %v", err)
	}
	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, f.driverID, otherVehicle); !errors.Is(err, booking.ErrResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE for foreign vehicle, got %v", err)
	}

	if err := f.store.SetVehicleAvailability(f.ctx, f.v1.OwnerID, f.vehicleID, false); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, f.driverID, f.vehicleID); !errors.Is(err, booking.ErrResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE for unavailable vehicle, got %v", err)
	}
	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, "missing", f.vehicleID); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown driver, got %v", err)
	}
	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, b.ID, "", f.vehicleID); !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected VALIDATION_FAILED for empty driver, got %v", err)
	}

	got := f.reload(b.ID)
	if got.DriverID != "" || got.VehicleID != "" {
		t.Fatalf("failed assignments changed the booking: %#v", got)
	}

	pending := f.create()
	if _, err := f.m.AssignDriverAndVehicle(f.ctx, f.v1, pending.ID, f.driverID, f.vehicleID); err == nil {
		t.Fatalf("expected assign on pending booking to fail")
	}
	if n := len(f.history(b.ID)); n != 1 {
		t.Fatalf("assignment must not write history, got %d rows", n)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, booking.Options{PickupGrace: 5 * time.Minute})

	in := f.input()
	in.GuestName = "  "
	if _, err := f.m.Create(f.ctx, f.company, in); !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected VALIDATION_FAILED for blank guest name, got %v", err)
	}

	in = f.input()
	in.PickupAt = f.now.Add(-10 * time.Minute)
	if _, err := f.m.Create(f.ctx, f.company, in); !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected VALIDATION_FAILED for past pickup, got %v", err)
	}

	in = f.input()
	in.PickupAt = f.now.Add(-2 * time.Minute)
	if _, err := f.m.Create(f.ctx, f.company, in); err != nil {
		t.Fatalf("pickup within grace should pass: %v", err)
	}

	in = f.input()
	in.VehicleType = "rickshaw"
	if _, err := f.m.Create(f.ctx, f.company, in); !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected VALIDATION_FAILED for vehicle type, got %v", err)
	}

	in = f.input()
	neg := decimal.NewFromInt(-1)
	in.FareAmount = &neg
	if _, err := f.m.Create(f.ctx, f.company, in); !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected VALIDATION_FAILED for negative fare, got %v", err)
	}

	in = f.input()
	in.CompanyID = "someone-else"
	if _, err := f.m.Create(f.ctx, f.company, in); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for another company, got %v", err)
	}
	if _, err := f.m.Create(f.ctx, f.v1, f.input()); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for vendor, got %v", err)
	}
}

func TestList_Visibility(t *testing.T) {
	f := newFixture(t, booking.Options{})
	otherCompany := identity.Actor{UserID: "user-c2", Role: identity.RoleCompany, OwnerID: f.store.AddCompany("user-c2", "Globex")}

	mine := f.create()
	f.now = f.now.Add(time.Minute)
	foreign, err := f.m.Create(f.ctx, otherCompany, f.input())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.now = f.now.Add(time.Minute)
	claimed := f.bookingIn(booking.StatusAccepted)

	ids := func(items []booking.Booking) []string {
		out := make([]string, 0, len(items))
		for _, b := range items {
			out = append(out, b.ID)
		}
		return out
	}

	market, err := f.m.List(f.ctx, f.v1, booking.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := ids(market); len(got) != 1 || got[0] != mine.ID {
		t.Fatalf("v1 marketplace: expected only %s, got %v", mine.ID, got)
	}

	own, err := f.m.List(f.ctx, f.v1, booking.Filter{History: true})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if got := ids(own); len(got) != 1 || got[0] != claimed.ID {
		t.Fatalf("v1 history: expected only %s, got %v", claimed.ID, got)
	}

	companyView, err := f.m.List(f.ctx, f.company, booking.Filter{})
	if err != nil {
		t.Fatalf("list company: %v", err)
	}
	if got := ids(companyView); len(got) != 2 || got[0] != claimed.ID || got[1] != mine.ID {
		t.Fatalf("company view: expected newest first [%s %s], got %v", claimed.ID, mine.ID, got)
	}

	for _, b := range market {
		if b.ID == foreign.ID {
			t.Fatalf("associated-only booking of another company leaked to v1")
		}
	}

	searched, err := f.m.List(f.ctx, f.company, booking.Filter{Search: mine.BookingNumber})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := ids(searched); len(got) != 1 || got[0] != mine.ID {
		t.Fatalf("search by number: got %v", got)
	}

	accepted, err := f.m.List(f.ctx, f.v1, booking.Filter{Status: booking.StatusAccepted})
	if err != nil {
		t.Fatalf("list accepted marketplace: %v", err)
	}
	if len(accepted) != 0 {
		t.Fatalf("marketplace holds only pending bookings, got %d", len(accepted))
	}
}

func TestRejectAndReoffer(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.create()

	rejected, err := f.m.Reject(f.ctx, f.v1, b.ID, "no cars in that area")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != booking.StatusRejected || rejected.VendorID != "" {
		t.Fatalf("unexpected reject result: %s vendor=%q", rejected.Status, rejected.VendorID)
	}
	rows := f.history(b.ID)
	if len(rows) != 1 || rows[0].Status != booking.StatusRejected || rows[0].Notes != "no cars in that area" {
		t.Fatalf("unexpected history: %#v", rows)
	}

	if _, err := f.m.Reoffer(f.ctx, f.v1, b.ID); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for vendor re-offer, got %v", err)
	}
	clone, err := f.m.Reoffer(f.ctx, f.company, b.ID)
	if err != nil {
		t.Fatalf("reoffer: %v", err)
	}
	if clone.ID == b.ID || clone.ReofferedFrom != b.ID {
		t.Fatalf("expected a new booking linked to %s, got %#v", b.ID, clone)
	}
	if clone.Status != booking.StatusPending || clone.Visibility != booking.VisibilityOpenMarket {
		t.Fatalf("expected pending/open_market clone, got %s/%s", clone.Status, clone.Visibility)
	}
	if clone.BookingNumber == b.BookingNumber {
		t.Fatalf("expected a fresh booking number")
	}
	if _, err := f.m.Reoffer(f.ctx, f.company, b.ID); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected INVALID_STATE_TRANSITION on second re-offer, got %v", err)
	}
	if _, err := f.m.Reoffer(f.ctx, f.company, clone.ID); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected INVALID_STATE_TRANSITION for pending booking, got %v", err)
	}

	market, err := f.m.List(f.ctx, f.v2, booking.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(market) != 1 || market[0].ID != clone.ID {
		t.Fatalf("expected the open-market clone in v2's marketplace, got %d items", len(market))
	}
}

func TestReject_AutomaticReoffer(t *testing.T) {
	f := newFixture(t, booking.Options{ReofferRejected: true})
	b := f.create()

	if _, err := f.m.Reject(f.ctx, f.v1, b.ID, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	items, err := f.m.List(f.ctx, f.company, booking.Filter{Status: booking.StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ReofferedFrom != b.ID {
		t.Fatalf("expected one automatic re-offer of %s, got %#v", b.ID, items)
	}
}

func TestReview(t *testing.T) {
	f := newFixture(t, booking.Options{})

	ongoing := f.bookingIn(booking.StatusOngoing)
	if _, err := f.m.Review(f.ctx, f.company, ongoing.ID, 4, ""); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected INVALID_STATE_TRANSITION for ongoing trip, got %v", err)
	}

	done := f.bookingIn(booking.StatusCompleted)
	before := len(f.history(done.ID))
	if _, err := f.m.Review(f.ctx, f.company, done.ID, 6, ""); !errors.Is(err, booking.ErrValidation) {
		t.Fatalf("expected VALIDATION_FAILED for rating 6, got %v", err)
	}
	if _, err := f.m.Review(f.ctx, f.v1, done.ID, 5, ""); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for vendor review, got %v", err)
	}

	reviewed, err := f.m.Review(f.ctx, f.company, done.ID, 4, " smooth ride ")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Rating == nil || *reviewed.Rating != 4 || reviewed.Feedback != "smooth ride" {
		t.Fatalf("unexpected review result: %#v", reviewed)
	}
	if _, err := f.m.Review(f.ctx, f.company, done.ID, 5, ""); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected INVALID_STATE_TRANSITION on second review, got %v", err)
	}
	if n := len(f.history(done.ID)); n != before {
		t.Fatalf("review must not write history")
	}

	_, rating := f.store.VendorSummary(f.v1.OwnerID)
	if !rating.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected vendor rating 4, got %s", rating)
	}
}

func TestGetAndHistory_Authorization(t *testing.T) {
	f := newFixture(t, booking.Options{})
	b := f.bookingIn(booking.StatusAccepted)

	if _, err := f.m.Get(f.ctx, f.company, b.ID); err != nil {
		t.Fatalf("company get: %v", err)
	}
	rows, err := f.m.History(f.ctx, f.v1, b.ID)
	if err != nil {
		t.Fatalf("vendor history: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != booking.StatusAccepted {
		t.Fatalf("unexpected history: %#v", rows)
	}
	if _, err := f.m.History(f.ctx, f.v2, b.ID); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for other vendor, got %v", err)
	}
	if _, err := f.m.Get(f.ctx, f.company, "no-such-booking"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, booking.Options{})
	f.create()
	f.bookingIn(booking.StatusAccepted)
	f.bookingIn(booking.StatusCompleted)

	cs, err := f.m.Stats(f.ctx, f.company)
	if err != nil {
		t.Fatalf("company stats: %v", err)
	}
	if cs.Total != 3 || cs.ByStatus[booking.StatusPending] != 1 || cs.ByStatus[booking.StatusCompleted] != 1 {
		t.Fatalf("unexpected company stats: %#v", cs)
	}

	vs, err := f.m.Stats(f.ctx, f.v1)
	if err != nil {
		t.Fatalf("vendor stats: %v", err)
	}
	if vs.Total != 2 || vs.OpenRequests != 1 || vs.ActiveDrivers != 1 || vs.ActiveVehicles != 1 {
		t.Fatalf("unexpected vendor stats: %#v", vs)
	}
}
