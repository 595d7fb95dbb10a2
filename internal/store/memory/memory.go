// Package memory is an in-process store for local runs and tests. It implements
// every persistence interface of the service with the same conditional-write
// contract as the Postgres repositories: one mutex makes each Apply atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cabbooking/internal/association"
	"cabbooking/internal/booking"
	"cabbooking/internal/events"
	"cabbooking/internal/fleet"
	"cabbooking/internal/identity"
)

type vendor struct {
	name          string
	totalBookings int
	rating        decimal.Decimal
}

type Store struct {
	mu  sync.Mutex
	bus *events.Bus
	now func() time.Time

	users        map[string]identity.Actor
	companies    map[string]string
	vendors      map[string]*vendor
	associations map[[2]string]association.Association

	bookings map[string]booking.Booking
	order    []string
	reoffers map[string]string
	history  map[string][]booking.HistoryEntry
	seq      int

	drivers  map[string]fleet.Driver
	vehicles map[string]fleet.Vehicle
}

// New returns an empty store. Booking changes are published to bus when it is not nil.
func New(bus *events.Bus) *Store {
	return &Store{
		bus:          bus,
		now:          time.Now,
		users:        map[string]identity.Actor{},
		companies:    map[string]string{},
		vendors:      map[string]*vendor{},
		associations: map[[2]string]association.Association{},
		bookings:     map[string]booking.Booking{},
		reoffers:     map[string]string{},
		history:      map[string][]booking.HistoryEntry{},
		drivers:      map[string]fleet.Driver{},
		vehicles:     map[string]fleet.Vehicle{},
	}
}

// AddCompany registers a company owned by userID and returns its id.
func (s *Store) AddCompany(userID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.companies[id] = name
	s.users[userID] = identity.Actor{UserID: userID, Role: identity.RoleCompany, OwnerID: id}
	return id
}

// AddVendor registers a vendor owned by userID and returns its id.
func (s *Store) AddVendor(userID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.vendors[id] = &vendor{name: name}
	s.users[userID] = identity.Actor{UserID: userID, Role: identity.RoleVendor, OwnerID: id}
	return id
}

// VendorSummary returns the completion count and average rating of a vendor.
func (s *Store) VendorSummary(vendorID string) (int, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[vendorID]
	if !ok {
		return 0, decimal.Zero
	}
	return v.totalBookings, v.rating
}

func (s *Store) Lookup(_ context.Context, userID string) (*identity.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[userID]
	if !ok {
		return nil, identity.ErrNoProfile
	}
	return &a, nil
}

// bookings

func (s *Store) NextBookingNumber(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("BK%s%06d", s.now().Format("20060102"), s.seq), nil
}

func (s *Store) Insert(_ context.Context, b *booking.Booking) error {
	s.mu.Lock()
	if b.ReofferedFrom != "" {
		if _, taken := s.reoffers[b.ReofferedFrom]; taken {
			s.mu.Unlock()
			return booking.ErrConditionFailed
		}
	}
	b.ID = uuid.NewString()
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	s.bookings[b.ID] = *b
	s.order = append(s.order, b.ID)
	if b.ReofferedFrom != "" {
		s.reoffers[b.ReofferedFrom] = b.ID
	}
	s.mu.Unlock()

	s.publish(events.OpInsert, *b)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return &b, nil
}

func (s *Store) Apply(_ context.Context, u booking.Update) (*booking.Booking, error) {
	s.mu.Lock()
	b, ok := s.bookings[u.ID]
	if !ok || !s.guardsHold(b, u) {
		s.mu.Unlock()
		return nil, booking.ErrConditionFailed
	}

	set := u.Set
	if set.Status != "" {
		b.Status = set.Status
	}
	if set.VendorID != "" {
		b.VendorID = set.VendorID
	}
	if set.DriverID != "" {
		b.DriverID = set.DriverID
	}
	if set.VehicleID != "" {
		b.VehicleID = set.VehicleID
	}
	if set.TripStartedAt != nil {
		t := *set.TripStartedAt
		b.TripStartedAt = &t
	}
	if set.TripEndedAt != nil {
		t := *set.TripEndedAt
		b.TripEndedAt = &t
	}
	if set.ActualFare != nil {
		d := *set.ActualFare
		b.ActualFare = &d
	}
	if set.Rating != nil {
		r := *set.Rating
		b.Rating = &r
	}
	if set.Feedback != nil {
		b.Feedback = *set.Feedback
	}
	b.UpdatedAt = set.UpdatedAt
	s.bookings[b.ID] = b

	if u.History != nil {
		h := *u.History
		h.ID = uuid.NewString()
		h.BookingID = b.ID
		s.history[b.ID] = append(s.history[b.ID], h)
		*u.History = h
	}
	s.mu.Unlock()

	s.publish(events.OpUpdate, b)
	return &b, nil
}

func (s *Store) guardsHold(b booking.Booking, u booking.Update) bool {
	if len(u.From) > 0 && !containsStatus(u.From, b.Status) {
		return false
	}
	if u.CompanyID != "" && b.CompanyID != u.CompanyID {
		return false
	}
	if u.VendorID != "" && b.VendorID != u.VendorID {
		return false
	}
	if u.VisibleTo != "" && b.Visibility != booking.VisibilityOpenMarket && !s.associated(b.CompanyID, u.VisibleTo) {
		return false
	}
	if u.Assigned && (b.DriverID == "" || b.VehicleID == "") {
		return false
	}
	if u.Unrated && b.Rating != nil {
		return false
	}
	if u.Claim != nil {
		d, ok := s.drivers[u.Claim.DriverID]
		if !ok || !d.Assignable(b.VendorID) {
			return false
		}
		v, ok := s.vehicles[u.Claim.VehicleID]
		if !ok || !v.Assignable(b.VendorID) {
			return false
		}
	}
	return true
}

func (s *Store) List(_ context.Context, q booking.Query) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []booking.Booking
	for i := len(s.order) - 1; i >= 0; i-- {
		b := s.bookings[s.order[i]]
		if q.Matches(b, q.MarketplaceFor != "" && s.associated(b.CompanyID, q.MarketplaceFor)) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, q booking.Query) (map[booking.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[booking.Status]int{}
	for _, b := range s.bookings {
		if q.Matches(b, q.MarketplaceFor != "" && s.associated(b.CompanyID, q.MarketplaceFor)) {
			out[b.Status]++
		}
	}
	return out, nil
}

func (s *Store) History(_ context.Context, bookingID string) ([]booking.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]booking.HistoryEntry(nil), s.history[bookingID]...), nil
}

func (s *Store) AssociationActive(_ context.Context, companyID, vendorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.associated(companyID, vendorID), nil
}

func (s *Store) PromoteStale(_ context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	var promoted []booking.Booking
	for id, b := range s.bookings {
		if b.Status != booking.StatusPending || b.Visibility != booking.VisibilityAssociated || b.VendorID != "" {
			continue
		}
		if b.CreatedAt.After(cutoff) {
			continue
		}
		at := now
		b.Visibility = booking.VisibilityOpenMarket
		b.VisibilityChangedAt = &at
		b.UpdatedAt = now
		s.bookings[id] = b
		promoted = append(promoted, b)
	}
	s.mu.Unlock()

	for _, b := range promoted {
		s.publish(events.OpUpdate, b)
	}
	return len(promoted), nil
}

func (s *Store) RecordCompletion(_ context.Context, vendorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vendors[vendorID]; ok {
		v.totalBookings++
	}
	return nil
}

func (s *Store) RefreshRating(_ context.Context, vendorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[vendorID]
	if !ok {
		return nil
	}
	var sum, n int64
	for _, b := range s.bookings {
		if b.VendorID == vendorID && b.Rating != nil {
			sum += int64(*b.Rating)
			n++
		}
	}
	if n == 0 {
		v.rating = decimal.Zero
		return nil
	}
	v.rating = decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(n), 2)
	return nil
}

func (s *Store) associated(companyID, vendorID string) bool {
	a, ok := s.associations[[2]string{companyID, vendorID}]
	return ok && a.IsActive
}

func (s *Store) publish(op string, b booking.Booking) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Change{
		Table:     events.TableBookings,
		Op:        op,
		ID:        b.ID,
		CompanyID: b.CompanyID,
		VendorID:  b.VendorID,
		At:        s.now().UTC(),
	})
}

func containsStatus(list []booking.Status, st booking.Status) bool {
	for _, x := range list {
		if x == st {
			return true
		}
	}
	return false
}
