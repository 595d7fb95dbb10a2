package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cabbooking/internal/fleet"
	"cabbooking/internal/identity"
	"cabbooking/pkg/validate"
)

type Options struct {
	// PickupGrace is how far in the past a pickup time may be and still be accepted.
	PickupGrace time.Duration
	// ReofferRejected re-offers every rejected booking to the open market right away.
	ReofferRejected bool
}

type Deps struct {
	Store   Store
	Numbers NumberGenerator
	Fleet   Resources
	Vendors VendorAggregates
	Logger  *slog.Logger
	Now     func() time.Time
	Options Options
}

// Manager owns booking status, visibility and assignment. It keeps no state of its
// own; every precondition is checked by the store in the same write that applies it.
type Manager struct {
	store   Store
	numbers NumberGenerator
	fleet   Resources
	vendors VendorAggregates
	logger  *slog.Logger
	now     func() time.Time
	opts    Options
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		store:   d.Store,
		numbers: d.Numbers,
		fleet:   d.Fleet,
		vendors: d.Vendors,
		logger:  d.Logger,
		now:     d.Now,
		opts:    d.Options,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) Create(ctx context.Context, actor identity.Actor, in CreateInput) (*Booking, error) {
	if !actor.IsCompany() {
		return nil, forbidden("only companies can create bookings")
	}
	in.normalize()
	if in.CompanyID == "" {
		in.CompanyID = actor.OwnerID
	}
	if in.CompanyID != actor.OwnerID {
		return nil, forbidden("cannot create bookings for another company")
	}
	if err := validate.Struct(in); err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}

	now := m.now()
	if in.PickupAt.Before(now.Add(-m.opts.PickupGrace)) {
		return nil, validationError("pickupDatetime must not be in the past")
	}
	if negative(in.EstimatedDistance) {
		return nil, validationError("estimatedDistance must not be negative")
	}
	if negative(in.FareAmount) {
		return nil, validationError("fareAmount must not be negative")
	}

	number, err := m.numbers.NextBookingNumber(ctx)
	if err != nil {
		return nil, m.storeErr("generate booking number", err)
	}

	b := &Booking{
		BookingNumber:        number,
		CompanyID:            in.CompanyID,
		GuestName:            in.GuestName,
		GuestPhone:           in.GuestPhone,
		GuestEmail:           in.GuestEmail,
		PickupLocation:       in.PickupLocation,
		DropoffLocation:      in.DropoffLocation,
		PickupAt:             in.PickupAt,
		VehicleTypeRequested: fleet.VehicleType(in.VehicleType),
		EstimatedDistance:    in.EstimatedDistance,
		EstimatedDuration:    in.EstimatedDuration,
		FareAmount:           in.FareAmount,
		SpecialInstructions:  in.SpecialInstructions,
		Status:               StatusPending,
		Visibility:           VisibilityAssociated,
		PaymentStatus:        PaymentPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.store.Insert(ctx, b); err != nil {
		return nil, m.storeErr("insert booking", err)
	}
	m.logger.InfoContext(ctx, "booking created",
		"booking_id", b.ID, "booking_number", b.BookingNumber, "company_id", b.CompanyID)
	return b, nil
}

// List returns the bookings visible to actor, newest first. Vendors see the
// marketplace of pending offers unless f.History asks for their own bookings.
func (m *Manager) List(ctx context.Context, actor identity.Actor, f Filter) ([]Booking, error) {
	q := Query{Search: strings.TrimSpace(f.Search), Limit: clampLimit(f.Limit)}
	if f.Status != "" {
		q.Statuses = []Status{f.Status}
	}

	switch {
	case actor.IsCompany():
		q.CompanyID = actor.OwnerID
	case actor.IsVendor() && f.History:
		q.VendorID = actor.OwnerID
	case actor.IsVendor():
		if f.Status != "" && f.Status != StatusPending {
			return []Booking{}, nil
		}
		q.MarketplaceFor = actor.OwnerID
		q.Statuses = []Status{StatusPending}
	default:
		return nil, forbidden("unknown role")
	}

	items, err := m.store.List(ctx, q)
	if err != nil {
		return nil, m.storeErr("list bookings", err)
	}
	if items == nil {
		items = []Booking{}
	}
	return items, nil
}

func (m *Manager) Get(ctx context.Context, actor identity.Actor, id string) (*Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeRead(ctx, actor, b); err != nil {
		return nil, err
	}
	return b, nil
}

// History returns the status changes of a booking, oldest first.
func (m *Manager) History(ctx context.Context, actor identity.Actor, id string) ([]HistoryEntry, error) {
	if _, err := m.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	rows, err := m.store.History(ctx, id)
	if err != nil {
		return nil, m.storeErr("load history", err)
	}
	if rows == nil {
		rows = []HistoryEntry{}
	}
	return rows, nil
}

// Accept claims a pending booking for the actor's vendor. At most one vendor wins;
// repeating a successful accept returns the booking unchanged.
func (m *Manager) Accept(ctx context.Context, actor identity.Actor, id string) (*Booking, error) {
	if !actor.IsVendor() {
		return nil, forbidden("only vendors can accept bookings")
	}
	now := m.now()
	b, err := m.store.Apply(ctx, Update{
		ID:        id,
		From:      sourcesOf(ActionAccept),
		VisibleTo: actor.OwnerID,
		Set:       Changes{Status: StatusAccepted, VendorID: actor.OwnerID, UpdatedAt: now},
		History:   m.entry(actor, StatusAccepted, "", now),
	})
	if err == nil {
		m.logTransition(ctx, actor, b, ActionAccept)
		return b, nil
	}
	if !errors.Is(err, ErrConditionFailed) {
		return nil, m.storeErr("accept booking", err)
	}

	cur, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case cur.Status == StatusAccepted && cur.VendorID == actor.OwnerID:
		return cur, nil
	case cur.VendorID != "" && cur.VendorID != actor.OwnerID && !cur.Status.Terminal():
		// Lost the race: another vendor holds a live claim.
		return nil, &Error{Kind: KindAlreadyAssigned, Message: "booking was accepted by another vendor"}
	case !allows(ActionAccept, cur.Status):
		return nil, invalidTransition(cur.Status, ActionAccept)
	default:
		return nil, forbidden("booking is not offered to this vendor")
	}
}

// Reject declines a pending offer. vendor_id stays empty so the booking can be
// re-offered.
func (m *Manager) Reject(ctx context.Context, actor identity.Actor, id, note string) (*Booking, error) {
	if !actor.IsVendor() {
		return nil, forbidden("only vendors can reject bookings")
	}
	now := m.now()
	b, err := m.store.Apply(ctx, Update{
		ID:        id,
		From:      sourcesOf(ActionReject),
		VisibleTo: actor.OwnerID,
		Set:       Changes{Status: StatusRejected, UpdatedAt: now},
		History:   m.entry(actor, StatusRejected, strings.TrimSpace(note), now),
	})
	if err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return nil, m.storeErr("reject booking", err)
		}
		return nil, m.explainOffer(ctx, actor, id, ActionReject)
	}
	m.logTransition(ctx, actor, b, ActionReject)

	if m.opts.ReofferRejected {
		if clone, err := m.reoffer(ctx, b); err != nil {
			m.logger.WarnContext(ctx, "automatic re-offer failed", "booking_id", b.ID, "err", err)
		} else {
			m.logger.InfoContext(ctx, "booking re-offered", "booking_id", b.ID, "reoffer_id", clone.ID)
		}
	}
	return b, nil
}

func (m *Manager) StartTrip(ctx context.Context, actor identity.Actor, id string) (*Booking, error) {
	if !actor.IsVendor() {
		return nil, forbidden("only vendors can start trips")
	}
	now := m.now()
	b, err := m.store.Apply(ctx, Update{
		ID:       id,
		From:     sourcesOf(ActionStart),
		VendorID: actor.OwnerID,
		Assigned: true,
		Set:      Changes{Status: StatusOngoing, TripStartedAt: &now, UpdatedAt: now},
		History:  m.entry(actor, StatusOngoing, "", now),
	})
	if err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return nil, m.storeErr("start trip", err)
		}
		cur, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := m.explainClaimed(actor, cur, ActionStart); err != nil {
			return nil, err
		}
		if cur.DriverID == "" || cur.VehicleID == "" {
			return nil, &Error{Kind: KindPreconditionFailed, Message: "assign a driver and a vehicle before starting the trip"}
		}
		return nil, concurrentChange(cur, ActionStart)
	}
	m.logTransition(ctx, actor, b, ActionStart)
	return b, nil
}

// EndTrip completes an ongoing trip and records the final fare when given.
func (m *Manager) EndTrip(ctx context.Context, actor identity.Actor, id string, actualFare *decimal.Decimal) (*Booking, error) {
	if !actor.IsVendor() {
		return nil, forbidden("only vendors can end trips")
	}
	if negative(actualFare) {
		return nil, validationError("actualFare must not be negative")
	}
	now := m.now()
	b, err := m.store.Apply(ctx, Update{
		ID:       id,
		From:     sourcesOf(ActionEnd),
		VendorID: actor.OwnerID,
		Set:      Changes{Status: StatusCompleted, TripEndedAt: &now, ActualFare: actualFare, UpdatedAt: now},
		History:  m.entry(actor, StatusCompleted, "", now),
	})
	if err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return nil, m.storeErr("end trip", err)
		}
		return nil, m.explainVendorOwned(ctx, actor, id, ActionEnd)
	}
	m.logTransition(ctx, actor, b, ActionEnd)

	if err := m.vendors.RecordCompletion(ctx, b.VendorID); err != nil {
		m.logger.WarnContext(ctx, "vendor completion count not updated", "vendor_id", b.VendorID, "err", err)
	}
	return b, nil
}

// Cancel is open to the owning company at any non-terminal status and to the
// claiming vendor once accepted.
func (m *Manager) Cancel(ctx context.Context, actor identity.Actor, id, reason string) (*Booking, error) {
	now := m.now()
	u := Update{
		ID:      id,
		From:    sourcesOf(ActionCancel),
		Set:     Changes{Status: StatusCancelled, UpdatedAt: now},
		History: m.entry(actor, StatusCancelled, strings.TrimSpace(reason), now),
	}
	switch {
	case actor.IsCompany():
		u.CompanyID = actor.OwnerID
	case actor.IsVendor():
		u.VendorID = actor.OwnerID
	default:
		return nil, forbidden("unknown role")
	}

	b, err := m.store.Apply(ctx, u)
	if err == nil {
		m.logTransition(ctx, actor, b, ActionCancel)
		return b, nil
	}
	if !errors.Is(err, ErrConditionFailed) {
		return nil, m.storeErr("cancel booking", err)
	}

	cur, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsCompany() {
		if cur.CompanyID != actor.OwnerID {
			return nil, forbidden("booking belongs to another company")
		}
		if !allows(ActionCancel, cur.Status) {
			return nil, invalidTransition(cur.Status, ActionCancel)
		}
		return nil, concurrentChange(cur, ActionCancel)
	}
	if err := m.explainClaimed(actor, cur, ActionCancel); err != nil {
		return nil, err
	}
	return nil, concurrentChange(cur, ActionCancel)
}

// AssignDriverAndVehicle puts the vendor's own available driver and vehicle on an
// accepted booking. Availability flags are left for the fleet owner to toggle.
func (m *Manager) AssignDriverAndVehicle(ctx context.Context, actor identity.Actor, id, driverID, vehicleID string) (*Booking, error) {
	if !actor.IsVendor() {
		return nil, forbidden("only vendors can assign drivers and vehicles")
	}
	driverID, vehicleID = strings.TrimSpace(driverID), strings.TrimSpace(vehicleID)
	if driverID == "" || vehicleID == "" {
		return nil, validationError("driverId and vehicleId are required")
	}

	b, err := m.store.Apply(ctx, Update{
		ID:       id,
		From:     sourcesOf(ActionAssign),
		VendorID: actor.OwnerID,
		Claim:    &FleetClaim{DriverID: driverID, VehicleID: vehicleID},
		Set:      Changes{DriverID: driverID, VehicleID: vehicleID, UpdatedAt: m.now()},
	})
	if err == nil {
		m.logger.InfoContext(ctx, "driver and vehicle assigned",
			"booking_id", b.ID, "driver_id", driverID, "vehicle_id", vehicleID, "vendor_id", actor.OwnerID)
		return b, nil
	}
	if !errors.Is(err, ErrConditionFailed) {
		return nil, m.storeErr("assign driver and vehicle", err)
	}

	cur, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.explainClaimed(actor, cur, ActionAssign); err != nil {
		return nil, err
	}
	if err := m.checkResources(ctx, actor.OwnerID, driverID, vehicleID); err != nil {
		return nil, err
	}
	return nil, concurrentChange(cur, ActionAssign)
}

// Review rates a completed trip once and refreshes the vendor's average rating.
func (m *Manager) Review(ctx context.Context, actor identity.Actor, id string, rating int, feedback string) (*Booking, error) {
	if !actor.IsCompany() {
		return nil, forbidden("only companies can review trips")
	}
	if rating < 1 || rating > 5 {
		return nil, validationError("rating must be between 1 and 5")
	}
	feedback = strings.TrimSpace(feedback)

	b, err := m.store.Apply(ctx, Update{
		ID:        id,
		From:      sourcesOf(ActionReview),
		CompanyID: actor.OwnerID,
		Unrated:   true,
		Set:       Changes{Rating: &rating, Feedback: &feedback, UpdatedAt: m.now()},
	})
	if err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return nil, m.storeErr("review booking", err)
		}
		cur, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case cur.CompanyID != actor.OwnerID:
			return nil, forbidden("booking belongs to another company")
		case !allows(ActionReview, cur.Status):
			return nil, invalidTransition(cur.Status, ActionReview)
		case cur.Rating != nil:
			return nil, &Error{Kind: KindInvalidTransition, Message: "booking has already been reviewed"}
		default:
			return nil, concurrentChange(cur, ActionReview)
		}
	}

	if b.VendorID != "" {
		if err := m.vendors.RefreshRating(ctx, b.VendorID); err != nil {
			m.logger.WarnContext(ctx, "vendor rating not refreshed", "vendor_id", b.VendorID, "err", err)
		}
	}
	return b, nil
}

// Reoffer clones a rejected booking into a new pending open-market booking.
// Each rejected booking can be re-offered once.
func (m *Manager) Reoffer(ctx context.Context, actor identity.Actor, id string) (*Booking, error) {
	if !actor.IsCompany() {
		return nil, forbidden("only companies can re-offer bookings")
	}
	cur, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.CompanyID != actor.OwnerID {
		return nil, forbidden("booking belongs to another company")
	}
	if !allows(ActionReoffer, cur.Status) {
		return nil, invalidTransition(cur.Status, ActionReoffer)
	}
	clone, err := m.reoffer(ctx, cur)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "booking re-offered", "booking_id", cur.ID, "reoffer_id", clone.ID)
	return clone, nil
}

func (m *Manager) reoffer(ctx context.Context, src *Booking) (*Booking, error) {
	number, err := m.numbers.NextBookingNumber(ctx)
	if err != nil {
		return nil, m.storeErr("generate booking number", err)
	}
	now := m.now()
	b := &Booking{
		BookingNumber:        number,
		CompanyID:            src.CompanyID,
		GuestName:            src.GuestName,
		GuestPhone:           src.GuestPhone,
		GuestEmail:           src.GuestEmail,
		PickupLocation:       src.PickupLocation,
		DropoffLocation:      src.DropoffLocation,
		PickupAt:             src.PickupAt,
		VehicleTypeRequested: src.VehicleTypeRequested,
		EstimatedDistance:    src.EstimatedDistance,
		EstimatedDuration:    src.EstimatedDuration,
		FareAmount:           src.FareAmount,
		SpecialInstructions:  src.SpecialInstructions,
		Status:               StatusPending,
		Visibility:           VisibilityOpenMarket,
		VisibilityChangedAt:  &now,
		PaymentStatus:        PaymentPending,
		ReofferedFrom:        src.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.store.Insert(ctx, b); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, &Error{Kind: KindInvalidTransition, Message: "booking has already been re-offered"}
		}
		return nil, m.storeErr("insert re-offer", err)
	}
	return b, nil
}

// Stats counts the bookings in the actor's scope by status.
func (m *Manager) Stats(ctx context.Context, actor identity.Actor) (*Stats, error) {
	var q Query
	switch {
	case actor.IsCompany():
		q.CompanyID = actor.OwnerID
	case actor.IsVendor():
		q.VendorID = actor.OwnerID
	default:
		return nil, forbidden("unknown role")
	}

	counts, err := m.store.Count(ctx, q)
	if err != nil {
		return nil, m.storeErr("count bookings", err)
	}
	st := &Stats{ByStatus: map[Status]int{}}
	for s, n := range counts {
		st.ByStatus[s] = n
		st.Total += n
	}
	if !actor.IsVendor() {
		return st, nil
	}

	open, err := m.store.Count(ctx, Query{MarketplaceFor: actor.OwnerID, Statuses: []Status{StatusPending}})
	if err != nil {
		return nil, m.storeErr("count marketplace", err)
	}
	st.OpenRequests = open[StatusPending]
	st.ActiveDrivers, st.ActiveVehicles, err = m.fleet.CountActive(ctx, actor.OwnerID)
	if err != nil {
		return nil, m.storeErr("count fleet", err)
	}
	return st, nil
}

// PromoteStale opens pending bookings that stayed associated-only for longer than after.
// Status is unchanged so no history is written.
func (m *Manager) PromoteStale(ctx context.Context, after time.Duration) (int, error) {
	now := m.now()
	n, err := m.store.PromoteStale(ctx, now.Add(-after), now)
	if err != nil {
		return 0, m.storeErr("promote stale bookings", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "bookings promoted to open market", "count", n)
	}
	return n, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, m.storeErr("load booking", err)
	}
	return b, nil
}

func (m *Manager) authorizeRead(ctx context.Context, actor identity.Actor, b *Booking) error {
	switch {
	case actor.IsCompany():
		if b.CompanyID == actor.OwnerID {
			return nil
		}
	case actor.IsVendor():
		if b.VendorID == actor.OwnerID {
			return nil
		}
		if b.VendorID == "" && b.Status == StatusPending {
			ok, err := m.eligible(ctx, actor.OwnerID, b)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
	return forbidden("booking is not visible to this account")
}

func (m *Manager) eligible(ctx context.Context, vendorID string, b *Booking) (bool, error) {
	if b.Visibility == VisibilityOpenMarket {
		return true, nil
	}
	ok, err := m.store.AssociationActive(ctx, b.CompanyID, vendorID)
	if err != nil {
		return false, m.storeErr("check association", err)
	}
	return ok, nil
}

// explainOffer classifies a failed accept-style write on an offer.
func (m *Manager) explainOffer(ctx context.Context, actor identity.Actor, id string, action Action) error {
	cur, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if !allows(action, cur.Status) {
		return invalidTransition(cur.Status, action)
	}
	if cur.VendorID == "" {
		ok, err := m.eligible(ctx, actor.OwnerID, cur)
		if err != nil {
			return err
		}
		if !ok {
			return forbidden("booking is not offered to this vendor")
		}
	}
	return concurrentChange(cur, action)
}

func (m *Manager) explainVendorOwned(ctx context.Context, actor identity.Actor, id string, action Action) error {
	cur, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if err := m.explainClaimed(actor, cur, action); err != nil {
		return err
	}
	return concurrentChange(cur, action)
}

// explainClaimed returns the error for a vendor acting on a booking it has not
// claimed or that is in the wrong status, or nil when neither applies.
func (m *Manager) explainClaimed(actor identity.Actor, cur *Booking, action Action) error {
	if cur.VendorID != "" && cur.VendorID != actor.OwnerID {
		return forbidden("booking is claimed by another vendor")
	}
	if !allows(action, cur.Status) {
		return invalidTransition(cur.Status, action)
	}
	if cur.VendorID == "" {
		return forbidden("booking has not been accepted by this vendor")
	}
	return nil
}

func (m *Manager) checkResources(ctx context.Context, vendorID, driverID, vehicleID string) error {
	d, err := m.fleet.Driver(ctx, driverID)
	if err != nil {
		if errors.Is(err, fleet.ErrNotFound) {
			return &Error{Kind: KindNotFound, Message: "driver not found"}
		}
		return m.storeErr("load driver", err)
	}
	if !d.Assignable(vendorID) {
		return &Error{Kind: KindResourceUnavailable, Message: "driver is not available to this vendor"}
	}
	v, err := m.fleet.Vehicle(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, fleet.ErrNotFound) {
			return &Error{Kind: KindNotFound, Message: "vehicle not found"}
		}
		return m.storeErr("load vehicle", err)
	}
	if !v.Assignable(vendorID) {
		return &Error{Kind: KindResourceUnavailable, Message: "vehicle is not available to this vendor"}
	}
	return nil
}

func (m *Manager) entry(actor identity.Actor, s Status, notes string, at time.Time) *HistoryEntry {
	return &HistoryEntry{Status: s, Notes: notes, ChangedBy: actor.UserID, CreatedAt: at}
}

func (m *Manager) logTransition(ctx context.Context, actor identity.Actor, b *Booking, action Action) {
	m.logger.InfoContext(ctx, "booking transition",
		"booking_id", b.ID, "action", string(action), "status", string(b.Status),
		"role", string(actor.Role), "owner_id", actor.OwnerID)
}

// storeErr passes typed errors through and reports anything else as internal.
func (m *Manager) storeErr(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	m.logger.Error(op+" failed", "err", err)
	return &Error{Kind: KindInternal, Message: "internal error", Err: fmt.Errorf("%s: %w", op, err)}
}

// concurrentChange is returned when the guards failed but the reloaded row looks
// legal, which means another writer got in between.
func concurrentChange(cur *Booking, action Action) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("booking changed concurrently (now %s); retry %s", cur.Status, action)}
}

func negative(d *decimal.Decimal) bool {
	return d != nil && d.IsNegative()
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	default:
		return n
	}
}
