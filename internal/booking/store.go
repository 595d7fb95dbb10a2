package booking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cabbooking/internal/fleet"
)

// Store is the persistence collaborator. Apply is the only way a booking changes
// after insert, and it must check every guard of the Update atomically with the write.
type Store interface {
	// Insert stores b, filling ID. It returns ErrConditionFailed if b re-offers a
	// booking that was already re-offered.
	Insert(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	// Apply performs a conditional update and, in the same transaction, appends
	// u.History when set. It returns ErrConditionFailed when a guard does not hold.
	Apply(ctx context.Context, u Update) (*Booking, error)
	List(ctx context.Context, q Query) ([]Booking, error)
	Count(ctx context.Context, q Query) (map[Status]int, error)
	History(ctx context.Context, bookingID string) ([]HistoryEntry, error)
	AssociationActive(ctx context.Context, companyID, vendorID string) (bool, error)
	// PromoteStale opens pending associated-only bookings created at or before cutoff.
	PromoteStale(ctx context.Context, cutoff, now time.Time) (int, error)
}

// NumberGenerator issues human-readable booking numbers.
type NumberGenerator interface {
	NextBookingNumber(ctx context.Context) (string, error)
}

// VendorAggregates maintains the vendor figures derived from bookings.
type VendorAggregates interface {
	RecordCompletion(ctx context.Context, vendorID string) error
	RefreshRating(ctx context.Context, vendorID string) error
}

// Resources is the read side of the fleet the manager needs.
type Resources interface {
	Driver(ctx context.Context, id string) (*fleet.Driver, error)
	Vehicle(ctx context.Context, id string) (*fleet.Vehicle, error)
	CountActive(ctx context.Context, vendorID string) (drivers, vehicles int, err error)
}

// Update is a conditional write. Zero-valued guards are not checked.
type Update struct {
	ID   string
	From []Status

	CompanyID string // company_id must equal
	VendorID  string // vendor_id must equal
	// VisibleTo requires the booking to be on the open market or its company to
	// have an active association with this vendor.
	VisibleTo string
	// Assigned requires driver_id and vehicle_id to be set.
	Assigned bool
	// Unrated requires rating to be unset.
	Unrated bool
	// Claim requires the driver and vehicle to belong to the booking's vendor and be
	// active and available.
	Claim *FleetClaim

	Set     Changes
	History *HistoryEntry
}

type FleetClaim struct {
	DriverID  string
	VehicleID string
}

// Changes lists the fields an Update writes. Zero values are left untouched,
// except UpdatedAt which is always written.
type Changes struct {
	Status        Status
	VendorID      string
	DriverID      string
	VehicleID     string
	TripStartedAt *time.Time
	TripEndedAt   *time.Time
	ActualFare    *decimal.Decimal
	Rating        *int
	Feedback      *string
	UpdatedAt     time.Time
}

// Query is a filtered read ordered by created_at descending.
type Query struct {
	CompanyID string
	VendorID  string
	// MarketplaceFor restricts to unclaimed bookings visible to this vendor.
	MarketplaceFor string
	Statuses       []Status
	Search         string
	Limit          int
}

// Matches reports whether b satisfies q given the vendor's association state.
// In-memory stores use it; SQL stores express the same predicate in the query.
func (q Query) Matches(b Booking, associated bool) bool {
	if q.CompanyID != "" && b.CompanyID != q.CompanyID {
		return false
	}
	if q.VendorID != "" && b.VendorID != q.VendorID {
		return false
	}
	if q.MarketplaceFor != "" {
		if b.VendorID != "" {
			return false
		}
		if b.Visibility != VisibilityOpenMarket && !associated {
			return false
		}
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, b.Status) {
		return false
	}
	if q.Search != "" && !matchesSearch(b, q.Search) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// matchesSearch is a case-insensitive substring match on the fields the booking
// lists let users search by.
func matchesSearch(b Booking, term string) bool {
	term = strings.ToLower(term)
	for _, f := range []string{b.BookingNumber, b.GuestName, b.PickupLocation, b.DropoffLocation} {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}
