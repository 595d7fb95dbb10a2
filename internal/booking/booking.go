package booking

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cabbooking/internal/fleet"
)

type Visibility string

const (
	VisibilityAssociated Visibility = "associated"
	VisibilityOpenMarket Visibility = "open_market"
)

// PaymentPending is the payment status every booking starts with; settlement happens elsewhere.
const PaymentPending = "pending"

type Booking struct {
	ID            string `json:"id"`
	BookingNumber string `json:"bookingNumber"`

	CompanyID string `json:"companyId"`
	VendorID  string `json:"vendorId,omitempty"`
	DriverID  string `json:"driverId,omitempty"`
	VehicleID string `json:"vehicleId,omitempty"`

	GuestName            string            `json:"guestName"`
	GuestPhone           string            `json:"guestPhone"`
	GuestEmail           string            `json:"guestEmail,omitempty"`
	PickupLocation       string            `json:"pickupLocation"`
	DropoffLocation      string            `json:"dropoffLocation"`
	PickupAt             time.Time         `json:"pickupDatetime"`
	VehicleTypeRequested fleet.VehicleType `json:"vehicleTypeRequested,omitempty"`
	EstimatedDistance    *decimal.Decimal  `json:"estimatedDistance,omitempty"`
	EstimatedDuration    *int              `json:"estimatedDuration,omitempty"`
	FareAmount           *decimal.Decimal  `json:"fareAmount,omitempty"`
	SpecialInstructions  string            `json:"specialInstructions,omitempty"`

	Status              Status     `json:"status"`
	Visibility          Visibility `json:"visibility"`
	VisibilityChangedAt *time.Time `json:"visibilityChangedAt,omitempty"`
	TripStartedAt       *time.Time `json:"tripStartedAt,omitempty"`
	TripEndedAt         *time.Time `json:"tripEndedAt,omitempty"`

	ActualFare    *decimal.Decimal `json:"actualFare,omitempty"`
	PaymentStatus string           `json:"paymentStatus"`
	Rating        *int             `json:"rating,omitempty"`
	Feedback      string           `json:"feedback,omitempty"`

	// ReofferedFrom points at the rejected booking this one was cloned from.
	ReofferedFrom string `json:"reofferedFrom,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryEntry is one append-only status change record.
type HistoryEntry struct {
	ID        string    `json:"id"`
	BookingID string    `json:"bookingId"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	ChangedBy string    `json:"changedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateInput struct {
	CompanyID           string           `json:"companyId" validate:"required"`
	GuestName           string           `json:"guestName" validate:"required"`
	GuestPhone          string           `json:"guestPhone" validate:"required"`
	GuestEmail          string           `json:"guestEmail" validate:"omitempty,email"`
	PickupLocation      string           `json:"pickupLocation" validate:"required"`
	DropoffLocation     string           `json:"dropoffLocation" validate:"required"`
	PickupAt            time.Time        `json:"pickupDatetime" validate:"required"`
	VehicleType         string           `json:"vehicleType" validate:"omitempty,oneof=sedan hatchback suv luxury"`
	EstimatedDistance   *decimal.Decimal `json:"estimatedDistance"`
	EstimatedDuration   *int             `json:"estimatedDuration" validate:"omitempty,gte=0"`
	FareAmount          *decimal.Decimal `json:"fareAmount"`
	SpecialInstructions string           `json:"specialInstructions"`
}

func (in *CreateInput) normalize() {
	in.CompanyID = strings.TrimSpace(in.CompanyID)
	in.GuestName = strings.TrimSpace(in.GuestName)
	in.GuestPhone = strings.TrimSpace(in.GuestPhone)
	in.GuestEmail = strings.TrimSpace(in.GuestEmail)
	in.PickupLocation = strings.TrimSpace(in.PickupLocation)
	in.DropoffLocation = strings.TrimSpace(in.DropoffLocation)
	in.VehicleType = strings.ToLower(strings.TrimSpace(in.VehicleType))
	in.SpecialInstructions = strings.TrimSpace(in.SpecialInstructions)
}

// Filter narrows a booking list. History switches a vendor from the marketplace
// (pending offers) to the bookings it has claimed.
type Filter struct {
	History bool
	Status  Status
	Search  string
	Limit   int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`

	// Vendor-only dashboard figures.
	OpenRequests   int `json:"openRequests,omitempty"`
	ActiveDrivers  int `json:"activeDrivers,omitempty"`
	ActiveVehicles int `json:"activeVehicles,omitempty"`
}
