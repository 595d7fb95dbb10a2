package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type VehicleType string

const (
	VehicleSedan     VehicleType = "sedan"
	VehicleHatchback VehicleType = "hatchback"
	VehicleSUV       VehicleType = "suv"
	VehicleLuxury    VehicleType = "luxury"
)

func ParseVehicleType(s string) (VehicleType, error) {
	switch VehicleType(s) {
	case VehicleSedan, VehicleHatchback, VehicleSUV, VehicleLuxury:
		return VehicleType(s), nil
	default:
		return "", fmt.Errorf("unknown vehicle type: %s", s)
	}
}

type Driver struct {
	ID              string     `json:"id"`
	VendorID        string     `json:"vendorId"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	Address         string     `json:"address,omitempty"`
	LicenseNumber   string     `json:"licenseNumber"`
	LicenseExpiry   *time.Time `json:"licenseExpiry,omitempty"`
	ExperienceYears *int       `json:"experienceYears,omitempty"`
	IsAvailable     bool       `json:"isAvailable"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type Vehicle struct {
	ID                 string      `json:"id"`
	VendorID           string      `json:"vendorId"`
	RegistrationNumber string      `json:"registrationNumber"`
	VehicleType        VehicleType `json:"vehicleType"`
	Make               string      `json:"make"`
	Model              string      `json:"model"`
	Year               *int        `json:"year,omitempty"`
	Color              string      `json:"color,omitempty"`
	Capacity           *int        `json:"capacity,omitempty"`
	IsAvailable        bool        `json:"isAvailable"`
	IsActive           bool        `json:"isActive"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// Assignable reports whether the driver can be put on a booking of vendorID.
func (d Driver) Assignable(vendorID string) bool {
	return d.VendorID == vendorID && d.IsActive && d.IsAvailable
}

// Assignable reports whether the vehicle can be put on a booking of vendorID.
func (v Vehicle) Assignable(vendorID string) bool {
	return v.VendorID == vendorID && v.IsActive && v.IsAvailable
}

var ErrNotFound = errors.New("fleet: not found")

// Store persists drivers and vehicles. Mutations are scoped by vendor; a row of
// another vendor behaves as ErrNotFound.
type Store interface {
	CreateDriver(ctx context.Context, d *Driver) error
	CreateVehicle(ctx context.Context, v *Vehicle) error
	Driver(ctx context.Context, id string) (*Driver, error)
	Vehicle(ctx context.Context, id string) (*Vehicle, error)
	ListDrivers(ctx context.Context, vendorID string) ([]Driver, error)
	ListVehicles(ctx context.Context, vendorID string) ([]Vehicle, error)
	SetDriverAvailability(ctx context.Context, vendorID, id string, available bool) error
	SetVehicleAvailability(ctx context.Context, vendorID, id string, available bool) error
	DeactivateDriver(ctx context.Context, vendorID, id string) error
	DeactivateVehicle(ctx context.Context, vendorID, id string) error
	CountActive(ctx context.Context, vendorID string) (drivers, vehicles int, err error)
}
