package association

import (
	"context"
	"errors"
	"time"
)

// Association is a standing company-vendor relationship. Inactive rows are kept for history.
type Association struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	VendorID  string    `json:"vendorId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

var ErrNotFound = errors.New("association: not found")

type Store interface {
	ListByCompany(ctx context.Context, companyID string) ([]Association, error)
	// Activate creates the association or re-enables a deactivated one.
	Activate(ctx context.Context, companyID, vendorID string) (*Association, error)
	Deactivate(ctx context.Context, companyID, vendorID string) error
}
