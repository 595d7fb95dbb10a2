package identity

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleCompany Role = "company"
	RoleVendor  Role = "vendor"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCompany, RoleVendor:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %s", s)
	}
}

// Actor is the caller of a booking operation: the authenticated user, the role of
// their profile and the company or vendor they act for.
type Actor struct {
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
	OwnerID string `json:"ownerId"`
}

func (a Actor) IsCompany() bool { return a.Role == RoleCompany }
func (a Actor) IsVendor() bool  { return a.Role == RoleVendor }

// ErrNoProfile is returned when an authenticated user has no profile or owning entity yet.
var ErrNoProfile = errors.New("identity: profile not found")
