package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Profiles resolves an identity-provider user id into an Actor.
type Profiles interface {
	Lookup(ctx context.Context, userID string) (*Actor, error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Lookup(ctx context.Context, userID string) (*Actor, error) {
	const q = `
SELECT p.role::text, COALESCE(c.id::text, v.id::text, '')
FROM user_profiles p
LEFT JOIN companies c ON p.role = 'company' AND c.user_id = p.user_id
LEFT JOIN vendors v ON p.role = 'vendor' AND v.user_id = p.user_id
WHERE p.user_id = $1
`
	if _, err := uuid.Parse(userID); err != nil {
		return nil, ErrNoProfile
	}
	var role, ownerID string
	if err := r.db.QueryRow(ctx, q, userID).Scan(&role, &ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoProfile
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, ErrNoProfile
	}
	return &Actor{UserID: userID, Role: parsed, OwnerID: ownerID}, nil
}
