package association

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListByCompany(ctx context.Context, companyID string) ([]Association, error) {
	const q = `
SELECT id::text, company_id::text, vendor_id::text, is_active, created_at
FROM company_vendor_associations
WHERE company_id = $1
ORDER BY created_at DESC
`
	rows, err := r.db.Query(ctx, q, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var a Association
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.VendorID, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) Activate(ctx context.Context, companyID, vendorID string) (*Association, error) {
	if _, err := uuid.Parse(vendorID); err != nil {
		return nil, ErrNotFound
	}
	const q = `
INSERT INTO company_vendor_associations (company_id, vendor_id, is_active)
VALUES ($1, $2, TRUE)
ON CONFLICT (company_id, vendor_id) DO UPDATE SET
  is_active = TRUE
RETURNING id::text, company_id::text, vendor_id::text, is_active, created_at
`
	var a Association
	if err := r.db.QueryRow(ctx, q, companyID, vendorID).Scan(&a.ID, &a.CompanyID, &a.VendorID, &a.IsActive, &a.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// unknown vendor
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) Deactivate(ctx context.Context, companyID, vendorID string) error {
	if _, err := uuid.Parse(vendorID); err != nil {
		return ErrNotFound
	}
	const q = `
UPDATE company_vendor_associations
SET is_active = FALSE
WHERE company_id = $1 AND vendor_id = $2 AND is_active
`
	tag, err := r.db.Exec(ctx, q, companyID, vendorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
