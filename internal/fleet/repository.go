package fleet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const driverCols = `id::text, vendor_id::text, name, phone, COALESCE(email,''), COALESCE(address,''), license_number,
       license_expiry, experience_years, is_available, is_active, created_at, updated_at`

const vehicleCols = `id::text, vendor_id::text, registration_number, vehicle_type::text, make, model, year,
       COALESCE(color,''), capacity, is_available, is_active, created_at, updated_at`

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	if err := row.Scan(
		&d.ID, &d.VendorID, &d.Name, &d.Phone, &d.Email, &d.Address, &d.LicenseNumber,
		&d.LicenseExpiry, &d.ExperienceYears, &d.IsAvailable, &d.IsActive, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	if err := row.Scan(
		&v.ID, &v.VendorID, &v.RegistrationNumber, &v.VehicleType, &v.Make, &v.Model, &v.Year,
		&v.Color, &v.Capacity, &v.IsAvailable, &v.IsActive, &v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *Repository) CreateDriver(ctx context.Context, d *Driver) error {
	const q = `
INSERT INTO drivers (vendor_id, name, phone, email, address, license_number, license_expiry, experience_years, is_available, is_active)
VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6, $7, $8, $9, TRUE)
RETURNING ` + driverCols
	out, err := scanDriver(r.db.QueryRow(ctx, q,
		d.VendorID, d.Name, d.Phone, d.Email, d.Address, d.LicenseNumber, d.LicenseExpiry, d.ExperienceYears, d.IsAvailable,
	))
	if err != nil {
		return err
	}
	*d = *out
	return nil
}

func (r *Repository) CreateVehicle(ctx context.Context, v *Vehicle) error {
	const q = `
INSERT INTO vehicles (vendor_id, registration_number, vehicle_type, make, model, year, color, capacity, is_available, is_active)
VALUES ($1, $2, $3::vehicle_type, $4, $5, $6, NULLIF($7,''), $8, $9, TRUE)
RETURNING ` + vehicleCols
	out, err := scanVehicle(r.db.QueryRow(ctx, q,
		v.VendorID, v.RegistrationNumber, string(v.VehicleType), v.Make, v.Model, v.Year, v.Color, v.Capacity, v.IsAvailable,
	))
	if err != nil {
		return err
	}
	*v = *out
	return nil
}

func (r *Repository) Driver(ctx context.Context, id string) (*Driver, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return scanDriver(r.db.QueryRow(ctx, `SELECT `+driverCols+` FROM drivers WHERE id = $1`, id))
}

func (r *Repository) Vehicle(ctx context.Context, id string) (*Vehicle, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return scanVehicle(r.db.QueryRow(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id = $1`, id))
}

func (r *Repository) ListDrivers(ctx context.Context, vendorID string) ([]Driver, error) {
	rows, err := r.db.Query(ctx, `SELECT `+driverCols+` FROM drivers WHERE vendor_id = $1 AND is_active ORDER BY created_at DESC`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *Repository) ListVehicles(ctx context.Context, vendorID string) ([]Vehicle, error) {
	rows, err := r.db.Query(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE vendor_id = $1 AND is_active ORDER BY created_at DESC`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *Repository) SetDriverAvailability(ctx context.Context, vendorID, id string, available bool) error {
	return r.execScoped(ctx, `UPDATE drivers SET is_available = $3, updated_at = NOW() WHERE vendor_id = $1 AND id = $2 AND is_active`, vendorID, id, available)
}

func (r *Repository) SetVehicleAvailability(ctx context.Context, vendorID, id string, available bool) error {
	return r.execScoped(ctx, `UPDATE vehicles SET is_available = $3, updated_at = NOW() WHERE vendor_id = $1 AND id = $2 AND is_active`, vendorID, id, available)
}

func (r *Repository) DeactivateDriver(ctx context.Context, vendorID, id string) error {
	return r.execScoped(ctx, `UPDATE drivers SET is_active = FALSE, is_available = FALSE, updated_at = NOW() WHERE vendor_id = $1 AND id = $2`, vendorID, id)
}

func (r *Repository) DeactivateVehicle(ctx context.Context, vendorID, id string) error {
	return r.execScoped(ctx, `UPDATE vehicles SET is_active = FALSE, is_available = FALSE, updated_at = NOW() WHERE vendor_id = $1 AND id = $2`, vendorID, id)
}

func (r *Repository) CountActive(ctx context.Context, vendorID string) (int, int, error) {
	const q = `
SELECT
  (SELECT COUNT(*) FROM drivers WHERE vendor_id = $1 AND is_active AND is_available),
  (SELECT COUNT(*) FROM vehicles WHERE vendor_id = $1 AND is_active AND is_available)
`
	var drivers, vehicles int
	if err := r.db.QueryRow(ctx, q, vendorID).Scan(&drivers, &vehicles); err != nil {
		return 0, 0, err
	}
	return drivers, vehicles, nil
}

// execScoped runs a vendor-scoped update whose first two args are vendor id and row id.
func (r *Repository) execScoped(ctx context.Context, q string, args ...any) error {
	if !validID(args[1].(string)) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
