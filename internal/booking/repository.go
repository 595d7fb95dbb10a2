package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cabbooking/pkg/db"
)

// Repository is the Postgres Store. Every Update becomes one UPDATE ... WHERE
// statement carrying all guards, so the check and the write cannot interleave.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const bookingCols = `b.id::text, b.booking_number, b.company_id::text, COALESCE(b.vendor_id::text,''),
       COALESCE(b.driver_id::text,''), COALESCE(b.vehicle_id::text,''),
       b.guest_name, b.guest_phone, COALESCE(b.guest_email,''), b.pickup_location, b.dropoff_location,
       b.pickup_datetime, COALESCE(b.vehicle_type_requested::text,''), b.estimated_distance::text,
       b.estimated_duration, b.fare_amount::text, COALESCE(b.special_instructions,''),
       b.status::text, b.visibility::text, b.visibility_changed_at, b.trip_started_at, b.trip_ended_at,
       b.actual_fare::text, b.payment_status, b.rating, COALESCE(b.feedback,''),
       COALESCE(b.reoffered_from::text,''), b.created_at, b.updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                           Booking
		distance, fare, actualFare *string
	)
	if err := row.Scan(
		&b.ID, &b.BookingNumber, &b.CompanyID, &b.VendorID, &b.DriverID, &b.VehicleID,
		&b.GuestName, &b.GuestPhone, &b.GuestEmail, &b.PickupLocation, &b.DropoffLocation,
		&b.PickupAt, &b.VehicleTypeRequested, &distance, &b.EstimatedDuration, &fare, &b.SpecialInstructions,
		&b.Status, &b.Visibility, &b.VisibilityChangedAt, &b.TripStartedAt, &b.TripEndedAt,
		&actualFare, &b.PaymentStatus, &b.Rating, &b.Feedback,
		&b.ReofferedFrom, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if b.EstimatedDistance, err = parseDecimal(distance); err != nil {
		return nil, err
	}
	if b.FareAmount, err = parseDecimal(fare); err != nil {
		return nil, err
	}
	if b.ActualFare, err = parseDecimal(actualFare); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) Insert(ctx context.Context, b *Booking) error {
	const q = `
INSERT INTO bookings AS b (
  booking_number, company_id, guest_name, guest_phone, guest_email, pickup_location, dropoff_location,
  pickup_datetime, vehicle_type_requested, estimated_distance, estimated_duration, fare_amount,
  special_instructions, status, visibility, visibility_changed_at, payment_status, reoffered_from,
  created_at, updated_at
)
VALUES (
  $1, $2::uuid, $3, $4, NULLIF($5,''), $6, $7,
  $8, NULLIF($9,'')::vehicle_type, $10::numeric, $11, $12::numeric,
  NULLIF($13,''), $14::booking_status, $15::booking_visibility, $16, $17, NULLIF($18,'')::uuid,
  $19, $20
)
RETURNING ` + bookingCols
	if !validIDs(b.CompanyID, b.ReofferedFrom) {
		return ErrNotFound
	}
	out, err := scanBooking(r.pool.QueryRow(ctx, q,
		b.BookingNumber, b.CompanyID, b.GuestName, b.GuestPhone, b.GuestEmail, b.PickupLocation, b.DropoffLocation,
		b.PickupAt, string(b.VehicleTypeRequested), decimalArg(b.EstimatedDistance), b.EstimatedDuration, decimalArg(b.FareAmount),
		b.SpecialInstructions, string(b.Status), string(b.Visibility), b.VisibilityChangedAt, b.PaymentStatus, b.ReofferedFrom,
		b.CreatedAt, b.UpdatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "bookings_reoffered_from_key" {
			return ErrConditionFailed
		}
		return mapErr(err, ErrNotFound)
	}
	*b = *out
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Booking, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings b WHERE b.id = $1`, id))
	if err != nil {
		return nil, mapErr(err, ErrNotFound)
	}
	return b, nil
}

func (r *Repository) Apply(ctx context.Context, u Update) (*Booking, error) {
	if !validID(u.ID) {
		return nil, ErrNotFound
	}
	if !validIDs(u.CompanyID, u.VendorID, u.VisibleTo, u.Set.VendorID, u.Set.DriverID, u.Set.VehicleID) {
		return nil, ErrConditionFailed
	}
	if u.Claim != nil && !validIDs(u.Claim.DriverID, u.Claim.VehicleID) {
		return nil, ErrConditionFailed
	}

	q, args := applySQL(u)

	var out *Booking
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, q, args...))
		if err != nil {
			return err
		}
		if u.History != nil {
			if err := insertHistory(ctx, tx, b.ID, u.History); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, mapErr(err, ErrConditionFailed)
	}
	return out, nil
}

// applySQL renders u as one guarded UPDATE. Every guard is part of the WHERE
// clause, so a row that fails any of them is left untouched.
func applySQL(u Update) (string, []any) {
	var args []any
	add := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	set := []string{"updated_at = " + add(u.Set.UpdatedAt)}
	if u.Set.Status != "" {
		set = append(set, "status = "+add(string(u.Set.Status))+"::booking_status")
	}
	if u.Set.VendorID != "" {
		set = append(set, "vendor_id = "+add(u.Set.VendorID)+"::uuid")
	}
	if u.Set.DriverID != "" {
		set = append(set, "driver_id = "+add(u.Set.DriverID)+"::uuid")
	}
	if u.Set.VehicleID != "" {
		set = append(set, "vehicle_id = "+add(u.Set.VehicleID)+"::uuid")
	}
	if u.Set.TripStartedAt != nil {
		set = append(set, "trip_started_at = "+add(*u.Set.TripStartedAt))
	}
	if u.Set.TripEndedAt != nil {
		set = append(set, "trip_ended_at = "+add(*u.Set.TripEndedAt))
	}
	if u.Set.ActualFare != nil {
		set = append(set, "actual_fare = "+add(u.Set.ActualFare.String())+"::numeric")
	}
	if u.Set.Rating != nil {
		set = append(set, "rating = "+add(*u.Set.Rating))
	}
	if u.Set.Feedback != nil {
		set = append(set, "feedback = NULLIF("+add(*u.Set.Feedback)+",'')")
	}

	where := []string{"b.id = " + add(u.ID) + "::uuid"}
	if len(u.From) > 0 {
		where = append(where, "b.status::text = ANY("+add(statusStrings(u.From))+"::text[])")
	}
	if u.CompanyID != "" {
		where = append(where, "b.company_id = "+add(u.CompanyID)+"::uuid")
	}
	if u.VendorID != "" {
		where = append(where, "b.vendor_id = "+add(u.VendorID)+"::uuid")
	}
	if u.VisibleTo != "" {
		where = append(where, visibleToSQL(add(u.VisibleTo)))
	}
	if u.Assigned {
		where = append(where, "b.driver_id IS NOT NULL AND b.vehicle_id IS NOT NULL")
	}
	if u.Unrated {
		where = append(where, "b.rating IS NULL")
	}
	if u.Claim != nil {
		where = append(where,
			`EXISTS (SELECT 1 FROM drivers d WHERE d.id = `+add(u.Claim.DriverID)+`::uuid
   AND d.vendor_id = b.vendor_id AND d.is_active AND d.is_available)`,
			`EXISTS (SELECT 1 FROM vehicles v WHERE v.id = `+add(u.Claim.VehicleID)+`::uuid
   AND v.vendor_id = b.vendor_id AND v.is_active AND v.is_available)`,
		)
	}

	return `UPDATE bookings AS b SET ` + strings.Join(set, ", ") +
		`
WHERE ` + strings.Join(where, "\n  AND ") + `
RETURNING ` + bookingCols, args
}

func insertHistory(ctx context.Context, tx pgx.Tx, bookingID string, h *HistoryEntry) error {
	const q = `
INSERT INTO booking_history (booking_id, status, notes, changed_by, created_at)
VALUES ($1::uuid, $2::booking_status, NULLIF($3,''), NULLIF($4,'')::uuid, $5)
RETURNING id::text
`
	changedBy := h.ChangedBy
	if !validID(changedBy) {
		changedBy = ""
	}
	if err := tx.QueryRow(ctx, q, bookingID, string(h.Status), h.Notes, changedBy, h.CreatedAt).Scan(&h.ID); err != nil {
		return err
	}
	h.BookingID = bookingID
	return nil
}

func (r *Repository) List(ctx context.Context, q Query) ([]Booking, error) {
	where, args, ok := queryWhere(q)
	if !ok {
		return nil, nil
	}
	args = append(args, q.Limit)
	sql := `SELECT ` + bookingCols + ` FROM bookings b` + where +
		fmt.Sprintf(" ORDER BY b.created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, nil)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, mapErr(err, nil)
		}
		out = append(out, *b)
	}
	return out, mapErr(rows.Err(), nil)
}

func (r *Repository) Count(ctx context.Context, q Query) (map[Status]int, error) {
	out := map[Status]int{}
	where, args, ok := queryWhere(q)
	if !ok {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT b.status::text, COUNT(*) FROM bookings b`+where+` GROUP BY b.status`, args...)
	if err != nil {
		return nil, mapErr(err, nil)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, mapErr(err, nil)
		}
		out[s] = n
	}
	return out, mapErr(rows.Err(), nil)
}

func (r *Repository) History(ctx context.Context, bookingID string) ([]HistoryEntry, error) {
	if !validID(bookingID) {
		return nil, nil
	}
	const q = `
SELECT id::text, booking_id::text, status::text, COALESCE(notes,''), COALESCE(changed_by::text,''), created_at
FROM booking_history
WHERE booking_id = $1
ORDER BY created_at, id
`
	rows, err := r.pool.Query(ctx, q, bookingID)
	if err != nil {
		return nil, mapErr(err, nil)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.BookingID, &h.Status, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, mapErr(err, nil)
		}
		out = append(out, h)
	}
	return out, mapErr(rows.Err(), nil)
}

func (r *Repository) AssociationActive(ctx context.Context, companyID, vendorID string) (bool, error) {
	if !validID(companyID) || !validID(vendorID) {
		return false, nil
	}
	const q = `
SELECT EXISTS (
  SELECT 1 FROM company_vendor_associations
  WHERE company_id = $1 AND vendor_id = $2 AND is_active
)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, companyID, vendorID).Scan(&ok); err != nil {
		return false, mapErr(err, nil)
	}
	return ok, nil
}

func (r *Repository) PromoteStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	const q = `
UPDATE bookings
SET visibility = 'open_market', visibility_changed_at = $2, updated_at = $2
WHERE status = 'pending'
  AND visibility = 'associated'
  AND vendor_id IS NULL
  AND created_at <= $1
`
	tag, err := r.pool.Exec(ctx, q, cutoff, now)
	if err != nil {
		return 0, mapErr(err, nil)
	}
	return int(tag.RowsAffected()), nil
}

// NextBookingNumber implements NumberGenerator with the generate_booking_number() SQL function.
func (r *Repository) NextBookingNumber(ctx context.Context) (string, error) {
	var n string
	if err := r.pool.QueryRow(ctx, `SELECT generate_booking_number()`).Scan(&n); err != nil {
		return "", mapErr(err, nil)
	}
	return n, nil
}

func (r *Repository) RecordCompletion(ctx context.Context, vendorID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE vendors SET total_bookings = total_bookings + 1, updated_at = NOW() WHERE id = $1`, vendorID)
	return mapErr(err, nil)
}

func (r *Repository) RefreshRating(ctx context.Context, vendorID string) error {
	const q = `
UPDATE vendors v
SET rating = COALESCE((
      SELECT ROUND(AVG(b.rating)::numeric, 2) FROM bookings b
      WHERE b.vendor_id = v.id AND b.rating IS NOT NULL
    ), 0),
    updated_at = NOW()
WHERE v.id = $1
`
	_, err := r.pool.Exec(ctx, q, vendorID)
	return mapErr(err, nil)
}

// queryWhere renders q as a WHERE clause. ok is false when an id in q cannot
// match any row.
func queryWhere(q Query) (string, []any, bool) {
	if !validIDs(q.CompanyID, q.VendorID, q.MarketplaceFor) {
		return "", nil, false
	}
	var (
		args  []any
		conds []string
	)
	add := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.CompanyID != "" {
		conds = append(conds, "b.company_id = "+add(q.CompanyID)+"::uuid")
	}
	if q.VendorID != "" {
		conds = append(conds, "b.vendor_id = "+add(q.VendorID)+"::uuid")
	}
	if q.MarketplaceFor != "" {
		conds = append(conds, "b.vendor_id IS NULL", visibleToSQL(add(q.MarketplaceFor)))
	}
	if len(q.Statuses) > 0 {
		conds = append(conds, "b.status::text = ANY("+add(statusStrings(q.Statuses))+"::text[])")
	}
	if q.Search != "" {
		p := add("%" + escapeLike(q.Search) + "%")
		conds = append(conds, fmt.Sprintf(
			"(b.booking_number ILIKE %[1]s OR b.guest_name ILIKE %[1]s OR b.pickup_location ILIKE %[1]s OR b.dropoff_location ILIKE %[1]s)", p))
	}
	if len(conds) == 0 {
		return "", args, true
	}
	return "\nWHERE " + strings.Join(conds, "\n  AND "), args, true
}

func visibleToSQL(vendorParam string) string {
	return `(b.visibility = 'open_market' OR EXISTS (
     SELECT 1 FROM company_vendor_associations a
     WHERE a.company_id = b.company_id AND a.vendor_id = ` + vendorParam + `::uuid AND a.is_active))`
}

// mapErr turns pgx.ErrNoRows into noRows and transient failures into STORE_UNAVAILABLE.
func mapErr(err, noRows error) error {
	switch {
	case err == nil:
		return nil
	case noRows != nil && errors.Is(err, pgx.ErrNoRows):
		return noRows
	case db.IsTransient(err):
		return Unavailable(err)
	default:
		return err
	}
}

func statusStrings(list []Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// validIDs reports whether every non-empty id is a uuid.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if id != "" && !validID(id) {
			return false
		}
	}
	return true
}
