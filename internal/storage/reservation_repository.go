package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/storage/models"
)

const reservationColumns = `
	id, guest_ref, guest_name, guest_phone, check_in_date, check_out_date,
	check_in_time, check_out_time, status, source, number_of_guests, notes,
	total_amount, is_paid, reservation_code, created_by, created_at, updated_at`

// ReservationRepository provides data access for reservations.
//
// Methods taking a *sql.Tx run inside it when it is non-nil, which lets the
// service keep a conflict check and the write that depends on it in one
// transaction.
type ReservationRepository struct {
	BaseRepository
}

// NewReservationRepository creates a new reservation repository.
func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{BaseRepository: NewBaseRepository(db)}
}

// Create inserts a new reservation. ID and timestamps are assigned here.
func (r *ReservationRepository) Create(ctx context.Context, tx *sql.Tx, res *models.Reservation) error {
	if res.ID == "" {
		res.ID = GenerateID()
	}
	res.CreatedAt = r.Now()
	res.UpdatedAt = res.CreatedAt

	_, err := r.q(tx).ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID, res.GuestRef, res.GuestName, res.GuestPhone, res.CheckInDate, res.CheckOutDate,
		res.CheckInTime, res.CheckOutTime, res.Status, res.Source, res.NumberOfGuests, res.Notes,
		res.TotalAmount, res.IsPaid, res.ReservationCode, res.CreatedBy, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "inserting reservation")
	}
	return nil
}

// GetByID retrieves a reservation by its ID. It returns nil, nil when absent.
func (r *ReservationRepository) GetByID(ctx context.Context, tx *sql.Tx, id string) (*models.Reservation, error) {
	row := r.q(tx).QueryRowContext(ctx, "SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying reservation")
	}
	return res, nil
}

// Update writes every mutable field of res.
func (r *ReservationRepository) Update(ctx context.Context, tx *sql.Tx, res *models.Reservation) error {
	res.UpdatedAt = r.Now()

	result, err := r.q(tx).ExecContext(ctx, `
		UPDATE reservations SET
			guest_ref = ?, guest_name = ?, guest_phone = ?, check_in_date = ?, check_out_date = ?,
			check_in_time = ?, check_out_time = ?, status = ?, source = ?, number_of_guests = ?,
			notes = ?, total_amount = ?, is_paid = ?, updated_at = ?
		WHERE id = ?
	`,
		res.GuestRef, res.GuestName, res.GuestPhone, res.CheckInDate, res.CheckOutDate,
		res.CheckInTime, res.CheckOutTime, res.Status, res.Source, res.NumberOfGuests,
		res.Notes, res.TotalAmount, res.IsPaid, res.UpdatedAt, res.ID,
	)
	if err != nil {
		return errors.Wrap(err, "updating reservation")
	}
	return requireAffected(result, "reservation", res.ID)
}

// CompareAndSetStatus moves a reservation to status to only if it still holds
// the status and dates seen in seen. It reports whether a row changed.
func (r *ReservationRepository) CompareAndSetStatus(ctx context.Context, seen *models.Reservation, to models.ReservationStatus) (bool, error) {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE reservations SET status = ?
		WHERE id = ? AND status = ? AND check_in_date = ? AND check_out_date = ?
	`, to, seen.ID, seen.Status, seen.CheckInDate, seen.CheckOutDate)
	if err != nil {
		return false, errors.Wrap(err, "updating reservation status")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reading affected rows")
	}
	return n == 1, nil
}

// Delete removes a reservation. It reports whether a row existed.
func (r *ReservationRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM reservations WHERE id = ?", id)
	if err != nil {
		return false, errors.Wrap(err, "deleting reservation")
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListOverlapping returns non-cancelled reservations intersecting rng.
func (r *ReservationRepository) ListOverlapping(ctx context.Context, tx *sql.Tx, rng models.DateRange) ([]models.Reservation, error) {
	rows, err := r.q(tx).QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status != ? AND check_in_date < ? AND check_out_date > ?
		ORDER BY check_in_date
	`, models.StatusCancelled, rng.End, rng.Start)
	if err != nil {
		return nil, errors.Wrap(err, "querying overlapping reservations")
	}
	return collectReservations(rows)
}

// ListByStatus returns reservations holding any of the given statuses.
func (r *ReservationRepository) ListByStatus(ctx context.Context, statuses ...models.ReservationStatus) ([]models.Reservation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status IN (`+placeholders(len(statuses))+`)
		ORDER BY check_in_date
	`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying reservations by status")
	}
	return collectReservations(rows)
}

// List returns reservations matching filter. today anchors the period filter.
func (r *ReservationRepository) List(ctx context.Context, filter models.ReservationFilter, today models.Date) ([]models.Reservation, error) {
	var (
		where []string
		args  []any
		order = "check_in_date ASC"
	)

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.GuestRef != "" {
		where = append(where, "guest_ref = ?")
		args = append(args, filter.GuestRef)
	}
	switch filter.Period {
	case models.PeriodPast:
		where = append(where, "check_out_date <= ?")
		args = append(args, today)
		order = "check_in_date DESC"
	case models.PeriodCurrent:
		where = append(where, "check_in_date <= ? AND check_out_date > ?")
		args = append(args, today, today)
	case models.PeriodUpcoming:
		where = append(where, "check_in_date > ?")
		args = append(args, today)
	}

	query := "SELECT " + reservationColumns + " FROM reservations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order + " LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying reservations")
	}
	return collectReservations(rows)
}

// ListExportable returns non-cancelled reservations not sourced from source,
// ending on or after since.
func (r *ReservationRepository) ListExportable(ctx context.Context, excludeSource models.ReservationSource, since models.Date) ([]models.Reservation, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status != ? AND source != ? AND check_out_date >= ?
		ORDER BY check_in_date
	`, models.StatusCancelled, excludeSource, since)
	if err != nil {
		return nil, errors.Wrap(err, "querying exportable reservations")
	}
	return collectReservations(rows)
}

// CountByStatus returns the number of reservations per status.
func (r *ReservationRepository) CountByStatus(ctx context.Context) (map[models.ReservationStatus]int, error) {
	rows, err := r.DB().QueryContext(ctx, "SELECT status, COUNT(*) FROM reservations GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "counting reservations")
	}
	defer rows.Close()

	counts := make(map[models.ReservationStatus]int)
	for rows.Next() {
		var status models.ReservationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scanning reservation count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := s.Scan(
		&res.ID, &res.GuestRef, &res.GuestName, &res.GuestPhone, &res.CheckInDate, &res.CheckOutDate,
		&res.CheckInTime, &res.CheckOutTime, &res.Status, &res.Source, &res.NumberOfGuests, &res.Notes,
		&res.TotalAmount, &res.IsPaid, &res.ReservationCode, &res.CreatedBy, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func collectReservations(rows *sql.Rows) ([]models.Reservation, error) {
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning reservation")
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// requireAffected turns a zero-row update into ErrRowNotFound.
func requireAffected(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return errors.Wrapf(ErrRowNotFound, "%s %s", entity, id)
	}
	return nil
}

// ErrRowNotFound is returned by writes that matched no row.
var ErrRowNotFound = errors.New("row not found")
