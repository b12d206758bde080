package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"smart-parking/internal/parking"
)

var bookingColumns = []string{
	"id", "plate", "start_time", "end_time", "zone", "tag", "consumed", "cancelled", "created_at",
}

// BookingStore is a parking.BookingStore backed by the bookings table.
// MarkConsumed is a single conditional UPDATE, so exactly one of several
// concurrent consumers wins even across processes.
type BookingStore struct {
	db Querier
}

func NewBookingStore(db Querier) *BookingStore {
	return &BookingStore{db: db}
}

func (s *BookingStore) Create(ctx context.Context, b parking.Booking) error {
	query, args, err := psql.Insert("bookings").
		Columns(bookingColumns...).
		Values(b.ID, b.Plate, b.Start, b.End, b.Zone, string(b.Tag), b.Consumed, b.Cancelled, b.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: Create - build insert query: %v", ErrBuildQuery, err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: Create - execute insert: %v", ErrExecQuery, err)
	}
	return nil
}

func scanBooking(row pgx.Row) (parking.Booking, error) {
	var (
		b   parking.Booking
		tag string
	)
	err := row.Scan(&b.ID, &b.Plate, &b.Start, &b.End, &b.Zone, &tag, &b.Consumed, &b.Cancelled, &b.CreatedAt)
	b.Tag = parking.SizeClass(tag)
	return b, err
}

func (s *BookingStore) Get(ctx context.Context, id string) (parking.Booking, error) {
	query, args, err := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return parking.Booking{}, fmt.Errorf("%w: Get - build select query: %v", ErrBuildQuery, err)
	}

	b, err := scanBooking(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return parking.Booking{}, fmt.Errorf("%w: %s", parking.ErrBookingNotFound, id)
	}
	if err != nil {
		return parking.Booking{}, fmt.Errorf("%w: Get - scan booking: %v", ErrScanRow, err)
	}
	return b, nil
}

func (s *BookingStore) FindByPlate(ctx context.Context, plate string) ([]parking.Booking, error) {
	query, args, err := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"plate": plate}).
		OrderBy("start_time", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: FindByPlate - build select query: %v", ErrBuildQuery, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: FindByPlate - execute select: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var out []parking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: FindByPlate - scan booking: %v", ErrScanRow, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: FindByPlate - iterate bookings: %v", ErrScanRow, err)
	}
	return out, nil
}

func markConsumedQuery(id string) (string, []any, error) {
	return psql.Update("bookings").
		Set("consumed", true).
		Where(squirrel.Eq{"id": id, "consumed": false, "cancelled": false}).
		ToSql()
}

func (s *BookingStore) MarkConsumed(ctx context.Context, id string) error {
	query, args, err := markConsumedQuery(id)
	if err != nil {
		return fmt.Errorf("%w: MarkConsumed - build update query: %v", ErrBuildQuery, err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: MarkConsumed - execute update: %v", ErrExecQuery, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// lost the compare-and-set; report why
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Cancelled {
		return fmt.Errorf("%w: %s", parking.ErrBookingCancelled, id)
	}
	return fmt.Errorf("%w: %s", parking.ErrBookingConsumed, id)
}

func (s *BookingStore) Unconsume(ctx context.Context, id string) error {
	return s.update(ctx, "Unconsume", id, map[string]any{"consumed": false})
}

func (s *BookingStore) Cancel(ctx context.Context, id string) error {
	return s.update(ctx, "Cancel", id, map[string]any{"cancelled": true, "consumed": false})
}

func (s *BookingStore) update(ctx context.Context, op, id string, set map[string]any) error {
	query, args, err := psql.Update("bookings").
		SetMap(set).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %s - build update query: %v", ErrBuildQuery, op, err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %s - execute update: %v", ErrExecQuery, op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", parking.ErrBookingNotFound, id)
	}
	return nil
}
