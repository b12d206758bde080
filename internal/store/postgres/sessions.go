package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"smart-parking/internal/parking"
)

var sessionColumns = []string{
	"id", "plate", "slot_id", "zone", "booking_id", "entry_time", "exit_time",
	"price::text", "currency", "occupancy_ratio", "quote_scope", "quoted_at", "status",
}

// SessionRepository is the durable side of the session ledger. Partial
// unique indexes back the one-active-session-per-slot and per-plate rules.
type SessionRepository struct {
	db Querier
}

func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s parking.Session) error {
	query, args, err := psql.Insert("sessions").
		Columns("id", "plate", "slot_id", "zone", "booking_id", "entry_time",
			"price", "currency", "occupancy_ratio", "quote_scope", "quoted_at", "status").
		Values(s.ID, s.Plate, s.SlotID, s.Zone, s.BookingID, s.EntryTime,
			s.Quote.Amount.String(), s.Quote.Currency, s.Quote.OccupancyRatio, s.Quote.Scope, s.Quote.ComputedAt,
			string(parking.SessionActive)).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: Create - build insert query: %v", ErrBuildQuery, err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: Create - execute insert: %v", ErrExecQuery, err)
	}
	return nil
}

func closeSessionQuery(id string, exit time.Time) (string, []any, error) {
	return psql.Update("sessions").
		Set("exit_time", exit).
		Set("status", string(parking.SessionClosed)).
		Where(squirrel.Eq{"id": id, "status": string(parking.SessionActive)}).
		ToSql()
}

func (r *SessionRepository) Close(ctx context.Context, id string, exit time.Time) error {
	query, args, err := closeSessionQuery(id, exit)
	if err != nil {
		return fmt.Errorf("%w: Close - build update query: %v", ErrBuildQuery, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: Close - execute update: %v", ErrExecQuery, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", parking.ErrSessionNotFound, id)
	}
	return nil
}

func (r *SessionRepository) ListActive(ctx context.Context) ([]parking.Session, error) {
	return r.list(ctx, "ListActive", psql.Select(sessionColumns...).
		From("sessions").
		Where(squirrel.Eq{"status": string(parking.SessionActive)}).
		OrderBy("entry_time", "id"))
}

// Recent returns up to limit sessions, newest entry first.
func (r *SessionRepository) Recent(ctx context.Context, limit int) ([]parking.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.list(ctx, "Recent", psql.Select(sessionColumns...).
		From("sessions").
		OrderBy("entry_time DESC", "id").
		Limit(uint64(limit)))
}

func (r *SessionRepository) list(ctx context.Context, op string, b squirrel.SelectBuilder) ([]parking.Session, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %s - build select query: %v", ErrBuildQuery, op, err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s - execute select: %v", ErrExecQuery, op, err)
	}
	defer rows.Close()

	var out []parking.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s - scan session: %v", ErrScanRow, op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s - iterate sessions: %v", ErrScanRow, op, err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (parking.Session, error) {
	var (
		s      parking.Session
		price  string
		status string
	)
	err := row.Scan(&s.ID, &s.Plate, &s.SlotID, &s.Zone, &s.BookingID, &s.EntryTime, &s.ExitTime,
		&price, &s.Quote.Currency, &s.Quote.OccupancyRatio, &s.Quote.Scope, &s.Quote.ComputedAt, &status)
	if err != nil {
		return parking.Session{}, err
	}

	amount, err := decimal.NewFromString(price)
	if err != nil {
		return parking.Session{}, fmt.Errorf("price %q: %w", price, err)
	}
	s.Quote.Amount = amount
	s.Status = parking.SessionStatus(status)
	return s, nil
}
