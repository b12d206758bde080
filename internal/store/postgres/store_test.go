package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-parking/internal/parking"
	"smart-parking/internal/pricing"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records statements and answers them from canned values.
type fakeDB struct {
	execs        []execCall
	rowsAffected int64
	execErr      error
	row          []any
	rowErr       error
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	if db.execErr != nil {
		return pgconn.CommandTag{}, db.execErr
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", db.rowsAffected)), nil
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return fakeRow{values: db.row, err: db.rowErr}
}

func (db *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported by fakeDB")
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		case *float64:
			*p = r.values[i].(float64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case **time.Time:
			*p, _ = r.values[i].(*time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func bookingRow(consumed, cancelled bool) []any {
	return []any{"b1", "KA01HH1234", t0, t0.Add(time.Hour), "north", "", consumed, cancelled, t0}
}

func TestMarkConsumedQueryIsConditional(t *testing.T) {
	sql, args, err := markConsumedQuery("b1")
	require.NoError(t, err)

	assert.Equal(t, "UPDATE bookings SET consumed = $1 WHERE cancelled = $2 AND consumed = $3 AND id = $4", sql)
	assert.Equal(t, []any{true, false, false, "b1"}, args)
}

func TestBookingStoreMarkConsumed(t *testing.T) {
	ctx := context.Background()

	t.Run("wins the update", func(t *testing.T) {
		db := &fakeDB{rowsAffected: 1}
		require.NoError(t, NewBookingStore(db).MarkConsumed(ctx, "b1"))
		assert.Len(t, db.execs, 1)
	})

	t.Run("already consumed", func(t *testing.T) {
		db := &fakeDB{row: bookingRow(true, false)}
		err := NewBookingStore(db).MarkConsumed(ctx, "b1")
		assert.ErrorIs(t, err, parking.ErrBookingConsumed)
	})

	t.Run("cancelled", func(t *testing.T) {
		db := &fakeDB{row: bookingRow(false, true)}
		err := NewBookingStore(db).MarkConsumed(ctx, "b1")
		assert.ErrorIs(t, err, parking.ErrBookingCancelled)
	})

	t.Run("missing", func(t *testing.T) {
		db := &fakeDB{rowErr: pgx.ErrNoRows}
		err := NewBookingStore(db).MarkConsumed(ctx, "b1")
		assert.ErrorIs(t, err, parking.ErrBookingNotFound)
	})

	t.Run("database failure", func(t *testing.T) {
		db := &fakeDB{execErr: errors.New("connection reset")}
		err := NewBookingStore(db).MarkConsumed(ctx, "b1")
		assert.ErrorIs(t, err, ErrExecQuery)
	})
}

func TestBookingStoreGet(t *testing.T) {
	db := &fakeDB{row: bookingRow(false, false)}
	db.row[5] = "ev"

	b, err := NewBookingStore(db).Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "KA01HH1234", b.Plate)
	assert.Equal(t, parking.SizeEV, b.Tag)
	assert.True(t, b.Covers(t0))
}

func TestBookingStoreCancelMissing(t *testing.T) {
	db := &fakeDB{rowsAffected: 0}
	err := NewBookingStore(db).Cancel(context.Background(), "b1")
	assert.ErrorIs(t, err, parking.ErrBookingNotFound)

	require.Len(t, db.execs, 1)
	assert.Equal(t, "UPDATE bookings SET cancelled = $1, consumed = $2 WHERE id = $3", db.execs[0].sql)
}

func TestCloseSessionQuery(t *testing.T) {
	exit := t0.Add(2 * time.Hour)
	sql, args, err := closeSessionQuery("s1", exit)
	require.NoError(t, err)

	assert.Equal(t, "UPDATE sessions SET exit_time = $1, status = $2 WHERE id = $3 AND status = $4", sql)
	assert.Equal(t, []any{exit, "closed", "s1", "active"}, args)
}

func TestSessionRepositoryCloseInactive(t *testing.T) {
	db := &fakeDB{rowsAffected: 0}
	err := NewSessionRepository(db).Close(context.Background(), "s1", t0)
	assert.ErrorIs(t, err, parking.ErrSessionNotFound)
}

func TestSessionRepositoryCreateStoresQuote(t *testing.T) {
	db := &fakeDB{rowsAffected: 1}
	s := parking.Session{
		ID:        "s1",
		Plate:     "KA01HH1234",
		SlotID:    "A1",
		Zone:      "north",
		EntryTime: t0,
		Quote: pricing.Quote{
			Amount:         decimal.RequireFromString("15.00"),
			Currency:       "INR",
			OccupancyRatio: 0.75,
			Scope:          "north",
			ComputedAt:     t0,
		},
	}

	require.NoError(t, NewSessionRepository(db).Create(context.Background(), s))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "INSERT INTO sessions")
	assert.Contains(t, db.execs[0].args, "15")
	assert.Contains(t, db.execs[0].args, "active")
}

func TestScanSession(t *testing.T) {
	exit := t0.Add(time.Hour)
	row := fakeRow{values: []any{
		"s1", "KA01HH1234", "A1", "north", "", t0, &exit,
		"15.0000", "INR", 0.75, "north", t0, "closed",
	}}

	s, err := scanSession(row)
	require.NoError(t, err)
	assert.Equal(t, "15.00", s.Quote.Amount.StringFixed(2))
	assert.Equal(t, parking.SessionClosed, s.Status)
	require.NotNil(t, s.ExitTime)
	assert.Equal(t, exit, *s.ExitTime)
}

func TestUpsertSlotQuery(t *testing.T) {
	sql, args, err := upsertSlotQuery(parking.Slot{
		ID:            "A1",
		Zone:          "north",
		Tag:           parking.SizeCompact,
		Distance:      4,
		GateDistances: map[string]float64{"east": 2},
		Status:        parking.SlotOutOfService,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "INSERT INTO slots (id,zone,tag,distance,gate_distances,out_of_service) VALUES ($1,$2,$3,$4,$5,$6)")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
	assert.Equal(t, "compact", args[2])
	assert.JSONEq(t, `{"east":2}`, string(args[4].([]byte)))
	assert.Equal(t, true, args[5])
}

func TestMigrateStopsOnError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("permission denied")}
	err := Migrate(context.Background(), db)
	assert.ErrorIs(t, err, ErrExecQuery)
	assert.Len(t, db.execs, 1)

	db = &fakeDB{}
	require.NoError(t, Migrate(context.Background(), db))
	assert.Len(t, db.execs, len(migrations))
}
