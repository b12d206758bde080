package parking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func seedBookings(t *testing.T, bookings ...Booking) *MemoryBookingStore {
	t.Helper()
	store := NewMemoryBookingStore()
	for _, b := range bookings {
		require.NoError(t, store.Create(context.Background(), b))
	}
	return store
}

func TestBookingCovers(t *testing.T) {
	b := Booking{Start: baseTime, End: baseTime.Add(time.Hour)}

	assert.True(t, b.Covers(baseTime))
	assert.True(t, b.Covers(baseTime.Add(59*time.Minute)))
	assert.False(t, b.Covers(baseTime.Add(time.Hour)))
	assert.False(t, b.Covers(baseTime.Add(-time.Second)))
}

func TestBookingValidator(t *testing.T) {
	ctx := context.Background()
	hour := time.Hour

	tests := []struct {
		name     string
		bookings []Booking
		at       time.Time
		want     BookingCheck
		wantID   string
	}{
		{
			name: "no bookings",
			at:   baseTime,
			want: NoBooking,
		},
		{
			name:     "valid window",
			bookings: []Booking{{ID: "b1", Plate: "KA01HH1234", Start: baseTime, End: baseTime.Add(hour)}},
			at:       baseTime.Add(10 * time.Minute),
			want:     ValidBooking,
			wantID:   "b1",
		},
		{
			name:     "expired at end instant",
			bookings: []Booking{{ID: "b1", Plate: "KA01HH1234", Start: baseTime, End: baseTime.Add(hour)}},
			at:       baseTime.Add(hour),
			want:     ExpiredBooking,
			wantID:   "b1",
		},
		{
			name:     "consumed inside window",
			bookings: []Booking{{ID: "b1", Plate: "KA01HH1234", Start: baseTime, End: baseTime.Add(hour), Consumed: true}},
			at:       baseTime.Add(time.Minute),
			want:     AlreadyConsumed,
			wantID:   "b1",
		},
		{
			name:     "future booking is a drop-in",
			bookings: []Booking{{ID: "b1", Plate: "KA01HH1234", Start: baseTime.Add(2 * hour), End: baseTime.Add(3 * hour)}},
			at:       baseTime,
			want:     NoBooking,
		},
		{
			name:     "cancelled booking ignored",
			bookings: []Booking{{ID: "b1", Plate: "KA01HH1234", Start: baseTime, End: baseTime.Add(hour), Cancelled: true}},
			at:       baseTime,
			want:     NoBooking,
		},
		{
			name: "valid beats expired and consumed",
			bookings: []Booking{
				{ID: "old", Plate: "KA01HH1234", Start: baseTime.Add(-3 * hour), End: baseTime.Add(-2 * hour)},
				{ID: "used", Plate: "KA01HH1234", Start: baseTime.Add(-hour), End: baseTime.Add(hour), Consumed: true},
				{ID: "b1", Plate: "KA01HH1234", Start: baseTime.Add(-time.Minute), End: baseTime.Add(hour)},
			},
			at:     baseTime,
			want:   ValidBooking,
			wantID: "b1",
		},
		{
			name: "overlapping valid bookings pick earliest start",
			bookings: []Booking{
				{ID: "later", Plate: "KA01HH1234", Start: baseTime.Add(-10 * time.Minute), End: baseTime.Add(hour)},
				{ID: "earlier", Plate: "KA01HH1234", Start: baseTime.Add(-30 * time.Minute), End: baseTime.Add(hour)},
			},
			at:     baseTime,
			want:   ValidBooking,
			wantID: "earlier",
		},
		{
			name:     "other plate does not match",
			bookings: []Booking{{ID: "b1", Plate: "MH12AB9999", Start: baseTime, End: baseTime.Add(hour)}},
			at:       baseTime,
			want:     NoBooking,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewBookingValidator(seedBookings(t, tt.bookings...))

			got, err := v.Validate(ctx, "KA01HH1234", tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Check)
			if tt.wantID == "" {
				assert.Nil(t, got.Booking)
				return
			}
			require.NotNil(t, got.Booking)
			assert.Equal(t, tt.wantID, got.Booking.ID)
		})
	}
}

func TestMemoryBookingStoreMarkConsumedOnce(t *testing.T) {
	ctx := context.Background()
	store := seedBookings(t, Booking{ID: "b1", Plate: "KA01HH1234", Start: baseTime, End: baseTime.Add(time.Hour)})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.MarkConsumed(ctx, "b1")
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrBookingConsumed)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	require.NoError(t, store.Unconsume(ctx, "b1"))
	b, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, b.Consumed)
}

func TestMemoryBookingStoreCancel(t *testing.T) {
	ctx := context.Background()
	store := seedBookings(t, Booking{ID: "b1", Plate: "KA01HH1234", Start: baseTime, End: baseTime.Add(time.Hour)})

	require.NoError(t, store.Cancel(ctx, "b1"))
	assert.ErrorIs(t, store.MarkConsumed(ctx, "b1"), ErrBookingCancelled)
	assert.ErrorIs(t, store.Cancel(ctx, "missing"), ErrBookingNotFound)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}
