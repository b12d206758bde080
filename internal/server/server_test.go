package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"smart-parking/internal/parking"
	"smart-parking/internal/pricing"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Meta    *Meta           `json:"meta"`
}

func newTestServer(t *testing.T, rl RateLimitConfig) http.Handler {
	t.Helper()

	registry := parking.NewRegistry()
	for _, s := range []parking.Slot{
		{ID: "N1", Zone: "north", Tag: parking.SizeStandard, Distance: 1},
		{ID: "N2", Zone: "north", Tag: parking.SizeStandard, Distance: 2},
		{ID: "S1", Zone: "south", Tag: parking.SizeCompact, Distance: 3},
	} {
		require.NoError(t, registry.Add(s))
	}

	pricer, err := pricing.NewEngine(pricing.DefaultConfig())
	require.NoError(t, err)

	opts := parking.DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	engine, err := parking.NewEngine(registry, parking.NewMemoryBookingStore(),
		parking.NewLedger(registry, nil, time.Hour), pricer, opts)
	require.NoError(t, err)

	ie, err := parking.NewInstrumentedEngine(engine,
		tracenoop.NewTracerProvider().Tracer("server-test"),
		noop.NewMeterProvider().Meter("server-test"))
	require.NoError(t, err)

	return NewServer(Config{Port: "0", ServiceName: "smart-parking-test", RateLimit: rl}, ie).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, testResponse) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestHealthCheck(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "smart-parking-test", health.Service)
	assert.Equal(t, 3, health.Slots)
	require.NotNil(t, health.Meta)
	assert.Equal(t, "req-42", health.Meta.RequestID)
}

func TestArrivalAndExitFlow(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{})

	code, resp := do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"KA-01-HH-1234"}`)
	require.Equal(t, http.StatusOK, code, resp.Error)

	var res parking.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, parking.OutcomeAssigned, res.Outcome)
	assert.Equal(t, "N1", res.SlotID)
	assert.Equal(t, "50.00", res.Price.StringFixed(2))

	code, resp = do(t, h, http.MethodGet, "/api/v1/sessions?plate=ka01hh1234", "")
	require.Equal(t, http.StatusOK, code)
	var session parking.Session
	require.NoError(t, json.Unmarshal(resp.Data, &session))
	assert.Equal(t, res.SessionID, session.ID)

	code, _ = do(t, h, http.MethodGet, "/api/v1/sessions/"+res.SessionID, "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, h, http.MethodGet, "/api/v1/occupancy?zone=north", "")
	require.Equal(t, http.StatusOK, code)
	var snap parking.OccupancySnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, 1, snap.Occupied)
	assert.Equal(t, 2, snap.Capacity)

	exitAt := testNow.Add(90 * time.Minute).Format(time.RFC3339)
	code, resp = do(t, h, http.MethodPost, "/api/v1/exits", `{"plate":"KA01HH1234","time":"`+exitAt+`"}`)
	require.Equal(t, http.StatusOK, code, resp.Error)

	var settlement parking.Settlement
	require.NoError(t, json.Unmarshal(resp.Data, &settlement))
	assert.Equal(t, int64(2), settlement.Periods)
	assert.Equal(t, "100.00", settlement.Charge.StringFixed(2))

	code, resp = do(t, h, http.MethodPost, "/api/v1/exits", `{"plate":"KA01HH1234"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(parking.KindNotFound), resp.Kind)

	code, resp = do(t, h, http.MethodGet, "/api/v1/sessions/recent?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	var recent []parking.Session
	require.NoError(t, json.Unmarshal(resp.Data, &recent))
	assert.Len(t, recent, 1)

	code, resp = do(t, h, http.MethodGet, "/api/v1/arrivals/recent", "")
	require.Equal(t, http.StatusOK, code)
	var arrivals []parking.ArrivalRecord
	require.NoError(t, json.Unmarshal(resp.Data, &arrivals))
	assert.Len(t, arrivals, 1)
}

func TestArrivalRejections(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{})

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed body", `{"plate":`, http.StatusBadRequest, string(parking.KindValidation)},
		{"unknown field", `{"plate":"KA01HH1234","colour":"red"}`, http.StatusBadRequest, string(parking.KindValidation)},
		{"bad plate", `{"plate":"K1"}`, http.StatusBadRequest, string(parking.ReasonInvalidInput)},
		{"oversized has no slot", `{"plate":"KA01HH1234","size":"oversized"}`, http.StatusConflict, string(parking.ReasonNoAvailableSlot)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, h, http.MethodPost, "/api/v1/arrivals", tt.body)
			assert.Equal(t, tt.status, code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}

	code, _ := do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"MH12AB9999"}`)
	require.Equal(t, http.StatusOK, code)

	code, resp := do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"MH12AB9999"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(parking.ReasonDuplicateArrival), resp.Kind)
}

func TestSlotProvisioning(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{})

	code, resp := do(t, h, http.MethodPost, "/api/v1/slots", `{"id":"E1","zone":"east","size":"large","distance":4}`)
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, _ = do(t, h, http.MethodPost, "/api/v1/slots", `{"id":"E1","zone":"east","size":"large","distance":4}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/slots", `{"id":"E2","zone":"east","size":"bus","distance":4}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, h, http.MethodGet, "/api/v1/slots?zone=east&tag=oversized", "")
	require.Equal(t, http.StatusOK, code)
	var slots []parking.Slot
	require.NoError(t, json.Unmarshal(resp.Data, &slots))
	require.Len(t, slots, 1)
	assert.Equal(t, "E1", slots[0].ID)

	code, _ = do(t, h, http.MethodGet, "/api/v1/slots?status=broken", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, h, http.MethodPost, "/api/v1/slots/E1/out-of-service", "")
	require.Equal(t, http.StatusOK, code)
	var slot parking.Slot
	require.NoError(t, json.Unmarshal(resp.Data, &slot))
	assert.Equal(t, parking.SlotOutOfService, slot.Status)

	code, _ = do(t, h, http.MethodPost, "/api/v1/slots/E1/restore", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodDelete, "/api/v1/slots/E1", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodDelete, "/api/v1/slots/E1", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodGet, "/api/v1/occupancy?zone=east", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBookingEndpoints(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{})

	body, err := json.Marshal(BookingRequest{
		Plate: "KA01HH1234",
		Start: testNow.Add(-time.Hour),
		End:   testNow.Add(time.Hour),
		Zone:  "north",
	})
	require.NoError(t, err)

	code, resp := do(t, h, http.MethodPost, "/api/v1/bookings", string(body))
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var booking parking.Booking
	require.NoError(t, json.Unmarshal(resp.Data, &booking))

	code, _ = do(t, h, http.MethodGet, "/api/v1/bookings/"+booking.ID, "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"KA01HH1234"}`)
	require.Equal(t, http.StatusOK, code)
	var res parking.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, booking.ID, res.BookingID)

	code, resp = do(t, h, http.MethodDelete, "/api/v1/bookings/"+booking.ID, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(parking.KindBooking), resp.Kind)

	code, _ = do(t, h, http.MethodGet, "/api/v1/bookings/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRateLimitOnWriteRoutes(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{Enabled: true, RPS: 1, Burst: 1})

	code, _ := do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"KA01HH1234"}`)
	require.Equal(t, http.StatusOK, code)

	code, resp := do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"MH12AB9999"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "Too many requests", resp.Error)

	// reads are not limited
	code, _ = do(t, h, http.MethodGet, "/api/v1/occupancy", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, RateLimitConfig{})

	code, _ := do(t, h, http.MethodPost, "/api/v1/arrivals", `{"plate":"KA01HH1234"}`)
	require.Equal(t, http.StatusOK, code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.Bytes()
	assert.True(t, bytes.Contains(body, []byte(`parking_slots_occupied{zone="north"} 1`)))
	assert.True(t, bytes.Contains(body, []byte(`parking_sessions_active 1`)))
	assert.True(t, bytes.Contains(body, []byte(`go_goroutines`)))
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind   parking.ErrorKind
		status int
	}{
		{parking.KindValidation, http.StatusBadRequest},
		{parking.KindNotFound, http.StatusNotFound},
		{parking.KindConflict, http.StatusConflict},
		{parking.KindContention, http.StatusConflict},
		{parking.KindBooking, http.StatusConflict},
		{parking.KindConsistency, http.StatusInternalServerError},
		{parking.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, statusForKind(tt.kind), string(tt.kind))
	}
}
