package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"smart-parking/internal/logging"
	"smart-parking/internal/parking"
)

type Meta struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Slots   int    `json:"slots"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type ArrivalRequest struct {
	Plate string     `json:"plate"`
	Time  *time.Time `json:"time,omitempty"`
	Gate  string     `json:"gate,omitempty"`
	Size  string     `json:"size,omitempty"`
}

type ExitRequest struct {
	SessionID string     `json:"session_id,omitempty"`
	Plate     string     `json:"plate,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
}

type SlotRequest struct {
	ID            string             `json:"id"`
	Zone          string             `json:"zone"`
	Size          string             `json:"size"`
	Distance      float64            `json:"distance"`
	GateDistances map[string]float64 `json:"gate_distances,omitempty"`
	OutOfService  bool               `json:"out_of_service,omitempty"`
}

type BookingRequest struct {
	Plate string    `json:"plate"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Zone  string    `json:"zone,omitempty"`
	Size  string    `json:"size,omitempty"`
}

type OccupancyResponse struct {
	Lot   parking.OccupancySnapshot   `json:"lot"`
	Zones []parking.OccupancySnapshot `json:"zones"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractMeta(ctx context.Context) *Meta {
	meta := &Meta{}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		meta.TraceID = span.SpanContext().TraceID().String()
	}

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		meta.RequestID = reqID
	}

	return meta
}

func WriteSuccess(ctx context.Context, w http.ResponseWriter, message string, data any) {
	WriteSuccessStatus(ctx, w, http.StatusOK, message, data)
}

func WriteSuccessStatus(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    extractMeta(ctx),
	})
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Meta:    extractMeta(ctx),
	})
}

// statusForKind maps engine error kinds onto HTTP status codes.
func statusForKind(kind parking.ErrorKind) int {
	switch kind {
	case parking.KindValidation:
		return http.StatusBadRequest
	case parking.KindNotFound:
		return http.StatusNotFound
	case parking.KindConflict, parking.KindContention, parking.KindBooking:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteEngineError reports an engine error. Internal failures are logged
// and their details are not returned to the client.
func WriteEngineError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := parking.KindOf(err)
	status := statusForKind(kind)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.Error(ctx, "request failed",
			"kind", string(kind),
			"error", err,
		)
		message = "Internal server error"
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Kind:    string(kind),
		Meta:    extractMeta(ctx),
	})
}
