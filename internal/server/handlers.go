package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"smart-parking/internal/parking"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

type Handler struct {
	engine      *parking.InstrumentedEngine
	serviceName string
}

func NewHandler(engine *parking.InstrumentedEngine, serviceName string) *Handler {
	return &Handler{engine: engine, serviceName: serviceName}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: h.serviceName,
		Slots:   h.engine.Registry().Len(),
		Meta:    extractMeta(r.Context()),
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", parking.ErrInvalidInput, err)
	}
	return nil
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", parking.ErrInvalidInput, maxListLimit)
	}
	return n, nil
}

// rejectionStatus maps an arrival rejection onto an HTTP status.
func rejectionStatus(reason parking.RejectReason) int {
	if reason == parking.ReasonInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

func (h *Handler) SubmitArrival(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ArrivalRequest
	if err := decode(r, &req); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	arrival := parking.Arrival{Plate: req.Plate, Gate: req.Gate, Size: req.Size, Time: h.engine.Now()}
	if req.Time != nil {
		arrival.Time = *req.Time
	}

	res, err := h.engine.SubmitArrival(ctx, arrival)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	if !res.Assigned() {
		WriteJSON(w, rejectionStatus(res.Reason), Response{
			Success: false,
			Error:   res.Detail,
			Kind:    string(res.Reason),
			Data:    res,
			Meta:    extractMeta(ctx),
		})
		return
	}

	WriteSuccess(ctx, w, "Slot assigned", res)
}

func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ExitRequest
	if err := decode(r, &req); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	if req.SessionID == "" && req.Plate == "" {
		WriteError(ctx, w, http.StatusBadRequest, "session_id or plate is required")
		return
	}

	exit := parking.ExitRequest{SessionID: req.SessionID, Plate: req.Plate}
	if req.Time != nil {
		exit.Time = *req.Time
	}

	settlement, err := h.engine.Exit(ctx, exit)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	WriteSuccess(ctx, w, "Session closed", settlement)
}

func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	zones := h.engine.Zones()
	if zone := r.URL.Query().Get("zone"); zone != "" {
		known := false
		for _, z := range zones {
			if z == zone {
				known = true
				break
			}
		}
		if !known {
			WriteError(ctx, w, http.StatusNotFound, fmt.Sprintf("Unknown zone %q", zone))
			return
		}
		WriteSuccess(ctx, w, "Occupancy retrieved successfully", h.engine.Occupancy(ctx, zone))
		return
	}

	resp := OccupancyResponse{
		Lot:   h.engine.Occupancy(ctx, ""),
		Zones: make([]parking.OccupancySnapshot, 0, len(zones)),
	}
	for _, z := range zones {
		resp.Zones = append(resp.Zones, h.engine.Occupancy(ctx, z))
	}
	WriteSuccess(ctx, w, "Occupancy retrieved successfully", resp)
}

func (h *Handler) GetActiveSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	switch {
	case q.Get("slot_id") != "":
		s, ok := h.engine.ActiveSessionBySlot(q.Get("slot_id"))
		if !ok {
			WriteError(ctx, w, http.StatusNotFound, "No active session for slot")
			return
		}
		WriteSuccess(ctx, w, "Session found", s)
	case q.Get("plate") != "":
		s, ok := h.engine.FindByPlate(ctx, q.Get("plate"))
		if !ok {
			WriteError(ctx, w, http.StatusNotFound, "Vehicle not found")
			return
		}
		WriteSuccess(ctx, w, "Session found", s)
	default:
		WriteSuccess(ctx, w, "Active sessions retrieved successfully", h.engine.ActiveSessions())
	}
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, ok := h.engine.Session(chi.URLParam(r, "id"))
	if !ok {
		WriteError(ctx, w, http.StatusNotFound, "Session not found")
		return
	}
	WriteSuccess(ctx, w, "Session found", s)
}

func (h *Handler) GetRecentSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := listLimit(r)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	sessions, err := h.engine.RecentSessions(ctx, limit)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Recent sessions retrieved successfully", sessions)
}

func (h *Handler) GetRecentArrivals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := listLimit(r)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Recent arrivals retrieved successfully", h.engine.RecentArrivals(limit))
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := parking.SlotFilter{Zone: q.Get("zone")}
	if raw := q.Get("tag"); raw != "" {
		tag, err := parking.ParseSizeClass(raw)
		if err != nil {
			WriteEngineError(ctx, w, err)
			return
		}
		filter.Tag = tag
	}
	if raw := q.Get("status"); raw != "" {
		status := parking.SlotStatus(raw)
		if !status.Valid() {
			WriteError(ctx, w, http.StatusBadRequest, fmt.Sprintf("Unknown slot status %q", raw))
			return
		}
		filter.Status = status
	}

	WriteSuccess(ctx, w, "Slots retrieved successfully", h.engine.ListSlots(filter))
}

func (h *Handler) AddSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SlotRequest
	if err := decode(r, &req); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	tag, err := parking.ParseSizeClass(req.Size)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	slot := parking.Slot{
		ID:            req.ID,
		Zone:          req.Zone,
		Tag:           tag,
		Distance:      req.Distance,
		GateDistances: req.GateDistances,
	}
	if req.OutOfService {
		slot.Status = parking.SlotOutOfService
	}

	added, err := h.engine.AddSlot(ctx, slot)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccessStatus(ctx, w, http.StatusCreated, "Slot added", added)
}

func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.engine.DecommissionSlot(ctx, id); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Slot removed", map[string]any{"id": id})
}

func (h *Handler) SetSlotOutOfService(w http.ResponseWriter, r *http.Request) {
	h.changeSlot(w, r, h.engine.SetSlotOutOfService, "Slot taken out of service")
}

func (h *Handler) RestoreSlot(w http.ResponseWriter, r *http.Request) {
	h.changeSlot(w, r, h.engine.RestoreSlot, "Slot restored")
}

func (h *Handler) changeSlot(w http.ResponseWriter, r *http.Request, change func(context.Context, string) error, message string) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := change(ctx, id); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	slot, err := h.engine.Registry().Get(id)
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, message, slot)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BookingRequest
	if err := decode(r, &req); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}

	b, err := h.engine.CreateBooking(ctx, parking.BookingRequest{
		Plate: req.Plate,
		Start: req.Start,
		End:   req.End,
		Zone:  req.Zone,
		Size:  req.Size,
	})
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccessStatus(ctx, w, http.StatusCreated, "Booking created", b)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.engine.GetBooking(ctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Booking found", b)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.engine.CancelBooking(ctx, id); err != nil {
		WriteEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Booking cancelled", map[string]any{"id": id})
}
