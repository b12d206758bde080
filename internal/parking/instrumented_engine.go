package parking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type InstrumentedEngine struct {
	*Engine
	tracer trace.Tracer

	// Metrics
	arrivalOperations metric.Int64Counter
	exitOperations    metric.Int64Counter
	activeSessions    metric.Int64UpDownCounter
	operationDuration metric.Float64Histogram
	chargeTotal       metric.Float64Counter
}

func NewInstrumentedEngine(engine *Engine, tracer trace.Tracer, meter metric.Meter) (*InstrumentedEngine, error) {
	arrivalOperations, err := meter.Int64Counter("parking_arrivals_total",
		metric.WithDescription("Total number of arrivals by outcome"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	exitOperations, err := meter.Int64Counter("parking_exits_total",
		metric.WithDescription("Total number of exits"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	activeSessions, err := meter.Int64UpDownCounter("parking_active_sessions",
		metric.WithDescription("Current number of active parking sessions"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("operation_duration_seconds",
		metric.WithDescription("Duration of parking operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	chargeTotal, err := meter.Float64Counter("parking_charges_total",
		metric.WithDescription("Sum of settled session charges"),
		metric.WithUnit("{currency}"))
	if err != nil {
		return nil, err
	}

	ie := &InstrumentedEngine{
		Engine:            engine,
		tracer:            tracer,
		arrivalOperations: arrivalOperations,
		exitOperations:    exitOperations,
		activeSessions:    activeSessions,
		operationDuration: operationDuration,
		chargeTotal:       chargeTotal,
	}

	// sessions restored before instrumentation started
	activeSessions.Add(context.Background(), int64(len(engine.ActiveSessions())))

	return ie, nil
}

func (ie *InstrumentedEngine) SubmitArrival(ctx context.Context, a Arrival) (Result, error) {
	ctx, span := ie.tracer.Start(ctx, "parking.submit_arrival",
		trace.WithAttributes(
			attribute.String("vehicle.plate", NormalizePlate(a.Plate)),
			attribute.String("arrival.gate", a.Gate),
			attribute.String("vehicle.size", a.Size),
		))
	defer span.End()

	start := time.Now()

	res, err := ie.Engine.SubmitArrival(ctx, a)

	duration := time.Since(start).Seconds()

	for _, state := range res.Trail {
		span.AddEvent(string(state))
	}

	status := "rejected"
	labels := []attribute.KeyValue{
		attribute.String("operation", "arrival"),
		attribute.String("outcome", string(res.Outcome)),
	}

	switch {
	case err != nil:
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		labels = append(labels, attribute.String("error_kind", string(KindOf(err))))
	case res.Assigned():
		status = "success"
		span.SetAttributes(
			attribute.String("slot.id", res.SlotID),
			attribute.String("slot.zone", res.Zone),
			attribute.String("session.id", res.SessionID),
			attribute.Float64("price.amount", res.Price.InexactFloat64()),
			attribute.Float64("occupancy.ratio", res.OccupancyRatio),
		)
		labels = append(labels, attribute.String("zone", res.Zone))
		ie.activeSessions.Add(ctx, 1)
	default:
		span.SetAttributes(attribute.String("reject.reason", string(res.Reason)))
		labels = append(labels, attribute.String("reason", string(res.Reason)))
	}
	labels = append(labels, attribute.String("status", status))

	ie.arrivalOperations.Add(ctx, 1, metric.WithAttributes(labels...))
	ie.operationDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("operation", "arrival"),
		attribute.String("status", status),
	))

	return res, err
}

func (ie *InstrumentedEngine) Exit(ctx context.Context, req ExitRequest) (Settlement, error) {
	ctx, span := ie.tracer.Start(ctx, "parking.exit",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("vehicle.plate", NormalizePlate(req.Plate)),
		))
	defer span.End()

	start := time.Now()

	span.AddEvent("closing_session")

	settlement, err := ie.Engine.Exit(ctx, req)

	duration := time.Since(start).Seconds()

	labels := []attribute.KeyValue{
		attribute.String("operation", "exit"),
	}

	// a consistency failure still closes the session
	closed := err == nil || (settlement.SessionID != "" && KindOf(err) == KindConsistency)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		labels = append(labels, attribute.String("status", "failed"))
	} else {
		labels = append(labels, attribute.String("status", "success"))
		span.AddEvent("slot_released", trace.WithAttributes(
			attribute.String("slot.id", settlement.SlotID),
		))
	}

	if closed {
		span.SetAttributes(
			attribute.String("slot.id", settlement.SlotID),
			attribute.Int64("billing.periods", settlement.Periods),
			attribute.Float64("charge.amount", settlement.Charge.InexactFloat64()),
		)
		ie.activeSessions.Add(ctx, -1)
		ie.chargeTotal.Add(ctx, settlement.Charge.InexactFloat64(),
			metric.WithAttributes(attribute.String("currency", settlement.Currency)))
	}

	ie.exitOperations.Add(ctx, 1, metric.WithAttributes(labels...))
	ie.operationDuration.Record(ctx, duration, metric.WithAttributes(labels...))

	return settlement, err
}

func (ie *InstrumentedEngine) Occupancy(ctx context.Context, zone string) OccupancySnapshot {
	_, span := ie.tracer.Start(ctx, "parking.occupancy",
		trace.WithAttributes(attribute.String("zone", zone)))
	defer span.End()

	snap := ie.Engine.Occupancy(zone)

	span.SetAttributes(
		attribute.Int("occupancy.occupied", snap.Occupied),
		attribute.Int("occupancy.capacity", snap.Capacity),
		attribute.Float64("occupancy.ratio", snap.Ratio),
	)
	return snap
}

func (ie *InstrumentedEngine) FindByPlate(ctx context.Context, plate string) (Session, bool) {
	_, span := ie.tracer.Start(ctx, "parking.find_by_plate",
		trace.WithAttributes(attribute.String("vehicle.plate", NormalizePlate(plate))))
	defer span.End()

	s, ok := ie.Engine.ActiveSessionByPlate(plate)
	if !ok {
		span.AddEvent("vehicle_not_found")
		return s, false
	}

	span.AddEvent("vehicle_found", trace.WithAttributes(
		attribute.String("slot.id", s.SlotID),
	))
	return s, true
}

func (ie *InstrumentedEngine) CreateBooking(ctx context.Context, req BookingRequest) (Booking, error) {
	ctx, span := ie.tracer.Start(ctx, "parking.create_booking",
		trace.WithAttributes(
			attribute.String("vehicle.plate", NormalizePlate(req.Plate)),
			attribute.String("booking.zone", req.Zone),
		))
	defer span.End()

	b, err := ie.Engine.CreateBooking(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return b, err
	}

	span.SetAttributes(attribute.String("booking.id", b.ID))
	return b, nil
}

func (ie *InstrumentedEngine) CancelBooking(ctx context.Context, id string) error {
	ctx, span := ie.tracer.Start(ctx, "parking.cancel_booking",
		trace.WithAttributes(attribute.String("booking.id", id)))
	defer span.End()

	err := ie.Engine.CancelBooking(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
