package parking

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const shellUsage = `Commands:
  add_slot <id> <zone> <size> <distance> [gate=distance ...]
  remove_slot <id>
  out_of_service <id>
  restore <id>
  book <plate> <start RFC3339> <end RFC3339> [zone] [size]
  cancel_booking <booking_id>
  arrive <plate> [size] [gate]
  exit <plate>
  status
  occupancy [zone]
  find <plate>
  recent [limit]`

// Shell is a line-oriented operator console over the engine. Every command
// runs in its own span.
type Shell struct {
	engine  *InstrumentedEngine
	tracer  trace.Tracer
	scanner *bufio.Scanner
	out     io.Writer
}

func NewShell(engine *InstrumentedEngine, tracer trace.Tracer, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		engine:  engine,
		tracer:  tracer,
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

func (s *Shell) Run(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "shell.run")
	defer span.End()

	span.AddEvent("shell_started")

	for {
		if ctx.Err() != nil || !s.scanner.Scan() {
			break
		}

		input := strings.TrimSpace(s.scanner.Text())
		if input == "" {
			continue
		}

		cmdCtx, cmdSpan := s.tracer.Start(ctx, "shell.process_command",
			trace.WithAttributes(attribute.String("command.input", input)))

		s.processCommand(cmdCtx, input)
		cmdSpan.End()
	}

	span.AddEvent("shell_ended")
}

func (s *Shell) processCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	command := parts[0]
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("command.name", command))

	switch command {
	case "add_slot":
		s.handleAddSlot(ctx, parts)
	case "remove_slot":
		s.handleRemoveSlot(ctx, parts)
	case "out_of_service":
		s.handleOutOfService(ctx, parts)
	case "restore":
		s.handleRestore(ctx, parts)
	case "book":
		s.handleBook(ctx, parts)
	case "cancel_booking":
		s.handleCancelBooking(ctx, parts)
	case "arrive":
		s.handleArrive(ctx, parts)
	case "exit":
		s.handleExit(ctx, parts)
	case "status":
		s.handleStatus(ctx)
	case "occupancy":
		s.handleOccupancy(ctx, parts)
	case "find":
		s.handleFind(ctx, parts)
	case "recent":
		s.handleRecent(ctx, parts)
	case "help":
		fmt.Fprintln(s.out, shellUsage)
	default:
		trace.SpanFromContext(ctx).AddEvent("unknown_command", trace.WithAttributes(
			attribute.String("unknown_command", command),
		))
		fmt.Fprintf(s.out, "Unknown command: %s\n", command)
	}
}

func (s *Shell) usage(span trace.Span, usage string) {
	span.AddEvent("invalid_arguments")
	fmt.Fprintf(s.out, "Usage: %s\n", usage)
}

func (s *Shell) fail(span trace.Span, err error) {
	span.RecordError(err)
	fmt.Fprintf(s.out, "Error: %s\n", err.Error())
}

func (s *Shell) handleAddSlot(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.add_slot_command")
	defer span.End()

	if len(parts) < 5 {
		s.usage(span, "add_slot <id> <zone> <size> <distance> [gate=distance ...]")
		return
	}

	tag, err := ParseSizeClass(parts[3])
	if err != nil {
		s.fail(span, err)
		return
	}
	distance, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		s.fail(span, fmt.Errorf("%w: invalid distance %q", ErrInvalidInput, parts[4]))
		return
	}

	slot := Slot{ID: parts[1], Zone: parts[2], Tag: tag, Distance: distance}
	for _, kv := range parts[5:] {
		gate, raw, ok := strings.Cut(kv, "=")
		if !ok {
			s.fail(span, fmt.Errorf("%w: gate distance %q must be gate=distance", ErrInvalidInput, kv))
			return
		}
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.fail(span, fmt.Errorf("%w: invalid distance for gate %s", ErrInvalidInput, gate))
			return
		}
		if slot.GateDistances == nil {
			slot.GateDistances = make(map[string]float64)
		}
		slot.GateDistances[gate] = d
	}

	span.SetAttributes(attribute.String("slot.id", slot.ID), attribute.String("slot.zone", slot.Zone))

	added, err := s.engine.AddSlot(ctx, slot)
	if err != nil {
		s.fail(span, err)
		return
	}

	span.AddEvent("slot_added")
	fmt.Fprintf(s.out, "Added slot %s in zone %s (%s)\n", added.ID, added.Zone, added.Tag)
}

func (s *Shell) handleRemoveSlot(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.remove_slot_command")
	defer span.End()

	if len(parts) != 2 {
		s.usage(span, "remove_slot <id>")
		return
	}
	if err := s.engine.DecommissionSlot(ctx, parts[1]); err != nil {
		s.fail(span, err)
		return
	}
	fmt.Fprintf(s.out, "Removed slot %s\n", parts[1])
}

func (s *Shell) handleOutOfService(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.out_of_service_command")
	defer span.End()

	if len(parts) != 2 {
		s.usage(span, "out_of_service <id>")
		return
	}
	if err := s.engine.SetSlotOutOfService(ctx, parts[1]); err != nil {
		s.fail(span, err)
		return
	}
	fmt.Fprintf(s.out, "Slot %s is out of service\n", parts[1])
}

func (s *Shell) handleRestore(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.restore_command")
	defer span.End()

	if len(parts) != 2 {
		s.usage(span, "restore <id>")
		return
	}
	if err := s.engine.RestoreSlot(ctx, parts[1]); err != nil {
		s.fail(span, err)
		return
	}
	fmt.Fprintf(s.out, "Slot %s is back in service\n", parts[1])
}

func (s *Shell) handleBook(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.book_command")
	defer span.End()

	if len(parts) < 4 || len(parts) > 6 {
		s.usage(span, "book <plate> <start RFC3339> <end RFC3339> [zone] [size]")
		return
	}

	start, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		s.fail(span, fmt.Errorf("%w: invalid start time %q", ErrInvalidInput, parts[2]))
		return
	}
	end, err := time.Parse(time.RFC3339, parts[3])
	if err != nil {
		s.fail(span, fmt.Errorf("%w: invalid end time %q", ErrInvalidInput, parts[3]))
		return
	}

	req := BookingRequest{Plate: parts[1], Start: start, End: end}
	if len(parts) > 4 {
		req.Zone = parts[4]
	}
	if len(parts) > 5 {
		req.Size = parts[5]
	}

	b, err := s.engine.CreateBooking(ctx, req)
	if err != nil {
		s.fail(span, err)
		return
	}
	fmt.Fprintf(s.out, "Booking %s created for %s\n", b.ID, b.Plate)
}

func (s *Shell) handleCancelBooking(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.cancel_booking_command")
	defer span.End()

	if len(parts) != 2 {
		s.usage(span, "cancel_booking <booking_id>")
		return
	}
	if err := s.engine.CancelBooking(ctx, parts[1]); err != nil {
		s.fail(span, err)
		return
	}
	fmt.Fprintf(s.out, "Booking %s cancelled\n", parts[1])
}

func (s *Shell) handleArrive(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.arrive_command")
	defer span.End()

	if len(parts) < 2 || len(parts) > 4 {
		s.usage(span, "arrive <plate> [size] [gate]")
		return
	}

	a := Arrival{Plate: parts[1], Time: s.engine.Now()}
	if len(parts) > 2 {
		a.Size = parts[2]
	}
	if len(parts) > 3 {
		a.Gate = parts[3]
	}

	res, err := s.engine.SubmitArrival(ctx, a)
	if err != nil {
		s.fail(span, err)
		return
	}
	if !res.Assigned() {
		span.AddEvent("arrival_rejected", trace.WithAttributes(
			attribute.String("reason", string(res.Reason)),
		))
		fmt.Fprintf(s.out, "Rejected: %s (%s)\n", res.Reason, res.Detail)
		return
	}

	span.AddEvent("arrival_assigned", trace.WithAttributes(
		attribute.String("slot.id", res.SlotID),
	))
	fmt.Fprintf(s.out, "Allocated slot %s in zone %s at %s %s/period\n",
		res.SlotID, res.Zone, res.Price.StringFixed(2), res.Currency)
}

func (s *Shell) handleExit(ctx context.Context, parts []string) {
	ctx, span := s.tracer.Start(ctx, "shell.exit_command")
	defer span.End()

	if len(parts) != 2 {
		s.usage(span, "exit <plate>")
		return
	}

	settlement, err := s.engine.Exit(ctx, ExitRequest{Plate: parts[1]})
	if err != nil {
		s.fail(span, err)
		return
	}
	fmt.Fprintf(s.out, "Slot %s is free, charge %s %s for %d period(s)\n",
		settlement.SlotID, settlement.Charge.StringFixed(2), settlement.Currency, settlement.Periods)
}

func (s *Shell) handleStatus(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "shell.status_command")
	defer span.End()

	sessions := s.engine.ActiveSessions()
	if len(sessions) == 0 {
		span.AddEvent("parking_lot_empty")
		fmt.Fprintln(s.out, "Parking lot is empty")
		return
	}

	span.SetAttributes(attribute.Int("active_sessions_count", len(sessions)))

	fmt.Fprintln(s.out, "Slot\tZone\tPlate\tEntry\tRate")
	for _, sess := range sessions {
		fmt.Fprintf(s.out, "%s\t%s\t%s\t%s\t%s %s\n",
			sess.SlotID, sess.Zone, sess.Plate,
			sess.EntryTime.Format(time.RFC3339),
			sess.Quote.Amount.StringFixed(2), sess.Quote.Currency)
	}
}

func (s *Shell) handleOccupancy(ctx context.Context, parts []string) {
	if len(parts) > 2 {
		fmt.Fprintln(s.out, "Usage: occupancy [zone]")
		return
	}

	zone := ""
	if len(parts) == 2 {
		zone = parts[1]
	}

	snap := s.engine.Occupancy(ctx, zone)
	fmt.Fprintf(s.out, "%s: %d/%d occupied (%.2f)\n", snap.Scope, snap.Occupied, snap.Capacity, snap.Ratio)
}

func (s *Shell) handleFind(ctx context.Context, parts []string) {
	if len(parts) != 2 {
		fmt.Fprintln(s.out, "Usage: find <plate>")
		return
	}

	sess, ok := s.engine.FindByPlate(ctx, parts[1])
	if !ok {
		fmt.Fprintln(s.out, "Not found")
		return
	}
	fmt.Fprintln(s.out, sess.SlotID)
}

func (s *Shell) handleRecent(ctx context.Context, parts []string) {
	_, span := s.tracer.Start(ctx, "shell.recent_command")
	defer span.End()

	limit := 10
	if len(parts) == 2 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			s.usage(span, "recent [limit]")
			return
		}
		limit = n
	}

	records := s.engine.RecentArrivals(limit)
	if len(records) == 0 {
		fmt.Fprintln(s.out, "No arrivals yet")
		return
	}
	for _, r := range records {
		detail := r.SlotID
		if r.Outcome != OutcomeAssigned {
			detail = string(r.Reason)
		}
		fmt.Fprintf(s.out, "%s\t%s\t%s\t%s\n", r.Time.Format(time.RFC3339), r.Plate, r.Outcome, detail)
	}
}
