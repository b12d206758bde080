package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"smart-parking/internal/parking"
)

// SlotCatalog stores the lot layout. Only the out-of-service flag of a
// slot's status is persisted; claims are rebuilt from active sessions.
type SlotCatalog struct {
	db Querier
}

func NewSlotCatalog(db Querier) *SlotCatalog {
	return &SlotCatalog{db: db}
}

func upsertSlotQuery(s parking.Slot) (string, []any, error) {
	gates := s.GateDistances
	if gates == nil {
		gates = map[string]float64{}
	}
	gatesJSON, err := json.Marshal(gates)
	if err != nil {
		return "", nil, err
	}

	return psql.Insert("slots").
		Columns("id", "zone", "tag", "distance", "gate_distances", "out_of_service").
		Values(s.ID, s.Zone, string(s.Tag), s.Distance, gatesJSON, s.Status == parking.SlotOutOfService).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			zone = EXCLUDED.zone,
			tag = EXCLUDED.tag,
			distance = EXCLUDED.distance,
			gate_distances = EXCLUDED.gate_distances,
			out_of_service = EXCLUDED.out_of_service,
			updated_at = NOW()`).
		ToSql()
}

func (c *SlotCatalog) Upsert(ctx context.Context, s parking.Slot) error {
	query, args, err := upsertSlotQuery(s)
	if err != nil {
		return fmt.Errorf("%w: Upsert - build insert query: %v", ErrBuildQuery, err)
	}

	if _, err := c.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: Upsert - execute insert: %v", ErrExecQuery, err)
	}
	return nil
}

func (c *SlotCatalog) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("slots").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: Delete - build delete query: %v", ErrBuildQuery, err)
	}

	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: Delete - execute delete: %v", ErrExecQuery, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", parking.ErrSlotNotFound, id)
	}
	return nil
}

func (c *SlotCatalog) SetOutOfService(ctx context.Context, id string, outOfService bool) error {
	query, args, err := psql.Update("slots").
		Set("out_of_service", outOfService).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: SetOutOfService - build update query: %v", ErrBuildQuery, err)
	}

	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: SetOutOfService - execute update: %v", ErrExecQuery, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", parking.ErrSlotNotFound, id)
	}
	return nil
}

// List returns every stored slot, free or out of service, ordered by id.
func (c *SlotCatalog) List(ctx context.Context) ([]parking.Slot, error) {
	query, args, err := psql.Select("id", "zone", "tag", "distance", "gate_distances", "out_of_service").
		From("slots").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: List - build select query: %v", ErrBuildQuery, err)
	}

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: List - execute select: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var slots []parking.Slot
	for rows.Next() {
		var (
			s            parking.Slot
			tag          string
			gatesJSON    []byte
			outOfService bool
		)
		if err := rows.Scan(&s.ID, &s.Zone, &tag, &s.Distance, &gatesJSON, &outOfService); err != nil {
			return nil, fmt.Errorf("%w: List - scan slot: %v", ErrScanRow, err)
		}
		if len(gatesJSON) > 0 {
			if err := json.Unmarshal(gatesJSON, &s.GateDistances); err != nil {
				return nil, fmt.Errorf("%w: List - decode gate distances of %s: %v", ErrScanRow, s.ID, err)
			}
		}
		if len(s.GateDistances) == 0 {
			s.GateDistances = nil
		}
		s.Tag = parking.SizeClass(tag)
		s.Status = parking.SlotFree
		if outOfService {
			s.Status = parking.SlotOutOfService
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: List - iterate slots: %v", ErrScanRow, err)
	}
	return slots, nil
}
