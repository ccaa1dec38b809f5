package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
)

// LoadTariffs reads every tariff with its lanes and weight breaks.
func (s *Store) LoadTariffs(ctx context.Context) ([]freight.Tariff, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.carrier_name, t.origin_dc, t.tariff_type, t.effective_from, t.effective_to,
		       l.id, COALESCE(l.dest_city, ''), l.dest_province, l.min_charge, l.spot_charges
		FROM tariffs t
		LEFT JOIN tariff_lanes l ON l.tariff_id = t.id
		ORDER BY t.carrier_name, t.origin_dc, t.tariff_type, l.dest_province, l.dest_city NULLS FIRST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tariffs []freight.Tariff
	laneAt := map[uuid.UUID][2]int{}
	for rows.Next() {
		var (
			t        freight.Tariff
			typ      string
			laneID   *uuid.UUID
			city     *string
			province *string
			minimum  decimal.NullDecimal
			spots    []byte
		)
		if err := rows.Scan(&t.ID, &t.Carrier, &t.OriginDepot, &typ, &t.EffectiveFrom, &t.EffectiveTo,
			&laneID, &city, &province, &minimum, &spots); err != nil {
			return nil, err
		}
		if n := len(tariffs); n == 0 || tariffs[n-1].ID != t.ID {
			tt, ok := freight.ParseTariffType(typ)
			if !ok {
				return nil, &freight.ValidationError{Carrier: t.Carrier, Origin: t.OriginDepot, Reason: fmt.Sprintf("unknown tariff type %q", typ)}
			}
			t.Type = tt
			tariffs = append(tariffs, t)
		}
		if laneID == nil {
			continue
		}
		lane := freight.TariffLane{MinCharge: minimum.Decimal}
		if city != nil {
			lane.DestCity = *city
		}
		if province != nil {
			lane.DestProvince = *province
		}
		if len(spots) > 0 {
			if err := json.Unmarshal(spots, &lane.SpotCharges); err != nil {
				return nil, fmt.Errorf("decode spot charges for lane %s: %w", laneID, err)
			}
		}
		ti := len(tariffs) - 1
		tariffs[ti].Lanes = append(tariffs[ti].Lanes, lane)
		laneAt[*laneID] = [2]int{ti, len(tariffs[ti].Lanes) - 1}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(laneAt) == 0 {
		return tariffs, nil
	}

	brows, err := s.db.Query(ctx, `
		SELECT lane_id, weight_from, weight_to, rate_per_cwt
		FROM tariff_breaks
		ORDER BY lane_id, weight_from`)
	if err != nil {
		return nil, err
	}
	defer brows.Close()
	for brows.Next() {
		var (
			laneID uuid.UUID
			b      freight.WeightBreak
			to     decimal.NullDecimal
		)
		if err := brows.Scan(&laneID, &b.From, &to, &b.RatePerCWT); err != nil {
			return nil, err
		}
		at, ok := laneAt[laneID]
		if !ok {
			continue
		}
		if to.Valid {
			d := to.Decimal
			b.To = &d
		}
		lane := &tariffs[at[0]].Lanes[at[1]]
		lane.Breaks = append(lane.Breaks, b)
	}
	return tariffs, brows.Err()
}

// ReplaceTariffs upserts tariffs keyed by carrier, origin and type. Lanes and
// breaks of a replaced tariff are dropped and rewritten.
func (s *Store) ReplaceTariffs(ctx context.Context, tariffs []freight.Tariff) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, t := range tariffs {
		id := t.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		b.Queue(`DELETE FROM tariffs WHERE id = $1 OR (carrier_name = $2 AND origin_dc = $3 AND tariff_type = $4)`,
			id, t.Carrier, t.OriginDepot, string(t.Type))
		b.Queue(`
			INSERT INTO tariffs (id, carrier_name, origin_dc, tariff_type, effective_from, effective_to)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, t.Carrier, t.OriginDepot, string(t.Type), dateOrNil(t.EffectiveFrom), dateOrNil(t.EffectiveTo))
		for _, l := range t.Lanes {
			laneID := uuid.New()
			var spots *string
			if len(l.SpotCharges) > 0 {
				raw, err := json.Marshal(l.SpotCharges)
				if err != nil {
					return fmt.Errorf("encode spot charges: %w", err)
				}
				js := string(raw)
				spots = &js
			}
			b.Queue(`
				INSERT INTO tariff_lanes (id, tariff_id, dest_city, dest_province, min_charge, spot_charges)
				VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
				laneID, id, nullIfEmpty(l.DestCity), l.DestProvince, l.MinCharge, spots)
			for _, br := range l.Breaks {
				var to decimal.NullDecimal
				if br.To != nil {
					to = decimal.NewNullDecimal(*br.To)
				}
				b.Queue(`
					INSERT INTO tariff_breaks (lane_id, weight_from, weight_to, rate_per_cwt)
					VALUES ($1, $2, $3, $4)`,
					laneID, br.From, to, br.RatePerCWT)
			}
		}
	}
	if err := execBatch(ctx, tx, b); err != nil {
		return fmt.Errorf("replace tariffs: %w", err)
	}
	return tx.Commit(ctx)
}

func dateOrNil(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}
