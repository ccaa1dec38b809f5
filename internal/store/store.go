// Package store keeps audit runs, tariffs and rerate results in Postgres.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightaudit/internal/audit"
	"freightaudit/internal/freight"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	runStatusPending   = "pending"
	runStatusCompleted = "completed"
)

// Store implements audit.Repository and tariff.Source.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// CreateRun stores a new audit run with its normalized shipments. Every
// shipment gets a fresh id, so the same export can be loaded into any number
// of runs.
func (s *Store) CreateRun(ctx context.Context, name string, shipments []freight.Shipment) (uuid.UUID, error) {
	runID := uuid.New()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO audit_runs (id, name, status) VALUES ($1, $2, $3)`,
		runID, name, runStatusPending); err != nil {
		return uuid.Nil, err
	}
	b := &pgx.Batch{}
	for _, sh := range shipments {
		sh.ID = uuid.New()
		b.Queue(`
			INSERT INTO shipments (
				id, audit_run_id, shipment_ref, origin_dc, dest_city, dest_province, dest_region,
				weight, billed_weight, dim_weight, pallets, actual_charge, ship_date, carrier
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			sh.ID, runID, sh.Ref, sh.OriginDepot,
			nullIfEmpty(sh.DestCity), nullIfEmpty(sh.DestProvince), nullIfEmpty(sh.DestRegion),
			sh.ScaleWeight, sh.BilledWeight, sh.DimWeight, sh.Pallets, sh.ActualCharge,
			nullTime(sh.ShipDate), nullIfEmpty(sh.Carrier),
		)
	}
	if err := execBatch(ctx, tx, b); err != nil {
		return uuid.Nil, fmt.Errorf("insert shipments: %w", err)
	}
	return runID, tx.Commit(ctx)
}

func (s *Store) runExists(ctx context.Context, runID uuid.UUID) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audit_runs WHERE id = $1)`, runID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return freight.ErrRunNotFound
	}
	return nil
}

func (s *Store) LoadShipments(ctx context.Context, runID uuid.UUID) ([]freight.Shipment, error) {
	if err := s.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, shipment_ref, origin_dc,
		       COALESCE(dest_city, ''), COALESCE(dest_province, ''), COALESCE(dest_region, ''),
		       weight, billed_weight, dim_weight, pallets, actual_charge,
		       ship_date, COALESCE(carrier, '')
		FROM shipments
		WHERE audit_run_id = $1
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []freight.Shipment
	for rows.Next() {
		var sh freight.Shipment
		var shipDate *time.Time
		if err := rows.Scan(
			&sh.ID, &sh.Ref, &sh.OriginDepot,
			&sh.DestCity, &sh.DestProvince, &sh.DestRegion,
			&sh.ScaleWeight, &sh.BilledWeight, &sh.DimWeight, &sh.Pallets, &sh.ActualCharge,
			&shipDate, &sh.Carrier,
		); err != nil {
			return nil, err
		}
		if shipDate != nil {
			sh.ShipDate = *shipDate
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *Store) LoadOutcomes(ctx context.Context, runID uuid.UUID) ([]freight.RatingOutcome, error) {
	if err := s.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT shipment_id, expected_charge_per_carrier, COALESCE(best_carrier, ''), best_charge,
		       savings_vs_actual, tariff_match_status, COALESCE(tariff_match_notes, ''), flags
		FROM audit_results
		WHERE audit_run_id = $1
		ORDER BY shipment_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []freight.RatingOutcome
	for rows.Next() {
		var o freight.RatingOutcome
		var charges []byte
		var status string
		if err := rows.Scan(&o.ShipmentID, &charges, &o.BestCarrier, &o.BestCharge,
			&o.Savings, &status, &o.Notes, &o.Flags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(charges, &o.Charges); err != nil {
			return nil, fmt.Errorf("decode charges for %s: %w", o.ShipmentID, err)
		}
		o.Status = freight.MatchStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) LoadGroups(ctx context.Context, runID uuid.UUID) ([]freight.ConsolidationGroup, error) {
	if err := s.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT origin_dc, dest_city, dest_province, iso_year, iso_week, week_start, ship_date,
		       shipment_count, shipment_ids, actual_sum, individual_best_sum, consolidated_charge,
		       COALESCE(carrier, ''), incremental_savings, qualified
		FROM consolidation_groups
		WHERE audit_run_id = $1
		ORDER BY rank`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []freight.ConsolidationGroup{}
	for rows.Next() {
		var g freight.ConsolidationGroup
		if err := rows.Scan(&g.OriginDepot, &g.DestCity, &g.DestProvince, &g.ISOYear, &g.ISOWeek,
			&g.WeekStart, &g.DispatchDate, &g.ShipmentCount, &g.ShipmentIDs, &g.ActualSum,
			&g.IndividualBestSum, &g.ConsolidatedCharge, &g.Carrier, &g.IncrementalSavings,
			&g.Qualified); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) LoadLaneStats(ctx context.Context, runID uuid.UUID) ([]freight.LaneStat, error) {
	if err := s.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT origin_dc, dest_province, dest_region, dest_city, shipment_count,
		       total_spend, total_weight, total_pallets, avg_charge_per_shipment,
		       avg_cost_per_lb, avg_cost_per_pallet, theoretical_best_spend,
		       theoretical_savings, savings_pct
		FROM lane_stats
		WHERE audit_run_id = $1
		ORDER BY origin_dc, dest_province, dest_region, dest_city`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []freight.LaneStat{}
	for rows.Next() {
		var l freight.LaneStat
		if err := rows.Scan(&l.OriginDepot, &l.DestProvince, &l.DestRegion, &l.DestCity,
			&l.ShipmentCount, &l.TotalSpend, &l.TotalWeight, &l.TotalPallets,
			&l.AvgChargePerShipment, &l.AvgCostPerLb, &l.AvgCostPerPallet,
			&l.TheoreticalBestSpend, &l.TheoreticalSavings, &l.SavingsPct); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) LoadSummary(ctx context.Context, runID uuid.UUID) (freight.SummaryMetrics, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT summary_metrics FROM audit_runs WHERE id = $1`, runID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return freight.SummaryMetrics{}, freight.ErrRunNotFound
	}
	if err != nil {
		return freight.SummaryMetrics{}, err
	}
	var m freight.SummaryMetrics
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode summary: %w", err)
	}
	return m, nil
}

// CommitResults replaces the run's results in one transaction.
func (s *Store) CommitResults(ctx context.Context, c audit.Commit) error {
	summary, err := json.Marshal(c.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serializes concurrent rerates of the same run.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM audit_runs WHERE id = $1 FOR UPDATE`, c.RunID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return freight.ErrRunNotFound
	}
	if err != nil {
		return err
	}

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM audit_results WHERE audit_run_id = $1`, c.RunID)
	b.Queue(`DELETE FROM consolidation_groups WHERE audit_run_id = $1`, c.RunID)
	b.Queue(`DELETE FROM lane_stats WHERE audit_run_id = $1`, c.RunID)
	for _, o := range c.Outcomes {
		charges, err := json.Marshal(o.Charges)
		if err != nil {
			return fmt.Errorf("encode charges for %s: %w", o.ShipmentID, err)
		}
		flags := o.Flags
		if flags == nil {
			flags = []string{}
		}
		b.Queue(`
			INSERT INTO audit_results (
				shipment_id, audit_run_id, expected_charge_per_carrier, best_carrier, best_charge,
				savings_vs_actual, tariff_match_status, tariff_match_notes, flags
			) VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9)`,
			o.ShipmentID, c.RunID, string(charges), nullIfEmpty(o.BestCarrier), o.BestCharge,
			o.Savings, string(o.Status), nullIfEmpty(o.Notes), flags,
		)
	}
	for i, g := range c.Groups {
		b.Queue(`
			INSERT INTO consolidation_groups (
				audit_run_id, rank, origin_dc, dest_city, dest_province, iso_year, iso_week,
				week_start, ship_date, shipment_count, shipment_ids, actual_sum,
				individual_best_sum, consolidated_charge, carrier, incremental_savings, qualified
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			c.RunID, i, g.OriginDepot, g.DestCity, g.DestProvince, g.ISOYear, g.ISOWeek,
			g.WeekStart, g.DispatchDate, g.ShipmentCount, g.ShipmentIDs, g.ActualSum,
			g.IndividualBestSum, g.ConsolidatedCharge, nullIfEmpty(g.Carrier), g.IncrementalSavings, g.Qualified,
		)
	}
	for _, l := range c.LaneStats {
		b.Queue(`
			INSERT INTO lane_stats (
				audit_run_id, origin_dc, dest_province, dest_region, dest_city, shipment_count,
				total_spend, total_weight, total_pallets, avg_charge_per_shipment, avg_cost_per_lb,
				avg_cost_per_pallet, theoretical_best_spend, theoretical_savings, savings_pct
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			c.RunID, l.OriginDepot, l.DestProvince, l.DestRegion, l.DestCity, l.ShipmentCount,
			l.TotalSpend, l.TotalWeight, l.TotalPallets, l.AvgChargePerShipment, l.AvgCostPerLb,
			l.AvgCostPerPallet, l.TheoreticalBestSpend, l.TheoreticalSavings, l.SavingsPct,
		)
	}
	b.Queue(`UPDATE audit_runs SET status = $2, summary_metrics = $3::jsonb, completed_at = now() WHERE id = $1`,
		c.RunID, runStatusCompleted, string(summary))

	if err := execBatch(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func execBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return br.Close()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
