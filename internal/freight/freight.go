// Package freight holds the domain types shared by the rating engine:
// shipments, carrier tariffs and the outcomes produced by a rerate.
package freight

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TariffType is the pricing model of a tariff.
type TariffType string

const (
	TariffCWT      TariffType = "CWT"
	TariffSkidSpot TariffType = "SKID_SPOT"
)

// ParseTariffType accepts the canonical names and the lower-case forms
// stored by the ingestion collaborator.
func ParseTariffType(s string) (TariffType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CWT":
		return TariffCWT, true
	case "SKID_SPOT", "SKID", "SPOT":
		return TariffSkidSpot, true
	}
	return "", false
}

// WeightBreak prices a weight range [From, To) at RatePerCWT dollars per
// hundredweight. A nil To means the break is unbounded.
type WeightBreak struct {
	From       decimal.Decimal  `json:"from" yaml:"from"`
	To         *decimal.Decimal `json:"to,omitempty" yaml:"to,omitempty"`
	RatePerCWT decimal.Decimal  `json:"rate_per_cwt" yaml:"rate_per_cwt"`
}

// Contains reports whether w falls inside the break.
func (b WeightBreak) Contains(w decimal.Decimal) bool {
	if w.LessThan(b.From) {
		return false
	}
	return b.To == nil || w.LessThan(*b.To)
}

// TariffLane is one priced destination of a tariff. A lane with an empty
// DestCity is the province-wide fallback.
type TariffLane struct {
	DestCity     string                  `json:"dest_city,omitempty"`
	DestProvince string                  `json:"dest_province"`
	MinCharge    decimal.Decimal         `json:"min_charge"`
	Breaks       []WeightBreak           `json:"breaks,omitempty"`
	SpotCharges  map[int]decimal.Decimal `json:"spot_charges,omitempty"`
}

// Tariff is a carrier rate sheet for one origin depot.
type Tariff struct {
	ID            uuid.UUID    `json:"id"`
	Carrier       string       `json:"carrier"`
	OriginDepot   string       `json:"origin_depot"`
	Type          TariffType   `json:"type"`
	EffectiveFrom *time.Time   `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time   `json:"effective_to,omitempty"`
	Lanes         []TariffLane `json:"lanes"`
}

// EffectiveOn reports whether the tariff applies on day. Missing bounds, or
// a zero day, never exclude the tariff.
func (t Tariff) EffectiveOn(day time.Time) bool {
	if day.IsZero() {
		return true
	}
	if t.EffectiveFrom != nil && day.Before(truncateDay(*t.EffectiveFrom)) {
		return false
	}
	if t.EffectiveTo != nil && day.After(truncateDay(*t.EffectiveTo)) {
		return false
	}
	return true
}

// Shipment is a normalized shipment record. Numeric fields are nullable:
// an absent value is not the same thing as zero.
type Shipment struct {
	ID           uuid.UUID           `json:"id"`
	Ref          string              `json:"ref,omitempty"`
	OriginDepot  string              `json:"origin_depot"`
	DestCity     string              `json:"dest_city,omitempty"`
	DestProvince string              `json:"dest_province,omitempty"`
	DestRegion   string              `json:"dest_region,omitempty"`
	ScaleWeight  decimal.NullDecimal `json:"scale_weight"`
	BilledWeight decimal.NullDecimal `json:"billed_weight"`
	DimWeight    decimal.NullDecimal `json:"dim_weight"`
	Pallets      decimal.NullDecimal `json:"pallets"`
	ActualCharge decimal.NullDecimal `json:"actual_charge"`
	ShipDate     time.Time           `json:"ship_date,omitempty"`
	Carrier      string              `json:"carrier,omitempty"`
}

// RatingWeight is max(scale weight, billed weight) over the values that are
// present and positive. ok is false when neither is usable.
func (s Shipment) RatingWeight() (w decimal.Decimal, ok bool) {
	for _, c := range []decimal.NullDecimal{s.ScaleWeight, s.BilledWeight} {
		if !c.Valid || !c.Decimal.IsPositive() {
			continue
		}
		if !ok || c.Decimal.GreaterThan(w) {
			w, ok = c.Decimal, true
		}
	}
	return w, ok
}

// MatchStatus is the per-shipment outcome of tariff lookup.
type MatchStatus string

const (
	StatusMatched  MatchStatus = "MATCHED"
	StatusNoLane   MatchStatus = "NO_LANE"
	StatusNoTariff MatchStatus = "NO_TARIFF"
)

// RatingOutcome is the result of rating one shipment.
type RatingOutcome struct {
	ShipmentID  uuid.UUID           `json:"shipment_id"`
	Charges     CarrierCharges      `json:"expected_charge_per_carrier"`
	BestCarrier string              `json:"best_carrier,omitempty"`
	BestCharge  decimal.NullDecimal `json:"best_charge"`
	Savings     decimal.NullDecimal `json:"savings_vs_actual"`
	Status      MatchStatus         `json:"tariff_match_status"`
	Notes       string              `json:"tariff_match_notes,omitempty"`
	Flags       []string            `json:"flags,omitempty"`
}

// ConsolidationGroup describes shipments that could have moved together in
// the same weekly window.
type ConsolidationGroup struct {
	OriginDepot        string              `json:"origin_dc"`
	DestCity           string              `json:"dest_city"`
	DestProvince       string              `json:"dest_province"`
	ISOYear            int                 `json:"iso_year"`
	ISOWeek            int                 `json:"iso_week"`
	WeekStart          time.Time           `json:"week_start"`
	DispatchDate       time.Time           `json:"ship_date"`
	ShipmentCount      int                 `json:"shipment_count"`
	ShipmentIDs        []uuid.UUID         `json:"shipment_ids"`
	ActualSum          decimal.Decimal     `json:"actual_sum"`
	IndividualBestSum  decimal.Decimal     `json:"individual_best_sum"`
	ConsolidatedCharge decimal.NullDecimal `json:"consolidated_charge"`
	Carrier            string              `json:"carrier,omitempty"`
	IncrementalSavings decimal.Decimal     `json:"incremental_savings"`
	Qualified          bool                `json:"qualified"`
}

// LaneStat aggregates one origin/destination lane of an audit run.
type LaneStat struct {
	OriginDepot          string              `json:"origin_dc"`
	DestProvince         string              `json:"dest_province"`
	DestRegion           string              `json:"dest_region"`
	DestCity             string              `json:"dest_city"`
	ShipmentCount        int                 `json:"shipment_count"`
	TotalSpend           decimal.Decimal     `json:"total_spend"`
	TotalWeight          decimal.Decimal     `json:"total_weight"`
	TotalPallets         decimal.Decimal     `json:"total_pallets"`
	AvgChargePerShipment decimal.NullDecimal `json:"avg_charge_per_shipment"`
	AvgCostPerLb         decimal.NullDecimal `json:"avg_cost_per_lb"`
	AvgCostPerPallet     decimal.NullDecimal `json:"avg_cost_per_pallet"`
	TheoreticalBestSpend decimal.NullDecimal `json:"theoretical_best_spend"`
	TheoreticalSavings   decimal.NullDecimal `json:"theoretical_savings"`
	SavingsPct           decimal.NullDecimal `json:"savings_pct"`
}

// Breakdown is a spend rollup by a single dimension (origin or region).
type Breakdown struct {
	Key           string          `json:"key"`
	ShipmentCount int             `json:"shipment_count"`
	TotalSpend    decimal.Decimal `json:"total_spend"`
}

// SummaryMetrics is the run-level rollup handed to reporting.
type SummaryMetrics struct {
	ShipmentCount             int                  `json:"shipment_count"`
	MatchedCount              int                  `json:"matched_count"`
	NoLaneCount               int                  `json:"no_lane_count"`
	NoTariffCount             int                  `json:"no_tariff_count"`
	TotalSpend                decimal.Decimal      `json:"total_spend"`
	TotalWeight               decimal.Decimal      `json:"total_weight"`
	TotalPallets              decimal.Decimal      `json:"total_pallets"`
	AvgCostPerShipment        decimal.NullDecimal  `json:"avg_cost_per_shipment"`
	AvgCostPerLb              decimal.NullDecimal  `json:"avg_cost_per_lb"`
	CarrierBestTotal          decimal.Decimal      `json:"carrier_best_total"`
	CarrierSavingsTotal       decimal.Decimal      `json:"carrier_savings_total"`
	ConsolidationSavingsTotal decimal.Decimal      `json:"consolidation_savings_total"`
	ConsolidationGroupCount   int                  `json:"consolidation_group_count"`
	TotalOpportunity          decimal.Decimal      `json:"total_opportunity"`
	SavingsPct                decimal.Decimal      `json:"savings_pct"`
	TopConsolidation          []ConsolidationGroup `json:"consolidation_groups"`
	OriginBreakdown           []Breakdown          `json:"origin_dc_breakdown"`
	RegionBreakdown           []Breakdown          `json:"region_breakdown"`
}

// NormalizeKey upper-cases and trims a location key for matching.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
