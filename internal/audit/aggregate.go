package audit

import (
	"sort"

	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
)

const unknownKey = "UNKNOWN"

var hundred = decimal.NewFromInt(100)

type laneKey struct {
	origin, province, region, city string
}

type laneAcc struct {
	stat    freight.LaneStat
	charges int
	best    decimal.Decimal
	savings decimal.Decimal
	matched bool
}

// LaneStats rolls outcomes up by origin and destination. outcomes must be
// indexed like shipments.
func LaneStats(shipments []freight.Shipment, outcomes []freight.RatingOutcome) []freight.LaneStat {
	accs := make(map[laneKey]*laneAcc)
	for i, s := range shipments {
		k := laneKey{
			origin:   freight.NormalizeKey(s.OriginDepot),
			province: freight.NormalizeKey(s.DestProvince),
			region:   freight.NormalizeKey(s.DestRegion),
			city:     freight.NormalizeKey(s.DestCity),
		}
		if k.origin == "" {
			k.origin = unknownKey
		}
		a, ok := accs[k]
		if !ok {
			a = &laneAcc{stat: freight.LaneStat{
				OriginDepot:  k.origin,
				DestProvince: k.province,
				DestRegion:   k.region,
				DestCity:     k.city,
			}}
			accs[k] = a
		}
		a.stat.ShipmentCount++
		if s.ActualCharge.Valid {
			a.stat.TotalSpend = a.stat.TotalSpend.Add(s.ActualCharge.Decimal)
			a.charges++
		}
		if w, ok := s.RatingWeight(); ok {
			a.stat.TotalWeight = a.stat.TotalWeight.Add(w)
		}
		if s.Pallets.Valid && s.Pallets.Decimal.IsPositive() {
			a.stat.TotalPallets = a.stat.TotalPallets.Add(s.Pallets.Decimal)
		}
		o := outcomes[i]
		if o.BestCharge.Valid {
			a.matched = true
			a.best = a.best.Add(o.BestCharge.Decimal)
			if o.Savings.Valid && o.Savings.Decimal.IsPositive() {
				a.savings = a.savings.Add(o.Savings.Decimal)
			}
		}
	}

	out := make([]freight.LaneStat, 0, len(accs))
	for _, a := range accs {
		st := a.stat
		if a.charges > 0 {
			st.AvgChargePerShipment = ratio(st.TotalSpend, decimal.NewFromInt(int64(a.charges)), 2)
		}
		st.AvgCostPerLb = ratio(st.TotalSpend, st.TotalWeight, 4)
		st.AvgCostPerPallet = ratio(st.TotalSpend, st.TotalPallets, 2)
		if a.matched {
			st.TheoreticalBestSpend = decimal.NewNullDecimal(a.best)
			st.TheoreticalSavings = decimal.NewNullDecimal(a.savings)
			st.SavingsPct = percent(a.savings, st.TotalSpend)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OriginDepot != b.OriginDepot {
			return a.OriginDepot < b.OriginDepot
		}
		if a.DestProvince != b.DestProvince {
			return a.DestProvince < b.DestProvince
		}
		if a.DestRegion != b.DestRegion {
			return a.DestRegion < b.DestRegion
		}
		return a.DestCity < b.DestCity
	})
	return out
}

// Summarize builds the run-level metrics. groups must already be sorted by
// savings; only the first topN are kept in the summary.
func Summarize(shipments []freight.Shipment, outcomes []freight.RatingOutcome, groups []freight.ConsolidationGroup, topN int) freight.SummaryMetrics {
	var m freight.SummaryMetrics
	m.ShipmentCount = len(shipments)
	origins := map[string]*freight.Breakdown{}
	regions := map[string]*freight.Breakdown{}

	for i, s := range shipments {
		spend := decimal.Zero
		if s.ActualCharge.Valid {
			spend = s.ActualCharge.Decimal
		}
		m.TotalSpend = m.TotalSpend.Add(spend)
		if w, ok := s.RatingWeight(); ok {
			m.TotalWeight = m.TotalWeight.Add(w)
		}
		if s.Pallets.Valid && s.Pallets.Decimal.IsPositive() {
			m.TotalPallets = m.TotalPallets.Add(s.Pallets.Decimal)
		}

		origin := freight.NormalizeKey(s.OriginDepot)
		if origin == "" {
			origin = unknownKey
		}
		addBreakdown(origins, origin, spend)
		region := freight.NormalizeKey(s.DestRegion)
		if region == "" {
			region = freight.NormalizeKey(s.DestProvince)
		}
		if region == "" {
			region = unknownKey
		}
		addBreakdown(regions, region, spend)

		o := outcomes[i]
		switch o.Status {
		case freight.StatusMatched:
			m.MatchedCount++
		case freight.StatusNoLane:
			m.NoLaneCount++
		case freight.StatusNoTariff:
			m.NoTariffCount++
		}
		if o.BestCharge.Valid {
			m.CarrierBestTotal = m.CarrierBestTotal.Add(o.BestCharge.Decimal)
		}
		if o.Savings.Valid && o.Savings.Decimal.IsPositive() {
			m.CarrierSavingsTotal = m.CarrierSavingsTotal.Add(o.Savings.Decimal)
		}
	}

	if m.ShipmentCount > 0 {
		m.AvgCostPerShipment = ratio(m.TotalSpend, decimal.NewFromInt(int64(m.ShipmentCount)), 2)
	}
	m.AvgCostPerLb = ratio(m.TotalSpend, m.TotalWeight, 4)

	for _, g := range groups {
		if !g.Qualified {
			continue
		}
		m.ConsolidationGroupCount++
		m.ConsolidationSavingsTotal = m.ConsolidationSavingsTotal.Add(g.IncrementalSavings)
	}
	m.TotalOpportunity = m.CarrierSavingsTotal.Add(m.ConsolidationSavingsTotal)
	if pct := percent(m.TotalOpportunity, m.TotalSpend); pct.Valid {
		m.SavingsPct = pct.Decimal
	}

	if topN < 0 {
		topN = 0
	}
	m.TopConsolidation = make([]freight.ConsolidationGroup, 0, min(topN, len(groups)))
	for _, g := range groups {
		if len(m.TopConsolidation) == topN {
			break
		}
		m.TopConsolidation = append(m.TopConsolidation, g)
	}
	m.OriginBreakdown = sortedBreakdown(origins)
	m.RegionBreakdown = sortedBreakdown(regions)
	return m
}

func addBreakdown(m map[string]*freight.Breakdown, key string, spend decimal.Decimal) {
	b, ok := m[key]
	if !ok {
		b = &freight.Breakdown{Key: key}
		m[key] = b
	}
	b.ShipmentCount++
	b.TotalSpend = b.TotalSpend.Add(spend)
}

func sortedBreakdown(m map[string]*freight.Breakdown) []freight.Breakdown {
	out := make([]freight.Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalSpend.Cmp(out[j].TotalSpend); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func ratio(num, den decimal.Decimal, places int32) decimal.NullDecimal {
	if !den.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(num.Div(den).Round(places))
}

func percent(part, whole decimal.Decimal) decimal.NullDecimal {
	if !whole.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(part.Mul(hundred).Div(whole).Round(2))
}
