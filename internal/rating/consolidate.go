package rating

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
	"freightaudit/internal/tariff"
)

type groupKey struct {
	origin, city, province string
	year, week             int
}

// Consolidate groups shipments that share an origin, destination and
// Monday-to-Thursday window, then prices each multi-shipment group as one
// combined shipment dispatched on the Thursday. outcomes must be indexed like
// shipments.
func (sel Selector) Consolidate(snap *tariff.Snapshot, shipments []freight.Shipment, outcomes []freight.RatingOutcome) []freight.ConsolidationGroup {
	members := make(map[groupKey][]int)
	var order []groupKey
	for i, s := range shipments {
		k, ok := bucket(s)
		if !ok {
			continue
		}
		if _, seen := members[k]; !seen {
			order = append(order, k)
		}
		members[k] = append(members[k], i)
	}

	var groups []freight.ConsolidationGroup
	for _, k := range order {
		idx := members[k]
		if len(idx) < 2 {
			continue
		}
		groups = append(groups, sel.priceGroup(snap, k, idx, shipments, outcomes))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if c := a.IncrementalSavings.Cmp(b.IncrementalSavings); c != 0 {
			return c > 0
		}
		if a.OriginDepot != b.OriginDepot {
			return a.OriginDepot < b.OriginDepot
		}
		if a.DestProvince != b.DestProvince {
			return a.DestProvince < b.DestProvince
		}
		if a.DestCity != b.DestCity {
			return a.DestCity < b.DestCity
		}
		return a.WeekStart.Before(b.WeekStart)
	})
	return groups
}

func (sel Selector) priceGroup(snap *tariff.Snapshot, k groupKey, idx []int, shipments []freight.Shipment, outcomes []freight.RatingOutcome) freight.ConsolidationGroup {
	first := shipments[idx[0]]
	start := weekStart(first.ShipDate)
	g := freight.ConsolidationGroup{
		OriginDepot:   k.origin,
		DestCity:      k.city,
		DestProvince:  k.province,
		ISOYear:       k.year,
		ISOWeek:       k.week,
		WeekStart:     start,
		DispatchDate:  start.AddDate(0, 0, 3),
		ShipmentCount: len(idx),
		ShipmentIDs:   make([]uuid.UUID, 0, len(idx)),
	}

	combined := freight.Shipment{
		OriginDepot:  first.OriginDepot,
		DestCity:     first.DestCity,
		DestProvince: first.DestProvince,
		DestRegion:   first.DestRegion,
		ShipDate:     g.DispatchDate,
	}
	for _, i := range idx {
		s, o := shipments[i], outcomes[i]
		g.ShipmentIDs = append(g.ShipmentIDs, s.ID)
		if s.ActualCharge.Valid {
			g.ActualSum = g.ActualSum.Add(s.ActualCharge.Decimal)
		}
		switch {
		case o.BestCharge.Valid:
			g.IndividualBestSum = g.IndividualBestSum.Add(o.BestCharge.Decimal)
		case s.ActualCharge.Valid:
			g.IndividualBestSum = g.IndividualBestSum.Add(s.ActualCharge.Decimal)
		}
		combined.ScaleWeight = addNull(combined.ScaleWeight, s.ScaleWeight)
		combined.BilledWeight = addNull(combined.BilledWeight, s.BilledWeight)
		combined.DimWeight = addNull(combined.DimWeight, s.DimWeight)
		combined.Pallets = addNull(combined.Pallets, s.Pallets)
	}

	res := sel.Select(snap, combined)
	if res.Status != freight.StatusMatched {
		return g
	}
	g.ConsolidatedCharge = res.BestCharge
	g.Carrier = res.BestCarrier
	g.IncrementalSavings = g.IndividualBestSum.Sub(res.BestCharge.Decimal)
	g.Qualified = g.IncrementalSavings.IsPositive()
	return g
}

// bucket returns the consolidation key for s. Shipments without a ship
// date or province, or shipping Friday to Sunday, are not consolidated.
func bucket(s freight.Shipment) (groupKey, bool) {
	if s.ShipDate.IsZero() || freight.NormalizeKey(s.DestProvince) == "" {
		return groupKey{}, false
	}
	switch s.ShipDate.Weekday() {
	case time.Friday, time.Saturday, time.Sunday:
		return groupKey{}, false
	}
	y, w := s.ShipDate.ISOWeek()
	return groupKey{
		origin:   freight.NormalizeKey(s.OriginDepot),
		city:     freight.NormalizeKey(s.DestCity),
		province: freight.NormalizeKey(s.DestProvince),
		year:     y,
		week:     w,
	}, true
}

// weekStart is the Monday of t's ISO week, at midnight.
func weekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
}

func addNull(acc, v decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return acc
	}
	if !acc.Valid {
		return v
	}
	return decimal.NewNullDecimal(acc.Decimal.Add(v.Decimal))
}
