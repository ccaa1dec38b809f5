package tariff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
)

// Validate checks that a tariff can be rated against. Each destination
// (city+province, or province alone) appears at most once. CWT lanes must
// carry weight breaks that cover [0, ∞) with no gap and no overlap; breaks
// are expected in ascending From order.
func Validate(t freight.Tariff) error {
	fail := func(lane, format string, args ...any) error {
		return &freight.ValidationError{
			Carrier: t.Carrier,
			Origin:  t.OriginDepot,
			Lane:    lane,
			Reason:  fmt.Sprintf(format, args...),
		}
	}
	if strings.TrimSpace(t.Carrier) == "" {
		return fail("", "carrier name is empty")
	}
	if strings.TrimSpace(t.OriginDepot) == "" {
		return fail("", "origin depot is empty")
	}
	if t.EffectiveFrom != nil && t.EffectiveTo != nil && t.EffectiveTo.Before(*t.EffectiveFrom) {
		return fail("", "effective_to %s is before effective_from %s",
			t.EffectiveTo.Format("2006-01-02"), t.EffectiveFrom.Format("2006-01-02"))
	}

	seen := make(map[string]struct{}, len(t.Lanes))
	for _, l := range t.Lanes {
		name := laneName(l)
		if freight.NormalizeKey(l.DestProvince) == "" {
			return fail(name, "destination province is empty")
		}
		if _, dup := seen[name]; dup {
			return fail(name, "duplicate lane")
		}
		seen[name] = struct{}{}
		if l.MinCharge.IsNegative() {
			return fail(name, "negative minimum charge %s", l.MinCharge)
		}
		switch t.Type {
		case freight.TariffCWT:
			if err := checkBreaks(l.Breaks); err != "" {
				return fail(name, "%s", err)
			}
		case freight.TariffSkidSpot:
			for spots, charge := range l.SpotCharges {
				if spots < 1 {
					return fail(name, "spot count %d is below 1", spots)
				}
				if charge.IsNegative() {
					return fail(name, "negative charge %s for %d spots", charge, spots)
				}
			}
		default:
			return fail(name, "unknown tariff type %q", t.Type)
		}
	}
	return nil
}

func checkBreaks(breaks []freight.WeightBreak) string {
	if len(breaks) == 0 {
		return "no weight breaks"
	}
	if !breaks[0].From.IsZero() {
		return fmt.Sprintf("first break starts at %s, not 0", breaks[0].From)
	}
	for i, b := range breaks {
		if b.RatePerCWT.IsNegative() {
			return fmt.Sprintf("negative rate %s in break %d", b.RatePerCWT, i)
		}
		if b.To == nil {
			if i != len(breaks)-1 {
				return fmt.Sprintf("unbounded break %d is not the last break", i)
			}
			continue
		}
		if !b.To.GreaterThan(b.From) {
			return fmt.Sprintf("break %d ends at %s, not after its start %s", i, b.To, b.From)
		}
		if i == len(breaks)-1 {
			return fmt.Sprintf("breaks stop at %s instead of covering every heavier weight", b.To)
		}
		next := breaks[i+1].From
		switch {
		case next.GreaterThan(*b.To):
			return fmt.Sprintf("gap between %s and %s", b.To, next)
		case next.LessThan(*b.To):
			return fmt.Sprintf("overlap between %s and %s", next, b.To)
		}
	}
	return ""
}

// clone deep-copies a tariff so the snapshot never shares memory with its
// source, and puts weight breaks in ascending order.
func clone(t freight.Tariff) freight.Tariff {
	out := t
	out.Lanes = make([]freight.TariffLane, len(t.Lanes))
	for i, l := range t.Lanes {
		nl := l
		nl.Breaks = make([]freight.WeightBreak, len(l.Breaks))
		for j, b := range l.Breaks {
			nb := b
			if b.To != nil {
				to := *b.To
				nb.To = &to
			}
			nl.Breaks[j] = nb
		}
		sort.SliceStable(nl.Breaks, func(a, b int) bool {
			return nl.Breaks[a].From.LessThan(nl.Breaks[b].From)
		})
		if l.SpotCharges != nil {
			nl.SpotCharges = make(map[int]decimal.Decimal, len(l.SpotCharges))
			for k, v := range l.SpotCharges {
				nl.SpotCharges[k] = v
			}
		}
		out.Lanes[i] = nl
	}
	return out
}

func laneName(l freight.TariffLane) string {
	if freight.NormalizeKey(l.DestCity) == "" {
		return freight.NormalizeKey(l.DestProvince)
	}
	return freight.NormalizeKey(l.DestCity) + "/" + freight.NormalizeKey(l.DestProvince)
}
