// Package rating runs the rate calculator across every applicable tariff for
// a batch of shipments, then looks for weekly consolidation opportunities.
package rating

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
	"freightaudit/internal/rate"
	"freightaudit/internal/tariff"
)

// Pricer prices one shipment against one lane. *rate.Calculator implements
// it.
type Pricer interface {
	Price(s freight.Shipment, typ freight.TariffType, lane *freight.TariffLane) (decimal.Decimal, error)
}

// Selector finds the cheapest eligible carrier for a shipment.
type Selector struct {
	Pricer Pricer
}

// Selection is the carrier choice for one shipment.
type Selection struct {
	Charges     freight.CarrierCharges
	BestCarrier string
	BestCharge  decimal.NullDecimal
	Status      freight.MatchStatus
	Notes       string
}

// Select prices s against every tariff at its origin that is effective on
// its ship date.
func (sel Selector) Select(snap *tariff.Snapshot, s freight.Shipment) Selection {
	var out Selection
	lanes := 0
	var reasons []string
	for _, e := range snap.ForOrigin(s.OriginDepot) {
		if !e.Tariff.EffectiveOn(s.ShipDate) {
			continue
		}
		lane, ok := e.Lane(s.DestCity, s.DestProvince)
		if !ok {
			continue
		}
		lanes++
		charge, err := sel.Pricer.Price(s, e.Tariff.Type, lane)
		if err != nil {
			// Any pricing error is ineligibility for this tariff only.
			reasons = append(reasons, e.Tariff.Carrier+": "+strings.TrimPrefix(err.Error(), rate.ErrIneligible.Error()+": "))
			continue
		}
		out.Charges.Set(e.Tariff.Carrier, charge)
	}

	switch best, ok := out.Charges.Best(); {
	case ok:
		out.Status = freight.StatusMatched
		out.BestCarrier = best.Carrier
		out.BestCharge = decimal.NewNullDecimal(best.Charge)
	case lanes == 0:
		out.Status = freight.StatusNoLane
		out.Notes = fmt.Sprintf("no lane for %s at %s", destLabel(s), freight.NormalizeKey(s.OriginDepot))
	default:
		out.Status = freight.StatusNoTariff
		out.Notes = strings.Join(reasons, "; ")
	}
	return out
}

// Outcome turns a selection into the stored per-shipment result.
func Outcome(s freight.Shipment, sel Selection) freight.RatingOutcome {
	o := freight.RatingOutcome{
		ShipmentID:  s.ID,
		Charges:     sel.Charges,
		BestCarrier: sel.BestCarrier,
		BestCharge:  sel.BestCharge,
		Status:      sel.Status,
		Notes:       sel.Notes,
	}
	if o.Charges == nil {
		o.Charges = freight.CarrierCharges{}
	}
	if sel.BestCharge.Valid && s.ActualCharge.Valid {
		o.Savings = decimal.NewNullDecimal(s.ActualCharge.Decimal.Sub(sel.BestCharge.Decimal))
	}
	return o
}

func destLabel(s freight.Shipment) string {
	prov := freight.NormalizeKey(s.DestProvince)
	if prov == "" {
		prov = "?"
	}
	if city := freight.NormalizeKey(s.DestCity); city != "" {
		return city + "/" + prov
	}
	return prov
}
