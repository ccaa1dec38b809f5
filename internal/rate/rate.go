// Package rate prices a single shipment against a single tariff lane.
package rate

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
)

// ErrIneligible is wrapped by every reason a lane cannot price a shipment.
// Ineligibility is a rating outcome, not a failure.
var ErrIneligible = errors.New("ineligible")

var (
	ErrNoRatingWeight    = fmt.Errorf("%w: no rating weight", ErrIneligible)
	ErrNoBreak           = fmt.Errorf("%w: no weight break covers the weight", ErrIneligible)
	ErrWeightCapExceeded = fmt.Errorf("%w: weight exceeds spot capacity", ErrIneligible)
	ErrNoSpotRate        = fmt.Errorf("%w: no charge for spot count", ErrIneligible)
	ErrUnsupportedType   = fmt.Errorf("%w: unsupported tariff type", ErrIneligible)
)

var (
	hundred     = decimal.NewFromInt(100)
	spotCapLbs  = decimal.NewFromInt(2000)
	defaultFuel = decimal.RequireFromString("0.25")
	defaultTax  = decimal.RequireFromString("0.13")
	defaultMgn  = decimal.RequireFromString("0.15")
)

// Surcharge components applied on top of the base charge. They compose into
// a single multiplier 1 + Fuel + Tax + Margin.
type Surcharge struct {
	Fuel   decimal.Decimal
	Tax    decimal.Decimal
	Margin decimal.Decimal
}

// DefaultSurcharge is fuel 25%, tax 13%, margin 15%.
func DefaultSurcharge() Surcharge {
	return Surcharge{Fuel: defaultFuel, Tax: defaultTax, Margin: defaultMgn}
}

func (s Surcharge) Multiplier() decimal.Decimal {
	return decimal.NewFromInt(1).Add(s.Fuel).Add(s.Tax).Add(s.Margin)
}

// Calculator prices shipments. The zero value applies no surcharge and no
// deficit-weight rating.
type Calculator struct {
	Surcharge Surcharge
	// DeficitWeight caps a CWT linehaul at the charge of rating the shipment
	// at the start of any heavier break. Off unless RATING_DEFICIT_WEIGHT is
	// set; the published break rate is what carriers invoice.
	DeficitWeight bool
}

func NewCalculator(s Surcharge, deficitWeight bool) *Calculator {
	return &Calculator{Surcharge: s, DeficitWeight: deficitWeight}
}

// CWT returns the number of hundredweight units billed for w pounds.
// Non-positive weights have no CWT and return ok=false.
func CWT(w decimal.Decimal) (decimal.Decimal, bool) {
	if !w.IsPositive() {
		return decimal.Zero, false
	}
	return w.Div(hundred).Ceil(), true
}

// Spots returns the pallet positions a shipment occupies. Absent or
// fractional pallet counts round up, with a floor of one spot.
func Spots(pallets decimal.NullDecimal) int64 {
	if !pallets.Valid {
		return 1
	}
	n := pallets.Decimal.Ceil().IntPart()
	if n < 1 {
		return 1
	}
	return n
}

// Price returns the charge for moving s on lane under a tariff of type typ,
// rounded to cents. A non-nil error always wraps ErrIneligible.
func (c *Calculator) Price(s freight.Shipment, typ freight.TariffType, lane *freight.TariffLane) (decimal.Decimal, error) {
	var base decimal.Decimal
	var err error
	switch typ {
	case freight.TariffCWT:
		base, err = c.cwtBase(s, lane)
	case freight.TariffSkidSpot:
		base, err = c.spotBase(s, lane)
	default:
		return decimal.Zero, fmt.Errorf("%w %q", ErrUnsupportedType, typ)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return base.Mul(c.Surcharge.Multiplier()).RoundBank(2), nil
}

func (c *Calculator) cwtBase(s freight.Shipment, lane *freight.TariffLane) (decimal.Decimal, error) {
	w, ok := s.RatingWeight()
	if !ok {
		return decimal.Zero, ErrNoRatingWeight
	}
	units, _ := CWT(w)

	idx := -1
	for i, b := range lane.Breaks {
		if b.Contains(w) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return decimal.Zero, ErrNoBreak
	}
	linehaul := units.Mul(lane.Breaks[idx].RatePerCWT)

	if c.DeficitWeight {
		for _, b := range lane.Breaks[idx+1:] {
			atBreak, ok := CWT(b.From)
			if !ok {
				continue
			}
			if alt := atBreak.Mul(b.RatePerCWT); alt.LessThan(linehaul) {
				linehaul = alt
			}
		}
	}
	return decimal.Max(linehaul, lane.MinCharge), nil
}

func (c *Calculator) spotBase(s freight.Shipment, lane *freight.TariffLane) (decimal.Decimal, error) {
	w, ok := s.RatingWeight()
	if !ok {
		return decimal.Zero, ErrNoRatingWeight
	}
	spots := Spots(s.Pallets)
	if w.GreaterThan(spotCapLbs.Mul(decimal.NewFromInt(spots))) {
		return decimal.Zero, fmt.Errorf("%w: %s lb over %d spots", ErrWeightCapExceeded, w, spots)
	}
	charge, ok := lane.SpotCharges[int(spots)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w %d", ErrNoSpotRate, spots)
	}
	return charge, nil
}
