package rating

import (
	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
)

// Data-quality flags attached to a rating outcome.
const (
	FlagZeroCharge     = "ZERO_CHARGE"
	FlagNegativeCharge = "NEGATIVE_CHARGE"
	FlagZeroWeight     = "ZERO_WEIGHT"
	FlagZeroPallets    = "ZERO_PALLETS"
	FlagDimHeavy       = "DIM_HEAVY"
	FlagMissingWeight  = "MISSING_WEIGHT"
)

var dimTolerance = decimal.RequireFromString("1.1")

// Flags reports data-quality problems on a shipment. Weight and pallet
// flags only apply to shipments that were actually billed.
func Flags(s freight.Shipment) []string {
	var flags []string
	charge := s.ActualCharge
	switch {
	case !charge.Valid || charge.Decimal.IsZero():
		flags = append(flags, FlagZeroCharge)
	case charge.Decimal.IsNegative():
		flags = append(flags, FlagNegativeCharge)
	}
	if charge.Valid && charge.Decimal.IsPositive() {
		if !s.ScaleWeight.Valid || !s.ScaleWeight.Decimal.IsPositive() {
			flags = append(flags, FlagZeroWeight)
		}
		if !s.Pallets.Valid || !s.Pallets.Decimal.IsPositive() {
			flags = append(flags, FlagZeroPallets)
		}
	}
	if s.DimWeight.Valid && s.ScaleWeight.Valid && s.ScaleWeight.Decimal.IsPositive() &&
		s.DimWeight.Decimal.GreaterThan(s.ScaleWeight.Decimal.Mul(dimTolerance)) {
		flags = append(flags, FlagDimHeavy)
	}
	if _, ok := s.RatingWeight(); !ok {
		flags = append(flags, FlagMissingWeight)
	}
	return flags
}
