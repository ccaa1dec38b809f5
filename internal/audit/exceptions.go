package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
	"freightaudit/internal/rating"
)

// Exception filters accepted by Exceptions besides flag names.
const (
	ExceptionsAll       = "all"
	ExceptionsNoLane    = "no_lane"
	ExceptionsNoTariff  = "no_tariff"
	ExceptionsUnmatched = "unmatched"
	ExceptionsOutliers  = "outliers"
)

const outlierLimit = 50

var knownFlags = []string{
	rating.FlagZeroCharge,
	rating.FlagNegativeCharge,
	rating.FlagZeroWeight,
	rating.FlagZeroPallets,
	rating.FlagDimHeavy,
	rating.FlagMissingWeight,
}

// Exception is one shipment surfaced for review.
type Exception struct {
	ShipmentID     uuid.UUID           `json:"shipment_id"`
	ShipmentRef    string              `json:"shipment_ref,omitempty"`
	OriginDepot    string              `json:"origin_dc"`
	DestCity       string              `json:"dest_city,omitempty"`
	DestProvince   string              `json:"dest_province,omitempty"`
	Weight         decimal.NullDecimal `json:"weight"`
	Pallets        decimal.NullDecimal `json:"pallets"`
	ActualCharge   decimal.NullDecimal `json:"actual_charge"`
	CostPerLb      decimal.NullDecimal `json:"cost_per_lb"`
	Flags          []string            `json:"flags"`
	Status         freight.MatchStatus `json:"tariff_match_status"`
	Notes          string              `json:"tariff_match_notes,omitempty"`
	ExpectedCharge decimal.NullDecimal `json:"expected_charge"`
	BestCarrier    string              `json:"best_carrier,omitempty"`
}

// UnknownExceptionError is returned for a filter that is neither a
// category nor a flag name.
type UnknownExceptionError string

func (e UnknownExceptionError) Error() string {
	return fmt.Sprintf("unknown exception type %q", string(e))
}

// FilterExceptions selects the shipments matching kind. Flag names match
// case-insensitively and with or without underscores. "all" returns every
// shipment that carries a flag or did not match a tariff; "outliers" returns
// the most expensive shipments per pound.
func FilterExceptions(shipments []freight.Shipment, outcomes []freight.RatingOutcome, kind string) ([]Exception, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = ExceptionsAll
	}
	match, err := matcher(kind)
	if err != nil {
		return nil, err
	}

	out := []Exception{}
	for i, s := range shipments {
		o := outcomes[i]
		if !match(o) {
			continue
		}
		out = append(out, newException(s, o))
	}
	if kind == ExceptionsOutliers {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CostPerLb.Decimal.GreaterThan(out[j].CostPerLb.Decimal)
		})
		if len(out) > outlierLimit {
			out = out[:outlierLimit]
		}
	}
	return out, nil
}

func matcher(kind string) (func(freight.RatingOutcome) bool, error) {
	switch kind {
	case ExceptionsAll:
		return func(o freight.RatingOutcome) bool {
			return len(o.Flags) > 0 || o.Status != freight.StatusMatched
		}, nil
	case ExceptionsNoLane:
		return func(o freight.RatingOutcome) bool { return o.Status == freight.StatusNoLane }, nil
	case ExceptionsNoTariff:
		return func(o freight.RatingOutcome) bool { return o.Status == freight.StatusNoTariff }, nil
	case ExceptionsUnmatched:
		return func(o freight.RatingOutcome) bool { return o.Status != freight.StatusMatched }, nil
	case ExceptionsOutliers:
		return func(freight.RatingOutcome) bool { return true }, nil
	}
	want := compactFlag(kind)
	for _, f := range knownFlags {
		if compactFlag(f) == want {
			return func(o freight.RatingOutcome) bool {
				for _, got := range o.Flags {
					if got == f {
						return true
					}
				}
				return false
			}, nil
		}
	}
	return nil, UnknownExceptionError(kind)
}

func compactFlag(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "")
}

func newException(s freight.Shipment, o freight.RatingOutcome) Exception {
	e := Exception{
		ShipmentID:     s.ID,
		ShipmentRef:    s.Ref,
		OriginDepot:    s.OriginDepot,
		DestCity:       s.DestCity,
		DestProvince:   s.DestProvince,
		Pallets:        s.Pallets,
		ActualCharge:   s.ActualCharge,
		Flags:          o.Flags,
		Status:         o.Status,
		Notes:          o.Notes,
		ExpectedCharge: o.BestCharge,
		BestCarrier:    o.BestCarrier,
	}
	if e.Flags == nil {
		e.Flags = []string{}
	}
	if w, ok := s.RatingWeight(); ok {
		e.Weight = decimal.NewNullDecimal(w)
		if s.ActualCharge.Valid {
			e.CostPerLb = ratio(s.ActualCharge.Decimal, w, 4)
		}
	}
	return e
}
