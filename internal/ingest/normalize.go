// Package ingest turns loosely shaped shipment exports into
// freight.Shipment records.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
)

// ErrMissingOrigin is returned when a record has no origin depot.
var ErrMissingOrigin = errors.New("missing origin depot")

// FieldError reports a field that is present but unparseable.
type FieldError struct {
	Field string
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// Candidate keys per field, tried in order. Dot paths reach into nested
// objects so exports shaped like {"ship_to": {"city": ...}} work too. Source
// system ids are only a reference; the store assigns shipment ids.
var (
	refKeys          = []string{"shipment_ref", "ref", "reference", "pro_number", "shipment_id", "id"}
	originKeys       = []string{"origin_dc", "origin_depot", "origin", "ship_from.dc", "ship_from.depot"}
	destCityKeys     = []string{"dest_city", "city", "destination.city", "ship_to.city"}
	destProvinceKeys = []string{"dest_province", "province", "destination.province", "ship_to.province", "ship_to.state"}
	destRegionKeys   = []string{"dest_region", "region", "destination.region", "ship_to.region"}
	weightKeys       = []string{"weight", "scale_weight", "weight_lbs", "package.weight"}
	billedKeys       = []string{"billed_weight", "package.billed_weight"}
	dimKeys          = []string{"dim_weight", "dimensional_weight", "package.dim_weight"}
	palletKeys       = []string{"pallets", "pallet_count", "skids", "package.pallets"}
	chargeKeys       = []string{"actual_charge", "charge", "total_charge", "invoice.total"}
	shipDateKeys     = []string{"ship_date", "shipped_at", "pickup_date"}
	carrierKeys      = []string{"carrier", "carrier_name", "carrier_code"}
)

// NormalizeShipment maps a loosely shaped shipment record into a
// freight.Shipment. Absent numeric fields stay null; they are not zero.
func NormalizeShipment(m map[string]any) (freight.Shipment, error) {
	var s freight.Shipment
	s.Ref = strings.TrimSpace(getString(m, refKeys))
	s.OriginDepot = freight.NormalizeKey(getString(m, originKeys))
	if s.OriginDepot == "" {
		return s, ErrMissingOrigin
	}
	s.DestCity = freight.NormalizeKey(getString(m, destCityKeys))
	s.DestProvince = freight.NormalizeKey(getString(m, destProvinceKeys))
	s.DestRegion = strings.TrimSpace(getString(m, destRegionKeys))
	s.Carrier = strings.TrimSpace(getString(m, carrierKeys))

	for _, f := range []struct {
		name string
		keys []string
		dst  *decimal.NullDecimal
	}{
		{"weight", weightKeys, &s.ScaleWeight},
		{"billed_weight", billedKeys, &s.BilledWeight},
		{"dim_weight", dimKeys, &s.DimWeight},
		{"pallets", palletKeys, &s.Pallets},
		{"actual_charge", chargeKeys, &s.ActualCharge},
	} {
		v := getAny(m, f.keys)
		if v == nil {
			continue
		}
		d, ok := toDecimal(v)
		if !ok {
			return s, &FieldError{Field: f.name, Value: v}
		}
		*f.dst = d
	}

	if raw := strings.TrimSpace(getString(m, shipDateKeys)); raw != "" {
		t, err := parseShipDate(raw)
		if err != nil {
			return s, &FieldError{Field: "ship_date", Value: raw}
		}
		s.ShipDate = t
	}
	return s, nil
}

// DecodeShipments reads a JSON array of shipment records, or an object
// holding one under "shipments". Record i failing to normalize is reported
// with its index.
func DecodeShipments(r io.Reader) ([]freight.Shipment, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode shipments: %w", err)
	}
	var records []any
	switch v := raw.(type) {
	case []any:
		records = v
	case map[string]any:
		list, ok := v["shipments"].([]any)
		if !ok {
			return nil, errors.New("decode shipments: object has no \"shipments\" array")
		}
		records = list
	default:
		return nil, errors.New("decode shipments: expected an array or an object")
	}
	out := make([]freight.Shipment, 0, len(records))
	for i, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("shipment %d: not an object", i)
		}
		sh, err := NormalizeShipment(m)
		if err != nil {
			return nil, fmt.Errorf("shipment %d: %w", i, err)
		}
		out = append(out, sh)
	}
	return out, nil
}

func parseShipDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), nil
}

// toDecimal accepts JSON numbers and numeric strings. An empty string is
// treated as absent.
func toDecimal(v any) (decimal.NullDecimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.NullDecimal{}, false
		}
		return decimal.NewNullDecimal(d), true
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(t)), true
	case string:
		if strings.TrimSpace(t) == "" {
			return decimal.NullDecimal{}, true
		}
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.NullDecimal{}, false
		}
		return decimal.NewNullDecimal(d), true
	default:
		return decimal.NullDecimal{}, false
	}
}

// getString returns the first non-empty string from the candidate keys.
// Supports dot-path navigation for nested maps.
func getString(m map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := getPath(m, k).(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

// getAny returns the first non-nil value from the candidate keys.
func getAny(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v := getPath(m, k); v != nil {
			return v
		}
	}
	return nil
}

// getPath navigates a dot-separated key into nested maps.
func getPath(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := mm[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}
