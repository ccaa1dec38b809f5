package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNormalizeShipment_NestedAndAliases(t *testing.T) {
	sh, err := NormalizeShipment(map[string]any{
		"shipment_id":  uuid.NewString(),
		"reference":    "PRO-9",
		"ship_from":    map[string]any{"dc": " scarb "},
		"ship_to":      map[string]any{"city": "ottawa", "state": "on"},
		"region":       "East",
		"package":      map[string]any{"weight": 450.5, "billed_weight": "500", "dim_weight": "600"},
		"skids":        "1.5",
		"charge":       "",
		"shipped_at":   "2024-03-05T17:30:00-05:00",
		"carrier_name": "Acme",
	})
	if err != nil {
		t.Fatalf("NormalizeShipment: %v", err)
	}
	if sh.ID != uuid.Nil || sh.Ref != "PRO-9" || sh.OriginDepot != "SCARB" {
		t.Fatalf("identity fields: %+v", sh)
	}
	if sh.DestCity != "OTTAWA" || sh.DestProvince != "ON" || sh.DestRegion != "East" || sh.Carrier != "Acme" {
		t.Fatalf("destination fields: %+v", sh)
	}
	if sh.ScaleWeight.Decimal.String() != "450.5" || sh.BilledWeight.Decimal.String() != "500" || sh.DimWeight.Decimal.String() != "600" {
		t.Fatalf("weights: %+v", sh)
	}
	if sh.Pallets.Decimal.String() != "1.5" {
		t.Fatalf("pallets: %+v", sh.Pallets)
	}
	if sh.ActualCharge.Valid {
		t.Fatalf("empty charge must stay null")
	}
	if sh.ShipDate.Format("2006-01-02") != "2024-03-05" {
		t.Fatalf("ship date: %s", sh.ShipDate)
	}
}

func TestNormalizeShipment_SourceIDIsReference(t *testing.T) {
	for name, tc := range map[string]struct {
		rec  map[string]any
		want string
	}{
		"pro number":   {map[string]any{"origin_dc": "SCARB", "shipment_id": "PRO-448812"}, "PRO-448812"},
		"numeric id":   {map[string]any{"origin_dc": "SCARB", "id": json.Number("448812")}, "448812"},
		"ref wins":     {map[string]any{"origin_dc": "SCARB", "id": "x", "shipment_ref": "A1"}, "A1"},
		"uuid id kept": {map[string]any{"origin_dc": "SCARB", "id": "6f1c2a8e-5b7d-4c1e-9a3f-2d4b6c8e0f12"}, "6f1c2a8e-5b7d-4c1e-9a3f-2d4b6c8e0f12"},
	} {
		sh, err := NormalizeShipment(tc.rec)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if sh.Ref != tc.want || sh.ID != uuid.Nil {
			t.Fatalf("%s: got ref %q id %s", name, sh.Ref, sh.ID)
		}
	}
}

func TestNormalizeShipment_Errors(t *testing.T) {
	if _, err := NormalizeShipment(map[string]any{"dest_city": "OTTAWA"}); !errors.Is(err, ErrMissingOrigin) {
		t.Fatalf("expected ErrMissingOrigin, got %v", err)
	}
	for name, rec := range map[string]map[string]any{
		"weight":    {"origin_dc": "SCARB", "weight": true},
		"pallets":   {"origin_dc": "SCARB", "pallets": "two"},
		"ship_date": {"origin_dc": "SCARB", "ship_date": "05/03/2024"},
	} {
		_, err := NormalizeShipment(rec)
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != name {
			t.Fatalf("%s: expected FieldError, got %v", name, err)
		}
	}
}

func TestDecodeShipments(t *testing.T) {
	for name, body := range map[string]string{
		"array":   `[{"origin_dc":"SCARB","weight":100},{"origin_dc":"SCARB","pallets":"2"}]`,
		"wrapped": `{"shipments":[{"origin_dc":"SCARB","weight":100},{"origin_dc":"SCARB","pallets":"2"}]}`,
	} {
		got, err := DecodeShipments(strings.NewReader(body))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) != 2 || got[0].ScaleWeight.Decimal.String() != "100" || got[1].Pallets.Decimal.String() != "2" {
			t.Fatalf("%s: unexpected shipments %+v", name, got)
		}
	}

	for name, body := range map[string]string{
		"scalar":     `42`,
		"no list":    `{"rows":[]}`,
		"bad record": `[{"origin_dc":"SCARB"},{"weight":5}]`,
		"truncated":  `[{"origin_dc":`,
	} {
		if _, err := DecodeShipments(strings.NewReader(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
