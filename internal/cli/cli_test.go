package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const ottawaTariffs = `
tariffs:
  - carrier: Rosedale
    origin: SCARB
    type: cwt
    lanes:
      - city: Ottawa
        province: ON
        min_charge: "45.00"
        breaks:
          - {from: 0, to: 500, rate: "8.00"}
          - {from: 500, rate: "8.00"}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestValidate_OK(t *testing.T) {
	out, err := execute(t, "validate", "--tariffs", writeFile(t, "t.yaml", ottawaTariffs))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "OK: 1 tariff(s), 1 lane(s)") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestValidate_GapInBreaks(t *testing.T) {
	bad := strings.Replace(ottawaTariffs, "{from: 500, rate", "{from: 600, rate", 1)
	if _, err := execute(t, "validate", "--tariffs", writeFile(t, "t.yaml", bad)); err == nil {
		t.Fatalf("expected validation error for a gap between breaks")
	}
}

func TestValidate_RequiresFlag(t *testing.T) {
	if _, err := execute(t, "validate"); err == nil {
		t.Fatalf("expected missing --tariffs to fail")
	}
}

func TestRate_JSON(t *testing.T) {
	tariffs := writeFile(t, "t.yaml", ottawaTariffs)
	shipments := writeFile(t, "s.json", `[
		{"shipment_ref":"A","origin_dc":"SCARB","dest_city":"Ottawa","dest_province":"ON","weight":450,"actual_charge":100,"ship_date":"2024-03-05"},
		{"shipment_ref":"B","origin_dc":"SCARB","dest_city":"Toronto","dest_province":"ON","weight":300,"actual_charge":80,"ship_date":"2024-03-05"}
	]`)
	out, err := execute(t, "rate", "--tariffs", tariffs, "--shipments", shipments, "--format", "json")
	if err != nil {
		t.Fatalf("rate: %v\n%s", err, out)
	}
	var rep struct {
		Outcomes []struct {
			BestCarrier string      `json:"best_carrier"`
			BestCharge  json.Number `json:"best_charge"`
			Savings     json.Number `json:"savings_vs_actual"`
			Status      string      `json:"tariff_match_status"`
		} `json:"outcomes"`
		Summary struct {
			MatchedCount int `json:"matched_count"`
			NoLaneCount  int `json:"no_lane_count"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if len(rep.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(rep.Outcomes))
	}
	a, b := rep.Outcomes[0], rep.Outcomes[1]
	if a.BestCarrier != "Rosedale" || a.BestCharge.String() != "68.85" || a.Savings.String() != "31.15" {
		t.Fatalf("unexpected outcome for A: %+v", a)
	}
	if b.Status != "NO_LANE" {
		t.Fatalf("expected NO_LANE for B, got %+v", b)
	}
	if rep.Summary.MatchedCount != 1 || rep.Summary.NoLaneCount != 1 {
		t.Fatalf("unexpected summary: %+v", rep.Summary)
	}
}

func TestRate_Table(t *testing.T) {
	tariffs := writeFile(t, "t.yaml", ottawaTariffs)
	shipments := writeFile(t, "s.json", `{"shipments":[
		{"shipment_ref":"A","origin_dc":"SCARB","dest_city":"Ottawa","dest_province":"ON","weight":450,"actual_charge":100}
	]}`)
	out, err := execute(t, "rate", "-t", tariffs, "-s", shipments)
	if err != nil {
		t.Fatalf("rate: %v\n%s", err, out)
	}
	for _, want := range []string{"Shipments:      1 (matched 1", "REF", "Rosedale", "68.85", "31.15", "MATCHED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestRate_UnsupportedFormat(t *testing.T) {
	tariffs := writeFile(t, "t.yaml", ottawaTariffs)
	shipments := writeFile(t, "s.json", `[]`)
	if _, err := execute(t, "rate", "-t", tariffs, "-s", shipments, "--format", "xml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
