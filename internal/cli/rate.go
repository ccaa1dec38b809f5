package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"freightaudit/internal/audit"
	"freightaudit/internal/config"
	"freightaudit/internal/freight"
	"freightaudit/internal/ingest"
	"freightaudit/internal/rate"
	"freightaudit/internal/rating"
)

// report is what `ratectl rate` prints.
type report struct {
	Outcomes  []freight.RatingOutcome      `json:"outcomes"`
	Groups    []freight.ConsolidationGroup `json:"consolidation_groups"`
	LaneStats []freight.LaneStat           `json:"lane_stats"`
	Summary   freight.SummaryMetrics       `json:"summary"`

	shipments []freight.Shipment
}

func rateCmd(root *rootOptions) *cobra.Command {
	var tariffsPath string
	var shipmentsPath string
	var format string
	var workers int

	c := &cobra.Command{
		Use:   "rate",
		Short: "Rerate a shipment export against a tariff file and print the audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("unsupported format %q (expected table|json)", format)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.RatingWorkers = workers
			}
			snap, _, err := loadTariffFile(cmd, tariffsPath)
			if err != nil {
				return err
			}
			shipments, err := readShipments(shipmentsPath)
			if err != nil {
				return err
			}

			surcharge := rate.Surcharge{Fuel: cfg.SurchargeFuel, Tax: cfg.SurchargeTax, Margin: cfg.SurchargeMargin}
			engine := rating.NewEngine(rate.NewCalculator(surcharge, cfg.DeficitWeight), cfg.RatingWorkers, root.logger())
			res, err := engine.Run(cmd.Context(), snap, shipments)
			if err != nil {
				return err
			}
			rep := report{
				Outcomes:  res.Outcomes,
				Groups:    res.Groups,
				LaneStats: audit.LaneStats(shipments, res.Outcomes),
				Summary:   audit.Summarize(shipments, res.Outcomes, res.Groups, cfg.ConsolidationTopN),
				shipments: shipments,
			}
			return printReport(cmd.OutOrStdout(), rep, format)
		},
	}

	c.Flags().StringVarP(&tariffsPath, "tariffs", "t", "", "Tariff YAML file (required)")
	c.Flags().StringVarP(&shipmentsPath, "shipments", "s", "", "Shipment JSON file, or - for stdin (required)")
	c.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	c.Flags().IntVar(&workers, "workers", 0, "Rating workers (defaults to RATING_WORKERS)")
	_ = c.MarkFlagRequired("tariffs")
	_ = c.MarkFlagRequired("shipments")
	return c
}

// readShipments decodes the export and gives every record a stable id
// derived from its position and reference.
func readShipments(path string) ([]freight.Shipment, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	shipments, err := ingest.DecodeShipments(r)
	if err != nil {
		return nil, err
	}
	for i := range shipments {
		key := fmt.Sprintf("%d|%s", i, shipments[i].Ref)
		shipments[i].ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
	}
	return shipments, nil
}

func printReport(w io.Writer, rep report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	m := rep.Summary
	fmt.Fprintf(w, "Shipments:      %d (matched %d, no lane %d, no tariff %d)\n",
		m.ShipmentCount, m.MatchedCount, m.NoLaneCount, m.NoTariffCount)
	fmt.Fprintf(w, "Spend:          %s\n", m.TotalSpend.StringFixed(2))
	fmt.Fprintf(w, "Best carrier:   %s (savings %s)\n", m.CarrierBestTotal.StringFixed(2), m.CarrierSavingsTotal.StringFixed(2))
	fmt.Fprintf(w, "Consolidation:  %s across %d group(s)\n", m.ConsolidationSavingsTotal.StringFixed(2), m.ConsolidationGroupCount)
	fmt.Fprintf(w, "Opportunity:    %s (%s%%)\n", m.TotalOpportunity.StringFixed(2), m.SavingsPct.StringFixed(2))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tORIGIN\tDEST\tACTUAL\tBEST\tCARRIER\tSAVINGS\tSTATUS\tFLAGS")
	for i, o := range rep.Outcomes {
		sh := rep.shipments[i]
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			orDash(sh.Ref), sh.OriginDepot, orDash(sh.DestCity), orDash(sh.DestProvince),
			money(sh.ActualCharge), money(o.BestCharge), orDash(o.BestCarrier), money(o.Savings),
			o.Status, orDash(strings.Join(o.Flags, ",")))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Groups) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORIGIN\tDEST\tWEEK\tSHIPMENTS\tSEPARATE\tCOMBINED\tCARRIER\tSAVINGS")
	for _, g := range rep.Groups {
		fmt.Fprintf(tw, "%s\t%s/%s\t%d-W%02d\t%d\t%s\t%s\t%s\t%s\n",
			g.OriginDepot, g.DestCity, g.DestProvince, g.ISOYear, g.ISOWeek, g.ShipmentCount,
			g.IndividualBestSum.StringFixed(2), money(g.ConsolidatedCharge), orDash(g.Carrier),
			g.IncrementalSavings.StringFixed(2))
	}
	return tw.Flush()
}

func money(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
