package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"freightaudit/internal/freight"
	"freightaudit/internal/tariff"
)

func validateCmd() *cobra.Command {
	var tariffsPath string

	c := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML tariff file (coverage, ordering, skid spots)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, tariffs, err := loadTariffFile(cmd, tariffsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d tariff(s), %d lane(s)\n", len(tariffs), laneCount(tariffs))
			return nil
		},
	}

	c.Flags().StringVarP(&tariffsPath, "tariffs", "t", "", "Tariff YAML file (required)")
	_ = c.MarkFlagRequired("tariffs")
	return c
}

// loadTariffFile parses and fully validates a tariff file.
func loadTariffFile(cmd *cobra.Command, path string) (*tariff.Snapshot, []freight.Tariff, error) {
	tariffs, err := tariff.FileSource{Path: path}.LoadTariffs(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	snap, err := tariff.Build(tariffs)
	if err != nil {
		return nil, nil, err
	}
	return snap, tariffs, nil
}

func laneCount(tariffs []freight.Tariff) int {
	n := 0
	for _, t := range tariffs {
		n += len(t.Lanes)
	}
	return n
}
