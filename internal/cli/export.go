package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hotel-rate-shadow/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportOpen      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the price alert log as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Open:      exportOpen,
		}

		var err error
		if opts.From, err = parseTimestamp("--from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimestamp("--to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseTimestamp accepts RFC3339 or a plain date; empty means unset.
func parseTimestamp(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid %s value %q: want RFC3339 or YYYY-MM-DD", flag, value)
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp, inclusive (defaults to 7 days before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp, exclusive (defaults to now)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum alerts to export (defaults to config)")
	exportCmd.Flags().BoolVar(&exportOpen, "open", false, "Only export unacknowledged alerts")
}
