package cli

import (
	"github.com/spf13/cobra"

	"hotel-rate-shadow/internal/app"
)

var (
	sweepDestinations []string
	sweepEvict        bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Collect reference prices for every planned window once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sweep(cmd.Context(), app.SweepOptions{
			Destinations: sweepDestinations,
			Evict:        sweepEvict,
		})
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Delete expired reference observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evict(cmd.Context())
	},
}

func init() {
	sweepCmd.Flags().StringSliceVar(&sweepDestinations, "destination", nil, "Destination to sweep (repeatable, defaults to config)")
	sweepCmd.Flags().BoolVar(&sweepEvict, "evict", true, "Evict expired observations after the sweep")
}
