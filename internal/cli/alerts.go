package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hotel-rate-shadow/internal/app"
)

var (
	alertsLimit int
	alertsOpen  bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recent price alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Alerts(cmd.Context(), app.AlertsOptions{
			Limit: alertsLimit,
			Open:  alertsOpen,
		})
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge a price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Acknowledge(cmd.Context(), args[0])
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
	alertsCmd.Flags().BoolVar(&alertsOpen, "open", false, "Only show unacknowledged alerts")
}
