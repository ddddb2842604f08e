package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hotel-rate-shadow/internal/app"
)

var (
	evaluateDestination string
	evaluateCheckIn     string
	evaluateNights      int
	evaluateSafeOnly    bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Price every supplier rate for a destination and stay",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evaluateDestination == "" {
			return errors.New("--destination is required")
		}
		if evaluateNights <= 0 {
			return fmt.Errorf("--nights must be greater than zero")
		}
		checkIn, err := time.Parse(time.DateOnly, evaluateCheckIn)
		if err != nil {
			return fmt.Errorf("invalid --check-in value: %w", err)
		}

		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{
			Destination: evaluateDestination,
			CheckIn:     checkIn,
			CheckOut:    checkIn.AddDate(0, 0, evaluateNights),
			SafeOnly:    evaluateSafeOnly,
		})
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateDestination, "destination", "", "Destination code")
	evaluateCmd.Flags().StringVar(&evaluateCheckIn, "check-in", time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly), "Check-in date (YYYY-MM-DD)")
	evaluateCmd.Flags().IntVar(&evaluateNights, "nights", 1, "Length of stay")
	evaluateCmd.Flags().BoolVar(&evaluateSafeOnly, "safe-only", false, "Only print offers that may be shown")
}
