package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hotel-rate-shadow/internal/app"
)

var (
	simulateNet       int64
	simulateReference int64
	simulateName      string
	simulateCurrency  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次定价并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateNet <= 0 || simulateReference <= 0 {
			return errors.New("--net 与 --reference 必须大于 0")
		}

		decision, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			PropertyName:   simulateName,
			NetRate:        simulateNet,
			ReferencePrice: simulateReference,
			Currency:       simulateCurrency,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reason=%s safe=%t final=%d margin_pct=%s level=%s\n",
			decision.Reason, decision.Safe, decision.FinalPrice, decision.MarginPercent.StringFixed(2), decision.MarginLevel)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateNet, "net", 0, "供应商净价")
	simulateCmd.Flags().Int64Var(&simulateReference, "reference", 0, "市场参考最低价")
	simulateCmd.Flags().StringVar(&simulateName, "property", "Simulated Hotel", "Property name")
	simulateCmd.Flags().StringVar(&simulateCurrency, "currency", "KRW", "Currency code")
}
