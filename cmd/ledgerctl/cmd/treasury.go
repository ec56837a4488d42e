package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var (
	withdrawAmount      string
	withdrawDestination string
)

var treasuryCmd = &cobra.Command{
	Use:   "treasury",
	Short: "Show the custody balance of the payment currency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/treasury", nil)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Pay an amount out of custody",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPost, "/treasury/withdraw", map[string]any{
			"amount":      withdrawAmount,
			"destination": withdrawDestination,
		})
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show metadata base and payment currency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/settings", nil)
	},
}

var setMetadataBaseCmd = &cobra.Command{
	Use:   "set-metadata-base <location>",
	Short: "Replace the base metadata location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPut, "/settings/metadata-base", map[string]any{"location": args[0]})
	},
}

var setPaymentCurrencyCmd = &cobra.Command{
	Use:   "set-payment-currency <address-or-script-hash>",
	Short: "Replace the payment currency reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPut, "/settings/payment-currency", map[string]any{"reference": args[0]})
	},
}

func init() {
	settingsCmd.AddCommand(setMetadataBaseCmd, setPaymentCurrencyCmd)
	rootCmd.AddCommand(treasuryCmd, withdrawCmd, settingsCmd)

	withdrawCmd.Flags().StringVar(&withdrawAmount, "amount", "", "amount in currency units")
	withdrawCmd.Flags().StringVar(&withdrawDestination, "destination", "", "account receiving the payout")
	_ = withdrawCmd.MarkFlagRequired("amount")
	_ = withdrawCmd.MarkFlagRequired("destination")
}
