package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var (
	mintQuantity      uint64
	mintPayment       string
	ownerMintQuantity uint64
	ownerMintTo       string
)

var mintCmd = &cobra.Command{
	Use:   "mint <id>",
	Short: "Public mint: pay exactly price x quantity during the sale window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return call(cmd, http.MethodPost, "/items/"+id+"/mint", map[string]any{
			"quantity": mintQuantity,
			"payment":  mintPayment,
		})
	},
}

var ownerMintCmd = &cobra.Command{
	Use:   "owner-mint <id>",
	Short: "Privileged mint to a recipient outside the sale window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return call(cmd, http.MethodPost, "/items/"+id+"/owner-mint", map[string]any{
			"recipient": ownerMintTo,
			"quantity":  ownerMintQuantity,
		})
	},
}

func init() {
	rootCmd.AddCommand(mintCmd, ownerMintCmd)

	mintCmd.Flags().Uint64VarP(&mintQuantity, "quantity", "q", 1, "units to mint")
	mintCmd.Flags().StringVarP(&mintPayment, "payment", "p", "", "payment in currency units")
	_ = mintCmd.MarkFlagRequired("payment")

	ownerMintCmd.Flags().Uint64VarP(&ownerMintQuantity, "quantity", "q", 1, "units to mint")
	ownerMintCmd.Flags().StringVarP(&ownerMintTo, "recipient", "r", "", "account credited with the units")
	_ = ownerMintCmd.MarkFlagRequired("recipient")
}
