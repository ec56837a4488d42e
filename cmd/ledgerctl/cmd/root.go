package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Issuance ledger control CLI",
	Long: `
ledgerctl talks to a running ledgerd over its HTTP API.

CATALOG:
  items       List items or show one item
  launch      Launch a new item
  update      Overwrite an item's configuration (mint counter is kept)
  uri         Show an item's metadata location
  minted      Show an item's mint counter
  mints       Show an item's mint journal

ISSUANCE:
  mint        Public mint against payment
  owner-mint  Privileged mint outside the sale window
  balance     Show how many units an account holds

TREASURY & SETTINGS:
  treasury    Show custody balance
  withdraw    Pay out of custody
  settings    Show or change metadata base and payment currency

The server and token default to $LEDGERCTL_SERVER and $LEDGERCTL_TOKEN.
`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("LEDGERCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "ledgerd base URL")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("LEDGERCTL_TOKEN"), "bearer token for privileged and mint calls")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
}
