package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type itemFlags struct {
	name          string
	start         string
	end           string
	price         string
	supplyHint    uint64
	maxSupply     uint64
	publicSupply  uint64
	maxPerAddress uint64
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.start, "start", "", "sale window start (RFC3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "sale window end (RFC3339)")
	cmd.Flags().StringVar(&f.price, "price", "0", "unit price in payment currency units")
	cmd.Flags().Uint64Var(&f.supplyHint, "supply-hint", 0, "initial supply hint (not stored)")
	cmd.Flags().Uint64Var(&f.maxSupply, "max-supply", 0, "ceiling across both mint paths")
	cmd.Flags().Uint64Var(&f.publicSupply, "public-supply", 0, "ceiling enforced by public mint")
	cmd.Flags().Uint64Var(&f.maxPerAddress, "max-per-address", 0, "per-call public mint limit")
	_ = cmd.MarkFlagRequired("name")
}

func (f *itemFlags) payload() (map[string]any, error) {
	body := map[string]any{
		"display_name":    f.name,
		"unit_price":      f.price,
		"supply_hint":     f.supplyHint,
		"max_supply":      f.maxSupply,
		"public_supply":   f.publicSupply,
		"max_per_address": f.maxPerAddress,
	}
	for key, raw := range map[string]string{"start_mint_time": f.start, "end_mint_time": f.end} {
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		body[key] = t
	}
	return body, nil
}

var (
	launchFlags itemFlags
	updateFlags itemFlags
)

var itemsCmd = &cobra.Command{
	Use:   "items [id]",
	Short: "List items or show one item",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return call(cmd, http.MethodGet, "/items", nil)
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return call(cmd, http.MethodGet, "/items/"+id, nil)
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a new item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := launchFlags.payload()
		if err != nil {
			return err
		}
		return call(cmd, http.MethodPost, "/items", body)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Overwrite an item's configuration, keeping its mint counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		body, err := updateFlags.payload()
		if err != nil {
			return err
		}
		return call(cmd, http.MethodPut, "/items/"+id, body)
	},
}

func itemLookup(use, short, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, http.MethodGet, "/items/"+id+suffix, nil)
		},
	}
}

var balanceCmd = &cobra.Command{
	Use:   "balance <account> <id>",
	Short: "Show how many units of an item an account holds",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return call(cmd, http.MethodGet, "/accounts/"+url.PathEscape(args[0])+"/items/"+id, nil)
	},
}

func parseID(raw string) (string, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid item id %q", raw)
	}
	return strconv.FormatUint(id, 10), nil
}

func init() {
	launchFlags.register(launchCmd)
	updateFlags.register(updateCmd)

	rootCmd.AddCommand(
		itemsCmd,
		launchCmd,
		updateCmd,
		itemLookup("uri", "Show an item's metadata location", "/uri"),
		itemLookup("minted", "Show an item's mint counter", "/minted"),
		itemLookup("mints", "Show an item's mint journal", "/mints"),
		balanceCmd,
	)
}
