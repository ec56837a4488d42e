package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"gopkg.in/yaml.v3"
)

// CatalogSeed is the YAML document launched into an empty catalog.
type CatalogSeed struct {
	MetadataBase    string     `yaml:"metadata_base"`
	PaymentCurrency string     `yaml:"payment_currency"`
	Items           []SeedItem `yaml:"items"`
}

// SeedItem carries the price as a string so it is not squeezed through a
// float by the YAML decoder.
type SeedItem struct {
	DisplayName   string    `yaml:"display_name"`
	StartMintTime time.Time `yaml:"start_mint_time"`
	EndMintTime   time.Time `yaml:"end_mint_time"`
	UnitPrice     string    `yaml:"unit_price"`
	SupplyHint    uint64    `yaml:"supply_hint"`
	MaxSupply     uint64    `yaml:"max_supply"`
	PublicSupply  uint64    `yaml:"public_supply"`
	MaxPerAddress uint64    `yaml:"max_per_address"`
}

// LoadCatalogSeed reads and validates a seed file.
func LoadCatalogSeed(path string) (*CatalogSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog seed: %w", err)
	}

	var seed CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog seed: %w", err)
	}
	for i, it := range seed.Items {
		if strings.TrimSpace(it.DisplayName) == "" {
			return nil, fmt.Errorf("catalog seed item %d: display_name is required", i)
		}
	}
	return &seed, nil
}

// Specs converts the seed items into launch specs.
func (s CatalogSeed) Specs() ([]item.Spec, error) {
	specs := make([]item.Spec, 0, len(s.Items))
	for _, it := range s.Items {
		price := new(big.Int)
		if raw := strings.TrimSpace(it.UnitPrice); raw != "" {
			if _, ok := price.SetString(raw, 10); !ok || price.Sign() < 0 {
				return nil, fmt.Errorf("catalog seed item %q: invalid unit_price %q", it.DisplayName, it.UnitPrice)
			}
		}
		specs = append(specs, item.Spec{
			StartMintTime: it.StartMintTime,
			EndMintTime:   it.EndMintTime,
			DisplayName:   it.DisplayName,
			UnitPrice:     price,
			SupplyHint:    it.SupplyHint,
			MaxSupply:     it.MaxSupply,
			PublicSupply:  it.PublicSupply,
			MaxPerAddress: it.MaxPerAddress,
		})
	}
	return specs, nil
}
