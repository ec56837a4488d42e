// Package item holds the issuance catalog models: item configurations, the
// launch/update field set, process-wide settings and the mint journal.
package item

import (
	"math/big"
	"strconv"
	"time"
)

// Item is the configuration and running counter of one sellable item type.
// An item whose DisplayName is empty has not been launched.
type Item struct {
	ID            uint64    `json:"id" yaml:"-"`
	StartMintTime time.Time `json:"start_mint_time"`
	EndMintTime   time.Time `json:"end_mint_time"`
	DisplayName   string    `json:"display_name"`
	UnitPrice     *big.Int  `json:"unit_price"`
	MintedTotal   uint64    `json:"minted_total"`
	MaxSupply     uint64    `json:"max_supply"`
	PublicSupply  uint64    `json:"public_supply"`
	MaxPerAddress uint64    `json:"max_per_address"`
}

// Exists reports whether the item has been launched.
func (i Item) Exists() bool {
	return i.DisplayName != ""
}

// InWindow reports whether t falls inside the inclusive public sale window.
func (i Item) InWindow(t time.Time) bool {
	return !t.Before(i.StartMintTime) && !t.After(i.EndMintTime)
}

// Price returns the unit price, treating a nil price as zero.
func (i Item) Price() *big.Int {
	if i.UnitPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.UnitPrice)
}

// Clone returns a deep copy safe to hand across goroutines.
func (i Item) Clone() Item {
	out := i
	if i.UnitPrice != nil {
		out.UnitPrice = new(big.Int).Set(i.UnitPrice)
	}
	return out
}

// Spec is the caller-supplied field set of launch and update. MintedTotal is
// never part of it.
type Spec struct {
	StartMintTime time.Time `json:"start_mint_time" yaml:"start_mint_time"`
	EndMintTime   time.Time `json:"end_mint_time" yaml:"end_mint_time"`
	DisplayName   string    `json:"display_name" yaml:"display_name"`
	UnitPrice     *big.Int  `json:"unit_price" yaml:"-"`

	// SupplyHint is accepted for compatibility with existing launch tooling
	// and is not stored.
	SupplyHint    uint64 `json:"supply_hint,omitempty" yaml:"supply_hint"`
	MaxSupply     uint64 `json:"max_supply" yaml:"max_supply"`
	PublicSupply  uint64 `json:"public_supply" yaml:"public_supply"`
	MaxPerAddress uint64 `json:"max_per_address" yaml:"max_per_address"`
}

// Apply builds the item stored for id from the spec and the carried counter.
func (s Spec) Apply(id, mintedTotal uint64) Item {
	price := new(big.Int)
	if s.UnitPrice != nil {
		price.Set(s.UnitPrice)
	}
	return Item{
		ID:            id,
		StartMintTime: s.StartMintTime.UTC(),
		EndMintTime:   s.EndMintTime.UTC(),
		DisplayName:   s.DisplayName,
		UnitPrice:     price,
		MintedTotal:   mintedTotal,
		MaxSupply:     s.MaxSupply,
		PublicSupply:  s.PublicSupply,
		MaxPerAddress: s.MaxPerAddress,
	}
}

// Settings is the process-wide administration state.
type Settings struct {
	MetadataBase    string `json:"metadata_base"`
	PaymentCurrency string `json:"payment_currency"`
}

// Location derives the metadata location of an item identifier.
func (s Settings) Location(id uint64) string {
	return s.MetadataBase + strconv.FormatUint(id, 10)
}

// MintKind distinguishes the two issuance paths.
type MintKind string

const (
	MintPublic     MintKind = "public"
	MintPrivileged MintKind = "privileged"
)

// MintRecord is one entry of the append-only mint journal.
type MintRecord struct {
	ID          string    `json:"id"`
	ItemID      uint64    `json:"item_id"`
	Kind        MintKind  `json:"kind"`
	Account     string    `json:"account"`
	Quantity    uint64    `json:"quantity"`
	Payment     *big.Int  `json:"payment"`
	MintedTotal uint64    `json:"minted_total"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy of the record.
func (r MintRecord) Clone() MintRecord {
	out := r
	if r.Payment != nil {
		out.Payment = new(big.Int).Set(r.Payment)
	}
	return out
}
