package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
)

// ErrTxClosed is returned when a CatalogTx is used after its WithinTx callback
// has returned.
var ErrTxClosed = errors.New("catalog transaction closed")

// CatalogStore persists item configurations, the identifier counter, the
// administration settings and the mint journal. It performs no validation.
type CatalogStore interface {
	// WithinTx runs fn atomically. Any error returned by fn discards every
	// write made through tx and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx CatalogTx) error) error

	// GetItem returns the stored item or the zero-value item carrying id.
	GetItem(ctx context.Context, id uint64) (item.Item, error)
	ListItems(ctx context.Context) ([]item.Item, error)
	GetSettings(ctx context.Context) (item.Settings, error)
	ListMints(ctx context.Context, itemID uint64) ([]item.MintRecord, error)
}

// CatalogTx is the write view handed to WithinTx callbacks.
type CatalogTx interface {
	GetItem(ctx context.Context, id uint64) (item.Item, error)
	PutItem(ctx context.Context, it item.Item) error
	// NextID advances the identifier counter and returns the fresh value.
	NextID(ctx context.Context) (uint64, error)
	GetSettings(ctx context.Context) (item.Settings, error)
	PutSettings(ctx context.Context, settings item.Settings) error
	AppendMint(ctx context.Context, rec item.MintRecord) error

	// Credit adds quantity units of itemID to account. The credit commits or
	// rolls back together with the counter and journal writes of the same tx.
	Credit(ctx context.Context, account string, itemID uint64, quantity uint64) error
}

// HoldingStore is the read side of the balance store: how many units of each
// item each account holds. Issuance only ever credits, through CatalogTx.
type HoldingStore interface {
	BalanceOf(ctx context.Context, account string, itemID uint64) (uint64, error)
}
