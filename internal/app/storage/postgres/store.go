package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage"
	"github.com/jmoiron/sqlx"
)

const maxUint64Text = "18446744073709551615"

// Store implements the storage interfaces backed by PostgreSQL. Counters and
// supply ceilings are NUMERIC columns exchanged as decimal text so the full
// uint64 range survives the round trip.
type Store struct {
	db *sqlx.DB
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.HoldingStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewFromDB wraps a database/sql handle opened with the lib/pq driver.
func NewFromDB(db *sql.DB) *Store {
	return New(sqlx.NewDb(db, "postgres"))
}

type itemRow struct {
	ID            string    `db:"id"`
	StartMintTime time.Time `db:"start_mint_time"`
	EndMintTime   time.Time `db:"end_mint_time"`
	DisplayName   string    `db:"display_name"`
	UnitPrice     string    `db:"unit_price"`
	MintedTotal   string    `db:"minted_total"`
	MaxSupply     string    `db:"max_supply"`
	PublicSupply  string    `db:"public_supply"`
	MaxPerAddress string    `db:"max_per_address"`
}

type settingsRow struct {
	MetadataBase    string `db:"metadata_base"`
	PaymentCurrency string `db:"payment_currency"`
}

type mintRow struct {
	ID          string    `db:"id"`
	ItemID      string    `db:"item_id"`
	Kind        string    `db:"kind"`
	Account     string    `db:"account"`
	Quantity    string    `db:"quantity"`
	Payment     string    `db:"payment"`
	MintedTotal string    `db:"minted_total"`
	CreatedAt   time.Time `db:"created_at"`
}

const selectItem = `
	SELECT id::text, start_mint_time, end_mint_time, display_name, unit_price::text,
	       minted_total::text, max_supply::text, public_supply::text, max_per_address::text
	FROM ledger_items`

// --- CatalogStore -----------------------------------------------------------

func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.CatalogTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}

	ptx := &pgTx{tx: tx}
	if err := fn(ptx); err != nil {
		ptx.closed = true
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	ptx.closed = true

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog tx: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id uint64) (item.Item, error) {
	return getItem(ctx, s.db, id, "")
}

func (s *Store) ListItems(ctx context.Context) ([]item.Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, selectItem+` ORDER BY id`); err != nil {
		return nil, err
	}
	result := make([]item.Item, 0, len(rows))
	for _, row := range rows {
		it, err := row.toItem()
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, nil
}

func (s *Store) GetSettings(ctx context.Context) (item.Settings, error) {
	return getSettings(ctx, s.db, "")
}

func (s *Store) ListMints(ctx context.Context, itemID uint64) ([]item.MintRecord, error) {
	var rows []mintRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id::text, item_id::text, kind, account, quantity::text, payment::text,
		       minted_total::text, created_at
		FROM ledger_mints
		WHERE item_id = $1::numeric
		ORDER BY created_at, id
	`, formatUint(itemID))
	if err != nil {
		return nil, err
	}
	result := make([]item.MintRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// --- HoldingStore -----------------------------------------------------------

func (s *Store) BalanceOf(ctx context.Context, account string, itemID uint64) (uint64, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `
		SELECT quantity::text FROM ledger_holdings WHERE account = $1 AND item_id = $2::numeric
	`, account, formatUint(itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

// --- transaction ------------------------------------------------------------

type pgTx struct {
	tx     *sqlx.Tx
	closed bool
}

func (t *pgTx) GetItem(ctx context.Context, id uint64) (item.Item, error) {
	if t.closed {
		return item.Item{}, storage.ErrTxClosed
	}
	return getItem(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) PutItem(ctx context.Context, it item.Item) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_items (id, start_mint_time, end_mint_time, display_name, unit_price,
		                          minted_total, max_supply, public_supply, max_per_address, updated_at)
		VALUES ($1::numeric, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10)
		ON CONFLICT (id) DO UPDATE
		SET start_mint_time = EXCLUDED.start_mint_time,
		    end_mint_time = EXCLUDED.end_mint_time,
		    display_name = EXCLUDED.display_name,
		    unit_price = EXCLUDED.unit_price,
		    minted_total = EXCLUDED.minted_total,
		    max_supply = EXCLUDED.max_supply,
		    public_supply = EXCLUDED.public_supply,
		    max_per_address = EXCLUDED.max_per_address,
		    updated_at = EXCLUDED.updated_at
	`, formatUint(it.ID), it.StartMintTime.UTC(), it.EndMintTime.UTC(), it.DisplayName, it.Price().String(),
		formatUint(it.MintedTotal), formatUint(it.MaxSupply), formatUint(it.PublicSupply),
		formatUint(it.MaxPerAddress), time.Now().UTC())
	return err
}

func (t *pgTx) NextID(ctx context.Context) (uint64, error) {
	if t.closed {
		return 0, storage.ErrTxClosed
	}
	var raw string
	err := t.tx.GetContext(ctx, &raw, `
		UPDATE ledger_counters SET value = value + 1 WHERE name = 'last_item_id' RETURNING value::text
	`)
	if err != nil {
		return 0, fmt.Errorf("advance item counter: %w", err)
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (t *pgTx) GetSettings(ctx context.Context) (item.Settings, error) {
	if t.closed {
		return item.Settings{}, storage.ErrTxClosed
	}
	return getSettings(ctx, t.tx, " FOR UPDATE")
}

func (t *pgTx) PutSettings(ctx context.Context, settings item.Settings) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_settings (id, metadata_base, payment_currency, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET metadata_base = EXCLUDED.metadata_base,
		    payment_currency = EXCLUDED.payment_currency,
		    updated_at = EXCLUDED.updated_at
	`, settings.MetadataBase, settings.PaymentCurrency, time.Now().UTC())
	return err
}

func (t *pgTx) AppendMint(ctx context.Context, rec item.MintRecord) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	payment := "0"
	if rec.Payment != nil {
		payment = rec.Payment.String()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_mints (id, item_id, kind, account, quantity, payment, minted_total, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8)
	`, rec.ID, formatUint(rec.ItemID), string(rec.Kind), rec.Account, formatUint(rec.Quantity),
		payment, formatUint(rec.MintedTotal), rec.CreatedAt.UTC())
	return err
}

func (t *pgTx) Credit(ctx context.Context, account string, itemID uint64, quantity uint64) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_holdings (account, item_id, quantity, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4)
		ON CONFLICT (account, item_id) DO UPDATE
		SET quantity = ledger_holdings.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		WHERE ledger_holdings.quantity + EXCLUDED.quantity <= `+maxUint64Text+`
	`, account, formatUint(itemID), formatUint(quantity), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("credit %d units of item %d to %s: balance overflow", quantity, itemID, account)
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

func getItem(ctx context.Context, q sqlx.QueryerContext, id uint64, suffix string) (item.Item, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, q, &row, selectItem+` WHERE id = $1::numeric`+suffix, formatUint(id))
	if errors.Is(err, sql.ErrNoRows) {
		return item.Item{ID: id}, nil
	}
	if err != nil {
		return item.Item{}, err
	}
	return row.toItem()
}

func getSettings(ctx context.Context, q sqlx.QueryerContext, suffix string) (item.Settings, error) {
	var row settingsRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT metadata_base, payment_currency FROM ledger_settings WHERE id = 1`+suffix)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Settings{}, nil
	}
	if err != nil {
		return item.Settings{}, err
	}
	return item.Settings{MetadataBase: row.MetadataBase, PaymentCurrency: row.PaymentCurrency}, nil
}

func (r itemRow) toItem() (item.Item, error) {
	var (
		it  item.Item
		err error
	)
	if it.ID, err = strconv.ParseUint(r.ID, 10, 64); err != nil {
		return item.Item{}, fmt.Errorf("parse item id %q: %w", r.ID, err)
	}
	price, ok := new(big.Int).SetString(r.UnitPrice, 10)
	if !ok {
		return item.Item{}, fmt.Errorf("parse unit price %q of item %d", r.UnitPrice, it.ID)
	}
	it.UnitPrice = price
	it.StartMintTime = r.StartMintTime.UTC()
	it.EndMintTime = r.EndMintTime.UTC()
	it.DisplayName = r.DisplayName

	for _, f := range []struct {
		raw string
		dst *uint64
	}{
		{r.MintedTotal, &it.MintedTotal},
		{r.MaxSupply, &it.MaxSupply},
		{r.PublicSupply, &it.PublicSupply},
		{r.MaxPerAddress, &it.MaxPerAddress},
	} {
		if *f.dst, err = strconv.ParseUint(f.raw, 10, 64); err != nil {
			return item.Item{}, fmt.Errorf("parse counter of item %d: %w", it.ID, err)
		}
	}
	return it, nil
}

func (r mintRow) toRecord() (item.MintRecord, error) {
	rec := item.MintRecord{
		ID:        r.ID,
		Kind:      item.MintKind(r.Kind),
		Account:   r.Account,
		CreatedAt: r.CreatedAt.UTC(),
	}
	var err error
	if rec.ItemID, err = strconv.ParseUint(r.ItemID, 10, 64); err != nil {
		return item.MintRecord{}, err
	}
	if rec.Quantity, err = strconv.ParseUint(r.Quantity, 10, 64); err != nil {
		return item.MintRecord{}, err
	}
	if rec.MintedTotal, err = strconv.ParseUint(r.MintedTotal, 10, 64); err != nil {
		return item.MintRecord{}, err
	}
	payment, ok := new(big.Int).SetString(r.Payment, 10)
	if !ok {
		return item.MintRecord{}, fmt.Errorf("parse payment %q of mint %s", r.Payment, r.ID)
	}
	rec.Payment = payment
	return rec, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
