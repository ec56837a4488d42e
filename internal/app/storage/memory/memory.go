package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu       sync.RWMutex
	lastID   uint64
	items    map[uint64]item.Item
	settings item.Settings
	mints    map[uint64][]item.MintRecord

	// holdings has its own lock so balance reads do not wait on a running
	// catalog transaction.
	holdMu   sync.RWMutex
	holdings map[holdingKey]uint64
}

type holdingKey struct {
	account string
	itemID  uint64
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.HoldingStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		items:    make(map[uint64]item.Item),
		mints:    make(map[uint64][]item.MintRecord),
		holdings: make(map[holdingKey]uint64),
	}
}

// CatalogStore implementation -------------------------------------------------

// WithinTx stages writes in a private overlay and applies them under the write
// lock only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.CatalogTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:   s,
		lastID:  s.lastID,
		items:   make(map[uint64]item.Item),
		credits: make(map[holdingKey]uint64),
	}
	err := fn(tx)
	tx.closed = true
	if err != nil {
		return err
	}

	s.lastID = tx.lastID
	for id, it := range tx.items {
		s.items[id] = it
	}
	if tx.settings != nil {
		s.settings = *tx.settings
	}
	for _, rec := range tx.mints {
		s.mints[rec.ItemID] = append(s.mints[rec.ItemID], rec)
	}
	if len(tx.credits) > 0 {
		s.holdMu.Lock()
		for key, quantity := range tx.credits {
			s.holdings[key] += quantity
		}
		s.holdMu.Unlock()
	}
	return nil
}

func (s *Store) GetItem(_ context.Context, id uint64) (item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemLocked(id), nil
}

func (s *Store) itemLocked(id uint64) item.Item {
	it, ok := s.items[id]
	if !ok {
		return item.Item{ID: id}
	}
	return it.Clone()
}

func (s *Store) ListItems(_ context.Context) ([]item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]item.Item, 0, len(s.items))
	for _, it := range s.items {
		result = append(result, it.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetSettings(_ context.Context) (item.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) ListMints(_ context.Context, itemID uint64) ([]item.MintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.mints[itemID]
	result := make([]item.MintRecord, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.Clone())
	}
	return result, nil
}

// HoldingStore implementation -------------------------------------------------

func (s *Store) BalanceOf(_ context.Context, account string, itemID uint64) (uint64, error) {
	s.holdMu.RLock()
	defer s.holdMu.RUnlock()
	return s.holdings[holdingKey{account: account, itemID: itemID}], nil
}

// memTx -----------------------------------------------------------------------

type memTx struct {
	store    *Store
	closed   bool
	lastID   uint64
	items    map[uint64]item.Item
	settings *item.Settings
	mints    []item.MintRecord
	credits  map[holdingKey]uint64
}

func (t *memTx) GetItem(_ context.Context, id uint64) (item.Item, error) {
	if t.closed {
		return item.Item{}, storage.ErrTxClosed
	}
	if it, ok := t.items[id]; ok {
		return it.Clone(), nil
	}
	return t.store.itemLocked(id), nil
}

func (t *memTx) PutItem(_ context.Context, it item.Item) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	t.items[it.ID] = it.Clone()
	return nil
}

func (t *memTx) NextID(_ context.Context) (uint64, error) {
	if t.closed {
		return 0, storage.ErrTxClosed
	}
	t.lastID++
	return t.lastID, nil
}

func (t *memTx) GetSettings(_ context.Context) (item.Settings, error) {
	if t.closed {
		return item.Settings{}, storage.ErrTxClosed
	}
	if t.settings != nil {
		return *t.settings, nil
	}
	return t.store.settings, nil
}

func (t *memTx) PutSettings(_ context.Context, settings item.Settings) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	t.settings = &settings
	return nil
}

func (t *memTx) AppendMint(_ context.Context, rec item.MintRecord) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	t.mints = append(t.mints, rec.Clone())
	return nil
}

// Credit stages a balance increase. The overflow check covers the committed
// balance plus everything already staged in this tx.
func (t *memTx) Credit(_ context.Context, account string, itemID uint64, quantity uint64) error {
	if t.closed {
		return storage.ErrTxClosed
	}
	key := holdingKey{account: account, itemID: itemID}
	t.store.holdMu.RLock()
	current := t.store.holdings[key]
	t.store.holdMu.RUnlock()

	current += t.credits[key]
	if quantity > math.MaxUint64-current {
		return fmt.Errorf("credit %d units of item %d to %s: balance overflow", quantity, itemID, account)
	}
	t.credits[key] += quantity
	return nil
}
