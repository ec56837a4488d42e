// Package issuance implements the issuance engine and its administration
// surface. Every mutating operation is authorized once at entry, then runs
// under the global serialization lock inside one catalog transaction.
package issuance

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/lock"
	"github.com/R3E-Network/issuance_ledger/internal/app/metrics"
	"github.com/R3E-Network/issuance_ledger/internal/app/rail"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

const ledgerLockKey = "issuance:ledger"

// Service is the issuance engine.
type Service struct {
	store    storage.CatalogStore
	holdings storage.HoldingStore
	payments rail.PaymentRail
	policy   auth.Authorizer
	locker   lock.Locker
	now      func() time.Time
	log      *logger.Logger

	// lifecycle: operations in flight and whether Stop has closed the door
	mu      sync.Mutex
	active  int
	stopped bool
	idle    chan struct{}
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for sale window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker overrides the in-process serialization lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// New builds the engine. A nil policy denies every privileged operation.
func New(store storage.CatalogStore, holdings storage.HoldingStore, payments rail.PaymentRail, policy auth.Authorizer, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("issuance")
	}
	if policy == nil {
		policy = auth.NewOwnerPolicy("")
	}
	svc := &Service{
		store:    store,
		holdings: holdings,
		payments: payments,
		policy:   policy,
		locker:   lock.NewLocal(),
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Name identifies the service in logs.
func (s *Service) Name() string { return "issuance" }

// Start checks that the catalog is reachable and reopens the engine after a
// Stop.
func (s *Service) Start(ctx context.Context) error {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	entry := s.log.WithField("items", len(items)).WithField("payment_currency", settings.PaymentCurrency)
	if settings.PaymentCurrency == "" {
		entry.Warn("issuance engine started without a payment currency")
		return nil
	}
	entry.Info("issuance engine started")
	return nil
}

// Stop refuses new operations and waits for those in flight, refunds
// included, to finish or for ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if s.active == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	idle := s.idle
	pending := s.active
	s.mu.Unlock()

	s.log.WithField("in_flight", pending).Info("waiting for issuance operations to drain")
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain issuance operations: %w", ctx.Err())
	}
}

func (s *Service) enter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.active++
	return nil
}

func (s *Service) leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.active == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// Launch stores a new item under a fresh identifier with a zero mint counter.
func (s *Service) Launch(ctx context.Context, caller string, spec item.Spec) (item.Item, error) {
	var launched item.Item
	err := s.privileged(ctx, caller, auth.ActionLaunch, func() error {
		return s.store.WithinTx(ctx, func(tx storage.CatalogTx) error {
			id, err := tx.NextID(ctx)
			if err != nil {
				return err
			}
			launched = spec.Apply(id, 0)
			return tx.PutItem(ctx, launched)
		})
	})
	if err != nil {
		return item.Item{}, err
	}
	s.log.WithField("item_id", launched.ID).
		WithField("caller", caller).
		WithField("display_name", launched.DisplayName).
		WithField("supply_hint", spec.SupplyHint).
		Info("item launched")
	return launched, nil
}

// Update overwrites the configuration of id, carrying MintedTotal forward.
// An id that was never launched is created with a zero counter.
func (s *Service) Update(ctx context.Context, caller string, id uint64, spec item.Spec) (item.Item, error) {
	var updated item.Item
	err := s.privileged(ctx, caller, auth.ActionUpdate, func() error {
		return s.store.WithinTx(ctx, func(tx storage.CatalogTx) error {
			current, err := tx.GetItem(ctx, id)
			if err != nil {
				return err
			}
			updated = spec.Apply(id, current.MintedTotal)
			return tx.PutItem(ctx, updated)
		})
	})
	if err != nil {
		return item.Item{}, err
	}
	s.log.WithField("item_id", id).
		WithField("caller", caller).
		WithField("minted_total", updated.MintedTotal).
		Info("item updated")
	return updated, nil
}

// Mint issues quantity units of id to caller against payment.
//
// All validation runs before any value moves: the payment is pulled only once
// the price, window and supply checks pass. A failed credit refunds the
// payment and discards the staged counter.
func (s *Service) Mint(ctx context.Context, caller string, id, quantity uint64, payment *big.Int) (item.MintRecord, error) {
	rec, err := s.mint(ctx, caller, id, quantity, payment)
	metrics.RecordMint(string(item.MintPublic), outcome(err), quantity)
	if err != nil {
		s.log.WithField("item_id", id).
			WithField("caller", caller).
			WithField("quantity", quantity).
			WithError(err).
			Warn("public mint rejected")
		return item.MintRecord{}, err
	}
	s.log.WithField("item_id", id).
		WithField("caller", caller).
		WithField("quantity", quantity).
		WithField("minted_total", rec.MintedTotal).
		Info("public mint")
	return rec, nil
}

func (s *Service) mint(ctx context.Context, caller string, id, quantity uint64, payment *big.Int) (item.MintRecord, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return item.MintRecord{}, fmt.Errorf("%w: caller account required", ErrInvalidReference)
	}
	if payment == nil {
		payment = new(big.Int)
	}
	payment = new(big.Int).Set(payment)

	var (
		rec      item.MintRecord
		currency string
		charged  bool
	)
	err := s.exclusive(ctx, func() error {
		txErr := s.store.WithinTx(ctx, func(tx storage.CatalogTx) error {
			it, err := tx.GetItem(ctx, id)
			if err != nil {
				return err
			}
			expected := new(big.Int).Mul(it.Price(), new(big.Int).SetUint64(quantity))
			if payment.Cmp(expected) != 0 {
				return fmt.Errorf("%w: item %d expects %s for %d units, got %s", ErrInvalidPayment, id, expected, quantity, payment)
			}
			now := s.now()
			if !it.InWindow(now) {
				return fmt.Errorf("%w: item %d sale window is %s to %s", ErrInvalidTime, id,
					it.StartMintTime.Format(time.RFC3339), it.EndMintTime.Format(time.RFC3339))
			}
			total, ok := addUnits(it.MintedTotal, quantity)
			if !ok || total > it.PublicSupply {
				return fmt.Errorf("%w: %d more units of item %d exceed public supply %d", ErrInvalidAmount, quantity, id, it.PublicSupply)
			}
			if quantity > it.MaxPerAddress {
				return fmt.Errorf("%w: %d units exceed per-call limit %d", ErrInvalidAmount, quantity, it.MaxPerAddress)
			}

			it.MintedTotal = total
			if err := tx.PutItem(ctx, it); err != nil {
				return err
			}
			rec = newRecord(id, item.MintPublic, caller, quantity, payment, total, now)
			if err := tx.AppendMint(ctx, rec); err != nil {
				return err
			}

			settings, err := tx.GetSettings(ctx)
			if err != nil {
				return err
			}
			currency = settings.PaymentCurrency
			if payment.Sign() > 0 {
				if err := s.payments.Pull(rail.WithIdempotencyKey(ctx, rec.ID), currency, caller, payment); err != nil {
					s.log.WithField("mint_id", rec.ID).WithError(err).Debug("payment pull failed")
					return err
				}
				charged = true
			}
			return tx.Credit(ctx, caller, id, quantity)
		})
		if txErr != nil && charged {
			s.refund(rec.ID, currency, caller, payment, txErr)
		}
		return txErr
	})
	if err != nil {
		return item.MintRecord{}, err
	}
	return rec, nil
}

// refund returns a pulled payment after the mint failed downstream of the
// charge. It runs detached from the request context so a cancelled caller
// still gets the money back. Rails that can reverse a pull also restore the
// payer's allowance; others get a plain push.
func (s *Service) refund(mintID, currency, account string, amount *big.Int, cause error) {
	ctx := rail.WithIdempotencyKey(context.Background(), mintID+":refund")
	var err error
	if refunder, ok := s.payments.(rail.Refunder); ok {
		err = refunder.Refund(ctx, currency, account, amount)
	} else {
		err = s.payments.Push(ctx, currency, account, amount)
	}
	entry := s.log.WithField("mint_id", mintID).
		WithField("account", account).
		WithField("amount", amount.String()).
		WithField("cause", cause.Error())
	if err != nil {
		entry.WithError(err).Error("mint payment refund failed; custody requires reconciliation")
		return
	}
	entry.Warn("mint payment refunded")
}

// OwnerMint issues quantity units of id to recipient without payment. It is
// only allowed outside the public sale window.
func (s *Service) OwnerMint(ctx context.Context, caller string, id uint64, recipient string, quantity uint64) (item.MintRecord, error) {
	recipient = strings.TrimSpace(recipient)
	var rec item.MintRecord
	err := s.privileged(ctx, caller, auth.ActionOwnerMint, func() error {
		if recipient == "" {
			return fmt.Errorf("%w: recipient required", ErrInvalidReference)
		}
		return s.store.WithinTx(ctx, func(tx storage.CatalogTx) error {
			it, err := tx.GetItem(ctx, id)
			if err != nil {
				return err
			}
			if !it.Exists() {
				return fmt.Errorf("%w: item %d", ErrNonexistent, id)
			}
			total, ok := addUnits(it.MintedTotal, quantity)
			if !ok || total > it.MaxSupply {
				return fmt.Errorf("%w: %d more units of item %d exceed max supply %d", ErrInvalidAmount, quantity, id, it.MaxSupply)
			}
			now := s.now()
			if it.InWindow(now) {
				return fmt.Errorf("%w: item %d public sale window is open", ErrInvalidTime, id)
			}

			it.MintedTotal = total
			if err := tx.PutItem(ctx, it); err != nil {
				return err
			}
			rec = newRecord(id, item.MintPrivileged, recipient, quantity, new(big.Int), total, now)
			if err := tx.AppendMint(ctx, rec); err != nil {
				return err
			}
			return tx.Credit(ctx, recipient, id, quantity)
		})
	})
	metrics.RecordMint(string(item.MintPrivileged), outcome(err), quantity)
	if err != nil {
		return item.MintRecord{}, err
	}
	s.log.WithField("item_id", id).
		WithField("caller", caller).
		WithField("recipient", recipient).
		WithField("quantity", quantity).
		Info("privileged mint")
	return rec, nil
}

// Withdraw pays amount out of custody to destination. Custody shortfalls are
// reported by the rail.
func (s *Service) Withdraw(ctx context.Context, caller string, amount *big.Int, destination string) error {
	destination = strings.TrimSpace(destination)
	err := s.privileged(ctx, caller, auth.ActionWithdraw, func() error {
		if destination == "" {
			return fmt.Errorf("%w: destination required", ErrInvalidReference)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidAmount)
		}
		settings, err := s.store.GetSettings(ctx)
		if err != nil {
			return err
		}
		return s.payments.Push(ctx, settings.PaymentCurrency, destination, amount)
	})
	if err != nil {
		return err
	}
	s.log.WithField("caller", caller).
		WithField("destination", destination).
		WithField("amount", amount.String()).
		Info("custody withdrawn")
	return nil
}

// SetMetadataBase replaces the base metadata location.
func (s *Service) SetMetadataBase(ctx context.Context, caller, location string) error {
	err := s.updateSettings(ctx, caller, auth.ActionSetMetadataBase, func(settings *item.Settings) error {
		settings.MetadataBase = location
		return nil
	})
	if err == nil {
		s.log.WithField("caller", caller).WithField("metadata_base", location).Info("metadata base set")
	}
	return err
}

// SetPaymentCurrency replaces the payment currency. The reference must be a
// Neo address or a script hash.
func (s *Service) SetPaymentCurrency(ctx context.Context, caller, reference string) error {
	reference = strings.TrimSpace(reference)
	err := s.updateSettings(ctx, caller, auth.ActionSetPaymentCurrency, func(settings *item.Settings) error {
		if err := ValidateReference(reference); err != nil {
			return err
		}
		settings.PaymentCurrency = reference
		return nil
	})
	if err == nil {
		s.log.WithField("caller", caller).WithField("payment_currency", reference).Info("payment currency set")
	}
	return err
}

func (s *Service) updateSettings(ctx context.Context, caller string, action auth.Action, mutate func(*item.Settings) error) error {
	return s.privileged(ctx, caller, action, func() error {
		return s.store.WithinTx(ctx, func(tx storage.CatalogTx) error {
			settings, err := tx.GetSettings(ctx)
			if err != nil {
				return err
			}
			if err := mutate(&settings); err != nil {
				return err
			}
			return tx.PutSettings(ctx, settings)
		})
	})
}

// ValidateReference reports whether ref is a Neo address or a 20-byte script
// hash in little-endian hex, with or without 0x prefix.
func ValidateReference(ref string) error {
	if _, err := address.StringToUint160(ref); err == nil {
		return nil
	}
	if _, err := util.Uint160DecodeStringLE(strings.TrimPrefix(ref, "0x")); err == nil {
		return nil
	}
	return fmt.Errorf("%w: %q is neither an address nor a script hash", ErrInvalidReference, ref)
}

// MetadataLocation derives the metadata location of a launched item.
func (s *Service) MetadataLocation(ctx context.Context, id uint64) (string, error) {
	if _, err := s.Item(ctx, id); err != nil {
		return "", err
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return "", err
	}
	return settings.Location(id), nil
}

// MintedCount returns the running mint counter of id, zero when unknown.
func (s *Service) MintedCount(ctx context.Context, id uint64) (uint64, error) {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return 0, err
	}
	return it.MintedTotal, nil
}

// Item returns a launched item.
func (s *Service) Item(ctx context.Context, id uint64) (item.Item, error) {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return item.Item{}, err
	}
	if !it.Exists() {
		return item.Item{}, fmt.Errorf("%w: item %d", ErrNonexistent, id)
	}
	return it, nil
}

// Items lists the catalog.
func (s *Service) Items(ctx context.Context) ([]item.Item, error) {
	return s.store.ListItems(ctx)
}

// Settings returns the administration settings.
func (s *Service) Settings(ctx context.Context) (item.Settings, error) {
	return s.store.GetSettings(ctx)
}

// BalanceOf returns how many units of id account holds.
func (s *Service) BalanceOf(ctx context.Context, account string, id uint64) (uint64, error) {
	return s.holdings.BalanceOf(ctx, strings.TrimSpace(account), id)
}

// Custody returns the issuer-held balance of the payment currency.
func (s *Service) Custody(ctx context.Context) (*big.Int, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return s.payments.Custody(ctx, settings.PaymentCurrency)
}

// Mints returns the mint journal of id.
func (s *Service) Mints(ctx context.Context, id uint64) ([]item.MintRecord, error) {
	return s.store.ListMints(ctx, id)
}

func (s *Service) privileged(ctx context.Context, caller string, action auth.Action, fn func() error) error {
	if err := s.policy.Authorize(ctx, caller, action); err != nil {
		s.log.WithField("caller", caller).WithField("action", string(action)).Warn("privileged operation denied")
		return err
	}
	return s.exclusive(ctx, fn)
}

func (s *Service) exclusive(ctx context.Context, fn func() error) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	release, err := s.locker.Acquire(ctx, ledgerLockKey)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// addUnits adds quantity to total; ok is false on zero quantity or overflow.
func addUnits(total, quantity uint64) (uint64, bool) {
	if quantity == 0 || quantity > math.MaxUint64-total {
		return total, false
	}
	return total + quantity, true
}

func newRecord(id uint64, kind item.MintKind, account string, quantity uint64, payment *big.Int, total uint64, at time.Time) item.MintRecord {
	return item.MintRecord{
		ID:          uuid.NewString(),
		ItemID:      id,
		Kind:        kind,
		Account:     account,
		Quantity:    quantity,
		Payment:     new(big.Int).Set(payment),
		MintedTotal: total,
		CreatedAt:   at.UTC(),
	}
}
