package rail

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transfer kinds recorded by the memory rail.
const (
	TransferPull   = "pull"
	TransferPush   = "push"
	TransferRefund = "refund"
)

// Transfer is one settled movement on the memory rail.
type Transfer struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Currency  string    `json:"currency"`
	Account   string    `json:"account"`
	Amount    *big.Int  `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Memory is an in-process payment rail. Payers must both hold funds and have
// approved custody for at least the pulled amount, mirroring a token
// allowance model.
type Memory struct {
	mu         sync.Mutex
	balances   map[string]map[string]*big.Int
	allowances map[string]map[string]*big.Int
	custody    map[string]*big.Int
	transfers  []Transfer
}

var (
	_ PaymentRail = (*Memory)(nil)
	_ Refunder    = (*Memory)(nil)
)

// NewMemory creates an empty rail.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
		custody:    make(map[string]*big.Int),
	}
}

// Deposit credits an account on the rail.
func (m *Memory) Deposit(currency, account string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.slot(m.balances, currency, account)
	bal.Add(bal, amount)
	return nil
}

// Approve sets how much custody may pull from owner.
func (m *Memory) Approve(currency, owner string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot(m.allowances, currency, owner).Set(amount)
	return nil
}

// BalanceOf returns an account's rail balance.
func (m *Memory) BalanceOf(currency, account string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.slot(m.balances, currency, account))
}

// Transfers returns the settled transfer log.
func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

func (m *Memory) Pull(_ context.Context, currency, from string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	allowance := m.slot(m.allowances, currency, from)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: approved %s, required %s", ErrInsufficientAllowance, allowance, amount)
	}
	bal := m.slot(m.balances, currency, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: available %s, required %s", ErrInsufficientFunds, bal, amount)
	}

	allowance.Sub(allowance, amount)
	bal.Sub(bal, amount)
	custody := m.custodyLocked(currency)
	custody.Add(custody, amount)
	m.record(TransferPull, currency, from, amount)
	return nil
}

func (m *Memory) Push(_ context.Context, currency, to string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	custody := m.custodyLocked(currency)
	if custody.Cmp(amount) < 0 {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientCustody, custody, amount)
	}
	custody.Sub(custody, amount)
	bal := m.slot(m.balances, currency, to)
	bal.Add(bal, amount)
	m.record(TransferPush, currency, to, amount)
	return nil
}

// Refund moves amount from custody back to the payer and gives the allowance
// back.
func (m *Memory) Refund(_ context.Context, currency, to string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	custody := m.custodyLocked(currency)
	if custody.Cmp(amount) < 0 {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientCustody, custody, amount)
	}
	custody.Sub(custody, amount)
	bal := m.slot(m.balances, currency, to)
	bal.Add(bal, amount)
	allowance := m.slot(m.allowances, currency, to)
	allowance.Add(allowance, amount)
	m.record(TransferRefund, currency, to, amount)
	return nil
}

// Allowance returns how much custody may still pull from owner.
func (m *Memory) Allowance(currency, owner string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.slot(m.allowances, currency, owner))
}

func (m *Memory) Custody(_ context.Context, currency string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.custodyLocked(currency)), nil
}

func (m *Memory) slot(table map[string]map[string]*big.Int, currency, account string) *big.Int {
	byAccount, ok := table[currency]
	if !ok {
		byAccount = make(map[string]*big.Int)
		table[currency] = byAccount
	}
	v, ok := byAccount[account]
	if !ok {
		v = new(big.Int)
		byAccount[account] = v
	}
	return v
}

func (m *Memory) custodyLocked(currency string) *big.Int {
	v, ok := m.custody[currency]
	if !ok {
		v = new(big.Int)
		m.custody[currency] = v
	}
	return v
}

func (m *Memory) record(kind, currency, account string, amount *big.Int) {
	m.transfers = append(m.transfers, Transfer{
		ID:        uuid.NewString(),
		Kind:      kind,
		Currency:  currency,
		Account:   account,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: time.Now().UTC(),
	})
}
