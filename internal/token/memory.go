package token

import (
	"context"
	"fmt"
	"sync"

	"StableVault/internal/fixedpoint"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MemoryStable is an in-process Stable implementation for tests and the
// single-binary deployment. Supply accounting is zero-sum against mints
// and burns. Holding the pointer is the mint/burn capability; there is no
// separate minter identity.
type MemoryStable struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*uint256.Int
	supply   *uint256.Int
}

func NewMemoryStable() *MemoryStable {
	return &MemoryStable{
		balances: make(map[uuid.UUID]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (m *MemoryStable) Mint(ctx context.Context, to uuid.UUID, amount *uint256.Int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.balances[to]
	if current == nil {
		current = new(uint256.Int)
	}
	next, err := fixedpoint.Add(current, amount)
	if err != nil {
		return false, err
	}
	supply, err := fixedpoint.Add(m.supply, amount)
	if err != nil {
		return false, err
	}

	m.balances[to] = next
	m.supply = supply
	return true, nil
}

func (m *MemoryStable) BurnFrom(ctx context.Context, holder uuid.UUID, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.balances[holder]
	if current == nil || current.Lt(amount) {
		return fmt.Errorf("burn %s from %s: insufficient balance", amount.Dec(), holder)
	}

	next, err := fixedpoint.Sub(current, amount)
	if err != nil {
		return err
	}
	supply, err := fixedpoint.Sub(m.supply, amount)
	if err != nil {
		return err
	}

	m.balances[holder] = next
	m.supply = supply
	return nil
}

// BalanceOf returns the holder's balance (a copy).
func (m *MemoryStable) BalanceOf(holder uuid.UUID) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balances[holder]
	if current == nil {
		return new(uint256.Int)
	}
	return current.Clone()
}

// TotalSupply returns the outstanding supply (a copy).
func (m *MemoryStable) TotalSupply() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply.Clone()
}

// MemoryCollateral is an in-process Collateral implementation. Transfer
// draws from the custodian account (the engine's vault identity), matching
// the semantics of a token contract where Transfer spends the caller's own
// balance.
type MemoryCollateral struct {
	symbol    string
	custodian uuid.UUID

	mu       sync.Mutex
	balances map[uuid.UUID]*uint256.Int
}

func NewMemoryCollateral(symbol string) *MemoryCollateral {
	return &MemoryCollateral{
		symbol:   symbol,
		balances: make(map[uuid.UUID]*uint256.Int),
	}
}

// SetCustodian binds the account Transfer spends from. Wired once, to the
// engine's vault identity, before the engine starts serving.
func (m *MemoryCollateral) SetCustodian(custodian uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custodian = custodian
}

func (m *MemoryCollateral) TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

func (m *MemoryCollateral) Transfer(ctx context.Context, to uuid.UUID, amount *uint256.Int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(m.custodian, to, amount)
}

// move settles a balance transfer; declined (false, nil) when the source
// balance is short.
func (m *MemoryCollateral) move(from, to uuid.UUID, amount *uint256.Int) (bool, error) {
	source := m.balances[from]
	if source == nil || source.Lt(amount) {
		return false, nil
	}

	dest := m.balances[to]
	if dest == nil {
		dest = new(uint256.Int)
	}

	nextSource, err := fixedpoint.Sub(source, amount)
	if err != nil {
		return false, err
	}
	nextDest, err := fixedpoint.Add(dest, amount)
	if err != nil {
		return false, err
	}

	m.balances[from] = nextSource
	m.balances[to] = nextDest
	return true, nil
}

// Faucet credits an account out of thin air. Test and demo setup only.
func (m *MemoryCollateral) Faucet(account uuid.UUID, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.balances[account]
	if current == nil {
		current = new(uint256.Int)
	}
	next, err := fixedpoint.Add(current, amount)
	if err != nil {
		return
	}
	m.balances[account] = next
}

// BalanceOf returns the holder's balance (a copy).
func (m *MemoryCollateral) BalanceOf(holder uuid.UUID) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balances[holder]
	if current == nil {
		return new(uint256.Int)
	}
	return current.Clone()
}
