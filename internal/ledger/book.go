package ledger

import (
	"errors"
	"fmt"

	"StableVault/internal/fixedpoint"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientCollateral is returned when a debit exceeds the
	// account's deposited balance for that asset.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrBurnAmountExceedsDebt is returned when a debt reduction exceeds
	// the account's outstanding debt.
	ErrBurnAmountExceedsDebt = errors.New("burn amount exceeds debt")
)

// position is the per-account ledger record: deposited collateral by asset
// plus outstanding stable-unit debt. Positions are owned exclusively by the
// Book; no pointer into one ever escapes.
type position struct {
	collateral map[AssetID]*uint256.Int
	debt       *uint256.Int
}

func newPosition() *position {
	return &position{
		collateral: make(map[AssetID]*uint256.Int),
		debt:       new(uint256.Int),
	}
}

// empty reports whether the position is in the canonical empty state.
func (p *position) empty() bool {
	return len(p.collateral) == 0 && p.debt.IsZero()
}

// Book is the ground-truth store for collateral custody and debt. Accounts
// are created implicitly on first write and removed again when they return
// to the empty state, so the map never accumulates dead entries.
//
// Book does no solvency reasoning; it only guarantees that no balance ever
// goes negative and that arithmetic never wraps. The engine layers the
// health-factor policy on top.
type Book struct {
	positions map[uuid.UUID]*position
}

func NewBook() *Book {
	return &Book{
		positions: make(map[uuid.UUID]*position),
	}
}

// CreditCollateral increases the account's deposited balance for asset.
func (b *Book) CreditCollateral(account uuid.UUID, asset AssetID, amount *uint256.Int) error {
	pos, ok := b.positions[account]
	if !ok {
		pos = newPosition()
		b.positions[account] = pos
	}

	current := pos.collateral[asset]
	if current == nil {
		current = new(uint256.Int)
	}

	next, err := fixedpoint.Add(current, amount)
	if err != nil {
		return fmt.Errorf("credit collateral for %s: %w", account, err)
	}
	pos.collateral[asset] = next
	return nil
}

// DebitCollateral decreases the account's deposited balance for asset,
// failing with ErrInsufficientCollateral rather than going negative.
func (b *Book) DebitCollateral(account uuid.UUID, asset AssetID, amount *uint256.Int) error {
	pos, ok := b.positions[account]
	if !ok {
		return fmt.Errorf("%w: account %s holds nothing", ErrInsufficientCollateral, account)
	}

	current := pos.collateral[asset]
	if current == nil || current.Lt(amount) {
		have := new(uint256.Int)
		if current != nil {
			have = current
		}
		return fmt.Errorf("%w: have=%s need=%s", ErrInsufficientCollateral, have.Dec(), amount.Dec())
	}

	next, err := fixedpoint.Sub(current, amount)
	if err != nil {
		return fmt.Errorf("debit collateral for %s: %w", account, err)
	}

	if next.IsZero() {
		delete(pos.collateral, asset)
	} else {
		pos.collateral[asset] = next
	}
	b.prune(account, pos)
	return nil
}

// AddDebt increases the account's outstanding debt.
func (b *Book) AddDebt(account uuid.UUID, amount *uint256.Int) error {
	pos, ok := b.positions[account]
	if !ok {
		pos = newPosition()
		b.positions[account] = pos
	}

	next, err := fixedpoint.Add(pos.debt, amount)
	if err != nil {
		return fmt.Errorf("add debt for %s: %w", account, err)
	}
	pos.debt = next
	return nil
}

// ReduceDebt decreases the account's outstanding debt, failing with
// ErrBurnAmountExceedsDebt rather than going negative.
func (b *Book) ReduceDebt(account uuid.UUID, amount *uint256.Int) error {
	pos, ok := b.positions[account]
	if !ok || pos.debt.Lt(amount) {
		have := new(uint256.Int)
		if ok {
			have = pos.debt
		}
		return fmt.Errorf("%w: debt=%s burn=%s", ErrBurnAmountExceedsDebt, have.Dec(), amount.Dec())
	}

	next, err := fixedpoint.Sub(pos.debt, amount)
	if err != nil {
		return fmt.Errorf("reduce debt for %s: %w", account, err)
	}
	pos.debt = next
	b.prune(account, pos)
	return nil
}

// Collateral returns the account's deposited balance for asset. The result
// is a copy; zero for unknown accounts or assets.
func (b *Book) Collateral(account uuid.UUID, asset AssetID) *uint256.Int {
	pos, ok := b.positions[account]
	if !ok {
		return new(uint256.Int)
	}
	current := pos.collateral[asset]
	if current == nil {
		return new(uint256.Int)
	}
	return current.Clone()
}

// Debt returns the account's outstanding debt. The result is a copy.
func (b *Book) Debt(account uuid.UUID) *uint256.Int {
	pos, ok := b.positions[account]
	if !ok {
		return new(uint256.Int)
	}
	return pos.debt.Clone()
}

// CollateralAssets returns the assets the account holds a nonzero balance
// in, sorted by asset ID for deterministic iteration.
func (b *Book) CollateralAssets(account uuid.UUID) []AssetID {
	pos, ok := b.positions[account]
	if !ok {
		return nil
	}

	assets := make([]AssetID, 0, len(pos.collateral))
	for asset := range pos.collateral {
		assets = append(assets, asset)
	}
	sortAssetIDs(assets)
	return assets
}

// Accounts returns every account with a non-empty position.
func (b *Book) Accounts() []uuid.UUID {
	accounts := make([]uuid.UUID, 0, len(b.positions))
	for account := range b.positions {
		accounts = append(accounts, account)
	}
	return accounts
}

func (b *Book) prune(account uuid.UUID, pos *position) {
	if pos.empty() {
		delete(b.positions, account)
	}
}

// PositionSnapshot is a detached copy of one account's ledger record.
type PositionSnapshot struct {
	Account    uuid.UUID
	Collateral map[AssetID]*uint256.Int
	Debt       *uint256.Int
}

// Snapshot deep-copies the whole book. Used for recovery snapshots and for
// before/after comparison in atomicity tests.
func (b *Book) Snapshot() map[uuid.UUID]PositionSnapshot {
	snap := make(map[uuid.UUID]PositionSnapshot, len(b.positions))
	for account, pos := range b.positions {
		collateral := make(map[AssetID]*uint256.Int, len(pos.collateral))
		for asset, amount := range pos.collateral {
			collateral[asset] = amount.Clone()
		}
		snap[account] = PositionSnapshot{
			Account:    account,
			Collateral: collateral,
			Debt:       pos.debt.Clone(),
		}
	}
	return snap
}

// Restore replaces the book's contents with a previously taken snapshot.
func (b *Book) Restore(snap map[uuid.UUID]PositionSnapshot) {
	b.positions = make(map[uuid.UUID]*position, len(snap))
	for account, ps := range snap {
		pos := newPosition()
		for asset, amount := range ps.Collateral {
			if amount.IsZero() {
				continue
			}
			pos.collateral[asset] = amount.Clone()
		}
		pos.debt = ps.Debt.Clone()
		if !pos.empty() {
			b.positions[account] = pos
		}
	}
}
