package ledger_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableVault/internal/ledger"
)

func wad(n uint64) *uint256.Int {
	w := uint256.NewInt(1_000_000_000_000_000_000)
	return new(uint256.Int).Mul(uint256.NewInt(n), w)
}

// ============================================================================
// Test: AssetRegistry
// ============================================================================

func TestAssetRegistry_Lookup(t *testing.T) {
	reg, err := ledger.NewAssetRegistry([]string{"WETH", "WBTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, ok := reg.ID("WETH")
	if !ok || id == 0 {
		t.Errorf("WETH should resolve to a non-zero id, got %d ok=%v", id, ok)
	}
	symbol, ok := reg.Symbol(id)
	if !ok || symbol != "WETH" {
		t.Errorf("id %d should resolve back to WETH, got %q ok=%v", id, symbol, ok)
	}
}

func TestAssetRegistry_Unknown(t *testing.T) {
	reg, _ := ledger.NewAssetRegistry([]string{"WETH"})
	if _, ok := reg.ID("DOGE"); ok {
		t.Error("DOGE should not resolve")
	}
}

func TestAssetRegistry_RejectsDuplicates(t *testing.T) {
	if _, err := ledger.NewAssetRegistry([]string{"WETH", "WETH"}); err == nil {
		t.Error("duplicate symbols should be rejected")
	}
}

func TestAssetRegistry_RejectsEmptySymbol(t *testing.T) {
	if _, err := ledger.NewAssetRegistry([]string{""}); err == nil {
		t.Error("empty symbol should be rejected")
	}
}

// ============================================================================
// Test: Book collateral
// ============================================================================

func TestBook_CreditThenRead(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	if err := book.CreditCollateral(account, 1, wad(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := book.Collateral(account, 1); !got.Eq(wad(5)) {
		t.Errorf("got %s, want %s", got.Dec(), wad(5).Dec())
	}
}

func TestBook_UnknownAccountReadsZero(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	if got := book.Collateral(account, 1); !got.IsZero() {
		t.Errorf("unknown account collateral should be 0, got %s", got.Dec())
	}
	if got := book.Debt(account); !got.IsZero() {
		t.Errorf("unknown account debt should be 0, got %s", got.Dec())
	}
}

func TestBook_DebitInsufficient(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	if err := book.CreditCollateral(account, 1, wad(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := book.DebitCollateral(account, 1, wad(2))
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
	// Failed debit leaves the balance untouched.
	if got := book.Collateral(account, 1); !got.Eq(wad(1)) {
		t.Errorf("balance changed on failed debit: %s", got.Dec())
	}
}

func TestBook_DebitUnknownAccount(t *testing.T) {
	book := ledger.NewBook()
	err := book.DebitCollateral(uuid.New(), 1, wad(1))
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Errorf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestBook_FullDebitPrunesPosition(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	book.CreditCollateral(account, 1, wad(3))
	if err := book.DebitCollateral(account, 1, wad(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assets := book.CollateralAssets(account); len(assets) != 0 {
		t.Errorf("fully debited asset should disappear, got %v", assets)
	}
	if accounts := book.Accounts(); len(accounts) != 0 {
		t.Errorf("empty position should be pruned, got %d accounts", len(accounts))
	}
}

func TestBook_CollateralReadIsDetached(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	book.CreditCollateral(account, 1, wad(2))
	got := book.Collateral(account, 1)
	got.Clear()
	if again := book.Collateral(account, 1); !again.Eq(wad(2)) {
		t.Error("mutating a returned balance must not affect the book")
	}
}

// ============================================================================
// Test: Book debt
// ============================================================================

func TestBook_DebtLifecycle(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	if err := book.AddDebt(account, wad(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := book.ReduceDebt(account, wad(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := book.Debt(account); !got.Eq(wad(60)) {
		t.Errorf("got %s, want %s", got.Dec(), wad(60).Dec())
	}
}

func TestBook_ReduceDebtPastZero(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()

	book.AddDebt(account, wad(10))
	err := book.ReduceDebt(account, wad(11))
	if !errors.Is(err, ledger.ErrBurnAmountExceedsDebt) {
		t.Errorf("got %v, want ErrBurnAmountExceedsDebt", err)
	}
	if got := book.Debt(account); !got.Eq(wad(10)) {
		t.Errorf("debt changed on failed reduction: %s", got.Dec())
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestBook_SnapshotRestoreRoundTrip(t *testing.T) {
	book := ledger.NewBook()
	a, b := uuid.New(), uuid.New()

	book.CreditCollateral(a, 1, wad(5))
	book.CreditCollateral(a, 2, wad(7))
	book.AddDebt(a, wad(3))
	book.AddDebt(b, wad(9))

	snap := book.Snapshot()

	book.DebitCollateral(a, 1, wad(5))
	book.ReduceDebt(b, wad(9))
	book.Restore(snap)

	if got := book.Collateral(a, 1); !got.Eq(wad(5)) {
		t.Errorf("collateral after restore: got %s, want %s", got.Dec(), wad(5).Dec())
	}
	if got := book.Debt(b); !got.Eq(wad(9)) {
		t.Errorf("debt after restore: got %s, want %s", got.Dec(), wad(9).Dec())
	}
}

func TestBook_SnapshotIsDetached(t *testing.T) {
	book := ledger.NewBook()
	account := uuid.New()
	book.CreditCollateral(account, 1, wad(4))

	snap := book.Snapshot()
	book.CreditCollateral(account, 1, wad(1))

	if got := snap[account].Collateral[1]; !got.Eq(wad(4)) {
		t.Errorf("snapshot mutated by later write: %s", got.Dec())
	}
}
