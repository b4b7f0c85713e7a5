package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EntryKind classifies a ledger movement for the event log.
type EntryKind int32

const (
	EntryKindDeposit EntryKind = iota
	EntryKindWithdraw
	EntryKindDebtMint
	EntryKindDebtBurn
	EntryKindLiquidationRepay
	EntryKindLiquidationSeize
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindDeposit:
		return "deposit"
	case EntryKindWithdraw:
		return "withdraw"
	case EntryKindDebtMint:
		return "debt_mint"
	case EntryKindDebtBurn:
		return "debt_burn"
	case EntryKindLiquidationRepay:
		return "liquidation_repay"
	case EntryKindLiquidationSeize:
		return "liquidation_seize"
	default:
		return "unknown"
	}
}

// Entry records one applied ledger movement. Entries are emitted by the
// engine alongside each operation's notification and written to the event
// log; they are never read back by the engine itself.
type Entry struct {
	EntryID   uuid.UUID
	Account   uuid.UUID
	Asset     string // symbol; empty for debt movements
	Amount    *uint256.Int
	Kind      EntryKind
	Timestamp time.Time
}

// Validate ensures the entry is well-formed before it reaches the log.
func (e Entry) Validate() error {
	if e.Amount == nil || e.Amount.IsZero() {
		return fmt.Errorf("entry %s has zero amount", e.EntryID)
	}
	if e.Account == uuid.Nil {
		return fmt.Errorf("entry %s has no account", e.EntryID)
	}
	return nil
}
