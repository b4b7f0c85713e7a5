package event

import (
	"time"

	"github.com/google/uuid"
)

// StableSymbol is the asset label stamped on debt-side notifications.
const StableSymbol = "SVU"

// Kind discriminates operation notifications.
type Kind int32

const (
	KindUnknown Kind = iota
	KindCollateralDeposited
	KindCollateralWithdrawn
	KindStableMinted
	KindStableBurned
	KindPositionLiquidated
)

func (k Kind) String() string {
	switch k {
	case KindCollateralDeposited:
		return "CollateralDeposited"
	case KindCollateralWithdrawn:
		return "CollateralWithdrawn"
	case KindStableMinted:
		return "StableMinted"
	case KindStableBurned:
		return "StableBurned"
	case KindPositionLiquidated:
		return "PositionLiquidated"
	default:
		return "Unknown"
	}
}

// Envelope wraps every operation notification the engine emits. It is a
// side effect for external observers only; the engine never reads one
// back.
type Envelope struct {
	// Engine-assigned monotonic sequence
	Sequence int64

	// Notification discriminator
	Kind Kind

	// Account the operation acted on (the liquidation target for
	// PositionLiquidated)
	Account uuid.UUID

	// Collateral asset symbol; empty for pure debt operations
	Asset string

	// Decimal wad amount the operation moved
	Amount string

	Timestamp time.Time

	// Kind-specific detail, JSON-encoded downstream
	Payload any

	// SHA-256 of affected positions AFTER applying this operation
	StateHash [32]byte

	// Previous notification's state hash (chain integrity)
	PrevHash [32]byte
}

// LiquidationDetail is the payload attached to PositionLiquidated.
type LiquidationDetail struct {
	Liquidator       uuid.UUID `json:"liquidator"`
	Target           uuid.UUID `json:"target"`
	Asset            string    `json:"asset"`
	DebtRepaid       string    `json:"debt_repaid"`
	CollateralSeized string    `json:"collateral_seized"`
	HealthFactor     string    `json:"health_factor_after"`
}
