package engine

import "errors"

// Operation errors. All are terminal for the operation that raised them;
// nothing is retried inside the engine. Ledger-level errors
// (ledger.ErrInsufficientCollateral, ledger.ErrBurnAmountExceedsDebt) and
// oracle-level errors (oracle.ErrUnsupportedAsset, oracle.ErrStalePrice)
// surface through the same operations and are matched with errors.Is.
var (
	// ErrZeroAmount rejects operations on a zero quantity.
	ErrZeroAmount = errors.New("zero amount")

	// ErrConfigLengthMismatch rejects engine construction when the asset,
	// price-source, and token lists disagree in length.
	ErrConfigLengthMismatch = errors.New("config length mismatch")

	// ErrHealthFactorBroken rejects an operation that would leave the
	// account under-collateralized.
	ErrHealthFactorBroken = errors.New("health factor broken")

	// ErrHealthFactorOk rejects a liquidation attempt on a solvent target.
	ErrHealthFactorOk = errors.New("health factor ok")

	// ErrInsufficientCollateralToSeize rejects a liquidation whose
	// bonus-inflated seizure exceeds the target's balance in that asset.
	ErrInsufficientCollateralToSeize = errors.New("insufficient collateral to seize")

	// ErrHealthFactorNotImproved rejects a liquidation that would leave the
	// target's health factor no higher than it started.
	ErrHealthFactorNotImproved = errors.New("health factor not improved")

	// ErrTransferFailed wraps a declined or failed token transfer or burn.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrMintFailed wraps a declined or failed stable-unit mint.
	ErrMintFailed = errors.New("mint failed")

	// ErrReentrantCall rejects nested entry into a guarded operation while
	// another one is executing.
	ErrReentrantCall = errors.New("reentrant call")
)
