package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableVault/internal/fixedpoint"
)

// liquidationPrecision is the denominator for the threshold and bonus
// percentages.
const liquidationPrecision = 100

// AccountSnapshot returns the account's outstanding debt and the USD value
// of all its collateral, both as wad values. Valuation fails if any held
// asset has a stale price.
func (e *Engine) AccountSnapshot(account uuid.UUID) (debtUsd, collateralUsd *uint256.Int, err error) {
	total := new(uint256.Int)
	for _, asset := range e.book.CollateralAssets(account) {
		amount := e.book.Collateral(account, asset)
		value, verr := e.prices.ValueInUSD(asset, amount)
		if verr != nil {
			return nil, nil, verr
		}
		total, verr = fixedpoint.Add(total, value)
		if verr != nil {
			return nil, nil, verr
		}
	}
	return e.book.Debt(account), total, nil
}

// HealthFactor measures how safely collateralized the account is, as a wad
// ratio. Below MinHealthFactor the account is insolvent and open to
// liquidation. An account with no debt has the maximum representable health
// factor; an account with debt and no collateral has zero.
func (e *Engine) HealthFactor(account uuid.UUID) (*uint256.Int, error) {
	debtUsd, collateralUsd, err := e.AccountSnapshot(account)
	if err != nil {
		return nil, err
	}
	return e.healthFactorFrom(debtUsd, collateralUsd)
}

func (e *Engine) healthFactorFrom(debtUsd, collateralUsd *uint256.Int) (*uint256.Int, error) {
	if debtUsd.IsZero() {
		return fixedpoint.MaxValue.Clone(), nil
	}
	// Only the threshold share of collateral value counts toward solvency.
	adjusted, err := fixedpoint.MulDiv(collateralUsd,
		uint256.NewInt(e.cfg.LiquidationThreshold),
		uint256.NewInt(liquidationPrecision))
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(adjusted, fixedpoint.Wad, debtUsd)
}

func (e *Engine) assertSolvent(account uuid.UUID) error {
	hf, err := e.HealthFactor(account)
	if err != nil {
		return err
	}
	if hf.Lt(e.cfg.MinHealthFactor) {
		return fmt.Errorf("%w: account %s health factor %s", ErrHealthFactorBroken, account, hf.Dec())
	}
	return nil
}
