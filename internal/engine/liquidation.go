package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableVault/internal/event"
	"StableVault/internal/fixedpoint"
	"StableVault/internal/ledger"
)

// Liquidate lets a solvent third party repay part or all of an insolvent
// target's debt in exchange for the equivalent collateral plus a bonus. The
// liquidator pays with their own stable units, which are burned; the seized
// collateral is transferred to them from the vault. Partial liquidations
// are allowed and need not restore the target above the minimum, but they
// must leave the target's health factor strictly higher than it started.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target uuid.UUID, asset string, debtToCover *uint256.Int) error {
	const op = "liquidate"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.liquidate(ctx, liquidator, target, asset, debtToCover); err != nil {
		e.reject(op, liquidator, err)
		if e.metrics != nil {
			e.metrics.LiquidationRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		return err
	}
	e.applied(op, start)
	if e.metrics != nil {
		e.metrics.LiquidationsTotal.Inc()
	}
	return nil
}

func (e *Engine) liquidate(ctx context.Context, liquidator, target uuid.UUID, asset string, debtToCover *uint256.Int) error {
	id, tok, err := e.resolveAsset(asset, debtToCover)
	if err != nil {
		return err
	}

	startingHF, err := e.HealthFactor(target)
	if err != nil {
		return err
	}
	if !startingHF.Lt(e.cfg.MinHealthFactor) {
		return fmt.Errorf("%w: target %s health factor %s", ErrHealthFactorOk, target, startingHF.Dec())
	}
	if debt := e.book.Debt(target); debt.Lt(debtToCover) {
		return fmt.Errorf("%w: debt %s, repay %s", ledger.ErrBurnAmountExceedsDebt, debt.Dec(), debtToCover.Dec())
	}

	// Seizure is the repaid value in collateral terms plus the bonus.
	base, err := e.prices.TokenAmountFromUSD(id, debtToCover)
	if err != nil {
		return err
	}
	bonus, err := fixedpoint.MulDiv(base, uint256.NewInt(e.cfg.LiquidationBonus), uint256.NewInt(liquidationPrecision))
	if err != nil {
		return err
	}
	seize, err := fixedpoint.Add(base, bonus)
	if err != nil {
		return err
	}
	if held := e.book.Collateral(target, id); held.Lt(seize) {
		return fmt.Errorf("%w: held %s, need %s", ErrInsufficientCollateralToSeize, held.Dec(), seize.Dec())
	}

	if err := e.stable.BurnFrom(ctx, liquidator, debtToCover); err != nil {
		return transferErr("liquidator stable burn", err)
	}
	e.mustReduceDebt(target, debtToCover)
	e.mustDebit(target, id, seize)

	unwind := func() {
		e.mustCredit(target, id, seize)
		e.mustAddDebt(target, debtToCover)
		if mok, merr := e.stable.Mint(ctx, liquidator, debtToCover); merr != nil || !mok {
			e.log.Error().Err(merr).
				Str("liquidator", liquidator.String()).
				Str("amount", debtToCover.Dec()).
				Msg("failed to restore liquidator stable units while unwinding seizure")
		}
	}

	// The bonus strips collateral value faster than debt when the position is
	// deep enough underwater, which would push the health factor down instead
	// of up. Reject the call rather than leave the target worse off.
	endingHF, err := e.HealthFactor(target)
	if err == nil && !startingHF.Lt(endingHF) {
		err = fmt.Errorf("%w: before %s, after %s",
			ErrHealthFactorNotImproved, startingHF.Dec(), endingHF.Dec())
	}
	if err != nil {
		unwind()
		return err
	}

	ok, err := tok.Transfer(ctx, liquidator, seize)
	if err != nil || !ok {
		unwind()
		return transferErr("collateral seizure", err)
	}

	detail := event.LiquidationDetail{
		Liquidator:       liquidator,
		Target:           target,
		Asset:            asset,
		DebtRepaid:       debtToCover.Dec(),
		CollateralSeized: seize.Dec(),
		HealthFactor:     endingHF.Dec(),
	}

	entries := []ledger.Entry{
		e.entry(target, event.StableSymbol, debtToCover, ledger.EntryKindLiquidationRepay),
		e.entry(target, asset, seize, ledger.EntryKindLiquidationSeize),
	}
	e.emit(event.KindPositionLiquidated, target, asset, debtToCover, detail, entries, target, liquidator)
	return nil
}
