package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"StableVault/internal/event"
	"StableVault/internal/fixedpoint"
	"StableVault/internal/ledger"
	"StableVault/internal/observability"
	"StableVault/internal/oracle"
	"StableVault/internal/token"
)

// Config holds the solvency parameters applied to every account.
type Config struct {
	// LiquidationThreshold is the percent of collateral value that counts
	// toward solvency. 50 means a position must stay 200% collateralized.
	LiquidationThreshold uint64

	// LiquidationBonus is the percent premium, in collateral, paid to a
	// liquidator on top of the debt value they repay.
	LiquidationBonus uint64

	// MinHealthFactor is the wad ratio below which an account is insolvent.
	MinHealthFactor *uint256.Int

	// MaxPriceAge is how old an oracle round may be before it is rejected
	// as stale.
	MaxPriceAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		LiquidationThreshold: 50,
		LiquidationBonus:     10,
		MinHealthFactor:      fixedpoint.Wad.Clone(),
		MaxPriceAge:          3 * time.Hour,
	}
}

// Assets binds each supported collateral symbol to its price source and its
// token backend. The three slices are positional and must have equal length.
type Assets struct {
	Symbols []string
	Sources []oracle.PriceSource
	Tokens  []token.Collateral
}

// Output carries one applied operation to the persistence and notification
// sides: the event envelope plus the ledger entries it produced.
type Output struct {
	Envelope *event.Envelope
	Entries  []ledger.Entry
}

// Engine applies position operations against the collateral and debt books.
// Operations are atomic: they either complete every step or leave the books
// exactly as they were. Callers are expected to serialize operations; a
// concurrent or nested call fails with ErrReentrantCall instead of
// interleaving.
type Engine struct {
	cfg Config

	registry   *ledger.AssetRegistry
	book       *ledger.Book
	prices     *oracle.Adapter
	stable     token.Stable
	collateral map[ledger.AssetID]token.Collateral
	vaultID    uuid.UUID

	inProgress atomic.Bool
	sequence   int64
	hasher     *StateHasher

	persistChan chan<- Output
	notifyChan  chan<- Output

	metrics *observability.Metrics
	log     zerolog.Logger
}

// New builds an engine over the given asset set. persistChan receives every
// applied operation and blocks the engine when full; notifyChan is
// best-effort and drops when full. Either may be nil.
func New(cfg Config, assets Assets, stable token.Stable,
	persistChan, notifyChan chan<- Output,
	metrics *observability.Metrics, log zerolog.Logger) (*Engine, error) {

	if len(assets.Symbols) != len(assets.Sources) || len(assets.Symbols) != len(assets.Tokens) {
		return nil, fmt.Errorf("%w: %d symbols, %d sources, %d tokens",
			ErrConfigLengthMismatch, len(assets.Symbols), len(assets.Sources), len(assets.Tokens))
	}
	if cfg.LiquidationThreshold == 0 || cfg.LiquidationThreshold > liquidationPrecision {
		return nil, fmt.Errorf("liquidation threshold %d out of range (1..%d)",
			cfg.LiquidationThreshold, liquidationPrecision)
	}
	if cfg.MinHealthFactor == nil {
		cfg.MinHealthFactor = fixedpoint.Wad.Clone()
	}

	registry, err := ledger.NewAssetRegistry(assets.Symbols)
	if err != nil {
		return nil, err
	}

	sources := make(map[ledger.AssetID]oracle.PriceSource, len(assets.Symbols))
	collateral := make(map[ledger.AssetID]token.Collateral, len(assets.Symbols))
	for i, symbol := range assets.Symbols {
		id, ok := registry.ID(symbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", oracle.ErrUnsupportedAsset, symbol)
		}
		sources[id] = assets.Sources[i]
		collateral[id] = assets.Tokens[i]
	}

	return &Engine{
		cfg:         cfg,
		registry:    registry,
		book:        ledger.NewBook(),
		prices:      oracle.NewAdapter(sources, cfg.MaxPriceAge),
		stable:      stable,
		collateral:  collateral,
		vaultID:     uuid.New(),
		hasher:      NewStateHasher(),
		persistChan: persistChan,
		notifyChan:  notifyChan,
		metrics:     metrics,
		log:         log,
	}, nil
}

// VaultID identifies the engine as the custodian account that collateral
// deposits are transferred to.
func (e *Engine) VaultID() uuid.UUID {
	return e.vaultID
}

// Registry exposes the supported asset set.
func (e *Engine) Registry() *ledger.AssetRegistry {
	return e.registry
}

// CollateralBalance returns the account's deposited balance of one asset.
func (e *Engine) CollateralBalance(account uuid.UUID, asset string) (*uint256.Int, error) {
	id, ok := e.registry.ID(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", oracle.ErrUnsupportedAsset, asset)
	}
	return e.book.Collateral(account, id), nil
}

// Debt returns the account's outstanding stable-unit debt.
func (e *Engine) Debt(account uuid.UUID) *uint256.Int {
	return e.book.Debt(account)
}

func (e *Engine) enter(op string) error {
	if !e.inProgress.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrReentrantCall, op)
	}
	return nil
}

func (e *Engine) exit() {
	e.inProgress.Store(false)
}

// DepositCollateral pulls collateral from the caller into the vault and
// credits their position. Depositing never requires a solvency check.
func (e *Engine) DepositCollateral(ctx context.Context, caller uuid.UUID, asset string, amount *uint256.Int) error {
	const op = "deposit_collateral"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.depositCollateral(ctx, caller, asset, amount); err != nil {
		e.reject(op, caller, err)
		return err
	}
	e.applied(op, start)
	return nil
}

func (e *Engine) depositCollateral(ctx context.Context, caller uuid.UUID, asset string, amount *uint256.Int) error {
	id, tok, err := e.resolveAsset(asset, amount)
	if err != nil {
		return err
	}
	if err := e.pullCollateral(ctx, caller, id, tok, amount); err != nil {
		return err
	}
	e.emit(event.KindCollateralDeposited, caller, asset, amount, nil,
		[]ledger.Entry{e.entry(caller, asset, amount, ledger.EntryKindDeposit)}, caller)
	return nil
}

// WithdrawCollateral debits the caller's position and returns collateral to
// them, provided the position stays solvent.
func (e *Engine) WithdrawCollateral(ctx context.Context, caller uuid.UUID, asset string, amount *uint256.Int) error {
	const op = "withdraw_collateral"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.withdrawCollateral(ctx, caller, asset, amount); err != nil {
		e.reject(op, caller, err)
		return err
	}
	e.applied(op, start)
	return nil
}

func (e *Engine) withdrawCollateral(ctx context.Context, caller uuid.UUID, asset string, amount *uint256.Int) error {
	id, tok, err := e.resolveAsset(asset, amount)
	if err != nil {
		return err
	}
	if err := e.book.DebitCollateral(caller, id, amount); err != nil {
		return err
	}
	if err := e.assertSolvent(caller); err != nil {
		e.mustCredit(caller, id, amount)
		return err
	}
	ok, err := tok.Transfer(ctx, caller, amount)
	if err != nil || !ok {
		e.mustCredit(caller, id, amount)
		return transferErr("collateral withdrawal", err)
	}
	e.emit(event.KindCollateralWithdrawn, caller, asset, amount, nil,
		[]ledger.Entry{e.entry(caller, asset, amount, ledger.EntryKindWithdraw)}, caller)
	return nil
}

// MintStableUnit records new debt against the caller and mints stable units
// to them, provided the position stays solvent.
func (e *Engine) MintStableUnit(ctx context.Context, caller uuid.UUID, amount *uint256.Int) error {
	const op = "mint_stable"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.mintStable(ctx, caller, amount); err != nil {
		e.reject(op, caller, err)
		return err
	}
	e.applied(op, start)
	return nil
}

func (e *Engine) mintStable(ctx context.Context, caller uuid.UUID, amount *uint256.Int) error {
	if isZero(amount) {
		return ErrZeroAmount
	}
	if err := e.book.AddDebt(caller, amount); err != nil {
		return err
	}
	if err := e.assertSolvent(caller); err != nil {
		e.mustReduceDebt(caller, amount)
		return err
	}
	ok, err := e.stable.Mint(ctx, caller, amount)
	if err != nil || !ok {
		e.mustReduceDebt(caller, amount)
		return mintErr(err)
	}
	e.emit(event.KindStableMinted, caller, event.StableSymbol, amount, nil,
		[]ledger.Entry{e.entry(caller, event.StableSymbol, amount, ledger.EntryKindDebtMint)}, caller)
	return nil
}

// BurnStableUnit burns stable units held by the caller and reduces their
// debt by the same amount. Burning never requires a solvency check.
func (e *Engine) BurnStableUnit(ctx context.Context, caller uuid.UUID, amount *uint256.Int) error {
	const op = "burn_stable"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.burnStable(ctx, caller, amount); err != nil {
		e.reject(op, caller, err)
		return err
	}
	e.applied(op, start)
	return nil
}

func (e *Engine) burnStable(ctx context.Context, caller uuid.UUID, amount *uint256.Int) error {
	if isZero(amount) {
		return ErrZeroAmount
	}
	if debt := e.book.Debt(caller); debt.Lt(amount) {
		return fmt.Errorf("%w: debt %s, burn %s", ledger.ErrBurnAmountExceedsDebt, debt.Dec(), amount.Dec())
	}
	if err := e.stable.BurnFrom(ctx, caller, amount); err != nil {
		return transferErr("stable burn", err)
	}
	if err := e.book.ReduceDebt(caller, amount); err != nil {
		panic(fmt.Sprintf("FATAL: debt reduction failed after burn: %v", err))
	}
	e.emit(event.KindStableBurned, caller, event.StableSymbol, amount, nil,
		[]ledger.Entry{e.entry(caller, event.StableSymbol, amount, ledger.EntryKindDebtBurn)}, caller)
	return nil
}

// DepositAndMint deposits collateral and mints stable units as one atomic
// operation with a single solvency check at the end. If any step fails the
// deposit is unwound as well.
func (e *Engine) DepositAndMint(ctx context.Context, caller uuid.UUID, asset string, depositAmount, mintAmount *uint256.Int) error {
	const op = "deposit_and_mint"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.depositAndMint(ctx, caller, asset, depositAmount, mintAmount); err != nil {
		e.reject(op, caller, err)
		return err
	}
	e.applied(op, start)
	return nil
}

func (e *Engine) depositAndMint(ctx context.Context, caller uuid.UUID, asset string, depositAmount, mintAmount *uint256.Int) error {
	if isZero(mintAmount) {
		return ErrZeroAmount
	}
	id, tok, err := e.resolveAsset(asset, depositAmount)
	if err != nil {
		return err
	}
	if err := e.pullCollateral(ctx, caller, id, tok, depositAmount); err != nil {
		return err
	}

	unwindDeposit := func() {
		e.mustDebit(caller, id, depositAmount)
		if ok, terr := tok.Transfer(ctx, caller, depositAmount); terr != nil || !ok {
			e.log.Error().Err(terr).
				Str("account", caller.String()).
				Str("asset", asset).
				Str("amount", depositAmount.Dec()).
				Msg("failed to return collateral while unwinding deposit")
		}
	}

	if err := e.book.AddDebt(caller, mintAmount); err != nil {
		unwindDeposit()
		return err
	}
	if err := e.assertSolvent(caller); err != nil {
		e.mustReduceDebt(caller, mintAmount)
		unwindDeposit()
		return err
	}
	ok, err := e.stable.Mint(ctx, caller, mintAmount)
	if err != nil || !ok {
		e.mustReduceDebt(caller, mintAmount)
		unwindDeposit()
		return mintErr(err)
	}

	e.emit(event.KindCollateralDeposited, caller, asset, depositAmount, nil,
		[]ledger.Entry{e.entry(caller, asset, depositAmount, ledger.EntryKindDeposit)}, caller)
	e.emit(event.KindStableMinted, caller, event.StableSymbol, mintAmount, nil,
		[]ledger.Entry{e.entry(caller, event.StableSymbol, mintAmount, ledger.EntryKindDebtMint)}, caller)
	return nil
}

// WithdrawAndBurn burns stable units and withdraws collateral as one atomic
// operation with a single solvency check at the end. If any step fails the
// burn is unwound as well.
func (e *Engine) WithdrawAndBurn(ctx context.Context, caller uuid.UUID, asset string, withdrawAmount, burnAmount *uint256.Int) error {
	const op = "withdraw_and_burn"
	if err := e.enter(op); err != nil {
		return err
	}
	defer e.exit()

	start := time.Now()
	if err := e.withdrawAndBurn(ctx, caller, asset, withdrawAmount, burnAmount); err != nil {
		e.reject(op, caller, err)
		return err
	}
	e.applied(op, start)
	return nil
}

func (e *Engine) withdrawAndBurn(ctx context.Context, caller uuid.UUID, asset string, withdrawAmount, burnAmount *uint256.Int) error {
	if isZero(burnAmount) {
		return ErrZeroAmount
	}
	id, tok, err := e.resolveAsset(asset, withdrawAmount)
	if err != nil {
		return err
	}
	if debt := e.book.Debt(caller); debt.Lt(burnAmount) {
		return fmt.Errorf("%w: debt %s, burn %s", ledger.ErrBurnAmountExceedsDebt, debt.Dec(), burnAmount.Dec())
	}
	if err := e.stable.BurnFrom(ctx, caller, burnAmount); err != nil {
		return transferErr("stable burn", err)
	}
	if err := e.book.ReduceDebt(caller, burnAmount); err != nil {
		panic(fmt.Sprintf("FATAL: debt reduction failed after burn: %v", err))
	}

	unwindBurn := func() {
		e.mustAddDebt(caller, burnAmount)
		if ok, merr := e.stable.Mint(ctx, caller, burnAmount); merr != nil || !ok {
			e.log.Error().Err(merr).
				Str("account", caller.String()).
				Str("amount", burnAmount.Dec()).
				Msg("failed to restore stable units while unwinding burn")
		}
	}

	if err := e.book.DebitCollateral(caller, id, withdrawAmount); err != nil {
		unwindBurn()
		return err
	}
	if err := e.assertSolvent(caller); err != nil {
		e.mustCredit(caller, id, withdrawAmount)
		unwindBurn()
		return err
	}
	ok, err := tok.Transfer(ctx, caller, withdrawAmount)
	if err != nil || !ok {
		e.mustCredit(caller, id, withdrawAmount)
		unwindBurn()
		return transferErr("collateral withdrawal", err)
	}

	e.emit(event.KindStableBurned, caller, event.StableSymbol, burnAmount, nil,
		[]ledger.Entry{e.entry(caller, event.StableSymbol, burnAmount, ledger.EntryKindDebtBurn)}, caller)
	e.emit(event.KindCollateralWithdrawn, caller, asset, withdrawAmount, nil,
		[]ledger.Entry{e.entry(caller, asset, withdrawAmount, ledger.EntryKindWithdraw)}, caller)
	return nil
}

func (e *Engine) resolveAsset(asset string, amount *uint256.Int) (ledger.AssetID, token.Collateral, error) {
	if isZero(amount) {
		return 0, nil, ErrZeroAmount
	}
	id, ok := e.registry.ID(asset)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s", oracle.ErrUnsupportedAsset, asset)
	}
	return id, e.collateral[id], nil
}

// pullCollateral moves tokens from the caller into the vault and credits the
// position, returning the tokens if the credit is rejected.
func (e *Engine) pullCollateral(ctx context.Context, caller uuid.UUID, id ledger.AssetID, tok token.Collateral, amount *uint256.Int) error {
	ok, err := tok.TransferFrom(ctx, caller, e.vaultID, amount)
	if err != nil || !ok {
		return transferErr("collateral deposit", err)
	}
	if err := e.book.CreditCollateral(caller, id, amount); err != nil {
		if rok, rerr := tok.Transfer(ctx, caller, amount); rerr != nil || !rok {
			e.log.Error().Err(rerr).
				Str("account", caller.String()).
				Str("amount", amount.Dec()).
				Msg("failed to return collateral after rejected credit")
		}
		return err
	}
	return nil
}

// The must* helpers unwind ledger writes whose preconditions were already
// established inside the same operation. A failure here means the books are
// corrupted and continuing would compound the damage.

func (e *Engine) mustCredit(account uuid.UUID, id ledger.AssetID, amount *uint256.Int) {
	if err := e.book.CreditCollateral(account, id, amount); err != nil {
		panic(fmt.Sprintf("FATAL: rollback credit failed: %v", err))
	}
}

func (e *Engine) mustDebit(account uuid.UUID, id ledger.AssetID, amount *uint256.Int) {
	if err := e.book.DebitCollateral(account, id, amount); err != nil {
		panic(fmt.Sprintf("FATAL: rollback debit failed: %v", err))
	}
}

func (e *Engine) mustAddDebt(account uuid.UUID, amount *uint256.Int) {
	if err := e.book.AddDebt(account, amount); err != nil {
		panic(fmt.Sprintf("FATAL: rollback debt add failed: %v", err))
	}
}

func (e *Engine) mustReduceDebt(account uuid.UUID, amount *uint256.Int) {
	if err := e.book.ReduceDebt(account, amount); err != nil {
		panic(fmt.Sprintf("FATAL: rollback debt reduction failed: %v", err))
	}
}

func (e *Engine) entry(account uuid.UUID, asset string, amount *uint256.Int, kind ledger.EntryKind) ledger.Entry {
	return ledger.Entry{
		EntryID:   uuid.New(),
		Account:   account,
		Asset:     asset,
		Amount:    amount.Clone(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// emit assigns the next sequence, advances the state-hash chain over the
// touched accounts, and fans the output out. The persist channel blocks so
// no applied operation is ever lost; the notify channel drops when full.
func (e *Engine) emit(kind event.Kind, account uuid.UUID, asset string, amount *uint256.Int, payload any, entries []ledger.Entry, touched ...uuid.UUID) {
	seq := e.sequence
	e.sequence++

	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(seq, e.positionDigest(touched...))

	out := Output{
		Envelope: &event.Envelope{
			Sequence:  seq,
			Kind:      kind,
			Account:   account,
			Asset:     asset,
			Amount:    amount.Dec(),
			Timestamp: time.Now(),
			Payload:   payload,
			StateHash: hash,
			PrevHash:  prev,
		},
		Entries: entries,
	}

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.notifyChan != nil {
		select {
		case e.notifyChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.NotifyDrops.Inc()
			}
			e.log.Warn().Int64("sequence", seq).Msg("notify channel full, dropping output")
		}
	}
	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
}

func (e *Engine) applied(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	e.log.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("operation applied")
}

func (e *Engine) reject(op string, account uuid.UUID, err error) {
	reason := rejectReason(err)
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
		if errors.Is(err, ErrHealthFactorBroken) {
			e.metrics.SolvencyRejections.Inc()
		}
		if errors.Is(err, oracle.ErrStalePrice) {
			e.metrics.StalePriceRejects.Inc()
		}
	}
	e.log.Warn().Str("op", op).Str("account", account.String()).Str("reason", reason).Err(err).Msg("operation rejected")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrInsufficientCollateralToSeize):
		return "insufficient_collateral_to_seize"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrBurnAmountExceedsDebt):
		return "burn_exceeds_debt"
	case errors.Is(err, oracle.ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, fixedpoint.ErrOverflow), errors.Is(err, fixedpoint.ErrUnderflow):
		return "arithmetic"
	default:
		return "internal"
	}
}

func transferErr(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferFailed, what, err)
	}
	return fmt.Errorf("%w: %s declined", ErrTransferFailed, what)
}

func mintErr(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	return fmt.Errorf("%w: stable mint declined", ErrMintFailed)
}

func isZero(amount *uint256.Int) bool {
	return amount == nil || amount.IsZero()
}
