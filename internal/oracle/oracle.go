package oracle

import (
	"errors"
	"fmt"
	"time"

	"StableVault/internal/fixedpoint"
	"StableVault/internal/ledger"

	"github.com/holiman/uint256"
)

var (
	// ErrUnsupportedAsset is returned for assets with no registered price
	// source.
	ErrUnsupportedAsset = errors.New("unsupported asset")

	// ErrStalePrice is returned when a source's latest round is older than
	// the configured freshness bound. The engine prefers rejecting an
	// operation over valuing it with untrusted stale pricing.
	ErrStalePrice = errors.New("stale price")
)

// Round is one price observation from an external feed: an integer price
// with a fixed decimal exponent plus the time the feed last updated.
type Round struct {
	Price     *uint256.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// PriceSource is the external feed contract. Reads are synchronous and
// side-effect free; staleness enforcement is the adapter's job.
type PriceSource interface {
	LatestRound() (Round, error)
}

// Adapter converts collateral amounts into 18-decimal USD values using the
// per-asset price sources registered at construction. It is a pure function
// of current oracle state, with no caching and no mutation.
type Adapter struct {
	sources map[ledger.AssetID]PriceSource
	maxAge  time.Duration
	now     func() time.Time
}

// NewAdapter builds an adapter over the registered sources. maxAge is the
// freshness bound: rounds older than it fail with ErrStalePrice.
func NewAdapter(sources map[ledger.AssetID]PriceSource, maxAge time.Duration) *Adapter {
	return &Adapter{
		sources: sources,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// priceWad returns the asset's current price rescaled to 18 decimals.
func (a *Adapter) priceWad(asset ledger.AssetID) (*uint256.Int, error) {
	source, ok := a.sources[asset]
	if !ok {
		return nil, fmt.Errorf("%w: asset %d", ErrUnsupportedAsset, asset)
	}

	round, err := source.LatestRound()
	if err != nil {
		return nil, fmt.Errorf("latest round for asset %d: %w", asset, err)
	}

	if age := a.now().Sub(round.UpdatedAt); age > a.maxAge {
		return nil, fmt.Errorf("%w: asset %d updated %s ago (bound %s)",
			ErrStalePrice, asset, age.Truncate(time.Second), a.maxAge)
	}

	if round.Decimals > fixedpoint.WadDecimals {
		// Feeds with more than 18 decimals round down to wad precision.
		scale, err := fixedpoint.Pow10(round.Decimals - fixedpoint.WadDecimals)
		if err != nil {
			return nil, err
		}
		return new(uint256.Int).Div(round.Price, scale), nil
	}

	scale, err := fixedpoint.Pow10(fixedpoint.WadDecimals - round.Decimals)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Mul(round.Price, scale)
}

// ValueInUSD returns the 18-decimal USD value of amount units of asset.
func (a *Adapter) ValueInUSD(asset ledger.AssetID, amount *uint256.Int) (*uint256.Int, error) {
	price, err := a.priceWad(asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(amount, price, fixedpoint.Wad)
}

// TokenAmountFromUSD converts an 18-decimal USD value into the asset's
// native units at the current price. Inverse of ValueInUSD; used to size
// liquidation seizures.
func (a *Adapter) TokenAmountFromUSD(asset ledger.AssetID, usd *uint256.Int) (*uint256.Int, error) {
	price, err := a.priceWad(asset)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		return nil, fmt.Errorf("asset %d has zero price", asset)
	}
	return fixedpoint.MulDiv(usd, fixedpoint.Wad, price)
}
