// Package token defines the fungible-token collaborator contracts the
// engine consumes. Balance and supply tracking live entirely behind these
// interfaces; the engine only instructs transfers, mints, and burns.
package token

import (
	"context"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Stable is the stable-unit token. The interface value handed to the
// engine at construction IS the mint/burn capability: nothing else in the
// system holds a reference that can mint.
type Stable interface {
	// Mint creates amount units for the holder. A false return with nil
	// error means the collaborator declined the mint.
	Mint(ctx context.Context, to uuid.UUID, amount *uint256.Int) (bool, error)

	// BurnFrom destroys amount units held by holder.
	BurnFrom(ctx context.Context, holder uuid.UUID, amount *uint256.Int) error
}

// Collateral is a fungible collateral asset with standard transfer
// primitives. A false return with nil error means the transfer was
// declined (e.g. insufficient balance at the collaborator).
type Collateral interface {
	TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) (bool, error)
	Transfer(ctx context.Context, to uuid.UUID, amount *uint256.Int) (bool, error)
}
