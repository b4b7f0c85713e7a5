package engine

import (
	"github.com/google/uuid"

	"StableVault/internal/ledger"
)

// SnapshotState is a point-in-time copy of everything needed to resume the
// engine: the position books, the next sequence, and the hash-chain head.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	Positions map[uuid.UUID]ledger.PositionSnapshot
}

// CreateSnapshotState deep-copies the current state. Call between
// operations only.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:  e.sequence,
		StateHash: e.hasher.GetPrevHash(),
		Positions: e.book.Snapshot(),
	}
}

// RestoreFromSnapshot replaces the engine's state wholesale. Call before
// the first operation, or to roll back in tests.
func (e *Engine) RestoreFromSnapshot(s *SnapshotState) {
	e.sequence = s.Sequence
	e.hasher.SetPrevHash(s.StateHash)
	e.book.Restore(s.Positions)
}
