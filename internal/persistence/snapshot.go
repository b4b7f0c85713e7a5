package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableVault/internal/engine"
	"StableVault/internal/ledger"
)

// SnapshotManager stores and loads engine snapshots so a restart does not
// have to replay the whole event log.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotData is the serialized form of an engine snapshot.
type SnapshotData struct {
	Sequence  int64              `json:"sequence"`
	StateHash []byte             `json:"state_hash"`
	Positions []positionSnapJSON `json:"positions"`
	CreatedAt time.Time          `json:"created_at"`
}

type positionSnapJSON struct {
	Account    string            `json:"account"`
	Debt       string            `json:"debt"`
	Collateral map[string]string `json:"collateral"` // asset id (decimal) -> wad amount
}

// Encode converts engine snapshot state into its storable form.
func Encode(s *engine.SnapshotState) *SnapshotData {
	data := &SnapshotData{
		Sequence:  s.Sequence,
		StateHash: append([]byte(nil), s.StateHash[:]...),
		CreatedAt: time.Now(),
	}
	for account, pos := range s.Positions {
		p := positionSnapJSON{
			Account:    account.String(),
			Debt:       pos.Debt.Dec(),
			Collateral: make(map[string]string, len(pos.Collateral)),
		}
		for asset, amount := range pos.Collateral {
			p.Collateral[fmt.Sprintf("%d", asset)] = amount.Dec()
		}
		data.Positions = append(data.Positions, p)
	}
	return data
}

// Decode converts stored snapshot data back into engine snapshot state.
func Decode(data *SnapshotData) (*engine.SnapshotState, error) {
	state := &engine.SnapshotState{
		Sequence:  data.Sequence,
		Positions: make(map[uuid.UUID]ledger.PositionSnapshot, len(data.Positions)),
	}
	if len(data.StateHash) != len(state.StateHash) {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want %d", len(data.StateHash), len(state.StateHash))
	}
	copy(state.StateHash[:], data.StateHash)

	for _, p := range data.Positions {
		account, err := uuid.Parse(p.Account)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot account %q: %w", p.Account, err)
		}
		debt, err := uint256.FromDecimal(p.Debt)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot debt %q: %w", p.Debt, err)
		}
		pos := ledger.PositionSnapshot{
			Account:    account,
			Debt:       debt,
			Collateral: make(map[ledger.AssetID]*uint256.Int, len(p.Collateral)),
		}
		for assetStr, amountStr := range p.Collateral {
			var asset ledger.AssetID
			if _, err := fmt.Sscanf(assetStr, "%d", &asset); err != nil {
				return nil, fmt.Errorf("parse snapshot asset id %q: %w", assetStr, err)
			}
			amount, err := uint256.FromDecimal(amountStr)
			if err != nil {
				return nil, fmt.Errorf("parse snapshot amount %q: %w", amountStr, err)
			}
			pos.Collateral[asset] = amount
		}
		state.Positions[account] = pos
	}
	return state, nil
}

// Save persists a snapshot, replacing any earlier snapshot at the same
// sequence.
func (sm *SnapshotManager) Save(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault.snapshots (snapshot_id, sequence, data, state_hash, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)
	return err
}

// LoadLatest loads the most recent snapshot, or nil if none exists.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	var raw []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT data FROM vault.snapshots ORDER BY sequence DESC LIMIT 1`,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
