package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"StableVault/internal/event"
	"StableVault/internal/ledger"
)

// EventRow is one row in vault.events.
type EventRow struct {
	Sequence  int64
	Kind      string
	Account   string
	Asset     string
	Amount    string
	Payload   []byte
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// JournalRow is one row in vault.journal: one ledger movement, several per
// event for compound operations and liquidations.
type JournalRow struct {
	EntryID   string
	Sequence  int64
	Account   string
	Asset     string
	Amount    string
	Kind      string
	Timestamp time.Time
}

// Output mirrors the engine's fan-out unit in row form. The orchestrator
// bridges engine outputs into this with NewOutput.
type Output struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// NewOutput converts one applied operation into its database rows.
func NewOutput(env *event.Envelope, entries []ledger.Entry) (Output, error) {
	var payload []byte
	if env.Payload != nil {
		var err error
		payload, err = json.Marshal(env.Payload)
		if err != nil {
			return Output{}, fmt.Errorf("marshal payload for sequence %d: %w", env.Sequence, err)
		}
	}

	out := Output{
		EventRow: EventRow{
			Sequence:  env.Sequence,
			Kind:      env.Kind.String(),
			Account:   env.Account.String(),
			Asset:     env.Asset,
			Amount:    env.Amount,
			Payload:   payload,
			StateHash: append([]byte(nil), env.StateHash[:]...),
			PrevHash:  append([]byte(nil), env.PrevHash[:]...),
			Timestamp: env.Timestamp,
		},
	}
	for _, entry := range entries {
		out.JournalRows = append(out.JournalRows, JournalRow{
			EntryID:   entry.EntryID.String(),
			Sequence:  env.Sequence,
			Account:   entry.Account.String(),
			Asset:     entry.Asset,
			Amount:    entry.Amount.Dec(),
			Kind:      entry.Kind.String(),
			Timestamp: entry.Timestamp,
		})
	}
	return out, nil
}

// EventLogWriter batch-writes events and journal rows to Postgres using
// multi-row INSERT. Writes are idempotent: re-inserting an already-written
// sequence or entry is a no-op.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO vault.events
		(sequence, kind, account, asset, amount, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)
	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.Kind, e.Account, e.Asset, e.Amount,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO vault.journal
		(entry_id, sequence, account, asset, amount, kind, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*7)
	for i, j := range journals {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			j.EntryID, j.Sequence, j.Account, j.Asset, j.Amount, j.Kind, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
