package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/ledger"
	"LendingPool/internal/pool"
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: JSON-encoded SnapshotData.
const snapshotFormatVersion int32 = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON document stored in event_log.snapshots. Reserves
// and positions live inside Pool, keyed by asset and (user, asset).
type SnapshotData struct {
	Sequence        int64                      `json:"sequence"`
	StateHash       []byte                     `json:"state_hash"`
	Clock           int64                      `json:"clock"`
	Balances        map[string]int64           `json:"balances"` // AccountPath -> balance
	Assets          []string                   `json:"assets"`
	Pool            *pool.Snapshot             `json:"pool,omitempty"`
	Prices          map[string]state.PriceData `json:"prices"`
	Fund            state.FundState            `json:"fund"`
	SequenceState   map[string]int64           `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string                   `json:"idempotency_keys"` // oldest first
	CreatedAt       time.Time                  `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromCoreState converts the core's in-memory snapshot into its stored form.
func FromCoreState(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	d := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Clock:           s.Clock,
		Balances:        make(map[string]int64, len(s.Balances)),
		Assets:          s.Assets,
		Pool:            s.Pool,
		Prices:          s.Prices,
		Fund:            s.Fund,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt.UTC(),
	}
	for key, balance := range s.Balances {
		d.Balances[key.AccountPath()] = balance
	}
	return d
}

// CoreState converts the stored document back into a core snapshot. Assets
// are registered in their original order before paths are parsed.
func (d *SnapshotData) CoreState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash is %d bytes", d.Sequence, len(d.StateHash))
	}
	for _, asset := range d.Assets {
		ledger.RegisterAsset(asset)
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Clock:           d.Clock,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Assets:          d.Assets,
		Pool:            d.Pool,
		Prices:          d.Prices,
		Fund:            d.Fund,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		s.Balances[key] = balance
	}
	return s, nil
}

// SaveSnapshot persists a snapshot as unverified and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var (
		data    []byte
		version int32
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks snapshots up to sequence as verified once the event
// log has caught up with them.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE
		WHERE sequence <= $1 AND verified = FALSE
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events with sequence >= fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e     EventRow
			asset sql.NullString
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		if asset.Valid {
			e.Asset = &asset.String
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// ReplayLog feeds every logged event with sequence >= fromSequence to apply,
// in order, and returns how many were applied.
func (sm *SnapshotManager) ReplayLog(
	ctx context.Context,
	fromSequence int64,
	batchSize int,
	apply func(*event.EventEnvelope) error,
) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var replayed int64

	for {
		rows, err := sm.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for i := range rows {
			env, err := rows[i].Envelope()
			if err != nil {
				return replayed, err
			}
			if err := apply(env); err != nil {
				return replayed, err
			}
			replayed++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}
