package store

import (
	"context"
	"encoding/json"

	"match-beacon/internal/match"
)

// SaveFinal records a final snapshot as undelivered. Saving the same snapshot
// twice is a no-op.
func (s *Store) SaveFinal(ctx context.Context, state match.State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO final_snapshots (snapshot_id, match_id, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_id) DO NOTHING`,
		state.SnapshotID, state.MatchID, blob)
	return err
}

func (s *Store) MarkDelivered(ctx context.Context, snapshotID string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE final_snapshots SET delivered_at = now()
		WHERE snapshot_id = $1 AND delivered_at IS NULL`,
		snapshotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingFinals returns undelivered finals, oldest first.
func (s *Store) PendingFinals(ctx context.Context) ([]match.State, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT state FROM final_snapshots
		WHERE delivered_at IS NULL
		ORDER BY created_at, snapshot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.State
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var st match.State
		if err := json.Unmarshal(blob, &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
