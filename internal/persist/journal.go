package persist

import (
	"context"
	"fmt"

	"github.com/roach88/rowan/internal/pending"
	"github.com/roach88/rowan/internal/tree"
)

// NextEpoch reserves a fresh epoch for a new session. Write IDs restart
// at 1 inside each session, so the epoch keeps journal keys unique
// across restarts.
func (s *Store) NextEpoch(ctx context.Context) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(epoch), 0) FROM pending_writes
	`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next epoch: %w", err)
	}
	return max + 1, nil
}

// AppendWrite journals a speculative write before it goes to the server.
// Uses ON CONFLICT DO NOTHING for idempotency - re-journaling the same
// (epoch, write_id) is silently ignored.
func (s *Store) AppendWrite(ctx context.Context, epoch int64, w pending.Write) error {
	valueJSON, err := tree.MarshalCanonical(w.Value)
	if err != nil {
		return fmt.Errorf("append write: %w", err)
	}

	visible := 0
	if w.Visible {
		visible = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_writes (epoch, write_id, path, value, visible)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(epoch, write_id) DO NOTHING
	`,
		epoch,
		w.WriteID,
		w.Path.String(),
		string(valueJSON),
		visible,
	)
	if err != nil {
		return fmt.Errorf("append write: %w", err)
	}

	return nil
}

// RemoveWrite deletes a journaled write once the server acknowledges or
// rejects it. Idempotent: removing an absent write is a no-op.
func (s *Store) RemoveWrite(ctx context.Context, epoch, writeID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_writes WHERE epoch = ? AND write_id = ?
	`, epoch, writeID)
	if err != nil {
		return fmt.Errorf("remove write: %w", err)
	}
	return nil
}

// PendingWrites returns all journaled writes across epochs in overlay
// order (epoch ASC, write_id ASC). Used at session start to replay
// unacknowledged writes into a fresh registry.
//
// Returns an empty slice (not nil) when the journal is empty.
func (s *Store) PendingWrites(ctx context.Context) ([]pending.Write, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT write_id, path, value, visible
		FROM pending_writes
		ORDER BY epoch ASC, write_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending writes: %w", err)
	}
	defer rows.Close()

	var writes []pending.Write
	for rows.Next() {
		var (
			w         pending.Write
			pathStr   string
			valueJSON string
			visible   int
		)
		if err := rows.Scan(&w.WriteID, &pathStr, &valueJSON, &visible); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}

		path, err := tree.ParsePath(pathStr)
		if err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		w.Path = path

		value, err := tree.UnmarshalValue([]byte(valueJSON))
		if err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		w.Value = value
		w.Visible = visible != 0

		writes = append(writes, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending writes: %w", err)
	}

	if writes == nil {
		writes = []pending.Write{}
	}

	return writes, nil
}

// ClearWrites empties the journal. Used after replaying writes into a
// new epoch, or when the session aborts all queued work.
func (s *Store) ClearWrites(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_writes`); err != nil {
		return fmt.Errorf("clear writes: %w", err)
	}
	return nil
}
