package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rowan/internal/tree"
)

// PutServerValue caches the server-confirmed value at path. The token
// must be the version token of value; storing them together means a
// cache read never needs to rehash.
//
// updatedAt is a logical sequence (the session clock), used only to
// answer "which cache entry is fresher" without consulting wall time.
func (s *Store) PutServerValue(ctx context.Context, path tree.Path, value tree.Value, token tree.VersionToken, updatedAt int64) error {
	valueJSON, err := tree.MarshalCanonical(value)
	if err != nil {
		return fmt.Errorf("put server value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO server_cache (path, value, token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			value = excluded.value,
			token = excluded.token,
			updated_at = excluded.updated_at
	`,
		path.String(),
		string(valueJSON),
		string(token),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("put server value: %w", err)
	}

	return nil
}

// ServerValue returns the cached server value at path. The third return
// reports whether the path was cached; an uncached path is not an error.
func (s *Store) ServerValue(ctx context.Context, path tree.Path) (tree.Value, tree.VersionToken, bool, error) {
	var valueJSON, token string
	err := s.db.QueryRowContext(ctx, `
		SELECT value, token FROM server_cache WHERE path = ?
	`, path.String()).Scan(&valueJSON, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.TokenNone, false, nil
	}
	if err != nil {
		return nil, tree.TokenNone, false, fmt.Errorf("server value: %w", err)
	}

	value, err := tree.UnmarshalValue([]byte(valueJSON))
	if err != nil {
		return nil, tree.TokenNone, false, fmt.Errorf("server value: %w", err)
	}

	return value, tree.VersionToken(token), true, nil
}

// DropServerValue removes a cached path. Idempotent.
func (s *Store) DropServerValue(ctx context.Context, path tree.Path) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM server_cache WHERE path = ?
	`, path.String()); err != nil {
		return fmt.Errorf("drop server value: %w", err)
	}
	return nil
}

// CachedPaths returns every cached path ordered by path string.
// Diagnostics and tests.
func (s *Store) CachedPaths(ctx context.Context) ([]tree.Path, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM server_cache ORDER BY path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("cached paths: %w", err)
	}
	defer rows.Close()

	var paths []tree.Path
	for rows.Next() {
		var pathStr string
		if err := rows.Scan(&pathStr); err != nil {
			return nil, fmt.Errorf("scan cached path: %w", err)
		}
		path, err := tree.ParsePath(pathStr)
		if err != nil {
			return nil, fmt.Errorf("scan cached path: %w", err)
		}
		paths = append(paths, path)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached paths: %w", err)
	}

	if paths == nil {
		paths = []tree.Path{}
	}

	return paths, nil
}
