package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pfmt/internal/db"
	"pfmt/internal/migrate"
)

// SQLiteStorage keeps wizard keys in the workspace database, one namespace
// per scope.
type SQLiteStorage struct {
	DB    *sql.DB
	Scope string
	Now   func() time.Time
}

// OpenSQLite opens the workspace database, applies migrations and returns a
// storage bound to scope.
func OpenSQLite(ctx context.Context, workspace, scope string) (*SQLiteStorage, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate wizard storage: %w", err)
	}
	return &SQLiteStorage{DB: conn, Scope: scope, Now: time.Now}, nil
}

func (s *SQLiteStorage) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM wizard_storage WHERE scope=? AND key=?`, s.Scope, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO wizard_storage(scope,key,value,updated_at) VALUES (?,?,?,?)
		ON CONFLICT(scope,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		s.Scope, key, value, s.now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM wizard_storage WHERE scope=? AND key=?`, s.Scope, key)
	return err
}

func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key FROM wizard_storage WHERE scope=? ORDER BY key`, s.Scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.DB.Close()
}
