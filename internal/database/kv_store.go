package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KVStore implements domain.Store on the kv table for one namespace.
type KVStore struct {
	db        *DB
	namespace string
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT value FROM kv WHERE namespace = ? AND key = ?`

	var value []byte
	err := s.db.db.QueryRowContext(ctx, query, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", s.namespace, key, err)
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(namespace, key) DO UPDATE SET
                  value = excluded.value,
                  updated_at = excluded.updated_at`

	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.db.ExecContext(ctx, query, s.namespace, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	query := `DELETE FROM kv WHERE namespace = ? AND key = ?`
	if _, err := s.db.db.ExecContext(ctx, query, s.namespace, key); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

// Iterate visits entries in key order. Rows are read fully before fn runs so
// fn may write to the same store.
func (s *KVStore) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	query := `SELECT key, value FROM kv WHERE namespace = ? ORDER BY key`

	rows, err := s.db.db.QueryContext(ctx, query, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to iterate %s: %w", s.namespace, err)
	}

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan %s entry: %w", s.namespace, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate %s: %w", s.namespace, err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}
