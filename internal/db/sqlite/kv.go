package sqlite

import (
	"context"
	"database/sql"
	"time"
	"unicode/utf8"
)

// KVStore implements kv.Store on the kv_entries table.
type KVStore struct {
	store *Store
}

// NewKVStore creates a key-value view over store.
func NewKVStore(store *Store) *KVStore {
	return &KVStore{store: store}
}

// Get returns the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `SELECT value FROM kv_entries WHERE key = ?`

	var value []byte
	err := s.store.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set upserts key. The row is replaced as a whole.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO kv_entries (key, value, updated_at_epoch)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at_epoch = excluded.updated_at_epoch
	`
	if value == nil {
		value = []byte{}
	}
	_, err := s.store.ExecContext(ctx, query, key, value, time.Now().UnixMilli())
	return err
}

// Delete removes keys in a single statement.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `DELETE FROM kv_entries WHERE key IN (?` + repeatPlaceholders(len(keys)-1) + `)`
	_, err := s.store.DB().ExecContext(ctx, query, stringSliceToInterface(keys)...)
	return err
}

// Keys lists keys starting with prefix. substr keeps '%' and '_' literal.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	const query = `
		SELECT key FROM kv_entries
		WHERE substr(key, 1, ?) = ?
		ORDER BY key ASC
	`

	rows, err := s.store.QueryContext(ctx, query, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *KVStore) Close() error {
	return s.store.Close()
}
