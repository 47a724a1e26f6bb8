package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
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
	var entry KVEntry
	err := s.store.DB.WithContext(ctx).
		Where("key = ?", key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// Set upserts key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	entry := KVEntry{
		Key:            key,
		Value:          value,
		UpdatedAtEpoch: time.Now().UnixMilli(),
	}
	return s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_epoch"}),
		}).
		Create(&entry).Error
}

// Delete removes keys.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.store.DB.WithContext(ctx).
		Where("key IN ?", keys).
		Delete(&KVEntry{}).Error
}

// Keys lists keys starting with prefix.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.store.DB.WithContext(ctx).
		Model(&KVEntry{}).
		Where("starts_with(key, ?)", prefix).
		Order("key ASC").
		Pluck("key", &keys).Error
	return keys, err
}

// Close closes the underlying database.
func (s *KVStore) Close() error {
	return s.store.Close()
}
