// Package kv defines the key-value persistence contract used by the session store.
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("kv: store closed")

// Store is a flat key-value namespace. Set replaces the whole value of a key atomically;
// there is no field-level merge. Deleting an absent key is not an error.
type Store interface {
	// Get returns the value for key. found is false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes keys. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Keys returns every key starting with prefix, sorted ascending.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// FilterPrefix returns the sorted subset of keys starting with prefix.
func FilterPrefix(keys []string, prefix string) []string {
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	sort.Strings(result)
	return result
}
