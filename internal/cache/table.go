// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// JSONTable is a string-keyed map persisted as one JSON file. It is opened
// at run start, mutated under a mutex, and flushed atomically. Callers must
// Flush before exit; there is no background persistence.
type JSONTable[V any] struct {
	mu    sync.Mutex
	path  string
	data  map[string]V
	dirty bool
}

// OpenTable loads the table at path. A missing file yields an empty table.
func OpenTable[V any](path string) (*JSONTable[V], error) {
	t := &JSONTable[V]{path: path, data: make(map[string]V)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading table %s: %w", path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(raw, &t.data); err != nil {
		return nil, fmt.Errorf("decoding table %s: %w", path, err)
	}
	return t, nil
}

// Path returns the backing file path.
func (t *JSONTable[V]) Path() string { return t.path }

// Get returns the value stored under key.
func (t *JSONTable[V]) Get(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.data[key]
	return v, ok
}

// Put stores v under key.
func (t *JSONTable[V]) Put(key string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = v
	t.dirty = true
}

// Update applies fn to the current value under key while holding the lock
// and stores the result. The bool passed to fn reports whether key existed.
func (t *JSONTable[V]) Update(key string, fn func(V, bool) V) V {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.data[key]
	next := fn(cur, ok)
	t.data[key] = next
	t.dirty = true
	return next
}

// Delete removes key.
func (t *JSONTable[V]) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.data[key]; ok {
		delete(t.data, key)
		t.dirty = true
	}
}

// Len returns the number of entries.
func (t *JSONTable[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// Keys returns all keys in sorted order.
func (t *JSONTable[V]) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes the table to disk if it changed since the last flush.
func (t *JSONTable[V]) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	raw, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding table %s: %w", t.path, err)
	}
	if _, err := WriteAtomic(t.path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("flushing table %s: %w", t.path, err)
	}
	t.dirty = false
	return nil
}
