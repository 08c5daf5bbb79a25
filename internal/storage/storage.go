// Package storage persists serializable values under namespaced keys.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

var ErrNotFound = errors.New("not found")

// Facade reads and writes one value. Get reports false when nothing is stored yet.
type Facade[T any] interface {
	Get() (T, bool, error)
	Set(value T) error
}

// KV is the byte-level backend behind a Facade. Get returns an error wrapping
// ErrNotFound for unknown keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and name parts with dots, skipping empty parts.
func Key(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// JSON stores a value as a JSON document under a single key.
type JSON[T any] struct {
	kv      KV
	key     string
	Timeout time.Duration
}

func NewJSON[T any](kv KV, key string) *JSON[T] {
	return &JSON[T]{kv: kv, key: key, Timeout: defaultTimeout}
}

func (j *JSON[T]) Key() string { return j.key }

func (j *JSON[T]) Get() (T, bool, error) {
	var zero T
	ctx, cancel := j.context()
	defer cancel()
	data, err := j.kv.Get(ctx, j.key)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("read %s: %w", j.key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("decode %s: %w", j.key, err)
	}
	return v, true, nil
}

func (j *JSON[T]) Set(value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", j.key, err)
	}
	ctx, cancel := j.context()
	defer cancel()
	if err := j.kv.Put(ctx, j.key, data); err != nil {
		return fmt.Errorf("write %s: %w", j.key, err)
	}
	return nil
}

func (j *JSON[T]) context() (context.Context, context.CancelFunc) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
