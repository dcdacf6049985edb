// Package kv is the byte-oriented key-value store behind the decoded
// waveform cache. Keys are segment paths joined with ':'.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"
)

var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path such as {"wave", "16000", "<digest>"}.
type Key []string

const separator = ":"

func (k Key) String() string {
	return strings.Join(k, separator)
}

func (k Key) encode() []byte {
	return []byte(k.String())
}

func decodeKey(b []byte) Key {
	return Key(strings.Split(string(b), separator))
}

// prefixBytes returns the encoded prefix followed by a separator so that
// {"a", "b"} does not match {"a", "bc"}. An empty key matches everything.
func (k Key) prefixBytes() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.encode(), separator...)
}

type Entry struct {
	Key   Key
	Value []byte
}

// Store is implemented by Badger and Memory. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key Key) ([]byte, error)
	// Set stores value. A positive ttl makes the entry expire.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key Key) error
	// List yields entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	Close() error
}
