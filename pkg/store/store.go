// Package store persists trained models keyed by sensor.
package store

import (
	"errors"
	"strings"
)

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("empty model key")

// ModelStore saves and loads serialized models by key.
// Implementations must be safe for concurrent use and must never expose a
// partially written model to Load.
type ModelStore interface {
	// Save stores blob under key, replacing any previous model.
	Save(key string, blob []byte) error

	// Load returns the model stored under key. ok is false when no model exists.
	Load(key string) (blob []byte, ok bool, err error)
}

// Key derives a store key from a sensor display name.
func Key(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// Nop is a store that never holds a model, forcing retraining every run.
type Nop struct{}

// Save discards the model.
func (Nop) Save(string, []byte) error { return nil }

// Load always reports a miss.
func (Nop) Load(string) ([]byte, bool, error) { return nil, false, nil }
