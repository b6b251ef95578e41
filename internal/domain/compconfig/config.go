// Package compconfig models the Component Config Entry (§3): a
// JSON-encoded value keyed by (component_ref, key), superseding a
// developer-default file shipped with the component artifact.
package compconfig

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entry exists for (componentRef, key).
var ErrNotFound = errors.New("compconfig: not found")

// Entry is a single component configuration value.
type Entry struct {
	ComponentRef string
	Key          string
	Value        string // JSON-encoded
}

// Store persists Component Config Entries.
type Store interface {
	Get(ctx context.Context, componentRef, key string) (*Entry, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, componentRef, key string) error
	List(ctx context.Context, componentRef string) ([]Entry, error)
}
