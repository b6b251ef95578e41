// Package registry implements the Component Registry (C8): published WASM
// components are content-addressed by digest, indexed by their typed
// reference, and searched by type/category/tags/license/free text.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/ref"
)

// ErrNotFound is returned when a component row or blob does not exist.
var ErrNotFound = errors.New("registry: not found")

// ErrAlreadyExists is returned by publish when a non-local publisher
// collides with an existing (name, version, type, publisher, org_id) row.
var ErrAlreadyExists = errors.New("registry: already exists")

// Source records how a component row entered the registry.
type Source string

const (
	SourcePublished  Source = "published"
	SourceFilesystem Source = "filesystem"
)

// Record is a single published or registered component.
type Record struct {
	ID          string // "comp_<16 hex>", a stable hash of publisher:name:version:type
	Reference   ref.Reference
	Publisher   string
	OrgID       string
	Digest      string // "sha256:<hex>"
	Size        int64
	Exports     []string
	Category    string
	Tags        []string
	License     string
	Description string
	Source      Source
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Filter narrows Search results. Zero-value fields are unconstrained; Tags
// matches are AND (a record must carry every requested tag).
type Filter struct {
	Type     ref.Type
	Category string
	Tags     []string
	License  string
	Query    string
	Limit    int
}

// IndexDelta summarizes one auto-indexer sweep.
type IndexDelta struct {
	Registered int
	Unchanged  int
	Pruned     int
	Errors     []string
}

// Store persists Records and tracks which (name, version) pairs are still
// present on disk for prune_stale_entries.
type Store interface {
	Upsert(ctx context.Context, r Record, allowOverwrite bool) error
	Get(ctx context.Context, reference ref.Reference) (*Record, error)
	GetByDigest(ctx context.Context, digest string) (*Record, error)
	Search(ctx context.Context, f Filter) ([]Record, error)
	PruneStale(ctx context.Context, discovered map[string]bool) (int, error)
	Delete(ctx context.Context, reference ref.Reference) error
}
