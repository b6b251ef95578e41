package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/storage"
	"github.com/cyfrworks/cyfr/internal/domain/ref"
	"github.com/cyfrworks/cyfr/internal/domain/registry"
)

// RegistryService implements C8: publish, filesystem registration, search,
// pruning and blob retrieval over a registry.Store backed by the storage
// adapter for the actual WASM bytes.
type RegistryService struct {
	store   registry.Store
	storage *storage.Adapter
}

// NewRegistryService builds a RegistryService.
func NewRegistryService(store registry.Store, storageAdapter *storage.Adapter) *RegistryService {
	return &RegistryService{store: store, storage: storageAdapter}
}

// PublishAttrs carries the caller-supplied metadata for PublishBytes.
type PublishAttrs struct {
	Publisher   string
	OrgID       string
	Name        string
	Version     string
	Category    string
	Tags        []string
	License     string
	Description string
}

// PublishBytes validates and stores a WASM module per spec.md §4.8 steps
// 1-6, returning the resulting Record.
func (s *RegistryService) PublishBytes(ctx context.Context, wasmBytes []byte, attrs PublishAttrs) (*registry.Record, error) {
	if err := registry.ValidateName(attrs.Name); err != nil {
		return nil, err
	}
	if err := registry.ValidatePublishVersion(attrs.Version); err != nil {
		return nil, err
	}
	if err := registry.ValidateMagic(wasmBytes); err != nil {
		return nil, err
	}

	digest := registry.Digest(wasmBytes)
	size := int64(len(wasmBytes))

	exports, err := registry.Exports(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("registry service: read exports: %w", err)
	}
	typ := registry.InferType(exports)

	reference := ref.Reference{Type: typ, Namespace: attrs.Publisher, Name: attrs.Name, Version: attrs.Version}

	segments := registry.CanonicalPath(typ, attrs.Publisher, attrs.Name, attrs.Version)
	if err := s.storage.Put("", wasmBytes, segments...); err != nil {
		return nil, fmt.Errorf("registry service: write blob: %w", err)
	}

	now := time.Now()
	rec := registry.Record{
		ID:          registry.ID(attrs.Publisher, attrs.Name, attrs.Version, typ),
		Reference:   reference,
		Publisher:   attrs.Publisher,
		OrgID:       attrs.OrgID,
		Digest:      digest,
		Size:        size,
		Exports:     exports,
		Category:    attrs.Category,
		Tags:        attrs.Tags,
		License:     attrs.License,
		Description: attrs.Description,
		Source:      registry.SourcePublished,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	allowOverwrite := attrs.Publisher == "local"
	if err := s.store.Upsert(ctx, rec, allowOverwrite); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RegisterFromDirectory implements register_from_directory for a single
// discovered leaf relPath (components-relative, e.g.
// "catalysts/local/my-tool/1.0.0"). force re-registers even when a row
// with the same digest already exists.
func (s *RegistryService) RegisterFromDirectory(ctx context.Context, relPath string, force bool) (*registry.Record, bool, error) {
	typ, publisher, name, version, err := registry.InferFromPath(relPath)
	if err != nil {
		return nil, false, err
	}
	if publisher != "local" && publisher != "agent" {
		return nil, false, fmt.Errorf("registry service: publisher %q is not permitted for filesystem registration", publisher)
	}

	segments := registry.CanonicalPath(typ, publisher, name, version)
	wasmBytes, err := s.storage.Get("", segments...)
	if err != nil {
		return nil, false, fmt.Errorf("registry service: read blob at %s: %w", relPath, err)
	}
	digest := registry.Digest(wasmBytes)

	reference := ref.Reference{Type: typ, Namespace: publisher, Name: name, Version: version}

	if !force {
		existing, err := s.store.Get(ctx, reference)
		if err == nil && existing.Digest == digest {
			return existing, false, nil
		}
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return nil, false, err
		}
	}

	manifestSegments := append(append([]string{}, segments[:len(segments)-1]...), "manifest.yaml")
	manifestBytes, err := s.storage.Get("", manifestSegments...)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("registry service: read manifest at %s: %w", relPath, err)
	}
	manifest, err := registry.ParseManifest(manifestBytes)
	if err != nil {
		return nil, false, err
	}

	exports, err := registry.Exports(ctx, wasmBytes)
	if err != nil {
		return nil, false, fmt.Errorf("registry service: read exports: %w", err)
	}

	now := time.Now()
	rec := registry.Record{
		ID:          registry.ID(publisher, name, version, typ),
		Reference:   reference,
		Publisher:   publisher,
		Digest:      digest,
		Size:        int64(len(wasmBytes)),
		Exports:     exports,
		Category:    manifest.Category,
		Tags:        manifest.Tags,
		License:     manifest.License,
		Description: manifest.Description,
		Source:      registry.SourceFilesystem,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Upsert(ctx, rec, true); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// ResolveBytes looks up reference and returns its WASM bytes, digest, and
// publisher, for C9 Stage A's {registry: ref} resolution path.
func (s *RegistryService) ResolveBytes(ctx context.Context, reference ref.Reference) ([]byte, string, string, error) {
	rec, err := s.store.Get(ctx, reference)
	if err != nil {
		return nil, "", "", err
	}
	data, err := s.GetBlob(ctx, rec.Digest)
	if err != nil {
		return nil, "", "", err
	}
	return data, rec.Digest, rec.Publisher, nil
}

// Search filters registered components per spec.md §4.8.
func (s *RegistryService) Search(ctx context.Context, f registry.Filter) ([]registry.Record, error) {
	return s.store.Search(ctx, f)
}

// PruneStaleEntries deletes every filesystem-sourced row whose (name,
// version) is absent from discoveredSet, keyed "name/version".
func (s *RegistryService) PruneStaleEntries(ctx context.Context, discoveredSet map[string]bool) (int, error) {
	return s.store.PruneStale(ctx, discoveredSet)
}

// GetBlob returns the raw WASM bytes for digest.
func (s *RegistryService) GetBlob(ctx context.Context, digest string) ([]byte, error) {
	rec, err := s.store.GetByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}
	segments := registry.CanonicalPath(rec.Reference.Type, rec.Publisher, rec.Reference.Name, rec.Reference.Version)
	data, err := s.storage.Get("", segments...)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("registry service: blob for %s: %w", digest, registry.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// AutoIndex walks the components directory, registers every discovered
// leaf, and prunes any filesystem-sourced row no longer on disk. It
// returns a delta summary; a single leaf's failure is recorded in Errors
// rather than aborting the whole sweep.
func (s *RegistryService) AutoIndex(ctx context.Context) (registry.IndexDelta, error) {
	delta := registry.IndexDelta{}
	discovered := make(map[string]bool)

	leaves, err := s.discoverLeaves("")
	if err != nil {
		return delta, fmt.Errorf("registry service: discover components: %w", err)
	}

	for _, leaf := range leaves {
		_, _, name, version, err := registry.InferFromPath(leaf)
		if err != nil {
			delta.Errors = append(delta.Errors, err.Error())
			continue
		}
		discovered[name+"/"+version] = true

		_, changed, err := s.RegisterFromDirectory(ctx, leaf, false)
		if err != nil {
			delta.Errors = append(delta.Errors, fmt.Sprintf("%s: %v", leaf, err))
			continue
		}
		if changed {
			delta.Registered++
		} else {
			delta.Unchanged++
		}
	}

	pruned, err := s.PruneStaleEntries(ctx, discovered)
	if err != nil {
		return delta, fmt.Errorf("registry service: prune stale entries: %w", err)
	}
	delta.Pruned = pruned
	return delta, nil
}

// discoverLeaves walks the global "components" storage prefix and returns
// every directory four levels deep (<types>/<publisher>/<name>/<version>),
// relative to that prefix, that contains a WASM blob.
func (s *RegistryService) discoverLeaves(_ string) ([]string, error) {
	var leaves []string
	typeDirs, err := s.storage.List("", "components")
	if err != nil {
		return nil, err
	}
	for _, typeDir := range typeDirs {
		publishers, err := s.storage.List("", "components", typeDir)
		if err != nil {
			continue
		}
		for _, publisher := range publishers {
			names, err := s.storage.List("", "components", typeDir, publisher)
			if err != nil {
				continue
			}
			for _, name := range names {
				versions, err := s.storage.List("", "components", typeDir, publisher, name)
				if err != nil {
					continue
				}
				for _, version := range versions {
					entries, err := s.storage.List("", "components", typeDir, publisher, name, version)
					if err != nil {
						continue
					}
					if hasWASM(entries) {
						leaves = append(leaves, path.Join(typeDir, publisher, name, version))
					}
				}
			}
		}
	}
	return leaves, nil
}

func hasWASM(entries []string) bool {
	for _, e := range entries {
		if strings.HasSuffix(e, ".wasm") {
			return true
		}
	}
	return false
}
