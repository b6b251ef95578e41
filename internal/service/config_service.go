package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/cache"
	"github.com/cyfrworks/cyfr/internal/domain/compconfig"
)

// ConfigService resolves Component Config Entries through the C2 cache
// before falling through to the relational store, the same read-through
// shape as PolicyService.
type ConfigService struct {
	store compconfig.Store
	cache *cache.Cache
}

// NewConfigService builds a ConfigService backed by store and c.
func NewConfigService(store compconfig.Store, c *cache.Cache) *ConfigService {
	return &ConfigService{store: store, cache: c}
}

// Get resolves componentRef's key, preferring the cache.
func (s *ConfigService) Get(ctx context.Context, componentRef, key string) (*compconfig.Entry, error) {
	cacheKey := cache.ComponentConfigKey(componentRef) + ":" + key
	if v, ok := s.cache.Get(cacheKey); ok {
		if e, ok := v.(compconfig.Entry); ok {
			return &e, nil
		}
	}
	e, err := s.store.Get(ctx, componentRef, key)
	if errors.Is(err, compconfig.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("config service: get %s/%s: %w", componentRef, key, err)
	}
	s.cache.Put(cacheKey, *e)
	return e, nil
}

// Set persists an entry and invalidates its cache slot.
func (s *ConfigService) Set(ctx context.Context, e compconfig.Entry) error {
	if err := s.store.Set(ctx, e); err != nil {
		return fmt.Errorf("config service: set %s/%s: %w", e.ComponentRef, e.Key, err)
	}
	s.cache.Invalidate(cache.ComponentConfigKey(e.ComponentRef) + ":" + e.Key)
	return nil
}

// Delete removes an entry and invalidates its cache slot.
func (s *ConfigService) Delete(ctx context.Context, componentRef, key string) error {
	if err := s.store.Delete(ctx, componentRef, key); err != nil {
		return fmt.Errorf("config service: delete %s/%s: %w", componentRef, key, err)
	}
	s.cache.Invalidate(cache.ComponentConfigKey(componentRef) + ":" + key)
	return nil
}

// List returns every config entry for a component, bypassing the cache
// since it is not a single-key lookup.
func (s *ConfigService) List(ctx context.Context, componentRef string) ([]compconfig.Entry, error) {
	entries, err := s.store.List(ctx, componentRef)
	if err != nil {
		return nil, fmt.Errorf("config service: list %s: %w", componentRef, err)
	}
	return entries, nil
}
