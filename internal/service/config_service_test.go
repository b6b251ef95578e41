package service

import (
	"context"
	"testing"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/cache"
	"github.com/cyfrworks/cyfr/internal/domain/compconfig"
)

type fakeConfigStore struct {
	entries map[string]compconfig.Entry
	gets    int
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{entries: make(map[string]compconfig.Entry)}
}

func configKey(componentRef, key string) string { return componentRef + "/" + key }

func (f *fakeConfigStore) Get(ctx context.Context, componentRef, key string) (*compconfig.Entry, error) {
	f.gets++
	e, ok := f.entries[configKey(componentRef, key)]
	if !ok {
		return nil, compconfig.ErrNotFound
	}
	return &e, nil
}

func (f *fakeConfigStore) Set(ctx context.Context, e compconfig.Entry) error {
	f.entries[configKey(e.ComponentRef, e.Key)] = e
	return nil
}

func (f *fakeConfigStore) Delete(ctx context.Context, componentRef, key string) error {
	delete(f.entries, configKey(componentRef, key))
	return nil
}

func (f *fakeConfigStore) List(ctx context.Context, componentRef string) ([]compconfig.Entry, error) {
	var out []compconfig.Entry
	for _, e := range f.entries {
		if e.ComponentRef == componentRef {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestConfigService() (*ConfigService, *fakeConfigStore) {
	store := newFakeConfigStore()
	return NewConfigService(store, cache.New(time.Minute)), store
}

func TestConfigSetGet(t *testing.T) {
	svc, _ := newTestConfigService()
	ctx := context.Background()
	e := compconfig.Entry{ComponentRef: "catalyst:local.example:1.0.0", Key: "max_retries", Value: "3"}
	if err := svc.Set(ctx, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := svc.Get(ctx, e.ComponentRef, e.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != "3" {
		t.Errorf("Get.Value = %q, want 3", got.Value)
	}
}

func TestConfigGetUsesCacheBeforeStore(t *testing.T) {
	svc, store := newTestConfigService()
	ctx := context.Background()
	e := compconfig.Entry{ComponentRef: "catalyst:local.example:1.0.0", Key: "max_retries", Value: "3"}
	if err := svc.Set(ctx, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := svc.Get(ctx, e.ComponentRef, e.Key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	before := store.gets
	store.entries = make(map[string]compconfig.Entry) // wipe underlying store
	got, err := svc.Get(ctx, e.ComponentRef, e.Key)
	if err != nil {
		t.Fatalf("Get from cache: %v", err)
	}
	if got.Value != "3" {
		t.Errorf("Get from cache = %q, want 3", got.Value)
	}
	if store.gets != before {
		t.Error("Get hit the store instead of serving from cache")
	}
}

func TestConfigDeleteInvalidatesCache(t *testing.T) {
	svc, _ := newTestConfigService()
	ctx := context.Background()
	e := compconfig.Entry{ComponentRef: "catalyst:local.example:1.0.0", Key: "max_retries", Value: "3"}
	svc.Set(ctx, e)
	svc.Get(ctx, e.ComponentRef, e.Key)
	if err := svc.Delete(ctx, e.ComponentRef, e.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, e.ComponentRef, e.Key); err != compconfig.ErrNotFound {
		t.Errorf("Get after delete = %v, want compconfig.ErrNotFound", err)
	}
}

func TestConfigList(t *testing.T) {
	svc, _ := newTestConfigService()
	ctx := context.Background()
	ref := "catalyst:local.example:1.0.0"
	svc.Set(ctx, compconfig.Entry{ComponentRef: ref, Key: "a", Value: "1"})
	svc.Set(ctx, compconfig.Entry{ComponentRef: ref, Key: "b", Value: "2"})
	entries, err := svc.List(ctx, ref)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("List returned %d entries, want 2", len(entries))
	}
}
