package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeKeyStore struct {
	byHash map[string]APIKey
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{byHash: make(map[string]APIKey)}
}

func (f *fakeKeyStore) Get(ctx context.Context, keyHash string) (*APIKey, error) {
	k, ok := f.byHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (f *fakeKeyStore) Create(ctx context.Context, k APIKey) error {
	f.byHash[k.KeyHash] = k
	return nil
}

func (f *fakeKeyStore) Rotate(ctx context.Context, name, newKeyHash, newKeyPrefix string) error {
	for hash, k := range f.byHash {
		if k.Name == name {
			delete(f.byHash, hash)
			k.KeyHash = newKeyHash
			k.KeyPrefix = newKeyPrefix
			k.RotatedAt = time.Now()
			f.byHash[newKeyHash] = k
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeKeyStore) Revoke(ctx context.Context, name string) error {
	for hash, k := range f.byHash {
		if k.Name == name {
			k.Revoked = true
			f.byHash[hash] = k
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeKeyStore) List(ctx context.Context) ([]APIKey, error) {
	out := make([]APIKey, 0, len(f.byHash))
	for _, k := range f.byHash {
		out = append(out, k)
	}
	return out, nil
}

func TestGenerateKeyHasTypePrefix(t *testing.T) {
	raw, err := GenerateKey(KeyTypeSecret)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(raw, "cyfr_sk_") {
		t.Errorf("raw key %q missing expected prefix", raw)
	}
	typ, ok := TypeFromPrefix(raw)
	if !ok || typ != KeyTypeSecret {
		t.Errorf("TypeFromPrefix(%q) = %v, %v, want KeyTypeSecret, true", raw, typ, ok)
	}
}

func TestGenerateKeyUnknownTypeErrors(t *testing.T) {
	if _, err := GenerateKey(KeyType("bogus")); err == nil {
		t.Error("expected error for unknown key type")
	}
}

func TestValidateAcceptsKnownActiveKey(t *testing.T) {
	store := newFakeKeyStore()
	raw, _ := GenerateKey(KeyTypePublic)
	store.Create(context.Background(), APIKey{
		Name:      "ci",
		KeyHash:   HashKey(raw),
		KeyPrefix: DisplayPrefix(raw, 12),
		Type:      KeyTypePublic,
	})

	svc := NewKeyService(store)
	got, err := svc.Validate(context.Background(), raw, "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Name != "ci" {
		t.Errorf("Validate returned key %+v, want Name=ci", got)
	}
}

func TestValidateRejectsUnknownPrefix(t *testing.T) {
	svc := NewKeyService(newFakeKeyStore())
	if _, err := svc.Validate(context.Background(), "not-a-cyfr-key", ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate = %v, want ErrInvalidKey", err)
	}
}

func TestValidateRejectsUnknownHash(t *testing.T) {
	svc := NewKeyService(newFakeKeyStore())
	raw, _ := GenerateKey(KeyTypePublic)
	if _, err := svc.Validate(context.Background(), raw, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate = %v, want ErrInvalidKey", err)
	}
}

func TestValidateRejectsRevokedKey(t *testing.T) {
	store := newFakeKeyStore()
	raw, _ := GenerateKey(KeyTypePublic)
	store.Create(context.Background(), APIKey{
		Name: "ci", KeyHash: HashKey(raw), Type: KeyTypePublic, Revoked: true,
	})

	svc := NewKeyService(store)
	if _, err := svc.Validate(context.Background(), raw, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate = %v, want ErrInvalidKey", err)
	}
}

func TestValidateIPAllowlistExactMatch(t *testing.T) {
	store := newFakeKeyStore()
	raw, _ := GenerateKey(KeyTypePublic)
	store.Create(context.Background(), APIKey{
		Name: "ci", KeyHash: HashKey(raw), Type: KeyTypePublic,
		IPAllowlist: []string{"203.0.113.5"},
	})

	svc := NewKeyService(store)
	if _, err := svc.Validate(context.Background(), raw, "203.0.113.5"); err != nil {
		t.Errorf("Validate with matching IP: %v", err)
	}
	if _, err := svc.Validate(context.Background(), raw, "203.0.113.6"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate with non-matching IP = %v, want ErrInvalidKey", err)
	}
}

func TestValidateIPAllowlistCIDRMatch(t *testing.T) {
	store := newFakeKeyStore()
	raw, _ := GenerateKey(KeyTypePublic)
	store.Create(context.Background(), APIKey{
		Name: "ci", KeyHash: HashKey(raw), Type: KeyTypePublic,
		IPAllowlist: []string{"10.0.0.0/8"},
	})

	svc := NewKeyService(store)
	if _, err := svc.Validate(context.Background(), raw, "10.1.2.3"); err != nil {
		t.Errorf("Validate within CIDR: %v", err)
	}
	if _, err := svc.Validate(context.Background(), raw, "192.168.1.1"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate outside CIDR = %v, want ErrInvalidKey", err)
	}
}

func TestValidateIPAllowlistIgnoredWhenClientIPEmpty(t *testing.T) {
	store := newFakeKeyStore()
	raw, _ := GenerateKey(KeyTypePublic)
	store.Create(context.Background(), APIKey{
		Name: "ci", KeyHash: HashKey(raw), Type: KeyTypePublic,
		IPAllowlist: []string{"10.0.0.0/8"},
	})

	svc := NewKeyService(store)
	if _, err := svc.Validate(context.Background(), raw, ""); err != nil {
		t.Errorf("Validate with no client IP should pass through: %v", err)
	}
}

func TestValidateIPAllowlistIPv6(t *testing.T) {
	store := newFakeKeyStore()
	raw, _ := GenerateKey(KeyTypePublic)
	store.Create(context.Background(), APIKey{
		Name: "ci", KeyHash: HashKey(raw), Type: KeyTypePublic,
		IPAllowlist: []string{"2001:db8::/32"},
	})

	svc := NewKeyService(store)
	if _, err := svc.Validate(context.Background(), raw, "2001:db8::1"); err != nil {
		t.Errorf("Validate within IPv6 CIDR: %v", err)
	}
	if _, err := svc.Validate(context.Background(), raw, "2001:db9::1"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate outside IPv6 CIDR = %v, want ErrInvalidKey", err)
	}
}
