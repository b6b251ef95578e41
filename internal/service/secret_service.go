package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/secretcrypto"
	"github.com/cyfrworks/cyfr/internal/domain/secret"
)

// SecretService implements C6: encrypted set/get/rotate over a
// secret.Store, plus the grant relation. Get is deliberately not exposed
// as an MCP tool anywhere in the tool registry — only the execution
// kernel's host-import path calls it, on the authorized server side.
type SecretService struct {
	store  secret.Store
	cipher *secretcrypto.Cipher
}

// NewSecretService builds a SecretService backed by store and cipher.
func NewSecretService(store secret.Store, cipher *secretcrypto.Cipher) *SecretService {
	return &SecretService{store: store, cipher: cipher}
}

// Set encrypts value and upserts it; a second Set for the same
// (scope, orgID, name) is a rotation — ciphertext is replaced in place,
// RotatedAt advances, CreatedAt is preserved by the store.
func (s *SecretService) Set(ctx context.Context, scope secret.Scope, orgID, name, value string) error {
	ciphertext, nonce, err := s.cipher.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("secret service: encrypt %s: %w", name, err)
	}
	return s.store.Put(ctx, secret.Secret{
		Scope: scope, OrgID: orgID, Name: name,
		Ciphertext: ciphertext, Nonce: nonce,
	})
}

// Get decrypts and returns the plaintext value for (scope, orgID, name).
// Callers outside the execution kernel's host-import path must not call
// this directly.
func (s *SecretService) Get(ctx context.Context, scope secret.Scope, orgID, name string) (string, error) {
	sec, err := s.store.Get(ctx, scope, orgID, name)
	if err != nil {
		return "", err
	}
	plaintext, err := s.cipher.Decrypt(sec.Ciphertext, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("secret service: decrypt %s: %w", name, err)
	}
	return string(plaintext), nil
}

// Delete removes a secret without affecting any grant that still
// references it; a dangling grant resolves to a read-time miss rather
// than being cascaded here.
func (s *SecretService) Delete(ctx context.Context, scope secret.Scope, orgID, name string) error {
	return s.store.Delete(ctx, scope, orgID, name)
}

// List returns every secret's metadata (never ciphertext/plaintext) for
// a scope/org.
func (s *SecretService) List(ctx context.Context, scope secret.Scope, orgID string) ([]secret.Secret, error) {
	secrets, err := s.store.List(ctx, scope, orgID)
	if err != nil {
		return nil, err
	}
	for i := range secrets {
		secrets[i].Ciphertext = nil
		secrets[i].Nonce = nil
	}
	return secrets, nil
}

// Grant gives componentRef the right to read name at execution time.
func (s *SecretService) Grant(ctx context.Context, name, componentRef string, scope secret.Scope, orgID string) error {
	return s.store.Grant(ctx, secret.Grant{
		SecretName: name, ComponentRef: componentRef, Scope: scope, OrgID: orgID, CreatedAt: time.Now(),
	})
}

// Revoke removes componentRef's right to read name.
func (s *SecretService) Revoke(ctx context.Context, name, componentRef string, scope secret.Scope, orgID string) error {
	return s.store.Revoke(ctx, name, componentRef, scope, orgID)
}

// GrantedSecrets decrypts every secret componentRef currently holds a
// grant for, returning a name->plaintext map for the execution kernel to
// preload into the sandbox's secrets.read host import. Grant scope/org
// ambiguity (a component could theoretically be granted both a personal
// and an org secret of the same name) resolves personal-first: personal
// grants are read after org grants so a personal override wins the map
// key, matching "set/rotate/delete by owner" taking precedence in §3.
func (s *SecretService) GrantedSecrets(ctx context.Context, componentRef string) (map[string]string, error) {
	grants, err := s.store.ListGrantsForComponent(ctx, componentRef)
	if err != nil {
		return nil, fmt.Errorf("secret service: list grants for %s: %w", componentRef, err)
	}
	out := make(map[string]string, len(grants))
	for _, scope := range []secret.Scope{secret.ScopeOrg, secret.ScopePersonal} {
		for _, g := range grants {
			if g.Scope != scope {
				continue
			}
			value, err := s.Get(ctx, g.Scope, g.OrgID, g.SecretName)
			if err != nil {
				continue // a revoked/missing secret behind a stale grant is skipped, not fatal
			}
			out[g.SecretName] = value
		}
	}
	return out, nil
}
