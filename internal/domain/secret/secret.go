// Package secret models the Secret and Secret Grant entities (C6): at-rest
// encrypted values scoped to a user or org, and the grant relation that
// lets a specific component read one at execution time.
package secret

import "time"

// Scope is the ownership scope of a Secret.
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeOrg      Scope = "org"
)

// Secret is a named, scoped, encrypted value. Ciphertext and Nonce are
// AES-256-GCM output; the struct has no plaintext field, and
// SecretService.Get returns the decrypted value separately.
type Secret struct {
	Scope      Scope
	OrgID      string
	Name       string
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  time.Time
	RotatedAt  time.Time
}

// Grant is the association giving a component the right to read a secret
// at execution time. Unique on (SecretName, ComponentRef, Scope, OrgID).
type Grant struct {
	SecretName   string
	ComponentRef string
	Scope        Scope
	OrgID        string
	CreatedAt    time.Time
}
