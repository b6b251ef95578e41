package secret

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a secret or grant does not exist.
var ErrNotFound = errors.New("secret: not found")

// Store persists Secrets and Grants, keyed by their unique tuples.
type Store interface {
	Get(ctx context.Context, scope Scope, orgID, name string) (*Secret, error)
	Put(ctx context.Context, s Secret) error
	Delete(ctx context.Context, scope Scope, orgID, name string) error
	List(ctx context.Context, scope Scope, orgID string) ([]Secret, error)

	Grant(ctx context.Context, g Grant) error
	Revoke(ctx context.Context, secretName, componentRef string, scope Scope, orgID string) error
	ListGrantsForComponent(ctx context.Context, componentRef string) ([]Grant, error)
	IsGranted(ctx context.Context, secretName, componentRef string, scope Scope, orgID string) (bool, error)
}
