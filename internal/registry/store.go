// Package registry implements the function registry: C1 (the pluggable
// metadata+code store) and C2 (validation/defaulting CRUD on top of it).
package registry

import (
	"context"

	"github.com/oriys/novafn/internal/domain"
)

// Store is the capability set every backend variant implements. All
// operations are synchronous and fail with a *domain.Error carrying one
// of the kinds enumerated in domain.ErrorKind.
type Store interface {
	// Create inserts fn, failing with KindAlreadyExists if fn.Name is
	// already taken.
	Create(ctx context.Context, fn *domain.Function) error

	// Get looks up a function by name, failing with KindNotFound if
	// absent.
	Get(ctx context.Context, name string) (*domain.Function, error)

	// GetByID looks up a function by ID, failing with KindNotFound if
	// absent.
	GetByID(ctx context.Context, id string) (*domain.Function, error)

	// Update overwrites the full record for fn.Name, failing with
	// KindNotFound if absent.
	Update(ctx context.Context, fn *domain.Function) error

	// Delete removes the function named name, failing with KindNotFound
	// if absent.
	Delete(ctx context.Context, name string) error

	// List returns every function ordered by descending CreatedAt. An
	// empty store yields an empty, non-nil slice.
	List(ctx context.Context) ([]*domain.Function, error)

	// SaveCode stores code under name, overwriting any prior code for
	// that name, and returns an opaque locator meaningful only to this
	// backend.
	SaveCode(ctx context.Context, name string, code []byte) (string, error)

	// GetCode retrieves the code blob addressed by locator.
	GetCode(ctx context.Context, locator string) ([]byte, error)
}
