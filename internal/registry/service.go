package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/pkg/fsutil"
)

// Service wraps a Store with validation and defaulting: this is C2, the
// Function Registry, as distinguished from C1, the raw Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func validate(name string, runtime domain.Runtime, handler, code string, memoryMB, timeoutSec int) error {
	if !domain.ValidName(name) {
		return domain.NewError(domain.KindInvalid, "registry.validate", "name must match [a-z0-9-]{1,64}", nil)
	}
	if !runtime.IsValid() {
		return domain.NewError(domain.KindInvalid, "registry.validate", "unknown runtime: "+string(runtime), nil)
	}
	if handler == "" {
		return domain.NewError(domain.KindInvalid, "registry.validate", "handler is required", nil)
	}
	if code == "" {
		return domain.NewError(domain.KindInvalid, "registry.validate", "code must not be empty", nil)
	}
	if len(code) > domain.MaxCodeBytes {
		return domain.NewError(domain.KindInvalid, "registry.validate", "code exceeds maximum size", nil)
	}
	if memoryMB < domain.MinMemoryMB || memoryMB > domain.MaxMemoryMB {
		return domain.NewError(domain.KindInvalid, "registry.validate", "memory_mb out of bounds", nil)
	}
	if timeoutSec < domain.MinTimeoutSec || timeoutSec > domain.MaxTimeoutSec {
		return domain.NewError(domain.KindInvalid, "registry.validate", "timeout_sec out of bounds", nil)
	}
	return nil
}

// CreateFunction validates and defaults req, then performs the two-phase
// Create-then-SaveCode write; on SaveCode failure it best-effort deletes
// the just-created record and propagates the original error.
func (s *Service) CreateFunction(ctx context.Context, req domain.CreateFunctionRequest) (*domain.Function, error) {
	memoryMB := req.MemoryMB
	if memoryMB == 0 {
		memoryMB = domain.DefaultMemoryMB
	}
	timeoutSec := req.TimeoutSec
	if timeoutSec == 0 {
		timeoutSec = domain.DefaultTimeoutSec
	}
	env := req.Environment
	if env == nil {
		env = map[string]string{}
	}

	if err := validate(req.Name, req.Runtime, req.Handler, req.Code, memoryMB, timeoutSec); err != nil {
		return nil, err
	}

	now := time.Now()
	fn := &domain.Function{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Runtime:     req.Runtime,
		Handler:     req.Handler,
		Code:        req.Code,
		MemoryMB:    memoryMB,
		TimeoutSec:  timeoutSec,
		Environment: env,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, fn); err != nil {
		return nil, err
	}

	locator, err := s.store.SaveCode(ctx, fn.Name, []byte(req.Code))
	if err != nil {
		_ = s.store.Delete(ctx, fn.Name) // best-effort compensating delete
		return nil, err
	}
	fn.CodePath = locator
	fn.CodeHash = fsutil.HashBytes([]byte(req.Code))
	if err := s.store.Update(ctx, fn); err != nil {
		_ = s.store.Delete(ctx, fn.Name)
		return nil, err
	}
	return fn, nil
}

// GetFunction loads fn and populates its Code convenience field from the
// canonical code-path locator.
func (s *Service) GetFunction(ctx context.Context, name string) (*domain.Function, error) {
	fn, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.withCode(ctx, fn)
}

func (s *Service) withCode(ctx context.Context, fn *domain.Function) (*domain.Function, error) {
	if fn.CodePath == "" {
		return fn, nil
	}
	code, err := s.store.GetCode(ctx, fn.CodePath)
	if err == nil {
		fn.Code = string(code)
	}
	return fn, nil
}

func (s *Service) ListFunctions(ctx context.Context) ([]*domain.Function, error) {
	return s.store.List(ctx)
}

func (s *Service) DeleteFunction(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

// UpdateFunction applies only the fields present in patch, revalidates
// bounds, bumps UpdatedAt, and persists the full record. A non-nil
// patch.Code whose hash differs from the stored CodeHash additionally
// replaces the stored code blob: write the new blob, then persist
// metadata with the updated CodePath and CodeHash. Identical code leaves
// the blob untouched.
func (s *Service) UpdateFunction(ctx context.Context, name string, patch domain.UpdateFunctionRequest) (*domain.Function, error) {
	fn, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if patch.Runtime != nil {
		fn.Runtime = *patch.Runtime
	}
	if patch.Handler != nil {
		fn.Handler = *patch.Handler
	}
	if patch.MemoryMB != nil {
		fn.MemoryMB = *patch.MemoryMB
	}
	if patch.TimeoutSec != nil {
		fn.TimeoutSec = *patch.TimeoutSec
	}
	if patch.Environment != nil {
		fn.Environment = patch.Environment
	}

	codeToValidate := fn.Code
	if patch.Code != nil {
		codeToValidate = *patch.Code
	}
	if err := validate(fn.Name, fn.Runtime, fn.Handler, codeToValidate, fn.MemoryMB, fn.TimeoutSec); err != nil {
		return nil, err
	}

	if patch.Code != nil {
		newHash := fsutil.HashBytes([]byte(*patch.Code))
		if newHash != fn.CodeHash {
			locator, err := s.store.SaveCode(ctx, fn.Name, []byte(*patch.Code))
			if err != nil {
				return nil, err
			}
			fn.CodePath = locator
			fn.CodeHash = newHash
		}
		fn.Code = *patch.Code
	}

	fn.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, fn); err != nil {
		return nil, err
	}
	return fn, nil
}
