package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/oriys/novafn/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := NewFileTreeStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileTreeStore: %v", err)
	}
	return NewService(store)
}

func TestService_CreateFunction_Defaults(t *testing.T) {
	s := newTestService(t)
	fn, err := s.CreateFunction(context.Background(), domain.CreateFunctionRequest{
		Name:    "hello",
		Runtime: domain.RuntimeNodeJS20,
		Handler: "index.handler",
		Code:    "exports.handler=async e=>({ok:true,e});",
	})
	if err != nil {
		t.Fatalf("CreateFunction: %v", err)
	}
	if fn.MemoryMB != domain.DefaultMemoryMB {
		t.Errorf("memory_mb = %d, want %d", fn.MemoryMB, domain.DefaultMemoryMB)
	}
	if fn.TimeoutSec != domain.DefaultTimeoutSec {
		t.Errorf("timeout_sec = %d, want %d", fn.TimeoutSec, domain.DefaultTimeoutSec)
	}
	if fn.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestService_CreateFunction_DuplicateName(t *testing.T) {
	s := newTestService(t)
	req := domain.CreateFunctionRequest{Name: "dup", Runtime: domain.RuntimePython311, Handler: "main.handler", Code: "x"}
	if _, err := s.CreateFunction(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	_, err := s.CreateFunction(context.Background(), req)
	if domain.KindOf(err) != domain.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestService_CreateFunction_Validation(t *testing.T) {
	s := newTestService(t)
	cases := []struct {
		name string
		req  domain.CreateFunctionRequest
	}{
		{"bad name", domain.CreateFunctionRequest{Name: "Bad Name", Runtime: domain.RuntimePython311, Handler: "h", Code: "x"}},
		{"unknown runtime", domain.CreateFunctionRequest{Name: "ok", Runtime: "cobol", Handler: "h", Code: "x"}},
		{"empty handler", domain.CreateFunctionRequest{Name: "ok2", Runtime: domain.RuntimePython311, Handler: "", Code: "x"}},
		{"empty code", domain.CreateFunctionRequest{Name: "ok3", Runtime: domain.RuntimePython311, Handler: "h", Code: ""}},
		{"memory out of bounds", domain.CreateFunctionRequest{Name: "ok4", Runtime: domain.RuntimePython311, Handler: "h", Code: "x", MemoryMB: 1}},
	}
	for _, tc := range cases {
		if _, err := s.CreateFunction(context.Background(), tc.req); domain.KindOf(err) != domain.KindInvalid {
			t.Errorf("%s: expected Invalid, got %v", tc.name, err)
		}
	}
}

func TestService_UpdateFunction_PartialPatch(t *testing.T) {
	s := newTestService(t)
	fn, err := s.CreateFunction(context.Background(), domain.CreateFunctionRequest{
		Name: "patchme", Runtime: domain.RuntimePython311, Handler: "main.handler", Code: "v1",
	})
	if err != nil {
		t.Fatal(err)
	}
	originalCreated := fn.CreatedAt

	newTimeout := 60
	updated, err := s.UpdateFunction(context.Background(), "patchme", domain.UpdateFunctionRequest{
		TimeoutSec: &newTimeout,
	})
	if err != nil {
		t.Fatalf("UpdateFunction: %v", err)
	}
	if updated.TimeoutSec != 60 {
		t.Errorf("timeout_sec = %d, want 60", updated.TimeoutSec)
	}
	if updated.Handler != "main.handler" {
		t.Errorf("handler changed unexpectedly: %q", updated.Handler)
	}
	if !updated.UpdatedAt.After(originalCreated) {
		t.Error("expected updated_at to strictly increase past created_at")
	}
}

func TestService_UpdateFunction_CodeReplacement(t *testing.T) {
	s := newTestService(t)
	if _, err := s.CreateFunction(context.Background(), domain.CreateFunctionRequest{
		Name: "recode", Runtime: domain.RuntimePython311, Handler: "main.handler", Code: "old",
	}); err != nil {
		t.Fatal(err)
	}

	newCode := "new code body"
	updated, err := s.UpdateFunction(context.Background(), "recode", domain.UpdateFunctionRequest{Code: &newCode})
	if err != nil {
		t.Fatalf("UpdateFunction: %v", err)
	}
	if !strings.Contains(updated.CodePath, "recode") {
		t.Errorf("code_path %q does not reference function name", updated.CodePath)
	}

	fetched, err := s.GetFunction(context.Background(), "recode")
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Code != newCode {
		t.Errorf("code = %q, want %q", fetched.Code, newCode)
	}
}

func TestService_UpdateFunction_CodeHashChangesWithCode(t *testing.T) {
	s := newTestService(t)
	fn, err := s.CreateFunction(context.Background(), domain.CreateFunctionRequest{
		Name: "hashed", Runtime: domain.RuntimePython311, Handler: "main.handler", Code: "v1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if fn.CodeHash == "" {
		t.Fatal("expected CreateFunction to populate CodeHash")
	}
	originalHash := fn.CodeHash
	originalPath := fn.CodePath

	sameCode := "v1"
	unchanged, err := s.UpdateFunction(context.Background(), "hashed", domain.UpdateFunctionRequest{Code: &sameCode})
	if err != nil {
		t.Fatalf("UpdateFunction (same code): %v", err)
	}
	if unchanged.CodeHash != originalHash {
		t.Errorf("re-sending identical code changed CodeHash: %q -> %q", originalHash, unchanged.CodeHash)
	}
	if unchanged.CodePath != originalPath {
		t.Errorf("re-sending identical code changed CodePath: %q -> %q", originalPath, unchanged.CodePath)
	}

	newCode := "v2"
	changed, err := s.UpdateFunction(context.Background(), "hashed", domain.UpdateFunctionRequest{Code: &newCode})
	if err != nil {
		t.Fatalf("UpdateFunction (new code): %v", err)
	}
	if changed.CodeHash == originalHash {
		t.Error("expected CodeHash to change after replacing code")
	}
}
