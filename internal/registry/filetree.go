package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/oriys/novafn/internal/domain"
)

// FileTreeStore persists one directory per function, each holding
// metadata.json and code.bin. Writes go through a temp file in the same
// directory followed by an atomic rename, so a crash mid-write never
// leaves a half-written file visible under the real name. Uniqueness on
// name is enforced by an existence check on the function's directory,
// serialized per-name by nameLocks so two concurrent Create calls for the
// same name never both observe "absent".
type FileTreeStore struct {
	root string

	mu        sync.Mutex // guards nameLocks map itself
	nameLocks map[string]*sync.Mutex
}

// NewFileTreeStore opens (creating if absent) a file-tree backend rooted
// at dir/functions.
func NewFileTreeStore(dir string) (*FileTreeStore, error) {
	functionsDir := filepath.Join(dir, "functions")
	if err := os.MkdirAll(functionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create functions dir: %w", err)
	}
	return &FileTreeStore{root: functionsDir, nameLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileTreeStore) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.nameLocks[name] = l
	}
	return l
}

func (s *FileTreeStore) dir(name string) string { return filepath.Join(s.root, name) }

// writeAtomic writes data to path via a sibling temp file plus rename.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *FileTreeStore) Create(ctx context.Context, fn *domain.Function) error {
	lock := s.lockFor(fn.Name)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(fn.Name)
	if _, err := os.Stat(dir); err == nil {
		return domain.NewError(domain.KindAlreadyExists, "registry.Create", "function "+fn.Name+" already exists", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "registry.Create", "mkdir", err)
	}
	return s.writeMetadata(fn)
}

func (s *FileTreeStore) writeMetadata(fn *domain.Function) error {
	data, err := json.Marshal(fn)
	if err != nil {
		return domain.NewError(domain.KindInternal, "registry.writeMetadata", "marshal", err)
	}
	path := filepath.Join(s.dir(fn.Name), "metadata.json")
	if err := writeAtomic(path, data, 0o644); err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "registry.writeMetadata", "write", err)
	}
	return nil
}

func (s *FileTreeStore) readMetadata(name string) (*domain.Function, error) {
	path := filepath.Join(s.dir(name), "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewError(domain.KindNotFound, "registry.Get", "function "+name+" not found", nil)
		}
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.Get", "read", err)
	}
	var fn domain.Function
	if err := json.Unmarshal(data, &fn); err != nil {
		return nil, domain.NewError(domain.KindInternal, "registry.Get", "unmarshal", err)
	}
	return &fn, nil
}

func (s *FileTreeStore) Get(ctx context.Context, name string) (*domain.Function, error) {
	return s.readMetadata(name)
}

func (s *FileTreeStore) GetByID(ctx context.Context, id string) (*domain.Function, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, fn := range all {
		if fn.ID == id {
			return fn, nil
		}
	}
	return nil, domain.NewError(domain.KindNotFound, "registry.GetByID", "function "+id+" not found", nil)
}

func (s *FileTreeStore) Update(ctx context.Context, fn *domain.Function) error {
	lock := s.lockFor(fn.Name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.dir(fn.Name)); err != nil {
		return domain.NewError(domain.KindNotFound, "registry.Update", "function "+fn.Name+" not found", nil)
	}
	return s.writeMetadata(fn)
}

func (s *FileTreeStore) Delete(ctx context.Context, name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(name)
	if _, err := os.Stat(dir); err != nil {
		return domain.NewError(domain.KindNotFound, "registry.Delete", "function "+name+" not found", nil)
	}
	if err := os.RemoveAll(dir); err != nil {
		return domain.NewError(domain.KindBackendUnavailable, "registry.Delete", "remove", err)
	}
	return nil
}

func (s *FileTreeStore) List(ctx context.Context) ([]*domain.Function, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.List", "readdir", err)
	}
	fns := make([]*domain.Function, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fn, err := s.readMetadata(e.Name())
		if err != nil {
			continue // directory exists but metadata missing/corrupt: skip
		}
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].CreatedAt.After(fns[j].CreatedAt) })
	return fns, nil
}

func (s *FileTreeStore) SaveCode(ctx context.Context, name string, code []byte) (string, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.NewError(domain.KindBackendUnavailable, "registry.SaveCode", "mkdir", err)
	}
	path := filepath.Join(dir, "code.bin")
	if err := writeAtomic(path, code, 0o644); err != nil {
		return "", domain.NewError(domain.KindBackendUnavailable, "registry.SaveCode", "write", err)
	}
	return "file://" + path, nil
}

func (s *FileTreeStore) GetCode(ctx context.Context, locator string) ([]byte, error) {
	path, ok := trimFilePrefix(locator)
	if !ok {
		return nil, domain.NewError(domain.KindInvalid, "registry.GetCode", "locator not owned by this backend: "+locator, nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewError(domain.KindNotFound, "registry.GetCode", "code not found", nil)
		}
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.GetCode", "read", err)
	}
	return data, nil
}

func trimFilePrefix(locator string) (string, bool) {
	const prefix = "file://"
	if len(locator) <= len(prefix) || locator[:len(prefix)] != prefix {
		return "", false
	}
	return locator[len(prefix):], true
}
