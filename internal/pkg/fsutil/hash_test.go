package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashBytesIsStableAndSensitiveToContent(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	if a != b {
		t.Fatalf("expected stable hash, got %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected a 16-char truncated hash, got %d chars", len(a))
	}

	c := HashBytes([]byte("goodbye"))
	if a == c {
		t.Fatal("expected different content to hash differently")
	}
}

func TestHashFileMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code.txt")
	if err := os.WriteFile(path, []byte("function body"), 0o644); err != nil {
		t.Fatal(err)
	}

	fileHash, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := HashBytes([]byte("function body")); fileHash != want {
		t.Errorf("HashFile = %q, want %q", fileHash, want)
	}
}
