package cachedir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateThenReadWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	c, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f, err := c.Create("/notes.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()

	if _, err := c.WriteAt("/notes.txt", []byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, 5)
	n, err := c.ReadAt("/notes.txt", buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("read %q, want %q", buf[:n], "hello")
	}
}

func TestCreateExistingReturnsExists(t *testing.T) {
	root := t.TempDir()
	c, _ := New(root)

	f, _ := c.Create("/dup.txt", 0o644)
	f.Close()

	_, err := c.Create("/dup.txt", 0o644)
	if err == nil {
		t.Errorf("expected error creating duplicate file")
	}
}

func TestCreateNestedPathCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	c, _ := New(root)

	f, err := c.Create("/a/b/c.txt", 0o644)
	if err != nil {
		t.Fatalf("Create nested: %v", err)
	}
	f.Close()

	if _, err := os.Stat(filepath.Join(root, "a", "b", "c.txt")); err != nil {
		t.Errorf("nested file not created on host fs: %v", err)
	}
}
