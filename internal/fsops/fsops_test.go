package fsops

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"smfs/internal/cachedir"
	"smfs/internal/catalog"
	"smfs/internal/streamsession"
	"smfs/internal/urlfetch"
)

func newTestFsOps(t *testing.T, cat *catalog.Catalog) *FsOps {
	t.Helper()
	cache, err := cachedir.New(t.TempDir())
	if err != nil {
		t.Fatalf("cachedir.New: %v", err)
	}
	return New(cat, cache, urlfetch.New(nil), zap.NewNop().Sugar(), func() bool { return false })
}

func newTestCatalog(t *testing.T, sessionFactory catalog.SessionFactory) *catalog.Catalog {
	t.Helper()
	return catalog.New(t.TempDir(), []string{"xml", "m3u", "strm", "ts"}, sessionFactory, zap.NewNop().Sugar())
}

func TestReadDirAtOffsetZeroListsEntries(t *testing.T) {
	cat := newTestCatalog(t, nil)
	cat.ApplySnapshot([]catalog.SnapshotEntry{
		{Path: "/A/A.xml", Kind: catalog.KindRemoteFile, URL: "http://h/A"},
	})
	ops := newTestFsOps(t, cat)

	entries, err := ops.ReadDir(catalog.RootInode, 0)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "A" {
		t.Errorf("entries = %+v, want [A]", entries)
	}
}

func TestReadDirAtNonZeroOffsetReturnsEmpty(t *testing.T) {
	cat := newTestCatalog(t, nil)
	ops := newTestFsOps(t, cat)

	entries, err := ops.ReadDir(catalog.RootInode, 1)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries at offset>0 = %+v, want empty", entries)
	}
}

func TestReadStrmReturnsURLBytes(t *testing.T) {
	cat := newTestCatalog(t, nil)
	cat.ApplySnapshot([]catalog.SnapshotEntry{
		{Path: "/A/X/X.strm", Kind: catalog.KindRemoteFile, URL: "http://h/X"},
	})
	ops := newTestFsOps(t, cat)

	inode, _, ok := cat.Lookup("/A/X/X.strm")
	if !ok {
		t.Fatalf("lookup failed")
	}

	h, err := ops.Open(inode)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data, err := ops.Read(h, 1024, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "http://h/X" {
		t.Errorf("data = %q, want %q", data, "http://h/X")
	}

	// Second read at offset==len(url) returns 0 bytes.
	data2, err := ops.Read(h, 1024, int64(len("http://h/X")))
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if len(data2) != 0 {
		t.Errorf("second read = %d bytes, want 0", len(data2))
	}
}

func TestWriteToRemoteFileDenied(t *testing.T) {
	cat := newTestCatalog(t, nil)
	cat.ApplySnapshot([]catalog.SnapshotEntry{
		{Path: "/A/X/X.strm", Kind: catalog.KindRemoteFile, URL: "http://h/X"},
	})
	ops := newTestFsOps(t, cat)

	inode, _, _ := cat.Lookup("/A/X/X.strm")
	h, _ := ops.Open(inode)

	_, err := ops.Write(h, []byte("nope"), 0)
	if err == nil {
		t.Fatalf("expected error writing to remote file")
	}
}

func TestMknodExistingReturnsExists(t *testing.T) {
	cat := newTestCatalog(t, nil)
	ops := newTestFsOps(t, cat)

	if _, err := ops.Mknod(catalog.RootInode, "note.txt", 0o644); err != nil {
		t.Fatalf("first Mknod: %v", err)
	}
	if _, err := ops.Mknod(catalog.RootInode, "note.txt", 0o644); err == nil {
		t.Errorf("expected EXISTS on duplicate mknod")
	}
}

func TestOpenReadReleaseTSStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("streamed-bytes"))
	}))
	defer srv.Close()

	factory := catalog.NewHTTPSessionFactory(srv.Client(), zap.NewNop().Sugar(), func() bool { return false })
	cat := newTestCatalog(t, factory)
	cat.ApplySnapshot([]catalog.SnapshotEntry{
		{Path: "/A/X/X.ts", Kind: catalog.KindRemoteFile, URL: srv.URL},
	})
	ops := newTestFsOps(t, cat)

	inode, _, _ := cat.Lookup("/A/X/X.ts")
	h, err := ops.Open(inode)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var data []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		chunk, err := ops.Read(h, 64, 0)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		data = append(data, chunk...)
	}

	if string(data) != "streamed-bytes" {
		t.Errorf("data = %q, want %q", data, "streamed-bytes")
	}

	if err := ops.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	session, err := cat.EnsureSession(inode)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if session.State() == streamsession.Stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("session did not reach Stopped after release, state=%v", session.State())
}
