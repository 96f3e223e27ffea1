package catalog

import (
	"testing"

	"go.uber.org/zap"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		parent, child, want string
		wantErr             bool
	}{
		{"/", "", "/", false},
		{"/A", "", "/A", false},
		{"/A/", "", "/A", false},
		{"//A//B", "", "/A/B", false},
		{"/A", "B", "/A/B", false},
		{"/A", ".", "", true},
		{"/A", "..", "", true},
	}

	for _, tc := range cases {
		got, err := NormalizePath(tc.parent, tc.child)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizePath(%q,%q) = %q, want error", tc.parent, tc.child, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePath(%q,%q) unexpected error: %v", tc.parent, tc.child, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePath(%q,%q) = %q, want %q", tc.parent, tc.child, got, tc.want)
		}
	}
}

func TestPathInodeBijection(t *testing.T) {
	c := New("/tmp/smfs_test", []string{"xml"}, nil, zap.NewNop().Sugar())

	c.InsertDirectory("/A")
	c.InsertRemoteFile("/A/A.xml", "http://h/A")

	c.mu.RLock()
	defer c.mu.RUnlock()

	for p, ino := range c.pathToInode {
		if c.inodeToPath[ino] != p {
			t.Errorf("inode %d maps back to %q, want %q", ino, c.inodeToPath[ino], p)
		}
	}
	for ino, p := range c.inodeToPath {
		if c.pathToInode[p] != ino {
			t.Errorf("path %q maps back to inode %d, want %d", p, c.pathToInode[p], ino)
		}
	}
}

func TestApplySnapshotOneGroupOneChannel(t *testing.T) {
	c := New("/tmp/smfs_test", []string{"xml", "m3u"}, nil, zap.NewNop().Sugar())

	c.ApplySnapshot([]SnapshotEntry{
		{Path: "/A", Kind: KindDirectory},
		{Path: "/A/A.xml", Kind: KindRemoteFile, URL: "http://h/A"},
		{Path: "/A/A.m3u", Kind: KindRemoteFile, URL: "http://h/A"},
		{Path: "/A/X", Kind: KindDirectory},
		{Path: "/A/X/X.ts", Kind: KindRemoteFile, URL: "http://h/X"},
		{Path: "/A/X/X.strm", Kind: KindRemoteFile, URL: "http://h/X"},
	})

	rootChildren, ok := c.ChildrenOf("/")
	if !ok {
		t.Fatalf("ChildrenOf(/) not found")
	}
	if len(rootChildren) != 1 || rootChildren[0].Name != "A" {
		t.Errorf("root children = %+v, want [A]", rootChildren)
	}

	groupChildren, ok := c.ChildrenOf("/A")
	if !ok {
		t.Fatalf("ChildrenOf(/A) not found")
	}
	names := map[string]bool{}
	for _, ch := range groupChildren {
		names[ch.Name] = true
	}
	for _, want := range []string{"A.m3u", "A.xml", "X"} {
		if !names[want] {
			t.Errorf("ChildrenOf(/A) missing %q, got %+v", want, groupChildren)
		}
	}

	_, node, ok := c.Lookup("/A/X/X.ts")
	if !ok {
		t.Fatalf("lookup /A/X/X.ts not found")
	}
	if node.URL != "http://h/X" {
		t.Errorf("X.ts url = %q, want http://h/X", node.URL)
	}
}

func TestApplySnapshotPreservesInodeForUnchangedURL(t *testing.T) {
	c := New("/tmp/smfs_test", []string{"ts"}, nil, zap.NewNop().Sugar())

	snap := []SnapshotEntry{
		{Path: "/A/X/X.ts", Kind: KindRemoteFile, URL: "http://h/X"},
	}
	c.ApplySnapshot(snap)
	ino1, _, _ := c.Lookup("/A/X/X.ts")

	c.ApplySnapshot(snap)
	ino2, _, _ := c.Lookup("/A/X/X.ts")

	if ino1 != ino2 {
		t.Errorf("inode changed across idempotent apply: %d != %d", ino1, ino2)
	}
}

func TestApplySnapshotRemovesMissingPaths(t *testing.T) {
	c := New("/tmp/smfs_test", []string{"ts"}, nil, zap.NewNop().Sugar())

	c.ApplySnapshot([]SnapshotEntry{
		{Path: "/A/X/X.ts", Kind: KindRemoteFile, URL: "http://h/X"},
	})
	c.ApplySnapshot([]SnapshotEntry{})

	if _, _, ok := c.Lookup("/A/X/X.ts"); ok {
		t.Errorf("path survived a snapshot that omitted it")
	}
}

func TestInsertUserFileRejectsDuplicate(t *testing.T) {
	c := New("/tmp/smfs_test", nil, nil, zap.NewNop().Sugar())

	if err := c.InsertUserFile("/foo", 0o644, 0, 0, InMemoryBuffer); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := c.InsertUserFile("/foo", 0o644, 0, 0, InMemoryBuffer); err == nil {
		t.Errorf("expected error inserting duplicate user file")
	}
}
