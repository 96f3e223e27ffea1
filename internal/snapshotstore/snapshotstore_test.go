package snapshotstore

import (
	"path/filepath"
	"testing"

	"smfs/internal/catalogsource"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshot.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("Load on empty store: ok=%v err=%v", ok, err)
	}

	snap := catalogsource.Snapshot{
		"2": catalogsource.Group{Name: "A", URL: "http://h/A", SMFS: []catalogsource.Channel{{Name: "X", URL: "http://h/X"}}},
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load after save: ok=%v err=%v", ok, err)
	}
	if got["2"].Name != "A" || got["2"].SMFS[0].URL != "http://h/X" {
		t.Errorf("loaded snapshot mismatch: %+v", got)
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshot.db")
	store, _ := Open(dbPath)
	defer store.Close()

	store.Save(catalogsource.Snapshot{"1": catalogsource.Group{Name: "A"}})
	store.Save(catalogsource.Snapshot{"1": catalogsource.Group{Name: "B"}})

	got, _, _ := store.Load()
	if got["1"].Name != "B" {
		t.Errorf("Load after second save = %+v, want name B", got)
	}
}
