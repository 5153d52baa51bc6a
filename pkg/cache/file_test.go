package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "sherpa", "activity_cache.json"))
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	m := NewManager()
	m.Update(testProfileID, []activity.Completed{
		rec("B", base.Add(time.Hour)),
		rec("A", base),
	})
	if err := store.Save(ctx, m); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	pc, ok := loaded.Get(testProfileID)
	if !ok {
		t.Fatal("profile entry missing after reload")
	}
	if len(pc.Activities) != 2 || pc.Activities[0].InstanceID != "B" {
		t.Errorf("reloaded activities = %v, expected [B A]", ids(pc.Activities))
	}
	if pc.CacheVersion != SchemaVersion {
		t.Errorf("reloaded CacheVersion = %d, expected %d", pc.CacheVersion, SchemaVersion)
	}
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := tempStore(t)

	m, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed on a missing file: %v", err)
	}
	if len(m.Stats()) != 0 {
		t.Error("expected an empty manager for a missing file")
	}
}

func TestFileStoreLoadCorruptFile(t *testing.T) {
	store := tempStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed on a corrupt file: %v", err)
	}
	if len(m.Stats()) != 0 {
		t.Error("expected an empty manager for a corrupt file")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("corrupt file was not removed")
	}
}

func TestFileStoreLoadVersionMismatch(t *testing.T) {
	store := tempStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o755); err != nil {
		t.Fatal(err)
	}

	doc := document{
		Version: SchemaVersion - 1,
		Profiles: map[string]*ActivityCache{
			testProfileID: {ProfileID: testProfileID, CacheVersion: SchemaVersion - 1},
		},
	}
	content, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), content, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed on a version mismatch: %v", err)
	}
	if len(m.Stats()) != 0 {
		t.Error("outdated document was not discarded")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("outdated file was not removed")
	}
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)

	if err := store.Save(ctx, NewManager()); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("cache file survived Clear()")
	}
	if _, err := os.Stat(filepath.Dir(store.Path())); !os.IsNotExist(err) {
		t.Error("empty cache directory survived Clear()")
	}

	// Clearing again is a no-op, not an error.
	if err := store.Clear(); err != nil {
		t.Errorf("Clear() on a missing file failed: %v", err)
	}
}
