package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCanonicalAndPersistAtomic(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "p3")

	s, err := Load(path, 0, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Contains("1") {
		t.Fatal("expected empty cache")
	}

	s.Add("1")
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("tmp file should not survive a successful Persist")
	}

	s2, err := Load(path, 0, 0)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !s2.Contains("1") {
		t.Fatal("reloaded cache should contain previously added id")
	}
}

func TestMigrateLegacyWrapper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy_processed.json")
	if err := os.WriteFile(path, []byte(`{"processedItems":["a","b"]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(path, 0, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Contains("a") || !s.Contains("b") {
		t.Fatal("expected migrated ids to be present")
	}

	if _, err := os.Stat(path + ".pre-migration-backup"); err != nil {
		t.Fatalf("expected pre-migration backup to be written: %v", err)
	}
}

func TestMigrateBoolMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boolmap_processed.json")
	if err := os.WriteFile(path, []byte(`{"id1":true,"id2":true}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(path, 0, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Contains("id1") || !s.Contains("id2") {
		t.Fatal("expected both ids migrated")
	}
}

func TestFIFOEviction(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Path(dir, "capped"), 2, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.Add("1")
	s.Add("2")
	s.Add("3") // should evict "1"

	if s.Contains("1") {
		t.Fatal("expected eldest entry to be evicted")
	}
	if !s.Contains("2") || !s.Contains("3") {
		t.Fatal("expected newest entries to remain")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "canon")
	if err := os.WriteFile(path, []byte(`["a","b"]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ids, migrated, err := parseAndMigrate([]byte(`["a","b"]`))
	if err != nil {
		t.Fatalf("parseAndMigrate: %v", err)
	}
	if migrated {
		t.Fatal("canonical shape should not be reported as migrated")
	}
	if len(ids) != 2 {
		t.Fatalf("got %v", ids)
	}
}
