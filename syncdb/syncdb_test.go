package syncdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/version"
)

func tempCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "sync.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	c := tempCache(t)

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pkgs := []*pkg.Package{
		{
			Name:    "a",
			Version: "1.0-1",
			Depends: []pkg.Dependency{{Name: "b", Op: version.Ge, Version: "2.0"}},
			Provides: []pkg.Provide{
				{Name: "virtual-a"},
				{Name: "virtual-a-ver", Version: "1.0"},
			},
			Files:  []string{"/usr/bin/a"},
			Backup: map[string]string{"/etc/a.conf": "deadbeef"},
		},
		{Name: "b", Version: "2.0-1"},
	}

	if err := c.Store("core", stamp, pkgs); err != nil {
		t.Fatalf("Store: %v", err)
	}

	gotStamp, got, ok, err := c.Load("core")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no cached snapshot after Store")
	}
	if !gotStamp.Equal(stamp) {
		t.Errorf("timestamp = %v, want %v", gotStamp, stamp)
	}
	if len(got) != 2 {
		t.Fatalf("got %d packages, want 2", len(got))
	}

	byName := map[string]*pkg.Package{}
	for _, p := range got {
		byName[p.Name] = p
	}

	a := byName["a"]
	if a == nil {
		t.Fatal("package a missing from round trip")
	}
	if a.Version != "1.0-1" {
		t.Errorf("a.Version = %q, want 1.0-1", a.Version)
	}
	if len(a.Depends) != 1 || a.Depends[0].Name != "b" || a.Depends[0].Op != version.Ge {
		t.Errorf("a.Depends round-tripped wrong: %+v", a.Depends)
	}
	if len(a.Provides) != 2 || a.Provides[1].Version != "1.0" {
		t.Errorf("a.Provides round-tripped wrong: %+v", a.Provides)
	}
	if a.Backup["/etc/a.conf"] != "deadbeef" {
		t.Errorf("a.Backup round-tripped wrong: %+v", a.Backup)
	}
	if len(a.Files) != 1 || a.Files[0] != "/usr/bin/a" {
		t.Errorf("a.Files round-tripped wrong: %+v", a.Files)
	}
}

func TestLoadMissingRepoIsNotError(t *testing.T) {
	c := tempCache(t)

	_, pkgs, ok, err := c.Load("never-fetched")
	if err != nil {
		t.Fatalf("Load on empty cache returned error: %v", err)
	}
	if ok {
		t.Fatal("Load reported ok=true for a repo never stored")
	}
	if pkgs != nil {
		t.Errorf("expected nil packages, got %v", pkgs)
	}
}

func TestFresh(t *testing.T) {
	c := tempCache(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := c.Store("core", now.Add(-time.Hour), nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	fresh, err := c.Fresh("core", 2*time.Hour, now)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if !fresh {
		t.Error("expected repo stamped 1h ago to be fresh under a 2h max age")
	}

	stale, err := c.Fresh("core", 30*time.Minute, now)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if stale {
		t.Error("expected repo stamped 1h ago to be stale under a 30m max age")
	}

	never, err := c.Fresh("extra", time.Hour, now)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if never {
		t.Error("expected a never-cached repo to never be fresh")
	}
}

func TestStoreReplacesPreviousSnapshot(t *testing.T) {
	c := tempCache(t)
	t1 := time.Unix(1000, 0).UTC()
	t2 := time.Unix(2000, 0).UTC()

	if err := c.Store("core", t1, []*pkg.Package{{Name: "old", Version: "1-1"}}); err != nil {
		t.Fatalf("Store #1: %v", err)
	}
	if err := c.Store("core", t2, []*pkg.Package{{Name: "new", Version: "2-1"}}); err != nil {
		t.Fatalf("Store #2: %v", err)
	}

	stamp, pkgs, ok, err := c.Load("core")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !stamp.Equal(t2) {
		t.Errorf("stamp = %v, want %v", stamp, t2)
	}
	if len(pkgs) != 1 || pkgs[0].Name != "new" {
		t.Errorf("expected only the second snapshot's package, got %+v", pkgs)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "sync.db")

	c, err := Open(nested)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, err := os.Stat(nested); err != nil {
		t.Errorf("expected bolt file to exist at %s: %v", nested, err)
	}
}
