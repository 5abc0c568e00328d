package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/version"
)

// diffText reports whether a and b are identical and, if not, a
// human-readable diff, the way golang-dep's internal/test.Diff uses
// diffmatchpatch for string comparisons in its own table-driven tests.
func diffText(a, b string) (string, bool) {
	if a == b {
		return "", true
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffPrettyText(diffs), false
}

func newTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	d, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), nil)
	if err == nil {
		t.Fatal("expected error opening missing path")
	}
}

func TestFromPackagesLooksUpWithoutBackingDirectory(t *testing.T) {
	pkgs := []*pkg.Package{
		{Name: "a", Version: "1.0-1", Depends: []pkg.Dependency{{Name: "b", Op: version.Any}}},
		{Name: "b", Version: "2.0-1"},
	}
	d := FromPackages("core", "/nonexistent/sync/core", pkgs, nil)

	if got := d.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	got, err := d.Lookup("a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || got.Version != "1.0-1" {
		t.Fatalf("Lookup(a) = %+v", got)
	}
	if err := d.LoadSections(got, SectionDepends); err != nil {
		t.Fatalf("LoadSections: %v", err)
	}
	if len(got.Depends) != 1 || got.Depends[0].Name != "b" {
		t.Fatalf("Depends = %+v, want one dependency on b", got.Depends)
	}
}

func TestWriteLookupRoundTrip(t *testing.T) {
	d := newTestDB(t)
	p := &pkg.Package{
		Name:         "foo",
		Version:      "1.2-1",
		Description:  "a test package",
		Architecture: "x86_64",
		License:      []string{"MIT"},
		InstallSize:  1024,
		Depends:      []pkg.Dependency{{Name: "bar", Op: version.Ge, Version: "2.0"}},
		Provides:     []pkg.Provide{{Name: "virtual-foo"}},
		Files:        []string{"usr/bin/foo", "usr/share/foo/readme"},
		Backup:       map[string]string{"etc/foo.conf": "deadbeef"},
	}
	if err := d.Write(p, SectionAll); err != nil {
		t.Fatalf("Write: %v", err)
	}

	d2, err := Open(d.Path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := d2.Lookup("foo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Fatal("expected to find foo")
	}
	if got.Version != "1.2-1" || got.Description != "a test package" {
		t.Fatalf("desc fields not round-tripped: %+v", got)
	}

	if err := d2.LoadSections(got, SectionFiles|SectionDepends); err != nil {
		t.Fatalf("LoadSections: %v", err)
	}
	if len(got.Files) != 2 || got.Files[0] != "usr/bin/foo" {
		t.Fatalf("files not round-tripped: %v", got.Files)
	}
	if got.Backup["etc/foo.conf"] != "deadbeef" {
		t.Fatalf("backup not round-tripped: %v", got.Backup)
	}
	if len(got.Depends) != 1 || got.Depends[0].Name != "bar" || got.Depends[0].Op != version.Ge {
		t.Fatalf("depends not round-tripped: %+v", got.Depends)
	}
	if len(got.Provides) != 1 || got.Provides[0].Name != "virtual-foo" {
		t.Fatalf("provides not round-tripped: %+v", got.Provides)
	}
}

func TestWhatProvides(t *testing.T) {
	d := newTestDB(t)
	must(t, d.Write(&pkg.Package{Name: "foo", Version: "1.0"}, SectionAll))
	must(t, d.Write(&pkg.Package{Name: "bar", Version: "1.0", Provides: []pkg.Provide{{Name: "foo-compat"}}}, SectionAll))

	matches, err := d.WhatProvides("foo")
	if err != nil {
		t.Fatalf("WhatProvides: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "foo" {
		t.Fatalf("expected only foo itself, got %v", matches)
	}

	matches, err = d.WhatProvides("foo-compat")
	if err != nil {
		t.Fatalf("WhatProvides: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "bar" {
		t.Fatalf("expected bar via provides, got %v", matches)
	}
}

func TestRemove(t *testing.T) {
	d := newTestDB(t)
	p := &pkg.Package{Name: "foo", Version: "1.0"}
	must(t, d.Write(p, SectionAll))

	if err := d.Remove(p); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got, _ := d.Lookup("foo"); got != nil {
		t.Fatal("expected foo to be gone from cache")
	}
	if _, err := os.Stat(d.entryDir(p)); !os.IsNotExist(err) {
		t.Fatal("expected entry directory to be gone")
	}
}

func TestLastUpdate(t *testing.T) {
	d := newTestDB(t)
	if _, ok, err := d.GetLastUpdate(); err != nil || ok {
		t.Fatalf("expected no last update yet, got ok=%v err=%v", ok, err)
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := d.SetLastUpdate(ts); err != nil {
		t.Fatalf("SetLastUpdate: %v", err)
	}
	got, ok, err := d.GetLastUpdate()
	if err != nil || !ok {
		t.Fatalf("GetLastUpdate: ok=%v err=%v", ok, err)
	}
	if !got.Equal(ts) {
		t.Fatalf("got %v want %v", got, ts)
	}
}

func TestRecomputeRequiredBy(t *testing.T) {
	d := newTestDB(t)
	must(t, d.Write(&pkg.Package{Name: "bar", Version: "1.0"}, SectionAll))
	must(t, d.Write(&pkg.Package{
		Name: "foo", Version: "1.0",
		Depends: []pkg.Dependency{{Name: "bar", Op: version.Any}},
	}, SectionAll))

	if err := d.RecomputeRequiredBy(); err != nil {
		t.Fatalf("RecomputeRequiredBy: %v", err)
	}
	bar, _ := d.Lookup("bar")
	if len(bar.RequiredBy) != 1 || bar.RequiredBy[0] != "foo" {
		t.Fatalf("expected bar.RequiredBy = [foo], got %v", bar.RequiredBy)
	}
}

// TestDescSectionStableOnRewrite guards the exact on-disk desc text
// against incidental reformatting: writing the same package twice must
// produce byte-identical output, since a stray field reorder or
// whitespace change here would silently break every other tool that
// parses libalpm's desc format. A mismatch is reported as a readable
// diff rather than two opaque blobs.
func TestDescSectionStableOnRewrite(t *testing.T) {
	d := newTestDB(t)
	p := &pkg.Package{
		Name:         "foo",
		Version:      "1.2-1",
		Description:  "a test package",
		URL:          "https://example.org/foo",
		Architecture: "x86_64",
		License:      []string{"MIT", "Apache-2.0"},
		Groups:       []string{"base"},
		InstallSize:  2048,
		Replaces:     []string{"foo-old"},
	}
	must(t, d.Write(p, SectionDesc))
	descPath := filepath.Join(d.entryDir(p), "desc")

	before, err := os.ReadFile(descPath)
	if err != nil {
		t.Fatalf("reading desc: %v", err)
	}

	must(t, d.Write(p, SectionDesc))
	after, err := os.ReadFile(descPath)
	if err != nil {
		t.Fatalf("re-reading desc: %v", err)
	}

	if diff, equal := diffText(string(before), string(after)); !equal {
		t.Fatalf("desc section changed on an identical rewrite:\n%s", diff)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
