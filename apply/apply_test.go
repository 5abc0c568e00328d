package apply

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/ports"
)

func newTestLocal(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	return d
}

func TestInstallNewPackageWritesFilesAndDB(t *testing.T) {
	local := newTestLocal(t)
	root := t.TempDir()

	newPkg := &pkg.Package{Name: "foo", Version: "1.0-1", Files: []string{"usr/bin/foo"}}
	arc := fakeArchive{
		"foo.pkg": {
			{ent: ports.Entry{Path: "usr/bin/foo", Mode: 0100755}, data: []byte("hello")},
		},
	}
	e := &Engine{Local: local, Archive: arc}

	if err := e.install(newPkg, nil, "foo.pkg", Options{RootPath: root}); err != nil {
		t.Fatalf("install: %v", err)
	}

	got, err := readFile(filepath.Join(root, "usr/bin/foo"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if got != "hello" {
		t.Fatalf("extracted content = %q, want %q", got, "hello")
	}

	found, err := local.Lookup("foo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found == nil {
		t.Fatal("expected foo to be installed in the local database")
	}
}

func TestBackupMergeOriginalEqualsLocalOverwrites(t *testing.T) {
	local := newTestLocal(t)
	root := t.TempDir()

	confPath := filepath.Join(root, "etc/p.conf")
	if err := os.MkdirAll(filepath.Dir(confPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(confPath, []byte("original content"), 0644); err != nil {
		t.Fatal(err)
	}

	old := &pkg.Package{
		Name: "p", Version: "1",
		Backup: map[string]string{"etc/p.conf": mustHash(t, confPath)}, // original == local
	}
	newPkg := &pkg.Package{Name: "p", Version: "2", Files: []string{"etc/p.conf"}}
	arc := fakeArchive{
		"p-2.pkg": {
			{ent: ports.Entry{Path: "etc/p.conf", Mode: 0100644}, data: []byte("new package content")},
		},
	}
	e := &Engine{Local: local, Archive: arc}

	if err := e.install(newPkg, old, "p-2.pkg", Options{RootPath: root}); err != nil {
		t.Fatalf("install: %v", err)
	}

	got, err := readFile(confPath)
	if err != nil {
		t.Fatal(err)
	}
	if got != "new package content" {
		t.Fatalf("expected overwrite when original==local, got %q", got)
	}
	if _, err := os.Stat(confPath + ".pacnew"); !os.IsNotExist(err) {
		t.Fatal("did not expect a .pacnew sidecar")
	}
}

func TestBackupMergeAllThreeDifferWritesPacnew(t *testing.T) {
	local := newTestLocal(t)
	root := t.TempDir()

	confPath := filepath.Join(root, "etc/p.conf")
	if err := os.MkdirAll(filepath.Dir(confPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(confPath, []byte("user edited content"), 0644); err != nil {
		t.Fatal(err)
	}

	old := &pkg.Package{
		Name: "p", Version: "1",
		Backup: map[string]string{"etc/p.conf": "deadbeefdeadbeef"}, // original, differs from local and package
	}
	newPkg := &pkg.Package{Name: "p", Version: "2", Files: []string{"etc/p.conf"}}
	arc := fakeArchive{
		"p-2.pkg": {
			{ent: ports.Entry{Path: "etc/p.conf", Mode: 0100644}, data: []byte("new package content, different again")},
		},
	}
	e := &Engine{Local: local, Archive: arc}

	if err := e.install(newPkg, old, "p-2.pkg", Options{RootPath: root}); err != nil {
		t.Fatalf("install: %v", err)
	}

	got, err := readFile(confPath)
	if err != nil {
		t.Fatal(err)
	}
	if got != "user edited content" {
		t.Fatalf("expected local file untouched when all three differ, got %q", got)
	}
	pacnew, err := readFile(confPath + ".pacnew")
	if err != nil {
		t.Fatalf("expected .pacnew sidecar: %v", err)
	}
	if pacnew != "new package content, different again" {
		t.Fatalf(".pacnew content = %q", pacnew)
	}
}

func TestRemoveDeletesFilesAndEntry(t *testing.T) {
	local := newTestLocal(t)
	root := t.TempDir()

	target := &pkg.Package{Name: "foo", Version: "1.0-1", Files: []string{"usr/bin", "usr/bin/foo"}}
	if err := local.Write(target, db.SectionAll); err != nil {
		t.Fatalf("seeding local db: %v", err)
	}

	full := filepath.Join(root, "usr/bin/foo")
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	e := &Engine{Local: local}
	if err := e.Remove(target, Options{RootPath: root}, false, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed")
	}
	if got, _ := local.Lookup("foo"); got != nil {
		t.Fatal("expected foo to be gone from the local database")
	}
}

func TestRemoveSavesUnsaveBackupFile(t *testing.T) {
	local := newTestLocal(t)
	root := t.TempDir()

	target := &pkg.Package{
		Name: "foo", Version: "1.0-1",
		Files:  []string{"etc/foo.conf"},
		Backup: map[string]string{"etc/foo.conf": "anyhash"},
	}
	if err := local.Write(target, db.SectionAll); err != nil {
		t.Fatal(err)
	}

	full := filepath.Join(root, "etc/foo.conf")
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("still here"), 0644); err != nil {
		t.Fatal(err)
	}

	e := &Engine{Local: local}
	if err := e.Remove(target, Options{RootPath: root}, false, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Fatal("expected original backup path to be gone (renamed to .pacsave)")
	}
	saved, err := readFile(full + ".pacsave")
	if err != nil {
		t.Fatalf("expected .pacsave sidecar: %v", err)
	}
	if saved != "still here" {
		t.Fatalf(".pacsave content = %q", saved)
	}
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func mustHash(t *testing.T, path string) string {
	t.Helper()
	h, err := fsHashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// --- fake ArchiveReader used across this package's tests ---------------

type fakeEntry struct {
	ent  ports.Entry
	data []byte
}

type fakeIterator struct {
	entries []fakeEntry
	idx     int
	cur     []byte
	pos     int
}

func (it *fakeIterator) Next() (ports.Entry, error) {
	if it.idx >= len(it.entries) {
		return ports.Entry{}, io.EOF
	}
	e := it.entries[it.idx]
	it.cur = e.data
	it.pos = 0
	it.idx++
	return e.ent, nil
}

func (it *fakeIterator) ReadData(buf []byte) (int, error) {
	if it.pos >= len(it.cur) {
		return 0, io.EOF
	}
	n := copy(buf, it.cur[it.pos:])
	it.pos += n
	return n, nil
}

func (it *fakeIterator) Close() error { return nil }

type fakeArchive map[string][]fakeEntry

func (a fakeArchive) Open(path string) (ports.ArchiveIterator, error) {
	entries, ok := a[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &fakeIterator{entries: entries}, nil
}
