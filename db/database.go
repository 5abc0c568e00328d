package db

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/internal/fs"
	"github.com/devkitPro/pacman-sub000/internal/xlog"
	"github.com/devkitPro/pacman-sub000/pkg"
)

// ErrMissing is returned by Open when path does not exist.
var ErrMissing = errors.New("database path missing")

// ErrCorrupt wraps a failure to read a package's desc section, the one
// read failure spec.md §4.4 treats as fatal to the whole operation.
type ErrCorrupt struct {
	Name string
	Err  error
}

func (e *ErrCorrupt) Error() string {
	return "corrupt database entry " + e.Name + ": " + e.Err.Error()
}
func (e *ErrCorrupt) Unwrap() error { return e.Err }

// ErrDbWrite wraps any failure encountered while writing a package's
// sections back to disk.
type ErrDbWrite struct {
	Name string
	Err  error
}

func (e *ErrDbWrite) Error() string { return "writing " + e.Name + ": " + e.Err.Error() }
func (e *ErrDbWrite) Unwrap() error { return e.Err }

// Database is a named, ordered collection of Package records backed by a
// directory tree in libalpm's desc/files/depends layout, with a name-hash
// index for O(1) lookup (spec.md §4.3/§4.4).
type Database struct {
	Name string
	Path string

	idx *pkg.Index
	log *xlog.Logger
}

// Open walks path once, building a skeleton Package record (name, version
// only) for each entry and indexing it. Field sections are left unloaded;
// they are materialized lazily by Lookup callers via LoadSections.
func Open(path string, log *xlog.Logger) (*Database, error) {
	if log == nil {
		log = xlog.Std()
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissing, path)
		}
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("%s is not a directory", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	d := &Database{
		Name: filepath.Base(path),
		Path: path,
		idx:  pkg.NewIndex(len(entries)),
		log:  log,
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, ver, ok := splitDirName(e.Name())
		if !ok {
			log.Warningf("skipping malformed database entry %q", e.Name())
			continue
		}
		d.idx.Add(&pkg.Package{Name: name, Version: ver, Origin: pkg.OriginLocalDB})
	}

	return d, nil
}

// FromPackages builds an in-memory Database with no backing directory,
// indexing pkgs directly. Every package is marked fully loaded since there
// is no section file to lazily read it from; used to seed a sync database
// from a cached snapshot when the on-disk tree has not been synced yet.
func FromPackages(name, path string, pkgs []*pkg.Package, log *xlog.Logger) *Database {
	if log == nil {
		log = xlog.Std()
	}
	idx := pkg.NewIndex(len(pkgs))
	for _, p := range pkgs {
		p.Loaded = uint8(SectionAll)
		idx.Add(p)
	}
	return &Database{Name: name, Path: path, idx: idx, log: log}
}

func (d *Database) entryDir(p *pkg.Package) string {
	return filepath.Join(d.Path, dirName(p.Name, p.Version))
}

// EntryDir returns the on-disk directory holding p's section files
// ("name-version" under the database path); the apply package uses this
// to locate a package's diverted .INSTALL/.CHANGELOG files and install
// script path, outside of reading or writing any section itself.
func (d *Database) EntryDir(p *pkg.Package) string {
	return d.entryDir(p)
}

// ensureLoaded reads whichever sections of want are not yet present in
// p.Loaded, merging new data into p and marking the sections loaded. A
// missing section file is tolerated (some packages have no depends, for
// instance); only the desc file is mandatory for a legitimate entry.
func (d *Database) ensureLoaded(p *pkg.Package, want Section) error {
	missing := want &^ Section(p.Loaded)
	if missing == 0 {
		return nil
	}
	dir := d.entryDir(p)

	if missing&SectionDesc != 0 {
		if err := readDesc(filepath.Join(dir, "desc"), p); err != nil {
			return &ErrCorrupt{Name: p.Name, Err: err}
		}
		p.Loaded |= uint8(SectionDesc)
	}
	if missing&SectionFiles != 0 {
		if err := readFiles(filepath.Join(dir, "files"), p); err != nil && !os.IsNotExist(errors.Cause(err)) {
			d.log.Warningf("%s: %v", p.Name, err)
		}
		p.Loaded |= uint8(SectionFiles)
	}
	if missing&SectionDepends != 0 {
		if err := readDepends(filepath.Join(dir, "depends"), p); err != nil && !os.IsNotExist(errors.Cause(err)) {
			d.log.Warningf("%s: %v", p.Name, err)
		}
		p.Loaded |= uint8(SectionDepends)
	}
	return nil
}

// Lookup returns the named package with its desc fields (the fields
// spec.md's "DESC-class" access covers) materialized. Callers that need
// files/backup or depends/conflicts/provides must call LoadSections
// explicitly, keeping the lazy-load contract observable to callers that
// only ever touch name/version.
func (d *Database) Lookup(name string) (*pkg.Package, error) {
	p, ok := d.idx.Lookup(name)
	if !ok {
		return nil, nil
	}
	if err := d.ensureLoaded(p, SectionDesc); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadSections materializes the requested sections on p, if not already
// loaded. p must be a record owned by this Database (e.g. returned from
// Lookup or WhatProvides).
func (d *Database) LoadSections(p *pkg.Package, sections Section) error {
	return d.ensureLoaded(p, sections)
}

// WhatProvides returns every package whose name equals name or whose
// provides list contains name, loading depends-class sections as needed
// to inspect Provides.
func (d *Database) WhatProvides(name string) ([]*pkg.Package, error) {
	var out []*pkg.Package
	var firstErr error
	d.idx.Each(func(p *pkg.Package) {
		if firstErr != nil {
			return
		}
		if p.Name == name {
			out = append(out, p)
			return
		}
		if err := d.ensureLoaded(p, SectionDepends); err != nil {
			firstErr = err
			return
		}
		for _, pr := range p.Provides {
			if pr.Name == name {
				out = append(out, p)
				return
			}
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Each iterates every package currently in the cache without forcing any
// lazy section to load.
func (d *Database) Each(fn func(*pkg.Package)) { d.idx.Each(fn) }

// Len reports the number of packages currently tracked.
func (d *Database) Len() int { return d.idx.Len() }

// Write serializes the requested sections of p to disk under its entry
// directory, creating the directory (mode 0755) if needed, and adds p to
// the in-memory cache. On any failure the in-memory cache is left
// untouched, per spec.md §4.4.
func (d *Database) Write(p *pkg.Package, sections Section) error {
	dir := d.entryDir(p)

	prevUmask := fs.Umask(0022)
	defer fs.Umask(prevUmask)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return &ErrDbWrite{Name: p.Name, Err: err}
	}

	if sections&SectionDesc != 0 {
		if err := writeDesc(filepath.Join(dir, "desc"), p); err != nil {
			return &ErrDbWrite{Name: p.Name, Err: err}
		}
	}
	if sections&SectionFiles != 0 {
		if err := writeFiles(filepath.Join(dir, "files"), p); err != nil {
			return &ErrDbWrite{Name: p.Name, Err: err}
		}
	}
	if sections&SectionDepends != 0 {
		if err := writeDepends(filepath.Join(dir, "depends"), p); err != nil {
			return &ErrDbWrite{Name: p.Name, Err: err}
		}
	}

	p.Loaded |= uint8(sections)
	if existing, ok := d.idx.Lookup(p.Name); !ok || existing != p {
		if ok {
			d.idx.Remove(p.Name)
		}
		d.idx.Add(p)
	}
	return nil
}

// Remove unlinks p's entry directory, tolerating missing subfiles, and
// drops it from the cache.
func (d *Database) Remove(p *pkg.Package) error {
	dir := d.entryDir(p)
	for _, name := range []string{"desc", "files", "depends", "install", "changelog"} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			d.log.Warningf("removing %s: %v", filepath.Join(dir, name), err)
		}
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing entry directory %s", dir)
	}
	d.idx.Remove(p.Name)
	return nil
}

// RecomputeRequiredBy scans every package's Depends to populate each
// target's RequiredBy list, since spec.md §4.4 forbids persisting it.
func (d *Database) RecomputeRequiredBy() error {
	byName := make(map[string]*pkg.Package)
	d.idx.Each(func(p *pkg.Package) { byName[p.Name] = p })

	for _, p := range byName {
		p.RequiredBy = nil
	}

	var firstErr error
	d.idx.Each(func(p *pkg.Package) {
		if firstErr != nil {
			return
		}
		if err := d.ensureLoaded(p, SectionDepends); err != nil {
			firstErr = err
			return
		}
		for _, dep := range p.Depends {
			for _, cand := range byName {
				if cand.Satisfies(dep) {
					cand.RequiredBy = append(cand.RequiredBy, p.Name)
				}
			}
		}
	})
	return firstErr
}

const lastUpdateLayout = "20060102150405"

// SetLastUpdate writes a 14-character YYYYMMDDHHMMSS UTC timestamp to
// .lastupdate under the database directory, used by the sync-update path.
func (d *Database) SetLastUpdate(ts time.Time) error {
	data := []byte(ts.UTC().Format(lastUpdateLayout))
	return atomicWriteFile(filepath.Join(d.Path, ".lastupdate"), data, 0644)
}

// GetLastUpdate reads the .lastupdate timestamp, if any.
func (d *Database) GetLastUpdate() (time.Time, bool, error) {
	data, err := os.ReadFile(filepath.Join(d.Path, ".lastupdate"))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(lastUpdateLayout, string(data))
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "parsing .lastupdate")
	}
	return t, true, nil
}
