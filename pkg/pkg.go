// Package pkg defines the Package record, Dependency expressions, and the
// name-hash index used to look packages up in O(1), as specified for
// component C3. The record shape follows spec.md §3; the index follows
// libalpm's pkghash.c (sdbm mixing, open addressing, prime ladder).
package pkg

import (
	"time"

	"github.com/devkitPro/pacman-sub000/version"
)

// InstallReason says why a package ended up installed.
type InstallReason int

const (
	ExplicitlyRequested InstallReason = iota
	PulledAsDependency
)

// Origin says where a Package record was materialized from.
type Origin int

const (
	OriginLocalDB Origin = iota
	OriginSyncDB
	OriginFile
)

// Dependency is a (name, op, version?) expression as defined in spec.md §3.
// Op == version.Any means Version is ignored.
type Dependency struct {
	Name    string
	Op      version.Op
	Version string
}

// Provide is an entry in a package's provides list: a virtual name, with an
// optional version (libalpm's provide.c allows "foo=1.2" provides entries,
// which then participate in ordinary version comparison; a bare name
// satisfies only an Any-op dependency).
type Provide struct {
	Name    string
	Version string // empty if the provides entry carries no version
}

// Package is the in-memory representation of one package record.
//
// Field sets besides Name/Version are lazily materialized by the db
// package when the record comes from an on-disk database; Loaded tracks
// which sections have been read so repeated access doesn't re-read the
// section file. A Package constructed directly starts with Loaded == 0;
// db.FromPackages and db.Database.Write set the bits for the sections they
// hold or write.
type Package struct {
	Name    string
	Version string

	Description  string
	URL          string
	Architecture string
	Builder      string
	BuildDate    time.Time
	InstallDate  time.Time

	InstallSize   int64
	InstallReason InstallReason
	ScriptletPresent bool

	License []string
	Groups  []string

	Depends    []Dependency
	OptDepends []string // free-form "name: reason" hints, not solved against
	Conflicts  []Dependency
	Provides   []Provide
	Replaces   []string

	Files   []string          // sorted
	Backup  map[string]string // path -> content hash at install time

	ContentHash string // optional, hash of the package artifact itself
	Origin      Origin

	// RequiredBy is never persisted (spec.md §4.4); it is filled by
	// db.Database.RecomputeRequiredBy, which db.Open does not call, and
	// mutated as dependers are added/removed (spec.md §9).
	RequiredBy []string

	// Loaded is a bitmask of which on-disk sections have been read into
	// this record. See db.Section* constants.
	Loaded uint8

	nameHash uint32
	hashSet  bool
}

// NameHash returns the sdbm hash of the package name, computing and
// memoizing it on first use.
func (p *Package) NameHash() uint32 {
	if !p.hashSet {
		p.nameHash = SDBM(p.Name)
		p.hashSet = true
	}
	return p.nameHash
}

// SDBM is the classical sdbm string-mixing hash used by libalpm's
// _alpm_hash_sdbm: h = c + (h<<6) + (h<<16) - h, folded over every byte.
func SDBM(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		c := uint32(s[i])
		h = c + (h << 6) + (h << 16) - h
	}
	return h
}

// Satisfies reports whether this package satisfies dependency expression d:
// either p.Name == d.Name, or d.Name is among p.Provides, and the version
// comparison holds. Any always holds. A bare (unversioned) provides entry
// satisfies only an Any-op dependency; a versioned provides entry
// participates in the normal comparison against d.Version.
func (p *Package) Satisfies(d Dependency) bool {
	if p.Name == d.Name {
		return version.Satisfies(d.Op, p.Version, d.Version)
	}
	for _, pr := range p.Provides {
		if pr.Name != d.Name {
			continue
		}
		if d.Op == version.Any {
			return true
		}
		if pr.Version == "" {
			return false
		}
		return version.Satisfies(d.Op, pr.Version, d.Version)
	}
	return false
}

// Conflicting reports whether either of a and b declares a conflict
// expression the other satisfies (spec invariant 5 is violated when this is true for
// two simultaneously-installed packages).
func Conflicting(a, b *Package) bool {
	for _, c := range a.Conflicts {
		if b.Satisfies(c) {
			return true
		}
	}
	for _, c := range b.Conflicts {
		if a.Satisfies(c) {
			return true
		}
	}
	return false
}
