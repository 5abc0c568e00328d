// Package txnerr defines the concrete error kinds the transaction engine
// surfaces (spec.md §7). Each Kind is a distinct failure mode a caller may
// want to branch on; UnsatisfiedDeps, ConflictingDeps, and FileConflicts
// carry the full list of problems found, per the "surface all detected
// problems, not just the first" propagation policy for preparation
// errors.
package txnerr

import (
	"fmt"
	"strings"

	"github.com/devkitPro/pacman-sub000/pkg"
)

// Kind identifies a class of transaction failure.
type Kind int

const (
	_ Kind = iota
	System
	BadPermissions
	NotAFile
	HandleLock
	DbOpen
	DbCreate
	DbWrite
	DbRemove
	TransNotNull
	TransDupTarget
	TransNotInitialized
	TransNotPrepared
	TransAbort
	TransCommitting
	PkgNotFound
	PkgInvalid
	PkgOpen
	PkgInstalled
	PkgCantFresh
	PkgCantRemove
	PkgCorrupted
	UnsatisfiedDeps
	ConflictingDeps
	FileConflicts
	UserAbort
	DiskFull
	PkgHold
)

var kindNames = map[Kind]string{
	System:              "system error",
	BadPermissions:      "insufficient permissions",
	NotAFile:            "not a file",
	HandleLock:          "could not lock the transaction",
	DbOpen:              "could not open database",
	DbCreate:            "could not create database",
	DbWrite:             "could not write database",
	DbRemove:            "could not remove database entry",
	TransNotNull:        "a transaction is already in progress",
	TransDupTarget:      "duplicate target",
	TransNotInitialized: "transaction has not been initialized",
	TransNotPrepared:    "transaction has not been prepared",
	TransAbort:          "transaction was aborted",
	TransCommitting:     "transaction is already committing",
	PkgNotFound:         "package not found",
	PkgInvalid:          "invalid package",
	PkgOpen:             "could not open package",
	PkgInstalled:        "package is already installed",
	PkgCantFresh:        "package cannot be freshened, not installed",
	PkgCantRemove:       "cannot remove file from package",
	PkgCorrupted:        "corrupted package",
	UnsatisfiedDeps:     "unsatisfied dependencies",
	ConflictingDeps:     "conflicting dependencies",
	FileConflicts:       "conflicting files",
	UserAbort:           "aborted by user",
	DiskFull:            "not enough free disk space",
	PkgHold:             "package is held and cannot be removed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error"
}

// Error is the concrete error type carried through the engine. Cause, if
// non-nil, is the underlying error this one wraps (a syscall failure, a
// parse error, etc).
type Error struct {
	Kind  Kind
	Cause error

	// Missing carries the Dependency expressions that UnsatisfiedDeps
	// could not resolve.
	Missing []pkg.Dependency
	// Conflicts carries the (a, b) package name pairs ConflictingDeps
	// found in conflict.
	Conflicts []ConflictPair
	// Paths carries the filesystem paths FileConflicts found in
	// conflict, one FileConflict entry per path.
	Paths []FileConflict
}

// ConflictPair names two packages that conflict with each other.
type ConflictPair struct {
	A, B string
}

// FileConflict names a path and the packages disputing ownership of it.
type FileConflict struct {
	Path   string
	Target string // incoming package that wants to ship Path
	Owner  string // package currently owning Path on disk, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	for _, m := range e.Missing {
		fmt.Fprintf(&b, "; unresolved dependency %s", depString(m))
	}
	for _, c := range e.Conflicts {
		fmt.Fprintf(&b, "; %s conflicts with %s", c.A, c.B)
	}
	for _, p := range e.Paths {
		fmt.Fprintf(&b, "; %s claimed by both %s and %s", p.Path, p.Target, p.Owner)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func depString(d pkg.Dependency) string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + " " + d.Version
}

// New builds a plain Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithMissing builds an UnsatisfiedDeps Error carrying every unresolved
// dependency found.
func WithMissing(missing []pkg.Dependency) *Error {
	return &Error{Kind: UnsatisfiedDeps, Missing: missing}
}

// WithConflicts builds a ConflictingDeps Error carrying every conflicting
// pair found.
func WithConflicts(pairs []ConflictPair) *Error {
	return &Error{Kind: ConflictingDeps, Conflicts: pairs}
}

// WithFileConflicts builds a FileConflicts Error carrying every disputed
// path found.
func WithFileConflicts(paths []FileConflict) *Error {
	return &Error{Kind: FileConflicts, Paths: paths}
}
