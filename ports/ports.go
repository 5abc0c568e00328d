// Package ports declares the capability interfaces the transaction engine
// consumes but does not implement: archive reading, network fetch,
// content hashing, signature verification, and scriptlet execution. CLI,
// transport, decompression and signature verification themselves are out
// of scope for this module (spec.md §1); only the boundary each concrete
// implementation must satisfy lives here, the way golang-dep's gps
// package defines SourceManager/ProjectAnalyzer interfaces for
// capabilities it consumes rather than implements inline.
package ports

import (
	"io"
	"time"
)

// Entry is one file within an archive being extracted.
type Entry struct {
	Path string
	Mode uint32
	Size int64
}

// ArchiveReader iterates the entries of a package archive and lets the
// caller read each entry's data in turn. Implementations must resolve
// hard-linked entries correctly given the working directory extraction
// happens relative to.
type ArchiveReader interface {
	// Open returns an iterator positioned before the first entry.
	Open(path string) (ArchiveIterator, error)
}

// ArchiveIterator walks the entries of an open archive.
type ArchiveIterator interface {
	// Next advances to the next entry, returning io.EOF when exhausted.
	Next() (Entry, error)
	// ReadData reads the current entry's content into buf, returning the
	// number of bytes read.
	ReadData(buf []byte) (int, error)
	Close() error
}

// FetchResult is the outcome of a Fetcher.Fetch call.
type FetchResult struct {
	SavedPath string
	NewMtime  time.Time
	Unchanged bool
}

// Fetcher retrieves a remote package or database file into dest_dir,
// skipping the transfer when ifMtimeNewerThan is already current.
type Fetcher interface {
	Fetch(url, destDir string, ifMtimeNewerThan time.Time) (FetchResult, error)
}

// Hasher computes a stable content hash for a path, used by the
// three-way backup-file merge and by sync-db integrity checks.
type Hasher interface {
	Hash(path string) (string, error)
}

// TrustLevel is the opaque trust value a Signer reports back; the engine
// only compares it, it never inspects the signature itself.
type TrustLevel int

const (
	TrustUnknown TrustLevel = iota
	TrustMarginal
	TrustFull
	TrustUltimate
	TrustInvalid
)

// Signer verifies a detached signature against a file.
type Signer interface {
	Verify(path, sigPath string) (TrustLevel, error)
}

// ScriptletHook names which hook in a package's install script to run.
type ScriptletHook string

const (
	HookPreInstall  ScriptletHook = "pre_install"
	HookPostInstall ScriptletHook = "post_install"
	HookPreUpgrade  ScriptletHook = "pre_upgrade"
	HookPostUpgrade ScriptletHook = "post_upgrade"
	HookPreRemove   ScriptletHook = "pre_remove"
	HookPostRemove  ScriptletHook = "post_remove"
)

// ScriptletRunner executes a named hook inside a package's install
// script, chrooted to rootPath. A nil runner is treated as "nothing to
// run".
type ScriptletRunner interface {
	Run(hook ScriptletHook, scriptPath, rootPath string, args []string, stdout, stderr io.Writer) error
}

// EventKind names one of the transaction lifecycle events spec.md §4.7
// enumerates. The controller and the apply engine both fire these; the
// front-end only ever observes them.
type EventKind string

const (
	EventCheckDepsStart      EventKind = "CheckDepsStart"
	EventCheckDepsDone       EventKind = "CheckDepsDone"
	EventFileConflictsStart  EventKind = "FileConflictsStart"
	EventFileConflictsDone   EventKind = "FileConflictsDone"
	EventResolveDepsStart    EventKind = "ResolveDepsStart"
	EventResolveDepsDone     EventKind = "ResolveDepsDone"
	EventInterConflictsStart EventKind = "InterConflictsStart"
	EventInterConflictsDone  EventKind = "InterConflictsDone"
	EventAddStart            EventKind = "AddStart"
	EventAddDone             EventKind = "AddDone"
	EventRemoveStart         EventKind = "RemoveStart"
	EventRemoveDone          EventKind = "RemoveDone"
	EventUpgradeStart        EventKind = "UpgradeStart"
	EventUpgradeDone         EventKind = "UpgradeDone"
	EventExtractDone         EventKind = "ExtractDone"
	EventIntegrityStart      EventKind = "IntegrityStart"
	EventIntegrityDone       EventKind = "IntegrityDone"
	EventScriptletInfo       EventKind = "ScriptletInfo"
	EventPrintURI            EventKind = "PrintUri"
	EventRetrieveStart       EventKind = "RetrieveStart"
)

// Event is one notification the core pushes to the front-end; Arg1/Arg2
// carry kind-specific payload (a package name, a path, a scriptlet output
// line) the way libalpm's alpm_event_t union does.
type Event struct {
	Kind EventKind
	Arg1 interface{}
	Arg2 interface{}
}

// EventSink receives Events. Implementations must not block or cancel;
// the dispatch contract (spec.md §4.7) is fire-and-forget.
type EventSink interface {
	Event(Event)
}

// QuestionKind names one of the interactive decision points the solver or
// the apply engine can reach mid-transaction.
type QuestionKind string

const (
	QuestionInstallIgnorePkg QuestionKind = "InstallIgnorePkg"
	QuestionReplacePkg       QuestionKind = "ReplacePkg"
	QuestionConflictPkg      QuestionKind = "ConflictPkg"
	QuestionCorruptedPkg     QuestionKind = "CorruptedPkg"
	QuestionLocalNewer       QuestionKind = "LocalNewer"
	QuestionLocalUpToDate    QuestionKind = "LocalUpToDate"
	QuestionRemoveHoldPkg    QuestionKind = "RemoveHoldPkg"
)

// Question is a yes/no decision point surfaced to the front-end; Arg1-3
// carry kind-specific payload (package names, a repo name).
type Question struct {
	Kind QuestionKind
	Arg1 interface{}
	Arg2 interface{}
	Arg3 interface{}
}

// QuestionSink answers a Question. A nil sink (or one that always
// answers false) is the non-interactive/batch-mode default.
type QuestionSink interface {
	Ask(Question) bool
}

// ProgressKind names which long-running step a Progress report describes.
type ProgressKind string

const (
	ProgressAddStart       ProgressKind = "AddStart"
	ProgressUpgradeStart   ProgressKind = "UpgradeStart"
	ProgressRemoveStart    ProgressKind = "RemoveStart"
	ProgressConflictsStart ProgressKind = "ConflictsStart"
)

// Progress reports fractional completion of one step against the whole
// transaction: Percent is completion of the current target (0-100),
// CurrentTarget/TotalTargets locate it within the overall plan.
type Progress struct {
	Kind          ProgressKind
	Label         string
	Percent       int
	TotalTargets  int
	CurrentTarget int
}

// ProgressSink receives Progress reports, the same infallible-sink
// contract as EventSink.
type ProgressSink interface {
	Progress(Progress)
}
