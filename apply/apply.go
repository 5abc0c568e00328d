// Package apply implements component C6: the file-apply engine that
// executes a prepared solver.Plan against the live filesystem, one
// package at a time, per spec.md §4.6. It extracts archive entries
// through the ports.ArchiveReader capability, runs the backup-file
// three-way merge, invokes scriptlets through ports.ScriptletRunner, and
// keeps the db package's on-disk database and in-memory cache in step
// with every file written or removed.
package apply

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/db"
	"github.com/devkitPro/pacman-sub000/internal/xlog"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/ports"
	"github.com/devkitPro/pacman-sub000/solver"
)

// Options carries the per-commit knobs the apply engine consults; these
// are the subset of spec.md §6's transaction flags and configuration
// options C6 itself branches on. Everything else (no_deps, cascade,
// recurse, ...) only matters to the solver.
type Options struct {
	RootPath string // filesystem prefix for all extraction; default "/"

	Force      bool // unlink the existing path before extracting (avoids "text file busy")
	NoSave     bool // don't write .pacsave for backup files on remove
	NoScriptlet bool

	NoUpgrade map[string]bool // paths extracted as .pacnew when already present
	NoExtract map[string]bool // paths never extracted

	SkipRemove map[string]bool // from the solver's file-conflict check
	SkipAdd    map[string]bool
}

func (o Options) root() string {
	if o.RootPath == "" {
		return string(filepath.Separator)
	}
	return o.RootPath
}

// Archives resolves the filesystem path of the archive for a package
// about to be installed or upgraded; the caller builds this map once
// (e.g. from a download/cache directory) before calling Run.
type Archives map[string]string // package name -> archive path

// Engine owns the collaborators C6 needs: the local database it mutates,
// the capabilities it consumes, and the event/progress sinks it reports
// through.
type Engine struct {
	Local     *db.Database
	Archive   ports.ArchiveReader
	Hasher    ports.Hasher
	Scriptlet ports.ScriptletRunner

	Events   ports.EventSink
	Progress ports.ProgressSink
	Audit    *xlog.AuditLog
	Log      *xlog.Logger
}

func (e *Engine) log() *xlog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return xlog.Std()
}

func (e *Engine) fire(kind ports.EventKind, arg1, arg2 interface{}) {
	if e.Events != nil {
		e.Events.Event(ports.Event{Kind: kind, Arg1: arg1, Arg2: arg2})
	}
}

func (e *Engine) progress(kind ports.ProgressKind, label string, percent, total, current int) {
	if e.Progress != nil {
		e.Progress.Progress(ports.Progress{Kind: kind, Label: label, Percent: percent, TotalTargets: total, CurrentTarget: current})
	}
}

func (e *Engine) hash(path string) (string, error) {
	if e.Hasher != nil {
		return e.Hasher.Hash(path)
	}
	return fsHashFile(path)
}

// operationKind classifies one of the plan's Adds, per spec.md §3's
// Operation tagged union (InstallNew / UpgradeOver / ReplaceWith).
type operationKind int

const (
	opInstallNew operationKind = iota
	opUpgradeOver
	opReplaceWith
)

type operation struct {
	kind     operationKind
	pkg      *pkg.Package
	old      *pkg.Package   // set for opUpgradeOver
	replaced []*pkg.Package // set for opReplaceWith
}

// classify builds the ordered operation list for plan.Adds: a package
// already installed under the same name upgrades it in place; a package
// named in a ReplaceWith entry replaces the local packages it names;
// anything else is a fresh install.
func classify(local *db.Database, plan *solver.Plan) ([]operation, error) {
	replacedBy := make(map[string]*solver.ReplaceWith, len(plan.Replaces))
	for i := range plan.Replaces {
		rw := &plan.Replaces[i]
		replacedBy[rw.With.Name] = rw
	}

	ops := make([]operation, 0, len(plan.Adds))
	for _, p := range plan.Adds {
		if rw, ok := replacedBy[p.Name]; ok {
			ops = append(ops, operation{kind: opReplaceWith, pkg: p, replaced: rw.Targets})
			continue
		}
		old, err := local.Lookup(p.Name)
		if err != nil {
			return nil, err
		}
		if old != nil {
			ops = append(ops, operation{kind: opUpgradeOver, pkg: p, old: old})
			continue
		}
		ops = append(ops, operation{kind: opInstallNew, pkg: p})
	}
	return ops, nil
}

// Run executes a prepared plan end to end: every replace-associated
// remove first, then adds in dependency order (§4.6), or, for a pure Remove
// transaction, removes in reverse-dependency order. archives supplies the
// on-disk archive path for every package plan.Adds names.
//
// stop, if non-nil, is polled before each target begins; a target already
// in progress always runs to completion (spec.md §5: "a target cannot be
// preempted mid-archive... the only observable suspension points... are
// between complete targets"). When stop reports true, Run returns nil
// without processing any further targets — an interrupt is not an error
// (spec.md §7).
func (e *Engine) Run(plan *solver.Plan, archives Archives, opts Options, stop func() bool) error {
	if len(plan.Removes) > 0 && len(plan.Adds) == 0 {
		total := len(plan.Removes)
		for i, old := range plan.Removes {
			if stop != nil && stop() {
				return nil
			}
			if err := e.Remove(old, opts, false, false); err != nil {
				return err
			}
			e.progress(ports.ProgressRemoveStart, old.Name, 100, total, i+1)
		}
		return nil
	}

	ops, err := classify(e.Local, plan)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if op.kind != opReplaceWith {
			continue
		}
		for _, old := range op.replaced {
			if err := e.Remove(old, opts, false, false); err != nil {
				return err
			}
		}
	}

	total := len(ops)
	for i, op := range ops {
		if stop != nil && stop() {
			return nil
		}
		switch op.kind {
		case opReplaceWith:
			archivePath, ok := archives[op.pkg.Name]
			if !ok {
				return errors.Errorf("no archive supplied for %s", op.pkg.Name)
			}
			if err := e.install(op.pkg, nil, archivePath, opts); err != nil {
				return err
			}
		case opUpgradeOver:
			archivePath, ok := archives[op.pkg.Name]
			if !ok {
				return errors.Errorf("no archive supplied for %s", op.pkg.Name)
			}
			if err := e.Remove(op.old, opts, true, true); err != nil {
				return err
			}
			if err := e.install(op.pkg, op.old, archivePath, opts); err != nil {
				return err
			}
		case opInstallNew:
			archivePath, ok := archives[op.pkg.Name]
			if !ok {
				return errors.Errorf("no archive supplied for %s", op.pkg.Name)
			}
			if err := e.install(op.pkg, nil, archivePath, opts); err != nil {
				return err
			}
		}
		e.progress(ports.ProgressAddStart, op.pkg.Name, 100, total, i+1)
	}
	return nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
