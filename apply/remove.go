package apply

import (
	"io"
	"os"
	"path/filepath"

	"github.com/devkitPro/pacman-sub000/db"
	pacfs "github.com/devkitPro/pacman-sub000/internal/fs"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/ports"
	"github.com/devkitPro/pacman-sub000/txnerr"
)

// Remove deletes target's files and database entry, following spec.md
// §4.6's symmetric remove algorithm. isNestedUpgrade marks the implicit
// removal of a package's old version during an in-place upgrade:
// scriptlets are skipped (pre_upgrade/post_upgrade already cover that
// lifecycle transition) and backup files are never sidecar'd to
// .pacsave, since the new version's install step immediately takes
// their place. suppressEvents additionally silences
// RemoveStart/RemoveDone, matching §4.6 step 2's "suppressing its
// events".
func (e *Engine) Remove(target *pkg.Package, opts Options, isNestedUpgrade, suppressEvents bool) error {
	if err := e.Local.LoadSections(target, db.SectionFiles|db.SectionDepends); err != nil {
		return err
	}

	if !suppressEvents {
		e.fire(ports.EventRemoveStart, target.Name, target.Version)
	}

	if err := e.checkRemovable(target, opts); err != nil {
		return err
	}

	if !isNestedUpgrade {
		e.runRemoveScriptlet(target, opts, ports.HookPreRemove)
	}

	root := opts.root()
	files := target.Files
	for i := len(files) - 1; i >= 0; i-- {
		path := files[i]
		if opts.SkipRemove[path] {
			continue
		}
		full := filepath.Join(root, path)
		fi, err := os.Lstat(full)
		if err != nil {
			continue // already gone; nothing to do
		}
		if fi.IsDir() {
			if err := os.Remove(full); err != nil {
				e.log().Debugf("%s: %s not empty, left in place", target.Name, path)
			}
			continue
		}
		if _, backedUp := target.Backup[path]; backedUp && !isNestedUpgrade && !opts.NoSave {
			if err := pacfs.RenameWithFallback(full, full+".pacsave"); err != nil {
				e.log().Warningf("%s: saving %s as %s.pacsave: %v", target.Name, path, path, err)
			} else {
				e.log().Warningf("%s saved as %s.pacsave", path, path)
			}
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			e.log().Warningf("%s: removing %s: %v", target.Name, path, err)
		}
	}

	if !isNestedUpgrade {
		e.runRemoveScriptlet(target, opts, ports.HookPostRemove)
	}

	for _, dep := range target.Depends {
		provider, err := findLocalProvider(e.Local, dep)
		if err != nil {
			return err
		}
		if provider == nil {
			continue
		}
		if err := e.Local.LoadSections(provider, db.SectionDepends); err != nil {
			return err
		}
		provider.RequiredBy = removeName(provider.RequiredBy, target.Name)
		if err := e.Local.Write(provider, db.SectionDepends); err != nil {
			return err
		}
	}

	if err := e.Local.Remove(target); err != nil {
		return err
	}

	if !suppressEvents {
		e.fire(ports.EventRemoveDone, target.Name, target.Version)
	}
	return nil
}

func (e *Engine) runRemoveScriptlet(target *pkg.Package, opts Options, hook ports.ScriptletHook) {
	if opts.NoScriptlet || e.Scriptlet == nil {
		return
	}
	scriptPath := filepath.Join(e.Local.EntryDir(target), "install")
	if _, err := os.Stat(scriptPath); err != nil {
		return
	}
	if err := e.Scriptlet.Run(hook, scriptPath, opts.root(), []string{target.Version}, io.Discard, io.Discard); err != nil {
		e.fire(ports.EventScriptletInfo, target.Name, err.Error())
		e.log().Warningf("%s: %s scriptlet: %v", target.Name, hook, err)
	}
}

// checkRemovable verifies every file target owns can actually be deleted
// (its containing directory is writable), failing PkgCantRemove on any
// access error other than the path already being gone.
func (e *Engine) checkRemovable(target *pkg.Package, opts Options) error {
	root := opts.root()
	for _, path := range target.Files {
		full := filepath.Join(root, path)
		dir := filepath.Dir(full)
		if err := pacfs.Access(dir, pacfs.WriteOK); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &txnerr.Error{Kind: txnerr.PkgCantRemove, Cause: err}
		}
	}
	return nil
}

func removeName(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func findLocalProvider(local *db.Database, dep pkg.Dependency) (*pkg.Package, error) {
	p, err := local.Lookup(dep.Name)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	matches, err := local.WhatProvides(dep.Name)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches[0], nil
	}
	return nil, nil
}
