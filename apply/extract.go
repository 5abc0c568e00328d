package apply

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/db"
	pacfs "github.com/devkitPro/pacman-sub000/internal/fs"
	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/ports"
)

// unix file-type bits (S_IFMT mask), used to tell a directory or symlink
// archive entry from a regular file one; ArchiveReader implementations
// report raw POSIX mode bits in Entry.Mode.
const (
	modeTypeMask = 0170000
	modeDir      = 0040000
	modeSymlink  = 0120000
)

func isDirMode(mode uint32) bool     { return mode&modeTypeMask == modeDir }
func isSymlinkMode(mode uint32) bool { return mode&modeTypeMask == modeSymlink }

// entryReader adapts an ArchiveIterator's current-entry ReadData into an
// io.Reader so the standard io helpers can drain it.
type entryReader struct{ it ports.ArchiveIterator }

func (r entryReader) Read(buf []byte) (int, error) { return r.it.ReadData(buf) }

func drainEntry(it ports.ArchiveIterator) ([]byte, error) {
	return io.ReadAll(entryReader{it})
}

func scriptletVersions(new, old *pkg.Package) []string {
	if old == nil {
		return []string{new.Version}
	}
	return []string{old.Version, new.Version}
}

// install extracts archivePath's entries for new, running the backup-file
// three-way merge for any path in the relevant backup set (spec.md §4.6
// steps 1-14). old is non-nil exactly when this is an upgrade of an
// in-place package, and carries the backup-hash table recorded at its own
// install time.
func (e *Engine) install(new *pkg.Package, old *pkg.Package, archivePath string, opts Options) error {
	isUpgrade := old != nil
	if isUpgrade {
		e.fire(ports.EventUpgradeStart, new.Name, new.Version)
	} else {
		e.fire(ports.EventAddStart, new.Name, new.Version)
	}

	root := opts.root()
	prevWD, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "getting working directory")
	}
	if err := os.Chdir(root); err != nil {
		return errors.Wrapf(err, "changing to root %s", root)
	}
	defer os.Chdir(prevWD)

	it, err := e.Archive.Open(archivePath)
	if err != nil {
		return errors.Wrapf(err, "opening archive for %s", new.Name)
	}
	defer it.Close()

	if new.Backup == nil {
		new.Backup = make(map[string]string)
	}

	dbDir := e.Local.EntryDir(new)
	extractErrors := 0
	scriptPresent := false

	for {
		ent, nerr := it.Next()
		if nerr == io.EOF {
			break
		}
		if nerr != nil {
			return errors.Wrapf(nerr, "reading archive for %s", new.Name)
		}

		data, rerr := drainEntry(it)
		if rerr != nil {
			extractErrors++
			e.log().Warningf("%s: reading %s: %v", new.Name, ent.Path, rerr)
			continue
		}

		switch ent.Path {
		case ".PKGINFO", ".FILELIST":
			continue
		case ".INSTALL":
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				e.log().Warningf("%s: saving install script: %v", new.Name, err)
				continue
			}
			scriptPath := filepath.Join(dbDir, "install")
			if err := os.WriteFile(scriptPath, data, 0644); err != nil {
				e.log().Warningf("%s: saving install script: %v", new.Name, err)
				continue
			}
			scriptPresent = true
			e.runInstallScriptlet(new, old, opts, scriptPath, isUpgrade, true)
			continue
		case ".CHANGELOG":
			if err := os.MkdirAll(dbDir, 0755); err == nil {
				_ = os.WriteFile(filepath.Join(dbDir, "changelog"), data, 0644)
			}
			continue
		}

		if opts.NoExtract[ent.Path] {
			continue
		}

		if err := e.extractEntry(ent, data, new, old, isUpgrade, opts); err != nil {
			extractErrors++
			e.log().Warningf("%s: extracting %s: %v", new.Name, ent.Path, err)
		}
		e.fire(ports.EventExtractDone, new.Name, ent.Path)
	}

	if extractErrors > 0 {
		e.log().Warningf("%s: %d file(s) could not be extracted", new.Name, extractErrors)
	}

	if scriptPresent {
		e.runInstallScriptlet(new, old, opts, filepath.Join(dbDir, "install"), isUpgrade, false)
	}
	new.ScriptletPresent = scriptPresent

	if err := e.finishInstall(new, old); err != nil {
		return err
	}

	if isUpgrade {
		e.fire(ports.EventUpgradeDone, new.Name, new.Version)
	} else {
		e.fire(ports.EventAddDone, new.Name, new.Version)
	}
	return nil
}

func (e *Engine) runInstallScriptlet(new, old *pkg.Package, opts Options, scriptPath string, isUpgrade, pre bool) {
	if opts.NoScriptlet || e.Scriptlet == nil {
		return
	}
	var hook ports.ScriptletHook
	switch {
	case isUpgrade && pre:
		hook = ports.HookPreUpgrade
	case isUpgrade && !pre:
		hook = ports.HookPostUpgrade
	case !isUpgrade && pre:
		hook = ports.HookPreInstall
	default:
		hook = ports.HookPostInstall
	}
	if err := e.Scriptlet.Run(hook, scriptPath, opts.root(), scriptletVersions(new, old), io.Discard, io.Discard); err != nil {
		e.fire(ports.EventScriptletInfo, new.Name, err.Error())
		e.log().Warningf("%s: %s scriptlet: %v", new.Name, hook, err)
	}
}

// extractEntry writes one non-metadata archive entry to the filesystem,
// dispatching to the backup-file merge when the path is under backup
// tracking, honoring no_upgrade/force, and handling directories and
// symlinks distinctly from regular files.
func (e *Engine) extractEntry(ent ports.Entry, data []byte, new, old *pkg.Package, isUpgrade bool, opts Options) error {
	path := ent.Path
	if !pacfs.HasFilepathPrefix(filepath.Join(opts.root(), path), opts.root()) {
		return errors.Errorf("%s escapes the install root", path)
	}

	if isDirMode(ent.Mode) {
		return os.MkdirAll(path, os.FileMode(ent.Mode&0777))
	}

	isBackup := (!isUpgrade && hasKey(new.Backup, path)) || (isUpgrade && old != nil && hasKey(old.Backup, path))
	if isBackup && !isSymlinkMode(ent.Mode) {
		return e.applyBackupMerge(path, data, ent.Mode, new, old, isUpgrade)
	}

	if isSymlinkMode(ent.Mode) {
		if err := ensureDir(path); err != nil {
			return err
		}
		_ = os.Remove(path)
		return os.Symlink(string(data), path)
	}

	if opts.NoUpgrade[path] {
		if exists, _ := pacfs.IsRegular(path); exists {
			return writeRegularFile(path+".pacnew", data, ent.Mode)
		}
	}

	if opts.Force {
		_ = os.Remove(path)
	} else if opts.SkipAdd[path] {
		return writeRegularFileAtomic(path, data, ent.Mode)
	}

	return writeRegularFile(path, data, ent.Mode)
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}

func writeRegularFile(path string, data []byte, mode uint32) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	perm := os.FileMode(mode & 0777)
	if perm == 0 {
		perm = 0644
	}
	return os.WriteFile(path, data, perm)
}

// writeRegularFileAtomic writes to a sibling temp file and renames over
// path, the "copy rather than overwrite" handling spec.md §4.5 requires
// for paths the solver put in the transaction's skip-add set.
func writeRegularFileAtomic(path string, data []byte, mode uint32) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	perm := os.FileMode(mode & 0777)
	if perm == 0 {
		perm = 0644
	}
	tmp := path + ".pactmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return pacfs.RenameWithFallback(tmp, path)
}

func writeTempFile(data []byte) (string, error) {
	f, err := os.CreateTemp("", "pacman-sub000-backup-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func regularFileExists(path string) (bool, error) {
	return pacfs.IsRegular(path)
}

func fsHashFile(path string) (string, error) {
	return pacfs.HashFile(path)
}

// applyBackupMerge implements the backup-file content-hash decision
// matrix of spec.md §4.6 step 5: Add compares the on-disk file against
// the incoming one; Upgrade additionally compares both against the hash
// recorded when the old version was installed.
func (e *Engine) applyBackupMerge(path string, data []byte, mode uint32, new, old *pkg.Package, isUpgrade bool) error {
	tmp, err := writeTempFile(data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	packageHash, err := e.hash(tmp)
	if err != nil {
		return err
	}

	localExists, err := regularFileExists(path)
	if err != nil {
		return err
	}
	var localHash string
	if localExists {
		if localHash, err = e.hash(path); err != nil {
			return err
		}
	}

	install := func() error { return writeRegularFile(path, data, mode) }

	if !isUpgrade {
		if !localExists || localHash == packageHash {
			if err := install(); err != nil {
				return err
			}
			new.Backup[path] = packageHash
			return nil
		}
		if err := pacfs.RenameWithFallback(path, path+".pacorig"); err != nil {
			return err
		}
		e.log().Warningf("%s saved as %s.pacorig", path, path)
		if err := install(); err != nil {
			return err
		}
		new.Backup[path] = packageHash
		return nil
	}

	originalHash, hadOriginal := old.Backup[path]
	switch {
	case !localExists:
		if err := install(); err != nil {
			return err
		}
		new.Backup[path] = packageHash
	case hadOriginal && originalHash == localHash:
		if err := install(); err != nil {
			return err
		}
		new.Backup[path] = packageHash
	case hadOriginal && originalHash == packageHash:
		new.Backup[path] = localHash
	case localHash == packageHash:
		if err := install(); err != nil {
			return err
		}
		new.Backup[path] = packageHash
	default:
		if err := writeRegularFile(path+".pacnew", data, mode); err != nil {
			return err
		}
		e.log().Warningf("%s installed as %s.pacnew, differs from local and original", path, path)
		new.Backup[path] = localHash
	}
	return nil
}

// finishInstall computes new's requiredby, writes it to the local
// database, and propagates new.name onto every provider it depends on
// (spec.md §4.6 steps 11-12).
func (e *Engine) finishInstall(new *pkg.Package, old *pkg.Package) error {
	if new.InstallDate.IsZero() {
		new.InstallDate = installTimeNow()
	}
	if old != nil {
		new.InstallReason = old.InstallReason
	}

	new.RequiredBy = nil
	var firstErr error
	e.Local.Each(func(p *pkg.Package) {
		if firstErr != nil || p.Name == new.Name {
			return
		}
		if err := e.Local.LoadSections(p, db.SectionDepends); err != nil {
			firstErr = err
			return
		}
		for _, dep := range p.Depends {
			if new.Satisfies(dep) {
				new.RequiredBy = append(new.RequiredBy, p.Name)
				break
			}
		}
	})
	if firstErr != nil {
		return firstErr
	}

	if err := e.Local.Write(new, db.SectionAll); err != nil {
		return err
	}

	for _, dep := range new.Depends {
		provider, err := findLocalProvider(e.Local, dep)
		if err != nil {
			return err
		}
		if provider == nil || provider.Name == new.Name {
			continue
		}
		if err := e.Local.LoadSections(provider, db.SectionDepends); err != nil {
			return err
		}
		if !containsName(provider.RequiredBy, new.Name) {
			provider.RequiredBy = append(provider.RequiredBy, new.Name)
		}
		if err := e.Local.Write(provider, db.SectionDepends); err != nil {
			return err
		}
	}
	return nil
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// installTimeNow is a seam so tests can stub the clock; production code
// always wants wall-clock UTC.
var installTimeNow = func() time.Time { return time.Now().UTC() }
