//go:build unix

// Permission and access-mode helpers split into their own unix-tagged
// file the way golang-dep splits its platform-specific fs helpers
// (rename_windows.go / filesystem_nonwindows_test.go); this engine only
// ever targets POSIX systems (scriptlets run chrooted, backup files use
// rmdir/rename semantics), so there is no windows counterpart.
package fs

import "golang.org/x/sys/unix"

// WriteOK is the access() mode bit meaning "writable", re-exported so
// callers never need to import golang.org/x/sys/unix themselves.
const WriteOK = unix.W_OK

// Umask sets the process umask to mask and returns the previous value,
// letting a caller bracket a block of file creation with an explicit
// mask instead of trusting whatever the ambient shell set (spec.md §4.4:
// directories 0755, files 0644 "under an explicit umask").
func Umask(mask int) int {
	return unix.Umask(mask)
}

// Access reports whether path is accessible for the given unix.*_OK mode
// bits without opening it; used by the remove engine's pre-removal
// "can this file actually be deleted" check (spec.md §4.6 step 2).
func Access(path string, mode uint32) error {
	return unix.Access(path, mode)
}
