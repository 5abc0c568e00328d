// Package fs provides filesystem helpers shared by the db and apply
// packages: prefix-safe path containment checks and rename-with-fallback,
// adapted from golang-dep's internal/fs package.
package fs

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// HasFilepathPrefix reports whether path starts with prefix from the point
// of view of the filesystem: /foo and /foobar are not considered to share
// the /foo prefix. Used by apply to guarantee an archive entry's resolved
// path stays under the install root before any write happens.
func HasFilepathPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)
	if prefix == string(filepath.Separator) {
		return strings.HasPrefix(path, prefix)
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// RenameWithFallback attempts to rename src to dst, falling back to a copy
// and remove if the two paths are on different devices. Used for the
// .pacorig/.pacsave sidecar swaps and for the apply engine's
// temp-file-then-rename writes of skip-add paths.
func RenameWithFallback(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyThenRemove(src, dst)
}

func copyThenRemove(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return errors.Wrapf(err, "rename fallback failed: cannot copy %s to %s", src, dst)
	}
	return errors.Wrapf(os.Remove(src), "cannot delete %s", src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// IsDir reports whether name is a directory.
func IsDir(name string) (bool, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

// IsRegular reports whether name is a plain file. A missing path is not an
// error; it simply reports false, matching callers that probe before
// creating.
func IsRegular(name string) (bool, error) {
	fi, err := os.Lstat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

// IsSymlink reports whether path is a symbolic link.
func IsSymlink(path string) (bool, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return fi.Mode()&os.ModeSymlink != 0, nil
}
