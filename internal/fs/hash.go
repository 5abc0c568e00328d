package fs

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// HashFile returns the hex sha256 of a single file's contents. The apply
// package's backup-file three-way merge and the db package's %BACKUP%
// section both key on this hash rather than libalpm's traditional md5sum,
// matching the stronger digest golang-dep's own content hashing (HashFromNode
// in the original internal/fs/hash.go) already favored.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "cannot hash %s", path)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// HashBytes returns the hex sha256 of an in-memory buffer. The apply
// package does not call it: its backup-file merge writes the entry to a
// temporary file and hashes that through its Hasher.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return fmt.Sprintf("%x", h)
}
