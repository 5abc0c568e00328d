// Package syncdb layers a derived, non-authoritative bolt-backed cache in
// front of the db package's sync databases. It is a domain-stack addition
// (spec.md §1 leaves remote transport and sync-database refresh policy to
// the caller): a front-end that has just fetched a repo's sync database
// and parsed it through db.Open can stash the parsed snapshot here, keyed
// by repo name and stamped with the .lastupdate timestamp db.Database
// already tracks (spec.md §4.4), so a subsequent process start can decide
// whether to re-walk the on-disk database or trust the cached snapshot.
//
// The cache is always derived from, and never a substitute for, the
// authoritative on-disk db.Database tree: losing the bolt file loses
// nothing the core cannot reconstruct by re-opening the sync databases.
//
// Grounded on golang-dep's internal/gps/source_cache_bolt.go (boltCache:
// one bolt.DB file under a cache directory, epoch-stamped entries, a
// manual byte encoding for cached records rather than a generic codec).
package syncdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/version"
)

var reposBucket = []byte("repos")

const epochKey = ".epoch"

// Cache wraps a single bolt.DB file holding one bucket per repo name.
type Cache struct {
	db *bolt.DB
}

// Open creates or opens the bolt file at path, creating its parent
// directory and the top-level "repos" bucket if this is the first use,
// mirroring newBoltCache's directory-then-open sequence in the teacher.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating sync cache directory %s", dir)
	}

	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening sync cache %s", path)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reposBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, errors.Wrap(err, "initializing sync cache buckets")
	}

	return &Cache{db: bdb}, nil
}

// Close releases the underlying bolt file.
func (c *Cache) Close() error {
	return errors.Wrap(c.db.Close(), "closing sync cache")
}

// Store replaces repoName's cached snapshot with pkgs, stamped updatedAt.
// Bolt commits an Update transaction atomically, so if encoding any
// package fails partway through, the returned error aborts the whole
// transaction and the previously cached snapshot for repoName (if any)
// is left exactly as it was — there is no need for a separate scratch-
// and-swap step the way a non-transactional filesystem write would.
func (c *Cache) Store(repoName string, updatedAt time.Time, pkgs []*pkg.Package) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(reposBucket)

		if err := repos.DeleteBucket([]byte(repoName)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := repos.CreateBucket([]byte(repoName))
		if err != nil {
			return errors.Wrapf(err, "creating sync cache bucket for %s", repoName)
		}

		if err := b.Put([]byte(epochKey), encodeEpoch(updatedAt)); err != nil {
			return err
		}
		for _, p := range pkgs {
			blob, err := encodePackage(p)
			if err != nil {
				return errors.Wrapf(err, "encoding %s for sync cache", p.Name)
			}
			if err := b.Put([]byte("pkg:"+p.Name), blob); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns repoName's cached snapshot, if any, and the timestamp it
// was stored with. ok is false when nothing has ever been cached for
// repoName; that is not an error, just an empty cache.
func (c *Cache) Load(repoName string) (updatedAt time.Time, pkgs []*pkg.Package, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(reposBucket).Bucket([]byte(repoName))
		if b == nil {
			return nil
		}
		ok = true
		return b.ForEach(func(k, v []byte) error {
			key := string(k)
			if key == epochKey {
				updatedAt, err = decodeEpoch(v)
				return err
			}
			if !strings.HasPrefix(key, "pkg:") {
				return nil
			}
			p, err := decodePackage(v)
			if err != nil {
				return errors.Wrapf(err, "decoding cached package %q", key)
			}
			pkgs = append(pkgs, p)
			return nil
		})
	})
	return updatedAt, pkgs, ok, err
}

// Fresh reports whether repoName has a cached snapshot stamped no older
// than maxAge. A repo with no cached entry is never fresh.
func (c *Cache) Fresh(repoName string, maxAge time.Duration, now time.Time) (bool, error) {
	ts, _, ok, err := c.Load(repoName)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(ts) <= maxAge, nil
}

func encodeEpoch(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UTC().Unix()))
	return buf
}

func decodeEpoch(b []byte) (time.Time, error) {
	if len(b) != 8 {
		return time.Time{}, errors.Errorf("malformed epoch value (%d bytes)", len(b))
	}
	return time.Unix(int64(binary.BigEndian.Uint64(b)), 0).UTC(), nil
}

// encodePackage serializes the fields the solver and the file-conflict
// check need from a sync-repo snapshot (everything spec.md §4.5 Phases
// C/D/the file-conflict pass read) into a flat line-oriented blob. This
// is deliberately narrower than db.Database's desc/files/depends trio:
// the cache is a resolver accelerant, not a second authoritative store,
// so fields only the front-end's download/display path cares about
// (build date, packager, ...) are not carried.
func encodePackage(p *pkg.Package) ([]byte, error) {
	if strings.ContainsAny(p.Name, "\n\t") {
		return nil, errors.Errorf("package name %q cannot be cached (contains newline/tab)", p.Name)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "name\t%s\n", p.Name)
	fmt.Fprintf(&buf, "version\t%s\n", p.Version)
	fmt.Fprintf(&buf, "size\t%d\n", p.InstallSize)
	for _, d := range p.Depends {
		fmt.Fprintf(&buf, "depends\t%s\n", encodeDep(d))
	}
	for _, d := range p.Conflicts {
		fmt.Fprintf(&buf, "conflicts\t%s\n", encodeDep(d))
	}
	for _, pr := range p.Provides {
		fmt.Fprintf(&buf, "provides\t%s\t%s\n", pr.Name, pr.Version)
	}
	for _, r := range p.Replaces {
		fmt.Fprintf(&buf, "replaces\t%s\n", r)
	}
	for _, f := range p.Files {
		fmt.Fprintf(&buf, "file\t%s\n", f)
	}
	for path, hash := range p.Backup {
		fmt.Fprintf(&buf, "backup\t%s\t%s\n", path, hash)
	}
	return buf.Bytes(), nil
}

func encodeDep(d pkg.Dependency) string {
	return fmt.Sprintf("%s\t%d\t%s", d.Name, d.Op, d.Version)
}

func decodeDep(s string) (pkg.Dependency, error) {
	parts := strings.SplitN(s, "\t", 3)
	if len(parts) != 3 {
		return pkg.Dependency{}, errors.Errorf("malformed dependency field %q", s)
	}
	var op int
	if _, err := fmt.Sscanf(parts[1], "%d", &op); err != nil {
		return pkg.Dependency{}, errors.Wrapf(err, "malformed dependency op in %q", s)
	}
	return pkg.Dependency{Name: parts[0], Op: version.Op(op), Version: parts[2]}, nil
}

func decodePackage(blob []byte) (*pkg.Package, error) {
	p := &pkg.Package{Origin: pkg.OriginSyncDB, Backup: map[string]string{}}
	lines := strings.Split(string(blob), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		field, rest := line[:tab], line[tab+1:]
		switch field {
		case "name":
			p.Name = rest
		case "version":
			p.Version = rest
		case "size":
			fmt.Sscanf(rest, "%d", &p.InstallSize)
		case "depends":
			d, err := decodeDep(rest)
			if err != nil {
				return nil, err
			}
			p.Depends = append(p.Depends, d)
		case "conflicts":
			d, err := decodeDep(rest)
			if err != nil {
				return nil, err
			}
			p.Conflicts = append(p.Conflicts, d)
		case "provides":
			parts := strings.SplitN(rest, "\t", 2)
			pr := pkg.Provide{Name: parts[0]}
			if len(parts) == 2 {
				pr.Version = parts[1]
			}
			p.Provides = append(p.Provides, pr)
		case "replaces":
			p.Replaces = append(p.Replaces, rest)
		case "file":
			p.Files = append(p.Files, rest)
		case "backup":
			parts := strings.SplitN(rest, "\t", 2)
			if len(parts) == 2 {
				p.Backup[parts[0]] = parts[1]
			}
		}
	}
	if p.Name == "" {
		return nil, errors.New("cached package record missing name")
	}
	return p, nil
}
