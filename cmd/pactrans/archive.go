package main

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/ports"
)

// tarArchiveReader implements ports.ArchiveReader over plain or gzipped
// tar files, the conventional pacman package archive format. This lives
// in the demonstration CLI, not the core: spec.md §1 explicitly keeps
// archive decompression a caller-supplied capability, so this is one
// concrete implementation of that capability, not part of component C6.
type tarArchiveReader struct{}

func (tarArchiveReader) Open(path string) (ports.ArchiveIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive %s", path)
	}

	var r io.Reader = f
	gz, err := gzip.NewReader(f)
	if err == nil {
		r = gz
	} else {
		gz = nil
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			f.Close()
			return nil, errors.Wrapf(serr, "rewinding archive %s", path)
		}
	}

	return &tarIterator{f: f, gz: gz, tr: tar.NewReader(r)}, nil
}

type tarIterator struct {
	f    *os.File
	gz   *gzip.Reader
	tr   *tar.Reader
	link *strings.Reader // symlink target, served as the entry's data
}

func (it *tarIterator) Next() (ports.Entry, error) {
	hdr, err := it.tr.Next()
	if err != nil {
		return ports.Entry{}, err
	}
	it.link = nil
	if hdr.Typeflag == tar.TypeSymlink {
		it.link = strings.NewReader(hdr.Linkname)
	}
	return ports.Entry{
		Path: hdr.Name,
		Mode: entryMode(hdr),
		Size: hdr.Size,
	}, nil
}

func (it *tarIterator) ReadData(buf []byte) (int, error) {
	if it.link != nil {
		return it.link.Read(buf)
	}
	return it.tr.Read(buf)
}

func (it *tarIterator) Close() error {
	if it.gz != nil {
		it.gz.Close()
	}
	return it.f.Close()
}

// entryMode folds a tar header's type flag into the POSIX S_IFMT bits
// apply.Engine expects (spec.md §6's ArchiveReader contract: "yields
// (path, mode, size, data_stream) entries"), since archive/tar reports
// type and permission bits separately.
func entryMode(hdr *tar.Header) uint32 {
	mode := uint32(hdr.Mode) & 0007777
	switch hdr.Typeflag {
	case tar.TypeDir:
		return mode | 0040000
	case tar.TypeSymlink:
		return mode | 0120000
	default:
		// Hard-linked entries (tar.TypeLink) carry their own data in this
		// reader's straightforward (non-seeking) implementation rather
		// than resolving Linkname, so they extract as plain regular files.
		return mode
	}
}
