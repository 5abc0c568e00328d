// Package db implements component C4: the on-disk local and sync database
// backend described in spec.md §4.4. A database is a directory containing
// one subdirectory per installed (or cached sync) package, named
// "name-version-release", holding three plain-text section files: desc,
// files, and depends. Section parsing and serialization here are grounded
// directly on libalpm's be_local.c.
package db

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/version"
)

// Section is a bitmask of which on-disk section files have been
// materialized into a Package record (spec.md §4.4).
type Section uint8

const (
	SectionDesc Section = 1 << iota
	SectionFiles
	SectionDepends

	SectionAll = SectionDesc | SectionFiles | SectionDepends
)

const dateLayout = "Mon Jan  2 15:04:05 2006"

// dirName returns the on-disk directory name for a package: "name-version".
func dirName(name, ver string) string {
	return name + "-" + ver
}

// splitDirName recovers (name, version) from a "name-pkgver-pkgrel"
// directory name. Real pacman local-db entries always carry at least a
// pkgver and a pkgrel component separated by '-'; we treat the last two
// hyphen-delimited fields as the version (joined back with '-') and
// everything before that as the name, matching upstream's own directory
// naming convention even though spec.md's "name-version" wording collapses
// the version's internal hyphen.
func splitDirName(dirname string) (name, ver string, ok bool) {
	parts := strings.Split(dirname, "-")
	if len(parts) < 3 {
		return "", "", false
	}
	name = strings.Join(parts[:len(parts)-2], "-")
	ver = strings.Join(parts[len(parts)-2:], "-")
	if name == "" {
		return "", "", false
	}
	return name, ver, true
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// readDesc parses the scalar-field desc section into p. A missing or
// unreadable desc file is the one read failure that fails the whole
// operation (spec.md §4.4's "Failure semantics"). Malformed numeric and
// date fields are read as zero; no warning is logged for them, here or by
// the caller.
func readDesc(path string, p *pkg.Package) error {
	lines, err := readLines(path)
	if err != nil {
		return errors.Wrapf(err, "reading desc for %s", p.Name)
	}

	i := 0
	next := func() (string, bool) {
		if i >= len(lines) {
			return "", false
		}
		v := lines[i]
		i++
		return v, true
	}
	nextBlock := func() []string {
		var out []string
		for i < len(lines) && lines[i] != "" {
			out = append(out, lines[i])
			i++
		}
		return out
	}

	for i < len(lines) {
		header := lines[i]
		i++
		switch header {
		case "%NAME%":
			if v, ok := next(); ok {
				p.Name = v
			}
		case "%VERSION%":
			if v, ok := next(); ok {
				p.Version = v
			}
		case "%DESC%":
			if v, ok := next(); ok {
				p.Description = v
			}
		case "%URL%":
			if v, ok := next(); ok {
				p.URL = v
			}
		case "%ARCH%":
			if v, ok := next(); ok {
				p.Architecture = v
			}
		case "%PACKAGER%":
			if v, ok := next(); ok {
				p.Builder = v
			}
		case "%BUILDDATE%":
			if v, ok := next(); ok {
				p.BuildDate = parseTimestamp(v)
			}
		case "%INSTALLDATE%":
			if v, ok := next(); ok {
				p.InstallDate = parseTimestamp(v)
			}
		case "%SIZE%":
			if v, ok := next(); ok {
				p.InstallSize, _ = strconv.ParseInt(v, 10, 64)
			}
		case "%REASON%":
			if v, ok := next(); ok {
				n, _ := strconv.Atoi(v)
				p.InstallReason = pkg.InstallReason(n)
			}
		case "%GROUPS%":
			p.Groups = nextBlock()
		case "%LICENSE%":
			p.License = nextBlock()
		case "%REPLACES%":
			p.Replaces = nextBlock()
		default:
			// Unknown section: skip its block, if any, to stay in sync.
			nextBlock()
		}
		// Consume the blank separator line, if present.
		if i < len(lines) && lines[i] == "" {
			i++
		}
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t
	}
	return time.Time{}
}

// writeDesc serializes the scalar fields of p to path, matching the field
// order be_local.c writes them in.
func writeDesc(path string, p *pkg.Package) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%NAME%%\n%s\n\n", p.Name)
	fmt.Fprintf(&buf, "%%VERSION%%\n%s\n\n", p.Version)
	if p.Description != "" {
		fmt.Fprintf(&buf, "%%DESC%%\n%s\n\n", p.Description)
	}
	writeBlock(&buf, "%GROUPS%", p.Groups)
	writeBlock(&buf, "%REPLACES%", p.Replaces)
	if p.URL != "" {
		fmt.Fprintf(&buf, "%%URL%%\n%s\n\n", p.URL)
	}
	writeBlock(&buf, "%LICENSE%", p.License)
	if p.Architecture != "" {
		fmt.Fprintf(&buf, "%%ARCH%%\n%s\n\n", p.Architecture)
	}
	if !p.BuildDate.IsZero() {
		fmt.Fprintf(&buf, "%%BUILDDATE%%\n%d\n\n", p.BuildDate.Unix())
	}
	if !p.InstallDate.IsZero() {
		fmt.Fprintf(&buf, "%%INSTALLDATE%%\n%d\n\n", p.InstallDate.Unix())
	}
	if p.Builder != "" {
		fmt.Fprintf(&buf, "%%PACKAGER%%\n%s\n\n", p.Builder)
	}
	if p.InstallSize != 0 {
		fmt.Fprintf(&buf, "%%SIZE%%\n%d\n\n", p.InstallSize)
	}
	fmt.Fprintf(&buf, "%%REASON%%\n%d\n\n", p.InstallReason)
	return atomicWriteFile(path, buf.Bytes(), 0644)
}

func writeBlock(buf *bytes.Buffer, header string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(buf, "%s\n", header)
	for _, l := range lines {
		fmt.Fprintf(buf, "%s\n", l)
	}
	buf.WriteByte('\n')
}

// readFiles parses the %FILES% and %BACKUP% sections.
func readFiles(path string, p *pkg.Package) error {
	lines, err := readLines(path)
	if err != nil {
		return errors.Wrapf(err, "reading files for %s", p.Name)
	}
	i := 0
	for i < len(lines) {
		header := lines[i]
		i++
		switch header {
		case "%FILES%":
			for i < len(lines) && lines[i] != "" {
				p.Files = append(p.Files, lines[i])
				i++
			}
		case "%BACKUP%":
			if p.Backup == nil {
				p.Backup = make(map[string]string)
			}
			for i < len(lines) && lines[i] != "" {
				path, hash, ok := strings.Cut(lines[i], "\t")
				if ok {
					p.Backup[path] = hash
				}
				i++
			}
		}
		if i < len(lines) && lines[i] == "" {
			i++
		}
	}
	sort.Strings(p.Files)
	return nil
}

func writeFiles(path string, p *pkg.Package) error {
	var buf bytes.Buffer
	if len(p.Files) > 0 {
		files := append([]string(nil), p.Files...)
		sort.Strings(files)
		buf.WriteString("%FILES%\n")
		for _, f := range files {
			fmt.Fprintf(&buf, "%s\n", f)
		}
		buf.WriteByte('\n')
	}
	if len(p.Backup) > 0 {
		keys := make([]string, 0, len(p.Backup))
		for k := range p.Backup {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteString("%BACKUP%\n")
		for _, k := range keys {
			fmt.Fprintf(&buf, "%s\t%s\n", k, p.Backup[k])
		}
		buf.WriteByte('\n')
	}
	return atomicWriteFile(path, buf.Bytes(), 0644)
}

// readDepends parses %DEPENDS%, %CONFLICTS%, %PROVIDES%.
func readDepends(path string, p *pkg.Package) error {
	lines, err := readLines(path)
	if err != nil {
		return errors.Wrapf(err, "reading depends for %s", p.Name)
	}
	i := 0
	for i < len(lines) {
		header := lines[i]
		i++
		switch header {
		case "%DEPENDS%":
			for i < len(lines) && lines[i] != "" {
				p.Depends = append(p.Depends, parseDependency(lines[i]))
				i++
			}
		case "%CONFLICTS%":
			for i < len(lines) && lines[i] != "" {
				p.Conflicts = append(p.Conflicts, parseDependency(lines[i]))
				i++
			}
		case "%PROVIDES%":
			for i < len(lines) && lines[i] != "" {
				p.Provides = append(p.Provides, parseProvide(lines[i]))
				i++
			}
		case "%OPTDEPENDS%":
			for i < len(lines) && lines[i] != "" {
				p.OptDepends = append(p.OptDepends, lines[i])
				i++
			}
		default:
			for i < len(lines) && lines[i] != "" {
				i++
			}
		}
		if i < len(lines) && lines[i] == "" {
			i++
		}
	}
	return nil
}

func writeDepends(path string, p *pkg.Package) error {
	var buf bytes.Buffer
	if len(p.Depends) > 0 {
		buf.WriteString("%DEPENDS%\n")
		for _, d := range p.Depends {
			fmt.Fprintf(&buf, "%s\n", formatDependency(d))
		}
		buf.WriteByte('\n')
	}
	if len(p.Conflicts) > 0 {
		buf.WriteString("%CONFLICTS%\n")
		for _, d := range p.Conflicts {
			fmt.Fprintf(&buf, "%s\n", formatDependency(d))
		}
		buf.WriteByte('\n')
	}
	if len(p.Provides) > 0 {
		buf.WriteString("%PROVIDES%\n")
		for _, pr := range p.Provides {
			fmt.Fprintf(&buf, "%s\n", formatProvide(pr))
		}
		buf.WriteByte('\n')
	}
	if len(p.OptDepends) > 0 {
		buf.WriteString("%OPTDEPENDS%\n")
		for _, od := range p.OptDepends {
			fmt.Fprintf(&buf, "%s\n", od)
		}
		buf.WriteByte('\n')
	}
	return atomicWriteFile(path, buf.Bytes(), 0644)
}

var opStrings = map[version.Op]string{
	version.Eq: "=",
	version.Ge: ">=",
	version.Le: "<=",
	version.Gt: ">",
	version.Lt: "<",
}

func formatDependency(d pkg.Dependency) string {
	if d.Op == version.Any {
		return d.Name
	}
	return d.Name + opStrings[d.Op] + d.Version
}

func parseDependency(s string) pkg.Dependency {
	name, op, ver := cutOp(s)
	return pkg.Dependency{Name: name, Op: op, Version: ver}
}

func formatProvide(p pkg.Provide) string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "=" + p.Version
}

func parseProvide(s string) pkg.Provide {
	name, op, ver := cutOp(s)
	if op == version.Any {
		return pkg.Provide{Name: name}
	}
	return pkg.Provide{Name: name, Version: ver}
}

// cutOp splits a dependency/provides string like "foo>=1.2" into its name,
// operator, and version, trying the two-character operators first.
func cutOp(s string) (name string, op version.Op, ver string) {
	for _, sep := range []struct {
		s string
		o version.Op
	}{
		{">=", version.Ge}, {"<=", version.Le}, {"=", version.Eq}, {">", version.Gt}, {"<", version.Lt},
	} {
		if idx := strings.Index(s, sep.s); idx >= 0 {
			return s[:idx], sep.o, s[idx+len(sep.s):]
		}
	}
	return s, version.Any, ""
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path, so readers never observe a partially written
// section file.
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "fsyncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpName)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return errors.Wrapf(err, "chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

var _ io.Writer = (*bytes.Buffer)(nil)
