// Package version implements the version-string comparison algebra used to
// order package versions and evaluate dependency expressions.
//
// A version string has the form [epoch:]version[-release]. Comparison
// splits version and release into alternating runs of digits and letters,
// comparing numeric runs numerically and alpha runs lexically; it is a
// direct port of the segment-walk algorithm pacman's libalpm has used
// since _alpm_versioncmp, not a semver scheme.
package version

import "strings"

// Ordering is the three-valued result of Compare.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Op is a dependency version comparison operator.
type Op int

const (
	Any Op = iota
	Eq
	Ge
	Le
	Gt
	Lt
)

// Compare orders two version strings, including an optional epoch prefix
// ("epoch:version") and an optional release suffix ("version-release").
//
// Epoch is compared numerically first and dominates the rest of the
// comparison. If both versions compare equal on the base version, and
// both sides have a release component, the release is compared the same
// way. Two versions without a release compare equal on the base version;
// when only one side has a release, that side is the newer one.
func Compare(a, b string) Ordering {
	if a == b {
		return Equal
	}

	ea, ra := splitEpoch(a)
	eb, rb := splitEpoch(b)
	if o := compareEpoch(ea, eb); o != Equal {
		return o
	}

	v1, rel1, hasRel1 := splitRelease(ra)
	v2, rel2, hasRel2 := splitRelease(rb)

	if o := compareSegments(v1, v2); o != Equal {
		return o
	}

	if hasRel1 && hasRel2 {
		return compareSegments(rel1, rel2)
	}
	if hasRel1 != hasRel2 {
		if hasRel1 {
			return Greater
		}
		return Less
	}
	return Equal
}

// Satisfies reports whether a package version satisfies a dependency
// expression version op. op == Any always holds, regardless of ver/depVer.
func Satisfies(op Op, pkgVersion, depVersion string) bool {
	if op == Any {
		return true
	}
	c := Compare(pkgVersion, depVersion)
	switch op {
	case Eq:
		return c == Equal
	case Ge:
		return c == Equal || c == Greater
	case Le:
		return c == Equal || c == Less
	case Gt:
		return c == Greater
	case Lt:
		return c == Less
	}
	return false
}

// splitEpoch pulls a leading "N:" off of v, returning the epoch text (empty
// if absent) and the remainder.
func splitEpoch(v string) (epoch, rest string) {
	if i := strings.IndexByte(v, ':'); i >= 0 {
		return v[:i], v[i+1:]
	}
	return "", v
}

func compareEpoch(a, b string) Ordering {
	na := numericValue(a)
	nb := numericValue(b)
	switch {
	case na < nb:
		return Less
	case na > nb:
		return Greater
	default:
		return Equal
	}
}

func numericValue(s string) int64 {
	s = strings.TrimLeft(s, "0")
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

// splitRelease pulls a trailing "-release" off of v.
func splitRelease(v string) (version, release string, hasRelease bool) {
	if i := strings.IndexByte(v, '-'); i >= 0 {
		return v[:i], v[i+1:], true
	}
	return v, "", false
}

type segKind int

const (
	segDigit segKind = iota
	segAlpha
)

type segment struct {
	kind segKind
	text string
}

// segments splits a version string into alternating runs of digits and
// letters, ignoring non-alphanumeric separator characters (they delimit
// segments but never participate in comparison themselves).
func segments(s string) []segment {
	var segs []segment
	i := 0
	n := len(s)
	for i < n {
		c := s[i]
		switch {
		case isDigit(c):
			j := i
			for j < n && isDigit(s[j]) {
				j++
			}
			segs = append(segs, segment{segDigit, s[i:j]})
			i = j
		case isAlpha(c):
			j := i
			for j < n && isAlpha(s[j]) {
				j++
			}
			segs = append(segs, segment{segAlpha, s[i:j]})
			i = j
		default:
			i++
		}
	}
	return segs
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// compareSegments implements the core segment walk: numeric segments compare
// numerically (leading zeros stripped), alpha segments compare lexically,
// and an alpha segment is considered older than a numeric one at the same
// position. Running out of segments on one side while the other still has
// an alphanumeric run ranks the exhausted side older, unless the remaining
// run on the other side is alpha, in which case the alpha run is older than
// the (absent) extension of the exhausted side.
func compareSegments(a, b string) Ordering {
	sa := segments(a)
	sb := segments(b)

	i := 0
	for i < len(sa) && i < len(sb) {
		x, y := sa[i], sb[i]
		switch {
		case x.kind == segDigit && y.kind == segDigit:
			if o := compareNumeric(x.text, y.text); o != Equal {
				return o
			}
		case x.kind == segAlpha && y.kind == segAlpha:
			if x.text < y.text {
				return Less
			} else if x.text > y.text {
				return Greater
			}
		case x.kind == segAlpha && y.kind == segDigit:
			return Less
		case x.kind == segDigit && y.kind == segAlpha:
			return Greater
		}
		i++
	}

	switch {
	case i == len(sa) && i == len(sb):
		return Equal
	case i == len(sa):
		// a ran out, b still has a segment.
		if sb[i].kind == segAlpha {
			return Greater
		}
		return Less
	default:
		// b ran out, a still has a segment.
		if sa[i].kind == segAlpha {
			return Less
		}
		return Greater
	}
}

func compareNumeric(a, b string) Ordering {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return Less
		}
		return Greater
	}
	if a < b {
		return Less
	} else if a > b {
		return Greater
	}
	return Equal
}
