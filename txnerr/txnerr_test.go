package txnerr

import (
	"strings"
	"testing"

	"github.com/devkitPro/pacman-sub000/pkg"
	"github.com/devkitPro/pacman-sub000/version"
)

func TestWithMissingMessage(t *testing.T) {
	err := WithMissing([]pkg.Dependency{{Name: "foo", Op: version.Ge, Version: "1.0"}})
	if err.Kind != UnsatisfiedDeps {
		t.Fatalf("kind = %v", err.Kind)
	}
	if !strings.Contains(err.Error(), "foo") {
		t.Fatalf("message missing dependency name: %q", err.Error())
	}
}

func TestWithConflictsMessage(t *testing.T) {
	err := WithConflicts([]ConflictPair{{A: "a", B: "b"}})
	if !strings.Contains(err.Error(), "a conflicts with b") {
		t.Fatalf("got %q", err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := New(System, nil)
	wrapped := New(DbWrite, cause)
	if wrapped.Unwrap() != cause {
		t.Fatal("expected Unwrap to return cause")
	}
}
