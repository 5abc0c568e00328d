package version

import "testing"

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want Ordering
	}{
		{"1.0.1", "1.0.2", Less},
		{"1:1.0", "2.0", Greater},
		{"1.0-1", "1.0-2", Less},
		{"1.0a", "1.0", Less},
		{"1.0", "1.0", Equal},
		{"1.0", "1.0a", Greater},
		{"1.0", "1.0.1", Less},
		{"1.0b2", "1.0b3", Less},
		{"1alpha", "1.0", Less},
		{"1.0", "1", Greater},
		{"0:1.0", "1.0", Equal},
		{"2:1.0", "1:2.0", Greater},
		{"1.0-2", "1.0-2", Equal},
	}

	for _, c := range cases {
		got := Compare(c.a, c.b)
		if got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
		// antisymmetry
		inv := Compare(c.b, c.a)
		if want := -c.want; inv != want && c.want != Equal {
			t.Errorf("Compare(%q, %q) = %d, want %d (antisymmetric)", c.b, c.a, inv, want)
		}
	}
}

func TestCompareReflexive(t *testing.T) {
	for _, v := range []string{"1.0", "2:3.4-5", "1.0a", "foo.1.2-3bar"} {
		if Compare(v, v) != Equal {
			t.Errorf("Compare(%q, %q) != Equal", v, v)
		}
	}
}

func TestCompareTransitive(t *testing.T) {
	versions := []string{"1.0a", "1.0", "1.0.1", "1.0.1-2", "1.0.1-10", "2.0", "1:0.9"}
	for i := 0; i < len(versions); i++ {
		for j := i + 1; j < len(versions); j++ {
			if Compare(versions[i], versions[j]) != Less {
				t.Errorf("Compare(%q, %q) expected Less in ordered fixture", versions[i], versions[j])
			}
		}
	}
}

func TestSatisfies(t *testing.T) {
	if !Satisfies(Any, "1.0", "99.0") {
		t.Error("Any must always be satisfied")
	}
	if !Satisfies(Ge, "2.0", "1.0") {
		t.Error("2.0 >= 1.0")
	}
	if Satisfies(Gt, "1.0", "1.0") {
		t.Error("1.0 is not > 1.0")
	}
	if !Satisfies(Le, "1.0", "1.0") {
		t.Error("1.0 <= 1.0")
	}
	if !Satisfies(Eq, "1:1.0-1", "1:1.0-1") {
		t.Error("equal full versions must satisfy Eq")
	}
}
