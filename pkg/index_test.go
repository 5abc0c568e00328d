package pkg

import "testing"

func TestIndexAddLookup(t *testing.T) {
	idx := NewIndex(4)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		idx.Add(&Package{Name: name, Version: "1.0"})
	}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		p, ok := idx.Lookup(name)
		if !ok || p.Name != name {
			t.Fatalf("Lookup(%q) = %v, %v", name, p, ok)
		}
	}
	if _, ok := idx.Lookup("nope"); ok {
		t.Fatal("expected miss")
	}
	if idx.Len() != 5 {
		t.Fatalf("Len = %d", idx.Len())
	}
}

func TestIndexRehash(t *testing.T) {
	idx := NewIndex(4)
	names := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		name := string(rune('a'+i%26)) + string(rune('A'+i/26))
		names = append(names, name)
		idx.Add(&Package{Name: name})
	}
	for _, n := range names {
		if _, ok := idx.Lookup(n); !ok {
			t.Fatalf("lost %q after rehash", n)
		}
	}
	if idx.Len() != 50 {
		t.Fatalf("Len = %d", idx.Len())
	}
}

func TestIndexRemovePreservesProbeChain(t *testing.T) {
	idx := NewIndex(1) // tiny table: forces collisions immediately
	for _, name := range []string{"one", "two", "three", "four"} {
		idx.Add(&Package{Name: name})
	}
	idx.Remove("two")
	if _, ok := idx.Lookup("two"); ok {
		t.Fatal("expected two to be removed")
	}
	for _, name := range []string{"one", "three", "four"} {
		if _, ok := idx.Lookup(name); !ok {
			t.Fatalf("lost %q after removing a colliding neighbor", name)
		}
	}
	if idx.Len() != 3 {
		t.Fatalf("Len = %d", idx.Len())
	}
}

func TestIndexEach(t *testing.T) {
	idx := NewIndex(4)
	want := map[string]bool{"a": true, "b": true, "c": true}
	for n := range want {
		idx.Add(&Package{Name: n})
	}
	got := map[string]bool{}
	idx.Each(func(p *Package) { got[p.Name] = true })
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for n := range want {
		if !got[n] {
			t.Fatalf("missing %q", n)
		}
	}
}
