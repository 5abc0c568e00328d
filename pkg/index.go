package pkg

// primeLadder is the table of bucket-count candidates libalpm's pkghash.c
// ships: the smallest prime strictly greater than the requested size is
// chosen as the initial bucket count, and rehashing walks forward through
// the same ladder.
var primeLadder = []uint32{
	11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47,
	53, 59, 61, 67, 71, 73, 79, 83, 89, 97, 103,
	109, 113, 127, 137, 139, 149, 157, 167, 179, 193,
	199, 211, 227, 241, 257, 277, 293, 313, 337, 359,
	383, 409, 439, 467, 503, 541, 577, 619, 661, 709,
	761, 823, 887, 953, 1031, 1109, 1193, 1289, 1381,
	1493, 1613, 1741, 1879, 2029, 2179, 2357, 2549,
	2753, 2971, 3209, 3469, 3739, 4027, 4349, 4703,
	5087, 5503, 5953, 6427, 6949, 7517, 8123, 8783,
	9497, 10273, 11113, 12011, 12983, 14033, 15173,
	16411, 17749, 19183, 20753, 22447, 24281, 26267,
	28411, 30727, 33223, 35933, 38873, 42043, 45481,
	49201, 53201, 57557, 62233, 67307, 72817, 78779,
	85229, 92203, 99733, 107897, 116731, 126271, 136607,
	147793, 159871, 172933, 187091, 202409, 218971, 236897,
	256279, 277261, 299951, 324503, 351061, 379787, 410857,
	444487, 480881, 520241, 562841, 608903, 658753, 712697,
	771049, 834181, 902483, 976369,
}

// maxLoad is the load factor above which Index rehashes, per libalpm's
// MAX_HASH_LOAD.
const maxLoad = 0.7

func nextPrimeAbove(size int) uint32 {
	for _, p := range primeLadder {
		if int(p) > size {
			return p
		}
	}
	return primeLadder[len(primeLadder)-1]
}

type slot struct {
	pkg  *Package
	hash uint32
	used bool // false once logically removed, even though the slot may hold stale data
}

// Index is an open-addressed, linear-probing hash table keyed by package
// name hash, giving O(1) average lookup. Removal is logical: the slot's
// hash is cleared but left in the table so later probe chains that passed
// through it still find their targets (spec.md §4.3).
type Index struct {
	table   []slot
	entries int
}

// NewIndex returns an Index sized to hold at least size entries without an
// immediate rehash.
func NewIndex(size int) *Index {
	return &Index{table: make([]slot, nextPrimeAbove(int(float64(size)/maxLoad)))}
}

func (idx *Index) rehashIfNeeded() {
	if float64(idx.entries+1)/maxLoad <= float64(len(idx.table)) {
		return
	}
	old := idx.table
	idx.table = make([]slot, nextPrimeAbove(len(old)))
	idx.entries = 0
	for _, s := range old {
		if s.used {
			idx.insert(s.pkg, s.hash)
		}
	}
}

func (idx *Index) insert(p *Package, hash uint32) {
	n := uint32(len(idx.table))
	pos := hash % n
	for idx.table[pos].used {
		pos = (pos + 1) % n
	}
	idx.table[pos] = slot{pkg: p, hash: hash, used: true}
	idx.entries++
}

// Add inserts p into the index, keyed by its name hash.
func (idx *Index) Add(p *Package) {
	idx.rehashIfNeeded()
	idx.insert(p, p.NameHash())
}

// Lookup returns the package with the given name, and whether it was found.
//
// The probe chain must walk through tombstones left by Remove (used ==
// false but pkg != nil) without stopping; it only stops at a slot that was
// never occupied at all (pkg == nil), since that's as far as any insert
// could ever have probed past.
func (idx *Index) Lookup(name string) (*Package, bool) {
	if len(idx.table) == 0 {
		return nil, false
	}
	hash := SDBM(name)
	n := uint32(len(idx.table))
	pos := hash % n
	for probed := uint32(0); probed < n; probed++ {
		s := idx.table[pos]
		if s.pkg == nil {
			return nil, false
		}
		if s.used && s.hash == hash && s.pkg.Name == name {
			return s.pkg, true
		}
		pos = (pos + 1) % n
	}
	return nil, false
}

// Remove logically deletes the package with the given name from the index,
// zeroing the slot's name-hash (spec.md §4.3) while leaving the slot
// occupied so later probe chains that passed through it still terminate
// correctly.
func (idx *Index) Remove(name string) {
	if len(idx.table) == 0 {
		return
	}
	hash := SDBM(name)
	n := uint32(len(idx.table))
	pos := hash % n
	for probed := uint32(0); probed < n; probed++ {
		s := idx.table[pos]
		if s.pkg == nil {
			return
		}
		if s.used && s.hash == hash && s.pkg.Name == name {
			idx.table[pos].used = false
			idx.table[pos].hash = 0
			idx.entries--
			return
		}
		pos = (pos + 1) % n
	}
}

// Len reports the number of live entries.
func (idx *Index) Len() int { return idx.entries }

// Each calls fn for every live package in table order (not insertion
// order); callers that need a stable order should sort the result.
func (idx *Index) Each(fn func(*Package)) {
	for _, s := range idx.table {
		if s.used {
			fn(s.pkg)
		}
	}
}
