package slice

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Slice is a contiguous key range [Start, End). Two slices with equal
// bounds are the same slice.
type Slice struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// LoadTable maps a slice key (see Slice.Key) to a request count.
type LoadTable map[string]uint64

// Key returns the canonical string form of the slice, e.g. "[0,10)".
// Equal slices always produce the same key and distinct slices never collide.
func (s Slice) Key() string {
	return "[" + strconv.FormatInt(s.Start, 10) + "," + strconv.FormatInt(s.End, 10) + ")"
}

func (s Slice) String() string {
	return s.Key()
}

// Contains reports whether key falls inside [Start, End).
func (s Slice) Contains(key int64) bool {
	return key >= s.Start && key < s.End
}

// Valid reports whether Start <= End.
func (s Slice) Valid() bool {
	return s.Start <= s.End
}

// ParseKey is the inverse of Slice.Key.
func ParseKey(key string) (Slice, error) {
	if !strings.HasPrefix(key, "[") || !strings.HasSuffix(key, ")") {
		return Slice{}, fmt.Errorf("malformed slice key %q", key)
	}
	start, end, ok := strings.Cut(key[1:len(key)-1], ",")
	if !ok {
		return Slice{}, fmt.Errorf("malformed slice key %q", key)
	}
	s, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return Slice{}, fmt.Errorf("slice key %q start: %w", key, err)
	}
	e, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return Slice{}, fmt.Errorf("slice key %q end: %w", key, err)
	}
	return Slice{Start: s, End: e}, nil
}

// Sorted returns a copy of in ordered ascending by Start. Slices with the
// same Start keep their relative input order.
func Sorted(in []Slice) []Slice {
	out := slices.Clone(in)
	if out == nil {
		out = []Slice{}
	}
	slices.SortStableFunc(out, func(a, b Slice) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return out
}

// Find returns the slice in sorted that contains key, preferring the one
// with the greatest Start when overlapping slices were accepted. sorted
// must be ordered by Start.
func Find(sorted []Slice, key int64) (Slice, bool) {
	// index of the first slice starting after key
	i, _ := slices.BinarySearchFunc(sorted, key, func(s Slice, k int64) int {
		if s.Start <= k {
			return -1
		}
		return 1
	})
	for j := i - 1; j >= 0; j-- {
		if sorted[j].Contains(key) {
			return sorted[j], true
		}
	}
	return Slice{}, false
}

// Add folds other into t, summing counts for equal keys.
func (t LoadTable) Add(other LoadTable) {
	for k, n := range other {
		t[k] += n
	}
}

// Clone returns an independent copy of t.
func (t LoadTable) Clone() LoadTable {
	out := make(LoadTable, len(t))
	for k, n := range t {
		out[k] = n
	}
	return out
}
