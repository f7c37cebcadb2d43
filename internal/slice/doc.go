// Package slice defines the unit of key-range ownership in slicepool.
//
// A Slice is a half-open range [Start, End) of int64 keys. Workers count
// requests per slice in a LoadTable, keyed by the slice's canonical string
// form so the table survives a JSON round trip across the coordination
// channel:
//
//	Slice{Start: 0, End: 10}.Key()  // "[0,10)"
//	ParseKey("[0,10)")              // Slice{0, 10}
//
// Nothing in this package validates that a set of slices is
// non-overlapping; ownership policy belongs to whoever issues a
// reassignment.
package slice
