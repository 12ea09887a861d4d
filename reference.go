// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

// ReferenceType names a wire-format reference category (spec §3), e.g.
// PE32 absolute-32 or ELF ARM32 T24 branch. It is a small nonnegative
// integer assigned by each disassembler's fixed traits table.
type ReferenceType uint8

// NoRefType marks an image byte that is not part of any reference (spec
// §4.E: "no_ref_type (255)").
const NoRefType ReferenceType = 255

// Pool is a coarser grouping of reference types that share a target space
// and therefore a label table (spec §3).
type Pool uint8

// Reference is a (location, target) pair of image offsets (spec §3). Both
// fields hold raw offsets during extraction; once a label manager has
// assigned the reference, Target holds a marked label index instead.
type Reference struct {
	Location Offset
	Target   Offset
}

// ReferenceTraits describes one reference type's wire shape and behavior
// (spec §4.B: "{width, type, pool, find, receive}"). Finder and Receptor
// are supplied per disassembler instance since they close over the
// underlying image bytes.
type ReferenceTraits struct {
	Type  ReferenceType
	Pool  Pool
	// Width is the fixed byte width of this reference type's encoded
	// target field (e.g. 2, 4, 8).
	Width int
}

// ReferenceFinder yields references of a single type whose location lies
// within some caller-chosen range, in ascending location order. It models
// spec §4.B's find(lo, hi) as a pull-based iterator rather than a
// type-erased generator closure (spec §9's "Iterators returning
// closures" note).
type ReferenceFinder interface {
	// Next returns the next reference and true, or the zero Reference and
	// false once exhausted.
	Next() (Reference, bool)
}

// ReferenceReceptor writes a single reference's (possibly marked) target
// back into the underlying image at the reference's location, re-encoding
// it in the type's wire width (spec §4.B: "receive() returning a callable
// that writes a reference into the image").
type ReferenceReceptor interface {
	Receive(ref Reference) error
}

// sliceReferenceFinder is the common case: an in-memory slice of
// references already sorted by location, exposed through the
// ReferenceFinder interface.
type sliceReferenceFinder struct {
	refs []Reference
	pos  int
	hi   Offset
}

// newSliceReferenceFinder wraps refs (must be sorted by Location) as a
// ReferenceFinder limited to locations in [lo, hi).
func newSliceReferenceFinder(refs []Reference, lo, hi Offset) *sliceReferenceFinder {
	start := searchReferences(refs, lo)
	return &sliceReferenceFinder{refs: refs, pos: start, hi: hi}
}

func (f *sliceReferenceFinder) Next() (Reference, bool) {
	if f.pos >= len(f.refs) {
		return Reference{}, false
	}
	r := f.refs[f.pos]
	if r.Location >= f.hi {
		return Reference{}, false
	}
	f.pos++
	return r, true
}

// searchReferences returns the index of the first reference with
// Location >= lo (binary search; refs must be sorted by Location).
func searchReferences(refs []Reference, lo Offset) int {
	i, j := 0, len(refs)
	for i < j {
		m := (i + j) / 2
		if refs[m].Location < lo {
			i = m + 1
		} else {
			j = m
		}
	}
	return i
}
