// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package zucchini implements a differential compression engine specialized
// for executable formats: it parses code references (relative jumps,
// absolute addresses, relocation tables, DEX indexed references) out of an
// "old" and a "new" image, normalizes them into abstract labels, and diffs
// images in that normalized domain so that bytewise noise caused by address
// relocation does not inflate the patch.
package zucchini

import "math"

// Offset is a byte position within an image. RVA is a relative virtual
// address as defined by the target executable format. Both are 32-bit,
// matching the wire format (patch streams never need to address more than
// 4 GiB).
type Offset = uint32

// RVA is a relative virtual address.
type RVA = uint32

// Sentinel values for Offset/RVA/label-index fields (spec §3).
const (
	// NullOffset marks the absence of an offset value.
	NullOffset Offset = math.MaxUint32

	// NullRVA marks the absence of an RVA value.
	NullRVA RVA = math.MaxUint32

	// UnusedIndex marks a label-table slot with no assigned target, and is
	// also used as the "no covering equivalence" result of label
	// projection.
	UnusedIndex uint32 = math.MaxUint32
)

// markedBit is the top bit of an Offset; when set, the remaining 31 bits
// hold a label index rather than a raw offset (spec §3's "marked index"
// convention, modeled here as a pair of pack/unpack functions rather than a
// tagged union, since Go has no space-efficient sum type).
const (
	markedBit  Offset = 1 << 31
	indexMask  Offset = markedBit - 1
)

// Mark packs a label index into the marked-offset representation.
func Mark(index uint32) Offset {
	return markedBit | (index & indexMask)
}

// IsMarked reports whether off currently holds a label index rather than a
// raw offset.
func IsMarked(off Offset) bool {
	return off&markedBit != 0
}

// Unmark extracts the label index from a marked offset. The caller must
// have checked IsMarked first.
func Unmark(off Offset) uint32 {
	return off &^ markedBit
}
