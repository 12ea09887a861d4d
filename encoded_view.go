// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

// Rank distance classifications (spec §4.E).
const (
	// DistanceFatal marks an incompatible pair of ranks (mixed
	// reference/raw-byte ranks, or reference ranks of differing types).
	DistanceFatal = -1
	// distanceMismatchReference/distanceMismatchRaw are both 2 per spec,
	// kept as distinct names for readability at call sites.
	distanceMismatchReference = 2
	distanceMismatchRaw       = 2
)

// EncodedView represents an image as a sequence of ranks, substituting
// label indices for reference bytes so that longest-common-substring
// search is meaningful across address relocation (spec §3, §4.E).
type EncodedView struct {
	image []byte
	// types[k] is the reference type covering position k, or NoRefType.
	types []ReferenceType
	// headRef[k] is the Reference whose head byte is at k, valid only
	// when heads[k] is true.
	headRef []Reference
	heads   []bool

	typeCount  int
	labelCount []int // indexed by pool; "unassigned" sentinel per pool
	poolOf     func(ReferenceType) Pool
}

// NewEncodedView builds an encoded view over image using the references
// stored in holder. typeCount is the disassembler's fixed reference-type
// count (needed for the rank formula even for types with zero stored
// references).
func NewEncodedView(image []byte, holder *ReferenceHolder, typeCount int) *EncodedView {
	v := &EncodedView{
		image:     image,
		types:     make([]ReferenceType, len(image)),
		headRef:   make([]Reference, len(image)),
		heads:     make([]bool, len(image)),
		typeCount: typeCount,
	}
	for k := range v.types {
		v.types[k] = NoRefType
	}

	poolCount := holder.PoolCount()
	v.labelCount = make([]int, poolCount)

	for t := 0; t < holder.TypeCount(); t++ {
		refs := holder.Get(ReferenceType(t))
		if len(refs) == 0 {
			continue
		}
		width := holder.Width(ReferenceType(t))
		for _, r := range refs {
			loc := int(r.Location)
			if loc >= len(v.image) {
				continue
			}
			end := loc + width
			if end > len(v.image) {
				end = len(v.image)
			}
			for k := loc; k < end; k++ {
				v.types[k] = ReferenceType(t)
			}
			v.headRef[loc] = r
			v.heads[loc] = true
		}
	}
	return v
}

// SetLabelCounts sets the per-pool "unassigned" sentinel values used by
// Rank for references whose target has not (yet) been assigned a label.
// Called after the pool's label manager has been populated.
func (v *EncodedView) SetLabelCounts(counts []int) {
	v.labelCount = append([]int(nil), counts...)
}

// Size returns the image length.
func (v *EncodedView) Size() int { return len(v.image) }

// Cardinality returns 257 + typeCount * (maxLabelCount + 1), the number
// of distinct rank values this view may produce (spec §3).
func (v *EncodedView) Cardinality() int {
	maxLabelCount := 0
	for _, c := range v.labelCount {
		if c > maxLabelCount {
			maxLabelCount = c
		}
	}
	return 257 + v.typeCount*(maxLabelCount+1)
}

// IsToken reports whether position k is a non-reference byte, or the head
// byte of a reference (spec §4.E). Continuation bytes of a multi-byte
// reference are not tokens.
func (v *EncodedView) IsToken(k int) bool {
	if v.types[k] == NoRefType {
		return true
	}
	return v.heads[k]
}

// TypeAt returns the reference type covering position k, or NoRefType.
func (v *EncodedView) TypeAt(k int) ReferenceType { return v.types[k] }

// HeadAt reports whether position k is the head byte of the reference
// covering it. Meaningless when TypeAt(k) == NoRefType.
func (v *EncodedView) HeadAt(k int) bool { return v.heads[k] }

// Rank computes the rank at position k per spec §3:
//   - non-reference byte: image[k]
//   - reference continuation byte: 256
//   - reference head byte of type t, pool p: 257 + t + typeCount*targetCode
func (v *EncodedView) Rank(k int) int {
	t := v.types[k]
	if t == NoRefType {
		return int(v.image[k])
	}
	if !v.heads[k] {
		return 256
	}
	ref := v.headRef[k]
	pool := v.refPool(t)
	targetCode := v.labelCount[pool]
	if IsMarked(ref.Target) {
		targetCode = int(Unmark(ref.Target))
	}
	return 257 + int(t) + v.typeCount*targetCode
}

// refPool returns pool 0 for every type until SetPoolFunc installs a
// mapping, which is correct whenever the disassembler has a single pool.
func (v *EncodedView) refPool(t ReferenceType) Pool {
	if v.poolOf == nil {
		return 0
	}
	return v.poolOf(t)
}

// SetPoolFunc installs the type->pool mapping used by Rank, when a
// disassembler has more than one pool (spec §3: "a pool is a coarser
// grouping sharing a target space"). Disassemblers
// with more than one pool must call this before Rank is used.
func (v *EncodedView) SetPoolFunc(f func(ReferenceType) Pool) {
	v.poolOf = f
}

// RanksAsInt32 materializes the full rank sequence, e.g. for handing to
// the suffix array builder.
func (v *EncodedView) RanksAsInt32() []int32 {
	out := make([]int32, len(v.image))
	for k := range out {
		out[k] = int32(v.Rank(k))
	}
	return out
}

// Distance is the symmetric rank-compatibility metric used by the
// equivalence-map builder (spec §4.E). a and b are positions in
// (potentially different) encoded views sharing the same type/pool
// numbering.
func Distance(va *EncodedView, a int, vb *EncodedView, b int) int {
	ta, tb := va.types[a], vb.types[b]
	aIsRef := ta != NoRefType
	bIsRef := tb != NoRefType

	if aIsRef != bIsRef {
		return DistanceFatal
	}
	if !aIsRef {
		if va.image[a] == vb.image[b] {
			return 0
		}
		return distanceMismatchRaw
	}
	if ta != tb {
		return DistanceFatal
	}
	ra, rb := va.Rank(a), vb.Rank(b)
	if ra == rb {
		return 0
	}
	return distanceMismatchReference
}
