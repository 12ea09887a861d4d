// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"container/heap"
	"sort"
)

// ReferenceHolder stores, per reference type, a slice of references in
// ascending location order (spec §4.C). Types may be inserted out of
// order; storage grows on demand.
type ReferenceHolder struct {
	traits []ReferenceTraits // indexed by ReferenceType
	refs   [][]Reference     // indexed by ReferenceType
}

// NewReferenceHolder creates an empty holder sized for typeCount types.
func NewReferenceHolder(typeCount int) *ReferenceHolder {
	return &ReferenceHolder{
		traits: make([]ReferenceTraits, typeCount),
		refs:   make([][]Reference, typeCount),
	}
}

// Insert stores refs (must already be sorted by Location and
// non-overlapping under traits.Width) under the type named by traits,
// resizing backing storage if the type index is beyond what
// NewReferenceHolder sized for.
func (h *ReferenceHolder) Insert(traits ReferenceTraits, refs []Reference) {
	t := int(traits.Type)
	if t >= len(h.traits) {
		growTraits := make([]ReferenceTraits, t+1)
		copy(growTraits, h.traits)
		h.traits = growTraits
		growRefs := make([][]Reference, t+1)
		copy(growRefs, h.refs)
		h.refs = growRefs
	}
	h.traits[t] = traits
	h.refs[t] = refs
}

// TypeCount returns the number of reference-type slots.
func (h *ReferenceHolder) TypeCount() int { return len(h.traits) }

// PoolCount returns one more than the highest pool index used by any
// type with at least one stored reference.
func (h *ReferenceHolder) PoolCount() int {
	max := -1
	for t := range h.refs {
		if len(h.refs[t]) == 0 {
			continue
		}
		if p := int(h.traits[t].Pool); p > max {
			max = p
		}
	}
	return max + 1
}

// Width returns the byte width of reference type t.
func (h *ReferenceHolder) Width(t ReferenceType) int {
	if int(t) >= len(h.traits) {
		return 0
	}
	return h.traits[t].Width
}

// PoolOf returns the pool that reference type t belongs to.
func (h *ReferenceHolder) PoolOf(t ReferenceType) Pool {
	if int(t) >= len(h.traits) {
		return 0
	}
	return h.traits[t].Pool
}

// Get returns the stored references of type t, in ascending location
// order ("sorted_by_type" per-type range, spec §4.C).
func (h *ReferenceHolder) Get(t ReferenceType) []Reference {
	if int(t) >= len(h.refs) {
		return nil
	}
	return h.refs[t]
}

// GetMutable returns a mutable view of the stored references of type t,
// allowing callers (label managers) to rewrite targets in place.
func (h *ReferenceHolder) GetMutable(t ReferenceType) []Reference {
	if int(t) >= len(h.refs) {
		return nil
	}
	return h.refs[t]
}

// TypedRef pairs a Reference with the ReferenceType it belongs to, the
// element type yielded by the flat iteration orders.
type TypedRef struct {
	Type ReferenceType
	Ref  Reference
}

// GetSortedByType returns every stored reference across all types, in
// (type, location) order: every reference of type 0 first, in ascending
// location, then type 1, etc. (spec §4.C).
func (h *ReferenceHolder) GetSortedByType() []TypedRef {
	var out []TypedRef
	for t := 0; t < len(h.refs); t++ {
		for _, r := range h.refs[t] {
			out = append(out, TypedRef{Type: ReferenceType(t), Ref: r})
		}
	}
	return out
}

// heapItem is one (type, cursor) lane of the min-heap used by
// GetSortedByLocation.
type heapItem struct {
	typ  ReferenceType
	refs []Reference
	idx  int
}

type refHeap []*heapItem

func (h refHeap) Len() int { return len(h) }
func (h refHeap) Less(i, j int) bool {
	ri, rj := h[i].refs[h[i].idx], h[j].refs[h[j].idx]
	if ri.Location != rj.Location {
		return ri.Location < rj.Location
	}
	return h[i].typ < h[j].typ
}
func (h refHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *refHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *refHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// GetSortedByLocation returns every stored reference across all types, in
// (location, type) order, implemented via a min-heap keyed on
// (cur_location, type) across all non-empty type streams, advanced one
// element per step (spec §4.C).
func (h *ReferenceHolder) GetSortedByLocation() []TypedRef {
	hp := &refHeap{}
	for t := 0; t < len(h.refs); t++ {
		if len(h.refs[t]) == 0 {
			continue
		}
		heap.Push(hp, &heapItem{typ: ReferenceType(t), refs: h.refs[t]})
	}
	heap.Init(hp)

	var out []TypedRef
	for hp.Len() > 0 {
		it := (*hp)[0]
		out = append(out, TypedRef{Type: it.typ, Ref: it.refs[it.idx]})
		it.idx++
		if it.idx >= len(it.refs) {
			heap.Pop(hp)
		} else {
			heap.Fix(hp, 0)
		}
	}
	return out
}

// Find returns the largest reference of type t with Location <= loc, and
// true if one exists (spec §4.C: binary search).
func (h *ReferenceHolder) Find(t ReferenceType, loc Offset) (Reference, bool) {
	refs := h.Get(t)
	i := sort.Search(len(refs), func(i int) bool { return refs[i].Location > loc })
	if i == 0 {
		return Reference{}, false
	}
	return refs[i-1], true
}

// FinderFor returns a ReferenceFinder over type t's references whose
// location lies in [lo, hi) (spec §4.B: find(lo, hi)).
func (h *ReferenceHolder) FinderFor(t ReferenceType, lo, hi Offset) ReferenceFinder {
	return newSliceReferenceFinder(h.Get(t), lo, hi)
}
