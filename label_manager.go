// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "sort"

// OrderedLabelManager holds a sorted, deduplicated, hole-free label table
// and supports O(log n) target-to-index lookup via binary search (spec
// §4.D). It is used on the "old" side, where every label has a known
// target up front.
type OrderedLabelManager struct {
	labels []Offset // sorted ascending, no duplicates
}

// NewOrderedLabelManager creates an empty ordered label manager.
func NewOrderedLabelManager() *OrderedLabelManager {
	return &OrderedLabelManager{}
}

// Labels returns the label table, index i holding the target offset of
// label i.
func (m *OrderedLabelManager) Labels() []Offset { return m.labels }

// Len returns the number of labels.
func (m *OrderedLabelManager) Len() int { return len(m.labels) }

// Allocate appends the unmarked targets of refs to the table, then sorts
// and deduplicates it. Invalidates any previously returned indices (spec
// §4.D: "Invalidates prior indices.").
func (m *OrderedLabelManager) Allocate(refs []Reference) {
	for _, r := range refs {
		if !IsMarked(r.Target) {
			m.labels = append(m.labels, r.Target)
		}
	}
	sort.Slice(m.labels, func(i, j int) bool { return m.labels[i] < m.labels[j] })
	m.labels = dedupSortedOffsets(m.labels)
}

func dedupSortedOffsets(s []Offset) []Offset {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// Assign binary-searches each unmarked reference's target in the label
// table; on a hit it replaces the target with Mark(index) in place. A
// target with no matching label is left unmarked.
func (m *OrderedLabelManager) Assign(refs []Reference) {
	for i := range refs {
		if IsMarked(refs[i].Target) {
			continue
		}
		if idx, ok := m.find(refs[i].Target); ok {
			refs[i].Target = Mark(uint32(idx))
		}
	}
}

// Unassign replaces each marked reference's target with the label table's
// stored target offset, in place.
func (m *OrderedLabelManager) Unassign(refs []Reference) {
	for i := range refs {
		if !IsMarked(refs[i].Target) {
			continue
		}
		idx := Unmark(refs[i].Target)
		if int(idx) < len(m.labels) {
			refs[i].Target = m.labels[idx]
		}
	}
}

// AllocateAndAssign composes Allocate then Assign.
func (m *OrderedLabelManager) AllocateAndAssign(refs []Reference) {
	m.Allocate(refs)
	m.Assign(refs)
}

func (m *OrderedLabelManager) find(target Offset) (int, bool) {
	i := sort.Search(len(m.labels), func(i int) bool { return m.labels[i] >= target })
	if i < len(m.labels) && m.labels[i] == target {
		return i, true
	}
	return 0, false
}

// UnorderedLabelManager holds a label table that may contain holes
// (entries equal to UnusedIndex), paired with a hash map mirror from
// target to index (spec §4.D). It is used on the "new" side, where label
// projection does not cover every target.
type UnorderedLabelManager struct {
	labels []Offset
	index  map[Offset]uint32

	// firstUnindexedLabel is the first label position not yet reflected
	// in index (lazy-rebuild cursor).
	firstUnindexedLabel int
	// firstUnusedIdx is the lowest position known to hold UnusedIndex,
	// used to fill holes before extending the table (digest).
	firstUnusedIdx int
}

// NewUnorderedLabelManager creates an empty unordered label manager.
func NewUnorderedLabelManager() *UnorderedLabelManager {
	return &UnorderedLabelManager{index: make(map[Offset]uint32)}
}

// Labels returns the label table (may contain UnusedIndex holes).
func (m *UnorderedLabelManager) Labels() []Offset { return m.labels }

// Len returns the number of label slots (including holes).
func (m *UnorderedLabelManager) Len() int { return len(m.labels) }

// Init wholesale-loads labels, typically right after label projection.
// Replaces any existing table and resets incremental cursors.
func (m *UnorderedLabelManager) Init(labels []Offset) {
	m.labels = append([]Offset(nil), labels...)
	m.index = make(map[Offset]uint32, len(labels))
	m.firstUnindexedLabel = 0
	m.firstUnusedIdx = 0
	m.rebuildIndex()
}

func (m *UnorderedLabelManager) rebuildIndex() {
	for ; m.firstUnindexedLabel < len(m.labels); m.firstUnindexedLabel++ {
		t := m.labels[m.firstUnindexedLabel]
		if t == Offset(UnusedIndex) {
			continue
		}
		m.index[t] = uint32(m.firstUnindexedLabel)
	}
}

// Assign lazy-rebuilds the hash-map mirror up to the current table
// length, then looks up each unmarked reference's target, marking it on a
// hit and leaving it unmarked on a miss.
func (m *UnorderedLabelManager) Assign(refs []Reference) {
	m.rebuildIndex()
	for i := range refs {
		if IsMarked(refs[i].Target) {
			continue
		}
		if idx, ok := m.index[refs[i].Target]; ok {
			refs[i].Target = Mark(idx)
		}
	}
}

// AssignOrAllocate assigns when the target is already present, or appends
// a new label entry for it otherwise.
func (m *UnorderedLabelManager) AssignOrAllocate(refs []Reference) {
	m.rebuildIndex()
	for i := range refs {
		if IsMarked(refs[i].Target) {
			continue
		}
		target := refs[i].Target
		idx, ok := m.index[target]
		if !ok {
			idx = uint32(len(m.labels))
			m.labels = append(m.labels, target)
			m.index[target] = idx
			m.firstUnindexedLabel = len(m.labels)
		}
		refs[i].Target = Mark(idx)
	}
}

// Unassign replaces each marked reference's target with the stored label
// value (mirrors OrderedLabelManager.Unassign).
func (m *UnorderedLabelManager) Unassign(refs []Reference) {
	for i := range refs {
		if !IsMarked(refs[i].Target) {
			continue
		}
		idx := Unmark(refs[i].Target)
		if int(idx) < len(m.labels) {
			refs[i].Target = m.labels[idx]
		}
	}
}

// Digest appends labels, filling existing UnusedIndex holes in place
// before extending the table, then updates the incremental cursors (spec
// §4.D). Used by the patch applicator to load extra labels discovered in
// the new image but not projected from old.
func (m *UnorderedLabelManager) Digest(labels []Offset) {
	i := 0
	for ; m.firstUnusedIdx < len(m.labels) && i < len(labels); m.firstUnusedIdx++ {
		if m.labels[m.firstUnusedIdx] != Offset(UnusedIndex) {
			continue
		}
		// A filled hole sits before firstUnindexedLabel, so the forward-only
		// rebuildIndex cursor below will never revisit it: index it here
		// directly or Assign's later lookups for this target will miss.
		m.labels[m.firstUnusedIdx] = labels[i]
		m.index[labels[i]] = uint32(m.firstUnusedIdx)
		i++
	}
	for ; i < len(labels); i++ {
		m.labels = append(m.labels, labels[i])
	}
	if m.firstUnusedIdx > len(m.labels) {
		m.firstUnusedIdx = len(m.labels)
	}
	m.rebuildIndex()
}
