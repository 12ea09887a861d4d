// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "sort"

// Equivalence asserts that old[Src:Src+Length] is similar (under the rank
// metric) to new[Dst:Dst+Length] (spec §3).
type Equivalence struct {
	Src    int
	Dst    int
	Length int
}

// SrcEnd returns Src + Length.
func (e Equivalence) SrcEnd() int { return e.Src + e.Length }

// DstEnd returns Dst + Length.
func (e Equivalence) DstEnd() int { return e.Dst + e.Length }

// EquivalenceMap is an ordered sequence of equivalences, non-overlapping
// in Dst (spec §3). It is mutable during building and immutable once
// returned by Build.
type EquivalenceMap struct {
	eqs []Equivalence // kept sorted by Dst throughout building
}

// Equivalences returns the built map's entries, sorted by Src (spec:
// "sorted by src on completion").
func (m *EquivalenceMap) Equivalences() []Equivalence { return m.eqs }

// suffixSearcher is the minimal surface the equivalence-map builder needs
// from a suffix array (spec §6's named collaborator).
type suffixSearcher interface {
	Search(pattern []int32) (pos int, commonPrefixLen int)
}

// equivalenceBuilder runs the sweep-and-extend algorithm of spec §4.F.
type equivalenceBuilder struct {
	oldView *EncodedView
	sa      suffixSearcher
	newView *EncodedView

	minMatchLength      int
	baseEquivalenceCost int

	eqs []Equivalence

	// previousScores caches the per-position score of the most recently
	// committed equivalence, consumed when a later equivalence's backward
	// extension overlaps it (spec step 3's "Special rule").
	previousScores []int
}

// BuildEquivalenceMap runs the suffix-array-seeded sweep described in
// spec §4.F and returns the resulting map, with entries sorted by Src.
// minimumLength selects which build pass this is: k_large_equivalence_score
// (128) for the skeleton pass, or k_min_equivalence_score +
// k_base_equivalence_cost for the refined pass.
func BuildEquivalenceMap(oldView *EncodedView, sa suffixSearcher, newView *EncodedView, minimumLength, minMatchLength, baseEquivalenceCost int) *EquivalenceMap {
	b := &equivalenceBuilder{
		oldView:             oldView,
		sa:                  sa,
		newView:             newView,
		minMatchLength:      minMatchLength,
		baseEquivalenceCost: baseEquivalenceCost,
	}
	b.run(minimumLength)
	return &EquivalenceMap{eqs: b.eqs}
}

func (b *equivalenceBuilder) run(minimumLength int) {
	n := b.newView.Size()
	dst := 0
	for dst < n {
		if !b.newView.IsToken(dst) {
			dst++
			continue
		}

		if len(b.eqs) > 0 {
			last := b.eqs[len(b.eqs)-1]
			if dst >= last.Dst && dst < last.DstEnd() {
				delta := last.Src - last.Dst
				// Step 2: if the most-recent equivalence subsumes
				// (dst, L) with the same src-dst delta, skip past it.
				src := dst + delta
				if src >= 0 && src < b.oldView.Size() {
					dst = last.DstEnd()
					continue
				}
			}
		}

		pattern := b.newView.RanksAsInt32()[dst:]
		pos, l := b.sa.Search(pattern)
		if l < b.minMatchLength {
			dst++
			continue
		}
		src := pos

		bestSrc, bestDst, bestLen, bestScore := b.extend(src, dst, l)
		if bestScore >= minimumLength {
			b.commit(bestSrc, bestDst, bestLen)
			dst = bestDst + bestLen
		} else {
			dst++
		}
	}

	sort.Slice(b.eqs, func(i, j int) bool { return b.eqs[i].Src < b.eqs[j].Src })
}

// extend performs the backward and forward extension of spec §4.F steps
// 3-4 starting from seed (src, dst, L), returning the best-scoring
// equivalence found and its score.
func (b *equivalenceBuilder) extend(src, dst, l int) (bestSrc, bestDst, bestLen, bestScore int) {
	baseScore := l - b.baseEquivalenceCost

	// Backward extension.
	backSrc, backDst, backScore := b.extendBackward(src, dst, baseScore)

	// Forward extension starts from the seed's end, independent of how
	// far backward extension moved, then the two deltas combine.
	fwdExtra, fwdScore := b.extendForward(src+l, dst+l, 0)

	length := (dst + l + fwdExtra) - backDst
	score := backScore + fwdScore
	return backSrc, backDst, length, score
}

// extendBackward walks left one token at a time from (src, dst), tracking
// a running score and penalty per spec §4.F step 3. It returns the
// leftmost (src, dst) reached at the best score, and that best score.
func (b *equivalenceBuilder) extendBackward(src, dst, baseScore int) (bestSrc, bestDst, bestScore int) {
	curSrc, curDst := src, dst
	score := baseScore
	penalty := 0
	bestSrc, bestDst, bestScore = src, dst, score

	var prevEq *Equivalence
	if len(b.eqs) > 0 {
		prevEq = &b.eqs[len(b.eqs)-1]
	}

	for curSrc > 0 && curDst > 0 {
		ns, nd := curSrc-1, curDst-1

		if prevEq != nil && nd >= prevEq.Dst && nd < prevEq.DstEnd() {
			// Overlaps the previous equivalence's dst range: accumulate
			// the previous equivalence's cached per-position score and
			// subtract the overlap score (spec step 3 special rule).
			idx := nd - prevEq.Dst
			if idx >= 0 && idx < len(b.previousScores) {
				score -= b.previousScores[idx]
			}
			penalty = 0
		} else {
			d := Distance(b.oldView, ns, b.newView, nd)
			if d == DistanceFatal {
				break
			}
			score += 1 - d
			penalty = maxInt(0, penalty-1) + d
			if penalty >= b.baseEquivalenceCost {
				break
			}
		}

		curSrc, curDst = ns, nd
		if score > bestScore {
			bestScore = score
			bestSrc, bestDst = curSrc, curDst
		}
	}
	return bestSrc, bestDst, bestScore
}

// extendForward walks right one token at a time from (src, dst), mirroring
// extendBackward. Returns the extra length (tokens plus trailing
// continuation bytes) included, and the best score reached.
func (b *equivalenceBuilder) extendForward(src, dst, baseScore int) (bestExtra, bestScore int) {
	curSrc, curDst := src, dst
	score := baseScore
	penalty := 0
	bestExtra, bestScore = 0, score

	oldN, newN := b.oldView.Size(), b.newView.Size()
	extra := 0
	for curSrc < oldN && curDst < newN {
		d := Distance(b.oldView, curSrc, b.newView, curDst)
		if d == DistanceFatal {
			break
		}
		score += 1 - d
		penalty = maxInt(0, penalty-1) + d
		extra++
		curSrc++
		curDst++
		// Continuation (non-token) bytes are always included once the
		// preceding token was (spec step 4).
		for curSrc < oldN && curDst < newN && !b.newView.IsToken(curDst) && !b.oldView.IsToken(curSrc) {
			extra++
			curSrc++
			curDst++
		}
		if penalty >= b.baseEquivalenceCost {
			break
		}
		if score > bestScore {
			bestScore = score
			bestExtra = extra
		}
	}
	return bestExtra, bestScore
}

// commit inserts equivalence (src, dst, length), shrinking or discarding
// the previous equivalence if their Dst ranges overlap (spec §4.F step 5).
func (b *equivalenceBuilder) commit(src, dst, length int) {
	// extendBackward can walk past the start of more than one previously
	// committed equivalence, since it isn't bounded by any particular
	// entry's start; pop every trailing entry the new one now precedes
	// before truncating the one immediately before it (spec §4.F step 5).
	for len(b.eqs) > 0 && dst < b.eqs[len(b.eqs)-1].Dst {
		b.eqs = b.eqs[:len(b.eqs)-1]
	}
	if len(b.eqs) > 0 {
		prev := &b.eqs[len(b.eqs)-1]
		if prev.DstEnd() > dst {
			truncSrc, truncLen, score := b.truncationScore(*prev, dst)
			if score >= b.minMatchLength {
				prev.Length = truncLen
				prev.Src = truncSrc
			} else {
				b.eqs = b.eqs[:len(b.eqs)-1]
			}
		}
	}
	eq := Equivalence{Src: src, Dst: dst, Length: length}
	b.eqs = append(b.eqs, eq)
	b.cachePreviousScores(eq)
}

// truncationScore computes the best-score truncation point of prev up to
// newDst, returning the truncated (src, length) and its score.
func (b *equivalenceBuilder) truncationScore(prev Equivalence, newDst int) (src, length, score int) {
	limit := newDst - prev.Dst
	if limit > prev.Length {
		limit = prev.Length
	}
	best := 0
	bestScore := 0
	cur := 0
	for i := 0; i < limit; i++ {
		d := Distance(b.oldView, prev.Src+i, b.newView, prev.Dst+i)
		if d == DistanceFatal {
			break
		}
		cur += 1 - d
		if cur > bestScore {
			bestScore = cur
			best = i + 1
		}
	}
	return prev.Src, best, bestScore
}

// cachePreviousScores recomputes the per-position running score of eq,
// consumed by a later equivalence's backward extension (spec step 3).
func (b *equivalenceBuilder) cachePreviousScores(eq Equivalence) {
	scores := make([]int, eq.Length)
	cur := 0
	for i := 0; i < eq.Length; i++ {
		d := Distance(b.oldView, eq.Src+i, b.newView, eq.Dst+i)
		if d == DistanceFatal {
			d = distanceMismatchRaw
		}
		cur += 1 - d
		scores[i] = cur
	}
	b.previousScores = scores
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ForwardMapper finds, for a monotonically non-decreasing sequence of src
// query positions, the equivalence (if any) covering each one. Valid only
// when the map is sorted by Src (spec §3: "Provides a forward mapper
// (src->equivalence)... valid only in the corresponding sort order and
// monotonic query sequence.").
type ForwardMapper struct {
	eqs []Equivalence // sorted by Src
	pos int
}

// NewForwardMapper creates a mapper over a Src-sorted equivalence slice.
func NewForwardMapper(eqsSortedBySrc []Equivalence) *ForwardMapper {
	return &ForwardMapper{eqs: eqsSortedBySrc}
}

// Find advances the internal cursor to the first equivalence whose Src
// range could contain src (src >= eq.Src), then returns every equivalence
// overlapping src via the visit callback, stopping when Src exceeds src.
// Used by label projection (spec §4.G step 6: "walk forward in the
// equivalence map to find all equivalences whose src range contains it").
func (m *ForwardMapper) Find(src int, visit func(Equivalence)) {
	for m.pos < len(m.eqs) && m.eqs[m.pos].SrcEnd() <= src {
		m.pos++
	}
	for i := m.pos; i < len(m.eqs) && m.eqs[i].Src <= src; i++ {
		if src < m.eqs[i].SrcEnd() {
			visit(m.eqs[i])
		}
	}
}

// BackwardMapper finds, for a dst query position, the equivalence (if
// any) covering it. Valid only when the map is sorted by Dst.
type BackwardMapper struct {
	eqs []Equivalence // sorted by Dst
	pos int
}

// NewBackwardMapper creates a mapper over a Dst-sorted equivalence slice.
func NewBackwardMapper(eqsSortedByDst []Equivalence) *BackwardMapper {
	return &BackwardMapper{eqs: eqsSortedByDst}
}

// Find returns the equivalence covering dst, if any, advancing an
// internal monotonic cursor.
func (m *BackwardMapper) Find(dst int) (Equivalence, bool) {
	for m.pos < len(m.eqs) && m.eqs[m.pos].DstEnd() <= dst {
		m.pos++
	}
	if m.pos < len(m.eqs) && m.eqs[m.pos].Dst <= dst && dst < m.eqs[m.pos].DstEnd() {
		return m.eqs[m.pos], true
	}
	return Equivalence{}, false
}

// SortByDst returns the map's equivalences sorted by Dst.
func (m *EquivalenceMap) SortByDst() []Equivalence {
	out := append([]Equivalence(nil), m.eqs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Dst < out[j].Dst })
	return out
}

// SortBySrc returns the map's equivalences sorted by Src.
func (m *EquivalenceMap) SortBySrc() []Equivalence {
	out := append([]Equivalence(nil), m.eqs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Src < out[j].Src })
	return out
}
