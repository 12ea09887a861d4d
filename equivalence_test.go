// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "testing"

func TestForwardMapperFindsCoveringEquivalence(t *testing.T) {
	eqs := []Equivalence{
		{Src: 0, Dst: 0, Length: 10},
		{Src: 20, Dst: 50, Length: 5},
	}
	m := NewForwardMapper(eqs)

	var got []Equivalence
	m.Find(5, func(e Equivalence) { got = append(got, e) })
	if len(got) != 1 || got[0] != eqs[0] {
		t.Fatalf("Find(5): got %v, want [%v]", got, eqs[0])
	}

	got = nil
	m.Find(15, func(e Equivalence) { got = append(got, e) })
	if len(got) != 0 {
		t.Fatalf("Find(15): got %v, want none (gap between equivalences)", got)
	}

	got = nil
	m.Find(22, func(e Equivalence) { got = append(got, e) })
	if len(got) != 1 || got[0] != eqs[1] {
		t.Fatalf("Find(22): got %v, want [%v]", got, eqs[1])
	}
}

func TestBackwardMapperFindsCoveringEquivalence(t *testing.T) {
	eqs := []Equivalence{
		{Src: 0, Dst: 0, Length: 10},
		{Src: 20, Dst: 50, Length: 5},
	}
	m := NewBackwardMapper(eqs)

	if e, ok := m.Find(5); !ok || e != eqs[0] {
		t.Fatalf("Find(5): got (%v, %v), want (%v, true)", e, ok, eqs[0])
	}
	if _, ok := m.Find(15); ok {
		t.Fatalf("Find(15): expected no covering equivalence")
	}
	if e, ok := m.Find(52); !ok || e != eqs[1] {
		t.Fatalf("Find(52): got (%v, %v), want (%v, true)", e, ok, eqs[1])
	}
}

func TestCommitPopsAllPrecedingDstEquivalences(t *testing.T) {
	oldData := []byte("abcdefghij")
	newData := []byte("abcdefghij")
	oldView := NewEncodedView(oldData, NewReferenceHolder(0), 0)
	newView := NewEncodedView(newData, NewReferenceHolder(0), 0)

	b := &equivalenceBuilder{
		oldView:             oldView,
		newView:             newView,
		minMatchLength:      0,
		baseEquivalenceCost: 8,
	}
	// Three previously committed equivalences; the next commit's dst (1)
	// precedes the last two entirely. A correct cascading pop must remove
	// both of them, not just the most recently committed one.
	b.eqs = []Equivalence{
		{Src: 0, Dst: 0, Length: 1},
		{Src: 2, Dst: 2, Length: 2},
		{Src: 6, Dst: 6, Length: 2},
	}

	b.commit(1, 1, 2)

	for _, eq := range b.eqs {
		if eq.Dst >= 2 && eq.Src != 1 {
			t.Fatalf("stale trailing equivalence survived cascading pop: %v", b.eqs)
		}
	}
	if len(b.eqs) == 0 || b.eqs[len(b.eqs)-1].Dst != 1 {
		t.Fatalf("new equivalence not committed: %v", b.eqs)
	}
}

func TestEquivalenceMapSortOrders(t *testing.T) {
	m := &EquivalenceMap{eqs: []Equivalence{
		{Src: 20, Dst: 0, Length: 5},
		{Src: 0, Dst: 20, Length: 5},
	}}

	byDst := m.SortByDst()
	if byDst[0].Dst != 0 || byDst[1].Dst != 20 {
		t.Errorf("SortByDst: got %v", byDst)
	}

	bySrc := m.SortBySrc()
	if bySrc[0].Src != 0 || bySrc[1].Src != 20 {
		t.Errorf("SortBySrc: got %v", bySrc)
	}
}
