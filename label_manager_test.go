// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"reflect"
	"testing"
)

func TestOrderedLabelManagerAllocateAndAssign(t *testing.T) {
	refs := []Reference{
		{Location: 0, Target: 30},
		{Location: 4, Target: 10},
		{Location: 8, Target: 30}, // duplicate target
	}

	m := NewOrderedLabelManager()
	m.AllocateAndAssign(refs)

	if got, want := m.Labels(), []Offset{10, 30}; !reflect.DeepEqual(got, want) {
		t.Fatalf("labels: got %v, want %v", got, want)
	}

	wantTargets := []uint32{1, 0, 1}
	for i, r := range refs {
		if !IsMarked(r.Target) {
			t.Fatalf("ref %d: target %d not marked", i, r.Target)
		}
		if Unmark(r.Target) != wantTargets[i] {
			t.Errorf("ref %d: got index %d, want %d", i, Unmark(r.Target), wantTargets[i])
		}
	}

	m.Unassign(refs)
	wantUnassigned := []Offset{30, 10, 30}
	for i, r := range refs {
		if r.Target != wantUnassigned[i] {
			t.Errorf("ref %d: unassigned to %d, want %d", i, r.Target, wantUnassigned[i])
		}
	}
}

func TestUnorderedLabelManagerDigestFillsHolesBeforeExtending(t *testing.T) {
	m := NewUnorderedLabelManager()
	m.Init([]Offset{Offset(UnusedIndex), 100, Offset(UnusedIndex)})

	m.Digest([]Offset{200, 300, 400})

	got := m.Labels()
	want := []Offset{200, 100, 300, 400}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUnorderedLabelManagerAssignAfterDigest(t *testing.T) {
	m := NewUnorderedLabelManager()
	m.Init([]Offset{Offset(UnusedIndex), 100})
	m.Digest([]Offset{200})

	refs := []Reference{{Location: 0, Target: 200}, {Location: 4, Target: 999}}
	m.Assign(refs)

	if !IsMarked(refs[0].Target) || Unmark(refs[0].Target) != 0 {
		t.Errorf("ref 0: got %v, want marked index 0", refs[0].Target)
	}
	if IsMarked(refs[1].Target) {
		t.Errorf("ref 1: target 999 has no label, should stay unmarked")
	}
}
