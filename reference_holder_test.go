// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"reflect"
	"testing"
)

func TestReferenceHolderGetSortedByLocation(t *testing.T) {
	h := NewReferenceHolder(2)
	h.Insert(ReferenceTraits{Type: 0, Pool: 0, Width: 4}, []Reference{
		{Location: 0, Target: 100},
		{Location: 10, Target: 200},
	})
	h.Insert(ReferenceTraits{Type: 1, Pool: 0, Width: 2}, []Reference{
		{Location: 4, Target: 300},
		{Location: 10, Target: 400},
	})

	got := h.GetSortedByLocation()
	want := []TypedRef{
		{Type: 0, Ref: Reference{Location: 0, Target: 100}},
		{Type: 1, Ref: Reference{Location: 4, Target: 300}},
		{Type: 0, Ref: Reference{Location: 10, Target: 200}},
		{Type: 1, Ref: Reference{Location: 10, Target: 400}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestReferenceHolderGetSortedByType(t *testing.T) {
	h := NewReferenceHolder(2)
	h.Insert(ReferenceTraits{Type: 0, Pool: 0, Width: 4}, []Reference{{Location: 5, Target: 1}})
	h.Insert(ReferenceTraits{Type: 1, Pool: 0, Width: 4}, []Reference{{Location: 1, Target: 2}})

	got := h.GetSortedByType()
	want := []TypedRef{
		{Type: 0, Ref: Reference{Location: 5, Target: 1}},
		{Type: 1, Ref: Reference{Location: 1, Target: 2}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestReferenceHolderFind(t *testing.T) {
	h := NewReferenceHolder(1)
	h.Insert(ReferenceTraits{Type: 0, Pool: 0, Width: 4}, []Reference{
		{Location: 10, Target: 1},
		{Location: 20, Target: 2},
		{Location: 30, Target: 3},
	})

	if r, ok := h.Find(0, 25); !ok || r.Target != 2 {
		t.Errorf("Find(25): got (%v, %v), want target 2", r, ok)
	}
	if _, ok := h.Find(0, 5); ok {
		t.Errorf("Find(5): expected no reference at or before 5")
	}
	if r, ok := h.Find(0, 30); !ok || r.Target != 3 {
		t.Errorf("Find(30): got (%v, %v), want target 3", r, ok)
	}
}

func TestReferenceHolderPoolCount(t *testing.T) {
	h := NewReferenceHolder(2)
	h.Insert(ReferenceTraits{Type: 0, Pool: 0, Width: 4}, []Reference{{Location: 0, Target: 1}})
	h.Insert(ReferenceTraits{Type: 1, Pool: 2, Width: 4}, nil) // empty: shouldn't count toward PoolCount
	if got := h.PoolCount(); got != 1 {
		t.Errorf("PoolCount: got %d, want 1", got)
	}

	h.Insert(ReferenceTraits{Type: 1, Pool: 2, Width: 4}, []Reference{{Location: 1, Target: 2}})
	if got := h.PoolCount(); got != 3 {
		t.Errorf("PoolCount: got %d, want 3", got)
	}
}
