// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"reflect"
	"testing"
)

func TestComputeSeparators(t *testing.T) {
	tests := []struct {
		name    string
		matches []Match
		newLen  int
		want    []Separator
	}{
		{
			name:    "no matches",
			matches: nil,
			newLen:  10,
			want:    []Separator{{Offset: 0, Length: 10}},
		},
		{
			name:    "one match in the middle",
			matches: []Match{{New: Element{Offset: 4, Length: 2}}},
			newLen:  10,
			want: []Separator{
				{Offset: 0, Length: 4},
				{Offset: 6, Length: 4},
			},
		},
		{
			name:    "match covers the whole image",
			matches: []Match{{New: Element{Offset: 0, Length: 10}}},
			newLen:  10,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSeparators(tt.matches, tt.newLen)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSizeTooDifferent(t *testing.T) {
	tests := []struct {
		a, b int
		want bool
	}{
		{100, 100, false},
		{100, 150, false},      // ratio within 2x
		{100, 201, false},      // ratio exceeded, but diff (101) under 2MiB
		{100, 101 + 1<<21, true}, // ratio exceeded and diff over 2MiB
		{0, 0, false},
		{0, 5, true},
	}
	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			got := sizeTooDifferent(tt.a, tt.b, 2, 2*1024*1024)
			if got != tt.want {
				t.Errorf("sizeTooDifferent(%d, %d): got %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseImposedMatchesDropsIdenticalPairs(t *testing.T) {
	old := []byte("AAAA")
	newData := []byte("AAAA")
	matches, identical, err := ParseImposedMatches("0+4=0+4", old, newData, nil)
	if err != nil {
		t.Fatalf("ParseImposedMatches failed: %v", err)
	}
	if identical != 1 {
		t.Errorf("identical count: got %d, want 1", identical)
	}
	if len(matches) != 0 {
		t.Errorf("matches: got %v, want none", matches)
	}
}

func TestParseImposedMatchesRejectsOverlap(t *testing.T) {
	old := []byte("AAAABBBB")
	newData := []byte("BBBBAAAA")
	_, _, err := ParseImposedMatches("0+4=0+4,4+4=2+4", old, newData, func(string) {})
	if err != ErrImposedOverlap {
		t.Errorf("got %v, want ErrImposedOverlap", err)
	}
}

func TestParseImposedMatchesRejectsBounds(t *testing.T) {
	old := []byte("AAAA")
	newData := []byte("BBBB")
	_, _, err := ParseImposedMatches("0+100=0+4", old, newData, nil)
	if err != ErrImposedBounds {
		t.Errorf("got %v, want ErrImposedBounds", err)
	}
}

func TestApplyMultiDexRuleDropsAllWhenMoreThanOne(t *testing.T) {
	m := &EnsembleMatcher{matches: []Match{
		{New: Element{ExeType: ExeTypeDex}},
		{New: Element{ExeType: ExeTypeDex}},
		{New: Element{ExeType: ExeTypeWin32X86}},
	}}
	m.applyMultiDexRule()
	if len(m.matches) != 1 || m.matches[0].New.ExeType != ExeTypeWin32X86 {
		t.Errorf("got %v, want only the non-DEX match", m.matches)
	}
}
