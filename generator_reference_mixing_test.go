// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"encoding/binary"
	"testing"
)

func TestMixedReferenceBytesPreservesOpcodeOnAddressOnlyChange(t *testing.T) {
	// Same T24 instruction, only its displacement changed (address
	// relocation). Mixing new opcode bits with the old displacement
	// should reproduce the old bytes exactly, so a reference-aware
	// raw-delta pass sees no difference here.
	oldHalf1, oldHalf2 := uint16(0xF000), uint16(0xD000)
	oldDisp := decodeArmT24Disp(oldHalf1, oldHalf2)
	newHalf1, newHalf2 := mixArmT24(oldHalf1, oldHalf2, oldDisp+8)

	oldWord := make([]byte, 4)
	binary.LittleEndian.PutUint16(oldWord, oldHalf1)
	binary.LittleEndian.PutUint16(oldWord[2:], oldHalf2)
	newWord := make([]byte, 4)
	binary.LittleEndian.PutUint16(newWord, newHalf1)
	binary.LittleEndian.PutUint16(newWord[2:], newHalf2)

	mixed, ok := mixedReferenceBytes(RefElfArmT24, oldWord, newWord)
	if !ok {
		t.Fatalf("mixedReferenceBytes: ok=false for T24")
	}
	for i, b := range mixed {
		if b != oldWord[i] {
			t.Fatalf("mixed byte %d: got %#x, want %#x (old bytes, no opcode change)", i, b, oldWord[i])
		}
	}
}

func TestMixedReferenceBytesSurfacesGenuineOpcodeChange(t *testing.T) {
	oldHalf1, oldHalf2 := uint16(0xF000), uint16(0xD000)
	oldDisp := decodeArmT24Disp(oldHalf1, oldHalf2)
	// Flip the condition-independent opcode bits (outside the immediate
	// field) on the new side, keeping the same displacement.
	newHalf1 := oldHalf1 | 0x0800
	newHalf1, newHalf2 := mixArmT24(newHalf1, oldHalf2, oldDisp)

	oldWord := make([]byte, 4)
	binary.LittleEndian.PutUint16(oldWord, oldHalf1)
	binary.LittleEndian.PutUint16(oldWord[2:], oldHalf2)
	newWord := make([]byte, 4)
	binary.LittleEndian.PutUint16(newWord, newHalf1)
	binary.LittleEndian.PutUint16(newWord[2:], newHalf2)

	mixed, ok := mixedReferenceBytes(RefElfArmT24, oldWord, newWord)
	if !ok {
		t.Fatalf("mixedReferenceBytes: ok=false for T24")
	}
	if mixed[0] == oldWord[0] && mixed[1] == oldWord[1] {
		t.Fatalf("opcode-level change not surfaced: mixed=%v old=%v", mixed, oldWord)
	}
}

func TestMixedReferenceBytesUnsupportedTypeSkips(t *testing.T) {
	if _, ok := mixedReferenceBytes(RefElfArmA24, make([]byte, 4), make([]byte, 4)); ok {
		t.Fatalf("mixedReferenceBytes: expected ok=false for a type with no mixer")
	}
}

// TestEmitSkipsRawDeltaAcrossRelocatedReference exercises the raw-delta
// loop directly: an x86 equivalence whose only byte difference is inside
// an abs32 reference (pure address relocation, no other change) must
// produce zero raw-delta entries, since the reference-delta pass corrects
// it on apply.
func TestEmitSkipsRawDeltaAcrossRelocatedReference(t *testing.T) {
	oldBytes := []byte{0x90, 0x90, 0xAA, 0xBB, 0xCC, 0xDD, 0x90}
	newBytes := []byte{0x90, 0x90, 0x11, 0x22, 0x33, 0x44, 0x90}

	oldHolder := NewReferenceHolder(1)
	oldHolder.Insert(ReferenceTraits{Type: 0, Pool: 0, Width: 4}, []Reference{{Location: 2, Target: 0xAABBCCDD}})
	newHolder := NewReferenceHolder(1)
	newHolder.Insert(ReferenceTraits{Type: 0, Pool: 0, Width: 4}, []Reference{{Location: 2, Target: 0x11223344}})

	p := &elementPipeline{
		oldHolder: oldHolder,
		newHolder: newHolder,
	}
	p.oldView = NewEncodedView(oldBytes, oldHolder, 1)
	p.newView = NewEncodedView(newBytes, newHolder, 1)

	sink := NewSinkStreamSet()
	p.finalMap = &EquivalenceMap{eqs: []Equivalence{{Src: 0, Dst: 0, Length: len(oldBytes)}}}
	p.extraLabels = [][]Offset{}
	p.poolCount = 0

	p.oldDis = &noOpDisassembler{image: NewImage(oldBytes)}
	p.newDis = &noOpDisassembler{image: NewImage(newBytes)}

	if err := p.emit(sink); err != nil {
		t.Fatalf("emit: %v", err)
	}

	rawSkip := sink.Stream(StreamRawDeltaSkip)
	if len(rawSkip.Bytes()) != 0 {
		t.Fatalf("expected no raw-delta entries for a purely relocated reference, got %d bytes", len(rawSkip.Bytes()))
	}
}
