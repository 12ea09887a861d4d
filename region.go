// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

// RegionTranslator is a format-aware RVA<->file-offset mapping, modeled on
// the PE, ELF, and DEX disassemblers' own section/segment tables (spec
// §4.B). Formats with no notion of a virtual address space (DEX, and the
// no-op disassembler) use an identity translator.
type RegionTranslator interface {
	// RVAToOffset translates a relative virtual address to a file offset.
	// ok is false when rva does not land in any mapped region.
	RVAToOffset(rva RVA) (off Offset, ok bool)
	// OffsetToRVA is the inverse of RVAToOffset.
	OffsetToRVA(off Offset) (rva RVA, ok bool)
}

// identityTranslator maps offsets and RVAs 1:1, for formats without a
// distinct virtual address space.
type identityTranslator struct{ size Offset }

func (t identityTranslator) RVAToOffset(rva RVA) (Offset, bool) {
	if Offset(rva) >= t.size {
		return 0, false
	}
	return Offset(rva), true
}

func (t identityTranslator) OffsetToRVA(off Offset) (RVA, bool) {
	if off >= t.size {
		return 0, false
	}
	return RVA(off), true
}

// NewIdentityTranslator returns a RegionTranslator for formats with no
// virtual address space distinct from file offsets.
func NewIdentityTranslator(size Offset) RegionTranslator {
	return identityTranslator{size: size}
}
