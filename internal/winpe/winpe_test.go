// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package winpe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalPE assembles a tiny PE32 image with one executable section and
// (optionally) one .reloc section, for use as test fixtures in place of the
// real sample binaries the teacher's tests exercised.
func buildMinimalPE(t *testing.T, relocEntries []uint16) []byte {
	t.Helper()

	const (
		dosSize     = 0x40
		ntOff       = uint32(dosSize)
		fileHdrSize = 20
		optHdrSize  = 0x60 + 16*8 // OptionalHeader32 + 16 data directories
		secHdrSize  = 40
	)

	numSections := uint16(1)
	if len(relocEntries) > 0 {
		numSections = 2
	}

	headerEnd := ntOff + 4 + fileHdrSize + optHdrSize + uint32(numSections)*secHdrSize
	codeOff := align(headerEnd, 0x200)
	codeSize := uint32(0x200)
	relocOff := codeOff + codeSize
	relocBlockSize := uint32(8 + 2*len(relocEntries))
	relocSize := align(relocBlockSize, 0x200)

	total := relocOff
	if numSections == 2 {
		total = relocOff + relocSize
	}
	buf := make([]byte, total)

	// DOS header.
	binary.LittleEndian.PutUint16(buf[0:], imageDOSSignature)
	binary.LittleEndian.PutUint32(buf[0x3c:], ntOff)

	// NT signature + file header.
	binary.LittleEndian.PutUint32(buf[ntOff:], imageNTSignature)
	fhOff := ntOff + 4
	binary.LittleEndian.PutUint16(buf[fhOff:], MachineI386)
	binary.LittleEndian.PutUint16(buf[fhOff+2:], numSections)
	binary.LittleEndian.PutUint16(buf[fhOff+16:], uint16(optHdrSize))

	// Optional header (PE32).
	ohOff := fhOff + fileHdrSize
	binary.LittleEndian.PutUint16(buf[ohOff:], OptionalHeader32Magic)
	binary.LittleEndian.PutUint32(buf[ohOff+28:], 0x400000) // ImageBase
	binary.LittleEndian.PutUint32(buf[ohOff+32:], 0x1000)   // SectionAlignment
	binary.LittleEndian.PutUint32(buf[ohOff+36:], 0x200)    // FileAlignment
	binary.LittleEndian.PutUint32(buf[ohOff+56:], total)    // SizeOfImage

	// Relocation data directory (index 5), at ohOff+96+5*8.
	ddOff := ohOff + 96 + 5*8
	if len(relocEntries) > 0 {
		binary.LittleEndian.PutUint32(buf[ddOff:], 0x2000) // VirtualAddress (reloc section RVA)
		binary.LittleEndian.PutUint32(buf[ddOff+4:], relocBlockSize)
	}

	// Section table.
	secOff := fhOff + fileHdrSize + optHdrSize
	putSection(buf, secOff, ".text", 0x1000, codeSize, codeOff, SectionMemExecute|SectionMemRead)
	if len(relocEntries) > 0 {
		putSection(buf, secOff+secHdrSize, ".reloc", 0x2000, relocSize, relocOff, 0x42000040)
		binary.LittleEndian.PutUint32(buf[relocOff:], 0x1000) // page RVA
		binary.LittleEndian.PutUint32(buf[relocOff+4:], relocBlockSize)
		for i, e := range relocEntries {
			binary.LittleEndian.PutUint16(buf[relocOff+8+uint32(i)*2:], e)
		}
	}

	return buf
}

func putSection(buf []byte, off uint32, name string, va, size, ptr uint32, chars uint32) {
	copy(buf[off:off+8], name)
	binary.LittleEndian.PutUint32(buf[off+8:], size)
	binary.LittleEndian.PutUint32(buf[off+12:], va)
	binary.LittleEndian.PutUint32(buf[off+16:], size)
	binary.LittleEndian.PutUint32(buf[off+20:], ptr)
	binary.LittleEndian.PutUint32(buf[off+36:], chars)
}

func align(v, a uint32) uint32 {
	if v%a == 0 {
		return v
	}
	return (v/a + 1) * a
}

func TestParseMinimalPE(t *testing.T) {
	data := buildMinimalPE(t, nil)
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Is64 {
		t.Fatalf("expected PE32, got PE32+")
	}
	if r.Machine != MachineI386 {
		t.Fatalf("Machine = %x, want I386", r.Machine)
	}
	if len(r.Sections) != 1 || r.Sections[0].Name != ".text" {
		t.Fatalf("Sections = %+v", r.Sections)
	}
	if !r.Sections[0].IsExecutable() {
		t.Fatalf(".text section not marked executable")
	}
}

func TestParseTooSmall(t *testing.T) {
	if _, err := Parse(bytes.Repeat([]byte{0}, 10)); err != ErrTooSmall {
		t.Fatalf("err = %v, want ErrTooSmall", err)
	}
}

func TestParseRelocDirectory(t *testing.T) {
	// Spec §4.B / §8 Scenario 6: an 8-byte reloc block header
	// {page_rva=0x1000, size=0x0C} followed by two type-3 entries at page
	// offsets 0x010 and 0x014 must produce two Reloc references whose
	// target RVA is 0x1000 + (entry & 0xFFF).
	entries := []uint16{
		uint16(3)<<12 | 0x010,
		uint16(3)<<12 | 0x014,
	}
	data := buildMinimalPE(t, entries)
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Relocations) != 2 {
		t.Fatalf("len(Relocations) = %d, want 2", len(r.Relocations))
	}
	want := []uint32{0x1010, 0x1014}
	for i, e := range r.Relocations {
		if e.Type != 3 {
			t.Errorf("entry %d: type = %d, want 3", i, e.Type)
		}
		if e.RVA != want[i] {
			t.Errorf("entry %d: RVA = %#x, want %#x", i, e.RVA, want[i])
		}
	}
}

func TestRVAOffsetRoundTrip(t *testing.T) {
	data := buildMinimalPE(t, nil)
	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	off, ok := r.RVAToOffset(0x1000 + 4)
	if !ok {
		t.Fatalf("RVAToOffset failed")
	}
	rva, ok := r.OffsetToRVA(off)
	if !ok || rva != 0x1000+4 {
		t.Fatalf("round trip: off=%d rva=%#x ok=%v", off, rva, ok)
	}
}
