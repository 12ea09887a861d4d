// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ELF reference types (spec §4.B). x86 has one pool (reloc + abs32 +
// rel32, like Win32); ARM32 and AArch64 each get their own pool since
// their branch-encoding families never mix targets with x86's.
const (
	RefElfX86Reloc ReferenceType = iota
	RefElfX86Abs32
	RefElfX86Rel32

	RefElfArmA24
	RefElfArmT8
	RefElfArmT11
	RefElfArmT21
	RefElfArmT24

	RefElfAArch64Immd14
	RefElfAArch64Immd19
	RefElfAArch64Immd26
)

const (
	elfPoolX86   Pool = 0
	elfPoolArm   Pool = 0
	elfPoolA64   Pool = 0
)

// ELF identification and header constants needed for detection and
// section-table parsing.
const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7F, 'E', 'L', 'F'
	elfClass32                                  = 1
	elfClass64                                  = 2
	elfDataLSB                                   = 1

	etExec = 2
	etDyn  = 3

	emX86     = 3
	em386     = 3
	emARM     = 40
	emAArch64 = 183

	shtRel   = 9
	shtRela  = 4
	shtNobits = 8
	shtProgbits = 1

	shfExecinstr = 0x4

	rType386Relative = 8 // R_386_RELATIVE
)

var errElfTruncated = errors.New("zucchini: ELF file truncated")

type elfSection struct {
	Name   string
	Type   uint32
	Flags  uint64
	Addr   uint64
	Off    uint64
	Size   uint64
	Link   uint32
	Info   uint32
	EntSz  uint64
}

func (s elfSection) IsExec() bool { return s.Flags&shfExecinstr != 0 && s.Type != shtNobits }

func (s elfSection) ContainsAddr(addr uint64) bool {
	return s.Type != shtNobits && addr >= s.Addr && addr < s.Addr+s.Size
}

func (s elfSection) ContainsOff(off uint64) bool {
	return s.Type != shtNobits && off >= s.Off && off < s.Off+s.Size
}

type elfDisassembler struct {
	image    Image
	is64     bool
	machine  uint16
	sections []elfSection
	traits   []ReferenceTraits
	exeType  ExeType
}

func quickDetectElf(data []byte) bool {
	return len(data) >= 5 && data[0] == elfMagic0 && data[1] == elfMagic1 &&
		data[2] == elfMagic2 && data[3] == elfMagic3
}

func parseElf(data []byte) (Disassembler, error) {
	if len(data) < 20 {
		return nil, errElfTruncated
	}
	class := data[4]
	endian := data[5]
	if endian != elfDataLSB {
		return nil, errors.New("zucchini: only little-endian ELF is supported")
	}
	is64 := class == elfClass64
	if class != elfClass32 && class != elfClass64 {
		return nil, errors.New("zucchini: invalid ELF class")
	}

	var machine uint16
	var shoff uint64
	var shentsize, shnum, shstrndx uint16

	if is64 {
		var eh struct {
			_         [16]byte
			Type      uint16
			Machine   uint16
			Version   uint32
			Entry     uint64
			Phoff     uint64
			Shoff     uint64
			Flags     uint32
			Ehsize    uint16
			Phentsize uint16
			Phnum     uint16
			Shentsize uint16
			Shnum     uint16
			Shstrndx  uint16
		}
		if len(data) < 16+binarySize(&eh) {
			return nil, errElfTruncated
		}
		if err := binary.Read(bytes.NewReader(data[16:]), binary.LittleEndian, &eh); err != nil {
			return nil, err
		}
		machine = eh.Machine
		shoff, shentsize, shnum, shstrndx = eh.Shoff, eh.Shentsize, eh.Shnum, eh.Shstrndx
	} else {
		var eh struct {
			_         [16]byte
			Type      uint16
			Machine   uint16
			Version   uint32
			Entry     uint32
			Phoff     uint32
			Shoff     uint32
			Flags     uint32
			Ehsize    uint16
			Phentsize uint16
			Phnum     uint16
			Shentsize uint16
			Shnum     uint16
			Shstrndx  uint16
		}
		if len(data) < 16+binarySize(&eh) {
			return nil, errElfTruncated
		}
		if err := binary.Read(bytes.NewReader(data[16:]), binary.LittleEndian, &eh); err != nil {
			return nil, err
		}
		machine = eh.Machine
		shoff, shentsize, shnum, shstrndx = uint64(eh.Shoff), eh.Shentsize, eh.Shnum, eh.Shstrndx
	}

	if shoff == 0 || shnum == 0 {
		return nil, errors.New("zucchini: ELF has no section table")
	}
	if shoff+uint64(shentsize)*uint64(shnum) > uint64(len(data)) {
		return nil, errElfTruncated
	}

	sections := make([]elfSection, 0, shnum)
	nameOffs := make([]uint32, 0, shnum)
	for i := uint16(0); i < shnum; i++ {
		off := shoff + uint64(i)*uint64(shentsize)
		var s elfSection
		var nameOff uint32
		if is64 {
			var raw struct {
				Name      uint32
				Type      uint32
				Flags     uint64
				Addr      uint64
				Off       uint64
				Size      uint64
				Link      uint32
				Info      uint32
				AddrAlign uint64
				EntSize   uint64
			}
			if err := readStruct(data, off, &raw); err != nil {
				return nil, err
			}
			nameOff = raw.Name
			s = elfSection{Type: raw.Type, Flags: raw.Flags, Addr: raw.Addr, Off: raw.Off, Size: raw.Size, Link: raw.Link, Info: raw.Info, EntSz: raw.EntSize}
		} else {
			var raw struct {
				Name      uint32
				Type      uint32
				Flags     uint32
				Addr      uint32
				Off       uint32
				Size      uint32
				Link      uint32
				Info      uint32
				AddrAlign uint32
				EntSize   uint32
			}
			if err := readStruct(data, off, &raw); err != nil {
				return nil, err
			}
			nameOff = raw.Name
			s = elfSection{Type: raw.Type, Flags: uint64(raw.Flags), Addr: uint64(raw.Addr), Off: uint64(raw.Off), Size: uint64(raw.Size), Link: raw.Link, Info: raw.Info, EntSz: uint64(raw.EntSize)}
		}
		nameOffs = append(nameOffs, nameOff)
		sections = append(sections, s)
	}

	if int(shstrndx) < len(sections) {
		strtab := sections[shstrndx]
		if strtab.Off+strtab.Size <= uint64(len(data)) {
			strData := data[strtab.Off : strtab.Off+strtab.Size]
			for i := range sections {
				sections[i].Name = cStringAt(strData, nameOffs[i])
			}
		}
	}

	var exeType ExeType
	var traits []ReferenceTraits
	switch machine {
	case em386:
		exeType = ExeTypeElfX86
		traits = []ReferenceTraits{
			{Type: RefElfX86Reloc, Pool: elfPoolX86, Width: 4},
			{Type: RefElfX86Abs32, Pool: elfPoolX86, Width: 4},
			{Type: RefElfX86Rel32, Pool: elfPoolX86, Width: 4},
		}
	case emARM:
		exeType = ExeTypeElfArm32
		traits = []ReferenceTraits{
			{Type: RefElfArmA24, Pool: elfPoolArm, Width: 4},
			{Type: RefElfArmT8, Pool: elfPoolArm, Width: 2},
			{Type: RefElfArmT11, Pool: elfPoolArm, Width: 2},
			{Type: RefElfArmT21, Pool: elfPoolArm, Width: 4},
			{Type: RefElfArmT24, Pool: elfPoolArm, Width: 4},
		}
	case emAArch64:
		exeType = ExeTypeElfAArch64
		traits = []ReferenceTraits{
			{Type: RefElfAArch64Immd14, Pool: elfPoolA64, Width: 4},
			{Type: RefElfAArch64Immd19, Pool: elfPoolA64, Width: 4},
			{Type: RefElfAArch64Immd26, Pool: elfPoolA64, Width: 4},
		}
	default:
		return nil, errors.New("zucchini: unsupported ELF machine")
	}

	return &elfDisassembler{
		image:    NewImage(data),
		is64:     is64,
		machine:  machine,
		sections: sections,
		traits:   traits,
		exeType:  exeType,
	}, nil
}

func binarySize(v interface{}) int { return binary.Size(v) }

func readStruct(data []byte, off uint64, v interface{}) error {
	size := uint64(binary.Size(v))
	if off+size > uint64(len(data)) {
		return errElfTruncated
	}
	return binary.Read(bytes.NewReader(data[off:off+size]), binary.LittleEndian, v)
}

func cStringAt(data []byte, off uint32) string {
	if int(off) >= len(data) {
		return ""
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return string(data[off:])
	}
	return string(data[off : int(off)+end])
}

func (d *elfDisassembler) ExeType() ExeType                         { return d.exeType }
func (d *elfDisassembler) Image() Image                             { return d.image }
func (d *elfDisassembler) ReferenceTraitsTable() []ReferenceTraits  { return d.traits }
func (d *elfDisassembler) PoolOf(t ReferenceType) Pool              { return 0 }

func (d *elfDisassembler) Translator() RegionTranslator { return elfTranslator{d.sections} }

type elfTranslator struct{ sections []elfSection }

func (t elfTranslator) RVAToOffset(rva RVA) (Offset, bool) {
	for _, s := range t.sections {
		if s.ContainsAddr(uint64(rva)) {
			return Offset(uint64(rva) - s.Addr + s.Off), true
		}
	}
	return 0, false
}

func (t elfTranslator) OffsetToRVA(off Offset) (RVA, bool) {
	for _, s := range t.sections {
		if s.ContainsOff(uint64(off)) {
			return RVA(uint64(off) - s.Off + s.Addr), true
		}
	}
	return 0, false
}

func (d *elfDisassembler) Receptor(t ReferenceType, image []byte) ReferenceReceptor {
	switch d.exeType {
	case ExeTypeElfX86:
		return elfX86Receptor{image: image, typ: t, translator: elfTranslator{d.sections}}
	case ExeTypeElfArm32:
		return elfArmReceptor{image: image, typ: t}
	case ExeTypeElfAArch64:
		return elfAArch64Receptor{image: image, typ: t}
	}
	return noOpReceptor{}
}

// References extracts relocations, abs32, and rel32 for x86, or the
// branch/load encodings for ARM32/AArch64 (spec §4.B).
func (d *elfDisassembler) References() (*ReferenceHolder, error) {
	switch d.exeType {
	case ExeTypeElfX86:
		return d.referencesX86()
	case ExeTypeElfArm32:
		return d.referencesArm32()
	case ExeTypeElfAArch64:
		return d.referencesAArch64()
	}
	return NewReferenceHolder(0), nil
}

func (d *elfDisassembler) referencesX86() (*ReferenceHolder, error) {
	h := NewReferenceHolder(3)
	data := d.image.Bytes()
	t := elfTranslator{d.sections}

	var relocRefs []Reference
	abs32Locs := make(map[Offset]bool)
	for _, s := range d.sections {
		if s.Type != shtRel && s.Type != shtRela {
			continue
		}
		entSz := s.EntSz
		if entSz == 0 {
			if s.Type == shtRela {
				entSz = 12
			} else {
				entSz = 8
			}
		}
		for off := s.Off; off+entSz <= s.Off+s.Size && off+entSz <= uint64(len(data)); off += entSz {
			r_offset := binary.LittleEndian.Uint32(data[off:])
			r_info := binary.LittleEndian.Uint32(data[off+4:])
			relType := r_info & 0xff
			if relType != rType386Relative {
				continue
			}
			fileOff, ok := t.RVAToOffset(RVA(r_offset))
			if !ok {
				continue
			}
			relocRefs = append(relocRefs, Reference{Location: Offset(fileOff), Target: Offset(fileOff)})
			if int(fileOff)+4 <= len(data) {
				targetAddr := binary.LittleEndian.Uint32(data[fileOff:])
				if targetOff, ok := t.RVAToOffset(RVA(targetAddr)); ok {
					abs32Locs[Offset(fileOff)] = true
					_ = targetOff
				}
			}
		}
	}
	sortRefsByLocation(relocRefs)
	h.Insert(d.traits[RefElfX86Reloc], relocRefs)

	var abs32Refs []Reference
	for loc := range abs32Locs {
		if int(loc)+4 > len(data) {
			continue
		}
		targetAddr := binary.LittleEndian.Uint32(data[loc:])
		targetOff, ok := t.RVAToOffset(RVA(targetAddr))
		if !ok || markAliased(Offset(targetOff)) {
			continue
		}
		abs32Refs = append(abs32Refs, Reference{Location: loc, Target: Offset(targetOff)})
	}
	sortRefsByLocation(abs32Refs)
	h.Insert(d.traits[RefElfX86Abs32], abs32Refs)

	var rel32Refs []Reference
	for _, s := range d.sections {
		if !s.IsExec() {
			continue
		}
		lo := Offset(s.Off)
		hi := Offset(s.Off + s.Size)
		if int(hi) > len(data) {
			hi = Offset(len(data))
		}
		if int(lo) >= len(data) || lo >= hi {
			continue
		}
		cands := scanRel32X86(data[lo:hi], lo, len(data), lo, hi, abs32Locs)
		for _, c := range cands {
			rel32Refs = append(rel32Refs, Reference{Location: c.location, Target: c.target})
		}
	}
	sortRefsByLocation(rel32Refs)
	h.Insert(d.traits[RefElfX86Rel32], rel32Refs)

	return h, nil
}

type elfX86Receptor struct {
	image      []byte
	typ        ReferenceType
	translator elfTranslator
}

func (r elfX86Receptor) Receive(ref Reference) error {
	loc := int(ref.Location)
	switch r.typ {
	case RefElfX86Abs32:
		if loc+4 > len(r.image) {
			return ErrOutsideImage
		}
		// ref.Target is a file offset; the field stores an absolute
		// virtual address (RVA, ELF images aren't rebased), so convert
		// back before writing.
		rva, ok := r.translator.OffsetToRVA(ref.Target)
		if !ok {
			return ErrOutsideImage
		}
		binary.LittleEndian.PutUint32(r.image[loc:], rva)
	case RefElfX86Rel32:
		if loc+4 > len(r.image) {
			return ErrOutsideImage
		}
		disp := int32(ref.Target) - int32(loc) - 4
		binary.LittleEndian.PutUint32(r.image[loc:], uint32(disp))
	}
	return nil
}

// armSectionMode estimates whether a section is ARM-mode or Thumb2-mode
// code (spec §4.B: "if >= 40% of aligned 4-byte words in the section
// exhibit the unconditional-AL nibble 0xE, the section is classed
// ARM-mode, else Thumb2").
func armSectionMode(data []byte) bool {
	n := len(data) / 4
	if n == 0 {
		return true
	}
	alCount := 0
	for i := 0; i < n; i++ {
		word := data[i*4 : i*4+4]
		top := word[3] >> 4
		if top == 0xE {
			alCount++
		}
	}
	return float64(alCount)/float64(n) >= 0.40
}

func (d *elfDisassembler) referencesArm32() (*ReferenceHolder, error) {
	h := NewReferenceHolder(5)
	data := d.image.Bytes()

	var a24, t8, t11, t21, t24 []Reference

	for _, s := range d.sections {
		if !s.IsExec() {
			continue
		}
		lo := int(s.Off)
		hi := lo + int(s.Size)
		if hi > len(data) {
			hi = len(data)
		}
		if lo >= hi {
			continue
		}
		isARM := armSectionMode(data[lo:hi])
		base := int64(s.Off) - int64(s.Addr)

		if isARM {
			for off := lo; off+4 <= hi; off += 4 {
				word := binary.LittleEndian.Uint32(data[off:])
				cond := word >> 28
				if cond == 0xF {
					continue
				}
				// B/BL: bits 27:25 = 101.
				if (word>>25)&0x7 == 0x5 {
					imm24 := int32(word & 0xFFFFFF)
					if imm24&0x800000 != 0 {
						imm24 |= ^int32(0xFFFFFF)
					}
					addr := int64(off) - base
					target := addr + 8 + int64(imm24)*4
					if t := int64(target) + base; t >= 0 && t < int64(len(data)) {
						a24 = append(a24, Reference{Location: Offset(off), Target: Offset(t)})
					}
				}
			}
		} else {
			for off := lo; off+2 <= hi; off += 2 {
				half := binary.LittleEndian.Uint16(data[off:])
				// T8: conditional branch, 1101cccc xxxxxxxx (cond != 1110, 1111)
				if half&0xF000 == 0xD000 {
					cond := (half >> 8) & 0xF
					if cond != 0xE && cond != 0xF {
						imm8 := int32(int8(half & 0xFF))
						addr := int64(off) - base
						target := addr + 4 + int64(imm8)*2
						if t := target + base; t >= 0 && t < int64(len(data)) {
							t8 = append(t8, Reference{Location: Offset(off), Target: Offset(t)})
						}
					}
					continue
				}
				// T11: unconditional short branch, 11100xxxxxxxxxxx
				if half&0xF800 == 0xE000 {
					imm11 := int32(half & 0x7FF)
					if imm11&0x400 != 0 {
						imm11 |= ^int32(0x7FF)
					}
					addr := int64(off) - base
					target := addr + 4 + int64(imm11)*2
					if t := target + base; t >= 0 && t < int64(len(data)) {
						t11 = append(t11, Reference{Location: Offset(off), Target: Offset(t)})
					}
					continue
				}
				// Thumb2 32-bit B/BL long forms begin with a first half-word
				// of 11110xxxxxxxxxxx; a second half-word starting with 11
				// is a T24 branch, and one starting with 10x0 is a T21.
				if off+4 <= hi && half&0xF800 == 0xF000 {
					half2 := binary.LittleEndian.Uint16(data[off+2:])
					if half2&0xC000 == 0xC000 {
						// T24: unconditional BL/B.W, J1=1,J2=1 simple encoding.
						s1 := uint32(half&0x0400) != 0
						imm10 := uint32(half & 0x3FF)
						j1 := (half2 >> 13) & 1
						j2 := (half2 >> 11) & 1
						imm11 := uint32(half2 & 0x7FF)
						i1 := uint32(1)
						i2 := uint32(1)
						if s1 {
							i1 = ^j1 & 1 ^ 1
							i2 = ^j2 & 1 ^ 1
						}
						imm32 := (imm10 << 12) | (imm11 << 1)
						imm32 |= i1 << 23
						imm32 |= i2 << 22
						signed := int32(imm32)
						if s1 {
							signed |= ^int32(0xFFFFFF)
						}
						addr := int64(off) - base
						target := addr + 4 + int64(signed)
						if t := target + base; t >= 0 && t < int64(len(data)) {
							t24 = append(t24, Reference{Location: Offset(off), Target: Offset(t)})
						}
						off += 2 // consume second half-word
					} else if half2&0xD000 == 0x8000 {
						// T21: Thumb2 conditional long branch B<c>.W.
						imm6 := uint32(half & 0x3F)
						j1 := (half2 >> 13) & 1
						j2 := (half2 >> 11) & 1
						imm11 := uint32(half2 & 0x7FF)
						s1 := uint32(half&0x0400) != 0
						imm32 := (imm6 << 12) | (j1 << 19) | (j2 << 18) | (imm11 << 1)
						signed := int32(imm32)
						if s1 {
							signed |= ^int32(0x1FFFFF)
						}
						addr := int64(off) - base
						target := addr + 4 + int64(signed)
						if t := target + base; t >= 0 && t < int64(len(data)) {
							t21 = append(t21, Reference{Location: Offset(off), Target: Offset(t)})
						}
						off += 2
					}
				}
			}
		}
	}

	sortRefsByLocation(a24)
	sortRefsByLocation(t8)
	sortRefsByLocation(t11)
	sortRefsByLocation(t21)
	sortRefsByLocation(t24)
	h.Insert(d.traits[RefElfArmA24], a24)
	h.Insert(d.traits[RefElfArmT8], t8)
	h.Insert(d.traits[RefElfArmT11], t11)
	h.Insert(d.traits[RefElfArmT21], t21)
	h.Insert(d.traits[RefElfArmT24], t24)
	return h, nil
}

type elfArmReceptor struct {
	image []byte
	typ   ReferenceType
}

func (r elfArmReceptor) Receive(ref Reference) error {
	loc := int(ref.Location)
	switch r.typ {
	case RefElfArmA24:
		if loc+4 > len(r.image) {
			return ErrOutsideImage
		}
		word := binary.LittleEndian.Uint32(r.image[loc:])
		disp := (int32(ref.Target) - int32(loc) - 8) / 4
		word = (word &^ 0xFFFFFF) | (uint32(disp) & 0xFFFFFF)
		binary.LittleEndian.PutUint32(r.image[loc:], word)
	case RefElfArmT8:
		if loc+2 > len(r.image) {
			return ErrOutsideImage
		}
		half := binary.LittleEndian.Uint16(r.image[loc:])
		disp := (int32(ref.Target) - int32(loc) - 4) / 2
		half = (half &^ 0xFF) | (uint16(disp) & 0xFF)
		binary.LittleEndian.PutUint16(r.image[loc:], half)
	case RefElfArmT11:
		if loc+2 > len(r.image) {
			return ErrOutsideImage
		}
		half := binary.LittleEndian.Uint16(r.image[loc:])
		disp := (int32(ref.Target) - int32(loc) - 4) / 2
		half = (half &^ 0x7FF) | (uint16(disp) & 0x7FF)
		binary.LittleEndian.PutUint16(r.image[loc:], half)
	case RefElfArmT21:
		if loc+4 > len(r.image) {
			return ErrOutsideImage
		}
		half1 := binary.LittleEndian.Uint16(r.image[loc:])
		half2 := binary.LittleEndian.Uint16(r.image[loc+2:])
		disp := int32(ref.Target) - int32(loc) - 4
		half1, half2 = mixArmT21(half1, half2, disp)
		binary.LittleEndian.PutUint16(r.image[loc:], half1)
		binary.LittleEndian.PutUint16(r.image[loc+2:], half2)
	case RefElfArmT24:
		if loc+4 > len(r.image) {
			return ErrOutsideImage
		}
		half1 := binary.LittleEndian.Uint16(r.image[loc:])
		half2 := binary.LittleEndian.Uint16(r.image[loc+2:])
		disp := int32(ref.Target) - int32(loc) - 4
		half1, half2 = mixArmT24(half1, half2, disp)
		binary.LittleEndian.PutUint16(r.image[loc:], half1)
		binary.LittleEndian.PutUint16(r.image[loc+2:], half2)
	}
	return nil
}

func (d *elfDisassembler) referencesAArch64() (*ReferenceHolder, error) {
	h := NewReferenceHolder(3)
	data := d.image.Bytes()

	var immd14, immd19, immd26 []Reference

	for _, s := range d.sections {
		if !s.IsExec() {
			continue
		}
		lo := int(s.Off)
		hi := lo + int(s.Size)
		if hi > len(data) {
			hi = len(data)
		}
		base := int64(s.Off) - int64(s.Addr)
		for off := lo; off+4 <= hi; off += 4 {
			word := binary.LittleEndian.Uint32(data[off:])
			addr := int64(off) - base

			switch {
			case word&0x7F000000 == 0x36000000 || word&0x7F000000 == 0x37000000:
				// TBZ/TBNZ: imm14 at bits [18:5].
				imm14 := int32((word >> 5) & 0x3FFF)
				if imm14&0x2000 != 0 {
					imm14 |= ^int32(0x3FFF)
				}
				target := addr + int64(imm14)*4
				if t := target + base; t >= 0 && t < int64(len(data)) {
					immd14 = append(immd14, Reference{Location: Offset(off), Target: Offset(t)})
				}
			case word&0x7E000000 == 0x34000000:
				// CBZ/CBNZ: imm19 at bits [23:5].
				imm19 := int32((word >> 5) & 0x7FFFF)
				if imm19&0x40000 != 0 {
					imm19 |= ^int32(0x7FFFF)
				}
				target := addr + int64(imm19)*4
				if t := target + base; t >= 0 && t < int64(len(data)) {
					immd19 = append(immd19, Reference{Location: Offset(off), Target: Offset(t)})
				}
			case word&0xFF000010 == 0x54000000:
				// B.cond: imm19 at bits [23:5].
				imm19 := int32((word >> 5) & 0x7FFFF)
				if imm19&0x40000 != 0 {
					imm19 |= ^int32(0x7FFFF)
				}
				target := addr + int64(imm19)*4
				if t := target + base; t >= 0 && t < int64(len(data)) {
					immd19 = append(immd19, Reference{Location: Offset(off), Target: Offset(t)})
				}
			case word&0xFC000000 == 0x14000000 || word&0xFC000000 == 0x94000000:
				// B / BL: imm26 at bits [25:0].
				imm26 := int32(word & 0x3FFFFFF)
				if imm26&0x2000000 != 0 {
					imm26 |= ^int32(0x3FFFFFF)
				}
				target := addr + int64(imm26)*4
				if t := target + base; t >= 0 && t < int64(len(data)) {
					immd26 = append(immd26, Reference{Location: Offset(off), Target: Offset(t)})
				}
			}
		}
	}

	sortRefsByLocation(immd14)
	sortRefsByLocation(immd19)
	sortRefsByLocation(immd26)
	h.Insert(d.traits[RefElfAArch64Immd14], immd14)
	h.Insert(d.traits[RefElfAArch64Immd19], immd19)
	h.Insert(d.traits[RefElfAArch64Immd26], immd26)
	return h, nil
}

type elfAArch64Receptor struct {
	image []byte
	typ   ReferenceType
}

func (r elfAArch64Receptor) Receive(ref Reference) error {
	loc := int(ref.Location)
	if loc+4 > len(r.image) {
		return ErrOutsideImage
	}
	word := binary.LittleEndian.Uint32(r.image[loc:])
	switch r.typ {
	case RefElfAArch64Immd14:
		disp := (int32(ref.Target) - int32(loc)) / 4
		word = (word &^ (0x3FFF << 5)) | ((uint32(disp) & 0x3FFF) << 5)
	case RefElfAArch64Immd19, RefElfAArch64Immd26:
		if r.typ == RefElfAArch64Immd19 {
			disp := (int32(ref.Target) - int32(loc)) / 4
			word = (word &^ (0x7FFFF << 5)) | ((uint32(disp) & 0x7FFFF) << 5)
		} else {
			disp := (int32(ref.Target) - int32(loc)) / 4
			word = (word &^ 0x3FFFFFF) | (uint32(disp) & 0x3FFFFFF)
		}
	}
	binary.LittleEndian.PutUint32(r.image[loc:], word)
	return nil
}
