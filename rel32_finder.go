// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "encoding/binary"

// rel32Candidate is a heuristically-discovered rel32 reference awaiting
// validation against section/image bounds and the abs32 taboo set (spec
// §4.B).
type rel32Candidate struct {
	location Offset // offset of the 4-byte displacement field
	target   Offset // computed absolute target file offset
}

// rel32Opcode classifies which x86/x64 opcode matched at a given
// position, used only to decide whether a cross-section target is
// permitted (RIP-relative loads may legitimately target data sections;
// call/jump/Jcc may not).
type rel32Opcode int

const (
	rel32OpCallJmp rel32Opcode = iota // E8/E9, 5 bytes total
	rel32OpJcc                        // 0F 8x, 6 bytes total
	rel32OpRIP                         // x64 RIP-relative, 6 bytes total (opcode+ModRM+disp32)
)

// scanRel32X86 heuristically scans code for x86 rel32 references: E8/E9
// (5-byte rel32) and 0F 8x (6-byte Jcc rel32), per spec §4.B.
func scanRel32X86(code []byte, codeStart Offset, imageLen int, sectionLo, sectionHi Offset, abs32Locs map[Offset]bool) []rel32Candidate {
	return scanRel32Common(code, codeStart, imageLen, sectionLo, sectionHi, abs32Locs, false)
}

// scanRel32X64 additionally recognizes RIP-relative FF 15, FF 25, and
// 89/8B/8D with ModRM MM=00,MMM=101 (spec §4.B), which may legitimately
// target outside the containing section (data references).
func scanRel32X64(code []byte, codeStart Offset, imageLen int, sectionLo, sectionHi Offset, abs32Locs map[Offset]bool) []rel32Candidate {
	return scanRel32Common(code, codeStart, imageLen, sectionLo, sectionHi, abs32Locs, true)
}

func scanRel32Common(code []byte, codeStart Offset, imageLen int, sectionLo, sectionHi Offset, abs32Locs map[Offset]bool, x64 bool) []rel32Candidate {
	var out []rel32Candidate
	n := len(code)

	inTaboo := func(fieldLoc Offset, width int) bool {
		for k := Offset(0); k < Offset(width); k++ {
			if abs32Locs[fieldLoc+k] {
				return true
			}
		}
		return false
	}

	i := 0
	for i < n {
		op := code[i]

		switch {
		case op == 0xE8 || op == 0xE9:
			if i+5 > n {
				i++
				continue
			}
			fieldLoc := codeStart + Offset(i+1)
			if !inTaboo(fieldLoc, 4) {
				disp := int32(binary.LittleEndian.Uint32(code[i+1 : i+5]))
				target := int64(codeStart) + int64(i) + 5 + int64(disp)
				if addCandidate(&out, fieldLoc, target, imageLen, sectionLo, sectionHi, false) {
					i += 5
					continue
				}
			}
			i++

		case op == 0x0F && i+1 < n && code[i+1]&0xF0 == 0x80:
			if i+6 > n {
				i++
				continue
			}
			fieldLoc := codeStart + Offset(i+2)
			if !inTaboo(fieldLoc, 4) {
				disp := int32(binary.LittleEndian.Uint32(code[i+2 : i+6]))
				target := int64(codeStart) + int64(i) + 6 + int64(disp)
				if addCandidate(&out, fieldLoc, target, imageLen, sectionLo, sectionHi, false) {
					i += 6
					continue
				}
			}
			i++

		case x64 && (op == 0xFF) && i+2 <= n && (code[i+1] == 0x15 || code[i+1] == 0x25):
			if i+6 > n {
				i++
				continue
			}
			fieldLoc := codeStart + Offset(i+2)
			if !inTaboo(fieldLoc, 4) {
				disp := int32(binary.LittleEndian.Uint32(code[i+2 : i+6]))
				target := int64(codeStart) + int64(i) + 6 + int64(disp)
				if addCandidate(&out, fieldLoc, target, imageLen, sectionLo, sectionHi, true) {
					i += 6
					continue
				}
			}
			i++

		case x64 && (op == 0x89 || op == 0x8B || op == 0x8D) && i+1 < n && isRipModRM(code[i+1]):
			if i+6 > n {
				i++
				continue
			}
			fieldLoc := codeStart + Offset(i+2)
			if !inTaboo(fieldLoc, 4) {
				disp := int32(binary.LittleEndian.Uint32(code[i+2 : i+6]))
				target := int64(codeStart) + int64(i) + 6 + int64(disp)
				if addCandidate(&out, fieldLoc, target, imageLen, sectionLo, sectionHi, true) {
					i += 6
					continue
				}
			}
			i++

		default:
			i++
		}
	}
	return out
}

// isRipModRM reports whether a ModRM byte encodes RIP-relative addressing
// (MM=00, MMM=101).
func isRipModRM(modrm byte) bool {
	mm := modrm >> 6
	mmm := modrm & 0x07
	return mm == 0 && mmm == 5
}

// addCandidate validates a computed target against image/section bounds
// (spec §4.B: "Candidates are rejected if their computed target lies
// outside the containing section (unless the opcode variant permits
// cross-section targets) or outside the image") and, if valid, appends it.
func addCandidate(out *[]rel32Candidate, fieldLoc Offset, target int64, imageLen int, sectionLo, sectionHi Offset, crossSectionOK bool) bool {
	if target < 0 || target >= int64(imageLen) {
		return false
	}
	t := Offset(target)
	if !crossSectionOK && (t < sectionLo || t >= sectionHi) {
		return false
	}
	*out = append(*out, rel32Candidate{location: fieldLoc, target: t})
	return true
}
