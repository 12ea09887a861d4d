// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "errors"

// ExeType discriminates executable format and architecture (spec §4.B:
// "exe_type(): discriminated enum identifying format+architecture").
type ExeType uint8

// Supported executable types, plus the sentinel NoOp meaning "no
// recognized executable" (spec §4.B "No-op disassembler").
const (
	ExeTypeNoOp ExeType = iota
	ExeTypeWin32X86
	ExeTypeWin32X64
	ExeTypeElfX86
	ExeTypeElfArm32
	ExeTypeElfAArch64
	ExeTypeDex
)

// String names an ExeType for diagnostics and the -read/-detect tools.
func (e ExeType) String() string {
	switch e {
	case ExeTypeNoOp:
		return "no-op"
	case ExeTypeWin32X86:
		return "win32-x86"
	case ExeTypeWin32X64:
		return "win32-x64"
	case ExeTypeElfX86:
		return "elf-x86"
	case ExeTypeElfArm32:
		return "elf-arm32"
	case ExeTypeElfAArch64:
		return "elf-aarch64"
	case ExeTypeDex:
		return "dex"
	default:
		return "unknown"
	}
}

// ErrUnrecognizedFormat is returned by a disassembler's Parse when the
// image does not match its format (spec §4.B: "Fails on malformed input,
// wrong magic... ").
var ErrUnrecognizedFormat = errors.New("zucchini: unrecognized executable format")

// minImageSize is the final fallback floor named in spec §4.B's detection
// pipeline: "If full parse or minimum-size check (>= 16 bytes) fails the
// next candidate is tried."
const minImageSize = 16

// Disassembler is the format-specific parser producing typed reference
// iterators/receptors, per spec §4.B.
type Disassembler interface {
	// ExeType identifies the format+architecture this instance parsed.
	ExeType() ExeType

	// Image returns the (possibly truncated) image this disassembler
	// parsed.
	Image() Image

	// ReferenceTraitsTable returns the fixed per-type traits table for
	// this disassembler, indexed by ReferenceType.
	ReferenceTraitsTable() []ReferenceTraits

	// References extracts every reference group and returns a populated
	// ReferenceHolder.
	References() (*ReferenceHolder, error)

	// Translator returns the RVA<->offset translator for this format.
	Translator() RegionTranslator

	// PoolOf maps a reference type to its pool, for formats with more
	// than one pool sharing label tables across multiple types.
	PoolOf(t ReferenceType) Pool

	// Receptor returns a ReferenceReceptor that writes references of
	// type t back into the (mutable) image.
	Receptor(t ReferenceType, image []byte) ReferenceReceptor
}

// quickDetector is satisfied by any disassembler constructor family: a
// cheap magic-only check, and a full parse.
type quickDetector struct {
	exeType ExeType
	quick   func(data []byte) bool
	parse   func(data []byte) (Disassembler, error)
}

// detectors lists every supported format in the fixed detection order of
// spec §4.B: "Quick-detect functions... are called in order; the first
// that succeeds is full-parsed." The order is Win32, ELF, then DEX; the
// magics do not collide, but the order still fixes which check runs first.
var detectors = []quickDetector{
	{ExeTypeWin32X86, quickDetectWin32, parseWin32},
	{ExeTypeElfX86, quickDetectElf, parseElf},
	{ExeTypeDex, quickDetectDex, parseDex},
}

// DetectAndParse runs the detection pipeline of spec §4.B: each quick
// detector is tried in order; on a quick-match, a full parse is attempted;
// if parsing fails or the image is smaller than minImageSize, the next
// candidate is tried. The final fallback is the no-op disassembler, which
// never fails.
func DetectAndParse(data []byte) (Disassembler, error) {
	if len(data) >= minImageSize {
		for _, d := range detectors {
			if !d.quick(data) {
				continue
			}
			dis, err := d.parse(data)
			if err == nil {
				return dis, nil
			}
		}
	}
	return newNoOpDisassembler(data), nil
}

// DetectForced runs a single named disassembler's quick-detect and parse,
// bypassing the ordered pipeline (spec-supplemented `-detect -dd=<fmt>`
// CLI feature, SPEC_FULL.md). Returns ErrUnrecognizedFormat if fmt's
// quick-detect fails.
func DetectForced(fmtName string, data []byte) (Disassembler, error) {
	for _, d := range detectors {
		if d.exeType.String() != fmtName {
			continue
		}
		if len(data) < minImageSize || !d.quick(data) {
			return nil, ErrUnrecognizedFormat
		}
		return d.parse(data)
	}
	return nil, ErrUnrecognizedFormat
}
