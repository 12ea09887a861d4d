// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"errors"

	"github.com/saferwall/zucchini/internal/crc"
)

// PatchMagic is the constant "Zuc" magic written at the start of every
// patch file (spec §4.K).
const PatchMagic uint32 = 0x5A | (0x75 << 8) | (0x63 << 16)

// PatchType discriminates the three shapes a patch body may take (spec
// §4.G phase 2).
type PatchType uint8

const (
	// PatchTypeRaw stores the new image verbatim (its length, then its
	// bytes), with no equivalences and no reference semantics. Only
	// GenerateOptions.Raw (the `-raw` CLI flag) produces it.
	PatchTypeRaw PatchType = iota
	// PatchTypeSingle is one matched element spanning both files in
	// full (no ensemble detection needed).
	PatchTypeSingle
	// PatchTypeEnsemble is multiple elements, with separators patched
	// as raw data.
	PatchTypeEnsemble
)

// Logical stream identifiers (spec §4.K). Label streams for pool p use
// key LabelStreamBase+p.
const (
	StreamCommand         = 0
	StreamSrcSkip         = 1
	StreamDstSkip         = 2
	StreamCopyCount       = 3
	StreamExtraData       = 4
	StreamRawDeltaSkip    = 5
	StreamRawDeltaDiff    = 6
	StreamReferenceDelta  = 7
	LabelStreamBase       = 8
)

// Errors returned while reading a patch header or body (spec §7 "Patch
// format error").
var (
	ErrBadMagic       = errors.New("zucchini: patch header magic mismatch")
	ErrOldSizeMismatch = errors.New("zucchini: old image size does not match patch header")
	ErrOldCRCMismatch  = errors.New("zucchini: old image CRC-32 does not match patch header")
	ErrNewCRCMismatch  = errors.New("zucchini: new image CRC-32 does not match patch header (patch-integrity failure)")
	ErrBadPoolCount    = errors.New("zucchini: pool count exceeds declared label-stream count")
)

// PatchHeader is the preamble written once, as VarInts, at the start of
// every patch file (spec §4.K).
type PatchHeader struct {
	OldSize uint32
	OldCRC  uint32
	NewSize uint32
	NewCRC  uint32
}

// WriteHeader appends the VarInt-encoded patch header to buf.
func WriteHeader(buf []byte, h PatchHeader) []byte {
	buf = PutVarUint(buf, PatchMagic)
	buf = PutVarUint(buf, h.OldSize)
	buf = PutVarUint(buf, h.OldCRC)
	buf = PutVarUint(buf, h.NewSize)
	buf = PutVarUint(buf, h.NewCRC)
	return buf
}

// ReadHeader parses and validates the patch header against the actual
// old-image bytes, per spec §7: "bad header magic, old-size mismatch,
// old-CRC mismatch" are all fatal.
func ReadHeader(buf []byte, oldImage []byte) (PatchHeader, int, error) {
	magic, n, ok := GetVarUint(buf)
	if !ok {
		return PatchHeader{}, 0, ErrStreamUnderrun
	}
	if magic != PatchMagic {
		return PatchHeader{}, 0, ErrBadMagic
	}
	total := n
	buf = buf[n:]

	var h PatchHeader
	fields := []*uint32{&h.OldSize, &h.OldCRC, &h.NewSize, &h.NewCRC}
	for _, f := range fields {
		v, n, ok := GetVarUint(buf)
		if !ok {
			return PatchHeader{}, 0, ErrStreamUnderrun
		}
		*f = v
		buf = buf[n:]
		total += n
	}

	if int(h.OldSize) != len(oldImage) {
		return PatchHeader{}, 0, ErrOldSizeMismatch
	}
	if h.OldCRC != crc.Checksum32(oldImage) {
		return PatchHeader{}, 0, ErrOldCRCMismatch
	}
	return h, total, nil
}

// MakeHeader computes a PatchHeader's CRC fields from the old and new
// image bytes (generator side).
func MakeHeader(oldImage, newImage []byte) PatchHeader {
	return PatchHeader{
		OldSize: uint32(len(oldImage)),
		OldCRC:  crc.Checksum32(oldImage),
		NewSize: uint32(len(newImage)),
		NewCRC:  crc.Checksum32(newImage),
	}
}
