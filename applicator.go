// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"errors"
	"fmt"
	"sort"

	"github.com/saferwall/zucchini/internal/config"
	"github.com/saferwall/zucchini/internal/crc"
)

// ErrOutOfBounds is returned when a patch's geometry fields don't fit the
// actual old or new image (spec §7 "Patch format error").
var ErrOutOfBounds = errors.New("zucchini: patch geometry out of bounds")

// ErrSelfCheckFailed is returned when the post-apply ARM self-check (spec
// DESIGN.md Open Question 1 decision) finds the reconstructed image's
// branch-instruction structure no longer matches what was recorded during
// patching.
var ErrSelfCheckFailed = errors.New("zucchini: ARM self-check failed after apply")

// Apply reconstructs the new image from patchBytes and oldData, verifying
// the patch header against oldData and the reconstructed image against
// the patch's recorded new-image CRC (spec §4.H, §7).
func Apply(patchBytes, oldData []byte, tun config.Tunables) ([]byte, error) {
	h, n, err := ReadHeader(patchBytes, oldData)
	if err != nil {
		return nil, err
	}
	buf := patchBytes[n:]

	patchType, n, ok := GetVarUint(buf)
	if !ok {
		return nil, ErrStreamUnderrun
	}
	buf = buf[n:]

	var newData []byte
	switch PatchType(patchType) {
	case PatchTypeRaw:
		newData, err = applyRaw(buf, int(h.NewSize))
	case PatchTypeSingle, PatchTypeEnsemble:
		newData, err = applyEnsemble(buf, oldData, int(h.NewSize), tun)
	default:
		return nil, fmt.Errorf("zucchini: unknown patch type %d", patchType)
	}
	if err != nil {
		return nil, err
	}

	if crc.Checksum32(newData) != h.NewCRC {
		return nil, ErrNewCRCMismatch
	}
	return newData, nil
}

func applyRaw(buf []byte, newSize int) ([]byte, error) {
	length, n, ok := GetVarUint(buf)
	if !ok {
		return nil, ErrStreamUnderrun
	}
	buf = buf[n:]
	if int(length) != newSize || len(buf) < int(length) {
		return nil, ErrOutOfBounds
	}
	return append([]byte(nil), buf[:length]...), nil
}

func applyEnsemble(buf, oldData []byte, newSize int, tun config.Tunables) ([]byte, error) {
	_, n, ok := GetVarUint(buf) // numIdentical: informational only
	if !ok {
		return nil, ErrStreamUnderrun
	}
	buf = buf[n:]

	numSeps, n, ok := GetVarUint(buf)
	if !ok {
		return nil, ErrStreamUnderrun
	}
	buf = buf[n:]

	newData := make([]byte, newSize)
	for i := uint32(0); i < numSeps; i++ {
		off, n, ok := GetVarUint(buf)
		if !ok {
			return nil, ErrStreamUnderrun
		}
		buf = buf[n:]
		length, n, ok := GetVarUint(buf)
		if !ok {
			return nil, ErrStreamUnderrun
		}
		buf = buf[n:]
		if uint64(off)+uint64(length) > uint64(newSize) || len(buf) < int(length) {
			return nil, ErrOutOfBounds
		}
		copy(newData[off:off+length], buf[:length])
		buf = buf[length:]
	}

	numMatches, n, ok := GetVarUint(buf)
	if !ok {
		return nil, ErrStreamUnderrun
	}
	buf = buf[n:]

	for i := uint32(0); i < numMatches; i++ {
		var oldOff, oldLen, newOff, newLen, exeType, blobLen uint32
		for _, f := range []*uint32{&oldOff, &oldLen, &newOff, &newLen, &exeType, &blobLen} {
			v, n, ok := GetVarUint(buf)
			if !ok {
				return nil, ErrStreamUnderrun
			}
			*f = v
			buf = buf[n:]
		}
		if uint64(oldOff)+uint64(oldLen) > uint64(len(oldData)) ||
			uint64(newOff)+uint64(newLen) > uint64(newSize) ||
			len(buf) < int(blobLen) {
			return nil, ErrOutOfBounds
		}
		blob := buf[:blobLen]
		buf = buf[blobLen:]

		elemOld := oldData[oldOff : oldOff+oldLen]
		elemNew, err := ApplyElement(elemOld, blob, int(newLen), ExeType(exeType), tun)
		if err != nil {
			return nil, fmt.Errorf("zucchini: applying element at old+%d: %w", oldOff, err)
		}
		copy(newData[newOff:newOff+newLen], elemNew)
	}

	return newData, nil
}

// ApplyElement reconstructs one matched element's new bytes from its old
// bytes and generated stream-set blob (spec §4.H): global reconstruction
// (equivalence copy + raw-delta correction + extra data), then per-pool
// reference correction via label projection mirrored from the generator.
func ApplyElement(oldBytes, blob []byte, newLen int, exeType ExeType, tun config.Tunables) ([]byte, error) {
	oldDis, err := DetectAndParse(oldBytes)
	if err != nil {
		return nil, err
	}
	oldHolder, err := oldDis.References()
	if err != nil {
		return nil, err
	}

	src, err := ParseSourceStreamSet(blob)
	if err != nil {
		return nil, err
	}
	stream := func(key int) *SourceStream {
		s, ok := src.StreamAt(key)
		if !ok {
			return NewSourceStream(nil)
		}
		return s
	}
	srcSkip := stream(StreamSrcSkip)
	dstSkip := stream(StreamDstSkip)
	copyCount := stream(StreamCopyCount)
	extraData := stream(StreamExtraData)
	rawSkip := stream(StreamRawDeltaSkip)
	rawDiff := stream(StreamRawDeltaDiff)
	refDelta := stream(StreamReferenceDelta)

	eqs, err := decodeEquivalences(srcSkip, dstSkip, copyCount, tun.MinMatchLength)
	if err != nil {
		return nil, err
	}

	newBytes := make([]byte, newLen)
	if err := reconstructBytes(newBytes, oldBytes, eqs, extraData); err != nil {
		return nil, err
	}
	if err := applyRawDeltas(newBytes, eqs, rawSkip, rawDiff); err != nil {
		return nil, err
	}

	poolCount := oldHolder.PoolCount()
	oldLabelMgrs := buildOldLabelManagers(oldHolder, poolCount)

	eqsBySrc := append([]Equivalence(nil), eqs...)
	sort.Slice(eqsBySrc, func(i, j int) bool { return eqsBySrc[i].Src < eqsBySrc[j].Src })

	newLabelMgrs := make([]*UnorderedLabelManager, poolCount)
	for pool := 0; pool < poolCount; pool++ {
		projected := projectLabels(oldLabelMgrs[pool].Labels(), eqsBySrc)
		mgr := NewUnorderedLabelManager()
		mgr.Init(projected)

		extraCount, err := stream(LabelStreamBase + pool).GetVarUint()
		if err != nil {
			return nil, err
		}
		extras := make([]Offset, extraCount)
		labelStream := stream(LabelStreamBase + pool)
		var prev Offset
		for i := range extras {
			d, err := labelStream.GetVarUint()
			if err != nil {
				return nil, err
			}
			if i == 0 {
				extras[i] = Offset(d)
			} else {
				extras[i] = prev + Offset(d)
			}
			prev = extras[i]
		}
		mgr.Digest(extras)
		newLabelMgrs[pool] = mgr
	}

	preDis, err := DetectAndParse(newBytes)
	if err != nil {
		return nil, err
	}
	preHolder, err := preDis.References()
	if err != nil {
		return nil, err
	}

	for _, eq := range eqs {
		var walkErr error
		walkEquivalenceRefPairs(eq, oldHolder, preHolder, func(t ReferenceType, nr, or Reference) {
			if walkErr != nil {
				return
			}
			delta, err := refDelta.GetVarInt()
			if err != nil {
				walkErr = err
				return
			}
			pool := oldHolder.PoolOf(t)
			newIdx := int64(Unmark(or.Target)) + int64(delta)
			labels := newLabelMgrs[pool].Labels()
			if newIdx < 0 || int(newIdx) >= len(labels) {
				walkErr = ErrOutOfBounds
				return
			}
			target := labels[newIdx]
			receptor := preDis.Receptor(t, newBytes)
			if err := receptor.Receive(Reference{Location: nr.Location, Target: target}); err != nil {
				walkErr = err
			}
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}

	if exeType == ExeTypeElfArm32 {
		postDis, err := DetectAndParse(newBytes)
		if err != nil {
			return nil, err
		}
		postHolder, err := postDis.References()
		if err != nil {
			return nil, err
		}
		if err := selfCheckArm(preHolder, postHolder); err != nil {
			return nil, err
		}
	}

	return newBytes, nil
}

// decodeEquivalences reads the src_skip/dst_skip/copy_count streams back
// into an Equivalence slice in the order the generator wrote them (dst
// order), inverting spec §4.G's delta encoding.
func decodeEquivalences(srcSkip, dstSkip, copyCount *SourceStream, minMatchLength int) ([]Equivalence, error) {
	var eqs []Equivalence
	prevSrcEnd, prevDstEnd := 0, 0
	for srcSkip.Remaining() > 0 {
		sd, err := srcSkip.GetVarInt()
		if err != nil {
			return nil, err
		}
		dd, err := dstSkip.GetVarUint()
		if err != nil {
			return nil, err
		}
		l, err := copyCount.GetVarUint()
		if err != nil {
			return nil, err
		}
		eq := Equivalence{
			Src:    prevSrcEnd + int(sd),
			Dst:    prevDstEnd + int(dd),
			Length: int(l) + minMatchLength,
		}
		eqs = append(eqs, eq)
		prevSrcEnd = eq.SrcEnd()
		prevDstEnd = eq.DstEnd()
	}
	return eqs, nil
}

// reconstructBytes copies each equivalence's bytes from oldBytes into
// newBytes and fills the gaps between them (and before/after all of them)
// from the extra_data stream (spec §4.H).
func reconstructBytes(newBytes, oldBytes []byte, eqs []Equivalence, extraData *SourceStream) error {
	prevDstEnd := 0
	for _, eq := range eqs {
		if eq.Dst > prevDstEnd {
			gap, err := extraData.GetBytes(eq.Dst - prevDstEnd)
			if err != nil {
				return err
			}
			copy(newBytes[prevDstEnd:eq.Dst], gap)
		}
		if eq.SrcEnd() > len(oldBytes) || eq.DstEnd() > len(newBytes) {
			return ErrOutOfBounds
		}
		copy(newBytes[eq.Dst:eq.DstEnd()], oldBytes[eq.Src:eq.SrcEnd()])
		prevDstEnd = eq.DstEnd()
	}
	if prevDstEnd < len(newBytes) {
		gap, err := extraData.GetBytes(len(newBytes) - prevDstEnd)
		if err != nil {
			return err
		}
		copy(newBytes[prevDstEnd:], gap)
	}
	return nil
}

// applyRawDeltas inverts the generator's raw_delta_skip/raw_delta_diff
// streams: each entry holds a skip from the previous entry's copy-offset
// (a position within the concatenation of all equivalences' bytes, in dst
// order; rawDeltaThreshold is subtracted back out) and a byte-wise
// correction to apply there (spec §4.G "Stream emission per element").
func applyRawDeltas(newBytes []byte, eqs []Equivalence, rawSkip, rawDiff *SourceStream) error {
	cum := make([]int, len(eqs)+1)
	for i, eq := range eqs {
		cum[i+1] = cum[i] + eq.Length
	}
	locate := func(copyOffset int) (int, error) {
		i := sort.Search(len(eqs), func(i int) bool { return cum[i+1] > copyOffset })
		if i >= len(eqs) {
			return 0, ErrOutOfBounds
		}
		return eqs[i].Dst + (copyOffset - cum[i]), nil
	}

	prevDiffCopyOffset := -1
	for rawSkip.Remaining() > 0 {
		skip, err := rawSkip.GetVarUint()
		if err != nil {
			return err
		}
		diff, err := rawDiff.GetVarInt()
		if err != nil {
			return err
		}
		copyOffset := prevDiffCopyOffset + int(skip) - rawDeltaThreshold
		pos, err := locate(copyOffset)
		if err != nil {
			return err
		}
		if pos < 0 || pos >= len(newBytes) {
			return ErrOutOfBounds
		}
		newBytes[pos] = byte(int32(newBytes[pos]) + diff)
		prevDiffCopyOffset = copyOffset
	}
	return nil
}
