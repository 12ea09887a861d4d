// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/saferwall/zucchini/internal/config"
	"github.com/saferwall/zucchini/internal/suffixarray"
	"github.com/saferwall/zucchini/internal/zlog"
)

// rawDeltaThreshold is added to the gap between a raw-delta byte's copy
// offset and the previous one's (the first is measured from -1), and the
// applicator subtracts it again, so two byte differences at consecutive
// copy offsets encode a skip of 2 (spec §4.G "Stream emission per
// element").
const rawDeltaThreshold = 1

// elementPipeline holds the per-element intermediate state threaded
// through the two equivalence-map iterations of spec §4.G phase 3.
type elementPipeline struct {
	oldDis, newDis         Disassembler
	oldHolder, newHolder   *ReferenceHolder
	oldView, newView       *EncodedView
	oldLabelMgrs           []*OrderedLabelManager
	newLabelMgrs           []*UnorderedLabelManager
	extraLabels            [][]Offset
	poolCount              int
	tun                    config.Tunables
	log                    zlog.Logger
	finalMap               *EquivalenceMap
}

// GenerateElement runs the per-element pipeline of spec §4.G phase 3 and
// writes labels/equivalence/extra-data/raw-delta/reference-delta streams
// for one matched (old, new) element pair into sink.
func GenerateElement(oldBytes, newBytes []byte, tun config.Tunables, log zlog.Logger, sink *SinkStreamSet) error {
	oldDis, err := DetectAndParse(oldBytes)
	if err != nil {
		return err
	}
	newDis, err := DetectAndParse(newBytes)
	if err != nil {
		return err
	}
	if oldDis.ExeType() != newDis.ExeType() {
		return ErrExeTypeMismatch
	}

	oldHolder, err := oldDis.References()
	if err != nil {
		return err
	}
	newHolder, err := newDis.References()
	if err != nil {
		return err
	}

	p := &elementPipeline{
		oldDis: oldDis, newDis: newDis,
		oldHolder: oldHolder, newHolder: newHolder,
		tun: tun, log: log,
	}
	p.poolCount = oldHolder.PoolCount()
	if n := newHolder.PoolCount(); n > p.poolCount {
		p.poolCount = n
	}

	p.oldView = NewEncodedView(oldDis.Image().Bytes(), oldHolder, len(oldDis.ReferenceTraitsTable()))
	p.oldView.SetPoolFunc(oldHolder.PoolOf)
	p.newView = NewEncodedView(newDis.Image().Bytes(), newHolder, len(newDis.ReferenceTraitsTable()))
	p.newView.SetPoolFunc(newHolder.PoolOf)

	p.buildOldLabels()

	// Iteration 1 (skeleton): suffix array over old at the cheap
	// label-count state, used only to seed label projection.
	sa1 := suffixarray.New(p.oldView.RanksAsInt32(), p.oldView.Cardinality())
	skeleton := BuildEquivalenceMap(p.oldView, sa1, p.newView, tun.LargeEquivalenceScore, tun.MinMatchLength, tun.BaseEquivalenceCost)
	sa1 = nil // spec §4.G step 4: discard immediately to free memory

	p.projectAndAssign(skeleton)

	// Iteration 2 (refined): cardinality changed now that new references
	// carry assigned label codes, so the suffix array must be rebuilt.
	sa2 := suffixarray.New(p.oldView.RanksAsInt32(), p.oldView.Cardinality())
	finalMap := BuildEquivalenceMap(p.oldView, sa2, p.newView, tun.MinEquivalenceScore+tun.BaseEquivalenceCost, tun.MinMatchLength, tun.BaseEquivalenceCost)
	sa2 = nil

	p.projectAndAssign(finalMap)
	p.finalMap = finalMap

	return p.emit(sink)
}

// buildOldLabels allocates and assigns one OrderedLabelManager per pool
// over the old image's references (spec §4.G step 5).
func (p *elementPipeline) buildOldLabels() {
	p.oldLabelMgrs = buildOldLabelManagers(p.oldHolder, p.poolCount)
}

// buildOldLabelManagers allocates and assigns one OrderedLabelManager per
// pool over holder's references (spec §4.G step 5). Shared by the
// generator and the applicator, which must reconstruct the identical old
// label tables from the same old-image references.
func buildOldLabelManagers(holder *ReferenceHolder, poolCount int) []*OrderedLabelManager {
	mgrs := make([]*OrderedLabelManager, poolCount)
	for pool := 0; pool < poolCount; pool++ {
		mgr := NewOrderedLabelManager()
		types := typesInPool(holder, Pool(pool))
		var all []Reference
		for _, t := range types {
			all = append(all, holder.Get(t)...)
		}
		mgr.Allocate(all)
		for _, t := range types {
			mgr.Assign(holder.GetMutable(t))
		}
		mgrs[pool] = mgr
	}
	return mgrs
}

// typesInPool lists the reference types of holder that belong to pool.
func typesInPool(h *ReferenceHolder, pool Pool) []ReferenceType {
	var out []ReferenceType
	for t := 0; t < h.TypeCount(); t++ {
		if h.PoolOf(ReferenceType(t)) == pool {
			out = append(out, ReferenceType(t))
		}
	}
	return out
}

// projectAndAssign runs label projection (spec §4.G step 6) through eqMap
// and assigns new references, discovering extra (unprojected) labels via
// Digest (spec §4.D). The applicator loads the same extras with Digest
// after the same projection, so both sides build identical label tables.
func (p *elementPipeline) projectAndAssign(eqMap *EquivalenceMap) {
	bySrc := eqMap.SortBySrc()
	p.newLabelMgrs = make([]*UnorderedLabelManager, p.poolCount)
	p.extraLabels = make([][]Offset, p.poolCount)
	counts := make([]int, p.poolCount)

	for pool := 0; pool < p.poolCount; pool++ {
		oldLabels := p.oldLabelMgrs[pool].Labels()
		projected := projectLabels(oldLabels, bySrc)

		mgr := NewUnorderedLabelManager()
		mgr.Init(projected)

		types := typesInPool(p.newHolder, Pool(pool))
		for _, t := range types {
			refs := p.newHolder.GetMutable(t)
			mgr.Unassign(refs)
			mgr.Assign(refs)
		}

		extras := unassignedTargets(p.newHolder, types)
		mgr.Digest(extras)
		for _, t := range types {
			mgr.Assign(p.newHolder.GetMutable(t))
		}

		p.newLabelMgrs[pool] = mgr
		p.extraLabels[pool] = extras
		counts[pool] = mgr.Len()
	}

	p.oldView.SetLabelCounts(counts)
	p.newView.SetLabelCounts(counts)
}

// projectLabels implements spec §4.G step 6: for each old label, walk
// forward in the equivalence map (sorted by Src) to find all equivalences
// whose Src range contains it, choose the longest (ties broken by
// smaller Dst), and map to that equivalence's Dst-space target. Labels
// with no covering equivalence get UnusedIndex.
func projectLabels(oldLabels []Offset, eqsBySrc []Equivalence) []Offset {
	out := make([]Offset, len(oldLabels))
	fwd := NewForwardMapper(eqsBySrc)
	for i, target := range oldLabels {
		var best *Equivalence
		fwd.Find(int(target), func(eq Equivalence) {
			e := eq
			if best == nil || e.Length > best.Length || (e.Length == best.Length && e.Dst < best.Dst) {
				best = &e
			}
		})
		if best == nil {
			out[i] = Offset(UnusedIndex)
			continue
		}
		newTarget := best.Dst + (int(target) - best.Src)
		out[i] = Offset(newTarget)
	}
	return out
}

// unassignedTargets collects the distinct targets of every still-unmarked
// reference across types, sorted ascending (spec §4.G's "extra labels
// discovered in new but not projected from old", delta-encoded ascending
// in the wire stream).
func unassignedTargets(h *ReferenceHolder, types []ReferenceType) []Offset {
	seen := make(map[Offset]bool)
	var out []Offset
	for _, t := range types {
		for _, r := range h.Get(t) {
			if IsMarked(r.Target) {
				continue
			}
			if !seen[r.Target] {
				seen[r.Target] = true
				out = append(out, r.Target)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// mixedReferenceBytes builds the {new_opcode_bits, old_displacement_bits}
// image of a reference-covered byte range (spec §4.G "reference bytes
// mixing"), for the ARM Thumb2 encodings that split displacement bits
// across opcode bits (reference_bytes_mixer.go). t is an ARM32 element's
// reference type; emit calls this for ARM32 elements only, since other
// disassemblers reuse the same type numbers. Returns ok=false for every
// other reference type, since raw-delta comparison against that
// mixed image would be meaningless without a matching mixer; callers skip
// the range entirely in that case and rely on the reference-delta pass to
// correct it on apply.
func mixedReferenceBytes(t ReferenceType, oldWord, newWord []byte) (mixed []byte, ok bool) {
	switch t {
	case RefElfArmT24:
		oldHalf1 := binary.LittleEndian.Uint16(oldWord)
		oldHalf2 := binary.LittleEndian.Uint16(oldWord[2:])
		newHalf1 := binary.LittleEndian.Uint16(newWord)
		newHalf2 := binary.LittleEndian.Uint16(newWord[2:])
		oldDisp := decodeArmT24Disp(oldHalf1, oldHalf2)
		mixHalf1, mixHalf2 := mixArmT24(newHalf1, newHalf2, oldDisp)
		out := make([]byte, 4)
		binary.LittleEndian.PutUint16(out, mixHalf1)
		binary.LittleEndian.PutUint16(out[2:], mixHalf2)
		return out, true
	case RefElfArmT21:
		oldHalf1 := binary.LittleEndian.Uint16(oldWord)
		oldHalf2 := binary.LittleEndian.Uint16(oldWord[2:])
		newHalf1 := binary.LittleEndian.Uint16(newWord)
		newHalf2 := binary.LittleEndian.Uint16(newWord[2:])
		oldDisp := decodeArmT21Disp(oldHalf1, oldHalf2)
		mixHalf1, mixHalf2 := mixArmT21(newHalf1, newHalf2, oldDisp)
		out := make([]byte, 4)
		binary.LittleEndian.PutUint16(out, mixHalf1)
		binary.LittleEndian.PutUint16(out[2:], mixHalf2)
		return out, true
	default:
		return nil, false
	}
}

// emit writes the labels/equivalence/extra-data/raw-delta/reference-delta
// streams for this element (spec §4.G "Stream emission per element").
func (p *elementPipeline) emit(sink *SinkStreamSet) error {
	for pool := 0; pool < p.poolCount; pool++ {
		extras := p.extraLabels[pool]
		s := sink.Stream(LabelStreamBase + pool)
		s.PutVarUint(uint32(len(extras)))
		prev := Offset(0)
		for i, v := range extras {
			if i == 0 {
				s.PutVarUint(uint32(v))
			} else {
				s.PutVarUint(uint32(v - prev))
			}
			prev = v
		}
	}

	eqs := p.finalMap.SortByDst()
	oldBytes := p.oldDis.Image().Bytes()
	newBytes := p.newDis.Image().Bytes()

	srcSkip := sink.Stream(StreamSrcSkip)
	dstSkip := sink.Stream(StreamDstSkip)
	copyCount := sink.Stream(StreamCopyCount)
	extraData := sink.Stream(StreamExtraData)
	rawSkip := sink.Stream(StreamRawDeltaSkip)
	rawDiff := sink.Stream(StreamRawDeltaDiff)
	refDelta := sink.Stream(StreamReferenceDelta)

	prevSrcEnd, prevDstEnd := 0, 0
	copyOffset := 0
	prevDiffCopyOffset := -1

	for _, eq := range eqs {
		srcSkip.PutVarInt(int32(eq.Src - prevSrcEnd))
		dstSkip.PutVarUint(uint32(eq.Dst - prevDstEnd))
		length := eq.Length - p.tun.MinMatchLength
		if length < 0 {
			length = 0
		}
		copyCount.PutVarUint(uint32(length))

		if eq.Dst > prevDstEnd {
			extraData.PutBytes(newBytes[prevDstEnd:eq.Dst])
		}

		// Bytes covered by a reference are always rewritten by the
		// reference-delta pass on apply, so literal raw-delta comparison
		// here would pick up noise from address relocation alone. ARM
		// Thumb2 long branches (T21/T24) interleave opcode bits with the
		// displacement, so a plain skip would also hide a genuine
		// opcode-level change: mix the new opcode bits with the old
		// displacement and diff that instead (spec §4.G "reference bytes
		// mixing").
		for i := 0; i < eq.Length; {
			t := p.newView.TypeAt(eq.Dst + i)
			if t == NoRefType {
				if oldBytes[eq.Src+i] != newBytes[eq.Dst+i] {
					skip := copyOffset + i - prevDiffCopyOffset + rawDeltaThreshold
					rawSkip.PutVarUint(uint32(skip))
					rawDiff.PutVarInt(int32(newBytes[eq.Dst+i]) - int32(oldBytes[eq.Src+i]))
					prevDiffCopyOffset = copyOffset + i
				}
				i++
				continue
			}

			width := p.newHolder.Width(t)
			if !p.newView.HeadAt(eq.Dst+i) || width <= 0 || i+width > eq.Length ||
				eq.Dst+i+width > len(newBytes) || eq.Src+i+width > len(oldBytes) {
				// A continuation byte split off by an equivalence boundary,
				// or a type with no full in-bounds reference starting here:
				// the reference-delta pass corrects it unconditionally.
				i++
				continue
			}

			if p.newDis.ExeType() != ExeTypeElfArm32 {
				// Type numbers are per disassembler: only an ARM32
				// element's types can name a Thumb2 branch.
				i += width
				continue
			}
			if mixed, ok := mixedReferenceBytes(t, oldBytes[eq.Src+i:eq.Src+i+width], newBytes[eq.Dst+i:eq.Dst+i+width]); ok {
				for k := 0; k < width; k++ {
					if oldBytes[eq.Src+i+k] != mixed[k] {
						skip := copyOffset + i + k - prevDiffCopyOffset + rawDeltaThreshold
						rawSkip.PutVarUint(uint32(skip))
						rawDiff.PutVarInt(int32(mixed[k]) - int32(oldBytes[eq.Src+i+k]))
						prevDiffCopyOffset = copyOffset + i + k
					}
				}
			}
			i += width
		}
		copyOffset += eq.Length

		p.emitReferenceDeltas(eq, refDelta)

		prevSrcEnd = eq.SrcEnd()
		prevDstEnd = eq.DstEnd()
	}
	if prevDstEnd < len(newBytes) {
		extraData.PutBytes(newBytes[prevDstEnd:])
	}

	return nil
}

// walkEquivalenceRefPairs visits, for every type, every new reference
// within eq's Dst range paired with its structural counterpart at the
// same relative offset in eq's Src range. The corresponding old reference
// is found via one binary-search seek per type, then advanced linearly.
// Every reference within a genuine equivalence has such a counterpart
// (that is what the rank-equality underlying the equivalence guarantees),
// shared by the generator's reference_delta emission and the applicator's
// reference correction pass so both walk references in identical order.
func walkEquivalenceRefPairs(eq Equivalence, oldHolder, newHolder *ReferenceHolder, visit func(t ReferenceType, newRef, oldRef Reference)) {
	for t := 0; t < newHolder.TypeCount(); t++ {
		newRefs := newHolder.Get(ReferenceType(t))
		oldRefs := oldHolder.Get(ReferenceType(t))
		lo, hi := Offset(eq.Dst), Offset(eq.DstEnd())
		start := searchReferences(newRefs, lo)

		oldCursor := searchReferences(oldRefs, Offset(eq.Src))
		for i := start; i < len(newRefs) && newRefs[i].Location < hi; i++ {
			nr := newRefs[i]
			relOff := int(nr.Location) - eq.Dst
			wantOldLoc := Offset(eq.Src + relOff)
			for oldCursor < len(oldRefs) && oldRefs[oldCursor].Location < wantOldLoc {
				oldCursor++
			}
			if oldCursor >= len(oldRefs) || oldRefs[oldCursor].Location != wantOldLoc {
				continue
			}
			visit(ReferenceType(t), nr, oldRefs[oldCursor])
		}
	}
}

// emitReferenceDeltas emits, for every new reference within eq's Dst
// range, new_label_index - old_label_index (spec §4.G "reference_delta").
// Every old reference is always label-assigned (buildOldLabels allocates
// every distinct old target) and every new reference is always
// label-assigned by the time the final projectAndAssign pass completes
// (direct match or digested extra), so every visited pair emits a delta.
func (p *elementPipeline) emitReferenceDeltas(eq Equivalence, refDelta *SinkStream) {
	walkEquivalenceRefPairs(eq, p.oldHolder, p.newHolder, func(t ReferenceType, nr, or Reference) {
		delta := int32(Unmark(nr.Target)) - int32(Unmark(or.Target))
		refDelta.PutVarInt(delta)
	})
}

// GenerateOptions configures a top-level patch Generate call.
type GenerateOptions struct {
	// Raw forces PatchTypeRaw: the new image stored verbatim, with no
	// reference-aware diffing at all (the `-raw` CLI flag). Generate
	// never chooses it on its own, not even for byte-identical inputs.
	Raw bool
	// Impose is an optional "-impose" match specification (spec §4.I)
	// overriding automatic ensemble detection.
	Impose string
	Tunables config.Tunables
	Log      zlog.Logger
}

// Generate runs the full patch generation pipeline (spec §4.G phases 1-3)
// and returns the serialized patch bytes: header, then PatchType, then a
// body whose shape depends on that type, all counts and offsets as
// VarInts. A raw body is the new image's length and bytes. A single or
// ensemble body is the identical-pair count, the separator count, each
// separator's offset, length and bytes, the match count, and per match
// its old offset and length, new offset and length, exe type, and the
// length and bytes of its serialized stream set.
func Generate(oldData, newData []byte, opts GenerateOptions) ([]byte, error) {
	header := MakeHeader(oldData, newData)
	buf := WriteHeader(nil, header)

	if opts.Raw {
		buf = PutVarUint(buf, uint32(PatchTypeRaw))
		buf = PutVarUint(buf, uint32(len(newData)))
		buf = append(buf, newData...)
		return buf, nil
	}

	var matches []Match
	var separators []Separator
	var numIdentical int

	if opts.Impose != "" {
		var err error
		matches, numIdentical, err = ParseImposedMatches(opts.Impose, oldData, newData, func(msg string) {
			if opts.Log != nil {
				opts.Log.Warnf("%s", msg)
			}
		})
		if err != nil {
			return nil, err
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].New.Offset < matches[j].New.Offset })
		separators = ComputeSeparators(matches, len(newData))
	} else {
		em, err := BuildEnsemble(oldData, newData, opts.Tunables.MaxElementCount, opts.Tunables.MaxHistogramSizeRatio, opts.Tunables.MaxHistogramSizeDiff)
		if err != nil {
			return nil, err
		}
		matches = em.Matches()
		separators = em.Separators()
		numIdentical = em.GetNumIdentical()
	}

	patchType := PatchTypeEnsemble
	if len(matches) == 1 && len(separators) == 0 {
		patchType = PatchTypeSingle
	}
	buf = PutVarUint(buf, uint32(patchType))
	buf = PutVarUint(buf, uint32(numIdentical))

	buf = PutVarUint(buf, uint32(len(separators)))
	for _, s := range separators {
		buf = PutVarUint(buf, uint32(s.Offset))
		buf = PutVarUint(buf, uint32(s.Length))
		buf = append(buf, newData[s.Offset:s.Offset+s.Length]...)
	}

	buf = PutVarUint(buf, uint32(len(matches)))
	for _, mt := range matches {
		oldBytes := oldData[mt.Old.Offset : mt.Old.Offset+mt.Old.Length]
		newBytes := newData[mt.New.Offset : mt.New.Offset+mt.New.Length]

		sink := NewSinkStreamSet()
		if err := GenerateElement(oldBytes, newBytes, opts.Tunables, opts.Log, sink); err != nil {
			return nil, fmt.Errorf("zucchini: generating element at old+%d: %w", mt.Old.Offset, err)
		}
		blob, err := sink.Serialize()
		if err != nil {
			return nil, err
		}

		buf = PutVarUint(buf, uint32(mt.Old.Offset))
		buf = PutVarUint(buf, uint32(mt.Old.Length))
		buf = PutVarUint(buf, uint32(mt.New.Offset))
		buf = PutVarUint(buf, uint32(mt.New.Length))
		buf = PutVarUint(buf, uint32(mt.New.ExeType))
		buf = PutVarUint(buf, uint32(len(blob)))
		buf = append(buf, blob...)
	}

	return buf, nil
}
