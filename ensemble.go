// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Element is a sub-image identified as a single executable by the
// detector, the unit of reference-aware patching (spec GLOSSARY).
type Element struct {
	Offset  int
	Length  int
	ExeType ExeType
}

// Match pairs an old element with a new element of the same ExeType
// (spec §4.I).
type Match struct {
	Old Element
	New Element
}

// Separator is a region of the new image not covered by any match (spec
// §4.I, GLOSSARY).
type Separator struct {
	Offset int
	Length int
}

// EnsembleMatcher detects and pairs embedded executables between an old
// and a new image via histogram similarity (spec §4.I).
type EnsembleMatcher struct {
	oldData []byte
	newData []byte
	matches []Match
	seps    []Separator
	numIdentical int
}

// ErrTooManyElements is returned by DetectElements when more than
// MaxElementCount candidates are found in one image (spec §4.I: "Bound
// the element count (<= 256) to reject pathological archives.").
var ErrTooManyElements = errors.New("zucchini: too many embedded elements detected")

// ErrImposedOverlap is a hard error for an imposed-match spec whose
// intervals overlap in the new image (spec §4.I, Scenario 5).
var ErrImposedOverlap = errors.New("zucchini: imposed matches overlap in new image")

// ErrImposedTypeMismatch is a hard error when an imposed match's two
// halves detect to different, both-known executable types (spec §4.I
// "Imposed matches").
var ErrImposedTypeMismatch = errors.New("zucchini: imposed match halves have inconsistent known types")

// ErrImposedBounds is a hard error when an imposed match's offset+length
// falls outside its image.
var ErrImposedBounds = errors.New("zucchini: imposed match out of bounds")

// DetectElements sweeps data byte-by-byte, invoking each disassembler's
// quick-detect at every position; on success it advances by the element's
// parsed size, otherwise by 1 (spec §4.I "Detection"). maxElements bounds
// the result size.
func DetectElements(data []byte, maxElements int) ([]Element, error) {
	var out []Element
	pos := 0
	for pos < len(data) {
		matched := false
		for _, d := range detectors {
			if pos+minImageSize > len(data) {
				continue
			}
			if !d.quick(data[pos:]) {
				continue
			}
			dis, err := d.parse(data[pos:])
			if err != nil {
				continue
			}
			length := dis.Image().Len()
			out = append(out, Element{Offset: pos, Length: length, ExeType: dis.ExeType()})
			if len(out) > maxElements {
				return nil, ErrTooManyElements
			}
			pos += length
			matched = true
			break
		}
		if !matched {
			pos++
		}
	}
	return out, nil
}

// BuildEnsemble runs full detection on both images, matches elements by
// histogram similarity, applies the multi-DEX rule, and computes
// separators (spec §4.I).
func BuildEnsemble(oldData, newData []byte, maxElementCount int, maxSizeRatio int, maxSizeDiff int64) (*EnsembleMatcher, error) {
	oldElems, err := DetectElements(oldData, maxElementCount)
	if err != nil {
		return nil, err
	}
	newElems, err := DetectElements(newData, maxElementCount)
	if err != nil {
		return nil, err
	}
	m := &EnsembleMatcher{oldData: oldData, newData: newData}
	m.match(oldElems, newElems, maxSizeRatio, maxSizeDiff)
	m.applyMultiDexRule()
	m.computeSeparators(len(newData))
	return m, nil
}

// match pairs each new element with its best-scoring old element of the
// same ExeType, excluding candidates whose size differs too much, and
// routes byte-identical pairs into the identical count instead of the
// match list (spec §4.I "Matching").
func (m *EnsembleMatcher) match(oldElems, newElems []Element, maxSizeRatio int, maxSizeDiff int64) {
	for _, ne := range newElems {
		newBytes := m.newData[ne.Offset : ne.Offset+ne.Length]
		var best *Element
		var bestDist float64
		newHist := NewHistogram(newBytes)

		for i := range oldElems {
			oe := &oldElems[i]
			if oe.ExeType != ne.ExeType {
				continue
			}
			if sizeTooDifferent(oe.Length, ne.Length, maxSizeRatio, maxSizeDiff) {
				continue
			}
			oldBytes := m.oldData[oe.Offset : oe.Offset+oe.Length]
			if oe.Length == ne.Length && bytes.Equal(oldBytes, newBytes) {
				m.numIdentical++
				best = nil
				break
			}
			oldHist := NewHistogram(oldBytes)
			dist := newHist.Distance(oldHist)
			if best == nil || dist < bestDist {
				best = oe
				bestDist = dist
			}
		}
		if best != nil {
			m.matches = append(m.matches, Match{Old: *best, New: ne})
		}
	}
}

// sizeTooDifferent applies the ensemble matcher's safety heuristic (spec
// §4.I: "reject any pair where the larger of the two sizes exceeds twice
// the smaller and the absolute difference exceeds 2 MiB").
func sizeTooDifferent(a, b int, maxRatio int, maxDiff int64) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == 0 {
		return hi != 0
	}
	ratioExceeded := int64(hi) > int64(maxRatio)*int64(lo)
	diffExceeded := int64(hi-lo) > maxDiff
	return ratioExceeded && diffExceeded
}

// applyMultiDexRule drops all DEX matches if more than one was produced
// (spec §4.I "Multi-DEX rule").
func (m *EnsembleMatcher) applyMultiDexRule() {
	dexCount := 0
	for _, mm := range m.matches {
		if mm.New.ExeType == ExeTypeDex {
			dexCount++
		}
	}
	if dexCount <= 1 {
		return
	}
	filtered := m.matches[:0]
	for _, mm := range m.matches {
		if mm.New.ExeType != ExeTypeDex {
			filtered = append(filtered, mm)
		}
	}
	m.matches = filtered
}

// computeSeparators computes the new-image intervals not covered by any
// match, including head and tail; empty intervals are omitted (spec §4.I
// "Separators").
func (m *EnsembleMatcher) computeSeparators(newLen int) {
	sort.Slice(m.matches, func(i, j int) bool { return m.matches[i].New.Offset < m.matches[j].New.Offset })
	m.seps = ComputeSeparators(m.matches, newLen)
}

// ComputeSeparators computes the new-image intervals not covered by any
// match, given matches already sorted by New.Offset (spec §4.I
// "Separators"). Exported so the generator's imposed-match path (which
// bypasses EnsembleMatcher entirely) can compute the same framing.
func ComputeSeparators(matches []Match, newLen int) []Separator {
	var seps []Separator
	cur := 0
	for _, mm := range matches {
		if mm.New.Offset > cur {
			seps = append(seps, Separator{Offset: cur, Length: mm.New.Offset - cur})
		}
		cur = mm.New.Offset + mm.New.Length
	}
	if cur < newLen {
		seps = append(seps, Separator{Offset: cur, Length: newLen - cur})
	} else if len(matches) == 0 {
		seps = []Separator{{Offset: 0, Length: newLen}}
	}
	return seps
}

// Matches returns the final matched element pairs.
func (m *EnsembleMatcher) Matches() []Match { return m.matches }

// Separators returns the new-image regions not covered by any match.
func (m *EnsembleMatcher) Separators() []Separator { return m.seps }

// GetNumIdentical returns the count of byte-identical element pairs
// excluded from Matches (spec Scenario 4).
func (m *EnsembleMatcher) GetNumIdentical() int { return m.numIdentical }

// ParseImposedMatches parses the -impose flag's
// "off+len=off+len,off+len=off+len,..." syntax (spec §6, §4.I), validates
// bounds, and rejects overlapping new-image ranges across every entry,
// whatever its detected type. It also checks the detected types of each
// half: a known-type mismatch is a hard error, and a pair with one or both
// halves of unknown type is reported through warn and dropped. Byte-equal
// pairs are dropped into the identical count rather than the returned
// match list.
func ParseImposedMatches(spec string, oldData, newData []byte, warn func(string)) ([]Match, int, error) {
	if spec == "" {
		return nil, 0, nil
	}
	var matches []Match
	var newRanges []Element
	identical := 0
	for _, pair := range strings.Split(spec, ",") {
		halves := strings.SplitN(pair, "=", 2)
		if len(halves) != 2 {
			return nil, 0, fmt.Errorf("zucchini: malformed impose entry %q", pair)
		}
		oldElem, err := parseImposedHalf(halves[0])
		if err != nil {
			return nil, 0, err
		}
		newElem, err := parseImposedHalf(halves[1])
		if err != nil {
			return nil, 0, err
		}
		if oldElem.Offset+oldElem.Length > len(oldData) || newElem.Offset+newElem.Length > len(newData) {
			return nil, 0, ErrImposedBounds
		}
		newRanges = append(newRanges, newElem)

		oldBytes := oldData[oldElem.Offset : oldElem.Offset+oldElem.Length]
		newBytes := newData[newElem.Offset : newElem.Offset+newElem.Length]
		if oldElem.Length == newElem.Length && bytes.Equal(oldBytes, newBytes) {
			identical++
			continue
		}

		oldDis, oldErr := DetectAndParse(oldBytes)
		newDis, newErr := DetectAndParse(newBytes)
		oldKnown := oldErr == nil && oldDis.ExeType() != ExeTypeNoOp
		newKnown := newErr == nil && newDis.ExeType() != ExeTypeNoOp
		if oldKnown && newKnown {
			if oldDis.ExeType() != newDis.ExeType() {
				return nil, 0, ErrImposedTypeMismatch
			}
			oldElem.ExeType = oldDis.ExeType()
			newElem.ExeType = newDis.ExeType()
		} else {
			if warn != nil {
				warn(fmt.Sprintf("zucchini: imposed match %q has unknown executable type, dropped", pair))
			}
			continue
		}

		matches = append(matches, Match{Old: oldElem, New: newElem})
	}

	sort.Slice(newRanges, func(i, j int) bool { return newRanges[i].Offset < newRanges[j].Offset })
	for i := 1; i < len(newRanges); i++ {
		if newRanges[i].Offset < newRanges[i-1].Offset+newRanges[i-1].Length {
			return nil, 0, ErrImposedOverlap
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].New.Offset < matches[j].New.Offset })

	return matches, identical, nil
}

func parseImposedHalf(s string) (Element, error) {
	parts := strings.SplitN(s, "+", 2)
	if len(parts) != 2 {
		return Element{}, fmt.Errorf("zucchini: malformed impose half %q", s)
	}
	off, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Element{}, fmt.Errorf("zucchini: malformed impose offset %q: %w", parts[0], err)
	}
	length, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Element{}, fmt.Errorf("zucchini: malformed impose length %q: %w", parts[1], err)
	}
	return Element{Offset: int(off), Length: int(length)}, nil
}
