// Package suffixarray implements the "suffix array library" spec §6 lists
// as an external collaborator already assumed available ("builds in place
// from a random-access sequence of ranks with known cardinality... public
// surface needed: constructor, search(pattern) -> (position, common_prefix_length)").
//
// The real production build uses SA-IS (spec §9), which is explicitly out of
// scope for this engine (spec §1's Out of scope list: "the suffix-array
// construction algorithm (assumed available as a library)"). No such
// generic-alphabet suffix-array library exists anywhere in the retrieved
// example pack (stdlib's index/suffixarray only indexes byte-alphabet data,
// and the encoded view's rank alphabet routinely exceeds 256 symbols per
// spec §3), so this package supplies a straightforward, correct
// comparison-sort construction behind the same interface a faster
// algorithm would expose — swapping in SA-IS later is a drop-in
// replacement of New, not a change to any caller.
package suffixarray

import "sort"

// Index is a suffix array over a fixed rank sequence.
type Index struct {
	ranks []int32
	sa    []int32
}

// New builds a suffix array over ranks. cardinality is accepted to mirror
// the named collaborator's constructor signature (a counting-sort-based
// implementation would need it); the comparison-sort construction here
// does not.
func New(ranks []int32, cardinality int) *Index {
	_ = cardinality
	n := len(ranks)
	sa := make([]int32, n)
	for i := range sa {
		sa[i] = int32(i)
	}
	sort.Slice(sa, func(i, j int) bool {
		return lessSuffix(ranks, sa[i], sa[j])
	})
	return &Index{ranks: ranks, sa: sa}
}

// Search returns the position of the old-image suffix with the longest
// common prefix against pattern, and the length of that common prefix.
// Only the suffix at the pattern's insertion point in suffix-array order
// and its predecessor are compared; when both share an equally long
// prefix with pattern, the one at the insertion point is returned.
func (idx *Index) Search(pattern []int32) (pos int, commonPrefixLen int) {
	n := len(idx.sa)
	if n == 0 || len(pattern) == 0 {
		return 0, 0
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if compareSuffix(idx.ranks, idx.sa[mid], pattern) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	bestPos, bestLen := -1, -1
	consider := func(i int) {
		if i < 0 || i >= n {
			return
		}
		p := int(idx.sa[i])
		l := commonPrefix(idx.ranks[p:], pattern)
		if l > bestLen {
			bestLen = l
			bestPos = p
		}
	}
	consider(lo)
	consider(lo - 1)

	if bestPos < 0 {
		return 0, 0
	}
	return bestPos, bestLen
}

func lessSuffix(ranks []int32, a, b int32) bool {
	n := int32(len(ranks))
	for {
		aDone, bDone := a >= n, b >= n
		if aDone || bDone {
			return aDone && !bDone
		}
		if ranks[a] != ranks[b] {
			return ranks[a] < ranks[b]
		}
		a++
		b++
	}
}

// compareSuffix returns -1, 0, or 1 comparing the suffix of ranks starting
// at start against pattern, treating pattern as if padded with a value
// smaller than every rank once exhausted (so a suffix that merely starts
// with pattern compares greater, keeping pattern's insertion point stable).
func compareSuffix(ranks []int32, start int32, pattern []int32) int {
	i := start
	n := int32(len(ranks))
	for j := 0; j < len(pattern); j++ {
		if i >= n {
			return -1
		}
		if ranks[i] != pattern[j] {
			if ranks[i] < pattern[j] {
				return -1
			}
			return 1
		}
		i++
	}
	return 0
}

func commonPrefix(a, b []int32) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
