package suffixarray

import "testing"

func ranksFromString(s string) []int32 {
	out := make([]int32, len(s))
	for i, c := range s {
		out[i] = int32(c)
	}
	return out
}

func TestSearchExactSubstring(t *testing.T) {
	idx := New(ranksFromString("banana"), 256)
	pos, lcp := idx.Search(ranksFromString("ana"))
	if lcp != 3 {
		t.Fatalf("lcp = %d, want 3", lcp)
	}
	if pos != 1 && pos != 3 {
		t.Fatalf("pos = %d, want 1 or 3", pos)
	}
}

func TestSearchLongestCommonPrefix(t *testing.T) {
	idx := New(ranksFromString("abcabd"), 256)
	// "abcX" shares a 3-byte prefix "abc" with the suffix at 0.
	_, lcp := idx.Search(ranksFromString("abcxyz"))
	if lcp != 3 {
		t.Fatalf("lcp = %d, want 3", lcp)
	}
}

func TestSearchNoMatch(t *testing.T) {
	idx := New(ranksFromString("aaaa"), 256)
	_, lcp := idx.Search(ranksFromString("zzz"))
	if lcp != 0 {
		t.Fatalf("lcp = %d, want 0", lcp)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(nil, 256)
	pos, lcp := idx.Search(ranksFromString("a"))
	if pos != 0 || lcp != 0 {
		t.Fatalf("pos=%d lcp=%d, want 0,0", pos, lcp)
	}
}
