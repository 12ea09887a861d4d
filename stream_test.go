// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "testing"

func TestVarUintRoundTrip(t *testing.T) {
	tests := []uint32{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0xffffffff}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			buf := PutVarUint(nil, tt)
			v, n, ok := GetVarUint(buf)
			if !ok {
				t.Fatalf("GetVarUint(%x) failed to decode", buf)
			}
			if n != len(buf) {
				t.Errorf("consumed %d bytes, want %d", n, len(buf))
			}
			if v != tt {
				t.Errorf("got %d, want %d", v, tt)
			}
		})
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	tests := []int32{0, 1, -1, 127, -128, 1 << 20, -(1 << 20)}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			buf := PutVarInt(nil, tt)
			v, _, ok := GetVarInt(buf)
			if !ok {
				t.Fatalf("GetVarInt(%x) failed to decode", buf)
			}
			if v != tt {
				t.Errorf("got %d, want %d", v, tt)
			}
		})
	}
}

func TestGetVarUintUnderrun(t *testing.T) {
	// A byte with the continuation bit set and nothing after it must not
	// decode.
	_, _, ok := GetVarUint([]byte{0x80})
	if ok {
		t.Errorf("GetVarUint decoded a truncated varint")
	}
}

func TestSinkStreamSetPreservesKeyOrder(t *testing.T) {
	s := NewSinkStreamSet()
	s.Stream(2).PutUint8(0xAA)
	s.Stream(0).PutUint8(0x11)
	// key 1 is never touched; it must still serialize as an empty stream.

	buf, err := s.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	set, err := ParseSourceStreamSet(buf)
	if err != nil {
		t.Fatalf("ParseSourceStreamSet failed: %v", err)
	}
	if set.Count() != 3 {
		t.Fatalf("got %d substreams, want 3", set.Count())
	}

	st0, _ := set.StreamAt(0)
	if v, err := st0.GetUint8(); err != nil || v != 0x11 {
		t.Errorf("stream 0: got (%v, %v), want 0x11", v, err)
	}

	st1, _ := set.StreamAt(1)
	if st1.Remaining() != 0 {
		t.Errorf("stream 1: got %d remaining bytes, want 0", st1.Remaining())
	}

	st2, _ := set.StreamAt(2)
	if v, err := st2.GetUint8(); err != nil || v != 0xAA {
		t.Errorf("stream 2: got (%v, %v), want 0xAA", v, err)
	}
}

func TestSourceStreamUnderrun(t *testing.T) {
	s := NewSourceStream([]byte{0x01})
	if _, err := s.GetBytes(2); err != ErrStreamUnderrun {
		t.Errorf("GetBytes(2) on a 1-byte stream: got %v, want ErrStreamUnderrun", err)
	}
}
