// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	oldData := []byte("the quick brown fox")
	newData := []byte("the quick red fox jumps")

	h := MakeHeader(oldData, newData)
	buf := WriteHeader(nil, h)

	got, n, err := ReadHeader(buf, oldData)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d bytes, want %d", n, len(buf))
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestReadHeaderRejectsOldSizeMismatch(t *testing.T) {
	oldData := []byte("abc")
	h := MakeHeader(oldData, []byte("abcd"))
	buf := WriteHeader(nil, h)

	_, _, err := ReadHeader(buf, []byte("ab"))
	if err != ErrOldSizeMismatch {
		t.Errorf("got %v, want ErrOldSizeMismatch", err)
	}
}

func TestReadHeaderRejectsOldCRCMismatch(t *testing.T) {
	oldData := []byte("abc")
	h := MakeHeader(oldData, []byte("abcd"))
	buf := WriteHeader(nil, h)

	_, _, err := ReadHeader(buf, []byte("abd"))
	if err != ErrOldCRCMismatch {
		t.Errorf("got %v, want ErrOldCRCMismatch", err)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := PutVarUint(nil, 0xdeadbeef)
	_, _, err := ReadHeader(buf, nil)
	if err != ErrBadMagic {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}
