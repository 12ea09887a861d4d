// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"bytes"
	"testing"

	"github.com/saferwall/zucchini/internal/config"
)

func TestGenerateApplyRoundTrip(t *testing.T) {
	tun := config.Default()

	tests := []struct {
		name string
		old  []byte
		new  []byte
		opts GenerateOptions
	}{
		{
			name: "raw",
			old:  []byte("the quick brown fox jumps over the lazy dog"),
			new:  []byte("completely different contents, different length too"),
			opts: GenerateOptions{Raw: true, Tunables: tun},
		},
		{
			name: "identical inputs",
			old:  bytes.Repeat([]byte("identical payload, repeated for bulk "), 20),
			new:  bytes.Repeat([]byte("identical payload, repeated for bulk "), 20),
			opts: GenerateOptions{Tunables: tun},
		},
		{
			name: "single unrecognized element, small edit",
			old:  bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog. "), 30),
			new:  append(append([]byte{}, bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog. "), 15)...), bytes.Repeat([]byte("The slow red fox crawls under the lazy cat. "), 15)...),
			opts: GenerateOptions{Tunables: tun},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := Generate(tt.old, tt.new, tt.opts)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}

			got, err := Apply(patch, tt.old, tun)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if !bytes.Equal(got, tt.new) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tt.new))
			}
		})
	}
}

func TestGenerateImposedMatch(t *testing.T) {
	tun := config.Default()
	old := bytes.Repeat([]byte("AAAABBBBCCCCDDDD"), 10)
	newData := bytes.Repeat([]byte("AAAABBBBCCCCEEEE"), 10)

	patch, err := Generate(old, newData, GenerateOptions{
		Tunables: tun,
		Impose:   "0+160=0+160",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	got, err := Apply(patch, old, tun)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !bytes.Equal(got, newData) {
		t.Fatalf("round trip mismatch under -impose")
	}
}

func TestApplyRejectsTamperedPatch(t *testing.T) {
	tun := config.Default()
	old := []byte("the quick brown fox")
	newData := []byte("the quick red fox runs")

	patch, err := Generate(old, newData, GenerateOptions{Tunables: tun})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	tampered := append([]byte(nil), patch...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := Apply(tampered, old, tun); err == nil {
		t.Errorf("Apply accepted a tampered patch")
	}
}
