// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

// Image is a contiguous byte sequence with known length, optionally
// truncated by a disassembler to exclude trailing data the parser does
// not recognize (spec §3). Disassemblers never mutate the underlying
// bytes; they only ever narrow the view.
type Image struct {
	data []byte
}

// NewImage wraps data as a full-length image.
func NewImage(data []byte) Image { return Image{data: data} }

// Bytes returns the image's current byte range.
func (im Image) Bytes() []byte { return im.data }

// Len returns the image's current length.
func (im Image) Len() int { return len(im.data) }

// Truncate narrows the image to its first n bytes. Used by a disassembler
// when it recognizes only a prefix of the supplied data as the element
// (spec §4.B: "possibly shrink the image to the recognized length").
func (im Image) Truncate(n int) Image {
	if n > len(im.data) {
		n = len(im.data)
	}
	return Image{data: im.data[:n]}
}

// Slice returns the sub-image [lo, hi).
func (im Image) Slice(lo, hi int) Image {
	return Image{data: im.data[lo:hi]}
}
