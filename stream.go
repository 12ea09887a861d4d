// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import (
	"errors"
)

// ErrStreamUnderrun is returned by a SourceStream read that would consume
// bytes past the end of the stream (spec §4.A: "On any decode that would
// read past the end of a stream, the operation fails.").
var ErrStreamUnderrun = errors.New("zucchini: stream read past end")

// ErrTooManyStreams is returned when a stream set would exceed the
// maximum stream count (spec §4.A: "Maximum stream count is bounded (256)
// to prevent pathological headers.").
var ErrTooManyStreams = errors.New("zucchini: stream set exceeds maximum stream count")

// MaxStreamCount bounds the number of streams a single stream set may
// carry.
const MaxStreamCount = 256

// PutVarUint appends the VarInt encoding of v to buf and returns the
// extended slice. VarInt is little-endian base-128: each byte carries
// seven payload bits in its low seven bits, with the high bit set when
// more bytes follow.
func PutVarUint(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// PutVarInt zig-zag maps v (n >= 0 => 2n; n < 0 => 2|n|-1) then appends its
// VarInt encoding.
func PutVarInt(buf []byte, v int32) []byte {
	return PutVarUint(buf, zigzagEncode(v))
}

func zigzagEncode(v int32) uint32 {
	return (uint32(v) << 1) ^ uint32(v>>31)
}

func zigzagDecode(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

// GetVarUint decodes a VarInt-encoded uint32 from the front of buf,
// returning the value and the number of bytes consumed. ok is false if buf
// is exhausted before a terminating byte is found, or the value would
// overflow 32 bits (more than 5 bytes).
func GetVarUint(buf []byte) (v uint32, n int, ok bool) {
	var shift uint
	for n = 0; n < len(buf); n++ {
		b := buf[n]
		if shift >= 35 {
			return 0, 0, false
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, n + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}

// GetVarInt decodes a zig-zag VarInt-encoded int32.
func GetVarInt(buf []byte) (v int32, n int, ok bool) {
	u, n, ok := GetVarUint(buf)
	if !ok {
		return 0, 0, false
	}
	return zigzagDecode(u), n, true
}

// SinkStream accumulates encoded values into a growing byte buffer. It is
// the write side of the stream codec (spec §4.A).
type SinkStream struct {
	buf []byte
}

// PutUint8 appends a raw byte.
func (s *SinkStream) PutUint8(v uint8) { s.buf = append(s.buf, v) }

// PutInt8 appends a raw signed byte.
func (s *SinkStream) PutInt8(v int8) { s.buf = append(s.buf, byte(v)) }

// PutVarUint appends the VarInt encoding of v.
func (s *SinkStream) PutVarUint(v uint32) { s.buf = PutVarUint(s.buf, v) }

// PutVarInt appends the zig-zag VarInt encoding of v.
func (s *SinkStream) PutVarInt(v int32) { s.buf = PutVarInt(s.buf, v) }

// PutBytes appends a raw byte range with no length prefix; the reader must
// know the length from context.
func (s *SinkStream) PutBytes(b []byte) { s.buf = append(s.buf, b...) }

// Len returns the number of bytes written so far.
func (s *SinkStream) Len() int { return len(s.buf) }

// Bytes returns the accumulated buffer.
func (s *SinkStream) Bytes() []byte { return s.buf }

// SourceStream reads encoded values from a fixed byte range with bounds
// checking (spec §4.A).
type SourceStream struct {
	buf []byte
	pos int
}

// NewSourceStream wraps buf for sequential decoding.
func NewSourceStream(buf []byte) *SourceStream {
	return &SourceStream{buf: buf}
}

// Remaining returns the number of unread bytes.
func (s *SourceStream) Remaining() int { return len(s.buf) - s.pos }

// GetUint8 reads one raw byte.
func (s *SourceStream) GetUint8() (uint8, error) {
	if s.Remaining() < 1 {
		return 0, ErrStreamUnderrun
	}
	v := s.buf[s.pos]
	s.pos++
	return v, nil
}

// GetInt8 reads one raw signed byte.
func (s *SourceStream) GetInt8() (int8, error) {
	v, err := s.GetUint8()
	return int8(v), err
}

// GetVarUint reads and decodes a VarInt-encoded uint32.
func (s *SourceStream) GetVarUint() (uint32, error) {
	v, n, ok := GetVarUint(s.buf[s.pos:])
	if !ok {
		return 0, ErrStreamUnderrun
	}
	s.pos += n
	return v, nil
}

// GetVarInt reads and decodes a zig-zag VarInt-encoded int32.
func (s *SourceStream) GetVarInt() (int32, error) {
	v, n, ok := GetVarInt(s.buf[s.pos:])
	if !ok {
		return 0, ErrStreamUnderrun
	}
	s.pos += n
	return v, nil
}

// GetBytes reads n raw bytes.
func (s *SourceStream) GetBytes(n int) ([]byte, error) {
	if s.Remaining() < n {
		return nil, ErrStreamUnderrun
	}
	b := s.buf[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

// SinkStreamSet owns a fixed number of independently-growing sink streams
// indexed by a small integer key (spec §4.A, §4.K stream IDs). Keys are
// written to the serialized output in ascending order regardless of the
// order they were first touched in, so callers can rely on stream ID N
// landing at substream index N on the reading side even when some keys in
// between are never written to (they serialize as empty streams).
type SinkStreamSet struct {
	streams  map[int]*SinkStream
	maxKey   int
	anyKey   bool
}

// NewSinkStreamSet creates an empty stream set.
func NewSinkStreamSet() *SinkStreamSet {
	return &SinkStreamSet{streams: make(map[int]*SinkStream)}
}

// Stream returns the sink stream for key, creating it on first use.
func (s *SinkStreamSet) Stream(key int) *SinkStream {
	if st, ok := s.streams[key]; ok {
		return st
	}
	st := &SinkStream{}
	s.streams[key] = st
	if !s.anyKey || key > s.maxKey {
		s.maxKey = key
	}
	s.anyKey = true
	return st
}

// Serialize writes: stream count (VarInt), each stream's size (VarInt),
// then each stream's bytes, in ascending key order from 0 to the highest
// key touched. Untouched keys below the highest serialize as zero-length
// streams so substream index always equals stream ID.
func (s *SinkStreamSet) Serialize() ([]byte, error) {
	if !s.anyKey {
		return PutVarUint(nil, 0), nil
	}
	count := s.maxKey + 1
	if count > MaxStreamCount {
		return nil, ErrTooManyStreams
	}
	empty := &SinkStream{}
	at := func(k int) *SinkStream {
		if st, ok := s.streams[k]; ok {
			return st
		}
		return empty
	}
	var out []byte
	out = PutVarUint(out, uint32(count))
	for k := 0; k < count; k++ {
		out = PutVarUint(out, uint32(at(k).Len()))
	}
	for k := 0; k < count; k++ {
		out = append(out, at(k).Bytes()...)
	}
	return out, nil
}

// SourceStreamSet reparses the SinkStreamSet layout, returning substream
// views over the input byte range in the same order they were written.
type SourceStreamSet struct {
	streams []*SourceStream
}

// ParseSourceStreamSet reads the stream-count/size header from buf and
// slices the remainder into per-stream SourceStream views, in writer
// order. A decode that would read past buf's end fails.
func ParseSourceStreamSet(buf []byte) (*SourceStreamSet, error) {
	count, n, ok := GetVarUint(buf)
	if !ok {
		return nil, ErrStreamUnderrun
	}
	if count > MaxStreamCount {
		return nil, ErrTooManyStreams
	}
	buf = buf[n:]

	sizes := make([]uint32, count)
	for i := range sizes {
		v, m, ok := GetVarUint(buf)
		if !ok {
			return nil, ErrStreamUnderrun
		}
		sizes[i] = v
		buf = buf[m:]
	}

	set := &SourceStreamSet{streams: make([]*SourceStream, count)}
	for i, sz := range sizes {
		if uint32(len(buf)) < sz {
			return nil, ErrStreamUnderrun
		}
		set.streams[i] = NewSourceStream(buf[:sz])
		buf = buf[sz:]
	}
	return set, nil
}

// StreamAt returns the i-th substream in writer order.
func (s *SourceStreamSet) StreamAt(i int) (*SourceStream, bool) {
	if i < 0 || i >= len(s.streams) {
		return nil, false
	}
	return s.streams[i], true
}

// Count returns the number of substreams.
func (s *SourceStreamSet) Count() int { return len(s.streams) }
