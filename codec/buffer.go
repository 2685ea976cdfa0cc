// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package codec

import "encoding/binary"

// Reader is a bounds-checked cursor over a fixed byte slice — the buffer
// abstraction the message codec consumes. It never allocates; every take
// or peek reads directly from the backing slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reading from offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Bytes returns the full backing slice, for name decoding, which must be
// able to follow a compression pointer to any earlier offset in the
// message rather than only what's left to read.
func (r *Reader) Bytes() []byte { return r.buf }

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Take advances the cursor by n bytes and returns them, or
// ErrNotEnoughBytes if fewer than n bytes remain.
func (r *Reader) Take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrNotEnoughBytes
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// TakeUint8 reads and consumes one byte.
func (r *Reader) TakeUint8() (uint8, error) {
	b, err := r.Take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// TakeUint16 reads and consumes a big-endian uint16.
func (r *Reader) TakeUint16() (uint16, error) {
	b, err := r.Take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// TakeUint32 reads and consumes a big-endian uint32.
func (r *Reader) TakeUint32() (uint32, error) {
	b, err := r.Take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// PeekUint8 returns the next byte without consuming it.
func (r *Reader) PeekUint8() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrNotEnoughBytes
	}
	return r.buf[r.pos], nil
}

// Seek repositions the cursor to an absolute offset, failing with
// ErrNotEnoughBytes if offset lies outside the buffer. The name decoder
// does not use it: Reader.DecodeName sets the position itself from the
// offset DecodeName returns.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > len(r.buf) {
		return ErrNotEnoughBytes
	}
	r.pos = offset
	return nil
}

// DecodeName decodes a name starting at the reader's current position
// and advances the reader past it, following compression pointers as
// DecodeName (the package function) does.
func (r *Reader) DecodeName() (Name, error) {
	n, newOffset, err := DecodeName(r.buf, r.pos)
	if err != nil {
		return Name{}, err
	}
	r.pos = newOffset
	return n, nil
}

// Writer is a bounds-checked, fixed-capacity wire writer. Capacity is
// fixed at construction so that encoding a message that doesn't fit
// fails with ErrTruncatedMessage before any partial frame is produced.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter wraps buf (from an Arena or any caller-owned slice) for
// writing from offset 0. Its capacity is len(buf).
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.pos }

// Cap returns the writer's fixed capacity.
func (w *Writer) Cap() int { return len(w.buf) }

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte { return w.buf[:w.pos] }

// Reset truncates the writer back to empty without reallocating, so a
// single scratch buffer can be reused across requests.
func (w *Writer) Reset() { w.pos = 0 }

// Write appends b, failing with ErrTruncatedMessage if it would overflow
// the writer's capacity.
func (w *Writer) Write(b []byte) error {
	if w.pos+len(b) > len(w.buf) {
		return ErrTruncatedMessage
	}
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
	return nil
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) error {
	return w.Write([]byte{v})
}

// WriteUint16 appends a big-endian uint16.
func (w *Writer) WriteUint16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.Write(b[:])
}

// WriteUint32 appends a big-endian uint32.
func (w *Writer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.Write(b[:])
}

// Truncate discards everything written after n bytes, used when a
// message must be re-encoded with fewer answers after overflowing the
// writer's capacity.
func (w *Writer) Truncate(n int) {
	if n < w.pos {
		w.pos = n
	}
}
