// Package kbin contains wire primitive reading and writing functions for the
// Kafka 0.8 protocol subset this client speaks: signed big-endian integers,
// length-prefixed strings and byte arrays, and homogeneous arrays.
package kbin

import (
	"encoding/binary"
	"errors"
)

// ErrNotEnoughData is returned when a type could not fully decode from a
// slice because the slice did not have enough data.
var ErrNotEnoughData = errors.New("response did not contain enough data to be valid")

// ErrTooMuchData is returned when there is leftover data in a slice after a
// decode that was expected to consume it all.
var ErrTooMuchData = errors.New("response contained too much data to be valid")

// AppendBool appends 1 for true or 0 for false to dst.
func AppendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

// AppendInt8 appends an int8 to dst.
func AppendInt8(dst []byte, i int8) []byte {
	return append(dst, byte(i))
}

// AppendInt16 appends a big endian int16 to dst.
func AppendInt16(dst []byte, i int16) []byte {
	u := uint16(i)
	return append(dst, byte(u>>8), byte(u))
}

// AppendInt32 appends a big endian int32 to dst.
func AppendInt32(dst []byte, i int32) []byte {
	return AppendUint32(dst, uint32(i))
}

// AppendInt64 appends a big endian int64 to dst.
func AppendInt64(dst []byte, i int64) []byte {
	u := uint64(i)
	return append(dst, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// AppendUint32 appends a big endian uint32 to dst.
func AppendUint32(dst []byte, u uint32) []byte {
	return append(dst, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// AppendString appends a string to dst prefixed with its int16 length.
func AppendString(dst []byte, s string) []byte {
	dst = AppendInt16(dst, int16(len(s)))
	return append(dst, s...)
}

// AppendNullableString appends a potentially nil string to dst prefixed
// with its int16 length, or int16(-1) if nil.
func AppendNullableString(dst []byte, s *string) []byte {
	if s == nil {
		return AppendInt16(dst, -1)
	}
	return AppendString(dst, *s)
}

// AppendBytes appends bytes to dst prefixed with its int32 length, or -1 if
// b is nil.
func AppendBytes(dst, b []byte) []byte {
	if b == nil {
		return AppendInt32(dst, -1)
	}
	dst = AppendInt32(dst, int32(len(b)))
	return append(dst, b...)
}

// AppendArrayLen appends the length of an array as an int32 to dst.
func AppendArrayLen(dst []byte, l int) []byte {
	return AppendInt32(dst, int32(l))
}

// Reader decodes Kafka wire primitives from a byte slice.
//
// Every method on Reader returns a zero value once the reader has gone bad
// (ran out of data, or saw a length prefix bigger than the remaining
// buffer); callers decode a whole struct first and check Complete once at
// the end rather than checking every field.
type Reader struct {
	Src []byte
	bad bool
}

// Bool returns a bool from the reader.
func (b *Reader) Bool() bool {
	if len(b.Src) < 1 {
		b.bad = true
		b.Src = nil
		return false
	}
	v := b.Src[0] != 0
	b.Src = b.Src[1:]
	return v
}

// Int8 returns an int8 from the reader.
func (b *Reader) Int8() int8 {
	if len(b.Src) < 1 {
		b.bad = true
		b.Src = nil
		return 0
	}
	r := b.Src[0]
	b.Src = b.Src[1:]
	return int8(r)
}

// Int16 returns an int16 from the reader.
func (b *Reader) Int16() int16 {
	if len(b.Src) < 2 {
		b.bad = true
		b.Src = nil
		return 0
	}
	r := int16(binary.BigEndian.Uint16(b.Src))
	b.Src = b.Src[2:]
	return r
}

// Int32 returns an int32 from the reader.
func (b *Reader) Int32() int32 {
	if len(b.Src) < 4 {
		b.bad = true
		b.Src = nil
		return 0
	}
	r := int32(binary.BigEndian.Uint32(b.Src))
	b.Src = b.Src[4:]
	return r
}

// Int64 returns an int64 from the reader.
func (b *Reader) Int64() int64 {
	if len(b.Src) < 8 {
		b.bad = true
		b.Src = nil
		return 0
	}
	r := int64(binary.BigEndian.Uint64(b.Src))
	b.Src = b.Src[8:]
	return r
}

// Span returns l bytes from the reader.
func (b *Reader) Span(l int) []byte {
	if l < 0 || len(b.Src) < l {
		b.bad = true
		b.Src = nil
		return nil
	}
	r := b.Src[:l:l]
	b.Src = b.Src[l:]
	return r
}

// String returns a Kafka string from the reader.
func (b *Reader) String() string {
	l := b.Int16()
	if l < 0 {
		b.bad = true
		return ""
	}
	return string(b.Span(int(l)))
}

// NullableString returns a Kafka nullable string from the reader.
func (b *Reader) NullableString() *string {
	l := b.Int16()
	if l < 0 {
		return nil
	}
	s := string(b.Span(int(l)))
	return &s
}

// Bytes returns a Kafka byte array from the reader. This never returns nil
// for a present-but-empty array; it returns nil only for a null (-1 length)
// array.
func (b *Reader) Bytes() []byte {
	l := b.Int32()
	if l < 0 {
		return nil
	}
	return b.Span(int(l))
}

// ArrayLen returns a Kafka array length from the reader.
//
// This additionally validates that the remaining buffer could plausibly
// hold that many elements (each at least one byte), to avoid allocating
// huge slices for a corrupt or malicious length prefix.
func (b *Reader) ArrayLen() int32 {
	l := b.Int32()
	if l < -1 {
		b.bad = true
		b.Src = nil
		return 0
	}
	if l > 0 && len(b.Src) < int(l) {
		b.bad = true
		b.Src = nil
		return 0
	}
	return l
}

// Complete returns ErrNotEnoughData if the reader ran out of data mid
// decode, ErrTooMuchData if bytes remain unconsumed, or nil.
func (b *Reader) Complete() error {
	if b.bad {
		return ErrNotEnoughData
	}
	if len(b.Src) > 0 {
		return ErrTooMuchData
	}
	return nil
}

// Ok returns false once the reader has gone bad.
func (b *Reader) Ok() bool {
	return !b.bad
}
