package kgo

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	xsnappy "github.com/eapache/go-xerial-snappy"
	"github.com/golang/snappy"

	"github.com/synckafka/synckafka/kgo/kbin"
)

// Compression identifies a legacy (magic byte 0) message attributes
// compression codec. Only the low 2 bits of the attributes byte are
// meaningful in the 0.8 wire format; every other bit is reserved.
type Compression int8

const (
	CompressionNone   Compression = 0
	CompressionGzip   Compression = 1
	CompressionSnappy Compression = 2
)

const defaultMaxMessageSetBytes = 1000000 // Kafka's broker-side default

// record is one key/value pair queued in a MessageSet, prior to
// encoding.
type record struct {
	key, value []byte
}

// MessageSet is an ordered collection of records bound for a single
// (topic, partition), encoded using the legacy Kafka 0.8 message
// format: one CRC32 per record, rather than the CRC-per-batch v2 record
// batch format this client does not speak.
//
// A MessageSet tracks its own worst-case encoded size as records are
// pushed and refuses any push that would exceed its maximum, so a caller
// never builds a batch the broker would reject for being oversized.
type MessageSet struct {
	compression Compression
	maxBytes    int

	records     []record
	encodedSize int // sum of messageEncodedSize, uncompressed
}

// NewMessageSet returns an empty MessageSet that will compress its
// wire-encoded batch with the given codec, and that refuses pushes once
// the worst-case compressed size would exceed maxBytes. A maxBytes of 0
// uses Kafka's own broker-side default (1,000,000 bytes).
func NewMessageSet(compression Compression, maxBytes int) *MessageSet {
	if maxBytes <= 0 {
		maxBytes = defaultMaxMessageSetBytes
	}
	return &MessageSet{compression: compression, maxBytes: maxBytes}
}

// Push appends a record to the set. It returns ErrMessageSetFull,
// without modifying the set, if doing so would push the set's
// worst-case compressed size past its configured maximum.
func (ms *MessageSet) Push(value, key []byte) error {
	size := messageEncodedSize(key, value)
	total := worstCaseCompressedSize(ms.compression, ms.encodedSize+size)
	if ms.compression != CompressionNone {
		total += messageEncodedSize(nil, nil) // outer wrapper Message that Encode adds
	}
	if total > ms.maxBytes {
		return ErrMessageSetFull
	}
	ms.encodedSize += size
	ms.records = append(ms.records, record{key: key, value: value})
	return nil
}

// Len returns the number of records currently queued.
func (ms *MessageSet) Len() int { return len(ms.records) }

// messageEncodedSize returns the uncompressed, on-wire size of one
// MessageSet entry: the 8-byte offset and 4-byte length prefix around a
// Message of the given key/value.
func messageEncodedSize(key, value []byte) int {
	return 8 + 4 + // offset + message length prefix
		4 + 1 + 1 + // crc + magic + attributes
		4 + len(key) +
		4 + len(value)
}

// worstCaseCompressedSize bounds the size an uncompressed payload of n
// bytes could expand to after compression, mirroring zlib's
// deflateBound for gzip and snappy's MaxEncodedLen for snappy.
func worstCaseCompressedSize(c Compression, n int) int {
	switch c {
	case CompressionGzip:
		return n + n>>12 + n>>14 + n>>25 + 13 + 18 // +18 for the gzip header/trailer
	case CompressionSnappy:
		return snappy.MaxEncodedLen(n)
	default:
		return n
	}
}

// Encode appends the wire encoding of the message set to dst and
// returns the result. If the set compresses its records, Encode first
// encodes every record uncompressed into a scratch buffer, compresses
// that buffer, and wraps the result as the value of a single outer
// Message whose attributes carry the real compression codec — exactly
// how a 0.8 broker expects a compressed batch to be framed.
func (ms *MessageSet) Encode() ([]byte, error) {
	if ms.compression == CompressionNone {
		return appendUncompressedMessageSet(nil, ms.records), nil
	}

	inner := appendUncompressedMessageSet(nil, ms.records)

	compressed, err := compressBytes(ms.compression, inner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	var dst []byte
	dst = kbin.AppendInt64(dst, 0) // offset, ignored by the broker on produce
	lenAt := len(dst)
	dst = append(dst, 0, 0, 0, 0) // message length, patched below
	dst = appendMessage(dst, nil, compressed, ms.compression)
	kbin.AppendInt32(dst[lenAt:lenAt], int32(len(dst)-lenAt-4))
	return dst, nil
}

func appendUncompressedMessageSet(dst []byte, records []record) []byte {
	for _, r := range records {
		dst = kbin.AppendInt64(dst, 0) // offset, ignored by the broker on produce
		lenAt := len(dst)
		dst = append(dst, 0, 0, 0, 0) // message length, patched below
		dst = appendMessage(dst, r.key, r.value, CompressionNone)
		kbin.AppendInt32(dst[lenAt:lenAt], int32(len(dst)-lenAt-4))
	}
	return dst
}

// appendMessage appends one legacy Message (crc, magic, attributes,
// key, value) to dst. The CRC32 (IEEE polynomial) covers every byte
// from the magic byte through the value, matching the 0.8 wire format;
// this is distinct from the Castagnoli CRC used by the newer
// record-batch-v2 format.
func appendMessage(dst, key, value []byte, attrCompression Compression) []byte {
	crcAt := len(dst)
	dst = append(dst, 0, 0, 0, 0) // crc, patched below
	bodyAt := len(dst)
	dst = kbin.AppendInt8(dst, 0) // magic byte: always 0 for the legacy format
	dst = kbin.AppendInt8(dst, int8(attrCompression&0x3))
	dst = kbin.AppendBytes(dst, key)
	dst = kbin.AppendBytes(dst, value)
	crc := crc32.ChecksumIEEE(dst[bodyAt:])
	kbin.AppendUint32(dst[crcAt:crcAt], crc)
	return dst
}

func compressBytes(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return xsnappy.Encode(src), nil
	default:
		return src, nil
	}
}

func decompressBytes(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionSnappy:
		return xsnappy.Decode(src)
	default:
		return src, nil
	}
}

// errTruncatedTrailingEntry signals that src ran out of bytes while
// starting a new entry, the normal way a message set ends: it carries
// no length prefix of its own when it is the final field of a response
// (Kafka relies on the surrounding response's length to know where to
// stop), and a broker is allowed to truncate the very last entry to fit
// a fetch/produce response within its size bound. DecodeMessageSet
// treats this as clean termination rather than a decode error.
var errTruncatedTrailingEntry = errors.New("kgo: truncated trailing message set entry")

// DecodeMessageSet parses a wire-encoded message set, recursively
// expanding any compressed entries, and returns the decoded key/value
// records in order.
//
// Every entry's CRC is verified against its magic/attributes/key/value
// bytes; a mismatch always fails the decode with ErrDecoding, regardless
// of where in the set it occurs, since a broker never sends a record it
// didn't itself just compute a valid CRC for.
func DecodeMessageSet(src []byte) ([]Record, error) {
	var out []Record
	for len(src) > 0 {
		next, recs, err := decodeOneEntry(src)
		if err != nil {
			if errors.Is(err, errTruncatedTrailingEntry) {
				break
			}
			return nil, err
		}
		out = append(out, recs...)
		src = next
	}
	return out, nil
}

// Record is one decoded key/value pair recovered from a MessageSet.
type Record struct {
	Key, Value []byte
}

// decodeOneEntry decodes a single offset+length+Message entry from the
// front of src, returning the remaining bytes and the one or more
// Records it yielded (more than one if it was a compressed wrapper).
func decodeOneEntry(src []byte) (rest []byte, recs []Record, err error) {
	b := kbin.Reader{Src: src}
	b.Int64() // offset, unused on decode
	msgLen := b.Int32()
	if !b.Ok() || msgLen < 0 {
		return nil, nil, errTruncatedTrailingEntry
	}
	body := b.Span(int(msgLen))
	if !b.Ok() {
		return nil, nil, errTruncatedTrailingEntry
	}

	m := kbin.Reader{Src: body}
	wantCRC := uint32(m.Int32())
	crcCoveredAt := len(body) - len(m.Src)
	m.Int8() // magic byte, always 0 for formats this client speaks
	attrs := m.Int8()
	key := m.Bytes()
	value := m.Bytes()
	if !m.Ok() {
		return nil, nil, fmt.Errorf("%w: message body ran out of data mid-record", ErrDecoding)
	}
	if gotCRC := crc32.ChecksumIEEE(body[crcCoveredAt:]); gotCRC != wantCRC {
		return nil, nil, fmt.Errorf("%w: crc mismatch (want %#x, got %#x)", ErrDecoding, wantCRC, gotCRC)
	}

	comp := Compression(attrs & 0x3)
	if comp == CompressionNone {
		return b.Src, []Record{{Key: key, Value: value}}, nil
	}

	decompressed, err := decompressBytes(comp, value)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	inner, err := DecodeMessageSet(decompressed)
	if err != nil {
		return nil, nil, err
	}
	return b.Src, inner, nil
}
