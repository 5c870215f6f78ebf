package kgo

import (
	"bytes"
	"errors"
	"testing"
	"testing/quick"
)

func TestMessageSetRoundTripUncompressed(t *testing.T) {
	ms := NewMessageSet(CompressionNone, 0)
	want := []Record{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: nil, Value: []byte("v2")},
		{Key: []byte("k3"), Value: []byte{}},
	}
	for _, r := range want {
		if err := ms.Push(r.Value, r.Key); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	encoded, err := ms.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeMessageSet(encoded)
	if err != nil {
		t.Fatalf("DecodeMessageSet: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i].Key, want[i].Key) || !bytes.Equal(got[i].Value, want[i].Value) {
			t.Errorf("record %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMessageSetRoundTripCompressed(t *testing.T) {
	for _, comp := range []Compression{CompressionGzip, CompressionSnappy} {
		ms := NewMessageSet(comp, 0)
		for i := 0; i < 5; i++ {
			if err := ms.Push([]byte("payload-that-compresses-ok"), []byte("key")); err != nil {
				t.Fatalf("Push: %v", err)
			}
		}

		encoded, err := ms.Encode()
		if err != nil {
			t.Fatalf("Encode (compression %d): %v", comp, err)
		}

		got, err := DecodeMessageSet(encoded)
		if err != nil {
			t.Fatalf("DecodeMessageSet (compression %d): %v", comp, err)
		}
		if len(got) != 5 {
			t.Fatalf("compression %d: got %d records, want 5", comp, len(got))
		}
		for _, r := range got {
			if string(r.Value) != "payload-that-compresses-ok" {
				t.Errorf("compression %d: got value %q", comp, r.Value)
			}
		}
	}
}

func TestMessageCRCDetectsCorruption(t *testing.T) {
	ms := NewMessageSet(CompressionNone, 0)
	if err := ms.Push([]byte("value"), []byte("key")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	encoded, err := ms.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip the last byte, inside the value, without touching the CRC
	// field itself: decode must still catch this by recomputing the CRC
	// over magic..value and comparing, the same way a broker rejects a
	// produced record whose CRC doesn't match its bytes.
	corrupt := append([]byte(nil), encoded...)
	corrupt[len(corrupt)-1] ^= 0xff

	if _, err := DecodeMessageSet(corrupt); !errors.Is(err, ErrDecoding) {
		t.Fatalf("expected ErrDecoding for a CRC mismatch, got %v", err)
	}
}

func TestMessageSetPushRefusesOnceFull(t *testing.T) {
	ms := NewMessageSet(CompressionNone, 64)
	var pushed int
	for i := 0; i < 1000; i++ {
		if err := ms.Push([]byte("0123456789"), nil); err != nil {
			break
		}
		pushed++
	}
	if pushed == 0 {
		t.Fatal("expected at least one record to fit")
	}
	if err := ms.Push([]byte("0123456789"), nil); err != ErrMessageSetFull {
		t.Fatalf("expected ErrMessageSetFull once full, got %v", err)
	}
	if ms.Len() != pushed {
		t.Fatalf("a refused push must not mutate the set: Len()=%d, want %d", ms.Len(), pushed)
	}
}

func TestMessageEncodedSizeRoundTrip(t *testing.T) {
	if err := quick.Check(func(key, value []byte) bool {
		ms := NewMessageSet(CompressionNone, 0)
		if err := ms.Push(value, key); err != nil {
			return false
		}
		encoded, err := ms.Encode()
		if err != nil {
			return false
		}
		return len(encoded) == messageEncodedSize(key, value)
	}, nil); err != nil {
		t.Error(err)
	}
}

func TestWorstCaseCompressedSizeNeverShrinksBelowIdentity(t *testing.T) {
	for _, n := range []int{0, 1, 100, 1 << 20} {
		if got := worstCaseCompressedSize(CompressionGzip, n); got < n {
			t.Errorf("gzip worst case for %d: got %d, smaller than input", n, got)
		}
		if got := worstCaseCompressedSize(CompressionSnappy, n); got < n {
			t.Errorf("snappy worst case for %d: got %d, smaller than input", n, got)
		}
		if got := worstCaseCompressedSize(CompressionNone, n); got != n {
			t.Errorf("none worst case for %d: got %d, want identity", n, got)
		}
	}
}
