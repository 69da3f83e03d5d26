package plist

import (
	"bytes"
	"testing"

	"github.com/aeyre/plist/cf"
)

func roundTripBplist15(t *testing.T, v cf.Value) cf.Value {
	t.Helper()
	var buf bytes.Buffer
	if err := encodeBplist15(&buf, v); err != nil {
		t.Fatalf("encodeBplist15: %v", err)
	}
	got, err := decodeBplist15(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decodeBplist15: %v", err)
	}
	return got
}

func TestBplist15RoundTripV15OnlyVariants(t *testing.T) {
	base := "http://example.com/"
	values := []cf.Value{
		cf.Null{},
		cf.UUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		cf.URL{Target: "child.plist"},
		cf.URL{Target: "child.plist", Base: &base},
		cf.Set{cf.Int(1), cf.Str("two"), cf.Bool(true)},
	}
	for _, v := range values {
		got := roundTripBplist15(t, v)
		if !cf.Equal(got, v) {
			t.Errorf("round trip of %s = %#v, want %#v", v.TypeName(), got, v)
		}
	}
}

func TestBplist15RoundTripNested(t *testing.T) {
	d := cf.NewDict()
	d.Set("id", cf.UUID{1, 2, 3})
	d.Set("children", cf.Array{cf.Null{}, cf.Int(42), cf.Set{cf.Str("x")}})
	got := roundTripBplist15(t, d)
	if !cf.Equal(got, d) {
		t.Errorf("round trip mismatch: got %#v, want %#v", got, d)
	}
}

func TestBplist15RejectsUIDOnEncode(t *testing.T) {
	var buf bytes.Buffer
	err := encodeBplist15(&buf, cf.UID(7))
	if err == nil {
		t.Fatal("expected encodeBplist15 to reject UID")
	}
	if _, ok := err.(*EncodingRejectedError); !ok {
		t.Errorf("expected EncodingRejectedError, got %T", err)
	}
}

func TestBplist15RejectsUIDOnDecode(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("bplist15")
	buf.WriteByte(markerIntMask | 0x3)
	lenOff := buf.Len()
	packBE(&buf, 0, 8)
	buf.WriteByte(markerIntMask | 0x2)
	packBE(&buf, 0, 4)
	buf.WriteByte(0x80) // UID marker, width 1

	out := buf.Bytes()
	total := uint64(len(out))
	packUint64At(out, lenOff, total)

	_, err := decodeBplist15(bytes.NewReader(out))
	if err == nil {
		t.Fatal("expected UID to be rejected in a v15 document")
	}
	if _, ok := err.(*TypeMismatchError); !ok {
		t.Errorf("expected TypeMismatchError, got %T (%v)", err, err)
	}
}

// TestBplist15ExtendedCountOverflowRejected hand-crafts an Array object
// whose extended count claims 2^62 elements. Nothing bounds that count
// against the document's actual length before it reaches
// make(cf.Array, cnt), so an unguarded decoder would OOM or panic on this
// 32-byte file.
func TestBplist15ExtendedCountOverflowRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("bplist15")
	buf.WriteByte(markerIntMask | 0x3)
	lenOff := buf.Len()
	packBE(&buf, 0, 8)
	buf.WriteByte(markerIntMask | 0x2)
	packBE(&buf, 0, 4)
	buf.WriteByte(markerArray | countExtended) // array, extended count follows
	buf.WriteByte(markerIntMask | 0x3)         // count is an 8-byte Int
	packBE(&buf, 1<<62, 8)                     // count = 2^62 (lies)

	out := buf.Bytes()
	packUint64At(out, lenOff, uint64(len(out)))

	_, err := decodeBplist15(bytes.NewReader(out))
	if err == nil {
		t.Fatal("expected an oversized extended count to be rejected")
	}
	if _, ok := err.(*OverflowError); !ok {
		t.Errorf("expected OverflowError, got %T (%v)", err, err)
	}
}

func TestBplist15MinimumLengthGuard(t *testing.T) {
	short := bytes.Repeat([]byte{0}, bplist15MinLength-1)
	_, err := decodeBplist15(bytes.NewReader(short))
	if err == nil {
		t.Fatal("expected a file shorter than 23 bytes to fail")
	}
	if _, ok := err.(*MalformedHeaderError); !ok {
		t.Errorf("expected MalformedHeaderError, got %T (%v)", err, err)
	}
}

func TestBplist15LengthLieFails(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeBplist15(&buf, cf.Bool(true)); err != nil {
		t.Fatalf("encodeBplist15: %v", err)
	}
	out := append([]byte(nil), buf.Bytes()...)
	// Corrupt the length field (bytes 9-16) so it no longer matches the
	// file's real size.
	packUint64At(out, 9, uint64(len(out))+1)

	_, err := decodeBplist15(bytes.NewReader(out))
	if err == nil {
		t.Fatal("expected a length mismatch to fail decoding")
	}
	if _, ok := err.(*MalformedHeaderError); !ok {
		t.Errorf("expected MalformedHeaderError, got %T (%v)", err, err)
	}
}

// packUint64At writes v as 8 big-endian bytes into b starting at offset,
// used by tests that hand-craft or corrupt a v15 document's length field.
func packUint64At(b []byte, offset int, v uint64) {
	for i := 7; i >= 0; i-- {
		b[offset+i] = byte(v)
		v >>= 8
	}
}
