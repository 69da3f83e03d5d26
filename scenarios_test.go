package plist

import (
	"bytes"
	"testing"

	"github.com/aeyre/plist/cf"
)

// TestScenarioKThreeHundred exercises the exact byte layout described for
// { "k": 300 }: a 3-object document (dict, "k", 300) with 1-byte refs,
// keys preceding values, and a 2-byte-wide integer.
func TestScenarioKThreeHundred(t *testing.T) {
	d := cf.NewDict()
	d.Set("k", cf.Int(300))

	var buf bytes.Buffer
	if err := encodeBplist00(&buf, d); err != nil {
		t.Fatalf("encodeBplist00: %v", err)
	}

	trailer, err := decodeBplist00Trailer(buf.Bytes())
	if err != nil {
		t.Fatalf("trailer decode: %v", err)
	}
	if trailer.NumObjects != 3 {
		t.Errorf("numObjects = %d, want 3 (dict + \"k\" + 300)", trailer.NumObjects)
	}

	got := buf.Bytes()
	dictBody := got[8:11]
	if dictBody[0] != 0xD1 {
		t.Errorf("dict marker = %#x, want 0xD1", dictBody[0])
	}

	got2, err := decodeBplist00(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decodeBplist00: %v", err)
	}
	if !cf.Equal(got2, d) {
		t.Errorf("round trip mismatch: got %#v, want %#v", got2, d)
	}
}

// TestScenarioUnicodeStringUsesUTF16 covers a string that can't round
// trip through ASCII and must be emitted as big-endian UTF-16.
func TestScenarioUnicodeStringUsesUTF16(t *testing.T) {
	s := cf.Str("αβ")
	var buf bytes.Buffer
	if err := encodeBplist00(&buf, s); err != nil {
		t.Fatalf("encodeBplist00: %v", err)
	}
	body := buf.Bytes()[8:]
	want := []byte{0x62, 0x03, 0xB1, 0x03, 0xB2}
	if !bytes.Equal(body[:len(want)], want) {
		t.Errorf("UTF-16 body = % x, want % x", body[:len(want)], want)
	}

	got, err := decodeBplist00(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decodeBplist00: %v", err)
	}
	if got != s {
		t.Errorf("round trip = %v, want %v", got, s)
	}
}

// TestScenarioUnicodeStringCrossFormat round-trips the same unicode
// string through XML, where no ASCII/UTF-16 split applies.
func TestScenarioUnicodeStringCrossFormat(t *testing.T) {
	s := cf.Str("αβ — emoji 🎉")
	got := roundTripXML(t, s)
	if got != s {
		t.Errorf("XML round trip = %v, want %v", got, s)
	}
	got15 := roundTripBplist15(t, s)
	if got15 != s {
		t.Errorf("v15 round trip = %v, want %v", got15, s)
	}
}
