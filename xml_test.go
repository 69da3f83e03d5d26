package plist

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/aeyre/plist/cf"
)

func roundTripXML(t *testing.T, v cf.Value) cf.Value {
	t.Helper()
	var buf bytes.Buffer
	if err := encodeXML(&buf, v, "  "); err != nil {
		t.Fatalf("encodeXML: %v", err)
	}
	got, err := decodeXML(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decodeXML: %v\n%s", err, buf.String())
	}
	return got
}

func TestXMLRoundTripScalars(t *testing.T) {
	values := []cf.Value{
		cf.Bool(true),
		cf.Bool(false),
		cf.Int(0),
		cf.Int(-300),
		cf.Real32(1.5),
		cf.Real64(-2.25),
		cf.Str("hello, world"),
		cf.Str("héllo, wörld"),
		cf.Data([]byte{1, 2, 3, 4}),
		cf.UID(99),
		cf.UUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		cf.Date(time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)),
	}
	for _, v := range values {
		got := roundTripXML(t, v)
		if !cf.Equal(got, v) {
			t.Errorf("round trip of %s: got %#v, want %#v", v.TypeName(), got, v)
		}
	}
}

func TestXMLRoundTripContainers(t *testing.T) {
	d := cf.NewDict()
	d.Set("name", cf.Str("Widget"))
	d.Set("tags", cf.Array{cf.Str("a"), cf.Str("b")})
	d.Set("unique", cf.Set{cf.Int(1), cf.Int(2)})
	got := roundTripXML(t, d)
	if !cf.Equal(got, d) {
		t.Errorf("round trip mismatch: got %#v, want %#v", got, d)
	}
}

func TestXMLUIDCommentPresent(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeXML(&buf, cf.UID(7), "  "); err != nil {
		t.Fatalf("encodeXML: %v", err)
	}
	if !strings.Contains(buf.String(), "<!-- UID -->") {
		t.Errorf("expected a UID comment in:\n%s", buf.String())
	}
}

func TestXMLUUIDCommentPresent(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeXML(&buf, cf.UUID{}, "  "); err != nil {
		t.Fatalf("encodeXML: %v", err)
	}
	if !strings.Contains(buf.String(), "<!-- UUID -->") {
		t.Errorf("expected a UUID comment in:\n%s", buf.String())
	}
}

func TestXMLFloatCommentOnReal32Only(t *testing.T) {
	var buf32 bytes.Buffer
	if err := encodeXML(&buf32, cf.Real32(1.0), "  "); err != nil {
		t.Fatalf("encodeXML: %v", err)
	}
	if !strings.Contains(buf32.String(), "<!-- Float -->") {
		t.Errorf("expected a Float comment for Real32 in:\n%s", buf32.String())
	}

	var buf64 bytes.Buffer
	if err := encodeXML(&buf64, cf.Real64(1.0), "  "); err != nil {
		t.Fatalf("encodeXML: %v", err)
	}
	if strings.Contains(buf64.String(), "<!-- Float -->") {
		t.Errorf("did not expect a Float comment for Real64 in:\n%s", buf64.String())
	}
}

func TestXMLSetCommentPresent(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeXML(&buf, cf.Set{cf.Int(1)}, "  "); err != nil {
		t.Fatalf("encodeXML: %v", err)
	}
	if !strings.Contains(buf.String(), "<!-- Set -->") {
		t.Errorf("expected a Set comment in:\n%s", buf.String())
	}
}

func TestXMLWithoutHintsDefaultToStrAndArray(t *testing.T) {
	// A plain <string> with no preceding comment decodes as Str, not UID
	// or UUID; a plain <array> with no preceding comment decodes as
	// Array, not Set.
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<array>
<string>0x2A</string>
</array>
</plist>`
	got, err := decodeXML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decodeXML: %v", err)
	}
	arr, ok := got.(cf.Array)
	if !ok || len(arr) != 1 {
		t.Fatalf("got %#v, want a one-element Array", got)
	}
	if _, ok := arr[0].(cf.Str); !ok {
		t.Errorf("element = %#v, want Str (no UID hint present)", arr[0])
	}
}

func TestXMLRejectsVariantsWithoutXMLForm(t *testing.T) {
	values := []cf.Value{
		cf.Null{},
		cf.Fill{},
		cf.URL{Target: "http://example.com"},
	}
	for _, v := range values {
		var buf bytes.Buffer
		err := encodeXML(&buf, v, "  ")
		if err == nil {
			t.Errorf("expected encodeXML to reject %s", v.TypeName())
			continue
		}
		if _, ok := err.(*EncodingRejectedError); !ok {
			t.Errorf("expected EncodingRejectedError for %s, got %T", v.TypeName(), err)
		}
	}
}

func TestParseXMLIntegerDecimalAndHex(t *testing.T) {
	p := rootPath("test")
	got, err := parseXMLInteger("0x2A", p)
	if err != nil {
		t.Fatalf("parseXMLInteger(hex): %v", err)
	}
	if got != cf.Int(42) {
		t.Errorf("0x2A parsed as %v, want 42", got)
	}

	got, err = parseXMLInteger("-42", p)
	if err != nil {
		t.Fatalf("parseXMLInteger(decimal): %v", err)
	}
	if got != cf.Int(-42) {
		t.Errorf("-42 parsed as %v, want -42", got)
	}
}

func TestParseXMLIntegerOverflow(t *testing.T) {
	p := rootPath("test")
	huge := "0x1" + strings.Repeat("0", 32) // far beyond 128 bits
	_, err := parseXMLInteger(huge, p)
	if err == nil {
		t.Fatal("expected an overflow error")
	}
	if _, ok := err.(*OverflowError); !ok {
		t.Errorf("expected OverflowError, got %T (%v)", err, err)
	}
}

func TestParseXMLRealSpecialValues(t *testing.T) {
	p := rootPath("test")
	cases := map[string]float64{
		"nan":        math.NaN(),
		"+infinity":  math.Inf(1),
		"infinity":   math.Inf(1),
		"inf":        math.Inf(1),
		"+inf":       math.Inf(1),
		"-infinity":  math.Inf(-1),
		"-inf":       math.Inf(-1),
	}
	for text, want := range cases {
		got, err := parseXMLReal(text, p)
		if err != nil {
			t.Fatalf("parseXMLReal(%q): %v", text, err)
		}
		if math.IsNaN(want) {
			if !math.IsNaN(got) {
				t.Errorf("parseXMLReal(%q) = %v, want NaN", text, got)
			}
			continue
		}
		if got != want {
			t.Errorf("parseXMLReal(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestXMLRealRoundTripsSpecialValues(t *testing.T) {
	values := []cf.Value{
		cf.Real64(math.Inf(1)),
		cf.Real64(math.Inf(-1)),
	}
	for _, v := range values {
		got := roundTripXML(t, v)
		gr, ok := got.(cf.Real64)
		if !ok {
			t.Fatalf("got %#v, want Real64", got)
		}
		want := float64(v.(cf.Real64))
		if math.IsInf(want, 1) && !math.IsInf(float64(gr), 1) {
			t.Errorf("expected +Inf, got %v", gr)
		}
		if math.IsInf(want, -1) && !math.IsInf(float64(gr), -1) {
			t.Errorf("expected -Inf, got %v", gr)
		}
	}
}
