package plist

import (
	"bytes"
	"testing"
)

func TestBytesCountForMagnitude(t *testing.T) {
	cases := []struct {
		n    uint64
		want int
	}{
		{0x00, 1},
		{0xff, 1},
		{0x100, 2},
		{0xffff, 2},
		{0x10000, 4},
		{0xffffffff, 4},
		{0x100000000, 8},
	}
	for _, c := range cases {
		if got := bytesCountForMagnitude(c.n); got != c.want {
			t.Errorf("bytesCountForMagnitude(0x%x) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestBytesCountForInt(t *testing.T) {
	if got := bytesCountForInt(-1); got != 8 {
		t.Errorf("bytesCountForInt(-1) = %d, want 8", got)
	}
	if got := bytesCountForInt(0xff); got != 1 {
		t.Errorf("bytesCountForInt(0xff) = %d, want 1", got)
	}
}

func TestPackReadBERoundTrip(t *testing.T) {
	widths := []int{1, 2, 4, 8}
	values := []uint64{0, 1, 0xff, 0x1234, 0xdeadbeef, 0x0102030405060708}
	for _, width := range widths {
		for _, v := range values {
			var buf bytes.Buffer
			masked := v
			if width < 8 {
				masked = v & ((uint64(1) << (8 * width)) - 1)
			}
			if err := packBE(&buf, masked, width); err != nil {
				t.Fatalf("packBE: %v", err)
			}
			got, err := readBE(&buf, width)
			if err != nil {
				t.Fatalf("readBE: %v", err)
			}
			if got != masked {
				t.Errorf("width %d: round-tripped %#x, want %#x", width, got, masked)
			}
		}
	}
}

func TestPackReadBigIntRoundTrip(t *testing.T) {
	var b [16]byte
	for i := range b {
		b[i] = byte(i * 17)
	}
	var buf bytes.Buffer
	if err := packBigInt(&buf, b); err != nil {
		t.Fatalf("packBigInt: %v", err)
	}
	got, err := readBigInt(&buf)
	if err != nil {
		t.Fatalf("readBigInt: %v", err)
	}
	if got != b {
		t.Errorf("round-tripped %v, want %v", got, b)
	}
}

func TestSecsDateRoundTrip(t *testing.T) {
	for _, secs := range []float64{0, 1, -1, 12345.5, 700000000.25} {
		d := secsToDate(secs)
		got := dateSecs(d)
		if diff := got - secs; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("dateSecs(secsToDate(%v)) = %v", secs, got)
		}
	}
}

func TestLowNibbleForIntWidthRoundTrip(t *testing.T) {
	for _, width := range []int{1, 2, 4, 8, 16} {
		low := lowNibbleForIntWidth(width)
		if got := intWidthForLowNibble(low); got != width {
			t.Errorf("width %d round-tripped to %d via low nibble %#x", width, got, low)
		}
	}
}
