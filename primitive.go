package plist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
	"unicode/utf16"

	"github.com/aeyre/plist/cf"
)

var (
	errUnexpectedCountMarker = errors.New("extended count must be an Int object")
	errCountDoesNotFit       = errors.New("count does not fit")
)

// bytesCountForMagnitude returns the smallest power-of-two byte width in
// {1, 2, 4, 8} such that the unsigned representation of n fits.
func bytesCountForMagnitude(n uint64) int {
	switch {
	case n <= 0xff:
		return 1
	case n <= 0xffff:
		return 2
	case n <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

// bytesCountForInt mirrors bytesCountForMagnitude for a signed quantity:
// negative values always take the full 8-byte signed width, per §4.1.
func bytesCountForInt(n int64) int {
	if n < 0 {
		return 8
	}
	return bytesCountForMagnitude(uint64(n))
}

// packBE writes n as a big-endian, zero-extended, right-justified
// integer of the given width (1, 2, 4 or 8 bytes).
func packBE(w io.Writer, n uint64, width int) error {
	var buf [8]byte
	switch width {
	case 1:
		buf[0] = byte(n)
	case 2:
		binary.BigEndian.PutUint16(buf[:2], uint16(n))
	case 4:
		binary.BigEndian.PutUint32(buf[:4], uint32(n))
	case 8:
		binary.BigEndian.PutUint64(buf[:8], n)
	default:
		panic("plist: illegal integer width")
	}
	_, err := w.Write(buf[:width])
	return err
}

// packBigInt writes the 16 raw big-endian bytes of a 128-bit integer
// unchanged.
func packBigInt(w io.Writer, b [16]byte) error {
	_, err := w.Write(b[:])
	return err
}

// readBE reads an unsigned big-endian integer of the given width (1, 2,
// 4 or 8 bytes). Callers needing a signed 64-bit interpretation (width 8)
// reinterpret the returned bit pattern themselves, per the asymmetric
// width-8-is-signed rule in §4.1/§9.
func readBE(r io.Reader, width int) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:width]); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	case 8:
		return binary.BigEndian.Uint64(buf[:8]), nil
	default:
		panic("plist: illegal integer width")
	}
}

// readBigInt reads the 16 raw big-endian bytes of a 128-bit integer.
func readBigInt(r io.Reader) ([16]byte, error) {
	var b [16]byte
	_, err := io.ReadFull(r, b[:])
	return b, err
}

// secsToDate and dateSecs are date_to_secs / secs_to_date from §4.1. The
// arithmetic itself lives on cf.Date (cf.SecondsSinceEpoch /
// cf.TimeFromSeconds); these thin wrappers keep the primitive-codec
// vocabulary from §4.1 visible at the call sites in the binary codecs.
func secsToDate(secs float64) cf.Date { return cf.Date(cf.TimeFromSeconds(secs)) }
func dateSecs(d cf.Date) float64      { return cf.SecondsSinceEpoch(time.Time(d)) }

// writeIntTo emits an Int object body (marker + value), choosing the
// narrowest width per the numeric promotion rules in §4.5/§4.6: shared
// between the v00 and v15 encoders since the Int marker format is
// identical in both dialects.
func writeIntTo(buf *bytes.Buffer, n int64) {
	switch {
	case n >= 0 && n <= 0xff:
		buf.WriteByte(markerIntMask | 0x0)
		packBE(buf, uint64(n), 1)
	case n >= 0 && n <= 0xffff:
		buf.WriteByte(markerIntMask | 0x1)
		packBE(buf, uint64(n), 2)
	case n >= 0 && n <= 0xffffffff:
		buf.WriteByte(markerIntMask | 0x2)
		packBE(buf, uint64(n), 4)
	default:
		buf.WriteByte(markerIntMask | 0x3)
		packBE(buf, uint64(n), 8)
	}
}

// writeCountedTo emits a marker byte with an inline count, or the
// extended-count-as-Int form when the count doesn't fit the low nibble.
func writeCountedTo(buf *bytes.Buffer, tagHigh byte, cnt uint64) {
	if cnt < uint64(countExtended) {
		buf.WriteByte(tagHigh | byte(cnt))
		return
	}
	buf.WriteByte(tagHigh | countExtended)
	writeIntTo(buf, int64(cnt))
}

// writeStringTo emits a string as ASCII if every rune round-trips through
// ASCII, otherwise as big-endian UTF-16.
func writeStringTo(buf *bytes.Buffer, s string) {
	ascii := true
	for _, r := range s {
		if r > 0x7F {
			ascii = false
			break
		}
	}
	if ascii {
		writeCountedTo(buf, markerASCII, uint64(len(s)))
		buf.WriteString(s)
		return
	}
	units := utf16.Encode([]rune(s))
	writeCountedTo(buf, markerUTF16, uint64(len(units)))
	for _, u := range units {
		packBE(buf, uint64(u), 2)
	}
}

// readCountFrom implements the "count as Data" convention from §4.2: the
// low nibble is the count unless it is 0xF, in which case an Int object
// (marker + width bytes) immediately follows and carries the count. Shared
// between the v00 and v15 decoders, which differ only in what surrounds
// this call (offset-table bounds checks vs. none).
//
// limit bounds the returned count: no legitimate count (bytes of Data,
// UTF-16 units, array/set/dict entries) can exceed the document's total
// length, since every entry consumes at least one byte. Rejecting an
// oversized count here, before any caller multiplies or adds it into an
// offset or allocation size, is what keeps a maliciously large extended
// count from overflowing that arithmetic or reaching make() with an
// attacker-controlled magnitude.
func readCountFrom(r io.Reader, low byte, p *path, limit uint64) (uint64, error) {
	if low != countExtended {
		return uint64(low), nil
	}
	var tagb [1]byte
	if _, err := io.ReadFull(r, tagb[:]); err != nil {
		return 0, &IOFailureError{Path: p.String(), Err: err}
	}
	tag := tagb[0]
	if tag&nibbleHighMask != markerIntMask {
		return 0, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errUnexpectedCountMarker}
	}
	width := intWidthForLowNibble(tag & nibbleLowMask)
	var cnt uint64
	switch width {
	case 16:
		b, err := readBigInt(r)
		if err != nil {
			return 0, &IOFailureError{Path: p.String(), Err: err}
		}
		n := cf.BigInt{Bytes: b}.Big()
		if !n.IsInt64() || n.Sign() < 0 {
			return 0, &OverflowError{Path: p.String(), Err: errCountDoesNotFit}
		}
		cnt = uint64(n.Int64())
	case 1, 2, 4, 8:
		v, err := readBE(r, width)
		if err != nil {
			return 0, &IOFailureError{Path: p.String(), Err: err}
		}
		cnt = v
	default:
		return 0, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("illegal extended-count width")}
	}
	if cnt > limit {
		return 0, &OverflowError{Path: p.String(), Err: errCountDoesNotFit}
	}
	return cnt, nil
}
