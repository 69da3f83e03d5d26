package plist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/aeyre/plist/cf"
)

const bplist15Header = "bplist15"

// bplist15MinLength is the smallest legal v15 document: 8-byte header +
// 9-byte length field + 5-byte CRC field + at least a 1-byte object body.
// The reference implementation this dialect is adapted from guards this
// with an inverted comparison that rejects every file of 23 bytes or
// more; that is a bug in the source, not a property of the format, so
// the check here is the corrected "at least 23 bytes" form.
const bplist15MinLength = 23

// --- Decoder ---------------------------------------------------------

type bplist15Decoder struct {
	r      io.ReadSeeker
	length int64
}

func decodeBplist15(r io.ReadSeeker) (cf.Value, error) {
	d := &bplist15Decoder{r: r}
	return d.decodeDocument()
}

func (d *bplist15Decoder) decodeDocument() (cf.Value, error) {
	root := rootPath("1.5")

	length, err := d.r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}
	d.length = length
	if length < bplist15MinLength {
		return nil, &MalformedHeaderError{Path: root.String(), Err: fmt.Errorf("file too short (%d bytes) for a v15 document", length)}
	}
	if _, err := d.r.Seek(0, io.SeekStart); err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}

	header := make([]byte, 8)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, &MalformedHeaderError{Path: root.String(), Err: err}
	}
	if string(header) != bplist15Header {
		return nil, &MalformedHeaderError{Path: root.String(), Err: fmt.Errorf("mismatched magic %q", header)}
	}

	var lenTag [1]byte
	if _, err := io.ReadFull(d.r, lenTag[:]); err != nil {
		return nil, &MalformedHeaderError{Path: root.String(), Err: err}
	}
	if lenTag[0] != markerIntMask|0x3 {
		return nil, &MalformedHeaderError{Path: root.String(), Err: fmt.Errorf("expected length marker 0x13, got 0x%02x", lenTag[0])}
	}
	totalLen, err := readBE(d.r, 8)
	if err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}
	if int64(totalLen) != length {
		return nil, &MalformedHeaderError{Path: root.String(), Err: fmt.Errorf("length field %d does not match file size %d", totalLen, length)}
	}

	var crcTag [1]byte
	if _, err := io.ReadFull(d.r, crcTag[:]); err != nil {
		return nil, &MalformedHeaderError{Path: root.String(), Err: err}
	}
	if crcTag[0] != markerIntMask|0x2 {
		return nil, &MalformedHeaderError{Path: root.String(), Err: fmt.Errorf("expected CRC marker 0x12, got 0x%02x", crcTag[0])}
	}
	if _, err := readBE(d.r, 4); err != nil { // CRC value itself is read and ignored
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}

	return d.readObject(root)
}

// readObject reads one object body inline, recursing directly into child
// bodies with no offset indirection. Shares marker constants with the
// v00 reader; differs in permitting Null/URL/UUID/Set and rejecting UID.
func (d *bplist15Decoder) readObject(p *path) (cf.Value, error) {
	var tagb [1]byte
	if _, err := io.ReadFull(d.r, tagb[:]); err != nil {
		return nil, &IOFailureError{Path: p.String(), Err: err}
	}
	tag := tagb[0]
	high := tag & nibbleHighMask
	low := tag & nibbleLowMask

	switch high {
	case markerNull:
		switch tag {
		case markerNull:
			return cf.Null{}, nil
		case markerFalse:
			return cf.Bool(false), nil
		case markerTrue:
			return cf.Bool(true), nil
		case markerFill:
			return cf.Fill{}, nil
		case markerUUID:
			var b [16]byte
			if _, err := io.ReadFull(d.r, b[:]); err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			return cf.UUID(b), nil
		case markerURLNoBase:
			return d.readURL(p, false)
		case markerURLWithBase:
			return d.readURL(p, true)
		default:
			return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("reserved singleton marker")}
		}

	case markerIntMask:
		width := intWidthForLowNibble(low)
		switch width {
		case 16:
			b, err := readBigInt(d.r)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			return cf.BigInt{Bytes: b}, nil
		case 1, 2, 4, 8:
			raw, err := readBE(d.r, width)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			return cf.Int(int64(raw)), nil
		default:
			return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("illegal integer width")}
		}

	case markerReal:
		width := 1 << low
		switch width {
		case 4:
			raw, err := readBE(d.r, 4)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			return cf.Real32(math.Float32frombits(uint32(raw))), nil
		case 8:
			raw, err := readBE(d.r, 8)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			return cf.Real64(math.Float64frombits(raw)), nil
		default:
			return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("real width not in {4, 8}")}
		}

	case markerDate:
		if tag != markerDate|0x3 {
			return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("date marker must be 0x33")}
		}
		raw, err := readBE(d.r, 8)
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		return secsToDate(math.Float64frombits(raw)), nil

	case markerData:
		cnt, err := readCountFrom(d.r, low, p, uint64(d.length))
		if err != nil {
			return nil, err
		}
		if cnt > uint64(d.length) {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: cnt}
		}
		buf := make([]byte, cnt)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		return cf.Data(buf), nil

	case markerASCII:
		cnt, err := readCountFrom(d.r, low, p, uint64(d.length))
		if err != nil {
			return nil, err
		}
		if cnt > uint64(d.length) {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: cnt}
		}
		buf := make([]byte, cnt)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		return cf.Str(buf), nil

	case markerUTF16:
		cnt, err := readCountFrom(d.r, low, p, uint64(d.length))
		if err != nil {
			return nil, err
		}
		if cnt > uint64(d.length) {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: cnt}
		}
		units := make([]uint16, cnt)
		for i := range units {
			raw, err := readBE(d.r, 2)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			units[i] = uint16(raw)
		}
		return cf.Str(utf16.Decode(units)), nil

	case markerUID:
		return nil, &TypeMismatchError{Path: p.String(), Expected: "binary v15 value", Got: "UID"}

	case markerArray:
		cnt, err := readCountFrom(d.r, low, p, uint64(d.length))
		if err != nil {
			return nil, err
		}
		if cnt > uint64(d.length) {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: cnt}
		}
		arr := make(cf.Array, cnt)
		for i := range arr {
			v, err := d.readObject(p.index("array", i))
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil

	case markerSet, markerOrdset:
		cnt, err := readCountFrom(d.r, low, p, uint64(d.length))
		if err != nil {
			return nil, err
		}
		if cnt > uint64(d.length) {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: cnt}
		}
		set := make(cf.Set, cnt)
		for i := range set {
			v, err := d.readObject(p.index("set", i))
			if err != nil {
				return nil, err
			}
			set[i] = v
		}
		return set, nil

	case markerDict:
		cnt, err := readCountFrom(d.r, low, p, uint64(d.length))
		if err != nil {
			return nil, err
		}
		if cnt > uint64(d.length) {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: cnt}
		}
		keys := make([]string, cnt)
		for i := range keys {
			kv, err := d.readObject(p.child("dict", "key"))
			if err != nil {
				return nil, err
			}
			ks, ok := kv.(cf.Str)
			if !ok {
				return nil, &TypeMismatchError{Path: p.String(), Expected: "string", Got: kv.TypeName()}
			}
			keys[i] = string(ks)
		}
		dict := cf.NewDict()
		for i := uint64(0); i < cnt; i++ {
			vv, err := d.readObject(p.child("dict", keys[i]))
			if err != nil {
				return nil, err
			}
			dict.Set(keys[i], vv)
		}
		return dict, nil
	}

	return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("unrecognized marker")}
}

func (d *bplist15Decoder) readURL(p *path, withBase bool) (cf.Value, error) {
	target, err := d.readObject(p.child("url", "target"))
	if err != nil {
		return nil, err
	}
	ts, ok := target.(cf.Str)
	if !ok {
		return nil, &TypeMismatchError{Path: p.String(), Expected: "string", Got: target.TypeName()}
	}
	if !withBase {
		return cf.URL{Target: string(ts)}, nil
	}
	base, err := d.readObject(p.child("url", "base"))
	if err != nil {
		return nil, err
	}
	bs, ok := base.(cf.Str)
	if !ok {
		return nil, &TypeMismatchError{Path: p.String(), Expected: "string", Got: base.TypeName()}
	}
	bstr := string(bs)
	return cf.URL{Target: string(ts), Base: &bstr}, nil
}

// --- Encoder ---------------------------------------------------------

type bplist15Encoder struct {
	buf bytes.Buffer
}

func encodeBplist15(w io.Writer, root cf.Value) error {
	if err := validateBplist15Value(root, rootPath("1.5")); err != nil {
		return err
	}

	e := &bplist15Encoder{}
	e.buf.WriteString(bplist15Header)

	e.buf.WriteByte(markerIntMask | 0x3)
	lengthFieldOffset := e.buf.Len()
	packBE(&e.buf, 0, 8) // placeholder, back-patched below

	e.buf.WriteByte(markerIntMask | 0x2)
	packBE(&e.buf, 0, 4) // CRC, always zero on write

	e.writeValue(root)

	out := e.buf.Bytes()
	binary.BigEndian.PutUint64(out[lengthFieldOffset:lengthFieldOffset+8], uint64(len(out)))

	_, err := w.Write(out)
	return err
}

// validateBplist15Value rejects UID (the one variant v15 forbids),
// recursively through Array, Set and Dict.
func validateBplist15Value(v cf.Value, p *path) error {
	switch vv := v.(type) {
	case cf.UID:
		return &EncodingRejectedError{Path: p.String(), Kind: v.TypeName(), Format: "binary v15"}
	case cf.Array:
		for i, child := range vv {
			if err := validateBplist15Value(child, p.index("array", i)); err != nil {
				return err
			}
		}
	case cf.Set:
		for i, child := range vv {
			if err := validateBplist15Value(child, p.index("set", i)); err != nil {
				return err
			}
		}
	case *cf.Dict:
		for i := 0; i < vv.Len(); i++ {
			k, child := vv.At(i)
			if err := validateBplist15Value(child, p.child("dict", k)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *bplist15Encoder) writeValue(v cf.Value) {
	switch vv := v.(type) {
	case cf.Null:
		e.buf.WriteByte(markerNull)
	case cf.Bool:
		if vv {
			e.buf.WriteByte(markerTrue)
		} else {
			e.buf.WriteByte(markerFalse)
		}
	case cf.Fill:
		e.buf.WriteByte(markerFill)
	case cf.UUID:
		e.buf.WriteByte(markerUUID)
		e.buf.Write(vv[:])
	case cf.URL:
		if vv.Base == nil {
			e.buf.WriteByte(markerURLNoBase)
			e.writeValue(cf.Str(vv.Target))
			return
		}
		e.buf.WriteByte(markerURLWithBase)
		e.writeValue(cf.Str(vv.Target))
		e.writeValue(cf.Str(*vv.Base))
	case cf.Int:
		writeIntTo(&e.buf, int64(vv))
	case cf.BigInt:
		e.buf.WriteByte(markerIntMask | bigIntLowNibble)
		packBigInt(&e.buf, vv.Bytes)
	case cf.Real32:
		e.buf.WriteByte(markerReal | 0x2)
		packBE(&e.buf, uint64(math.Float32bits(float32(vv))), 4)
	case cf.Real64:
		e.buf.WriteByte(markerReal | 0x3)
		packBE(&e.buf, math.Float64bits(float64(vv)), 8)
	case cf.Date:
		e.buf.WriteByte(markerDate | 0x3)
		packBE(&e.buf, math.Float64bits(dateSecs(vv)), 8)
	case cf.Data:
		writeCountedTo(&e.buf, markerData, uint64(len(vv)))
		e.buf.Write(vv)
	case cf.Str:
		writeStringTo(&e.buf, string(vv))
	case cf.Array:
		writeCountedTo(&e.buf, markerArray, uint64(len(vv)))
		for _, child := range vv {
			e.writeValue(child)
		}
	case cf.Set:
		writeCountedTo(&e.buf, markerSet, uint64(len(vv)))
		for _, child := range vv {
			e.writeValue(child)
		}
	case *cf.Dict:
		writeCountedTo(&e.buf, markerDict, uint64(vv.Len()))
		for i := 0; i < vv.Len(); i++ {
			k, _ := vv.At(i)
			e.writeValue(cf.Str(k))
		}
		for i := 0; i < vv.Len(); i++ {
			_, val := vv.At(i)
			e.writeValue(val)
		}
	}
}
