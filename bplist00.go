package plist

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/aeyre/plist/cf"
)

// bplistTrailer is the fixed 32-byte suffix of a v00 file; see §3.3.
type bplistTrailer struct {
	Unused            [5]byte
	SortVersion       uint8
	OffsetIntSize     uint8
	ObjectRefSize     uint8
	NumObjects        uint64
	TopObject         uint64
	OffsetTableOffset uint64
}

const bplist00Header = "bplist00"

// --- Decoder ---------------------------------------------------------

type bplist00Decoder struct {
	r             io.ReadSeeker
	length        int64
	trailer       bplistTrailer
	trailerOffset int64
	offsets       []uint64
	scalarCache   map[uint64]cf.Value
}

func decodeBplist00(r io.ReadSeeker) (cf.Value, error) {
	d := &bplist00Decoder{r: r, scalarCache: make(map[uint64]cf.Value)}
	return d.decodeDocument()
}

func (d *bplist00Decoder) decodeDocument() (cf.Value, error) {
	root := rootPath("0.0")

	length, err := d.r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}
	d.length = length

	header := make([]byte, 8)
	if _, err := d.r.Seek(0, io.SeekStart); err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, &MalformedHeaderError{Path: root.String(), Err: err}
	}
	if string(header) != bplist00Header {
		return nil, &MalformedHeaderError{Path: root.String(), Err: fmt.Errorf("mismatched magic %q", header)}
	}

	d.trailerOffset = length - 32
	if d.trailerOffset < 8 {
		return nil, &MalformedTrailerError{Path: root.String(), Err: errors.New("file too short to contain a trailer")}
	}
	if _, err := d.r.Seek(d.trailerOffset, io.SeekStart); err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}

	var tb [32]byte
	if _, err := io.ReadFull(d.r, tb[:]); err != nil {
		return nil, &MalformedTrailerError{Path: root.String(), Err: err}
	}
	copy(d.trailer.Unused[:], tb[0:5])
	d.trailer.SortVersion = tb[5]
	d.trailer.OffsetIntSize = tb[6]
	d.trailer.ObjectRefSize = tb[7]
	d.trailer.NumObjects = beUint64(tb[8:16])
	d.trailer.TopObject = beUint64(tb[16:24])
	d.trailer.OffsetTableOffset = beUint64(tb[24:32])

	if err := d.validateTrailer(); err != nil {
		return nil, err
	}

	d.offsets = make([]uint64, d.trailer.NumObjects)
	if _, err := d.r.Seek(int64(d.trailer.OffsetTableOffset), io.SeekStart); err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}
	maxOffset := d.trailer.OffsetTableOffset - 1
	for i := uint64(0); i < d.trailer.NumObjects; i++ {
		off, err := readBE(d.r, int(d.trailer.OffsetIntSize))
		if err != nil {
			return nil, &IOFailureError{Path: root.String(), Err: err}
		}
		if off < 8 || off > maxOffset {
			return nil, &OffsetOutOfRangeError{Path: root.String(), Offset: off}
		}
		d.offsets[i] = off
	}

	onPath := make(map[uint64]bool)
	return d.readObject(d.offsets[d.trailer.TopObject], root, onPath)
}

func (d *bplist00Decoder) validateTrailer() error {
	p := rootPath("0.0").String()
	t := &d.trailer
	if t.OffsetIntSize < 1 || t.ObjectRefSize < 1 {
		return &MalformedTrailerError{Path: p, Err: errors.New("zero-width offset or ref size")}
	}
	if t.OffsetTableOffset < 8 {
		return &MalformedTrailerError{Path: p, Err: errors.New("offset table begins inside header")}
	}
	if int64(t.OffsetTableOffset) >= d.trailerOffset {
		return &MalformedTrailerError{Path: p, Err: errors.New("offset table at or beyond trailer")}
	}
	if d.trailerOffset != int64(t.OffsetTableOffset+t.NumObjects*uint64(t.OffsetIntSize)) {
		return &MalformedTrailerError{Path: p, Err: errors.New("file length does not match header+objects+offsets+trailer layout")}
	}
	if t.ObjectRefSize < 8 && (uint64(1)<<(8*t.ObjectRefSize)) <= t.NumObjects {
		return &MalformedTrailerError{Path: p, Err: errors.New("object ref size too small for object count")}
	}
	if t.OffsetIntSize < 8 && (uint64(1)<<(8*t.OffsetIntSize)) <= t.OffsetTableOffset {
		return &MalformedTrailerError{Path: p, Err: errors.New("offset int size too small to address file")}
	}
	if t.TopObject >= t.NumObjects {
		return &MalformedTrailerError{Path: p, Err: fmt.Errorf("top object index %d out of range (%d objects)", t.TopObject, t.NumObjects)}
	}
	return nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// readCount delegates to the shared extended-count convention (§4.2),
// bounding the result by the document's total length.
func (d *bplist00Decoder) readCount(low byte, p *path) (uint64, error) {
	return readCountFrom(d.r, low, p, uint64(d.length))
}

func (d *bplist00Decoder) readObject(off uint64, p *path, onPath map[uint64]bool) (cf.Value, error) {
	if v, ok := d.scalarCache[off]; ok {
		return v, nil
	}
	if off < 8 || off > d.trailer.OffsetTableOffset-1 {
		return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: off}
	}
	if _, err := d.r.Seek(int64(off), io.SeekStart); err != nil {
		return nil, &IOFailureError{Path: p.String(), Err: err}
	}
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
		case markerFalse:
			v := cf.Value(cf.Bool(false))
			d.scalarCache[off] = v
			return v, nil
		case markerTrue:
			v := cf.Value(cf.Bool(true))
			d.scalarCache[off] = v
			return v, nil
		case markerFill:
			return cf.Fill{}, nil
		case markerNull, markerURLNoBase, markerURLWithBase, markerUUID:
			return nil, &TypeMismatchError{Path: p.String(), Expected: "v00 scalar", Got: "v15-only singleton"}
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
			v := cf.Value(cf.BigInt{Bytes: b})
			d.scalarCache[off] = v
			return v, nil
		case 8:
			raw, err := readBE(d.r, 8)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			v := cf.Value(cf.Int(int64(raw)))
			d.scalarCache[off] = v
			return v, nil
		case 1, 2, 4:
			raw, err := readBE(d.r, width)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			v := cf.Value(cf.Int(int64(raw)))
			d.scalarCache[off] = v
			return v, nil
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
			v := cf.Value(cf.Real32(math.Float32frombits(uint32(raw))))
			d.scalarCache[off] = v
			return v, nil
		case 8:
			raw, err := readBE(d.r, 8)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			v := cf.Value(cf.Real64(math.Float64frombits(raw)))
			d.scalarCache[off] = v
			return v, nil
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
		secs := math.Float64frombits(raw)
		v := cf.Value(secsToDate(secs))
		d.scalarCache[off] = v
		return v, nil

	case markerData:
		cnt, err := d.readCount(low, p)
		if err != nil {
			return nil, err
		}
		pos, _ := d.r.Seek(0, io.SeekCurrent)
		if uint64(pos)+cnt > d.trailer.OffsetTableOffset {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: uint64(pos) + cnt}
		}
		buf := make([]byte, cnt)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		v := cf.Value(cf.Data(buf))
		d.scalarCache[off] = v
		return v, nil

	case markerASCII:
		cnt, err := d.readCount(low, p)
		if err != nil {
			return nil, err
		}
		pos, _ := d.r.Seek(0, io.SeekCurrent)
		if uint64(pos)+cnt > d.trailer.OffsetTableOffset {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: uint64(pos) + cnt}
		}
		buf := make([]byte, cnt)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		v := cf.Value(cf.Str(buf))
		d.scalarCache[off] = v
		return v, nil

	case markerUTF16:
		cnt, err := d.readCount(low, p)
		if err != nil {
			return nil, err
		}
		pos, _ := d.r.Seek(0, io.SeekCurrent)
		if uint64(pos)+cnt*2 > d.trailer.OffsetTableOffset {
			return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: uint64(pos) + cnt*2}
		}
		units := make([]uint16, cnt)
		for i := range units {
			raw, err := readBE(d.r, 2)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			units[i] = uint16(raw)
		}
		v := cf.Value(cf.Str(utf16.Decode(units)))
		d.scalarCache[off] = v
		return v, nil

	case markerUID:
		width := int(low) + 1
		switch width {
		case 1, 2, 4, 8:
			raw, err := readBE(d.r, width)
			if err != nil {
				return nil, &IOFailureError{Path: p.String(), Err: err}
			}
			v := cf.Value(cf.UID(raw))
			d.scalarCache[off] = v
			return v, nil
		default:
			return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("illegal UID width")}
		}

	case markerArray:
		cnt, err := d.readCount(low, p)
		if err != nil {
			return nil, err
		}
		return d.readArrayBody(off, cnt, p, onPath)

	case markerSet, markerOrdset:
		cnt, err := d.readCount(low, p)
		if err != nil {
			return nil, err
		}
		return d.readSetBody(off, cnt, p, onPath)

	case markerDict:
		cnt, err := d.readCount(low, p)
		if err != nil {
			return nil, err
		}
		return d.readDictBody(off, cnt, p, onPath)
	}

	return nil, &MalformedMarkerError{Path: p.String(), Marker: tag, Err: errors.New("unrecognized marker")}
}

func (d *bplist00Decoder) readRefs(off uint64, cnt uint64, p *path) ([]uint64, error) {
	pos, _ := d.r.Seek(0, io.SeekCurrent)
	width := uint64(d.trailer.ObjectRefSize)
	if uint64(pos)+cnt*width > d.trailer.OffsetTableOffset {
		return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: uint64(pos) + cnt*width}
	}
	refs := make([]uint64, cnt)
	for i := uint64(0); i < cnt; i++ {
		idx, err := readBE(d.r, int(width))
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		if idx >= d.trailer.NumObjects {
			return nil, &RefOutOfRangeError{Path: p.String(), Ref: idx, Max: d.trailer.NumObjects}
		}
		refs[i] = d.offsets[idx]
	}
	return refs, nil
}

func (d *bplist00Decoder) readArrayBody(off, cnt uint64, p *path, onPath map[uint64]bool) (cf.Value, error) {
	refs, err := d.readRefs(off, cnt, p)
	if err != nil {
		return nil, err
	}
	arr := make(cf.Array, cnt)
	for i, ref := range refs {
		v, err := d.readObject(ref, p.index("array", i), onPath)
		if err != nil {
			return nil, err
		}
		arr[i] = v
	}
	return arr, nil
}

func (d *bplist00Decoder) readSetBody(off, cnt uint64, p *path, onPath map[uint64]bool) (cf.Value, error) {
	if onPath[off] {
		return nil, &CycleDetectedError{Path: p.String(), Offset: off}
	}
	onPath[off] = true
	defer delete(onPath, off)

	refs, err := d.readRefs(off, cnt, p)
	if err != nil {
		return nil, err
	}
	for i, ref := range refs {
		if _, err := d.readObject(ref, p.index("set", i), onPath); err != nil {
			return nil, err
		}
	}
	return nil, &TypeMismatchError{Path: p.String(), Expected: "binary v00 value", Got: "set"}
}

func (d *bplist00Decoder) readDictBody(off, cnt uint64, p *path, onPath map[uint64]bool) (cf.Value, error) {
	pos, _ := d.r.Seek(0, io.SeekCurrent)
	width := uint64(d.trailer.ObjectRefSize)
	if uint64(pos)+cnt*2*width > d.trailer.OffsetTableOffset {
		return nil, &OffsetOutOfRangeError{Path: p.String(), Offset: uint64(pos) + cnt*2*width}
	}
	keyIdx := make([]uint64, cnt)
	for i := range keyIdx {
		idx, err := readBE(d.r, int(width))
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		if idx >= d.trailer.NumObjects {
			return nil, &RefOutOfRangeError{Path: p.String(), Ref: idx, Max: d.trailer.NumObjects}
		}
		keyIdx[i] = idx
	}
	valIdx := make([]uint64, cnt)
	for i := range valIdx {
		idx, err := readBE(d.r, int(width))
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		if idx >= d.trailer.NumObjects {
			return nil, &RefOutOfRangeError{Path: p.String(), Ref: idx, Max: d.trailer.NumObjects}
		}
		valIdx[i] = idx
	}

	dict := cf.NewDict()
	for i := uint64(0); i < cnt; i++ {
		keyOff := d.offsets[keyIdx[i]]
		kv, err := d.readObject(keyOff, p.child("dict", "key"), onPath)
		if err != nil {
			return nil, err
		}
		kstr, ok := kv.(cf.Str)
		if !ok {
			return nil, &TypeMismatchError{Path: p.String(), Expected: "string", Got: kv.TypeName()}
		}
		valOff := d.offsets[valIdx[i]]
		vv, err := d.readObject(valOff, p.child("dict", string(kstr)), onPath)
		if err != nil {
			return nil, err
		}
		dict.Set(string(kstr), vv)
	}
	return dict, nil
}

// --- Encoder ---------------------------------------------------------

type bplist00Encoder struct {
	buf       bytes.Buffer
	objlist   []cf.Value
	objmap    map[interface{}][]uint64 // hash key -> objlist indices sharing that key
	childRefs map[uint64][]uint64 // container object index -> ordered child indices (dict: keys then values)
	refSize   int
}

func encodeBplist00(w io.Writer, root cf.Value) error {
	if err := validateBplist00Value(root, rootPath("0.0")); err != nil {
		return err
	}
	e := &bplist00Encoder{objmap: make(map[interface{}][]uint64), childRefs: make(map[uint64][]uint64)}
	e.flatten(root)

	numObjects := uint64(len(e.objlist))
	e.refSize = bytesCountForMagnitude(numObjects)

	e.buf.WriteString(bplist00Header)
	offsets := make([]uint64, numObjects)
	for i, v := range e.objlist {
		offsets[i] = uint64(e.buf.Len())
		e.writeValue(uint64(i), v)
	}

	offsetTableOffset := uint64(e.buf.Len())
	offsetIntSize := bytesCountForMagnitude(offsetTableOffset)
	for _, off := range offsets {
		packBE(&e.buf, off, offsetIntSize)
	}

	trailer := bplistTrailer{
		SortVersion:       0,
		OffsetIntSize:     uint8(offsetIntSize),
		ObjectRefSize:     uint8(e.refSize),
		NumObjects:        numObjects,
		TopObject:         0,
		OffsetTableOffset: offsetTableOffset,
	}
	e.buf.Write(trailer.Unused[:]) // unused
	e.buf.WriteByte(trailer.SortVersion)
	e.buf.WriteByte(trailer.OffsetIntSize)
	e.buf.WriteByte(trailer.ObjectRefSize)
	packBE(&e.buf, trailer.NumObjects, 8)
	packBE(&e.buf, trailer.TopObject, 8)
	packBE(&e.buf, trailer.OffsetTableOffset, 8)

	_, err := w.Write(e.buf.Bytes())
	return err
}

// validateBplist00Value rejects v15-only variants up front, so encoding
// fails fast with a path instead of panicking deep in flatten.
func validateBplist00Value(v cf.Value, p *path) error {
	switch vv := v.(type) {
	case cf.Null, cf.UUID, cf.URL, cf.Set:
		return &EncodingRejectedError{Path: p.String(), Kind: v.TypeName(), Format: "binary v00"}
	case cf.Array:
		for i, child := range vv {
			if err := validateBplist00Value(child, p.index("array", i)); err != nil {
				return err
			}
		}
	case *cf.Dict:
		for i := 0; i < vv.Len(); i++ {
			k, child := vv.At(i)
			if err := validateBplist00Value(child, p.child("dict", k)); err != nil {
				return err
			}
		}
	}
	return nil
}

func isUniquedScalar(v cf.Value) bool {
	switch v.(type) {
	case cf.Str, cf.Int, cf.BigInt, cf.UID, cf.Real32, cf.Real64, cf.Date, cf.Data:
		return true
	}
	return false
}

// flatten performs the depth-first uniquing pass (§4.5): scalars are
// added to objlist at most once (keyed by value equality, not identity,
// so a map keyed by hashKey works even though some Value variants, like
// Array, are Go slices and thus not map-keyable themselves); containers
// are always appended fresh. It returns the index v now occupies in
// objlist, and records each container's resolved child indices in
// childRefs so writeValue never needs to look a child's index back up by
// value.
func (e *bplist00Encoder) flatten(v cf.Value) uint64 {
	if isUniquedScalar(v) {
		key, _ := cf.HashKey(v)
		for _, idx := range e.objmap[key] {
			if cf.Equal(e.objlist[idx], v) {
				return idx
			}
		}
		idx := uint64(len(e.objlist))
		e.objmap[key] = append(e.objmap[key], idx)
		e.objlist = append(e.objlist, v)
		return idx
	}

	idx := uint64(len(e.objlist))
	e.objlist = append(e.objlist, v)

	switch vv := v.(type) {
	case *cf.Dict:
		// Keys precede values in the emitted ref arrays (§4.5), both in
		// the dict's insertion order, which round-trips must preserve.
		refs := make([]uint64, 0, 2*vv.Len())
		for i := 0; i < vv.Len(); i++ {
			k, _ := vv.At(i)
			refs = append(refs, e.flatten(cf.Str(k)))
		}
		for i := 0; i < vv.Len(); i++ {
			_, val := vv.At(i)
			refs = append(refs, e.flatten(val))
		}
		e.childRefs[idx] = refs
	case cf.Array:
		refs := make([]uint64, len(vv))
		for i, child := range vv {
			refs[i] = e.flatten(child)
		}
		e.childRefs[idx] = refs
	}
	return idx
}

func (e *bplist00Encoder) writeValue(idx uint64, v cf.Value) {
	switch vv := v.(type) {
	case cf.Bool:
		if vv {
			e.buf.WriteByte(markerTrue)
		} else {
			e.buf.WriteByte(markerFalse)
		}
	case cf.Fill:
		e.buf.WriteByte(markerFill)
	case cf.Int:
		e.writeInt(int64(vv))
	case cf.BigInt:
		e.buf.WriteByte(markerIntMask | bigIntLowNibble)
		packBigInt(&e.buf, vv.Bytes)
	case cf.UID:
		width := bytesCountForMagnitude(uint64(vv))
		e.buf.WriteByte(markerUID | byte(width-1))
		packBE(&e.buf, uint64(vv), width)
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
		e.writeCounted(markerData, uint64(len(vv)))
		e.buf.Write(vv)
	case cf.Str:
		e.writeString(string(vv))
	case cf.Array:
		refs := e.childRefs[idx]
		e.writeCounted(markerArray, uint64(len(refs)))
		for _, ref := range refs {
			packBE(&e.buf, ref, e.refSize)
		}
	case *cf.Dict:
		refs := e.childRefs[idx]
		e.writeCounted(markerDict, uint64(vv.Len()))
		for _, ref := range refs {
			packBE(&e.buf, ref, e.refSize)
		}
	}
}

func (e *bplist00Encoder) writeInt(n int64) { writeIntTo(&e.buf, n) }

func (e *bplist00Encoder) writeCounted(tagHigh byte, cnt uint64) { writeCountedTo(&e.buf, tagHigh, cnt) }

// writeString emits a string as ASCII if every rune round-trips through
// ASCII, otherwise as big-endian UTF-16, per §4.5.
func (e *bplist00Encoder) writeString(s string) { writeStringTo(&e.buf, s) }
