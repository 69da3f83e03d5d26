package plist

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/aeyre/plist/cf"
)

const xmlDoctype = `DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd"`

// XML comment conventions disambiguating scalars with no native XML
// plist tag, per §4.8. Their absence on decode defaults to Str, Real64
// and Array respectively.
const (
	xmlCommentUID   = "UID"
	xmlCommentUUID  = "UUID"
	xmlCommentFloat = "Float"
	xmlCommentSet   = "Set"
)

const xmlDateLayout = "2006-01-02T15:04:05Z"

// --- Encoder ---------------------------------------------------------

type xmlEncoder struct {
	enc *xml.Encoder
}

func encodeXML(w io.Writer, root cf.Value, indent string) error {
	p := rootPath("xml")
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", indent)
	if err := enc.EncodeToken(xml.Directive(xmlDoctype)); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}

	plistStart := xml.StartElement{
		Name: xml.Name{Local: "plist"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "version"}, Value: "1.0"}},
	}
	if err := enc.EncodeToken(plistStart); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}

	x := &xmlEncoder{enc: enc}
	if err := x.writeValue(root, p); err != nil {
		return err
	}

	if err := enc.EncodeToken(plistStart.End()); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}
	if err := enc.Flush(); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}
	return nil
}

func (x *xmlEncoder) emit(tag, text string) error {
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := x.enc.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := x.enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	return x.enc.EncodeToken(start.End())
}

func (x *xmlEncoder) comment(text string) error {
	return x.enc.EncodeToken(xml.Comment(" " + text + " "))
}

// writeValue dispatches a Value to its XML plist representation. Null,
// Fill and URL have no representation in this dialect and are rejected
// with EncodingRejected rather than silently coerced.
func (x *xmlEncoder) writeValue(v cf.Value, p *path) error {
	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		return &IOFailureError{Path: p.String(), Err: err}
	}

	switch vv := v.(type) {
	case cf.Null, cf.Fill, cf.URL:
		return &EncodingRejectedError{Path: p.String(), Kind: v.TypeName(), Format: "XML"}

	case cf.Bool:
		tag := "false"
		if vv {
			tag = "true"
		}
		return wrap(x.emit(tag, ""))

	case cf.Int:
		return wrap(x.emit("integer", strconv.FormatInt(int64(vv), 10)))

	case cf.BigInt:
		return wrap(x.emit("integer", vv.Big().String()))

	case cf.UID:
		if err := x.comment(xmlCommentUID); err != nil {
			return wrap(err)
		}
		return wrap(x.emit("string", fmt.Sprintf("0x%X", uint64(vv))))

	case cf.Real32:
		if err := x.comment(xmlCommentFloat); err != nil {
			return wrap(err)
		}
		return wrap(x.emit("real", formatXMLReal(float64(vv), 32)))

	case cf.Real64:
		return wrap(x.emit("real", formatXMLReal(float64(vv), 64)))

	case cf.Date:
		return wrap(x.emit("date", time.Time(vv).In(time.UTC).Format(xmlDateLayout)))

	case cf.Data:
		return wrap(x.emit("data", base64.StdEncoding.EncodeToString(vv)))

	case cf.Str:
		return wrap(x.emit("string", string(vv)))

	case cf.UUID:
		if err := x.comment(xmlCommentUUID); err != nil {
			return wrap(err)
		}
		return wrap(x.emit("string", formatXMLUUID(vv)))

	case cf.Array:
		return x.writeSequence("array", "", vv, p)

	case cf.Set:
		if err := x.comment(xmlCommentSet); err != nil {
			return wrap(err)
		}
		return x.writeSequence("array", "set", []cf.Value(vv), p)

	case *cf.Dict:
		start := xml.StartElement{Name: xml.Name{Local: "dict"}}
		if err := x.enc.EncodeToken(start); err != nil {
			return wrap(err)
		}
		for i := 0; i < vv.Len(); i++ {
			k, val := vv.At(i)
			if err := x.emit("key", k); err != nil {
				return wrap(err)
			}
			if err := x.writeValue(val, p.child("dict", k)); err != nil {
				return err
			}
		}
		return wrap(x.enc.EncodeToken(start.End()))
	}
	return nil
}

func (x *xmlEncoder) writeSequence(tag, pathKind string, items []cf.Value, p *path) error {
	if pathKind == "" {
		pathKind = tag
	}
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := x.enc.EncodeToken(start); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}
	for i, child := range items {
		if err := x.writeValue(child, p.index(pathKind, i)); err != nil {
			return err
		}
	}
	if err := x.enc.EncodeToken(start.End()); err != nil {
		return &IOFailureError{Path: p.String(), Err: err}
	}
	return nil
}

func formatXMLReal(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "+infinity"
	case math.IsInf(v, -1):
		return "-infinity"
	}
	return strconv.FormatFloat(v, 'g', -1, bits)
}

func formatXMLUUID(u cf.UUID) string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		u[0], u[1], u[2], u[3], u[4], u[5], u[6], u[7], u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15])
}

// --- Decoder ---------------------------------------------------------

type xmlDecoder struct {
	dec     *xml.Decoder
	pending string
}

func decodeXML(r io.Reader) (cf.Value, error) {
	x := &xmlDecoder{dec: xml.NewDecoder(r)}
	p := rootPath("xml")

	for {
		tok, err := x.dec.Token()
		if err != nil {
			return nil, &MalformedHeaderError{Path: p.String(), Err: err}
		}
		switch t := tok.(type) {
		case xml.Comment:
			x.pending = strings.TrimSpace(string(t))
		case xml.StartElement:
			if t.Name.Local != "plist" {
				return nil, &MalformedHeaderError{Path: p.String(), Err: fmt.Errorf("expected root <plist>, got <%s>", t.Name.Local)}
			}
			return x.parsePlistBody(p)
		}
	}
}

func (x *xmlDecoder) parsePlistBody(p *path) (cf.Value, error) {
	for {
		tok, err := x.dec.Token()
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		switch t := tok.(type) {
		case xml.Comment:
			x.pending = strings.TrimSpace(string(t))
		case xml.StartElement:
			return x.parseElement(t, p)
		case xml.EndElement:
			if t.Name.Local == "plist" {
				return nil, &MalformedHeaderError{Path: p.String(), Err: errors.New("empty plist document")}
			}
		}
	}
}

func (x *xmlDecoder) parseElement(el xml.StartElement, p *path) (cf.Value, error) {
	hint := x.pending
	x.pending = ""

	switch el.Name.Local {
	case "true", "false":
		if err := x.dec.Skip(); err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		return cf.Bool(el.Name.Local == "true"), nil

	case "string":
		text, err := x.charData(el, p)
		if err != nil {
			return nil, err
		}
		switch hint {
		case xmlCommentUID:
			return parseXMLUID(text, p)
		case xmlCommentUUID:
			return parseXMLUUID(text, p)
		default:
			return cf.Str(text), nil
		}

	case "integer":
		text, err := x.charData(el, p)
		if err != nil {
			return nil, err
		}
		return parseXMLInteger(text, p)

	case "real":
		text, err := x.charData(el, p)
		if err != nil {
			return nil, err
		}
		v, err := parseXMLReal(text, p)
		if err != nil {
			return nil, err
		}
		if hint == xmlCommentFloat {
			return cf.Real32(float32(v)), nil
		}
		return cf.Real64(v), nil

	case "date":
		text, err := x.charData(el, p)
		if err != nil {
			return nil, err
		}
		t, err := time.ParseInLocation(xmlDateLayout, strings.TrimSpace(text), time.UTC)
		if err != nil {
			return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: err}
		}
		return cf.Date(t), nil

	case "data":
		text, err := x.charData(el, p)
		if err != nil {
			return nil, err
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: err}
		}
		return cf.Data(decoded), nil

	case "array":
		return x.parseArray(el, p, hint == xmlCommentSet)

	case "dict":
		return x.parseDict(el, p)
	}
	return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: fmt.Errorf("unknown XML plist element <%s>", el.Name.Local)}
}

func (x *xmlDecoder) charData(el xml.StartElement, p *path) (string, error) {
	var sb strings.Builder
	for {
		tok, err := x.dec.Token()
		if err != nil {
			return "", &IOFailureError{Path: p.String(), Err: err}
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == el.Name.Local {
				return sb.String(), nil
			}
		}
	}
}

func (x *xmlDecoder) parseArray(el xml.StartElement, p *path, asSet bool) (cf.Value, error) {
	kind := "array"
	if asSet {
		kind = "set"
	}
	var items []cf.Value
	i := 0
	for {
		tok, err := x.dec.Token()
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		switch t := tok.(type) {
		case xml.Comment:
			x.pending = strings.TrimSpace(string(t))
		case xml.StartElement:
			v, err := x.parseElement(t, p.index(kind, i))
			if err != nil {
				return nil, err
			}
			items = append(items, v)
			i++
		case xml.EndElement:
			if t.Name.Local == el.Name.Local {
				if asSet {
					return cf.Set(items), nil
				}
				return cf.Array(items), nil
			}
		}
	}
}

func (x *xmlDecoder) parseDict(el xml.StartElement, p *path) (cf.Value, error) {
	dict := cf.NewDict()
	var key string
	haveKey := false
	for {
		tok, err := x.dec.Token()
		if err != nil {
			return nil, &IOFailureError{Path: p.String(), Err: err}
		}
		switch t := tok.(type) {
		case xml.Comment:
			x.pending = strings.TrimSpace(string(t))
		case xml.StartElement:
			if t.Name.Local == "key" {
				if haveKey {
					return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: errors.New("two consecutive <key> elements")}
				}
				k, err := x.charData(t, p)
				if err != nil {
					return nil, err
				}
				key, haveKey = k, true
				continue
			}
			if !haveKey {
				return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: errors.New("dictionary value without a preceding key")}
			}
			v, err := x.parseElement(t, p.child("dict", key))
			if err != nil {
				return nil, err
			}
			dict.Set(key, v)
			haveKey = false
		case xml.EndElement:
			if t.Name.Local == el.Name.Local {
				if haveKey {
					return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: errors.New("missing value for dictionary key")}
				}
				return dict, nil
			}
		}
	}
}

// parseXMLInt parses a base-10 (optionally signed) or base-16 (`0x`
// prefixed) integer literal, rejecting anything wider than 128 bits
// two's-complement per §4.8.
func parseXMLInt(text string, p *path) (*big.Int, error) {
	t := strings.TrimSpace(text)
	neg := false
	rest := t
	switch {
	case strings.HasPrefix(rest, "+"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "-"):
		neg = true
		rest = rest[1:]
	}
	base := 10
	if strings.HasPrefix(rest, "0x") || strings.HasPrefix(rest, "0X") {
		base = 16
		rest = rest[2:]
	}
	n, ok := new(big.Int).SetString(rest, base)
	if !ok {
		return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: fmt.Errorf("invalid integer literal %q", text)}
	}
	if neg {
		n.Neg(n)
	}
	// A negative n fits in 128 bits two's-complement when -n-1 needs at
	// most 127 bits (so -2^127 is accepted).
	mag := n
	if n.Sign() < 0 {
		mag = new(big.Int).Not(n)
	}
	if mag.BitLen() > 127 {
		return nil, &OverflowError{Path: p.String(), Err: fmt.Errorf("integer literal %q exceeds 128 bits", text)}
	}
	return n, nil
}

func parseXMLInteger(text string, p *path) (cf.Value, error) {
	n, err := parseXMLInt(text, p)
	if err != nil {
		return nil, err
	}
	if n.IsInt64() {
		return cf.Int(n.Int64()), nil
	}
	return cf.NewBigInt(n), nil
}

func parseXMLUID(text string, p *path) (cf.Value, error) {
	n, err := parseXMLInt(text, p)
	if err != nil {
		return nil, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return nil, &OverflowError{Path: p.String(), Err: fmt.Errorf("UID literal %q out of range", text)}
	}
	return cf.UID(n.Uint64()), nil
}

func parseXMLUUID(text string, p *path) (cf.Value, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), "-", "")
	if len(s) != 32 {
		return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: fmt.Errorf("invalid UUID literal %q", text)}
	}
	var b [16]byte
	for i := 0; i < 16; i++ {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: err}
		}
		b[i] = byte(v)
	}
	return cf.UUID(b), nil
}

func parseXMLReal(text string, p *path) (float64, error) {
	t := strings.TrimSpace(text)
	switch strings.ToLower(t) {
	case "nan":
		return math.NaN(), nil
	case "+infinity", "infinity", "inf", "+inf":
		return math.Inf(1), nil
	case "-infinity", "-inf":
		return math.Inf(-1), nil
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, &MalformedMarkerError{Path: p.String(), Marker: 0, Err: err}
	}
	return v, nil
}
