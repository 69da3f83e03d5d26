package plist

import "io"

// Encoder writes a single property list document in one of the three
// dialects.
type Encoder struct {
	w      io.Writer
	format Format
	indent string
}

// NewEncoder returns an Encoder targeting format f. XMLFormat writes
// tab-indented XML per §6.3 unless overridden with WithIndent.
// BinaryFormat00 and BinaryFormat15 write to w directly; the v00
// encoder buffers the whole document in memory regardless (§5), and
// the v15 encoder needs no seekable sink since it back-patches its
// length field before the first Write.
func NewEncoder(w io.Writer, f Format, opts ...Option) (*Encoder, error) {
	e := &Encoder{w: w, format: f, indent: "\t"}
	for _, opt := range opts {
		if _, err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.format == AutodetectFormat {
		return nil, &EncodingRejectedError{Path: rootPath("encode").String(), Kind: "document", Format: "autodetect"}
	}
	return e, nil
}

// Encode writes v in the Encoder's format.
func (e *Encoder) Encode(v Value) error {
	switch e.format {
	case BinaryFormat00:
		return encodeBplist00(e.w, v)
	case BinaryFormat15:
		return encodeBplist15(e.w, v)
	case XMLFormat:
		return encodeXML(e.w, v, e.indent)
	}
	return &EncodingRejectedError{Path: rootPath("encode").String(), Kind: "document", Format: e.format.String()}
}

func (e *Encoder) encoderSetFormat(f Format) (bool, error) {
	if f == AutodetectFormat {
		return false, errOptionUnsupported
	}
	e.format = f
	return true, nil
}

func (e *Encoder) encoderSetIndent(indent string) (bool, error) {
	e.indent = indent
	return true, nil
}
