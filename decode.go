package plist

import (
	"bytes"
	"errors"
	"io"
)

// Decoder reads a single property list document, in whichever of the
// three dialects its header identifies.
type Decoder struct {
	r io.ReadSeeker
}

// NewDecoder returns a Decoder that sniffs r's header to choose a
// dialect. r must support seeking: the v00 algorithm is fundamentally
// random-access (§5). Callers with only an io.Reader should use
// NewDecoderFromReader, which spools the input into memory first.
func NewDecoder(r io.ReadSeeker) *Decoder {
	return &Decoder{r: r}
}

// NewDecoderFromReader spools a non-seekable source into an in-memory
// buffer before decoding, per §5's resource model.
func NewDecoderFromReader(r io.Reader) (*Decoder, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, &IOFailureError{Path: rootPath("autodetect").String(), Err: err}
	}
	return NewDecoder(bytes.NewReader(buf)), nil
}

// Decode reads the document and returns its root Value.
func (d *Decoder) Decode() (Value, error) {
	root := rootPath("autodetect")

	header := make([]byte, 8)
	n, err := io.ReadFull(d.r, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}
	header = header[:n]
	if _, err := d.r.Seek(0, io.SeekStart); err != nil {
		return nil, &IOFailureError{Path: root.String(), Err: err}
	}

	switch {
	case bytes.Equal(header, []byte(bplist00Header)):
		return decodeBplist00(d.r)
	case bytes.Equal(header, []byte(bplist15Header)):
		return decodeBplist15(d.r)
	case bytes.ContainsAny(header, "<"):
		return decodeXML(d.r)
	}
	return nil, &MalformedHeaderError{Path: root.String(), Err: errors.New("unrecognized property list header")}
}
