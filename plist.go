package plist

import "github.com/aeyre/plist/cf"

// Value is any node in a property list tree; see package cf for the full
// set of variants (cf.Bool, cf.Int, cf.Str, cf.Dict, ...).
type Value = cf.Value

// Format identifies an on-disk plist encoding.
type Format int

const (
	// AutodetectFormat is the zero Format. NewDecoder always sniffs the
	// input; NewEncoder and WithFormat reject this value as a target.
	AutodetectFormat Format = iota
	XMLFormat
	BinaryFormat00
	BinaryFormat15
)

var formatNames = map[Format]string{
	AutodetectFormat: "autodetect",
	XMLFormat:         "XML",
	BinaryFormat00:    "binary-v00",
	BinaryFormat15:    "binary-v15",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return "unknown"
}
