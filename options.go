package plist

import "errors"

// optionReceiver is implemented by Encoder; each Option mutates one of
// its settable knobs. The functional-options shape mirrors the
// reference implementation's Option type, generalized to the three
// dialects instead of just XML.
type optionReceiver interface {
	encoderSetFormat(Format) (bool, error)
	encoderSetIndent(string) (bool, error)
}

// Option configures an Encoder. Options are applied in the order passed
// to NewEncoder.
type Option func(optionReceiver) (bool, error)

var errOptionUnsupported = errors.New("plist: this option is unsupported for the target format")

// WithFormat selects the on-disk dialect an Encoder writes. The zero
// value, AutodetectFormat, is not a legal encode target and is rejected.
func WithFormat(f Format) Option {
	return Option(func(o optionReceiver) (bool, error) {
		return o.encoderSetFormat(f)
	})
}

// WithIndent sets the per-level indentation string used by the XML
// encoder (§6.3 specifies tab-per-level as the default). Ignored by the
// binary encoders, which have no textual layout to indent.
func WithIndent(indent string) Option {
	return Option(func(o optionReceiver) (bool, error) {
		return o.encoderSetIndent(indent)
	})
}
