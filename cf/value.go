// Package cf holds the typed value model shared by the XML and binary
// plist codecs: a tagged union of every kind a property list node can be,
// plus the equality and hashing discipline the binary v00 encoder's
// uniquing pass relies on.
package cf

import (
	"bytes"
	"math"
	"math/big"
	"time"
)

// Kind identifies the concrete variant a Value holds. Dispatch on decoded
// or to-be-encoded values should switch on Kind rather than use a type
// switch on every call site, mirroring how plistKind is used in the
// reference implementation this package is adapted from.
type Kind uint

const (
	Invalid Kind = iota
	NullKind
	BoolKind
	IntKind
	BigIntKind
	UIDKind
	Real32Kind
	Real64Kind
	DateKind
	DataKind
	StrKind
	UUIDKind
	URLKind
	ArrayKind
	SetKind
	DictKind
	FillKind
)

var kindNames = map[Kind]string{
	Invalid:    "invalid",
	NullKind:   "null",
	BoolKind:   "boolean",
	IntKind:    "integer",
	BigIntKind: "bigint",
	UIDKind:    "UID",
	Real32Kind: "real32",
	Real64Kind: "real64",
	DateKind:   "date",
	DataKind:   "data",
	StrKind:    "string",
	UUIDKind:   "UUID",
	URLKind:    "URL",
	ArrayKind:  "array",
	SetKind:    "set",
	DictKind:   "dictionary",
	FillKind:   "fill",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Value is any node in a property list tree. Concrete variants are the
// ones enumerated by Kind; dispatch by Kind() rather than by type
// assertion where possible, so that adding call sites doesn't require
// an exhaustive type switch.
type Value interface {
	Kind() Kind
	TypeName() string
}

// scalar is implemented by every Value variant that participates in the
// v00 encoder's uniquing table (see bplist00Encoder.flatten in package
// plist). Containers
// deliberately do not implement it: their equality is expensive and their
// hash distribution poor, so the encoder never tries to unique them.
type scalar interface {
	Value
	hashKey() hashKey
}

// hashKey is the comparable representation of a scalar used as a uniquing
// map key. The Kind is folded in so that, e.g., an Int and a UID carrying
// the same bit pattern never collide.
type hashKey struct {
	kind Kind
	key  interface{}
}

// HashKey exposes the uniquing key for a scalar Value, or false if v is
// not uniquable (a container, Bool, Null or Fill).
func HashKey(v Value) (interface{}, bool) {
	s, ok := v.(scalar)
	if !ok {
		return nil, false
	}
	return s.hashKey(), true
}

// Null is the v15-only nil/unit value.
type Null struct{}

func (Null) Kind() Kind       { return NullKind }
func (Null) TypeName() string { return "null" }

// Bool is a boolean scalar. Unlike the other scalars it is never uniqued:
// the reference implementation keeps only two possible bool bodies and a
// uniquing table buys nothing for it.
type Bool bool

func (Bool) Kind() Kind       { return BoolKind }
func (Bool) TypeName() string { return "boolean" }

// Int is a signed 64-bit integer, canonical for any value in range.
type Int int64

func (Int) Kind() Kind       { return IntKind }
func (Int) TypeName() string { return "integer" }
func (v Int) hashKey() hashKey { return hashKey{IntKind, int64(v)} }

// BigInt is a signed 128-bit integer stored as 16 raw big-endian
// two's-complement bytes, used when a 16-byte integer marker is read, or
// required on write because the value doesn't fit in int64.
type BigInt struct {
	Bytes [16]byte
}

// NewBigInt packs a math/big.Int into its 16-byte big-endian
// two's-complement representation. It panics if v does not fit in 128
// bits; callers that aren't sure should check v.BitLen() <= 127 first.
func NewBigInt(v *big.Int) BigInt {
	var b BigInt
	mag := new(big.Int).Abs(v).Bytes()
	if len(mag) > 16 {
		panic("cf: big.Int does not fit in 128 bits")
	}
	copy(b.Bytes[16-len(mag):], mag)
	if v.Sign() < 0 {
		// two's complement negation over the 16-byte field
		for i := range b.Bytes {
			b.Bytes[i] = ^b.Bytes[i]
		}
		carry := byte(1)
		for i := 15; i >= 0 && carry != 0; i-- {
			sum := uint16(b.Bytes[i]) + uint16(carry)
			b.Bytes[i] = byte(sum)
			carry = byte(sum >> 8)
		}
	}
	return b
}

// Big returns the signed value of b as a math/big.Int.
func (b BigInt) Big() *big.Int {
	isNeg := b.Bytes[0]&0x80 != 0
	mag := make([]byte, 16)
	copy(mag, b.Bytes[:])
	if isNeg {
		for i := range mag {
			mag[i] = ^mag[i]
		}
		carry := byte(1)
		for i := 15; i >= 0 && carry != 0; i-- {
			sum := uint16(mag[i]) + uint16(carry)
			mag[i] = byte(sum)
			carry = byte(sum >> 8)
		}
	}
	n := new(big.Int).SetBytes(mag)
	if isNeg {
		n.Neg(n)
	}
	return n
}

func (BigInt) Kind() Kind       { return BigIntKind }
func (BigInt) TypeName() string { return "bigint" }
func (b BigInt) hashKey() hashKey { return hashKey{BigIntKind, b.Bytes} }

// UID is the unsigned 64-bit scalar used by keyed-archiver payloads.
// v00 only.
type UID uint64

func (UID) Kind() Kind       { return UIDKind }
func (UID) TypeName() string { return "UID" }
func (v UID) hashKey() hashKey { return hashKey{UIDKind, uint64(v)} }

// Real32 is a 32-bit IEEE 754 float.
type Real32 float32

func (Real32) Kind() Kind       { return Real32Kind }
func (Real32) TypeName() string { return "real" }
func (v Real32) hashKey() hashKey { return hashKey{Real32Kind, float32(v)} }

// Real64 is a 64-bit IEEE 754 float.
type Real64 float64

func (Real64) Kind() Kind       { return Real64Kind }
func (Real64) TypeName() string { return "real" }
func (v Real64) hashKey() hashKey { return hashKey{Real64Kind, float64(v)} }

// Date is seconds since the reference epoch (2001-01-01T00:00:00Z),
// represented in memory as a time.Time.
type Date time.Time

func (Date) Kind() Kind       { return DateKind }
func (Date) TypeName() string { return "date" }

// hashKey uses the encoded seconds value, not the time.Time itself (which
// is not comparable across monotonic readings), matching how the value is
// actually serialized.
func (v Date) hashKey() hashKey {
	return hashKey{DateKind, SecondsSinceEpoch(time.Time(v))}
}

// referenceEpoch is 2001-01-01T00:00:00Z, the Apple plist reference date.
var referenceEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// SecondsSinceEpoch converts t to the 64-bit-float seconds-since-epoch
// representation used on the wire by Date values.
func SecondsSinceEpoch(t time.Time) float64 {
	return t.In(time.UTC).Sub(referenceEpoch).Seconds()
}

// TimeFromSeconds is the inverse of SecondsSinceEpoch.
func TimeFromSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	d := time.Duration(whole)*time.Second + time.Duration(frac*float64(time.Second))
	return referenceEpoch.Add(d).In(time.UTC)
}

// Data is an opaque byte sequence. Its hash contract depends only on its
// length, by design: this deliberately biases the v00 uniquing table
// toward collisions, and the byte-wise equality check is authoritative.
type Data []byte

func (Data) Kind() Kind       { return DataKind }
func (Data) TypeName() string { return "data" }
func (v Data) hashKey() hashKey { return hashKey{DataKind, len(v)} }

// Equal reports whether two Data values hold identical bytes. Hash
// collisions (same length, different content) are resolved here.
func (v Data) Equal(other Data) bool { return bytes.Equal(v, other) }

// Str is a text scalar. It round-trips through ASCII on the fast path and
// falls back to UTF-16 only when it must (see the binary v00 encoder).
type Str string

func (Str) Kind() Kind       { return StrKind }
func (Str) TypeName() string { return "string" }
func (v Str) hashKey() hashKey { return hashKey{StrKind, string(v)} }

// UUID is 16 raw bytes. v15 only.
type UUID [16]byte

func (UUID) Kind() Kind       { return UUIDKind }
func (UUID) TypeName() string { return "UUID" }
func (v UUID) hashKey() hashKey { return hashKey{UUIDKind, v} }

// URL is text plus an optional base URL for resolving relative
// references. v15 only.
type URL struct {
	Target string
	Base   *string
}

func (URL) Kind() Kind       { return URLKind }
func (URL) TypeName() string { return "URL" }
func (v URL) hashKey() hashKey {
	base := ""
	if v.Base != nil {
		base = *v.Base
	}
	return hashKey{URLKind, v.Target + "\x00" + base}
}

// Array is an ordered sequence of Value. Never uniqued by the encoder.
type Array []Value

func (Array) Kind() Kind       { return ArrayKind }
func (Array) TypeName() string { return "array" }

// Set is an unordered collection of Value with duplicates forbidden.
// v15 only. The in-memory representation is a slice that preserves
// insertion order so that encode(decode(x)) reproduces x byte-for-byte;
// "unordered" describes the semantic contract callers must honor (no
// meaning may be assigned to order), not the storage layout.
type Set []Value

func (Set) Kind() Kind       { return SetKind }
func (Set) TypeName() string { return "set" }

// Dict is an ordered mapping from Str to Value. Insertion order is
// preserved across round-trips; keys are unique.
type Dict struct {
	keys   []string
	values []Value
	index  map[string]int
}

func (*Dict) Kind() Kind       { return DictKind }
func (*Dict) TypeName() string { return "dictionary" }

// NewDict returns an empty, ready-to-use Dict.
func NewDict() *Dict {
	return &Dict{index: make(map[string]int)}
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order. The returned slice must not
// be mutated by the caller.
func (d *Dict) Keys() []string { return d.keys }

// Get returns the value for key and whether it is present.
func (d *Dict) Get(key string) (Value, bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.values[i], true
}

// At returns the i-th key/value pair in insertion order.
func (d *Dict) At(i int) (string, Value) { return d.keys[i], d.values[i] }

// Set inserts or updates key, preserving the position of an existing key
// and appending new keys at the end.
func (d *Dict) Set(key string, v Value) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[key]; ok {
		d.values[i] = v
		return
	}
	d.index[key] = len(d.keys)
	d.keys = append(d.keys, key)
	d.values = append(d.values, v)
}
