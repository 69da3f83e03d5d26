package cf

import "time"

// Equal reports whether a and b are the same plist value. Scalars compare
// by value (Data by byte contents); containers compare by deep equality
// of their elements in order. Equal never consults the uniquing hashKey:
// that contract is deliberately lossy (Data hashes by length only) and
// byte-wise equality is what resolves a collision.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case BigInt:
		return av.Bytes == b.(BigInt).Bytes
	case UID:
		return av == b.(UID)
	case Real32:
		return av == b.(Real32)
	case Real64:
		return av == b.(Real64)
	case Date:
		return time.Time(av).Equal(time.Time(b.(Date)))
	case Data:
		return av.Equal(b.(Data))
	case Str:
		return av == b.(Str)
	case UUID:
		return av == b.(UUID)
	case URL:
		bv := b.(URL)
		if av.Target != bv.Target {
			return false
		}
		if (av.Base == nil) != (bv.Base == nil) {
			return false
		}
		return av.Base == nil || *av.Base == *bv.Base
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Set:
		bv := b.(Set)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Dict:
		bv := b.(*Dict)
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			ak, aval := av.At(i)
			bk, bval := bv.At(i)
			if ak != bk || !Equal(aval, bval) {
				return false
			}
		}
		return true
	case Fill:
		return true
	}
	return false
}

// Fill is a placeholder marker, ignored wherever it is encountered.
type Fill struct{}

func (Fill) Kind() Kind       { return FillKind }
func (Fill) TypeName() string { return "fill" }

// ContainsEqual reports whether any element of s equals v, used to
// enforce the Set no-duplicates invariant when building one by hand.
func ContainsEqual(s Set, v Value) bool {
	for _, e := range s {
		if Equal(e, v) {
			return true
		}
	}
	return false
}
