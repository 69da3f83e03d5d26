package cf

import (
	"math/big"
	"testing"
	"time"
)

func TestBigIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 127, -128, 1 << 40, -(1 << 40)}
	for _, n := range cases {
		b := NewBigInt(big.NewInt(n))
		got := b.Big()
		if got.Int64() != n {
			t.Errorf("NewBigInt(%d).Big() = %v, want %d", n, got, n)
		}
	}
}

func TestBigIntLargeMagnitude(t *testing.T) {
	want, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10) // 2^127 - 1
	b := NewBigInt(want)
	got := b.Big()
	if got.Cmp(want) != 0 {
		t.Errorf("Big() = %v, want %v", got, want)
	}
}

func TestBigIntNegativeLargeMagnitude(t *testing.T) {
	want, _ := new(big.Int).SetString("-170141183460469231731687303715884105728", 10) // -2^127
	b := NewBigInt(want)
	got := b.Big()
	if got.Cmp(want) != 0 {
		t.Errorf("Big() = %v, want %v", got, want)
	}
}

func TestDataHashKeyDependsOnlyOnLength(t *testing.T) {
	a := Data("abcd")
	b := Data("wxyz")
	ka, _ := HashKey(a)
	kb, _ := HashKey(b)
	if ka != kb {
		t.Errorf("two Data values of equal length hashed differently: %v vs %v", ka, kb)
	}
	if Equal(a, b) {
		t.Errorf("Equal should distinguish Data with the same length but different content")
	}
}

func TestDateSecondsRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	secs := SecondsSinceEpoch(now)
	back := TimeFromSeconds(secs)
	if !back.Equal(now) {
		t.Errorf("TimeFromSeconds(SecondsSinceEpoch(t)) = %v, want %v", back, now)
	}
}

func TestDictPreservesInsertionOrder(t *testing.T) {
	d := NewDict()
	order := []string{"zeta", "alpha", "middle", "beta"}
	for i, k := range order {
		d.Set(k, Int(i))
	}
	for i, want := range order {
		k, _ := d.At(i)
		if k != want {
			t.Errorf("At(%d) key = %q, want %q", i, k, want)
		}
	}
	if got := d.Keys(); len(got) != len(order) {
		t.Fatalf("Keys() length = %d, want %d", len(got), len(order))
	}
}

func TestDictSetUpdatesInPlace(t *testing.T) {
	d := NewDict()
	d.Set("a", Int(1))
	d.Set("b", Int(2))
	d.Set("a", Int(99))
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	k, v := d.At(0)
	if k != "a" || v != Int(99) {
		t.Errorf("At(0) = (%q, %v), want (\"a\", 99)", k, v)
	}
}

func TestEqualContainers(t *testing.T) {
	a := NewDict()
	a.Set("x", Array{Int(1), Str("hi")})
	b := NewDict()
	b.Set("x", Array{Int(1), Str("hi")})
	if !Equal(a, b) {
		t.Errorf("expected equal dicts")
	}

	b.Set("y", Bool(true))
	if Equal(a, b) {
		t.Errorf("expected unequal dicts after divergence")
	}
}

func TestContainsEqual(t *testing.T) {
	s := Set{Int(1), Str("a"), Bool(true)}
	if !ContainsEqual(s, Str("a")) {
		t.Errorf("expected ContainsEqual to find Str(\"a\")")
	}
	if ContainsEqual(s, Str("b")) {
		t.Errorf("did not expect ContainsEqual to find Str(\"b\")")
	}
}
