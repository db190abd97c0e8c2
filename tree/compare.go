package tree

import (
	"math"
	"reflect"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Equal reports whether a and b hold the same tree. Object key order is
// irrelevant and numbers compare by exact value across Go numeric kinds, so
// int(1) equals float64(1) while int64(1<<53) and int64(1<<53+1) differ.
//
// Values outside the JSON model fall back to reflect.DeepEqual.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}

	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an.equal(bn)
	}
	if _, ok := toNumber(b); ok {
		return false
	}

	av, aerr := structpb.NewValue(a)
	bv, berr := structpb.NewValue(b)
	if aerr != nil || berr != nil {
		return reflect.DeepEqual(a, b)
	}
	return proto.Equal(av, bv)
}

type numberKind int

const (
	signedKind numberKind = iota
	unsignedKind
	floatKind
)

// number holds a numeric leaf without losing integer precision.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{kind: signedKind, i: int64(n)}, true
	case int8:
		return number{kind: signedKind, i: int64(n)}, true
	case int16:
		return number{kind: signedKind, i: int64(n)}, true
	case int32:
		return number{kind: signedKind, i: int64(n)}, true
	case int64:
		return number{kind: signedKind, i: n}, true
	case uint:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint8:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint16:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint32:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint64:
		return number{kind: unsignedKind, u: n}, true
	case float32:
		return number{kind: floatKind, f: float64(n)}, true
	case float64:
		return number{kind: floatKind, f: n}, true
	default:
		return number{}, false
	}
}

func (n number) equal(o number) bool {
	if n.kind > o.kind {
		n, o = o, n
	}

	switch {
	case n.kind == signedKind && o.kind == signedKind:
		return n.i == o.i
	case n.kind == unsignedKind && o.kind == unsignedKind:
		return n.u == o.u
	case n.kind == floatKind:
		return n.f == o.f
	case n.kind == signedKind && o.kind == unsignedKind:
		return n.i >= 0 && uint64(n.i) == o.u
	case n.kind == signedKind:
		return floatIsInt(o.f) && o.f >= math.MinInt64 && o.f < math.MaxInt64 && int64(o.f) == n.i
	default:
		return floatIsInt(o.f) && o.f >= 0 && o.f < math.MaxUint64 && uint64(o.f) == n.u
	}
}

func floatIsInt(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}

// Clone returns a deep copy of v. Objects and arrays are copied
// recursively; every other value is shared with the original.
func Clone(v any) any {
	switch n := v.(type) {
	case map[string]any:
		return CloneObject(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// CloneObject is Clone for an object root. A nil object clones to nil.
func CloneObject(obj map[string]any) map[string]any {
	if obj == nil {
		return nil
	}
	out := make(map[string]any, len(obj))
	for k, item := range obj {
		out[k] = Clone(item)
	}
	return out
}
