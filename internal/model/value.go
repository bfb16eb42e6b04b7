package model

import (
	"fmt"
	"math"
	"strings"
)

// Primitive type names.
const (
	TypeBoolean = "boolean"
	TypeByte    = "byte"
	TypeChar    = "char"
	TypeShort   = "short"
	TypeInt     = "int"
	TypeLong    = "long"
	TypeFloat   = "float"
	TypeDouble  = "double"
)

var primitives = map[string]struct{}{
	TypeBoolean: {}, TypeByte: {}, TypeChar: {}, TypeShort: {},
	TypeInt: {}, TypeLong: {}, TypeFloat: {}, TypeDouble: {},
}

// IsPrimitive reports whether t names a primitive type.
func IsPrimitive(t string) bool {
	_, ok := primitives[t]

	return ok
}

// IsReference reports whether t names a reference (object or array) type.
func IsReference(t string) bool {
	return t != VoidType && !IsPrimitive(t)
}

// ValidType reports whether t is a primitive, void, array or well-formed type name.
func ValidType(t string) bool {
	if t == VoidType || IsPrimitive(t) {
		return true
	}

	t = strings.TrimSuffix(t, "[]")
	if IsPrimitive(t) {
		return true
	}

	return TypeName(t).Valid()
}

// Zero returns the default value of type t as carried by the VM:
// bool, int8, uint16, int16, int32, int64, float32, float64, or nil for
// references and void.
func Zero(t string) any {
	switch t {
	case TypeBoolean:
		return false
	case TypeByte:
		return int8(0)
	case TypeChar:
		return uint16(0)
	case TypeShort:
		return int16(0)
	case TypeInt:
		return int32(0)
	case TypeLong:
		return int64(0)
	case TypeFloat:
		return float32(0)
	case TypeDouble:
		return float64(0)
	default:
		return nil
	}
}

// Coerce converts v to the VM representation of type t. Numeric values of
// any Go kind are accepted for numeric types when they fit; strings are
// accepted for java.lang.String and single-rune strings for char.
func Coerce(t string, v any) (any, error) {
	if v == nil {
		if IsPrimitive(t) {
			return nil, fmt.Errorf("nil is not a valid %s", t)
		}

		return nil, nil
	}

	switch t {
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%v (%T) is not a boolean", v, v)
		}

		return b, nil
	case TypeByte:
		n, err := integer(v, math.MinInt8, math.MaxInt8)

		return int8(n), err
	case TypeShort:
		n, err := integer(v, math.MinInt16, math.MaxInt16)

		return int16(n), err
	case TypeInt:
		n, err := integer(v, math.MinInt32, math.MaxInt32)

		return int32(n), err
	case TypeLong:
		n, err := integer(v, math.MinInt64, math.MaxInt64)

		return n, err
	case TypeChar:
		if s, ok := v.(string); ok {
			r := []rune(s)
			if len(r) != 1 || r[0] > math.MaxUint16 {
				return nil, fmt.Errorf("%q is not a single char", s)
			}

			return uint16(r[0]), nil
		}

		n, err := integer(v, 0, math.MaxUint16)

		return uint16(n), err
	case TypeFloat:
		f, err := float(v)

		return float32(f), err
	case TypeDouble:
		return float(v)
	case StringType:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%v (%T) is not a string", v, v)
		}

		return s, nil
	case VoidType:
		return nil, nil
	default:
		return v, nil
	}
}

func integer(v any, lo, hi int64) (int64, error) {
	var n int64

	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}

		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}

		n = int64(x)
	default:
		return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
	}

	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}

	return n, nil
}

func float(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		n, err := integer(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return 0, fmt.Errorf("%v (%T) is not a number", v, v)
		}

		return float64(n), nil
	}
}
