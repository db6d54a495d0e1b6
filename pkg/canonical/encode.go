package canonical

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"
)

// maxExactFloat is the largest magnitude below which every integer is exactly
// representable as a float64.
const maxExactFloat = 1 << 53

const hexDigits = "0123456789abcdef"

// Encode returns the canonical JSON encoding of v: no insignificant
// whitespace, map keys sorted by byte order at every level, integral numbers
// written as integers and all control characters escaped. The output never
// contains a raw byte below 0x20.
//
// Integer values are always written in full. A float is written as an
// integer only while its magnitude is at most 2^53; larger floats use the
// shortest exponent form, even when integral. Int(9007199254740994) and
// Float(9007199254740994) therefore encode, and hash, differently. Callers
// that need exact large integers must supply them as JSON text or Int/Uint,
// never through a float64 carrier.
func Encode(v Value) ([]byte, error) {
	return appendValue(make([]byte, 0, 128), v, "$")
}

// Marshal converts x with FromAny and encodes the result.
func Marshal(x any) ([]byte, error) {
	v, err := FromAny(x)
	if err != nil {
		return nil, err
	}
	return Encode(v)
}

func appendValue(b []byte, v Value, path string) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(b, "null"...), nil
	case KindBool:
		if v.b {
			return append(b, "true"...), nil
		}
		return append(b, "false"...), nil
	case KindNumber:
		return appendNumber(b, v, path)
	case KindString:
		return appendString(b, v.s, path)
	case KindList:
		b = append(b, '[')
		for i, item := range v.list {
			if i > 0 {
				b = append(b, ',')
			}
			var err error
			b, err = appendValue(b, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
		}
		return append(b, ']'), nil
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b = append(b, '{')
		for i, k := range keys {
			if i > 0 {
				b = append(b, ',')
			}
			fieldPath := path + "." + k
			var err error
			if b, err = appendString(b, k, fieldPath); err != nil {
				return nil, err
			}
			b = append(b, ':')
			if b, err = appendValue(b, v.m[k], fieldPath); err != nil {
				return nil, err
			}
		}
		return append(b, '}'), nil
	default:
		return nil, encodingError(path, fmt.Sprintf("unknown value kind %d", v.kind), nil)
	}
}

func appendNumber(b []byte, v Value, path string) ([]byte, error) {
	switch v.nk {
	case numInt:
		return strconv.AppendInt(b, v.i, 10), nil
	case numUint:
		return strconv.AppendUint(b, v.u, 10), nil
	}

	f := v.f
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, encodingError(path, "non-finite number", nil)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		return strconv.AppendInt(b, int64(f), 10), nil
	}
	return strconv.AppendFloat(b, f, 'g', -1, 64), nil
}

func appendString(b []byte, s, path string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, encodingError(path, "string is not valid UTF-8", nil)
	}

	b = append(b, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		b = append(b, s[start:i]...)
		switch c {
		case '"', '\\':
			b = append(b, '\\', c)
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		case '\b':
			b = append(b, '\\', 'b')
		case '\f':
			b = append(b, '\\', 'f')
		default:
			b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
		start = i + 1
	}
	b = append(b, s[start:]...)
	return append(b, '"'), nil
}
