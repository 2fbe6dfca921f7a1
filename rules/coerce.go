package rules

import (
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Number converts v to a number the way rule values are compared.
// Strings are trimmed and an empty string is zero; hex, octal and binary
// literals with a 0x/0o/0b prefix are accepted. Booleans are 1 and 0,
// times are milliseconds since the epoch. Anything else, or a string that
// does not parse, is not a number.
func Number(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int8:
		return decimal.NewFromInt(int64(t)), true
	case int16:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint:
		return fromUint(uint64(t)), true
	case uint8:
		return fromUint(uint64(t)), true
	case uint16:
		return fromUint(uint64(t)), true
	case uint32:
		return fromUint(uint64(t)), true
	case uint64:
		return fromUint(t), true
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case bool:
		if t {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	case time.Time:
		return decimal.NewFromInt(t.UnixMilli()), true
	case string:
		return parseNumber(t)
	}
	return decimal.Decimal{}, false
}

func fromUint(u uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)
}

func fromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, true
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, ok := new(big.Int).SetString(s[2:], base)
			if !ok {
				return decimal.Decimal{}, false
			}
			return decimal.NewFromBigInt(n, 0), true
		}
	}
	if strings.ContainsAny(s, "_") {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseTime reads a rule value written the way times are delivered.
func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	return t, err == nil
}

// LooseEqual compares a resolved value with a rule value. Strings compare
// exactly; times compare against an RFC 3339 value or milliseconds;
// everything else compares numerically.
func LooseEqual(actual any, expected string) bool {
	switch t := actual.(type) {
	case string:
		return t == expected
	case time.Time:
		if et, ok := parseTime(expected); ok {
			return t.Equal(et)
		}
	case nil:
		return false
	}
	a, ok := Number(actual)
	if !ok {
		return false
	}
	b, ok := Number(expected)
	if !ok {
		return false
	}
	return a.Equal(b)
}
