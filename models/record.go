package models

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Quantities leave the process as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Record is an event variant that can resolve a nested field path.
// Resolve returns false when any segment of the path is undefined.
type Record interface {
	Resolve(path []string) (any, bool)
}

// Fields is a free-form record, used for metadata and tests.
type Fields map[string]any

func (f Fields) Resolve(path []string) (any, bool) {
	return Resolve(map[string]any(f), path)
}

// SplitPath splits a dotted field path into segments.
func SplitPath(field string) []string {
	return strings.Split(field, ".")
}

// Resolve walks path on v. Records delegate to their own Resolve, maps are
// looked up by key and slices by numeric index.
func Resolve(v any, path []string) (any, bool) {
	if v == nil {
		return nil, false
	}
	if len(path) == 0 {
		return v, true
	}

	switch t := v.(type) {
	case Record:
		return t.Resolve(path)
	case map[string]any:
		next, ok := t[path[0]]
		if !ok {
			return nil, false
		}
		return Resolve(next, path[1:])
	case map[string]decimal.Decimal:
		next, ok := t[path[0]]
		if !ok {
			return nil, false
		}
		return Resolve(next, path[1:])
	case []any:
		return index(t, path)
	}
	return nil, false
}

func index[T any](items []T, path []string) (any, bool) {
	if len(path) == 0 {
		if len(items) == 0 {
			return nil, false
		}
		return items, true
	}
	i, err := strconv.Atoi(path[0])
	if err != nil || i < 0 || i >= len(items) {
		return nil, false
	}
	return Resolve(items[i], path[1:])
}

// optional resolves a nullable scalar.
func optional[T any](p *T, path []string) (any, bool) {
	if p == nil {
		return nil, false
	}
	return Resolve(*p, path)
}
