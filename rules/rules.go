package rules

import (
	"errors"
	"fmt"
	"time"

	"webhook-notifier/models"
)

var ErrUnknownOperator = errors.New("unknown rule operator")

type compareFunc func(actual any, expected string) bool

// operators is built once at package init and never mutated.
var operators = map[string]compareFunc{
	"=":  LooseEqual,
	"eq": LooseEqual,
	"!=": func(a any, b string) bool { return !LooseEqual(a, b) },
	">":  ordered(func(c int) bool { return c > 0 }),
	"<":  ordered(func(c int) bool { return c < 0 }),
	">=": ordered(func(c int) bool { return c >= 0 }),
	"<=": ordered(func(c int) bool { return c <= 0 }),
}

func ordered(pred func(int) bool) compareFunc {
	return func(actual any, expected string) bool {
		if t, ok := actual.(time.Time); ok {
			if et, ok := parseTime(expected); ok {
				return pred(t.Compare(et))
			}
		}
		a, ok := Number(actual)
		if !ok {
			return false
		}
		b, ok := Number(expected)
		if !ok {
			return false
		}
		return pred(a.Cmp(b))
	}
}

// Validate reports the first rule whose operator is not supported.
func Validate(rs []models.Rule) error {
	for _, r := range rs {
		if _, ok := operators[r.Operator]; !ok {
			return fmt.Errorf("%w: %q on field %q", ErrUnknownOperator, r.Operator, r.Field)
		}
	}
	return nil
}

// Resolve walks the dotted field path on rec.
func Resolve(rec any, field string) (any, bool) {
	return models.Resolve(rec, models.SplitPath(field))
}

// Match is the conjunction of all rules over rec. An empty rule list
// matches. A field that cannot be resolved makes its rule false.
func Match(rs []models.Rule, rec any) (bool, error) {
	if err := Validate(rs); err != nil {
		return false, err
	}
	for _, r := range rs {
		v, ok := Resolve(rec, r.Field)
		if !ok || !operators[r.Operator](v, r.Value) {
			return false, nil
		}
	}
	return true, nil
}

// Filter returns the items that match all rules, in order.
func Filter[T any](rs []models.Rule, items []T) ([]T, error) {
	if err := Validate(rs); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := Match(rs, item)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}
