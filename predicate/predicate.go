// Package predicate evaluates filter expressions against pipeline items.
//
// Leaves compare an operand (a named field of a map item, or the raw item)
// against a constant; And/Or combine leaves into a tree.
//
//	predicate.And(
//		predicate.Field("status").Ge(500),
//		predicate.Raw().Contains("timeout"),
//	)
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrNotRecord    = errors.New("predicate: item is not a record")
	ErrIncomparable = errors.New("predicate: values are not comparable")
	ErrUnknownOp    = errors.New("predicate: unknown operator")
)

type Expr interface {
	Eval(item any) (bool, error)
	String() string
}

type Op string

const (
	OpEq       Op = "=="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpGt       Op = ">"
	OpLe       Op = "<="
	OpGe       Op = ">="
	OpContains Op = "contains"
	OpIn       Op = "in"
)

// Operand extracts the left-hand side of a comparison from an item.
type Operand struct {
	name string
	raw  bool
}

// Field reads a key from a map item.
func Field(name string) Operand { return Operand{name: name} }

// Raw uses the item itself.
func Raw() Operand { return Operand{name: "_", raw: true} }

func (o Operand) value(item any) (any, error) {
	if o.raw {
		return item, nil
	}
	switch m := item.(type) {
	case map[string]any:
		return m[o.name], nil
	case map[string]string:
		v, ok := m[o.name]
		if !ok {
			return nil, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotRecord, item)
	}
}

func (o Operand) Eq(v any) Expr       { return &compare{o, OpEq, v} }
func (o Operand) Ne(v any) Expr       { return &compare{o, OpNe, v} }
func (o Operand) Lt(v any) Expr       { return &compare{o, OpLt, v} }
func (o Operand) Gt(v any) Expr       { return &compare{o, OpGt, v} }
func (o Operand) Le(v any) Expr       { return &compare{o, OpLe, v} }
func (o Operand) Ge(v any) Expr       { return &compare{o, OpGe, v} }
func (o Operand) Contains(v any) Expr { return &compare{o, OpContains, v} }
func (o Operand) In(v any) Expr       { return &compare{o, OpIn, v} }

// Compare builds a leaf from an operator name.
func (o Operand) Compare(op Op, v any) (Expr, error) {
	switch op {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe, OpContains, OpIn:
		return &compare{o, op, v}, nil
	case "=":
		return &compare{o, OpEq, v}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, op)
	}
}

type compare struct {
	operand Operand
	op      Op
	value   any
}

func (c *compare) Eval(item any) (bool, error) {
	lhs, err := c.operand.value(item)
	if err != nil {
		return false, err
	}
	switch c.op {
	case OpEq:
		return equal(lhs, c.value), nil
	case OpNe:
		return !equal(lhs, c.value), nil
	case OpContains:
		return contains(lhs, c.value)
	case OpIn:
		return contains(c.value, lhs)
	}
	n, err := order(lhs, c.value)
	if err != nil {
		return false, err
	}
	switch c.op {
	case OpLt:
		return n < 0, nil
	case OpGt:
		return n > 0, nil
	case OpLe:
		return n <= 0, nil
	case OpGe:
		return n >= 0, nil
	}
	return false, fmt.Errorf("%w %q", ErrUnknownOp, c.op)
}

func (c *compare) String() string {
	v, _ := json.Marshal(c.value)
	return fmt.Sprintf("`%s` %s %s", c.operand.name, c.op, v)
}

type and []Expr

func And(exprs ...Expr) Expr { return and(exprs) }

func (a and) Eval(item any) (bool, error) {
	for _, e := range a {
		ok, err := e.Eval(item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a and) String() string { return join([]Expr(a), " And ") }

type or []Expr

func Or(exprs ...Expr) Expr { return or(exprs) }

func (o or) Eval(item any) (bool, error) {
	for _, e := range o {
		ok, err := e.Eval(item)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (o or) String() string { return join([]Expr(o), " Or ") }

func join(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = "(" + e.String() + ")"
	}
	return strings.Join(parts, sep)
}

type always struct{}

// True matches every item; an empty filter uses it.
func True() Expr { return always{} }

func (always) Eval(any) (bool, error) { return true, nil }
func (always) String() string         { return "true" }

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equal(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, error) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

// contains reports whether needle is inside haystack: a substring of a
// string, an element of a slice, or a key of a map.
func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("%w: %T in string", ErrIncomparable, needle)
		}
		return strings.Contains(h, s), nil
	case nil:
		return false, nil
	}
	rv := reflect.ValueOf(haystack)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), needle) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		k := reflect.ValueOf(needle)
		if !k.IsValid() || !k.Type().AssignableTo(rv.Type().Key()) {
			return false, nil
		}
		return rv.MapIndex(k).IsValid(), nil
	}
	return false, fmt.Errorf("%w: container %T", ErrIncomparable, haystack)
}
