package predicate

import (
	"errors"
	"fmt"
)

// Spec is the YAML form of an expression tree. Exactly one of And, Or or a
// leaf (Field or Raw with Op) is set on each node.
type Spec struct {
	And   []Spec `yaml:"and,omitempty"`
	Or    []Spec `yaml:"or,omitempty"`
	Field string `yaml:"field,omitempty"`
	Raw   bool   `yaml:"raw,omitempty"`
	Op    Op     `yaml:"op,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

var ErrEmptySpec = errors.New("predicate: empty expression")

// Build compiles a list of specs; several top-level specs are implicitly
// combined with And, and no spec at all matches everything.
func Build(specs ...Spec) (Expr, error) {
	switch len(specs) {
	case 0:
		return True(), nil
	case 1:
		return specs[0].Build()
	}
	exprs, err := buildAll(specs)
	if err != nil {
		return nil, err
	}
	return And(exprs...), nil
}

func (s Spec) Build() (Expr, error) {
	switch {
	case len(s.And) > 0:
		exprs, err := buildAll(s.And)
		if err != nil {
			return nil, err
		}
		return And(exprs...), nil
	case len(s.Or) > 0:
		exprs, err := buildAll(s.Or)
		if err != nil {
			return nil, err
		}
		return Or(exprs...), nil
	case s.Raw:
		return Raw().Compare(s.Op, s.Value)
	case s.Field != "":
		return Field(s.Field).Compare(s.Op, s.Value)
	}
	return nil, ErrEmptySpec
}

func buildAll(specs []Spec) ([]Expr, error) {
	out := make([]Expr, 0, len(specs))
	for i, sp := range specs {
		e, err := sp.Build()
		if err != nil {
			return nil, fmt.Errorf("expr %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
