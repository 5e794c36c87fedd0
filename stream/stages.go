package stream

import (
	"context"
	"errors"
	"fmt"

	"streamline/internal/dedup"
	"streamline/internal/logging"
	"streamline/predicate"
	"streamline/rule"
)

// Map applies fn to every item; a nil result drops the item.
func Map(fn func(Item) (Item, error), opts ...Option) *Stage {
	h := HandlerFunc(func(_ context.Context, it Item) (Item, error) { return fn(it) })
	return newStage("map", h, opts)
}

// FlatMap emits every element fn returns for an item.
func FlatMap(fn func(Item) ([]Item, error), opts ...Option) *Stage {
	e := ExpanderFunc(func(_ context.Context, it Item) ([]Item, error) { return fn(it) })
	return newStage("flatmap", e, opts)
}

/*──────── filter ───────*/

type filter struct{ expr predicate.Expr }

// Filter passes items for which every expression holds. No expression
// passes everything.
func Filter(exprs ...predicate.Expr) *Stage {
	var e predicate.Expr
	switch len(exprs) {
	case 0:
		e = predicate.True()
	case 1:
		e = exprs[0]
	default:
		e = predicate.And(exprs...)
	}
	return newStage("filter", &filter{expr: e}, nil)
}

func (f *filter) Handle(_ context.Context, it Item) (Item, error) {
	ok, err := f.expr.Eval(it)
	if err != nil || !ok {
		return nil, err
	}
	return it, nil
}

func (f *filter) HandleError(it Item, err error) {
	logging.L().Warn("filter failed", "expr", f.expr.String(), "err", err, "item", it)
}

/*──────── dedup ───────*/

type dedupe struct {
	f   dedup.Filter
	key func(Item) string
}

// Dedup drops items whose key the filter already holds and records the
// key of every item it lets through.
func Dedup(f dedup.Filter, key func(Item) string, opts ...Option) *Stage {
	return newStage("dedup", &dedupe{f: f, key: key}, opts)
}

func (d *dedupe) Handle(_ context.Context, it Item) (Item, error) {
	k := d.key(it)
	if d.f.Contains(k) {
		return nil, nil
	}
	if err := d.f.Add(k); err != nil {
		return nil, fmt.Errorf("dedup: record %q: %w", k, err)
	}
	return it, nil
}

/*──────── parser ───────*/

type parser struct {
	p     *rule.Parser
	trace bool
}

// Parser runs a compiled rule over each line. It emits the flattened
// fields, or the full capture breakdown when trace is set. Lines the rule
// does not match are dropped.
func Parser(p *rule.Parser, trace bool, opts ...Option) *Stage {
	return newStage("parser", &parser{p: p, trace: trace}, opts)
}

func (p *parser) Handle(_ context.Context, it Item) (Item, error) {
	var line string
	switch v := it.(type) {
	case string:
		line = v
	case []byte:
		line = string(v)
	default:
		return nil, fmt.Errorf("parser: want a line, got %T", it)
	}
	if line == "" {
		return nil, nil
	}
	res, err := p.p.Parse(line)
	if err != nil || res == nil {
		return nil, err
	}
	if p.trace {
		return res.Trace, nil
	}
	return res.Fields, nil
}

func (p *parser) HandleError(it Item, err error) {
	attrs := []any{"err", err, "item", it}
	var pe *rule.ParseError
	if errors.As(err, &pe) {
		attrs = append(attrs, "type", pe.Type, "rule", pe.Rule, "line", pe.Line)
	}
	logging.L().Warn("parser pass", attrs...)
}
