// Package rule is the rule-driven line parser used by the Parser stage.
//
// A Rule names a matcher type, the matcher's configuration, a mapping from
// output field names to capture keys, and optional subrules that re-parse a
// capture. Types resolve against a closed registry when the rule is compiled,
// so an unknown type fails before any data flows.
package rule

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownType  = errors.New("rule: unsupported rule type")
	ErrInvalidRule  = errors.New("rule: invalid rule content")
	ErrRuleNotFound = errors.New("rule: no such rule")
)

type Rule struct {
	Type     string          `yaml:"type" json:"type"`
	Rule     any             `yaml:"rule" json:"rule"`
	Fields   Fields          `yaml:"fields,omitempty" json:"fields,omitempty"`
	Subrules map[string]Rule `yaml:"subrules,omitempty" json:"subrules,omitempty"`
}

// Fields maps output field name to capture key. In YAML it may also be a
// list of names, which map to positional captures "0", "1", ...
type Fields map[string]string

func (f *Fields) UnmarshalYAML(n *yaml.Node) error {
	out := Fields{}
	switch n.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return err
		}
		for i, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				out[name] = strconv.Itoa(i)
			}
		}
	default:
		var m map[string]string
		if err := n.Decode(&m); err != nil {
			return err
		}
		for k, v := range m {
			if k != "" {
				out[k] = v
			}
		}
	}
	*f = out
	return nil
}

// Result is one parsed line. Trace keeps the full capture breakdown with
// subrule traces nested under their capture key; Fields is the flattened,
// renamed output.
type Result struct {
	Line   string
	Trace  map[string]any
	Fields map[string]any
}

// ParseError reports which rule failed on which line.
type ParseError struct {
	Line string
	Type string
	Rule string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rule %s (%s) failed: %v", e.Type, e.Rule, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser is a compiled rule tree.
type Parser struct {
	rule    Rule
	typ     string
	matcher Matcher
	sub     map[string]*Parser
}

func Compile(r Rule) (*Parser, error) {
	typ := strings.ToLower(strings.TrimSpace(r.Type))
	ctor, ok := lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, r.Type)
	}
	m, err := ctor(r.Rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %v: %v", ErrInvalidRule, typ, r.Rule, err)
	}
	p := &Parser{rule: r, typ: typ, matcher: m, sub: map[string]*Parser{}}
	for key, sr := range r.Subrules {
		sp, err := Compile(sr)
		if err != nil {
			return nil, fmt.Errorf("subrule %s: %w", key, err)
		}
		p.sub[key] = sp
	}
	return p, nil
}

func (p *Parser) Type() string { return p.typ }

// FieldNames lists every output field this parser and its subrules produce.
func (p *Parser) FieldNames() []string {
	seen := map[string]struct{}{}
	var out []string
	var walk func(*Parser)
	walk = func(q *Parser) {
		for name := range q.rule.Fields {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
		for _, s := range q.sub {
			walk(s)
		}
	}
	walk(p)
	return out
}

// Parse runs the rule tree over one line. A line the rule does not match
// yields a nil result and no error.
func (p *Parser) Parse(line string) (*Result, error) {
	line = strings.TrimRight(line, "\r\n")
	caps, err := p.matcher.Match(line)
	if err != nil {
		return nil, &ParseError{Line: line, Type: p.typ, Rule: fmt.Sprint(p.rule.Rule), Err: err}
	}
	if len(caps) == 0 {
		return nil, nil
	}
	res := &Result{Line: line, Trace: caps, Fields: map[string]any{}}
	for name, key := range p.rule.Fields {
		if v, ok := caps[key]; ok {
			res.Fields[name] = v
		}
	}
	for key, sp := range p.sub {
		v, ok := caps[key]
		if !ok {
			continue
		}
		sub, err := sp.Parse(fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		if sub == nil {
			continue
		}
		res.Trace[key] = sub.Trace
		for k, fv := range sub.Fields {
			res.Fields[k] = fv
		}
	}
	return res, nil
}

// LoadFile reads a YAML document of named rules and returns the one called name.
func LoadFile(path, name string) (Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, err
	}
	var rules map[string]Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rule{}, fmt.Errorf("rule file %s: %w", path, err)
	}
	r, ok := rules[name]
	if !ok {
		return Rule{}, fmt.Errorf("%w %q in %s", ErrRuleNotFound, name, path)
	}
	return r, nil
}
