package rule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Matcher breaks one line into named captures. An empty map means no match.
type Matcher interface {
	Match(line string) (map[string]any, error)
}

type Constructor func(rule any) (Matcher, error)

var registry = map[string]Constructor{
	"regex":      newRegex,
	"split":      newSplit,
	"kv":         newKV,
	"json":       newJSON,
	"macro":      newMacro,
	"startswith": newAffix(strings.HasPrefix),
	"endswith":   newAffix(strings.HasSuffix),
	"contain":    newAffix(strings.Contains),
}

// Register adds a matcher type. It must be called before rules using the
// type are compiled, typically from an init function.
func Register(name string, c Constructor) {
	registry[strings.ToLower(name)] = c
}

func lookup(name string) (Constructor, bool) {
	c, ok := registry[name]
	return c, ok
}

/* ───────────────────────── regex ───────────────────────── */

type regex struct{ re *regexp.Regexp }

func newRegex(rule any) (Matcher, error) {
	s, ok := rule.(string)
	if !ok {
		return nil, fmt.Errorf("want string pattern, got %T", rule)
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, err
	}
	return &regex{re: re}, nil
}

func (r *regex) Match(line string) (map[string]any, error) {
	m := r.re.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("no match for %q", r.re.String())
	}
	out := map[string]any{}
	for i, name := range r.re.SubexpNames() {
		if i > 0 && name != "" {
			out[name] = m[i]
		}
	}
	if len(out) == 0 {
		for i, g := range m[1:] {
			out[strconv.Itoa(i)] = g
		}
	}
	return out, nil
}

/* ───────────────────────── split ───────────────────────── */

type split struct {
	sep      string
	maxSplit int
}

func newSplit(rule any) (Matcher, error) {
	m, err := asMap(rule)
	if err != nil {
		return nil, err
	}
	sep, _ := m["separator"].(string)
	if sep == "" {
		return nil, fmt.Errorf("split: separator is required")
	}
	n := -1
	if v, ok := m["maxsplit"]; ok {
		n, err = asInt(v)
		if err != nil {
			return nil, fmt.Errorf("split: maxsplit: %w", err)
		}
	}
	return &split{sep: sep, maxSplit: n}, nil
}

func (s *split) Match(line string) (map[string]any, error) {
	n := -1
	if s.maxSplit >= 0 {
		n = s.maxSplit + 1
	}
	parts := strings.SplitN(line, s.sep, n)
	out := make(map[string]any, len(parts))
	for i, p := range parts {
		out[strconv.Itoa(i)] = strings.TrimSpace(p)
	}
	return out, nil
}

/* ───────────────────────── kv ───────────────────────── */

var identifier = regexp.MustCompile(`^[a-zA-Z_]\w*$`)

type kv struct {
	sep, linker string
	strict      bool
}

func newKV(rule any) (Matcher, error) {
	m, err := asMap(rule)
	if err != nil {
		return nil, err
	}
	k := &kv{linker: "="}
	k.sep, _ = m["separator"].(string)
	if k.sep == "" {
		return nil, fmt.Errorf("kv: separator is required")
	}
	if l, ok := m["linker"].(string); ok && l != "" {
		k.linker = l
	}
	k.strict, _ = m["strict"].(bool)
	return k, nil
}

func (k *kv) Match(line string) (map[string]any, error) {
	out := map[string]any{}
	for _, pair := range strings.Split(line, k.sep) {
		key, val, ok := strings.Cut(pair, k.linker)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if k.strict && !identifier.MatchString(key) {
			continue
		}
		out[key] = strings.TrimSpace(val)
	}
	return out, nil
}

/* ───────────────────────── json ───────────────────────── */

// jsonMatcher decodes an object; with a true rule nested values are
// re-encoded as strings so every capture is flat.
type jsonMatcher struct{ flatten bool }

func newJSON(rule any) (Matcher, error) {
	switch v := rule.(type) {
	case nil:
		return &jsonMatcher{}, nil
	case bool:
		return &jsonMatcher{flatten: v}, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, err
		}
		return &jsonMatcher{flatten: b}, nil
	}
	return nil, fmt.Errorf("want bool, got %T", rule)
}

func (j *jsonMatcher) Match(line string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		return nil, err
	}
	if j.flatten {
		for k, v := range out {
			switch v.(type) {
			case map[string]any, []any:
				b, err := json.Marshal(v)
				if err != nil {
					return nil, err
				}
				out[k] = string(b)
			}
		}
	}
	return out, nil
}

/* ───────────────────────── macro ───────────────────────── */

type macro struct{ table map[string]any }

func newMacro(rule any) (Matcher, error) {
	m, err := asMap(rule)
	if err != nil {
		return nil, err
	}
	return &macro{table: m}, nil
}

func (m *macro) Match(line string) (map[string]any, error) {
	if v, ok := m.table[line]; ok {
		return map[string]any{"0": v}, nil
	}
	return map[string]any{"0": line}, nil
}

/* ───────────────────────── affix ───────────────────────── */

// affix tags the line with "true" or "false" depending on whether the
// configured text occurs at the tested position; subrules can then branch.
type affix struct {
	text       string
	start, end *int
	test       func(s, sub string) bool
}

func newAffix(test func(s, sub string) bool) Constructor {
	return func(rule any) (Matcher, error) {
		m, err := asMap(rule)
		if err != nil {
			return nil, err
		}
		a := &affix{test: test}
		if a.text, _ = m["suffix"].(string); a.text == "" {
			return nil, fmt.Errorf("suffix is required")
		}
		for key, dst := range map[string]**int{"start": &a.start, "end": &a.end} {
			if v, ok := m[key]; ok && v != nil {
				n, err := asInt(v)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				*dst = &n
			}
		}
		return a, nil
	}
}

func (a *affix) Match(line string) (map[string]any, error) {
	s := line
	if a.end != nil && *a.end >= 0 && *a.end < len(s) {
		s = s[:*a.end]
	}
	if a.start != nil && *a.start > 0 {
		if *a.start >= len(s) {
			s = ""
		} else {
			s = s[*a.start:]
		}
	}
	return map[string]any{strconv.FormatBool(a.test(s, a.text)): line}, nil
}

/* ───────────────────────── helpers ───────────────────────── */

// asMap accepts a decoded mapping or a JSON object in a string.
func asMap(rule any) (map[string]any, error) {
	switch v := rule.(type) {
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("want mapping, got %T", rule)
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}
