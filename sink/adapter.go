package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error                      // driver-specific config struct
	Emit(ctx context.Context, item any) error // deliver one item
	// EmitMany delivers a batch. When only some items fail it returns a
	// *PartialError naming them; any other error means the whole batch failed.
	EmitMany(ctx context.Context, items []any) error
	Close() error // idempotent
}

// PartialError lists the batch positions that were not delivered.
type PartialError struct {
	Failed map[int]error
}

func (e *PartialError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for i, err := range e.Failed {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, err))
	}
	return fmt.Sprintf("sink: %d items failed (%s)", len(e.Failed), strings.Join(parts, "; "))
}

// Failure is what a sink stage emits for an item it could not deliver.
type Failure struct {
	Sink      string `json:"sink"`
	Data      any    `json:"data"`
	Err       error  `json:"-"`
	Traceback string `json:"traceback"`
	TraceID   string `json:"trace_id"`
}

func (f Failure) MarshalJSON() ([]byte, error) {
	type plain Failure
	var msg string
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		plain
		Exception string `json:"exception"`
	}{plain(f), msg})
}

// Encode renders an item as bytes: strings and byte slices verbatim,
// anything else as JSON.
func Encode(item any) ([]byte, error) {
	switch v := item.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return json.Marshal(item)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{
	"null": func() Adapter { return Null{} },
}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

/*──────── null ───────*/

// Null accepts and drops everything.
type Null struct{}

func (Null) Configure(any) error                   { return nil }
func (Null) Emit(context.Context, any) error       { return nil }
func (Null) EmitMany(context.Context, []any) error { return nil }
func (Null) Close() error                          { return nil }
