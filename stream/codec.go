package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/text/encoding/htmlindex"
)

// LineCodec turns items into single lines and back. Sort uses it for
// spill files.
type LineCodec interface {
	Encode(Item) ([]byte, error)
	Decode([]byte) (Item, error)
}

// StringCodec stores string items verbatim.
type StringCodec struct{}

func (StringCodec) Encode(it Item) ([]byte, error) {
	var s string
	switch v := it.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return nil, fmt.Errorf("string codec: want string, got %T", it)
	}
	if strings.ContainsRune(s, '\n') {
		return nil, fmt.Errorf("string codec: item spans several lines")
	}
	return []byte(s), nil
}

func (StringCodec) Decode(b []byte) (Item, error) { return string(b), nil }

// JSONCodec stores any JSON-encodable item. Decoded records come back as
// map[string]any with float64 numbers.
type JSONCodec struct{}

func (JSONCodec) Encode(it Item) ([]byte, error) { return json.Marshal(it) }

func (JSONCodec) Decode(b []byte) (Item, error) {
	var v any
	err := json.Unmarshal(b, &v)
	return v, err
}

/*──────── serializer stages ───────*/

func handler(kind string, fn func(Item) (Item, error), opts []Option) *Stage {
	return newStage(kind, HandlerFunc(func(_ context.Context, it Item) (Item, error) { return fn(it) }), opts)
}

func asBytes(it Item) ([]byte, error) {
	switch v := it.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("want bytes or string, got %T", it)
}

// JSONEncode emits each item as a JSON string.
func JSONEncode(opts ...Option) *Stage {
	return handler("json-encode", func(it Item) (Item, error) {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}, opts)
}

func JSONDecode(opts ...Option) *Stage {
	return handler("json-decode", func(it Item) (Item, error) {
		b, err := asBytes(it)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, opts)
}

func MsgpackEncode(opts ...Option) *Stage {
	return handler("msgpack-encode", func(it Item) (Item, error) {
		return msgpack.Marshal(it)
	}, opts)
}

func MsgpackDecode(opts ...Option) *Stage {
	return handler("msgpack-decode", func(it Item) (Item, error) {
		b, err := asBytes(it)
		if err != nil {
			return nil, err
		}
		var v any
		if err := msgpack.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, opts)
}

func Gzip(opts ...Option) *Stage {
	return handler("gzip", func(it Item) (Item, error) {
		b, err := asBytes(it)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(b); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}, opts)
}

func Gunzip(opts ...Option) *Stage {
	return handler("gunzip", func(it Item) (Item, error) {
		b, err := asBytes(it)
		if err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}, opts)
}

// Encode converts string items from UTF-8 to the named charset.
func Encode(charset string, opts ...Option) (*Stage, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return handler("encode", func(it Item) (Item, error) {
		b, err := asBytes(it)
		if err != nil {
			return nil, err
		}
		return enc.NewEncoder().Bytes(b)
	}, opts), nil
}

// Decode converts bytes in the named charset to a UTF-8 string.
func Decode(charset string, opts ...Option) (*Stage, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return handler("decode", func(it Item) (Item, error) {
		b, err := asBytes(it)
		if err != nil {
			return nil, err
		}
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}, opts), nil
}
