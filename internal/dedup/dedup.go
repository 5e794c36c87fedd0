// Package dedup tracks which keys an ingestion source has already consumed.
//
// Two variants exist: Bloom, an approximate set persisted as one binary blob,
// and Max, an exact high-water mark persisted as text. Both reload their state
// from disk on construction and rewrite it after every Add, so a restarted
// source skips what a previous run fully processed.
package dedup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Filter answers "was this key already recorded".
type Filter interface {
	Contains(key string) bool
	Add(key string) error
}

var ErrUnknownKind = errors.New("dedup: unknown filter kind")

type Options struct {
	Capacity  uint    // bloom only
	ErrorRate float64 // bloom only
	Numeric   bool    // max only: compare keys as numbers
}

// New builds a filter by kind ("bloom" or "max") persisted at path. An empty
// path keeps the filter in memory only.
func New(kind, path string, opts Options) (Filter, error) {
	switch kind {
	case "", "bloom":
		return NewBloom(path, opts.Capacity, opts.ErrorRate)
	case "max":
		return NewMax(path, opts.Numeric)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

// writeAtomic replaces path with data via a sibling temp file so a crash
// never leaves a half-written state file behind.
func writeAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
