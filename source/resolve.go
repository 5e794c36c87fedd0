package source

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

var ErrUnresolved = errors.New("source: cannot resolve descriptor path")

// Resolver maps an open file back to the path its descriptor currently
// points at. After a rotation that is the archived name, not the name the
// file was opened under.
type Resolver interface {
	Resolve(f *os.File) (string, error)
}

type ResolverFunc func(f *os.File) (string, error)

func (fn ResolverFunc) Resolve(f *os.File) (string, error) { return fn(f) }

// ProcResolver reads /proc/self/fd. On other platforms, or when /proc is
// not readable, it reports ErrUnresolved.
type ProcResolver struct{}

func (ProcResolver) Resolve(f *os.File) (string, error) {
	if runtime.GOOS != "linux" {
		return "", ErrUnresolved
	}
	p, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", f.Fd()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolved, err)
	}
	return p, nil
}
