package dedup

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	defaultCapacity  = 1_000_000
	defaultErrorRate = 0.001
)

// Bloom is a probabilistic filter. False positives are possible at the
// configured rate; false negatives are not.
type Bloom struct {
	path string

	mu sync.Mutex
	f  *bloom.BloomFilter
}

func NewBloom(path string, capacity uint, errorRate float64) (*Bloom, error) {
	if capacity == 0 {
		capacity = defaultCapacity
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = defaultErrorRate
	}
	b := &Bloom{path: path}
	if path != "" {
		f, err := loadBloom(path)
		if err != nil {
			return nil, err
		}
		b.f = f
	}
	if b.f == nil {
		b.f = bloom.NewWithEstimates(capacity, errorRate)
	}
	return b, nil
}

func loadBloom(path string) (*bloom.BloomFilter, error) {
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer fh.Close()

	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bufio.NewReader(fh)); err != nil {
		return nil, fmt.Errorf("dedup: load bloom %s: %w", path, err)
	}
	return f, nil
}

func (b *Bloom) Contains(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f.TestString(key)
}

func (b *Bloom) Add(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.f.AddString(key)
	if b.path == "" {
		return nil
	}
	return writeAtomic(b.path, func(fh *os.File) error {
		w := bufio.NewWriter(fh)
		if _, err := b.f.WriteTo(w); err != nil {
			return err
		}
		return w.Flush()
	})
}
