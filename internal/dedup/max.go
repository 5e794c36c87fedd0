package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Max is a monotonic watermark: any key at or below the highest key added is
// a duplicate. Keys compare as strings unless the filter is numeric.
type Max struct {
	path    string
	numeric bool

	mu   sync.Mutex
	set  bool
	text string
	num  float64
}

func NewMax(path string, numeric bool) (*Max, error) {
	m := &Max{path: path, numeric: numeric}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return m, nil
	}
	if err := m.setLocked(val); err != nil {
		return nil, fmt.Errorf("dedup: load watermark %s: %w", path, err)
	}
	return m, nil
}

func (m *Max) setLocked(key string) error {
	if m.numeric {
		n, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return err
		}
		m.num = n
	}
	m.text = key
	m.set = true
	return nil
}

func (m *Max) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return false
	}
	if m.numeric {
		n, err := strconv.ParseFloat(strings.TrimSpace(key), 64)
		if err != nil {
			return false
		}
		return n <= m.num
	}
	return key <= m.text
}

// Add raises the watermark to key. A key below the current mark leaves it
// unchanged so earlier keys never become "new" again.
func (m *Max) Add(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key = strings.TrimSpace(key)
	if m.set {
		if m.numeric {
			n, err := strconv.ParseFloat(key, 64)
			if err != nil {
				return fmt.Errorf("dedup: watermark key %q: %w", key, err)
			}
			if n <= m.num {
				return nil
			}
		} else if key <= m.text {
			return nil
		}
	}
	if err := m.setLocked(key); err != nil {
		return fmt.Errorf("dedup: watermark key %q: %w", key, err)
	}
	if m.path == "" {
		return nil
	}
	return writeAtomic(m.path, func(f *os.File) error {
		_, err := f.WriteString(m.text + "\n")
		return err
	})
}

// Mark reports the current watermark.
func (m *Max) Mark() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, m.set
}
