package broker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Addr is "host:port", "unix:/path" or an absolute socket path.
	Addr string `koanf:"addr"`
	// Root holds one directory of segment files per topic.
	Root string `koanf:"root"`
	// MaxPending is the buffered payload size that forces an archive.
	MaxPending int `koanf:"max_pending"`
	// ArchiveSize bounds a segment file; the next archive rotates past it.
	ArchiveSize int64 `koanf:"archive_size"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	HandshakeRetries int           `koanf:"handshake_retries"`
	// Poll is how often an idle consumer looks for new data.
	Poll time.Duration `koanf:"poll"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `STREAMLINE_BROKER__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("broker schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("STREAMLINE_BROKER__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	stamp := time.Now().UnixNano()
	if c.Addr == "" {
		c.Addr = filepath.Join(os.TempDir(), fmt.Sprintf("streamline_sock_%d", stamp))
	}
	if c.Root == "" {
		c.Root = filepath.Join(os.TempDir(), fmt.Sprintf("streamline_data_%d", stamp))
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 1 << 20
	}
	if c.ArchiveSize <= 0 {
		c.ArchiveSize = 1 << 30
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = time.Second
	}
	if c.HandshakeRetries <= 0 {
		c.HandshakeRetries = 5
	}
	if c.Poll <= 0 {
		c.Poll = 100 * time.Millisecond
	}
}
