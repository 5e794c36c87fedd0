package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileEnvAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema_version: v1
addr: 127.0.0.1:7070
root: /var/lib/streamline
archive_size: 4096
`), 0o644))
	t.Setenv("STREAMLINE_BROKER__MAX_PENDING", "512")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Addr)
	assert.Equal(t, "/var/lib/streamline", cfg.Root)
	assert.EqualValues(t, 4096, cfg.ArchiveSize)
	assert.Equal(t, 512, cfg.MaxPending)
	assert.Equal(t, time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 5, cfg.HandshakeRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Poll)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Addr)
	assert.NotEmpty(t, cfg.Root)
	assert.EqualValues(t, 1<<30, cfg.ArchiveSize)
	assert.Equal(t, 1<<20, cfg.MaxPending)
}

func TestLoadConfig_RejectsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: v9\n"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}
