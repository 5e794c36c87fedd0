package dedup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloom_AddIsIdempotent(t *testing.T) {
	b, err := NewBloom("", 1000, 0.01)
	require.NoError(t, err)

	assert.False(t, b.Contains("a.log"))
	require.NoError(t, b.Add("a.log"))
	assert.True(t, b.Contains("a.log"))
	require.NoError(t, b.Add("a.log"))
	assert.True(t, b.Contains("a.log"))
}

func TestBloom_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "files.bloom")

	b, err := NewBloom(path, 1000, 0.01)
	require.NoError(t, err)
	require.NoError(t, b.Add("/var/log/app.1"))

	_, err = os.Stat(path)
	require.NoError(t, err, "bloom blob written after add")

	reloaded, err := NewBloom(path, 1000, 0.01)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("/var/log/app.1"))
}

func TestMax_Watermark(t *testing.T) {
	m, err := NewMax("", false)
	require.NoError(t, err)
	assert.False(t, m.Contains("2024-01-01"), "nothing seen yet")

	require.NoError(t, m.Add("2024-01-05"))
	assert.True(t, m.Contains("2024-01-05"))
	assert.True(t, m.Contains("2024-01-01"))
	assert.False(t, m.Contains("2024-01-06"))

	require.NoError(t, m.Add("2024-01-02"))
	mark, ok := m.Mark()
	require.True(t, ok)
	assert.Equal(t, "2024-01-05", mark, "watermark never moves backwards")
}

func TestMax_NumericPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.txt")
	m, err := NewMax(path, true)
	require.NoError(t, err)

	require.NoError(t, m.Add("10"))
	assert.True(t, m.Contains("9.5"))
	assert.False(t, m.Contains("100"), "numeric compare, not lexical")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10", strings.TrimSpace(string(raw)))

	reloaded, err := NewMax(path, true)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("10"))
	assert.False(t, reloaded.Contains("11"))
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("cuckoo", "", Options{})
	require.ErrorIs(t, err, ErrUnknownKind)
}
