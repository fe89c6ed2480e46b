package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memstore/internal/config"
)

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , ,"))
	assert.Equal(t, []string{"a", "b c", "d"}, splitList("a, b c ,,d"))
}

func TestUnderDir(t *testing.T) {
	rest, ok := underDir("store", "store/memories/m1.md")
	assert.True(t, ok)
	assert.Equal(t, "memories/m1.md", rest)

	_, ok = underDir("store", "storefront/memories/m1.md")
	assert.False(t, ok)

	rest, ok = underDir(".", "meta.yaml")
	assert.True(t, ok)
	assert.Equal(t, "meta.yaml", rest)
}

func TestStoreRelDir(t *testing.T) {
	top, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(top, "data", "store"), 0o755))

	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.DefaultConfig()

	cfg.Dir = filepath.Join(top, "data", "store")
	rel, err := storeRelDir(top)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "store"), rel)

	cfg.Dir = filepath.Dir(top)
	_, err = storeRelDir(top)
	assert.Error(t, err)
}
