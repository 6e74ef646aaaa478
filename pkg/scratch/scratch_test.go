package scratch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/paperless-mistral/pkg/logger"
)

func TestNewCreatesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "temp_docs")
	d, err := New(root, logger.NewTestLogger())
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, root, d.Root())
}

func TestRemoveMissingFileIsQuiet(t *testing.T) {
	tl := logger.NewTestLogger()
	d, err := New(t.TempDir(), tl)
	require.NoError(t, err)

	d.Remove(d.Path("does_not_exist.pdf"))
	d.Remove("")

	assert.Zero(t, tl.Count("WARN"))
	assert.Zero(t, tl.Count("ERROR"))
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	d, err := New(t.TempDir(), logger.NewTestLogger())
	require.NoError(t, err)

	stale := d.Path("document_1.pdf")
	fresh := d.Path("document_2.pdf")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed := d.Sweep(10 * time.Minute)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestRemoveAllDeletesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "temp_docs")
	d, err := New(root, logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(d.Path("document_9.pdf"), []byte("x"), 0644))

	d.RemoveAll()

	assert.NoDirExists(t, root)
}
