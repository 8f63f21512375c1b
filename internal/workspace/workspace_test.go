package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensafely-core/airlock/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, root, relpath, body string) {
	t.Helper()
	abs := filepath.Join(root, relpath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(body), 0o644))
}

func TestView_ReadAndStat(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "outputs/result.csv", "some,csv,data")

	v := New("study1", root)
	ctx := context.Background()

	data, err := v.Read(ctx, "outputs/result.csv")
	require.NoError(t, err)
	assert.Equal(t, "some,csv,data", string(data))

	entry, err := v.Stat(ctx, "outputs/result.csv")
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("some,csv,data"))
	assert.Equal(t, hex.EncodeToString(sum[:]), entry.ContentHash)
	assert.Equal(t, int64(len("some,csv,data")), entry.Size)
}

func TestView_List(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "outputs/a.csv", "a")
	writeTestFile(t, root, "outputs/b.csv", "bb")

	v := New("study1", root)
	entries, err := v.List(context.Background(), "outputs")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "outputs/a.csv", entries[0].RelPath)
	assert.Equal(t, "outputs/b.csv", entries[1].RelPath)
}

func TestDirLookup_GetExistingAndMissing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "study1"), 0o755))

	lookup := DirLookup{Root: root}

	v, err := lookup.Get("study1")
	require.NoError(t, err)
	assert.Equal(t, "study1", v.Name)

	_, err = lookup.Get("does-not-exist")
	assert.Error(t, err)
}

func TestRelativeStatus(t *testing.T) {
	assert.Equal(t, domain.WorkspaceFileReleased, RelativeStatus("hash1", nil, true))
	assert.Equal(t, domain.WorkspaceFileNone, RelativeStatus("hash1", nil, false))
	assert.Equal(t, domain.WorkspaceFileUpdated,
		RelativeStatus("hash-new", &domain.File{ContentHash: "hash-old"}, false))
	assert.Equal(t, domain.WorkspaceFileUnderReview,
		RelativeStatus("hash1", &domain.File{ContentHash: "hash1"}, false))
}
