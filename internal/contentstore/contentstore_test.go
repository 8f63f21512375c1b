package contentstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndOpen(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("release bytes")
	hash, size, err := st.Put(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
	assert.True(t, st.Has(hash))

	rc, err := st.Open(hash)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPut_IdempotentForSameBytes(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("same content twice")
	hash1, _, err := st.Put(bytes.NewReader(data))
	require.NoError(t, err)
	hash2, _, err := st.Put(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
}

func TestHas_MissingHash(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)
	assert.False(t, st.Has("0000000000000000000000000000000000000000000000000000000000000000"))
}
