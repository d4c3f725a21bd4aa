package database

import (
	"bytes"
	"compress/gzip"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_PutGetDelete(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "db"))
	require.NoError(t, err)
	defer db.Close()

	key := []byte("download_history")
	value := []byte(`[{"url":"https://www.tiktok.com/@x/video/1"}]`)

	require.NoError(t, db.Put(key, value))
	assert.True(t, db.Has(key))

	got, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, db.Delete(key))
	assert.False(t, db.Has(key))

	_, err = db.Get(key)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, db.Delete(key), "deleting a missing key is not an error")
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	key := []byte("k")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(key, []byte("v1")))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestCompressionRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"Empty", []byte{}},
		{"Text", []byte("hello history")},
		{"Repeated", bytes.Repeat([]byte("abc"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := compressGzip(tt.input, gzip.BestCompression)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(compressed, gzipMagicBytes))

			out, err := decompressIfGzipped(compressed)
			require.NoError(t, err)
			assert.Equal(t, tt.input, out)
		})
	}
}

func TestDecompressIfGzipped_PlainValue(t *testing.T) {
	out, err := decompressIfGzipped([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), out)
}

func TestDecompressIfGzipped_BrokenGzipReturnsRaw(t *testing.T) {
	broken := append([]byte{}, gzipMagicBytes...)
	broken = append(broken, 0x00, 0x01)
	out, err := decompressIfGzipped(broken)
	require.NoError(t, err)
	assert.Equal(t, broken, out)
}
