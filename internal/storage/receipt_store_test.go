package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallest valid PNG header is enough for content sniffing
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func newMemStore(maxBytes int64) *ReceiptStore {
	s := NewReceiptStoreFs(afero.NewMemMapFs(), maxBytes)
	s.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestReceiptStore_Save(t *testing.T) {
	s := newMemStore(1024)

	img, err := s.Save("r1", "comprobante.PNG", bytes.NewReader(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, "receipts/2024/03/09/r1.png", img.Path)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Len(t, img.Hash, 64)
	assert.EqualValues(t, len(pngBytes), img.Size)

	data, err := s.Open(img.Path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestReceiptStore_SameBytesSameHash(t *testing.T) {
	s := newMemStore(1024)
	a, err := s.Save("a", "x.png", bytes.NewReader(pngBytes))
	require.NoError(t, err)
	b, err := s.Save("b", "", bytes.NewReader(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, "receipts/2024/03/09/b.png", b.Path)
}

func TestReceiptStore_Remove(t *testing.T) {
	s := newMemStore(1024)
	img, err := s.Save("r1", "x.png", bytes.NewReader(pngBytes))
	require.NoError(t, err)

	require.NoError(t, s.Remove(img.Path))
	_, err = s.Open(img.Path)
	assert.Error(t, err)

	assert.NoError(t, s.Remove(img.Path))
}

func TestReceiptStore_Rejects(t *testing.T) {
	s := newMemStore(16)

	_, err := s.Save("r", "x.png", bytes.NewReader(pngBytes))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Save("r", "x.txt", bytes.NewReader([]byte("hello")))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save("r", "x.png", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
