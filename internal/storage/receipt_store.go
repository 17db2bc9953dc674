package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("receipt image too large")
	// ErrUnsupportedType is returned for anything that does not sniff as an image.
	ErrUnsupportedType = errors.New("receipt must be an image")
)

// StoredImage describes a persisted receipt image.
type StoredImage struct {
	Path        string
	Hash        string
	ContentType string
	Size        int64
}

// ReceiptStore persists receipt images under receipts/YYYY/MM/DD on an afero filesystem.
type ReceiptStore struct {
	fs       afero.Fs
	maxBytes int64
	now      func() time.Time
}

// NewReceiptStore roots the store at dir on the OS filesystem.
func NewReceiptStore(dir string, maxBytes int64) *ReceiptStore {
	return NewReceiptStoreFs(afero.NewBasePathFs(afero.NewOsFs(), dir), maxBytes)
}

// NewReceiptStoreFs uses an arbitrary filesystem (in-memory in tests).
func NewReceiptStoreFs(fs afero.Fs, maxBytes int64) *ReceiptStore {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &ReceiptStore{fs: fs, maxBytes: maxBytes, now: time.Now}
}

// Save reads at most maxBytes from r, hashes it and writes it under a name derived from id.
func (s *ReceiptStore) Save(id, filename string, r io.Reader) (*StoredImage, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrUnsupportedType
	}

	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return nil, ErrUnsupportedType
	}

	sum := blake2b.Sum256(data)
	dir := path.Join("receipts", s.now().UTC().Format("2006/01/02"))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt dir: %w", err)
	}
	p := path.Join(dir, id+extension(filename, ct))
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return nil, fmt.Errorf("write receipt: %w", err)
	}

	return &StoredImage{
		Path:        p,
		Hash:        hex.EncodeToString(sum[:]),
		ContentType: ct,
		Size:        int64(len(data)),
	}, nil
}

// Open returns the stored bytes.
func (s *ReceiptStore) Open(p string) ([]byte, error) {
	return afero.ReadFile(s.fs, p)
}

// Remove deletes a stored image. A missing file is not an error.
func (s *ReceiptStore) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove receipt: %w", err)
	}
	return nil
}

func extension(filename, ct string) string {
	if ext := strings.ToLower(path.Ext(filename)); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch ct {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
