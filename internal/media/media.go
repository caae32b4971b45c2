// Package media stores uploaded product images on local disk.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pdv/backend/internal/store"
)

const (
	MaxImageBytes = 5 << 20
	PublicPrefix  = "/uploads/"
)

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"webp": true,
}

var ErrTooLarge = fmt.Errorf("%w: image exceeds %d bytes", store.ErrInvalid, MaxImageBytes)

type ImageStore struct {
	dir string
}

func NewImageStore(dir string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &ImageStore{dir: dir}, nil
}

func (s *ImageStore) Dir() string {
	return s.dir
}

// Save writes r under a random name that keeps the original extension and
// returns the public URL of the stored file.
func (s *ImageStore) Save(originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported image extension %q", store.ErrInvalid, ext)
	}

	name := uuid.NewString() + "." + ext
	target := filepath.Join(s.dir, name)
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	n, err := io.Copy(f, io.LimitReader(r, MaxImageBytes+1))
	closeErr := f.Close()
	if err == nil && n > MaxImageBytes {
		err = ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return "", err
	}

	return path.Join(PublicPrefix, name), nil
}

func IsTooLarge(err error) bool {
	return errors.Is(err, ErrTooLarge)
}
