package media

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdv/backend/internal/store"
)

func TestSaveKeepsExtensionAndRandomizesName(t *testing.T) {
	dir := t.TempDir()
	images, err := NewImageStore(dir)
	if err != nil {
		t.Fatalf("new image store: %v", err)
	}

	url, err := images.Save("Foto Produto.PNG", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(url, PublicPrefix) || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected url %q", url)
	}
	if strings.Contains(url, "Foto") {
		t.Fatalf("original name must not leak into the stored name: %q", url)
	}

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, PublicPrefix)))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(stored) != "png-bytes" {
		t.Fatalf("unexpected content %q", stored)
	}
}

func TestSaveRejectsUnsupportedExtension(t *testing.T) {
	images, _ := NewImageStore(t.TempDir())
	for _, name := range []string{"script.svg", "noext", "archive.jpg.exe"} {
		if _, err := images.Save(name, strings.NewReader("x")); !errors.Is(err, store.ErrInvalid) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestSaveRejectsOversizedImage(t *testing.T) {
	dir := t.TempDir()
	images, _ := NewImageStore(dir)

	_, err := images.Save("big.jpg", bytes.NewReader(make([]byte, MaxImageBytes+1)))
	if !IsTooLarge(err) {
		t.Fatalf("expected too large error, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected partial file to be removed, found %d", len(entries))
	}
}
