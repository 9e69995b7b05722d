package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

var (
	jpegMagic = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
)

// JPEG returns a payload of the requested size that sniffs as image/jpeg.
func JPEG(size int) []byte {
	return fill(jpegMagic, size)
}

// PNG returns a payload of the requested size that sniffs as image/png.
func PNG(size int) []byte {
	return fill(pngMagic, size)
}

func fill(magic []byte, size int) []byte {
	if size < len(magic) {
		size = len(magic)
	}
	buf := make([]byte, size)
	copy(buf, magic)
	for i := len(magic); i < size; i++ {
		buf[i] = 0x42
	}
	return buf
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
