package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"

	"moneymind/internal/config"
)

// File is one image handed to the coordinator.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the payload length in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

// DetectMimeType sniffs the media type of data, without parameters.
func DetectMimeType(data []byte) string {
	detected := mimetype.Detect(data).String()
	mediaType, _, _ := strings.Cut(detected, ";")
	return strings.TrimSpace(mediaType)
}

type validator struct {
	allowed  map[string]struct{}
	maxBytes int64
}

func newValidator(cfg *config.Config) validator {
	allowed := make(map[string]struct{}, len(cfg.Upload.AllowedTypes))
	for _, mimeType := range cfg.Upload.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(mimeType))] = struct{}{}
	}
	return validator{allowed: allowed, maxBytes: cfg.Upload.MaxFileBytes}
}

// validate returns the file with a normalized name and media type.
func (v validator) validate(file File) (File, error) {
	file.Name = normalizeName(file.Name)

	mediaType, _, _ := strings.Cut(file.MimeType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = DetectMimeType(file.Data)
	}
	file.MimeType = mediaType

	if len(file.Data) == 0 {
		return file, fmt.Errorf("%w: %s is empty", ErrUnsupportedFile, file.Name)
	}
	if _, ok := v.allowed[mediaType]; !ok {
		return file, fmt.Errorf("%w: %s has type %q", ErrUnsupportedFile, file.Name, mediaType)
	}
	if v.maxBytes > 0 && file.Size() > v.maxBytes {
		return file, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrUnsupportedFile, file.Name, file.Size(), v.maxBytes)
	}
	return file, nil
}

func normalizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name != "" {
		name = filepath.Base(name)
	}
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return norm.NFC.String(name)
}
