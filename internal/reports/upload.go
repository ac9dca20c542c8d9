package reports

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxUploadBytes is the largest document accepted for analysis.
const MaxUploadBytes = 10 << 20

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
}

// ValidateFileName checks the extension against the accepted document types and
// returns the canonical content type for it.
func ValidateFileName(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q (allowed: jpg, jpeg, png, pdf)", ErrUnsupportedFileType, ext)
	}
	return contentType, nil
}

// ValidateSize rejects empty and oversized documents.
func ValidateSize(size int64) error {
	switch {
	case size <= 0:
		return ErrEmptyFile
	case size > MaxUploadBytes:
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, size, MaxUploadBytes)
	default:
		return nil
	}
}
