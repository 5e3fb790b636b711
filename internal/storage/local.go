package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStorage keeps evidence files (imported CSV batches) and audit export
// bundles on the local filesystem under a base directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Upload saves a multipart file and returns its relative path
func (s *LocalStorage) Upload(file multipart.File, header *multipart.FileHeader, subDir string) (string, error) {
	dir, err := s.dir(subDir)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(dir, uniqueName(header.Filename))
	dst, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return s.rel(filePath), nil
}

// UploadFromBytes saves bytes to a file and returns its relative path
func (s *LocalStorage) UploadFromBytes(data []byte, filename string, subDir string) (string, error) {
	dir, err := s.dir(subDir)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(dir, uniqueName(filename))
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return s.rel(filePath), nil
}

// Download returns a file for reading
func (s *LocalStorage) Download(relativePath string) (*os.File, error) {
	path, err := s.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(relativePath string) bool {
	path, err := s.resolve(relativePath)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// GetFullPath returns the absolute path for serving files
func (s *LocalStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.basePath, relativePath)
}

// dir creates a year/month subdirectory (e.g. "audit_exports/2026/01")
func (s *LocalStorage) dir(subDir string) (string, error) {
	dir := filepath.Join(s.basePath, subDir, time.Now().UTC().Format("2006/01"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return dir, nil
}

func (s *LocalStorage) rel(path string) string {
	relPath, _ := filepath.Rel(s.basePath, path)
	return relPath
}

// resolve rejects paths that would escape the base directory
func (s *LocalStorage) resolve(relativePath string) (string, error) {
	clean := filepath.Clean(relativePath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path %q", relativePath)
	}
	return filepath.Join(s.basePath, clean), nil
}

// uniqueName keeps the original extension and a readable prefix
func uniqueName(original string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(filepath.Base(original), ext)
	base = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, base)
	if len(base) > 40 {
		base = base[:40]
	}
	return fmt.Sprintf("%s_%s%s", base, uuid.NewString(), ext)
}

// ValidContentTypes returns allowed MIME types for work event imports
func ValidContentTypes() map[string]bool {
	return map[string]bool{
		"text/csv":                 true,
		"application/csv":          true,
		"text/plain":               true,
		"application/vnd.ms-excel": true,
	}
}

// MaxFileSize returns the maximum allowed import size (10MB)
func MaxFileSize() int64 {
	return 10 * 1024 * 1024
}

// IsValidContentType checks if the content type is allowed
func IsValidContentType(contentType string) bool {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return ValidContentTypes()[strings.TrimSpace(contentType)]
}
