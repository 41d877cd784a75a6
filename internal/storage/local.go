package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader writes artifacts below a root directory. The backend serves
// that directory under /artifacts/, which makes it usable without S3.
type LocalUploader struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewLocalUploader creates root if needed.
func NewLocalUploader(root, baseURL string, logger *slog.Logger) (*LocalUploader, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", root, err)
	}
	return &LocalUploader{root: root, baseURL: baseURL, logger: logger}, nil
}

// Upload writes body to root/key, creating parent directories.
func (u *LocalUploader) Upload(ctx context.Context, key, _ string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", uploadError(key, err)
	}
	path, err := u.path(key)
	if err != nil {
		return "", uploadError(key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", uploadError(key, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", uploadError(key, err)
	}
	u.logger.Debug("artifact written", "path", path, "bytes", len(body))
	return u.URL(key), nil
}

// URL returns baseURL/key.
func (u *LocalUploader) URL(key string) string {
	return joinURL(u.baseURL, key)
}

func (u *LocalUploader) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes storage root")
	}
	return filepath.Join(u.root, clean), nil
}
