package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"GradeLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// DiskFileStore implements biz.FileStore over a local directory. Uploaded
// files are stored by the upload pipeline under their fileKey.
type DiskFileStore struct {
	root   string
	logger *log.Helper
}

// NewDiskFileStore creates the store rooted at the configured directory.
func NewDiskFileStore(c *conf.Data, logger log.Logger) (*DiskFileStore, error) {
	root := "uploads"
	if c != nil && c.Storage != nil && c.Storage.Root != "" {
		root = c.Storage.Root
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid storage root %q: %w", root, err)
	}

	return &DiskFileStore{
		root:   abs,
		logger: log.NewHelper(logger),
	}, nil
}

// GetFileBytes reads one uploaded file by its storage key. Keys resolving
// outside the storage root are rejected.
func (s *DiskFileStore) GetFileBytes(ctx context.Context, fileKey string) ([]byte, error) {
	if fileKey == "" {
		return nil, fmt.Errorf("empty file key")
	}

	path := filepath.Join(s.root, filepath.Clean("/"+fileKey))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("file key %q escapes the storage root", fileKey)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileKey, err)
	}

	s.logger.WithContext(ctx).Debugf("loaded %d bytes for file key %s", len(data), fileKey)
	return data, nil
}
