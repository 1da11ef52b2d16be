package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/twivo/twivo-media/src/pkg/utils"
)

// LocalBlobs keeps artifacts as files below root.
type LocalBlobs struct {
	root string
}

func NewLocalBlobs(root string) (*LocalBlobs, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalBlobs{root: root}, nil
}

func (b *LocalBlobs) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *LocalBlobs) Put(_ context.Context, key string, data []byte) error {
	filePath := b.path(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := utils.WriteNewFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (b *LocalBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Clean(b.path(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (b *LocalBlobs) Delete(_ context.Context, key string) error {
	if err := os.Remove(filepath.Clean(b.path(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}
