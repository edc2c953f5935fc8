package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type fsGateway struct {
	basePath string
}

// NewFilesystemGateway stores objects as files below basePath. Keys may contain
// slashes, which become subdirectories.
func NewFilesystemGateway(basePath string) (Gateway, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &fsGateway{basePath: basePath}, nil
}

func (g *fsGateway) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(g.basePath, clean), nil
}

func (g *fsGateway) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := g.path(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrWrite, key, err)
	}

	// Write to a temporary file first so readers never see a partial object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrWrite, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: put %s: %w", ErrWrite, key, err)
	}

	return key, nil
}

func (g *fsGateway) Delete(ctx context.Context, key string) error {
	path, err := g.path(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", ErrDelete, key, err)
	}
	return nil
}
