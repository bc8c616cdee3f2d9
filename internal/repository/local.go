package repository

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type LocalOption func(*Local)

// Local writes objects under a base directory.
type Local struct {
	basePath string
	prefix   string
	logger   *zap.Logger
}

func LocalWithPrefix(prefix string) LocalOption {
	return func(r *Local) {
		r.prefix = prefix
	}
}

func LocalWithLogger(logger *zap.Logger) LocalOption {
	return func(r *Local) {
		r.logger = logger
	}
}

func NewLocal(basePath string, opts ...LocalOption) *Local {
	r := &Local{
		basePath: basePath,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write lands the object through a temp file and rename, so a partially
// written archive file is never visible under its final key.
func (r *Local) Write(ctx context.Context, key string, reader io.Reader) error {
	fullPath := filepath.Join(
		r.basePath,
		r.prefix,
		key,
	)
	r.logger.Info("writing file", zap.String("path", fullPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	tmpPath := fullPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, fullPath)
}
