package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FilesystemStore persists state documents as JSON files, one per sync
// id, written atomically via a temp file and rename.
type FilesystemStore struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewFilesystemStore(baseDir string, logger *zap.Logger) *FilesystemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (f *FilesystemStore) path(id string) string {
	return filepath.Join(f.baseDir, id+".state.json")
}

func (f *FilesystemStore) Load(ctx context.Context, id string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		f.logger.Info("no state found", zap.String("sync_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	f.logger.Info("state loaded", zap.String("sync_id", id))
	return doc, nil
}

func (f *FilesystemStore) Save(ctx context.Context, id string, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.baseDir, 0755); err != nil {
		return err
	}

	statePath := f.path(id)
	tempPath := statePath + ".tmp"

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	// Sync to disk before the rename so a crash cannot leave a
	// half-written document behind the final name.
	if file, err := os.OpenFile(tempPath, os.O_RDWR, 0644); err == nil {
		file.Sync()
		file.Close()
	}

	if err := os.Rename(tempPath, statePath); err != nil {
		os.Remove(tempPath)
		return err
	}

	f.logger.Debug("state saved", zap.String("sync_id", id))
	return nil
}
