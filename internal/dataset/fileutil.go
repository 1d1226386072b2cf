package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sheetflow/sheetflow/internal/storage"
)

// stageObject copies a stored object into a fresh temp directory so DuckDB
// can open it by path. The returned cleanup removes the directory and is safe
// to call even when staging failed.
func stageObject(ctx context.Context, store storage.ObjectStore, key, localName string) (string, func(), error) {
	cleanup := func() {}

	reader, err := store.Get(ctx, key)
	if err != nil {
		return "", cleanup, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	workDir, err := os.MkdirTemp("", "sheetflow-stage-")
	if err != nil {
		return "", cleanup, fmt.Errorf("create staging dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(workDir) }

	localPath := filepath.Join(workDir, localName)
	file, err := os.Create(localPath)
	if err != nil {
		return "", cleanup, fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return "", cleanup, fmt.Errorf("write staging file %q: %w", localPath, err)
	}
	if err := file.Close(); err != nil {
		return "", cleanup, fmt.Errorf("close staging file %q: %w", localPath, err)
	}
	return localPath, cleanup, nil
}
