package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// copySnapshot replaces dest with the contents and permission bits of src and
// stamps it with mtime. The write goes through a temporary file in the same
// directory so dest is never left half written.
func copySnapshot(src, dest string, mtime time.Time) ([]byte, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination directory: %w", err)
	}
	if err := checkFreeSpace(dir, int64(len(content))); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".restore-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("replacing destination: %w", err)
	}

	if err := os.Chtimes(dest, mtime, mtime); err != nil {
		return nil, fmt.Errorf("setting timestamp: %w", err)
	}
	return content, nil
}
