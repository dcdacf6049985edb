package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MakeDir creates a directory with all parent directories
func MakeDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// DeleteFile removes a file, ignoring files that are already gone
func DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MoveFile moves or renames a file
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move file from %s to %s: %w", src, dst, err)
	}
	return nil
}

// WriteFileAtomic writes through fill into a temp file next to path and
// renames it into place once fill succeeds. Readers never observe a
// partially written file.
func WriteFileAtomic(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := MakeDir(dir); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return MoveFile(tmpName, path)
}

// FileStem returns the base name of path without its extension.
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
