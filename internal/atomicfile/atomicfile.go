// SPDX-License-Identifier: MIT

// Package atomicfile provides crash-consistent file writes via the
// temp-file-then-rename pattern used throughout the formula cache and
// .config output paths.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write writes data to path atomically: it creates a temp file in the same
// directory, writes and syncs the data, sets the requested permissions, and
// renames it over path. os.Rename is atomic on the filesystems this tool
// targets, so a crash mid-write leaves either the old file or the new one,
// never a partial one.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".kbuildcfg-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to chmod temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is CLI/config-derived, not request input
		return fmt.Errorf("failed to rename temp file onto %s: %w", path, err)
	}

	success = true
	return nil
}

// WritePending writes data to path+".pending" and returns that path without
// renaming it into place; the caller renames it with Commit. A run killed
// between the two leaves the ".pending" file behind, and the next
// WritePending for the same path overwrites it.
func WritePending(path string, data []byte, perm os.FileMode) (string, error) {
	pendingPath := path + ".pending"
	if err := Write(pendingPath, data, perm); err != nil {
		return "", err
	}
	return pendingPath, nil
}

// Commit renames a ".pending" file (as returned by WritePending) onto its
// final path.
func Commit(pendingPath, finalPath string) error {
	if err := os.Rename(pendingPath, finalPath); err != nil {
		return fmt.Errorf("failed to commit %s onto %s: %w", pendingPath, finalPath, err)
	}
	return nil
}
