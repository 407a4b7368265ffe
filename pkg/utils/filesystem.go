package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the per-installation state directory.
const DataDirName = ".tonetuner"

// EnsureDataDir ensures the .tonetuner directory exists at the given base path.
// If basePath is empty or ".", it creates ./.tonetuner in the current directory.
//
// The CLI keeps its default sqlite counter database here.
//
// Returns the full path to the directory and any error.
func EnsureDataDir(basePath string) (string, error) {
	dir := DataDirName
	if basePath != "" && basePath != "." {
		dir = filepath.Join(basePath, DataDirName)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory at '%s': %w", DataDirName, dir, err)
	}

	return dir, nil
}
