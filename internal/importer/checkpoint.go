package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/galnet/marketsync/internal/model"
)

// LoadCheckpoint reads the durable checkpoint document. A missing file is
// a fresh start, not an error.
func LoadCheckpoint(path string) (*model.ImportCheckpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &model.ImportCheckpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.ImportCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// SaveCheckpoint writes the checkpoint atomically (temp file + rename) so
// a crash mid-write never leaves a torn document.
func SaveCheckpoint(path string, cp *model.ImportCheckpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}
