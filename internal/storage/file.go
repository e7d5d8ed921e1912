package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pauljones0/free-games-bot/internal/ledger"
	"github.com/pauljones0/free-games-bot/internal/models"
)

// FileBackend keeps the ledger as a JSON array in a single file, rewritten in
// full on every mutation.
type FileBackend struct {
	path string
}

func NewFile(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the ledger file. A missing file is created empty; a corrupt one is
// reset to an empty array.
func (f *FileBackend) Load(_ context.Context) ([]models.GiveawayRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("Ledger file not found, creating", "path", f.path)
		return nil, f.write([]models.GiveawayRecord{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file %s: %w", f.path, err)
	}

	var records []models.GiveawayRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("Ledger file is corrupt, resetting to empty", "path", f.path, "error", err)
		if werr := f.write([]models.GiveawayRecord{}); werr != nil {
			return nil, fmt.Errorf("failed to reset corrupt ledger file: %w", werr)
		}
		return nil, nil
	}
	return records, nil
}

// Persist rewrites the whole file with snapshot.
func (f *FileBackend) Persist(_ context.Context, _ ledger.Change, snapshot []models.GiveawayRecord) error {
	if snapshot == nil {
		snapshot = []models.GiveawayRecord{}
	}
	return f.write(snapshot)
}

// write replaces the file atomically: the data goes to a temp file in the same
// directory which is synced and then renamed over the target.
func (f *FileBackend) write(records []models.GiveawayRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace ledger file %s: %w", f.path, err)
	}
	return nil
}
