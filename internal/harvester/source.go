package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/devicevault/server/internal/models"
)

// Source reads the native data of one kind on the device
type Source interface {
	Kind() models.DataType
	// ReadAll returns every item currently available, oldest first when Ordered
	ReadAll(ctx context.Context) ([]json.RawMessage, error)
	// Ordered reports whether items carry a reliable occurrence time. Sources
	// without one are snapshots and are re-sent in full on every harvest.
	Ordered() bool
}

// DirSource reads an exported JSON array from <dir>/<slug>.json,
// e.g. exports/call-logs.json
type DirSource struct {
	dir  string
	kind models.DataType
}

// NewDirSource creates a source for one kind
func NewDirSource(dir string, kind models.DataType) *DirSource {
	return &DirSource{dir: dir, kind: kind}
}

// NewDirSources creates one source per kind, in the given order
func NewDirSources(dir string, kinds []models.DataType) []Source {
	sources := make([]Source, 0, len(kinds))
	for _, k := range kinds {
		sources = append(sources, NewDirSource(dir, k))
	}
	return sources
}

func (s *DirSource) Kind() models.DataType { return s.kind }

func (s *DirSource) Ordered() bool { return !s.kind.IsSnapshot() }

// Path returns the export file read by the source
func (s *DirSource) Path() string {
	return filepath.Join(s.dir, s.kind.Slug()+".json")
}

// ReadAll returns nothing when the kind has not been exported yet
func (s *DirSource) ReadAll(ctx context.Context) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s export: %w", s.kind, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s export: %w", s.kind, err)
	}
	return items, nil
}
