// ABOUTME: Persistent store for per-output default volumes
// ABOUTME: Owns the defaults JSON file with validation, clamping, and legacy migration
package defaults

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

// FileName is the defaults file kept under the data directory.
const FileName = "default_outputs.json"

// legacyDefaultVolume is assigned to every entry when migrating the
// old list-of-ids file format.
const legacyDefaultVolume = 50

// ErrPersistence wraps failures to write the defaults file.
var ErrPersistence = errors.New("defaults: persistence failure")

// Map associates a decimal output id with its default volume.
type Map map[string]int

// Store reads and writes the defaults map. There is no in-memory
// cache: every operation goes back to the file so concurrent writers
// observe each other's commits.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a store rooted at dataDir, creating the directory
// if needed.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		path:   filepath.Join(dataDir, FileName),
		logger: logger,
	}, nil
}

// Path returns the file path used by this store.
func (s *Store) Path() string {
	return s.path
}

// Read loads the persisted map. A missing or unparsable file yields an
// empty map, never an error: defaults are advisory and must not block
// callers. The legacy list format (ids only) reads back with every id
// at volume 50.
func (s *Store) Read() Map {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Map{}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("unparsable defaults file, treating as empty", zap.String("path", s.path))
		return Map{}
	}

	out := Map{}
	switch parsed := raw.(type) {
	case map[string]any:
		// Current format. Malformed entries are dropped, not fatal.
		for k, v := range parsed {
			id, err := strconv.Atoi(k)
			if err != nil || id < 0 {
				continue
			}
			vol, ok := v.(float64)
			if !ok {
				continue
			}
			out[strconv.Itoa(id)] = model.Clamp(int(vol))
		}
	case []any:
		// Legacy format: a bare list of ids.
		for _, v := range parsed {
			id, ok := v.(float64)
			if !ok || id < 0 {
				continue
			}
			out[strconv.Itoa(int(id))] = legacyDefaultVolume
		}
	default:
		s.logger.Warn("unexpected defaults file shape, treating as empty", zap.String("path", s.path))
	}
	return out
}

// Write clamps every value, canonicalizes keys, drops malformed
// entries, and atomically replaces the whole file. Concurrent readers
// never observe a partial write.
func (s *Store) Write(m Map) error {
	cleaned := map[string]int{}
	for k, v := range m {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			continue
		}
		cleaned[strconv.Itoa(id)] = model.Clamp(v)
	}

	data, err := json.MarshalIndent(cleaned, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Annotate stamps the stored default flag and volume onto each output.
func Annotate(outs []model.Output, defs Map) []model.Output {
	for i := range outs {
		key := strconv.Itoa(outs[i].ID)
		if vol, ok := defs[key]; ok {
			v := vol
			outs[i].Default = true
			outs[i].DefaultVolume = &v
		} else {
			outs[i].Default = false
			outs[i].DefaultVolume = nil
		}
	}
	return outs
}
