// Package history stores per-unit result records of a run on disk and
// merges new results into records left by earlier runs.
package history

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/model"
)

const (
	recordsDir   = "records"
	manifestFile = "run.json"
	// corruptSuffix is appended to records that could not be parsed.
	corruptSuffix = ".corrupt"
)

// Store keeps one JSON file per unit under root/records. Distinct units
// never share a file, so concurrent saves of different units need no lock.
type Store struct {
	logger zerolog.Logger
	root   string
}

// Open returns the store rooted at root. A fresh store wipes whatever a
// previous run left there; otherwise new results merge into old ones.
func Open(logger zerolog.Logger, root string, fresh bool) (*Store, error) {
	if root == "" || filepath.Clean(root) == string(filepath.Separator) {
		return nil, persistenceError("open", root, errors.New("refusing to use this directory as a result store"))
	}

	s := &Store{logger: logger, root: root}

	if fresh {
		if err := s.wipe(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(s.recordsPath(), 0755); err != nil {
		return nil, persistenceError("create", s.recordsPath(), err)
	}

	return s, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// wipe removes a previous store. Directories that do not look like a store
// are left alone.
func (s *Store) wipe() error {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return persistenceError("read", s.root, err)
	}
	if len(entries) == 0 {
		return nil
	}
	if !s.looksLikeStore() {
		return persistenceError("wipe", s.root, errors.New("directory is not empty and holds no previous run"))
	}

	s.logger.Debug().Str("root", s.root).Msg("Wiping previous results")
	if err := os.RemoveAll(s.root); err != nil {
		return persistenceError("wipe", s.root, err)
	}
	return nil
}

func (s *Store) looksLikeStore() bool {
	for _, p := range []string{s.recordsPath(), filepath.Join(s.root, manifestFile)} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (s *Store) recordsPath() string {
	return filepath.Join(s.root, recordsDir)
}

// recordPath maps a unit name to its file. PathEscape keeps names with
// slashes in a single file.
func (s *Store) recordPath(name string) string {
	return filepath.Join(s.recordsPath(), url.PathEscape(name)+".json")
}

// Save persists a run's result for one unit, appending it to any record
// already stored under the same name. A stored record that cannot be parsed
// is moved aside and replaced.
func (s *Store) Save(result *model.ResultRecord) error {
	next := FromResult(result)

	path := s.recordPath(result.Name)
	prior, err := s.Load(result.Name)
	var perr *model.PersistenceError
	switch {
	case err == nil:
		next = Merge(prior, next)
		s.logger.Debug().Str("unit", result.Name).Int("runs", next.Runs).Msg("Merged with previous record")
	case errors.Is(err, os.ErrNotExist):
	case errors.As(err, &perr) && perr.Op == "parse":
		aside := path + corruptSuffix
		if err := os.Rename(path, aside); err != nil {
			return persistenceError("rename", path, err)
		}
		s.logger.Warn().Err(err).Str("unit", result.Name).Str("path", aside).Msg("Moved unreadable record aside")
	default:
		return err
	}

	return s.write(path, next)
}

// Load returns the stored record of a unit. A missing record yields an
// error matching os.ErrNotExist.
func (s *Store) Load(name string) (*Record, error) {
	path := s.recordPath(name)
	var record Record
	if err := readJSON(path, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// LoadAll loads every stored record. Files that cannot be parsed are
// skipped with a warning.
func (s *Store) LoadAll() ([]*Record, error) {
	var records []*Record

	err := filepath.WalkDir(s.recordsPath(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		var record Record
		if err := readJSON(path, &record); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to parse record")
			return nil
		}
		records = append(records, &record)
		return nil
	})
	if err != nil {
		return nil, persistenceError("walk", s.recordsPath(), err)
	}

	return records, nil
}

// SaveRun writes the run manifest.
func (s *Store) SaveRun(run *model.Run) error {
	return s.write(filepath.Join(s.root, manifestFile), run)
}

// LoadRun reads the run manifest.
func (s *Store) LoadRun() (*model.Run, error) {
	var run model.Run
	if err := readJSON(filepath.Join(s.root, manifestFile), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// write replaces path atomically with the JSON encoding of v.
func (s *Store) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return persistenceError("marshal", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return persistenceError("create", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return persistenceError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return persistenceError("write", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return persistenceError("rename", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return persistenceError("read", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return persistenceError("parse", path, err)
	}
	return nil
}

func persistenceError(op, path string, err error) error {
	return errors.WithStack(&model.PersistenceError{Op: op, Path: path, Err: err})
}
