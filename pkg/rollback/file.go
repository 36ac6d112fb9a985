package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// FileStore writes one JSON file per key under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating rollback dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", util.NewMalformedInputError(key, "invalid rollback key")
	}
	return filepath.Join(s.dir, strings.ReplaceAll(key, ":", ".")+".json"), nil
}

func (s *FileStore) Put(_ context.Context, key string, rc *model.RollbackConfig) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rollback %s: %w", key, err)
	}

	// Write then rename so readers never see a partial file.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing rollback %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing rollback %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (*model.RollbackConfig, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return readRollbackFile(p, key)
}

func readRollbackFile(p, key string) (*model.RollbackConfig, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("rollback %s: %w", key, util.ErrNotFound)
		}
		return nil, fmt.Errorf("reading rollback %s: %w", key, err)
	}
	var rc model.RollbackConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parsing rollback %s: %w", p, err)
	}
	return &rc, nil
}

func (s *FileStore) List(_ context.Context) ([]*model.RollbackConfig, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]*model.RollbackConfig, 0, len(matches))
	for _, p := range matches {
		rc, err := readRollbackFile(p, filepath.Base(p))
		if err != nil {
			util.Warnf("rollback: skipping %s: %v", p, err)
			continue
		}
		out = append(out, rc)
	}
	sortByCreated(out)
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting rollback %s: %w", key, err)
	}
	return nil
}
