// Package config loads and persists server and provider definitions from
// a configuration directory. Files may be JSON or YAML; one file holds one
// definition.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/parley-ai/parley/pkg/types"
)

// Store reads and writes server configurations under a single directory.
type Store struct {
	dir string
}

// NewStore creates a store over dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store operates on.
func (s *Store) Dir() string { return s.dir }

// Load reads every *.json, *.yml and *.yaml file in the directory and
// returns the server configs sorted by id. Unreadable or invalid files are
// skipped, not fatal.
func (s *Store) Load() ([]types.ServerConfig, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("config: read dir: %w", err)
	}

	var out []types.ServerConfig
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}

		cfg, err := readConfigFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		if cfg.ID == "" {
			cfg.ID = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		if err := cfg.Validate(); err != nil {
			continue
		}
		out = append(out, cfg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save writes one server config as <id>.json, holding a file lock so
// concurrent writers from other processes do not interleave.
func (s *Store) Save(cfg types.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, cfg.ID+".json")

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("config: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", cfg.ID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Delete removes the config file for an id. Missing files are not errors.
func (s *Store) Delete(id string) error {
	for _, ext := range []string{".json", ".yml", ".yaml"} {
		err := os.Remove(filepath.Join(s.dir, id+ext))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: delete %s: %w", id, err)
		}
	}
	return nil
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yml", ".yaml":
		return !strings.HasSuffix(name, ".tmp")
	}
	return false
}

func readConfigFile(path string) (types.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ServerConfig{}, err
	}

	var cfg types.ServerConfig
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}
