package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	if dir := xdgDir("XDG_DATA_HOME", ".local", "share"); dir != "" {
		return filepath.Join(dir, "pdfsum")
	}
	return "data"
}

func configFilePath() string {
	dir := xdgDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "pdfsum", "config.json")
}

// xdgDir returns $env, or the fallback path under the home directory. It
// returns "" when neither is available.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

// fileBackend keeps config as one flat JSON object. Values are kept as raw
// JSON until asked for, so numbers and strings are both accepted for any key.
type fileBackend struct {
	path    string
	data    map[string]json.RawMessage
	loadErr error
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]json.RawMessage)}
	b.loadErr = b.load()
	return b
}

func (b *fileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &b.data); err != nil {
		return fmt.Errorf("parsing config file %s: %w", b.path, err)
	}
	return nil
}

func (b *fileBackend) Lookup(key string) (string, bool, error) {
	if b.loadErr != nil {
		return "", false, b.loadErr
	}
	raw, ok := b.data[key]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true, nil
	}
	return string(raw), true, nil
}

func (b *fileBackend) Store(key string, value any) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	b.data[key] = raw
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}

// save replaces the file through a rename so readers never see a partial write.
func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), b.path)
}
