//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// xdgPath resolves name under $env, falling back to ~/fallback.
func xdgPath(env, fallback, name string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("dashbot-data", name)
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "dashbot", name)
}

// jsonFile is a flat JSON object on disk. Writes go through a temp file and
// rename so a crash never leaves a truncated file behind.
type jsonFile string

func (f jsonFile) read() (map[string]any, error) {
	m := make(map[string]any)
	data, err := os.ReadFile(string(f))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return make(map[string]any), fmt.Errorf("parsing %s: %w", f, err)
	}
	return m, nil
}

// update applies fn to the current contents and writes the result with mode 0600.
func (f jsonFile) update(fn func(m map[string]any)) error {
	m, err := f.read()
	if err != nil {
		return err
	}
	fn(m)

	dir := filepath.Dir(string(f))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), string(f))
}
