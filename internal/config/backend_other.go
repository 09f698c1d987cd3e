//go:build !darwin

package config

import (
	"fmt"
	"os"
	"strconv"
)

func defaultDataDir() string {
	return xdgPath("XDG_DATA_HOME", ".local/share", "")
}

func configFilePath() string {
	return xdgPath("XDG_CONFIG_HOME", ".config", "config.json")
}

func secretHint(account string) string {
	return fmt.Sprintf(" or the %q entry of %s", account, secretsFilePath())
}

// fileBackend keeps config keys in $XDG_CONFIG_HOME/dashbot/config.json.
// The file is read once; every Set rewrites it.
type fileBackend struct {
	file jsonFile
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{file: jsonFile(configFilePath())}
	data, err := b.file.read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.file, err)
	}
	b.data = data
	return b
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case float64:
		// Hand-edited files may hold bare numbers.
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		return "", true, fmt.Errorf("config key %s has unsupported type %T", key, v)
	}
}

func (b *fileBackend) Set(key, val string) error {
	b.data[key] = val
	return b.file.update(func(m map[string]any) { m[key] = val })
}

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.file.update(func(m map[string]any) { delete(m, key) })
}
