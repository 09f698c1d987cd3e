//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.dashbot.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "dashbot")
	}
	return "dashbot-data"
}

func secretHint(account string) string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", keychainService, account)
}

// defaultsBackend stores keys in the dashbot UserDefaults domain.
type defaultsBackend string

func newPlatformBackend() ConfigBackend {
	return defaultsBackend(defaultsDomain)
}

func (d defaultsBackend) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", string(d), key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		// defaults exits 1 when the key does not exist.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s %s: %w: %s", d, key, err, s)
	}
	return s, true, nil
}

func (d defaultsBackend) Set(key, val string) error {
	return exec.Command("defaults", "write", string(d), key, "-string", val).Run()
}

func (d defaultsBackend) Delete(key string) error {
	return exec.Command("defaults", "delete", string(d), key).Run()
}
