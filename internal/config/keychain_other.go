//go:build !darwin

package config

import "fmt"

func secretsFilePath() string {
	return xdgPath("XDG_DATA_HOME", ".local/share", "secrets.json")
}

// Without a system keychain, secrets live in a 0600 JSON file keyed by account.
func keychainGet(account string) (string, error) {
	m, err := jsonFile(secretsFilePath()).read()
	if err != nil {
		return "", err
	}
	v, ok := m[account].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %q not found in %s", account, secretsFilePath())
	}
	return v, nil
}

func keychainSet(account, value string) error {
	return jsonFile(secretsFilePath()).update(func(m map[string]any) { m[account] = value })
}
