//go:build darwin

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

func keychainGet(account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", keychainService, "-a", account, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("keychain lookup %s/%s: %w", keychainService, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// keychainSet upserts (-U) the generic password for account.
func keychainSet(account, value string) error {
	return exec.Command("security", "add-generic-password", "-U", "-s", keychainService, "-a", account, "-w", value).Run()
}
