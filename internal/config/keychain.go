package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const keychainService = "dashbot"

const (
	accountAPIToken      = "api_token"
	accountOracleAPIKey  = "oracle_api_key"
	accountPostgresDSN   = "postgres_dsn"
	accountTelegramToken = "telegram_bot_token"
)

// Keychain stores secrets outside the config backend, one value per
// account under the dashbot service.
type Keychain interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

// NewKeychain returns the platform secret store: the macOS login keychain,
// or a private JSON file elsewhere.
func NewKeychain() Keychain { return platformKeychain{} }

type platformKeychain struct{}

func (platformKeychain) Get(account string) (string, error) { return keychainGet(account) }
func (platformKeychain) Set(account, value string) error    { return keychainSet(account, value) }

// GetAPIToken returns the bearer token for the HTTP API. DASHBOT_API_TOKEN
// wins; otherwise the token is read from the keychain, and generated and
// stored there on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("DASHBOT_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(accountAPIToken); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
