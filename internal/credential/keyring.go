// Package credential keeps the tracker's API token in the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "tracker"

// APITokenKey names the bearer token required by the HTTP API.
const APITokenKey = "api-token"

// TokenEnv overrides the keyring token when set.
const TokenEnv = "TRACKER_API_TOKEN"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/tracker/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("tracker-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "tracker " + key,
		Description: "project tracker credential",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// APIToken resolves the API bearer token: the TRACKER_API_TOKEN
// environment variable wins, then the keyring. An empty result with a
// nil error means no token is configured and the API is left open.
func APIToken() (string, error) {
	return resolveToken(os.Getenv(TokenEnv), func() (string, error) { return Get(APITokenKey) })
}

func resolveToken(env string, fromKeyring func() (string, error)) (string, error) {
	if tok := strings.TrimSpace(env); tok != "" {
		return tok, nil
	}
	tok, err := fromKeyring()
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tok), nil
}
