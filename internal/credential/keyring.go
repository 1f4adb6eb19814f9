// Package credential resolves secrets from the system keyring, with an
// environment-variable fallback for containerized deployments.
package credential

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "email-assistant"

// Well-known credential keys.
const (
	KeyIMAPPassword = "imap-password"
	KeySMTPPassword = "smtp-password"
	KeyProviderAPI  = "provider-api-key"
)

// KnownKeys lists every credential key the assistant reads.
func KnownKeys() []string {
	return []string{KeyIMAPPassword, KeySMTPPassword, KeyProviderAPI}
}

// IsKnownKey reports whether key is one of the assistant's credential
// keys.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys() {
		if k == key {
			return true
		}
	}
	return false
}

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
		FileDir:                  "~/.config/email-assistant/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("email-assistant-file-key"),
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

// GetOrEnv retrieves a credential from the keyring, falling back to
// the named environment variable when the keyring has no entry.
func GetOrEnv(key, envVar string) string {
	if value, err := Get(key); err == nil && value != "" {
		return value
	}
	return os.Getenv(envVar)
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
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
