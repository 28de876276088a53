package credential

import (
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mail-agent"

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
		FileDir:                  "~/.config/mail-agent/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-agent-file-key"),
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

// Resolve expands an indirect credential reference. "${NAME}" resolves
// to the NAME environment variable and "keyring:key" to the system
// keyring entry; any other value is returned as a literal.
func Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}"):
		return os.Getenv(value[2 : len(value)-1]), nil
	case strings.HasPrefix(value, "keyring:"):
		return Get(strings.TrimPrefix(value, "keyring:"))
	default:
		return value, nil
	}
}
