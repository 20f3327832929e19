package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "scanrelay"

// openKeyring returns a configured keyring instance.
var openKeyring = func() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/scanrelay/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("scanrelay-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Keyring reads the IMAP password stored under Key in the system keyring.
type Keyring struct {
	Key string
}

// Fetch returns the stored password.
func (k Keyring) Fetch(_ context.Context) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	item, err := ring.Get(k.Key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf(
				"%w: no keyring entry %q", ErrCredentialUnavailable, k.Key,
			)
		}
		return "", fmt.Errorf(
			"%w: getting keyring entry %q: %v", ErrCredentialUnavailable, k.Key, err,
		)
	}

	if len(item.Data) == 0 {
		return "", fmt.Errorf(
			"%w: keyring entry %q is empty", ErrCredentialUnavailable, k.Key,
		)
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
		Key:   key,
		Data:  []byte(value),
		Label: "scanrelay IMAP password",
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
