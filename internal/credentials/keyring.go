// Package credentials stores CLI secrets in the system keyring.
package credentials

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// ErrNotFound reports a key with no stored value.
var ErrNotFound = errors.New("credentials: not found")

// Store reads and writes secrets under one keyring service name.
type Store struct {
	service string
}

// NewStore returns a store bound to the given keyring service name.
func NewStore(service string) *Store {
	return &Store{service: service}
}

func (s *Store) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: s.service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/daybook/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(s.service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves the stored value for key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	ring, err := s.open()
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

// Delete removes the stored value for key. Deleting an absent key is not
// an error.
func (s *Store) Delete(key string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
