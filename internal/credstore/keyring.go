package credstore

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// SecretStore is the seam over the OS credential store. Tests inject an
// in-memory implementation; production code uses the platform keyring.
type SecretStore interface {
	Set(service, user, value string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// systemKeyring adapts zalando/go-keyring to the SecretStore seam, mapping
// its not-found sentinel to ours.
type systemKeyring struct{}

func (systemKeyring) Set(service, user, value string) error {
	return keyring.Set(service, user, value)
}

func (systemKeyring) Get(service, user string) (string, error) {
	v, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (systemKeyring) Delete(service, user string) error {
	err := keyring.Delete(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
