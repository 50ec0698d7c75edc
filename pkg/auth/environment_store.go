package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and exists so CI and containers can inject a single
// account without touching the keyring or the encrypted file.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment store
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	envUsername := os.Getenv("IGFETCH_USERNAME")
	envPassword := os.Getenv("IGFETCH_PASSWORD")

	if envUsername == "" || envPassword == "" {
		return nil, ErrCredentialsNotFound
	}

	if username != "" && username != envUsername {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Username:     envUsername,
		Password:     envPassword,
		TOTPSecret:   os.Getenv("IGFETCH_TOTP_SECRET"),
		LastModified: time.Now(),
	}, nil
}

// List returns the environment account if present
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		if err == ErrCredentialsNotFound {
			return []*Account{}, nil
		}
		return nil, err
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment store
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials are available
func (e *EnvironmentStore) Exists(username string) bool {
	account, err := e.Retrieve(username)
	return err == nil && account != nil
}
