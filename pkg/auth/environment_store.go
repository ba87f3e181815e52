package auth

import "os"

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and serves as the last-resort fallback for CI and
// container deployments where no keychain or writable config dir exists.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrInvalidCredentials
}

// Retrieve builds an account from environment variables. The name argument
// is ignored; the environment holds at most one account.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv("SPONSORSCOPE_TOKEN")
	if token == "" {
		return nil, ErrNotFound
	}

	return &Account{
		Name:          "environment",
		Token:         token,
		Login:         os.Getenv("SPONSORSCOPE_SESSION_LOGIN"),
		Password:      os.Getenv("SPONSORSCOPE_SESSION_PASSWORD"),
		ClassifierKey: os.Getenv("SPONSORSCOPE_CLASSIFIER_KEY"),
	}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrInvalidCredentials
}

// Exists checks if environment credentials are present
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv("SPONSORSCOPE_TOKEN") != ""
}
