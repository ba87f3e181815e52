package auth

import "sync"

// MockStore is an in-memory CredentialStore for testing
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]Account

	// FailStore forces Store to fail, for fallback-chain tests
	FailStore bool
}

// NewMockStore creates a new in-memory credential store
func NewMockStore() *MockStore {
	return &MockStore{accounts: make(map[string]Account)}
}

// Store saves credentials in memory
func (m *MockStore) Store(account *Account) error {
	if m.FailStore {
		return ErrInvalidCredentials
	}
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Name] = *account
	return nil
}

// Retrieve gets credentials from memory
func (m *MockStore) Retrieve(name string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &account, nil
}

// Delete removes credentials from memory
func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[name]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, name)
	return nil
}

// Exists checks if credentials exist for an account name
func (m *MockStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.accounts[name]
	return ok
}
