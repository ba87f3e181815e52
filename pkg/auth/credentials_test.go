package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStoreAndRetrieve(t *testing.T) {
	m := NewManagerWithStores(NewMockStore())

	account := &Account{
		Name:     "default",
		Token:    "ghp_testtoken",
		Login:    "crawler-bot",
		Password: "hunter2",
	}

	require.NoError(t, m.Store(account))
	assert.False(t, account.LastModified.IsZero())

	got, err := m.Retrieve("default")
	require.NoError(t, err)
	assert.Equal(t, "ghp_testtoken", got.Token)
	assert.Equal(t, "crawler-bot", got.Login)
}

func TestManagerRequiresNameAndToken(t *testing.T) {
	m := NewManagerWithStores(NewMockStore())

	assert.Error(t, m.Store(&Account{Token: "tok"}))
	assert.Error(t, m.Store(&Account{Name: "default"}))
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	failing := NewMockStore()
	failing.FailStore = true
	working := NewMockStore()

	m := NewManagerWithStores(failing, working)

	require.NoError(t, m.Store(&Account{Name: "default", Token: "tok"}))

	assert.False(t, failing.Exists("default"))
	assert.True(t, working.Exists("default"))

	got, err := m.Retrieve("default")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Token)
}

func TestManagerDelete(t *testing.T) {
	store := NewMockStore()
	m := NewManagerWithStores(store)

	require.NoError(t, m.Store(&Account{Name: "default", Token: "tok"}))
	require.NoError(t, m.Delete("default"))

	_, err := m.Retrieve("default")
	assert.Error(t, err)

	assert.Error(t, m.Delete("default"))
}

func TestEncryptedFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)

	account := &Account{
		Name:          "default",
		Token:         "secret-token",
		Login:         "bot",
		Password:      "pass",
		ClassifierKey: "sk-test",
	}
	require.NoError(t, store.Store(account))

	got, err := store.Retrieve("default")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got.Token)
	assert.Equal(t, "sk-test", got.ClassifierKey)

	// The file on disk must not contain the plaintext token.
	raw, err := os.ReadFile(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")

	// A second store instance over the same file decrypts it.
	reopened, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	got, err = reopened.Retrieve("default")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got.Token)
}

func TestEncryptedFileStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)

	require.NoError(t, store.Store(&Account{Name: "default", Token: "tok"}))
	require.True(t, store.Exists("default"))

	require.NoError(t, store.Delete("default"))
	assert.False(t, store.Exists("default"))
	assert.ErrorIs(t, store.Delete("default"), ErrNotFound)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("SPONSORSCOPE_TOKEN", "env-token")
	t.Setenv("SPONSORSCOPE_SESSION_LOGIN", "env-bot")

	store := NewEnvironmentStore()
	require.True(t, store.Exists("anything"))

	got, err := store.Retrieve("anything")
	require.NoError(t, err)
	assert.Equal(t, "env-token", got.Token)
	assert.Equal(t, "env-bot", got.Login)

	assert.Error(t, store.Store(&Account{Name: "x", Token: "y"}))
}
