package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "secrets.enc"))
}

func TestVault_InitializeAndReopen(t *testing.T) {
	v := newTestVault(t)
	assert.False(t, v.IsInitialized())

	require.NoError(t, v.Initialize("hunter2"))
	assert.True(t, v.IsInitialized())
	assert.True(t, v.IsUnlocked())

	require.NoError(t, v.Set("ollama-key", "sk-local-123"))
	v.Lock()
	assert.False(t, v.IsUnlocked())

	// a fresh handle on the same file sees the secret
	reopened := New(v.path)
	require.NoError(t, reopened.Unlock("hunter2"))
	secret, err := reopened.Get("ollama-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-local-123", secret.Value)
}

func TestVault_InitializeTwice(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Initialize("pw"))
	assert.ErrorIs(t, New(v.path).Initialize("pw"), ErrAlreadyExists)
}

func TestVault_WrongPassword(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Initialize("correct"))
	v.Lock()

	assert.ErrorIs(t, v.Unlock("incorrect"), ErrBadPassword)
	assert.False(t, v.IsUnlocked())
}

func TestVault_UnlockStates(t *testing.T) {
	v := newTestVault(t)
	assert.ErrorIs(t, v.Unlock("pw"), ErrNotInitialized)

	require.NoError(t, v.Initialize("pw"))
	assert.ErrorIs(t, v.Unlock("pw"), ErrAlreadyUnlocked)
}

func TestVault_LockedOperations(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Initialize("pw"))
	v.Lock()

	assert.ErrorIs(t, v.Set("k", "v"), ErrLocked)
	_, err := v.Get("k")
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, v.Delete("k"), ErrLocked)
	_, err = v.Names()
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, v.ChangePassword("pw", "pw2"), ErrLocked)
}

func TestVault_SetGetDelete(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Initialize("pw"))

	require.NoError(t, v.Set("a", "1"))
	require.NoError(t, v.Set("b", "2"))

	created, err := v.Get("a")
	require.NoError(t, err)

	// overwrite keeps the creation time
	require.NoError(t, v.Set("a", "updated"))
	after, err := v.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "updated", after.Value)
	assert.Equal(t, created.CreatedAt, after.CreatedAt)

	names, err := v.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, v.Delete("a"))
	_, err = v.Get("a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, v.Delete("a"), ErrKeyNotFound)

	assert.Error(t, v.Set("  ", "blank name"))
}

func TestVault_ChangePassword(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Initialize("old"))
	require.NoError(t, v.Set("k", "v"))

	assert.ErrorIs(t, v.ChangePassword("not-old", "new"), ErrBadPassword)
	require.NoError(t, v.ChangePassword("old", "new"))
	v.Lock()

	assert.ErrorIs(t, v.Unlock("old"), ErrBadPassword)
	require.NoError(t, v.Unlock("new"))
	secret, err := v.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", secret.Value)
}

func TestVault_CorruptedFile(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(v.path), 0o700))
	require.NoError(t, os.WriteFile(v.path, []byte("short"), 0o600))

	assert.ErrorIs(t, v.Unlock("pw"), ErrCorrupted)
}

func TestVault_ResolveCredential(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Initialize("pw"))
	require.NoError(t, v.Set("openai", "sk-stored"))

	t.Setenv("KILN_TEST_KEY", "sk-env")

	got, err := v.ResolveCredential("vault:openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", got)

	got, err = v.ResolveCredential("env:KILN_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", got)

	got, err = v.ResolveCredential("sk-literal")
	require.NoError(t, err)
	assert.Equal(t, "sk-literal", got)

	_, err = v.ResolveCredential("vault:missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = v.ResolveCredential("env:KILN_TEST_UNSET_KEY")
	assert.Error(t, err)

	// env and literal refs work on a locked vault
	v.Lock()
	got, err = v.ResolveCredential("env:KILN_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", got)
}
