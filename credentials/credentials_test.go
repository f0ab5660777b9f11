package credentials

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("AEGIS_CONFIG_DIR", t.TempDir())
	t.Setenv("AEGIS_ENCRYPTION_KEY", hex.EncodeToString(make([]byte, 32)))
	t.Setenv(EnvAPIKey, "")

	store, err := NewStore()
	require.NoError(t, err)
	return store
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Save("sk-test-1234567890abcdef"))

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234567890abcdef", creds.APIKey)
	assert.False(t, creds.LastUpdated.IsZero())
}

func TestStore_EncryptedAtRest(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save("sk-secret"))

	// Reading the raw file must not reveal the key.
	dir, err := CredentialsDir()
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, DefaultCredentialsFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-secret")
}

func TestStore_LoadMissing(t *testing.T) {
	store := testStore(t)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.False(t, store.Exists())
}

func TestStore_ActiveKeyEnvOverride(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save("sk-stored"))

	key, source, err := store.ActiveKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", key)
	assert.Equal(t, SourceFile, source)

	t.Setenv(EnvAPIKey, "sk-from-env")
	key, source, err = store.ActiveKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", key)
	assert.Equal(t, SourceEnv, source)
}

func TestStore_IsConfigured(t *testing.T) {
	store := testStore(t)
	assert.False(t, store.IsConfigured())

	require.NoError(t, store.Save("sk-stored"))
	assert.True(t, store.IsConfigured())

	require.NoError(t, store.Delete())
	assert.False(t, store.IsConfigured())

	t.Setenv(EnvAPIKey, "sk-from-env")
	assert.True(t, store.IsConfigured())
	assert.True(t, (*Store)(nil).IsConfigured())
}

func TestStore_WrongKeyFailsDecryption(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save("sk-stored"))

	key := make([]byte, 32)
	key[0] = 1
	t.Setenv("AEGIS_ENCRYPTION_KEY", hex.EncodeToString(key))
	other, err := NewStore()
	require.NoError(t, err)

	_, err = other.Load()
	assert.ErrorIs(t, err, ErrEncryptionFailed)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "********", MaskAPIKey("short123"))
	assert.Equal(t, "sk-t********...cdef", MaskAPIKey("sk-test-1234567890abcdef"))
}

func TestPassphraseKeyProvider(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, 16)

	p := NewPassphraseKeyProvider("correct horse battery staple", salt)
	key1, err := p.GetKey()
	require.NoError(t, err)
	require.Len(t, key1, 32)

	// Deterministic for the same passphrase and salt.
	key2, err := NewPassphraseKeyProvider("correct horse battery staple", salt).GetKey()
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	// Different passphrase yields a different key.
	key3, err := NewPassphraseKeyProvider("other", salt).GetKey()
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)

	_, err = NewPassphraseKeyProvider("", salt).GetKey()
	assert.Error(t, err)
}

func TestEnvKeyProvider(t *testing.T) {
	t.Setenv("TEST_ENC_KEY", "")
	p := NewEnvKeyProvider("TEST_ENC_KEY")
	_, err := p.GetKey()
	assert.Error(t, err)

	t.Setenv("TEST_ENC_KEY", "zz")
	_, err = p.GetKey()
	assert.Error(t, err)

	t.Setenv("TEST_ENC_KEY", hex.EncodeToString(make([]byte, 16)))
	_, err = p.GetKey()
	assert.Error(t, err, "short keys are rejected")

	t.Setenv("TEST_ENC_KEY", hex.EncodeToString(make([]byte, 32)))
	key, err := p.GetKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
