package keyvault

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agbusiness195/sable"
)

func TestGenerateAndLoad(t *testing.T) {
	vault, err := Open(t.TempDir())
	require.NoError(t, err)

	generated, err := vault.Generate("alice")
	require.NoError(t, err)
	require.Equal(t, "alice", generated.ID)

	loaded, err := vault.Load("alice")
	require.NoError(t, err)
	require.Equal(t, generated.ID, loaded.ID)
	require.Equal(t, generated.Signing.PrivateKey, loaded.Signing.PrivateKey)
	require.Equal(t, generated.Signing.PublicKey, loaded.Signing.PublicKey)
	require.Equal(t, generated.Encryption.PrivateKey, loaded.Encryption.PrivateKey)
	require.Equal(t, generated.Encryption.PublicKey, loaded.Encryption.PublicKey)
}

func TestGenerateRejectsDuplicate(t *testing.T) {
	vault, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = vault.Generate("alice")
	require.NoError(t, err)
	_, err = vault.Generate("alice")
	require.Error(t, err)
}

func TestLoadUnknownIdentity(t *testing.T) {
	vault, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = vault.Load("nobody")
	require.ErrorIs(t, err, sable.ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	vault, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"alice", "bob", "carol"} {
		_, err := vault.Generate(id)
		require.NoError(t, err)
	}

	ids, err := vault.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, ids)

	require.NoError(t, vault.Delete("bob"))
	ids, err = vault.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "carol"}, ids)

	err = vault.Delete("bob")
	require.ErrorIs(t, err, sable.ErrNotFound)
}

func TestIdentityFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	dir := t.TempDir()
	vault, err := Open(dir)
	require.NoError(t, err)
	_, err = vault.Generate("alice")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "alice.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPathEscapeRejected(t *testing.T) {
	vault, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		_, err := vault.Generate(id)
		require.Error(t, err, "id %q", id)
	}
}

func TestIdentityImplementsVault(t *testing.T) {
	vault, err := Open(t.TempDir())
	require.NoError(t, err)
	identity, err := vault.Generate("seller")
	require.NoError(t, err)

	var kv sable.Vault = identity
	signing, err := kv.SigningKey()
	require.NoError(t, err)
	require.Equal(t, identity.Signing.PrivateKey, signing)

	encryption, err := kv.EncryptionKey()
	require.NoError(t, err)
	require.Equal(t, identity.Encryption.PrivateKey, encryption)
}
