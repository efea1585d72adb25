// Package keyvault stores party key material on the local
// filesystem. Each identity is one JSON file holding the private
// keys, written with owner-only permissions; public keys are derived
// on load and never stored separately.
package keyvault

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agbusiness195/sable"
)

// Identity is one party's full key material: the identifier plus the
// Ed25519 signing and X25519 encryption key pairs.
type Identity struct {
	ID         string
	Signing    *sable.KeyPair
	Encryption *sable.EncryptionKeyPair
}

// SigningKey implements sable.Vault.
func (id *Identity) SigningKey() (ed25519.PrivateKey, error) {
	return id.Signing.PrivateKey, nil
}

// EncryptionKey implements sable.Vault.
func (id *Identity) EncryptionKey() ([]byte, error) {
	return id.Encryption.PrivateKey, nil
}

// Public returns the registrable public-only view of the identity.
func (id *Identity) Public() *sable.PartyKeys {
	return &sable.PartyKeys{
		ID:                  id.ID,
		SigningPublicKey:    id.Signing.PublicKey,
		EncryptionPublicKey: id.Encryption.PublicKey,
	}
}

// Vault is a directory of identity files.
type Vault struct {
	dir string
}

// Open prepares a vault rooted at dir, creating the directory with
// owner-only permissions if it does not exist.
func Open(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keyvault: creating vault directory %q: %w", dir, err)
	}
	return &Vault{dir: dir}, nil
}

type identityFile struct {
	ID                   string `json:"id"`
	SigningPrivateKey    string `json:"signing_private_key"`
	EncryptionPrivateKey string `json:"encryption_private_key"`
}

// Generate creates and persists a fresh identity. It fails if an
// identity with the same id already exists in the vault.
func (v *Vault) Generate(id string) (*Identity, error) {
	path, err := v.path(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("keyvault: identity %q already exists", id)
	}
	signing, err := sable.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	encryption, err := sable.GenerateEncryptionKeyPair()
	if err != nil {
		return nil, err
	}
	identity := &Identity{ID: id, Signing: signing, Encryption: encryption}
	if err := v.save(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Load reads an identity from the vault, re-deriving public keys from
// the stored private key material.
func (v *Vault) Load(id string) (*Identity, error) {
	path, err := v.path(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: identity %q", sable.ErrNotFound, id)
		}
		return nil, fmt.Errorf("keyvault: reading identity %q: %w", id, err)
	}
	var file identityFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("keyvault: decoding identity %q: %w", id, err)
	}
	signingPriv, err := base64.StdEncoding.DecodeString(file.SigningPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("keyvault: decoding signing key for %q: %w", id, err)
	}
	encryptionPriv, err := base64.StdEncoding.DecodeString(file.EncryptionPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("keyvault: decoding encryption key for %q: %w", id, err)
	}
	signing, err := sable.KeyPairFromPrivateKey(signingPriv)
	if err != nil {
		return nil, err
	}
	encryptionPub, err := sable.EncryptionPublicKey(encryptionPriv)
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:      file.ID,
		Signing: signing,
		Encryption: &sable.EncryptionKeyPair{
			PrivateKey: encryptionPriv,
			PublicKey:  encryptionPub,
		},
	}, nil
}

// List returns the ids of all identities in the vault, in directory
// order.
func (v *Vault) List() ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("keyvault: listing vault: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Delete removes an identity file from the vault.
func (v *Vault) Delete(id string) error {
	path, err := v.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: identity %q", sable.ErrNotFound, id)
		}
		return fmt.Errorf("keyvault: deleting identity %q: %w", id, err)
	}
	return nil
}

func (v *Vault) save(identity *Identity) error {
	path, err := v.path(identity.ID)
	if err != nil {
		return err
	}
	file := identityFile{
		ID:                   identity.ID,
		SigningPrivateKey:    base64.StdEncoding.EncodeToString(identity.Signing.PrivateKey),
		EncryptionPrivateKey: base64.StdEncoding.EncodeToString(identity.Encryption.PrivateKey),
	}
	raw, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("keyvault: encoding identity %q: %w", identity.ID, err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("keyvault: writing identity %q: %w", identity.ID, err)
	}
	return nil
}

// path rejects ids that would escape the vault directory.
func (v *Vault) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", fmt.Errorf("keyvault: invalid identity id %q", id)
	}
	return filepath.Join(v.dir, id+".json"), nil
}
