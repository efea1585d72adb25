package sable

import (
	"crypto/ed25519"
	"fmt"
)

// PartyKeys is the public-only view of a party: its identifier plus
// its long-term Ed25519 signing and X25519 encryption public keys.
// Private key material is never part of this type; it is supplied
// per call and never retained.
type PartyKeys struct {
	ID                  string `json:"id"`
	SigningPublicKey    []byte `json:"signing_public_key"`
	EncryptionPublicKey []byte `json:"encryption_public_key"`
}

// Validate checks that the key material has the expected lengths.
func (p *PartyKeys) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("sable: party id is required")
	}
	if len(p.SigningPublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("sable: signing public key must be %d bytes, got %d", ed25519.PublicKeySize, len(p.SigningPublicKey))
	}
	if len(p.EncryptionPublicKey) != ContentKeySize {
		return fmt.Errorf("sable: encryption public key must be %d bytes, got %d", ContentKeySize, len(p.EncryptionPublicKey))
	}
	return nil
}

// Directory resolves a party id to its public keys. The identity
// registry collaborator implements it; StaticDirectory serves tests
// and offline flows. Implementations return ErrNotFound for unknown
// parties.
type Directory interface {
	PublicKeys(partyID string) (*PartyKeys, error)
}

// StaticDirectory is an in-memory Directory over a fixed set of
// parties.
type StaticDirectory map[string]*PartyKeys

// PublicKeys implements Directory.
func (d StaticDirectory) PublicKeys(partyID string) (*PartyKeys, error) {
	p, ok := d[partyID]
	if !ok {
		return nil, fmt.Errorf("%w: party %q", ErrNotFound, partyID)
	}
	return p, nil
}

// Vault supplies one party's private key material. The local key
// storage collaborator implements it; the core only ever reads the
// already-materialized bytes for the duration of a call.
type Vault interface {
	SigningKey() (ed25519.PrivateKey, error)
	EncryptionKey() ([]byte, error)
}
