package sable

import (
	"fmt"
)

// WrappedKey is a content key encrypted so that only the named
// recipient's X25519 private key can recover it. The sender side of
// the exchange is a fresh ephemeral key generated per wrap, so
// compromising one recipient's unwrap path never exposes another
// recipient's copy and revoking one party never forces a content-key
// rotation for the rest.
type WrappedKey struct {
	RecipientID        string `json:"recipient_id"`
	Ciphertext         []byte `json:"ciphertext"`
	Nonce              []byte `json:"nonce"`
	EphemeralPublicKey []byte `json:"ephemeral_public_key"`
}

// WrapContentKey wraps a symmetric content key for a recipient:
// ephemeral X25519 exchange against the recipient's public key,
// HKDF-SHA256 under the given purpose label, then AES-256-GCM under a
// fresh nonce.
func WrapContentKey(contentKey []byte, recipientID string, recipientPublicKey []byte, label string) (*WrappedKey, error) {
	if len(contentKey) != ContentKeySize {
		return nil, fmt.Errorf("sable: content key must be %d bytes, got %d", ContentKeySize, len(contentKey))
	}
	ephemeral, err := GenerateEncryptionKeyPair()
	if err != nil {
		return nil, err
	}
	secret, err := DeriveSharedSecret(ephemeral.PrivateKey, recipientPublicKey)
	if err != nil {
		return nil, err
	}
	wrapKey, err := DeriveKey(secret, label)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, tag, err := AEADEncrypt(wrapKey, nonce, contentKey, nil)
	if err != nil {
		return nil, err
	}
	return &WrappedKey{
		RecipientID:        recipientID,
		Ciphertext:         append(ciphertext, tag...),
		Nonce:              nonce,
		EphemeralPublicKey: ephemeral.PublicKey,
	}, nil
}

// UnwrapContentKey recovers the content key from a wrapped entry using
// the recipient's X25519 private key. Any failure to open the entry
// (wrong recipient, tampered bytes, wrong private key, wrong purpose
// label) is reported as ErrUnwrap.
func UnwrapContentKey(entry *WrappedKey, recipientPrivateKey []byte, label string) ([]byte, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: missing wrapped key entry", ErrUnwrap)
	}
	if len(entry.Ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrUnwrap)
	}
	secret, err := DeriveSharedSecret(recipientPrivateKey, entry.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	wrapKey, err := DeriveKey(secret, label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	split := len(entry.Ciphertext) - TagSize
	contentKey, err := AEADDecrypt(wrapKey, entry.Nonce, entry.Ciphertext[:split], entry.Ciphertext[split:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	return contentKey, nil
}
