package sable

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Cipher suite parameters. The wire format stores them in Suite so a
// record is self-describing.
const (
	ContentKeySize = 32 // AES-256
	NonceSize      = 12 // AES-GCM standard nonce
	TagSize        = 16 // AES-GCM tag
	sharedKeySize  = 32 // HKDF output for wrap keys
)

// HKDF context labels. Wrap keys derived for different purposes are
// never interchangeable.
const (
	labelContentKeyWrap = "sable/content-key-wrap/v1"
	labelShareKeyWrap   = "sable/share-key-wrap/v1"
)

// Suite names the algorithms a protected record was produced with.
type Suite struct {
	HashAlg string `json:"hash_alg"`
	Cipher  string `json:"cipher"`
	Wrap    string `json:"wrap"`
}

// DefaultSuite is the only suite this implementation produces.
var DefaultSuite = Suite{
	HashAlg: "sha-256",
	Cipher:  "aes-256-gcm",
	Wrap:    "x25519-hkdf-sha256-aes-256-gcm",
}

// KeyPair holds an Ed25519 signing key pair with a precomputed
// hex-encoded public key.
type KeyPair struct {
	PrivateKey   ed25519.PrivateKey
	PublicKey    ed25519.PublicKey
	PublicKeyHex string
}

// GenerateSigningKeyPair generates a new Ed25519 key pair from
// cryptographically secure randomness.
func GenerateSigningKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to generate Ed25519 key pair: %w", err)
	}
	return &KeyPair{
		PrivateKey:   priv,
		PublicKey:    pub,
		PublicKeyHex: hex.EncodeToString(pub),
	}, nil
}

// KeyPairFromPrivateKey reconstructs a KeyPair from an existing
// Ed25519 private key. The private key must be 64 bytes (Go's
// ed25519.PrivateKey format which includes the public key suffix).
func KeyPairFromPrivateKey(privateKey ed25519.PrivateKey) (*KeyPair, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sable: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	pub := privateKey.Public().(ed25519.PublicKey)
	keyCopy := make(ed25519.PrivateKey, len(privateKey))
	copy(keyCopy, privateKey)
	return &KeyPair{
		PrivateKey:   keyCopy,
		PublicKey:    pub,
		PublicKeyHex: hex.EncodeToString(pub),
	}, nil
}

// EncryptionKeyPair holds a raw 32-byte X25519 key agreement pair.
type EncryptionKeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateEncryptionKeyPair generates a new X25519 key pair for key
// agreement.
func GenerateEncryptionKeyPair() (*EncryptionKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to generate X25519 key pair: %w", err)
	}
	return &EncryptionKeyPair{
		PrivateKey: priv.Bytes(),
		PublicKey:  priv.PublicKey().Bytes(),
	}, nil
}

// EncryptionPublicKey derives the X25519 public key for a raw private
// key.
func EncryptionPublicKey(privateKey []byte) ([]byte, error) {
	priv, err := ecdh.X25519().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("sable: malformed X25519 private key: %w", err)
	}
	return priv.PublicKey().Bytes(), nil
}

// Sign signs message bytes with an Ed25519 private key and returns the
// 64-byte signature.
func Sign(message []byte, privateKey ed25519.PrivateKey) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sable: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return ed25519.Sign(privateKey, message), nil
}

// Verify checks an Ed25519 signature against a message and public key.
// Returns false for any error (malformed key, truncated signature, etc.).
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// HashBytes computes the SHA-256 digest of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// AEADEncrypt encrypts plaintext with AES-256-GCM under the given key
// and nonce, binding associatedData into the authentication tag. The
// tag is returned separately from the ciphertext.
func AEADEncrypt(key, nonce, plaintext, associatedData []byte) (ciphertext, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, nil, fmt.Errorf("sable: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	sealed := aead.Seal(nil, nonce, plaintext, associatedData)
	return sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:], nil
}

// AEADDecrypt decrypts an AES-256-GCM ciphertext and verifies its tag
// and associated data. Returns ErrAuthFailure when the tag does not
// verify.
func AEADDecrypt(key, nonce, ciphertext, tag, associatedData []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("sable: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes, got %d", ErrAuthFailure, TagSize, len(tag))
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != ContentKeySize {
		return nil, fmt.Errorf("sable: key must be %d bytes, got %d", ContentKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to initialize GCM: %w", err)
	}
	return aead, nil
}

// DeriveSharedSecret performs an X25519 exchange between a raw private
// key and a raw public key.
func DeriveSharedSecret(privateKey, publicKey []byte) ([]byte, error) {
	priv, err := ecdh.X25519().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("sable: malformed X25519 private key: %w", err)
	}
	pub, err := ecdh.X25519().NewPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("sable: malformed X25519 public key: %w", err)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("sable: X25519 exchange failed: %w", err)
	}
	return secret, nil
}

// DeriveKey expands a shared secret into a 32-byte symmetric key with
// HKDF-SHA256. The label separates key purposes: keys derived under
// different labels are never interchangeable.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	key := make([]byte, sharedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("sable: HKDF expand failed: %w", err)
	}
	return key, nil
}

// GenerateContentKey generates a fresh 256-bit symmetric content key.
func GenerateContentKey() ([]byte, error) {
	return randomBytes(ContentKeySize, "content key")
}

// GenerateNonce generates a fresh 12-byte AEAD nonce. Nonces are never
// reused: every encryption call draws a new one.
func GenerateNonce() ([]byte, error) {
	return randomBytes(NonceSize, "nonce")
}

func randomBytes(n int, what string) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("sable: failed to generate %s: %w", what, err)
	}
	return b, nil
}

// ConstantTimeEqual compares two byte slices in constant time to
// prevent timing side-channel attacks.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Timestamp returns the current time as an ISO 8601 UTC string
// (e.g. "2025-01-15T12:00:00.000Z").
func Timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
