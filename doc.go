// Package sable implements a cryptographic protocol for protecting a
// structured transaction document between mutually distrusting parties
// that share only an untrusted storage/relay service.
//
// A seller protects a document by canonicalizing it to deterministic
// JSON, hashing it, encrypting the canonical bytes with a fresh
// AES-256-GCM content key, wrapping that key for each authorized party
// via X25519 key agreement and HKDF-SHA256, and signing the content
// hash with Ed25519. The buyer counter-signs after independently
// decrypting and re-deriving the hash. Any holder of a wrapped key can
// later disclose access to a third party by issuing a signed
// ShareRecord that wraps the same content key for the new recipient,
// without the recipient ever learning anyone else's unwrap path.
//
// This package implements the core protocol primitives:
//
//   - Deterministic canonicalization of tagged-variant documents and
//     SHA-256 content hashing
//   - AES-256-GCM authenticated encryption with explicit nonces and tags
//   - X25519 key agreement with HKDF-SHA256 key derivation
//   - Per-recipient content-key wrapping and unwrapping
//   - Protect / counter-sign / verify / unprotect over whole documents
//   - Auditable, signed ShareRecords for post-hoc disclosure
//   - Layered disclosure: per-section content keys, an aggregate hash
//     binding section names, content hashes, and recipient sets, and
//     partial reveal of individual sections
//
// Every operation is a pure, stateless function of its explicit
// inputs. The package holds no global state, performs no I/O, and
// never retains or logs private key material. Persistence, identity
// lookup, and transport live in the relay and keyvault subpackages and
// are opaque to the cryptography: the relay stores and returns bytes.
//
// # Transaction States
//
// A transaction moves Draft -> SellerProtected -> BuyerCountersigned.
// Later lifecycle events ("shared", "revoked") are expressed as
// independent ShareRecords layered on top, never as mutations of the
// protected record.
//
// # Failure Modes
//
// Every cryptographic failure is returned as a distinct sentinel error
// (ErrAuthFailure, ErrUnwrap, ErrHashMismatch, ErrSignatureInvalid,
// ErrAccessDenied, ErrStructural, ErrNotFound) so callers can tell a
// tampered ciphertext from a wrong recipient from a missing grant.
// No failure ever falls back to a default or partial plaintext.
package sable
