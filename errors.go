package sable

import "errors"

// Sentinel errors for every failure class the protocol can produce.
// Operations wrap these with fmt.Errorf("...: %w", ...) so callers can
// match with errors.Is while still seeing the failing context.
var (
	// ErrStructural reports a document value that has no canonical
	// encoding (unsupported type, NaN/Inf, unassigned section field).
	ErrStructural = errors.New("sable: value cannot be canonicalized")

	// ErrAuthFailure reports an AEAD tag verification failure: wrong
	// key, corrupted ciphertext, or mismatched associated data.
	ErrAuthFailure = errors.New("sable: ciphertext authentication failed")

	// ErrUnwrap reports a wrapped-key entry that could not be opened
	// with the supplied private key.
	ErrUnwrap = errors.New("sable: wrapped key could not be opened")

	// ErrHashMismatch reports a recomputed content or aggregate hash
	// that disagrees with the stored one.
	ErrHashMismatch = errors.New("sable: content hash mismatch")

	// ErrSignatureInvalid reports a signature that does not verify
	// against the claimed public key.
	ErrSignatureInvalid = errors.New("sable: signature verification failed")

	// ErrAccessDenied reports a party with no direct key wrap and no
	// valid, matching share record.
	ErrAccessDenied = errors.New("sable: no key wrap or share record grants access")

	// ErrNotFound reports a missing party, transaction, section, or
	// share. Collaborators surface it unchanged.
	ErrNotFound = errors.New("sable: not found")
)
