package sable

import (
	"bytes"
	"errors"
	"testing"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	recipient, _ := GenerateEncryptionKeyPair()
	contentKey, _ := GenerateContentKey()

	entry, err := WrapContentKey(contentKey, "buyer", recipient.PublicKey, labelContentKeyWrap)
	if err != nil {
		t.Fatalf("WrapContentKey() error: %v", err)
	}
	if entry.RecipientID != "buyer" {
		t.Errorf("RecipientID = %q, want %q", entry.RecipientID, "buyer")
	}
	if len(entry.EphemeralPublicKey) != 32 {
		t.Errorf("EphemeralPublicKey length = %d, want 32", len(entry.EphemeralPublicKey))
	}

	got, err := UnwrapContentKey(entry, recipient.PrivateKey, labelContentKeyWrap)
	if err != nil {
		t.Fatalf("UnwrapContentKey() error: %v", err)
	}
	if !bytes.Equal(got, contentKey) {
		t.Error("unwrapped key does not match wrapped key")
	}
}

func TestWrapsAreIndependentPerRecipient(t *testing.T) {
	a, _ := GenerateEncryptionKeyPair()
	b, _ := GenerateEncryptionKeyPair()
	contentKey, _ := GenerateContentKey()

	entryA, _ := WrapContentKey(contentKey, "a", a.PublicKey, labelContentKeyWrap)
	entryB, _ := WrapContentKey(contentKey, "b", b.PublicKey, labelContentKeyWrap)

	if bytes.Equal(entryA.EphemeralPublicKey, entryB.EphemeralPublicKey) {
		t.Error("two wraps share an ephemeral key")
	}
	// A's private key opens only A's entry.
	if _, err := UnwrapContentKey(entryB, a.PrivateKey, labelContentKeyWrap); !errors.Is(err, ErrUnwrap) {
		t.Errorf("cross-recipient unwrap: error = %v, want ErrUnwrap", err)
	}
}

func TestUnwrapFailures(t *testing.T) {
	recipient, _ := GenerateEncryptionKeyPair()
	other, _ := GenerateEncryptionKeyPair()
	contentKey, _ := GenerateContentKey()
	entry, _ := WrapContentKey(contentKey, "buyer", recipient.PublicKey, labelContentKeyWrap)

	if _, err := UnwrapContentKey(entry, other.PrivateKey, labelContentKeyWrap); !errors.Is(err, ErrUnwrap) {
		t.Errorf("wrong private key: error = %v, want ErrUnwrap", err)
	}
	if _, err := UnwrapContentKey(entry, recipient.PrivateKey, labelShareKeyWrap); !errors.Is(err, ErrUnwrap) {
		t.Errorf("wrong purpose label: error = %v, want ErrUnwrap", err)
	}

	tampered := *entry
	tampered.Ciphertext = append([]byte(nil), entry.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	if _, err := UnwrapContentKey(&tampered, recipient.PrivateKey, labelContentKeyWrap); !errors.Is(err, ErrUnwrap) {
		t.Errorf("tampered entry: error = %v, want ErrUnwrap", err)
	}

	if _, err := UnwrapContentKey(nil, recipient.PrivateKey, labelContentKeyWrap); !errors.Is(err, ErrUnwrap) {
		t.Errorf("nil entry: error = %v, want ErrUnwrap", err)
	}
}

func TestWrapRejectsBadContentKey(t *testing.T) {
	recipient, _ := GenerateEncryptionKeyPair()
	if _, err := WrapContentKey([]byte("short"), "x", recipient.PublicKey, labelContentKeyWrap); err == nil {
		t.Error("WrapContentKey accepted short content key")
	}
}
