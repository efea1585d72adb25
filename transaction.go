package sable

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TxState is the lifecycle position of a protected transaction,
// derived from which signatures are present.
type TxState string

const (
	StateDraft              TxState = "draft"
	StateSellerProtected    TxState = "seller_protected"
	StateBuyerCountersigned TxState = "buyer_countersigned"
)

// ProtectedTransaction is a self-contained protected record of one
// whole document: ciphertext, per-recipient wrapped content keys, the
// content hash the ciphertext is bound to, and the party signatures
// over that hash.
type ProtectedTransaction struct {
	DocID       string                 `json:"doc_id"`
	Ciphertext  []byte                 `json:"ciphertext"`
	Nonce       []byte                 `json:"nonce"`
	Tag         []byte                 `json:"tag"`
	KeyWraps    map[string]*WrappedKey `json:"key_wraps"`
	ContentHash []byte                 `json:"content_hash"`
	SigSeller   []byte                 `json:"sig_seller"`
	SigBuyer    []byte                 `json:"sig_buyer,omitempty"`
	CreatedAt   string                 `json:"created_at"`
	Meta        Suite                  `json:"meta"`
}

// State derives the transaction state from the attached signatures.
func (t *ProtectedTransaction) State() TxState {
	switch {
	case len(t.SigSeller) == 0:
		return StateDraft
	case len(t.SigBuyer) == 0:
		return StateSellerProtected
	default:
		return StateBuyerCountersigned
	}
}

// ProtectOptions are the inputs to Protect. The seller's private keys
// are used only for the duration of the call.
type ProtectOptions struct {
	SellerID                 string
	SellerSigningKey         ed25519.PrivateKey
	SellerEncryptionKey      []byte // X25519 private key
	BuyerID                  string
	BuyerEncryptionPublicKey []byte
}

func (o *ProtectOptions) validate() error {
	if o == nil {
		return fmt.Errorf("sable: protect options are required")
	}
	if o.SellerID == "" || o.BuyerID == "" {
		return fmt.Errorf("sable: seller and buyer ids are required")
	}
	if o.SellerID == o.BuyerID {
		return fmt.Errorf("sable: seller and buyer must be distinct parties")
	}
	if len(o.SellerSigningKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("sable: seller signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	return nil
}

// Protect encrypts and signs a document on behalf of the seller,
// transitioning Draft -> SellerProtected. It generates a fresh content
// key, canonicalizes and hashes the document, AEAD-encrypts the
// canonical bytes with the content hash as associated data, wraps the
// content key for both seller and buyer, and signs the content hash
// with the seller's Ed25519 key.
//
// The document id is taken from a string field "id" when present,
// otherwise a fresh UUID is assigned.
func Protect(doc *Document, opts *ProtectOptions) (*ProtectedTransaction, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	canonical, err := doc.Canonical()
	if err != nil {
		return nil, err
	}
	contentHash := HashBytes(canonical)

	contentKey, err := GenerateContentKey()
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, tag, err := AEADEncrypt(contentKey, nonce, canonical, contentHash)
	if err != nil {
		return nil, err
	}

	sellerPub, err := EncryptionPublicKey(opts.SellerEncryptionKey)
	if err != nil {
		return nil, err
	}
	wrapSeller, err := WrapContentKey(contentKey, opts.SellerID, sellerPub, labelContentKeyWrap)
	if err != nil {
		return nil, err
	}
	wrapBuyer, err := WrapContentKey(contentKey, opts.BuyerID, opts.BuyerEncryptionPublicKey, labelContentKeyWrap)
	if err != nil {
		return nil, err
	}

	sigSeller, err := Sign(contentHash, opts.SellerSigningKey)
	if err != nil {
		return nil, err
	}

	return &ProtectedTransaction{
		DocID:      documentID(doc),
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Tag:        tag,
		KeyWraps: map[string]*WrappedKey{
			opts.SellerID: wrapSeller,
			opts.BuyerID:  wrapBuyer,
		},
		ContentHash: contentHash,
		SigSeller:   sigSeller,
		CreatedAt:   Timestamp(),
		Meta:        DefaultSuite,
	}, nil
}

// CounterSignOptions are the inputs to CounterSign.
type CounterSignOptions struct {
	BuyerID                string
	BuyerSigningKey        ed25519.PrivateKey
	BuyerEncryptionKey     []byte // X25519 private key
	SellerSigningPublicKey ed25519.PublicKey
}

// CounterSign attaches the buyer's signature, transitioning
// SellerProtected -> BuyerCountersigned. The buyer never signs blind:
// it unwraps its own content-key entry, decrypts, recomputes the
// content hash from the decrypted bytes, requires it to equal the
// stored hash, and verifies the seller's signature against the
// recomputed hash, before signing that same hash.
//
// Returns a new record; the input is not mutated.
func CounterSign(tx *ProtectedTransaction, opts *CounterSignOptions) (*ProtectedTransaction, error) {
	if opts == nil || opts.BuyerID == "" {
		return nil, fmt.Errorf("sable: counter-sign options with buyer id are required")
	}
	contentKey, err := UnwrapContentKey(tx.KeyWraps[opts.BuyerID], opts.BuyerEncryptionKey, labelContentKeyWrap)
	if err != nil {
		return nil, err
	}
	canonical, err := AEADDecrypt(contentKey, tx.Nonce, tx.Ciphertext, tx.Tag, tx.ContentHash)
	if err != nil {
		return nil, err
	}
	recomputed := HashBytes(canonical)
	if !ConstantTimeEqual(recomputed, tx.ContentHash) {
		return nil, fmt.Errorf("%w: stored content hash does not match decrypted document", ErrHashMismatch)
	}
	if !Verify(recomputed, tx.SigSeller, opts.SellerSigningPublicKey) {
		return nil, fmt.Errorf("%w: seller signature does not cover the document", ErrSignatureInvalid)
	}
	sigBuyer, err := Sign(recomputed, opts.BuyerSigningKey)
	if err != nil {
		return nil, err
	}
	signed, err := copyTransaction(tx)
	if err != nil {
		return nil, err
	}
	signed.SigBuyer = sigBuyer
	return signed, nil
}

// VerifyResult reports which of the stored party signatures verify.
type VerifyResult struct {
	SellerOK    bool `json:"seller_ok"`
	BuyerSigned bool `json:"buyer_signed"`
	BuyerOK     bool `json:"buyer_ok"`
}

// VerifyTransaction checks the stored signatures against the stored
// content hash. It does not decrypt and needs only public material, so
// any observer can call it.
func VerifyTransaction(tx *ProtectedTransaction, sellerPub, buyerPub ed25519.PublicKey) *VerifyResult {
	res := &VerifyResult{
		SellerOK:    Verify(tx.ContentHash, tx.SigSeller, sellerPub),
		BuyerSigned: len(tx.SigBuyer) > 0,
	}
	if res.BuyerSigned {
		res.BuyerOK = Verify(tx.ContentHash, tx.SigBuyer, buyerPub)
	}
	return res
}

// UnprotectOptions are the inputs to Unprotect and UnprotectLayer.
type UnprotectOptions struct {
	PartyID       string
	EncryptionKey []byte // X25519 private key

	// Share is required when PartyID holds no direct key-wrap entry.
	// DiscloserSigningPublicKey must then identify the share's signer.
	Share                     *ShareRecord
	DiscloserSigningPublicKey ed25519.PublicKey
}

// Unprotect decrypts a protected transaction for a party. Access is
// granted by a direct key-wrap entry or, failing that, by a valid
// share record naming the party. The decrypted bytes are re-hashed and
// must match the stored content hash before the document is returned.
func Unprotect(tx *ProtectedTransaction, opts *UnprotectOptions) (*Document, error) {
	if opts == nil || opts.PartyID == "" {
		return nil, fmt.Errorf("sable: unprotect options with party id are required")
	}
	contentKey, err := resolveContentKey(tx.KeyWraps, tx.DocID, "", nil, opts)
	if err != nil {
		return nil, err
	}
	canonical, err := AEADDecrypt(contentKey, tx.Nonce, tx.Ciphertext, tx.Tag, tx.ContentHash)
	if err != nil {
		return nil, err
	}
	if !ConstantTimeEqual(HashBytes(canonical), tx.ContentHash) {
		return nil, fmt.Errorf("%w: stored content hash does not match decrypted document", ErrHashMismatch)
	}
	return DocumentFromJSON(canonical)
}

// resolveContentKey recovers the content key for a party, either from
// a direct key-wrap entry or through a share record scoped to the
// given document and section. sectionHash, when non-nil, must match
// the hash recorded in a section-scoped share.
func resolveContentKey(wraps map[string]*WrappedKey, docID, section string, sectionHash []byte, opts *UnprotectOptions) ([]byte, error) {
	if entry, ok := wraps[opts.PartyID]; ok {
		return UnwrapContentKey(entry, opts.EncryptionKey, labelContentKeyWrap)
	}
	share := opts.Share
	if share == nil {
		return nil, fmt.Errorf("%w: party %q has no key wrap and supplied no share record", ErrAccessDenied, opts.PartyID)
	}
	if share.ToID != opts.PartyID || share.DocID != docID || share.Section != section {
		return nil, fmt.Errorf("%w: share record %q does not grant %q access to this scope", ErrAccessDenied, share.ShareID, opts.PartyID)
	}
	if sectionHash != nil && !ConstantTimeEqual(share.SectionHash, sectionHash) {
		return nil, fmt.Errorf("%w: share record %q is bound to a different section content", ErrAccessDenied, share.ShareID)
	}
	if len(opts.DiscloserSigningPublicKey) == 0 {
		return nil, fmt.Errorf("sable: discloser signing public key is required to use a share record")
	}
	if err := VerifyShareRecord(share, opts.DiscloserSigningPublicKey); err != nil {
		return nil, err
	}
	return UnwrapContentKey(share.WrappedKey, opts.EncryptionKey, labelShareKeyWrap)
}

// documentID extracts a string "id" field or assigns a fresh UUID.
func documentID(doc *Document) string {
	if v, ok := doc.Get("id"); ok {
		if s, isStr := v.StringValue(); isStr && s != "" {
			return s
		}
	}
	return uuid.NewString()
}

// copyTransaction deep-copies a record via JSON round-trip so callers'
// references are never mutated.
func copyTransaction(tx *ProtectedTransaction) (*ProtectedTransaction, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to copy transaction: %w", err)
	}
	var copied ProtectedTransaction
	if err := json.Unmarshal(b, &copied); err != nil {
		return nil, fmt.Errorf("sable: failed to copy transaction: %w", err)
	}
	return &copied, nil
}
