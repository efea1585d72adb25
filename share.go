package sable

import (
	"crypto/ed25519"
	"fmt"

	"github.com/google/uuid"
)

// ShareRecord is a signed, auditable grant of access from one party to
// another: the content key re-wrapped for the recipient, who disclosed
// it, to whom, for which document (and optionally which section), and
// when. Anyone holding the discloser's public signing key can verify
// it independently.
type ShareRecord struct {
	ShareID    string      `json:"share_id"`
	DocID      string      `json:"doc_id"`
	Section    string      `json:"section,omitempty"`
	FromID     string      `json:"from_id"`
	ToID       string      `json:"to_id"`
	WrappedKey *WrappedKey `json:"wrapped_key"`
	// SectionHash pins a section-scoped share to the content hash of
	// the section it was issued for.
	SectionHash []byte `json:"section_hash,omitempty"`
	Timestamp   string `json:"timestamp"`
	Signature   []byte `json:"signature,omitempty"`
}

// CanonicalHash computes the SHA-256 hash of the record's canonical
// form with the signature field stripped. This is the exact message
// the discloser signs.
func (r *ShareRecord) CanonicalHash() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	canonical, err := CanonicalizeJSON(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to canonicalize share record: %w", err)
	}
	return HashBytes(canonical), nil
}

// VerifyShareRecord checks the discloser's signature over the record's
// canonical hash. Returns ErrSignatureInvalid when it does not verify.
func VerifyShareRecord(r *ShareRecord, discloserPub ed25519.PublicKey) error {
	hash, err := r.CanonicalHash()
	if err != nil {
		return err
	}
	if !Verify(hash, r.Signature, discloserPub) {
		return fmt.Errorf("%w: share record %q not signed by claimed discloser", ErrSignatureInvalid, r.ShareID)
	}
	return nil
}

// ShareOptions are the inputs to CreateShareRecord and
// CreateLayerShareRecords.
type ShareOptions struct {
	DiscloserID            string
	DiscloserSigningKey    ed25519.PrivateKey
	DiscloserEncryptionKey []byte // X25519 private key

	RecipientID                  string
	RecipientEncryptionPublicKey []byte

	// Via is an existing share record held by the discloser, for
	// disclosers that are not direct key-wrap holders themselves.
	// ViaSigningPublicKey must then identify the Via record's signer.
	Via                 *ShareRecord
	ViaSigningPublicKey ed25519.PublicKey
}

func (o *ShareOptions) validate() error {
	if o == nil {
		return fmt.Errorf("sable: share options are required")
	}
	if o.DiscloserID == "" || o.RecipientID == "" {
		return fmt.Errorf("sable: discloser and recipient ids are required")
	}
	if o.DiscloserID == o.RecipientID {
		return fmt.Errorf("sable: cannot issue a share record to oneself")
	}
	return nil
}

// CreateShareRecord discloses whole-document access to a new
// recipient. The discloser must itself be able to unwrap the content
// key, directly or through its own share record, before any wrapped
// copy for the recipient is produced; a party without access fails
// with ErrAccessDenied and no record is emitted.
func CreateShareRecord(tx *ProtectedTransaction, opts *ShareOptions) (*ShareRecord, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	contentKey, err := resolveContentKey(tx.KeyWraps, tx.DocID, "", nil, &UnprotectOptions{
		PartyID:                   opts.DiscloserID,
		EncryptionKey:             opts.DiscloserEncryptionKey,
		Share:                     opts.Via,
		DiscloserSigningPublicKey: opts.ViaSigningPublicKey,
	})
	if err != nil {
		return nil, err
	}
	return buildShareRecord(contentKey, tx.DocID, "", nil, opts)
}

// buildShareRecord wraps an already-resolved content key for the
// recipient and signs the resulting record.
func buildShareRecord(contentKey []byte, docID, section string, sectionHash []byte, opts *ShareOptions) (*ShareRecord, error) {
	wrapped, err := WrapContentKey(contentKey, opts.RecipientID, opts.RecipientEncryptionPublicKey, labelShareKeyWrap)
	if err != nil {
		return nil, err
	}
	record := &ShareRecord{
		ShareID:     uuid.NewString(),
		DocID:       docID,
		Section:     section,
		FromID:      opts.DiscloserID,
		ToID:        opts.RecipientID,
		WrappedKey:  wrapped,
		SectionHash: sectionHash,
		Timestamp:   Timestamp(),
	}
	hash, err := record.CanonicalHash()
	if err != nil {
		return nil, err
	}
	record.Signature, err = Sign(hash, opts.DiscloserSigningKey)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ShareCheck is the verification outcome for one share record.
type ShareCheck struct {
	ShareID string `json:"share_id"`
	FromID  string `json:"from_id"`
	Valid   bool   `json:"valid"`
}

// CheckResult aggregates the signature checks an auditor can run with
// public material only.
type CheckResult struct {
	Seller VerifyResult `json:"transaction"`
	Shares []ShareCheck `json:"shares,omitempty"`
}

// Check verifies a protected transaction's signatures plus any share
// records against public keys resolved through the directory. Parties
// missing from the directory simply fail their checks; the only error
// returned is a failed seller lookup, since nothing can be verified
// without it.
func Check(tx *ProtectedTransaction, dir Directory, sellerID, buyerID string, shares []*ShareRecord) (*CheckResult, error) {
	seller, err := dir.PublicKeys(sellerID)
	if err != nil {
		return nil, err
	}
	var buyerPub ed25519.PublicKey
	if buyerID != "" {
		if buyer, berr := dir.PublicKeys(buyerID); berr == nil {
			buyerPub = buyer.SigningPublicKey
		}
	}
	result := &CheckResult{
		Seller: *VerifyTransaction(tx, seller.SigningPublicKey, buyerPub),
	}
	for _, rec := range shares {
		check := ShareCheck{ShareID: rec.ShareID, FromID: rec.FromID}
		if from, ferr := dir.PublicKeys(rec.FromID); ferr == nil {
			check.Valid = VerifyShareRecord(rec, from.SigningPublicKey) == nil && rec.DocID == tx.DocID
		}
		result.Shares = append(result.Shares, check)
	}
	return result, nil
}
