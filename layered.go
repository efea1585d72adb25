package sable

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sort"
)

// ProtectedSection is one independently encrypted section of a layered
// transaction: its own ciphertext, its own content key wrapped per
// recipient, and the hash of its canonical plaintext.
type ProtectedSection struct {
	Ciphertext  []byte                 `json:"ciphertext"`
	Nonce       []byte                 `json:"nonce"`
	Tag         []byte                 `json:"tag"`
	ContentHash []byte                 `json:"content_hash"`
	KeyWraps    map[string]*WrappedKey `json:"key_wraps"`
}

// LayeredProtectedTransaction is the selective-disclosure variant of a
// protected record. Sections decrypt independently, but the aggregate
// hash binds every section's name, content hash, and recipient set
// together, so dropping, renaming, or substituting a section is
// detectable by any party that can open even a single section.
type LayeredProtectedTransaction struct {
	DocID         string                       `json:"doc_id"`
	Sections      map[string]*ProtectedSection `json:"sections"`
	AggregateHash []byte                       `json:"aggregate_hash"`
	SigSeller     []byte                       `json:"sig_seller"`
	SigBuyer      []byte                       `json:"sig_buyer,omitempty"`
	CreatedAt     string                       `json:"created_at"`
	Meta          Suite                        `json:"meta"`
}

// State derives the transaction state from the attached signatures.
func (t *LayeredProtectedTransaction) State() TxState {
	switch {
	case len(t.SigSeller) == 0:
		return StateDraft
	case len(t.SigBuyer) == 0:
		return StateSellerProtected
	default:
		return StateBuyerCountersigned
	}
}

// aggregateEntry is the per-section tuple bound into the aggregate
// hash. Recipients are included so a valid section ciphertext cannot
// be replayed under a different recipient's wrap within the same
// transaction.
type aggregateEntry struct {
	Section     string   `json:"section"`
	ContentHash []byte   `json:"content_hash"`
	Recipients  []string `json:"recipients"`
}

// computeAggregateHash hashes the canonical encoding of the ordered
// (section, content hash, recipients) tuples.
func computeAggregateHash(entries []aggregateEntry) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Section < entries[j].Section })
	for i := range entries {
		sort.Strings(entries[i].Recipients)
	}
	canonical, err := CanonicalizeJSON(entries)
	if err != nil {
		return nil, err
	}
	return HashBytes(canonical), nil
}

// storedAggregateHash recomputes the aggregate hash from the section
// metadata actually present in the record.
func storedAggregateHash(sections map[string]*ProtectedSection) ([]byte, error) {
	entries := make([]aggregateEntry, 0, len(sections))
	for name, sec := range sections {
		recipients := make([]string, 0, len(sec.KeyWraps))
		for id := range sec.KeyWraps {
			recipients = append(recipients, id)
		}
		entries = append(entries, aggregateEntry{
			Section:     name,
			ContentHash: sec.ContentHash,
			Recipients:  recipients,
		})
	}
	return computeAggregateHash(entries)
}

// sectionAAD binds a section ciphertext to its name and the
// transaction's aggregate hash.
func sectionAAD(section string, aggregateHash []byte) []byte {
	aad := make([]byte, 0, len(section)+len(aggregateHash))
	aad = append(aad, section...)
	return append(aad, aggregateHash...)
}

// ProtectWithLayers protects a document section by section. The
// section map assigns document fields to named sections and must be a
// partition: every field of the document belongs to exactly one
// section. Each section gets its own content key, wrapped for seller
// and buyer; the seller signs the aggregate hash.
func ProtectWithLayers(doc *Document, sections map[string][]string, opts *ProtectOptions) (*LayeredProtectedTransaction, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	parts, err := partitionDocument(doc, sections)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)

	// Hashes and recipient sets are fixed before any encryption so the
	// aggregate hash can serve as associated data for every section.
	recipients := []string{opts.SellerID, opts.BuyerID}
	entries := make([]aggregateEntry, 0, len(names))
	hashes := make(map[string][]byte, len(names))
	canonicals := make(map[string][]byte, len(names))
	for _, name := range names {
		canonical, cerr := parts[name].Canonical()
		if cerr != nil {
			return nil, cerr
		}
		canonicals[name] = canonical
		hashes[name] = HashBytes(canonical)
		entries = append(entries, aggregateEntry{
			Section:     name,
			ContentHash: hashes[name],
			Recipients:  append([]string(nil), recipients...),
		})
	}
	aggregate, err := computeAggregateHash(entries)
	if err != nil {
		return nil, err
	}

	sellerPub, err := EncryptionPublicKey(opts.SellerEncryptionKey)
	if err != nil {
		return nil, err
	}

	protected := make(map[string]*ProtectedSection, len(names))
	for _, name := range names {
		contentKey, kerr := GenerateContentKey()
		if kerr != nil {
			return nil, kerr
		}
		nonce, nerr := GenerateNonce()
		if nerr != nil {
			return nil, nerr
		}
		ciphertext, tag, eerr := AEADEncrypt(contentKey, nonce, canonicals[name], sectionAAD(name, aggregate))
		if eerr != nil {
			return nil, eerr
		}
		wrapSeller, werr := WrapContentKey(contentKey, opts.SellerID, sellerPub, labelContentKeyWrap)
		if werr != nil {
			return nil, werr
		}
		wrapBuyer, werr := WrapContentKey(contentKey, opts.BuyerID, opts.BuyerEncryptionPublicKey, labelContentKeyWrap)
		if werr != nil {
			return nil, werr
		}
		protected[name] = &ProtectedSection{
			Ciphertext:  ciphertext,
			Nonce:       nonce,
			Tag:         tag,
			ContentHash: hashes[name],
			KeyWraps: map[string]*WrappedKey{
				opts.SellerID: wrapSeller,
				opts.BuyerID:  wrapBuyer,
			},
		}
	}

	sigSeller, err := Sign(aggregate, opts.SellerSigningKey)
	if err != nil {
		return nil, err
	}

	return &LayeredProtectedTransaction{
		DocID:         documentID(doc),
		Sections:      protected,
		AggregateHash: aggregate,
		SigSeller:     sigSeller,
		CreatedAt:     Timestamp(),
		Meta:          DefaultSuite,
	}, nil
}

// partitionDocument splits a document by the section map, rejecting
// overlaps, unknown fields, and unassigned fields.
func partitionDocument(doc *Document, sections map[string][]string) (map[string]*Document, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: at least one section is required", ErrStructural)
	}
	owner := make(map[string]string, doc.Len())
	for name, fields := range sections {
		if name == "" {
			return nil, fmt.Errorf("%w: section name must be non-empty", ErrStructural)
		}
		for _, field := range fields {
			if prev, dup := owner[field]; dup {
				return nil, fmt.Errorf("%w: field %q assigned to both %q and %q", ErrStructural, field, prev, name)
			}
			if _, ok := doc.Get(field); !ok {
				return nil, fmt.Errorf("%w: section %q references unknown field %q", ErrStructural, name, field)
			}
			owner[field] = name
		}
	}
	for _, field := range doc.Names() {
		if _, ok := owner[field]; !ok {
			return nil, fmt.Errorf("%w: field %q is not assigned to any section", ErrStructural, field)
		}
	}
	parts := make(map[string]*Document, len(sections))
	for name := range sections {
		parts[name] = NewDocument()
	}
	// Fields keep the document's order inside their section.
	for _, field := range doc.Names() {
		v, _ := doc.Get(field)
		parts[owner[field]].Set(field, v)
	}
	return parts, nil
}

// CounterSignLayered attaches the buyer's signature to a layered
// record. The buyer opens and re-hashes every section, recomputes the
// aggregate hash from the stored metadata, and verifies the seller's
// signature before signing the aggregate itself.
func CounterSignLayered(tx *LayeredProtectedTransaction, opts *CounterSignOptions) (*LayeredProtectedTransaction, error) {
	if opts == nil || opts.BuyerID == "" {
		return nil, fmt.Errorf("sable: counter-sign options with buyer id are required")
	}
	for name, sec := range tx.Sections {
		contentKey, err := UnwrapContentKey(sec.KeyWraps[opts.BuyerID], opts.BuyerEncryptionKey, labelContentKeyWrap)
		if err != nil {
			return nil, err
		}
		canonical, err := AEADDecrypt(contentKey, sec.Nonce, sec.Ciphertext, sec.Tag, sectionAAD(name, tx.AggregateHash))
		if err != nil {
			return nil, err
		}
		if !ConstantTimeEqual(HashBytes(canonical), sec.ContentHash) {
			return nil, fmt.Errorf("%w: section %q hash does not match decrypted content", ErrHashMismatch, name)
		}
	}
	recomputed, err := storedAggregateHash(tx.Sections)
	if err != nil {
		return nil, err
	}
	if !ConstantTimeEqual(recomputed, tx.AggregateHash) {
		return nil, fmt.Errorf("%w: stored aggregate hash does not match section set", ErrHashMismatch)
	}
	if !Verify(recomputed, tx.SigSeller, opts.SellerSigningPublicKey) {
		return nil, fmt.Errorf("%w: seller signature does not cover the aggregate", ErrSignatureInvalid)
	}
	sigBuyer, err := Sign(recomputed, opts.BuyerSigningKey)
	if err != nil {
		return nil, err
	}
	signed, err := copyLayeredTransaction(tx)
	if err != nil {
		return nil, err
	}
	signed.SigBuyer = sigBuyer
	return signed, nil
}

// VerifyLayered checks the stored signatures against the stored
// aggregate hash without decrypting anything.
func VerifyLayered(tx *LayeredProtectedTransaction, sellerPub, buyerPub ed25519.PublicKey) *VerifyResult {
	res := &VerifyResult{
		SellerOK:    Verify(tx.AggregateHash, tx.SigSeller, sellerPub),
		BuyerSigned: len(tx.SigBuyer) > 0,
	}
	if res.BuyerSigned {
		res.BuyerOK = Verify(tx.AggregateHash, tx.SigBuyer, buyerPub)
	}
	return res
}

// CreateLayerShareRecords discloses the named sections to a recipient,
// one signed record per section, each scoped to exactly that section.
// Access to every requested section is resolved before any record is
// produced: if the discloser cannot unwrap even one of them, no record
// is emitted.
func CreateLayerShareRecords(tx *LayeredProtectedTransaction, sectionNames []string, opts *ShareOptions) ([]*ShareRecord, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(sectionNames) == 0 {
		return nil, fmt.Errorf("sable: at least one section name is required")
	}
	keys := make(map[string][]byte, len(sectionNames))
	for _, name := range sectionNames {
		sec, ok := tx.Sections[name]
		if !ok {
			return nil, fmt.Errorf("%w: section %q", ErrNotFound, name)
		}
		contentKey, err := resolveContentKey(sec.KeyWraps, tx.DocID, name, sec.ContentHash, &UnprotectOptions{
			PartyID:                   opts.DiscloserID,
			EncryptionKey:             opts.DiscloserEncryptionKey,
			Share:                     opts.Via,
			DiscloserSigningPublicKey: opts.ViaSigningPublicKey,
		})
		if err != nil {
			return nil, err
		}
		keys[name] = contentKey
	}
	records := make([]*ShareRecord, 0, len(sectionNames))
	for _, name := range sectionNames {
		record, err := buildShareRecord(keys[name], tx.DocID, name, tx.Sections[name].ContentHash, opts)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// UnprotectLayer decrypts a single section for a party. Beyond the
// section's own tag and recomputed content hash, the stored aggregate
// hash is re-derived from the full section set, so a party holding
// only this section's key still detects a dropped, renamed, or
// swapped-in section.
func UnprotectLayer(tx *LayeredProtectedTransaction, section string, opts *UnprotectOptions) (*Document, error) {
	if opts == nil || opts.PartyID == "" {
		return nil, fmt.Errorf("sable: unprotect options with party id are required")
	}
	sec, ok := tx.Sections[section]
	if !ok {
		return nil, fmt.Errorf("%w: section %q", ErrNotFound, section)
	}
	contentKey, err := resolveContentKey(sec.KeyWraps, tx.DocID, section, sec.ContentHash, opts)
	if err != nil {
		return nil, err
	}
	canonical, err := AEADDecrypt(contentKey, sec.Nonce, sec.Ciphertext, sec.Tag, sectionAAD(section, tx.AggregateHash))
	if err != nil {
		return nil, err
	}
	if !ConstantTimeEqual(HashBytes(canonical), sec.ContentHash) {
		return nil, fmt.Errorf("%w: section %q hash does not match decrypted content", ErrHashMismatch, section)
	}
	recomputed, err := storedAggregateHash(tx.Sections)
	if err != nil {
		return nil, err
	}
	if !ConstantTimeEqual(recomputed, tx.AggregateHash) {
		return nil, fmt.Errorf("%w: aggregate hash does not match the stored section set", ErrHashMismatch)
	}
	return DocumentFromJSON(canonical)
}

func copyLayeredTransaction(tx *LayeredProtectedTransaction) (*LayeredProtectedTransaction, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to copy layered transaction: %w", err)
	}
	var copied LayeredProtectedTransaction
	if err := json.Unmarshal(b, &copied); err != nil {
		return nil, fmt.Errorf("sable: failed to copy layered transaction: %w", err)
	}
	return &copied, nil
}
