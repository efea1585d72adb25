package sable

import (
	"errors"
	"testing"
)

func layeredTestDocument() *Document {
	return NewDocument().
		Set("id", String("tx-layer-1")).
		Set("product", String("Palladium")).
		Set("amount", Int(1200000)).
		Set("units", Int(5000)).
		Set("route", String("SEA->SFO")).
		Set("warehouse", String("WH-22")).
		Set("timestamp", Int(999999))
}

func layeredTestSections() map[string][]string {
	return map[string][]string{
		"pricing":   {"product", "amount", "units"},
		"logistics": {"route", "warehouse"},
		"header":    {"id", "timestamp"},
	}
}

func protectLayeredTestDocument(t *testing.T, seller, buyer *testParty) *LayeredProtectedTransaction {
	t.Helper()
	tx, err := ProtectWithLayers(layeredTestDocument(), layeredTestSections(), &ProtectOptions{
		SellerID:                 seller.id,
		SellerSigningKey:         seller.sign.PrivateKey,
		SellerEncryptionKey:      seller.enc.PrivateKey,
		BuyerID:                  buyer.id,
		BuyerEncryptionPublicKey: buyer.enc.PublicKey,
	})
	if err != nil {
		t.Fatalf("ProtectWithLayers() error: %v", err)
	}
	return tx
}

func TestProtectWithLayersStructure(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx := protectLayeredTestDocument(t, seller, buyer)

	if tx.DocID != "tx-layer-1" {
		t.Errorf("DocID = %q, want %q", tx.DocID, "tx-layer-1")
	}
	if len(tx.Sections) != 3 {
		t.Fatalf("len(Sections) = %d, want 3", len(tx.Sections))
	}
	for name, sec := range tx.Sections {
		if len(sec.KeyWraps) != 2 {
			t.Errorf("section %q: len(KeyWraps) = %d, want 2", name, len(sec.KeyWraps))
		}
		if len(sec.ContentHash) != 32 {
			t.Errorf("section %q: content hash length = %d, want 32", name, len(sec.ContentHash))
		}
	}
	if !Verify(tx.AggregateHash, tx.SigSeller, seller.sign.PublicKey) {
		t.Error("seller signature does not verify against aggregate hash")
	}
}

func TestPartitionValidation(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	opts := &ProtectOptions{
		SellerID:                 seller.id,
		SellerSigningKey:         seller.sign.PrivateKey,
		SellerEncryptionKey:      seller.enc.PrivateKey,
		BuyerID:                  buyer.id,
		BuyerEncryptionPublicKey: buyer.enc.PublicKey,
	}
	doc := layeredTestDocument()

	cases := map[string]map[string][]string{
		"overlapping field": {
			"pricing":   {"product", "amount", "units"},
			"logistics": {"route", "warehouse", "amount"},
			"header":    {"id", "timestamp"},
		},
		"unknown field": {
			"pricing":   {"product", "amount", "units", "ghost"},
			"logistics": {"route", "warehouse"},
			"header":    {"id", "timestamp"},
		},
		"unassigned field": {
			"pricing": {"product", "amount", "units"},
			"header":  {"id", "timestamp"},
		},
		"empty section map": {},
	}
	for name, sections := range cases {
		if _, err := ProtectWithLayers(doc, sections, opts); !errors.Is(err, ErrStructural) {
			t.Errorf("%s: error = %v, want ErrStructural", name, err)
		}
	}
}

func TestUnprotectLayerDirect(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx := protectLayeredTestDocument(t, seller, buyer)

	pricing, err := UnprotectLayer(tx, "pricing", &UnprotectOptions{
		PartyID:       seller.id,
		EncryptionKey: seller.enc.PrivateKey,
	})
	if err != nil {
		t.Fatalf("UnprotectLayer() error: %v", err)
	}
	amount, ok := pricing.Get("amount")
	if !ok {
		t.Fatal("pricing section is missing field amount")
	}
	if i, _ := amount.IntValue(); i != 1200000 {
		t.Errorf("amount = %d, want 1200000", i)
	}
	if _, ok := pricing.Get("route"); ok {
		t.Error("pricing section leaked a logistics field")
	}
}

func TestUnprotectLayerUnknownSection(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx := protectLayeredTestDocument(t, seller, buyer)

	_, err := UnprotectLayer(tx, "payments", &UnprotectOptions{
		PartyID:       seller.id,
		EncryptionKey: seller.enc.PrivateKey,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCounterSignLayered(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx := protectLayeredTestDocument(t, seller, buyer)

	signed, err := CounterSignLayered(tx, &CounterSignOptions{
		BuyerID:                buyer.id,
		BuyerSigningKey:        buyer.sign.PrivateKey,
		BuyerEncryptionKey:     buyer.enc.PrivateKey,
		SellerSigningPublicKey: seller.sign.PublicKey,
	})
	if err != nil {
		t.Fatalf("CounterSignLayered() error: %v", err)
	}
	if signed.State() != StateBuyerCountersigned {
		t.Errorf("State() = %q, want %q", signed.State(), StateBuyerCountersigned)
	}
	res := VerifyLayered(signed, seller.sign.PublicKey, buyer.sign.PublicKey)
	if !res.SellerOK || !res.BuyerOK {
		t.Errorf("VerifyLayered() = %+v, want both signatures valid", res)
	}

	impostor := newTestParty(t, "impostor")
	_, err = CounterSignLayered(tx, &CounterSignOptions{
		BuyerID:                buyer.id,
		BuyerSigningKey:        buyer.sign.PrivateKey,
		BuyerEncryptionKey:     buyer.enc.PrivateKey,
		SellerSigningPublicKey: impostor.sign.PublicKey,
	})
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("impostor seller key: error = %v, want ErrSignatureInvalid", err)
	}
}

func TestLayerShareScoping(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	auditor := newTestParty(t, "auditor")
	tx := protectLayeredTestDocument(t, seller, buyer)

	shares, err := CreateLayerShareRecords(tx, []string{"pricing"}, &ShareOptions{
		DiscloserID:                  buyer.id,
		DiscloserSigningKey:          buyer.sign.PrivateKey,
		DiscloserEncryptionKey:       buyer.enc.PrivateKey,
		RecipientID:                  auditor.id,
		RecipientEncryptionPublicKey: auditor.enc.PublicKey,
	})
	if err != nil {
		t.Fatalf("CreateLayerShareRecords() error: %v", err)
	}
	if len(shares) != 1 {
		t.Fatalf("len(shares) = %d, want 1", len(shares))
	}
	share := shares[0]
	if share.Section != "pricing" {
		t.Errorf("share.Section = %q, want %q", share.Section, "pricing")
	}

	pricing, err := UnprotectLayer(tx, "pricing", &UnprotectOptions{
		PartyID:                   auditor.id,
		EncryptionKey:             auditor.enc.PrivateKey,
		Share:                     share,
		DiscloserSigningPublicKey: buyer.sign.PublicKey,
	})
	if err != nil {
		t.Fatalf("UnprotectLayer() via share error: %v", err)
	}
	if _, ok := pricing.Get("product"); !ok {
		t.Error("disclosed pricing section missing field product")
	}

	// The pricing share must not open logistics.
	_, err = UnprotectLayer(tx, "logistics", &UnprotectOptions{
		PartyID:                   auditor.id,
		EncryptionKey:             auditor.enc.PrivateKey,
		Share:                     share,
		DiscloserSigningPublicKey: buyer.sign.PublicKey,
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("cross-section share use: error = %v, want ErrAccessDenied", err)
	}

	// And no share at all certainly does not.
	_, err = UnprotectLayer(tx, "logistics", &UnprotectOptions{
		PartyID:       auditor.id,
		EncryptionKey: auditor.enc.PrivateKey,
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("no grant: error = %v, want ErrAccessDenied", err)
	}
}

func TestLayerShareDeniedBeforeAnyRecordEmitted(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	mallory := newTestParty(t, "mallory")
	auditor := newTestParty(t, "auditor")
	tx := protectLayeredTestDocument(t, seller, buyer)

	shares, err := CreateLayerShareRecords(tx, []string{"pricing", "logistics"}, &ShareOptions{
		DiscloserID:                  mallory.id,
		DiscloserSigningKey:          mallory.sign.PrivateKey,
		DiscloserEncryptionKey:       mallory.enc.PrivateKey,
		RecipientID:                  auditor.id,
		RecipientEncryptionPublicKey: auditor.enc.PublicKey,
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("error = %v, want ErrAccessDenied", err)
	}
	if shares != nil {
		t.Error("share records emitted despite denied access")
	}
}

func TestAggregateDetectsDroppedSection(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx := protectLayeredTestDocument(t, seller, buyer)

	delete(tx.Sections, "logistics")

	_, err := UnprotectLayer(tx, "pricing", &UnprotectOptions{
		PartyID:       buyer.id,
		EncryptionKey: buyer.enc.PrivateKey,
	})
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("error = %v, want ErrHashMismatch", err)
	}
}

func TestAggregateDetectsRenamedSection(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx := protectLayeredTestDocument(t, seller, buyer)

	tx.Sections["shipping"] = tx.Sections["logistics"]
	delete(tx.Sections, "logistics")

	// Opening an untouched section still detects the rename.
	_, err := UnprotectLayer(tx, "pricing", &UnprotectOptions{
		PartyID:       buyer.id,
		EncryptionKey: buyer.enc.PrivateKey,
	})
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("error = %v, want ErrHashMismatch", err)
	}
}

func TestAggregateDetectsForeignRecipient(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	mallory := newTestParty(t, "mallory")
	tx := protectLayeredTestDocument(t, seller, buyer)

	// Grafting an extra wrap entry changes the recipient set bound into
	// the aggregate.
	tx.Sections["pricing"].KeyWraps[mallory.id] = tx.Sections["pricing"].KeyWraps[buyer.id]

	_, err := UnprotectLayer(tx, "pricing", &UnprotectOptions{
		PartyID:       buyer.id,
		EncryptionKey: buyer.enc.PrivateKey,
	})
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("error = %v, want ErrHashMismatch", err)
	}
}

func TestSectionCiphertextCannotBeSwappedAcrossTransactions(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	tx1 := protectLayeredTestDocument(t, seller, buyer)

	otherDoc := NewDocument().
		Set("id", String("tx-layer-2")).
		Set("product", String("Rhodium")).
		Set("amount", Int(42)).
		Set("units", Int(1)).
		Set("route", String("LHR->JFK")).
		Set("warehouse", String("WH-1")).
		Set("timestamp", Int(1))
	tx2, err := ProtectWithLayers(otherDoc, layeredTestSections(), &ProtectOptions{
		SellerID:                 seller.id,
		SellerSigningKey:         seller.sign.PrivateKey,
		SellerEncryptionKey:      seller.enc.PrivateKey,
		BuyerID:                  buyer.id,
		BuyerEncryptionPublicKey: buyer.enc.PublicKey,
	})
	if err != nil {
		t.Fatalf("ProtectWithLayers() error: %v", err)
	}

	// Transplant tx2's pricing section (keys, hash, and all) into tx1.
	tx1.Sections["pricing"] = tx2.Sections["pricing"]

	_, err = UnprotectLayer(tx1, "pricing", &UnprotectOptions{
		PartyID:       buyer.id,
		EncryptionKey: buyer.enc.PrivateKey,
	})
	// Either the AAD (bound to tx2's aggregate) or the aggregate
	// recomputation must reject it; it must never decrypt cleanly.
	if !errors.Is(err, ErrAuthFailure) && !errors.Is(err, ErrHashMismatch) {
		t.Errorf("error = %v, want ErrAuthFailure or ErrHashMismatch", err)
	}
}

func TestLayeredSharePinnedToSectionContent(t *testing.T) {
	seller := newTestParty(t, "seller")
	buyer := newTestParty(t, "buyer")
	auditor := newTestParty(t, "auditor")
	tx := protectLayeredTestDocument(t, seller, buyer)

	shares, err := CreateLayerShareRecords(tx, []string{"pricing"}, &ShareOptions{
		DiscloserID:                  buyer.id,
		DiscloserSigningKey:          buyer.sign.PrivateKey,
		DiscloserEncryptionKey:       buyer.enc.PrivateKey,
		RecipientID:                  auditor.id,
		RecipientEncryptionPublicKey: auditor.enc.PublicKey,
	})
	if err != nil {
		t.Fatalf("CreateLayerShareRecords() error: %v", err)
	}
	if !ConstantTimeEqual(shares[0].SectionHash, tx.Sections["pricing"].ContentHash) {
		t.Error("share record is not pinned to the section content hash")
	}
}
