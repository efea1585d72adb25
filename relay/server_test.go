package relay

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agbusiness195/sable"
)

type relayParty struct {
	id   string
	sign *sable.KeyPair
	enc  *sable.EncryptionKeyPair
}

func newRelayParty(t *testing.T, id string) *relayParty {
	t.Helper()
	sign, err := sable.GenerateSigningKeyPair()
	require.NoError(t, err)
	enc, err := sable.GenerateEncryptionKeyPair()
	require.NoError(t, err)
	return &relayParty{id: id, sign: sign, enc: enc}
}

func (p *relayParty) public() *sable.PartyKeys {
	return &sable.PartyKeys{
		ID:                  p.id,
		SigningPublicKey:    p.sign.PublicKey,
		EncryptionPublicKey: p.enc.PublicKey,
	}
}

func newTestRelay(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(NewMemoryStore()))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func protectForRelay(t *testing.T, seller, buyer *relayParty) *sable.ProtectedTransaction {
	t.Helper()
	doc := sable.NewDocument()
	doc.Set("id", sable.String("tx-relay-1"))
	doc.Set("amount", sable.Int(2500))
	doc.Set("currency", sable.String("EUR"))
	tx, err := sable.Protect(doc, &sable.ProtectOptions{
		SellerID:                 seller.id,
		SellerSigningKey:         seller.sign.PrivateKey,
		SellerEncryptionKey:      seller.enc.PrivateKey,
		BuyerID:                  buyer.id,
		BuyerEncryptionPublicKey: buyer.enc.PublicKey,
	})
	require.NoError(t, err)
	return tx
}

func TestServerHealth(t *testing.T) {
	client := newTestRelay(t)
	require.NoError(t, client.Health())
}

func TestServerPartyRegistry(t *testing.T) {
	client := newTestRelay(t)
	alice := newRelayParty(t, "alice")

	require.NoError(t, client.RegisterParty(alice.public()))

	got, err := client.PublicKeys("alice")
	require.NoError(t, err)
	require.Equal(t, alice.public(), got)

	err = client.RegisterParty(alice.public())
	require.ErrorIs(t, err, ErrExists)

	_, err = client.PublicKeys("nobody")
	require.ErrorIs(t, err, sable.ErrNotFound)
}

func TestServerTransactionRoundTrip(t *testing.T) {
	client := newTestRelay(t)
	seller := newRelayParty(t, "seller")
	buyer := newRelayParty(t, "buyer")
	tx := protectForRelay(t, seller, buyer)

	require.NoError(t, client.PutTransaction(tx))

	got, err := client.GetTransaction(tx.DocID)
	require.NoError(t, err)
	require.Equal(t, tx, got)

	err = client.PutTransaction(tx)
	require.ErrorIs(t, err, ErrExists)

	_, err = client.GetTransaction("tx-missing")
	require.ErrorIs(t, err, sable.ErrNotFound)
}

func TestServerCountersignFlow(t *testing.T) {
	client := newTestRelay(t)
	seller := newRelayParty(t, "seller")
	buyer := newRelayParty(t, "buyer")
	tx := protectForRelay(t, seller, buyer)
	require.NoError(t, client.PutTransaction(tx))

	// The buyer fetches, countersigns locally, and pushes only the
	// signature back.
	fetched, err := client.GetTransaction(tx.DocID)
	require.NoError(t, err)
	signed, err := sable.CounterSign(fetched, &sable.CounterSignOptions{
		BuyerID:                buyer.id,
		BuyerSigningKey:        buyer.sign.PrivateKey,
		BuyerEncryptionKey:     buyer.enc.PrivateKey,
		SellerSigningPublicKey: seller.sign.PublicKey,
	})
	require.NoError(t, err)
	require.NoError(t, client.AttachBuyerSignature(tx.DocID, signed.SigBuyer))

	final, err := client.GetTransaction(tx.DocID)
	require.NoError(t, err)
	require.Equal(t, sable.StateBuyerCountersigned, final.State())

	result := sable.VerifyTransaction(final, seller.sign.PublicKey, buyer.sign.PublicKey)
	require.True(t, result.SellerOK)
	require.True(t, result.BuyerSigned)
	require.True(t, result.BuyerOK)
}

func TestServerCountersignUnknownTransaction(t *testing.T) {
	client := newTestRelay(t)
	err := client.AttachBuyerSignature("tx-missing", []byte("sig"))
	require.ErrorIs(t, err, sable.ErrNotFound)
}

func TestServerShareRecords(t *testing.T) {
	client := newTestRelay(t)
	seller := newRelayParty(t, "seller")
	buyer := newRelayParty(t, "buyer")
	auditor := newRelayParty(t, "auditor")
	tx := protectForRelay(t, seller, buyer)
	require.NoError(t, client.PutTransaction(tx))

	rec, err := sable.CreateShareRecord(tx, &sable.ShareOptions{
		DiscloserID:                  seller.id,
		DiscloserSigningKey:          seller.sign.PrivateKey,
		DiscloserEncryptionKey:       seller.enc.PrivateKey,
		RecipientID:                  auditor.id,
		RecipientEncryptionPublicKey: auditor.enc.PublicKey,
	})
	require.NoError(t, err)
	require.NoError(t, client.PutShare(rec))

	shares, err := client.Shares(tx.DocID, "")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	require.Equal(t, rec, shares[0])

	// The record's signature survives the relay round trip.
	require.NoError(t, sable.VerifyShareRecord(shares[0], seller.sign.PublicKey))

	// The auditor can open the document with the relayed record.
	fetched, err := client.GetTransaction(tx.DocID)
	require.NoError(t, err)
	doc, err := sable.Unprotect(fetched, &sable.UnprotectOptions{
		PartyID:                   auditor.id,
		EncryptionKey:             auditor.enc.PrivateKey,
		Share:                     shares[0],
		DiscloserSigningPublicKey: seller.sign.PublicKey,
	})
	require.NoError(t, err)
	amount, ok := doc.Get("amount")
	require.True(t, ok)
	n, ok := amount.IntValue()
	require.True(t, ok)
	require.Equal(t, int64(2500), n)

	none, err := client.Shares(tx.DocID, "pricing")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestServerRejectsMismatchedShareDocID(t *testing.T) {
	client := newTestRelay(t)
	seller := newRelayParty(t, "seller")
	buyer := newRelayParty(t, "buyer")
	auditor := newRelayParty(t, "auditor")
	tx := protectForRelay(t, seller, buyer)
	require.NoError(t, client.PutTransaction(tx))

	rec, err := sable.CreateShareRecord(tx, &sable.ShareOptions{
		DiscloserID:                  seller.id,
		DiscloserSigningKey:          seller.sign.PrivateKey,
		DiscloserEncryptionKey:       seller.enc.PrivateKey,
		RecipientID:                  auditor.id,
		RecipientEncryptionPublicKey: auditor.enc.PublicKey,
	})
	require.NoError(t, err)
	forged := *rec
	forged.DocID = "tx-other"
	err = client.PutShare(&forged)
	require.Error(t, err)
	require.NotErrorIs(t, err, sable.ErrNotFound)
}

func TestClientAsDirectory(t *testing.T) {
	client := newTestRelay(t)
	seller := newRelayParty(t, "seller")
	buyer := newRelayParty(t, "buyer")
	require.NoError(t, client.RegisterParty(seller.public()))
	require.NoError(t, client.RegisterParty(buyer.public()))

	tx := protectForRelay(t, seller, buyer)

	var dir sable.Directory = client
	result, err := sable.Check(tx, dir, seller.id, buyer.id, nil)
	require.NoError(t, err)
	require.True(t, result.Seller.SellerOK)
	require.False(t, result.Seller.BuyerSigned)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int
	inner := NewServer(NewMemoryStore())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(4))
	require.NoError(t, client.Health())
	require.Equal(t, 3, calls)
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(4))
	_, err := client.GetTransaction("tx-1")
	require.ErrorIs(t, err, sable.ErrNotFound)
	require.Equal(t, 1, calls)
}
