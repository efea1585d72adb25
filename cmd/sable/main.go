// Command sable drives the transaction protection protocol from the
// command line: key generation, protecting and countersigning
// documents, issuing share records, checking, and opening protected
// records. Key material lives in a local vault directory; a relay URL
// is optional and, when given, is used to resolve party public keys
// and to publish records.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agbusiness195/sable"
	"github.com/agbusiness195/sable/keyvault"
	"github.com/agbusiness195/sable/relay"
)

var log = logrus.New()

func main() {
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "keygen":
		err = runKeygen(args)
	case "protect":
		err = runProtect(args)
	case "countersign":
		err = runCountersign(args)
	case "check":
		err = runCheck(args)
	case "unprotect":
		err = runUnprotect(args)
	case "share":
		err = runShare(args)
	case "layer-protect":
		err = runLayerProtect(args)
	case "layer-share":
		err = runLayerShare(args)
	case "layer-unprotect":
		err = runLayerUnprotect(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sable <command> [flags]

commands:
  keygen           generate an identity in the local vault
  protect          encrypt and sign a document as the seller
  countersign      verify and countersign as the buyer
  check            verify signatures and share records
  unprotect        decrypt and verify a protected document
  share            issue a whole-document share record
  layer-protect    protect a document split into sections
  layer-share      issue per-section share records
  layer-unprotect  open one section of a layered record`)
}

type commonFlags struct {
	fs       *flag.FlagSet
	vaultDir *string
	relayURL *string
}

func newFlags(name string) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &commonFlags{
		fs:       fs,
		vaultDir: fs.String("vault", defaultVaultDir(), "key vault directory"),
		relayURL: fs.String("relay", "", "relay base URL (optional)"),
	}
}

func defaultVaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sable"
	}
	return home + "/.sable"
}

func (c *commonFlags) vault() (*keyvault.Vault, error) {
	return keyvault.Open(*c.vaultDir)
}

func (c *commonFlags) client() *relay.Client {
	if *c.relayURL == "" {
		return nil
	}
	return relay.NewClient(*c.relayURL)
}

// partyKeys resolves a party's public keys from the relay when one is
// configured, falling back to a local vault identity.
func (c *commonFlags) partyKeys(vault *keyvault.Vault, id string) (*sable.PartyKeys, error) {
	if client := c.client(); client != nil {
		return client.PublicKeys(id)
	}
	identity, err := vault.Load(id)
	if err != nil {
		return nil, fmt.Errorf("resolving party %q without a relay: %w", id, err)
	}
	return identity.Public(), nil
}

func readJSONFile(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func writeJSONFile(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		_, err = fmt.Println(string(raw))
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func readDocument(path string) (*sable.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sable.DocumentFromJSON(raw)
}

func runKeygen(args []string) error {
	c := newFlags("keygen")
	id := c.fs.String("id", "", "identity id")
	c.fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("keygen: -id is required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Generate(*id)
	if err != nil {
		return err
	}
	log.WithField("id", *id).Info("identity generated")
	if client := c.client(); client != nil {
		if err := client.RegisterParty(identity.Public()); err != nil {
			return err
		}
		log.WithField("id", *id).Info("identity registered at relay")
	}
	fmt.Printf("signing public key:    %s\n", base64.StdEncoding.EncodeToString(identity.Signing.PublicKey))
	fmt.Printf("encryption public key: %s\n", base64.StdEncoding.EncodeToString(identity.Encryption.PublicKey))
	return nil
}

func runProtect(args []string) error {
	c := newFlags("protect")
	seller := c.fs.String("seller", "", "seller identity id")
	buyer := c.fs.String("buyer", "", "buyer party id")
	in := c.fs.String("in", "", "document JSON file")
	out := c.fs.String("out", "", "output file (default stdout)")
	c.fs.Parse(args)
	if *seller == "" || *buyer == "" || *in == "" {
		return fmt.Errorf("protect: -seller, -buyer and -in are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*seller)
	if err != nil {
		return err
	}
	buyerKeys, err := c.partyKeys(vault, *buyer)
	if err != nil {
		return err
	}
	doc, err := readDocument(*in)
	if err != nil {
		return err
	}
	tx, err := sable.Protect(doc, &sable.ProtectOptions{
		SellerID:                 *seller,
		SellerSigningKey:         identity.Signing.PrivateKey,
		SellerEncryptionKey:      identity.Encryption.PrivateKey,
		BuyerID:                  *buyer,
		BuyerEncryptionPublicKey: buyerKeys.EncryptionPublicKey,
	})
	if err != nil {
		return err
	}
	if client := c.client(); client != nil {
		if err := client.PutTransaction(tx); err != nil {
			return err
		}
		log.WithField("doc_id", tx.DocID).Info("transaction published to relay")
	}
	return writeJSONFile(*out, tx)
}

func runCountersign(args []string) error {
	c := newFlags("countersign")
	buyer := c.fs.String("buyer", "", "buyer identity id")
	seller := c.fs.String("seller", "", "seller party id")
	in := c.fs.String("in", "", "protected transaction file (or doc id with -relay)")
	out := c.fs.String("out", "", "output file (default stdout)")
	docID := c.fs.String("doc", "", "document id to fetch from relay")
	c.fs.Parse(args)
	if *buyer == "" || *seller == "" {
		return fmt.Errorf("countersign: -buyer and -seller are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*buyer)
	if err != nil {
		return err
	}
	sellerKeys, err := c.partyKeys(vault, *seller)
	if err != nil {
		return err
	}
	var tx *sable.ProtectedTransaction
	client := c.client()
	switch {
	case *docID != "" && client != nil:
		tx, err = client.GetTransaction(*docID)
	case *in != "":
		tx = new(sable.ProtectedTransaction)
		err = readJSONFile(*in, tx)
	default:
		return fmt.Errorf("countersign: give -in, or -doc with -relay")
	}
	if err != nil {
		return err
	}
	signed, err := sable.CounterSign(tx, &sable.CounterSignOptions{
		BuyerID:                *buyer,
		BuyerSigningKey:        identity.Signing.PrivateKey,
		BuyerEncryptionKey:     identity.Encryption.PrivateKey,
		SellerSigningPublicKey: sellerKeys.SigningPublicKey,
	})
	if err != nil {
		return err
	}
	if client != nil {
		if err := client.AttachBuyerSignature(signed.DocID, signed.SigBuyer); err != nil {
			return err
		}
		log.WithField("doc_id", signed.DocID).Info("buyer signature published to relay")
	}
	return writeJSONFile(*out, signed)
}

func runCheck(args []string) error {
	c := newFlags("check")
	seller := c.fs.String("seller", "", "seller party id")
	buyer := c.fs.String("buyer", "", "buyer party id")
	in := c.fs.String("in", "", "protected transaction file (or doc id with -relay)")
	docID := c.fs.String("doc", "", "document id to fetch from relay")
	sharesFile := c.fs.String("shares", "", "share records JSON file (optional)")
	c.fs.Parse(args)
	if *seller == "" || *buyer == "" {
		return fmt.Errorf("check: -seller and -buyer are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	var tx *sable.ProtectedTransaction
	var shares []*sable.ShareRecord
	client := c.client()
	switch {
	case *docID != "" && client != nil:
		tx, err = client.GetTransaction(*docID)
		if err != nil {
			return err
		}
		shares, err = client.Shares(*docID, "")
		if err != nil {
			return err
		}
	case *in != "":
		tx = new(sable.ProtectedTransaction)
		if err := readJSONFile(*in, tx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("check: give -in, or -doc with -relay")
	}
	if *sharesFile != "" {
		if err := readJSONFile(*sharesFile, &shares); err != nil {
			return err
		}
	}
	var dir sable.Directory
	if client != nil {
		dir = client
	} else {
		static := sable.StaticDirectory{}
		for _, id := range []string{*seller, *buyer} {
			keys, err := c.partyKeys(vault, id)
			if err != nil {
				return err
			}
			static[id] = keys
		}
		dir = static
	}
	result, err := sable.Check(tx, dir, *seller, *buyer, shares)
	if err != nil {
		return err
	}
	return writeJSONFile("", result)
}

func runUnprotect(args []string) error {
	c := newFlags("unprotect")
	party := c.fs.String("id", "", "identity id performing the decryption")
	in := c.fs.String("in", "", "protected transaction file")
	out := c.fs.String("out", "", "output file (default stdout)")
	shareFile := c.fs.String("share", "", "share record file granting access (optional)")
	discloser := c.fs.String("discloser", "", "party id that signed the share record")
	c.fs.Parse(args)
	if *party == "" || *in == "" {
		return fmt.Errorf("unprotect: -id and -in are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*party)
	if err != nil {
		return err
	}
	tx := new(sable.ProtectedTransaction)
	if err := readJSONFile(*in, tx); err != nil {
		return err
	}
	opts := &sable.UnprotectOptions{
		PartyID:       *party,
		EncryptionKey: identity.Encryption.PrivateKey,
	}
	if *shareFile != "" {
		if *discloser == "" {
			return fmt.Errorf("unprotect: -discloser is required with -share")
		}
		opts.Share = new(sable.ShareRecord)
		if err := readJSONFile(*shareFile, opts.Share); err != nil {
			return err
		}
		discloserKeys, err := c.partyKeys(vault, *discloser)
		if err != nil {
			return err
		}
		opts.DiscloserSigningPublicKey = discloserKeys.SigningPublicKey
	}
	doc, err := sable.Unprotect(tx, opts)
	if err != nil {
		return err
	}
	return writeJSONFile(*out, doc)
}

func runShare(args []string) error {
	c := newFlags("share")
	discloser := c.fs.String("from", "", "discloser identity id")
	recipient := c.fs.String("to", "", "recipient party id")
	in := c.fs.String("in", "", "protected transaction file")
	out := c.fs.String("out", "", "output file (default stdout)")
	c.fs.Parse(args)
	if *discloser == "" || *recipient == "" || *in == "" {
		return fmt.Errorf("share: -from, -to and -in are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*discloser)
	if err != nil {
		return err
	}
	recipientKeys, err := c.partyKeys(vault, *recipient)
	if err != nil {
		return err
	}
	tx := new(sable.ProtectedTransaction)
	if err := readJSONFile(*in, tx); err != nil {
		return err
	}
	rec, err := sable.CreateShareRecord(tx, &sable.ShareOptions{
		DiscloserID:                  *discloser,
		DiscloserSigningKey:          identity.Signing.PrivateKey,
		DiscloserEncryptionKey:       identity.Encryption.PrivateKey,
		RecipientID:                  *recipient,
		RecipientEncryptionPublicKey: recipientKeys.EncryptionPublicKey,
	})
	if err != nil {
		return err
	}
	if client := c.client(); client != nil {
		if err := client.PutShare(rec); err != nil {
			return err
		}
		log.WithField("share_id", rec.ShareID).Info("share record published to relay")
	}
	return writeJSONFile(*out, rec)
}

func runLayerProtect(args []string) error {
	c := newFlags("layer-protect")
	seller := c.fs.String("seller", "", "seller identity id")
	buyer := c.fs.String("buyer", "", "buyer party id")
	in := c.fs.String("in", "", "document JSON file")
	sectionsFile := c.fs.String("sections", "", `section map JSON file, {"name":["field",...]}`)
	out := c.fs.String("out", "", "output file (default stdout)")
	c.fs.Parse(args)
	if *seller == "" || *buyer == "" || *in == "" || *sectionsFile == "" {
		return fmt.Errorf("layer-protect: -seller, -buyer, -in and -sections are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*seller)
	if err != nil {
		return err
	}
	buyerKeys, err := c.partyKeys(vault, *buyer)
	if err != nil {
		return err
	}
	doc, err := readDocument(*in)
	if err != nil {
		return err
	}
	var sections map[string][]string
	if err := readJSONFile(*sectionsFile, &sections); err != nil {
		return err
	}
	tx, err := sable.ProtectWithLayers(doc, sections, &sable.ProtectOptions{
		SellerID:                 *seller,
		SellerSigningKey:         identity.Signing.PrivateKey,
		SellerEncryptionKey:      identity.Encryption.PrivateKey,
		BuyerID:                  *buyer,
		BuyerEncryptionPublicKey: buyerKeys.EncryptionPublicKey,
	})
	if err != nil {
		return err
	}
	if client := c.client(); client != nil {
		if err := client.PutLayeredTransaction(tx); err != nil {
			return err
		}
		log.WithField("doc_id", tx.DocID).Info("layered transaction published to relay")
	}
	return writeJSONFile(*out, tx)
}

func runLayerShare(args []string) error {
	c := newFlags("layer-share")
	discloser := c.fs.String("from", "", "discloser identity id")
	recipient := c.fs.String("to", "", "recipient party id")
	in := c.fs.String("in", "", "layered transaction file")
	sections := c.fs.String("sections", "", "comma-separated section names")
	out := c.fs.String("out", "", "output file (default stdout)")
	c.fs.Parse(args)
	if *discloser == "" || *recipient == "" || *in == "" || *sections == "" {
		return fmt.Errorf("layer-share: -from, -to, -in and -sections are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*discloser)
	if err != nil {
		return err
	}
	recipientKeys, err := c.partyKeys(vault, *recipient)
	if err != nil {
		return err
	}
	tx := new(sable.LayeredProtectedTransaction)
	if err := readJSONFile(*in, tx); err != nil {
		return err
	}
	names := strings.Split(*sections, ",")
	records, err := sable.CreateLayerShareRecords(tx, names, &sable.ShareOptions{
		DiscloserID:                  *discloser,
		DiscloserSigningKey:          identity.Signing.PrivateKey,
		DiscloserEncryptionKey:       identity.Encryption.PrivateKey,
		RecipientID:                  *recipient,
		RecipientEncryptionPublicKey: recipientKeys.EncryptionPublicKey,
	})
	if err != nil {
		return err
	}
	if client := c.client(); client != nil {
		for _, rec := range records {
			if err := client.PutShare(rec); err != nil {
				return err
			}
		}
		log.WithField("count", len(records)).Info("share records published to relay")
	}
	return writeJSONFile(*out, records)
}

func runLayerUnprotect(args []string) error {
	c := newFlags("layer-unprotect")
	party := c.fs.String("id", "", "identity id performing the decryption")
	in := c.fs.String("in", "", "layered transaction file")
	section := c.fs.String("section", "", "section name to open")
	out := c.fs.String("out", "", "output file (default stdout)")
	shareFile := c.fs.String("share", "", "share record file granting access (optional)")
	discloser := c.fs.String("discloser", "", "party id that signed the share record")
	c.fs.Parse(args)
	if *party == "" || *in == "" || *section == "" {
		return fmt.Errorf("layer-unprotect: -id, -in and -section are required")
	}
	vault, err := c.vault()
	if err != nil {
		return err
	}
	identity, err := vault.Load(*party)
	if err != nil {
		return err
	}
	tx := new(sable.LayeredProtectedTransaction)
	if err := readJSONFile(*in, tx); err != nil {
		return err
	}
	opts := &sable.UnprotectOptions{
		PartyID:       *party,
		EncryptionKey: identity.Encryption.PrivateKey,
	}
	if *shareFile != "" {
		if *discloser == "" {
			return fmt.Errorf("layer-unprotect: -discloser is required with -share")
		}
		opts.Share = new(sable.ShareRecord)
		if err := readJSONFile(*shareFile, opts.Share); err != nil {
			return err
		}
		discloserKeys, err := c.partyKeys(vault, *discloser)
		if err != nil {
			return err
		}
		opts.DiscloserSigningPublicKey = discloserKeys.SigningPublicKey
	}
	doc, err := sable.UnprotectLayer(tx, *section, opts)
	if err != nil {
		return err
	}
	return writeJSONFile(*out, doc)
}
