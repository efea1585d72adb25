package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/agbusiness195/sable"
)

const (
	partyPrefix = "party/"
	txPrefix    = "tx/"
	sharePrefix = "share/"
)

// BadgerStore is a Store persisted in a Badger key-value database.
// Parties live under party/<id>, transactions under tx/<id>, and
// share records under share/<docID>/<shareID>.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if needed) a Badger database at
// path and returns a Store over it.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("relay: opening badger store at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// PutParty implements Store.
func (s *BadgerStore) PutParty(p *sable.PartyKeys) error {
	if err := p.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("relay: encoding party %q: %w", p.ID, err)
	}
	return s.putOnce(partyPrefix+p.ID, raw, fmt.Sprintf("party %q", p.ID))
}

// GetParty implements Store.
func (s *BadgerStore) GetParty(id string) (*sable.PartyKeys, error) {
	raw, err := s.get(partyPrefix+id, fmt.Sprintf("party %q", id))
	if err != nil {
		return nil, err
	}
	var p sable.PartyKeys
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("relay: decoding party %q: %w", id, err)
	}
	return &p, nil
}

// PutTransaction implements Store.
func (s *BadgerStore) PutTransaction(docID string, record []byte) error {
	if docID == "" {
		return fmt.Errorf("relay: document id must be non-empty")
	}
	return s.putOnce(txPrefix+docID, record, fmt.Sprintf("transaction %q", docID))
}

// GetTransaction implements Store.
func (s *BadgerStore) GetTransaction(docID string) ([]byte, error) {
	return s.get(txPrefix+docID, fmt.Sprintf("transaction %q", docID))
}

// UpdateTransaction implements Store.
func (s *BadgerStore) UpdateTransaction(docID string, record []byte) error {
	key := []byte(txPrefix + docID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: transaction %q", sable.ErrNotFound, docID)
			}
			return fmt.Errorf("relay: reading transaction %q: %w", docID, err)
		}
		return txn.Set(key, record)
	})
}

// PutShare implements Store.
func (s *BadgerStore) PutShare(env *ShareEnvelope) error {
	if env == nil || env.ShareID == "" || env.DocID == "" {
		return fmt.Errorf("relay: share id and document id must be non-empty")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encoding share %q: %w", env.ShareID, err)
	}
	key := []byte(sharePrefix + env.DocID + "/" + env.ShareID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
}

// ListShares implements Store.
func (s *BadgerStore) ListShares(docID, section string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	prefix := []byte(sharePrefix + docID + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("relay: reading share record: %w", err)
			}
			var env ShareEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("relay: decoding share record: %w", err)
			}
			if section != "" && env.Section != section {
				continue
			}
			out = append(out, env.Record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) putOnce(key string, value []byte, what string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrExists, what)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("relay: reading %s: %w", what, err)
		}
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStore) get(key, what string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", sable.ErrNotFound, what)
			}
			return fmt.Errorf("relay: reading %s: %w", what, err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
