// Package relay provides the untrusted storage/relay service for
// protected transactions, share records, and party public keys, plus
// an HTTP client for it. The relay stores and returns opaque records
// keyed by identifier: it performs no cryptographic interpretation and
// holds no key material, so a compromised relay can deny service but
// never read or undetectably alter a transaction.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/agbusiness195/sable"
)

// ErrExists reports an attempt to register a party or transaction id
// that is already stored.
var ErrExists = errors.New("relay: already exists")

// ShareEnvelope is a stored share record plus the identifiers the
// relay indexes it by. Record stays opaque.
type ShareEnvelope struct {
	ShareID string          `json:"share_id"`
	DocID   string          `json:"doc_id"`
	Section string          `json:"section,omitempty"`
	Record  json.RawMessage `json:"record"`
}

// Store is the persistence interface for the relay service. Lookups
// for missing records return sable.ErrNotFound unchanged.
type Store interface {
	// PutParty registers a party's public keys. Fails with ErrExists
	// for an already-registered id.
	PutParty(p *sable.PartyKeys) error

	// GetParty returns a party's public keys.
	GetParty(id string) (*sable.PartyKeys, error)

	// PutTransaction stores an opaque protected record under its
	// document id. Fails with ErrExists for a duplicate id.
	PutTransaction(docID string, record []byte) error

	// GetTransaction returns the stored record for a document id.
	GetTransaction(docID string) ([]byte, error)

	// UpdateTransaction replaces an existing record (buyer signature
	// attachment). Fails with sable.ErrNotFound for an unknown id.
	UpdateTransaction(docID string, record []byte) error

	// PutShare stores a share record under its document id.
	PutShare(env *ShareEnvelope) error

	// ListShares returns the stored share records for a document,
	// optionally filtered by section name.
	ListShares(docID, section string) ([]json.RawMessage, error)

	// Close releases underlying resources.
	Close() error
}

// MemoryStore is an in-memory Store backed by maps. It is safe for
// concurrent use; all stored and returned byte slices are copied so
// callers cannot mutate relay state.
type MemoryStore struct {
	mu           sync.RWMutex
	parties      map[string]*sable.PartyKeys
	transactions map[string][]byte
	shares       map[string][]*ShareEnvelope
}

// NewMemoryStore creates a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parties:      make(map[string]*sable.PartyKeys),
		transactions: make(map[string][]byte),
		shares:       make(map[string][]*ShareEnvelope),
	}
}

// PutParty implements Store.
func (s *MemoryStore) PutParty(p *sable.PartyKeys) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[p.ID]; ok {
		return fmt.Errorf("%w: party %q", ErrExists, p.ID)
	}
	s.parties[p.ID] = copyParty(p)
	return nil
}

// GetParty implements Store.
func (s *MemoryStore) GetParty(id string) (*sable.PartyKeys, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parties[id]
	if !ok {
		return nil, fmt.Errorf("%w: party %q", sable.ErrNotFound, id)
	}
	return copyParty(p), nil
}

// PutTransaction implements Store.
func (s *MemoryStore) PutTransaction(docID string, record []byte) error {
	if docID == "" {
		return fmt.Errorf("relay: document id must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[docID]; ok {
		return fmt.Errorf("%w: transaction %q", ErrExists, docID)
	}
	s.transactions[docID] = append([]byte(nil), record...)
	return nil
}

// GetTransaction implements Store.
func (s *MemoryStore) GetTransaction(docID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.transactions[docID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %q", sable.ErrNotFound, docID)
	}
	return append([]byte(nil), record...), nil
}

// UpdateTransaction implements Store.
func (s *MemoryStore) UpdateTransaction(docID string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[docID]; !ok {
		return fmt.Errorf("%w: transaction %q", sable.ErrNotFound, docID)
	}
	s.transactions[docID] = append([]byte(nil), record...)
	return nil
}

// PutShare implements Store.
func (s *MemoryStore) PutShare(env *ShareEnvelope) error {
	if env == nil || env.ShareID == "" || env.DocID == "" {
		return fmt.Errorf("relay: share id and document id must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := &ShareEnvelope{
		ShareID: env.ShareID,
		DocID:   env.DocID,
		Section: env.Section,
		Record:  append(json.RawMessage(nil), env.Record...),
	}
	s.shares[env.DocID] = append(s.shares[env.DocID], copied)
	return nil
}

// ListShares implements Store.
func (s *MemoryStore) ListShares(docID, section string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []json.RawMessage
	for _, env := range s.shares[docID] {
		if section != "" && env.Section != section {
			continue
		}
		out = append(out, append(json.RawMessage(nil), env.Record...))
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func copyParty(p *sable.PartyKeys) *sable.PartyKeys {
	return &sable.PartyKeys{
		ID:                  p.ID,
		SigningPublicKey:    append([]byte(nil), p.SigningPublicKey...),
		EncryptionPublicKey: append([]byte(nil), p.EncryptionPublicKey...),
	}
}
