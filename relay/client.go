package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agbusiness195/sable"
)

// Client talks to a relay server over HTTP. Transient failures
// (connection errors, 5xx responses) are retried with exponential
// backoff; 4xx responses fail immediately. Client implements
// sable.Directory, so a relay can serve as the key directory for
// Check and share verification.
type Client struct {
	base    string
	http    *http.Client
	retries uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRetries sets the maximum number of retry attempts per request.
func WithRetries(n uint64) ClientOption {
	return func(cl *Client) { cl.retries = n }
}

// NewClient creates a client for the relay at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:    baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the relay is reachable and answering.
func (c *Client) Health() error {
	return c.do(http.MethodGet, "/healthz", nil, nil)
}

// RegisterParty publishes a party's public keys.
func (c *Client) RegisterParty(p *sable.PartyKeys) error {
	return c.do(http.MethodPost, "/parties", p, nil)
}

// PublicKeys implements sable.Directory.
func (c *Client) PublicKeys(partyID string) (*sable.PartyKeys, error) {
	var p sable.PartyKeys
	if err := c.do(http.MethodGet, "/parties/"+url.PathEscape(partyID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutTransaction stores a protected transaction on the relay.
func (c *Client) PutTransaction(tx *sable.ProtectedTransaction) error {
	return c.do(http.MethodPost, "/transactions", tx, nil)
}

// GetTransaction fetches a protected transaction by document id.
func (c *Client) GetTransaction(docID string) (*sable.ProtectedTransaction, error) {
	var tx sable.ProtectedTransaction
	if err := c.do(http.MethodGet, "/transactions/"+url.PathEscape(docID), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// PutLayeredTransaction stores a layered protected transaction.
func (c *Client) PutLayeredTransaction(tx *sable.LayeredProtectedTransaction) error {
	return c.do(http.MethodPost, "/transactions", tx, nil)
}

// GetLayeredTransaction fetches a layered protected transaction by
// document id.
func (c *Client) GetLayeredTransaction(docID string) (*sable.LayeredProtectedTransaction, error) {
	var tx sable.LayeredProtectedTransaction
	if err := c.do(http.MethodGet, "/transactions/"+url.PathEscape(docID), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// AttachBuyerSignature adds the buyer's signature to a stored
// transaction without re-uploading the record.
func (c *Client) AttachBuyerSignature(docID string, sig []byte) error {
	body := map[string][]byte{"sig_buyer": sig}
	return c.do(http.MethodPost, "/transactions/"+url.PathEscape(docID)+"/countersign", body, nil)
}

// PutShare stores a share record on the relay.
func (c *Client) PutShare(rec *sable.ShareRecord) error {
	return c.do(http.MethodPost, "/transactions/"+url.PathEscape(rec.DocID)+"/shares", rec, nil)
}

// Shares lists the share records stored for a document. A non-empty
// section restricts the result to shares scoped to that section.
func (c *Client) Shares(docID, section string) ([]*sable.ShareRecord, error) {
	path := "/transactions/" + url.PathEscape(docID) + "/shares"
	if section != "" {
		path += "?section=" + url.QueryEscape(section)
	}
	var out []*sable.ShareRecord
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("relay: encoding request: %w", err)
		}
	}
	op := func() error {
		req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("relay: building request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("relay: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("relay: %s %s: server error %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(c.statusError(method, path, resp))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("relay: decoding response: %w", err))
			}
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries)
	return backoff.Retry(op, policy)
}

func (c *Client) statusError(method, path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", sable.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrExists, msg)
	default:
		return fmt.Errorf("relay: %s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}
}
