package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/agbusiness195/sable"
)

// Server is the relay HTTP service. It registers party public keys,
// stores protected transactions and share records, and serves them
// back byte-for-byte. Every record is opaque to the server.
type Server struct {
	store   Store
	log     *logrus.Logger
	router  *mux.Router
	handler http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. The default logs to stderr at
// info level.
func WithLogger(log *logrus.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithCORS allows cross-origin requests from the given origins.
func WithCORS(origins []string) ServerOption {
	return func(s *Server) {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(s.router)
	}
}

// NewServer creates a relay server over the given store.
func NewServer(store Store, opts ...ServerOption) *Server {
	s := &Server{
		store:  store,
		log:    logrus.New(),
		router: mux.NewRouter(),
	}
	s.routes()
	s.handler = s.router
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/parties", s.handleRegisterParty).Methods(http.MethodPost)
	s.router.HandleFunc("/parties/{id}", s.handleGetParty).Methods(http.MethodGet)
	s.router.HandleFunc("/transactions", s.handlePutTransaction).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	s.router.HandleFunc("/transactions/{id}/countersign", s.handleCountersign).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/{id}/shares", s.handlePutShare).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/{id}/shares", s.handleListShares).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterParty(w http.ResponseWriter, r *http.Request) {
	var p sable.PartyKeys
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid party record")
		return
	}
	if err := s.store.PutParty(&p); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.WithField("party", p.ID).Info("party registered")
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID})
}

func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.store.GetParty(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutTransaction(w http.ResponseWriter, r *http.Request) {
	record, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	var header struct {
		DocID string `json:"doc_id"`
	}
	if err := json.Unmarshal(record, &header); err != nil || header.DocID == "" {
		s.writeError(w, http.StatusBadRequest, "record must carry a doc_id")
		return
	}
	if err := s.store.PutTransaction(header.DocID, record); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.WithField("doc_id", header.DocID).Info("transaction stored")
	s.writeJSON(w, http.StatusCreated, map[string]string{"doc_id": header.DocID})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.store.GetTransaction(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(record)
}

// handleCountersign attaches the buyer signature to a stored record.
// The relay splices the field without interpreting it; verification
// happens at the protocol layer on retrieval.
func (s *Server) handleCountersign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		SigBuyer []byte `json:"sig_buyer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.SigBuyer) == 0 {
		s.writeError(w, http.StatusBadRequest, "sig_buyer is required")
		return
	}
	record, err := s.store.GetTransaction(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		s.writeError(w, http.StatusInternalServerError, "stored record is not valid JSON")
		return
	}
	sig, err := json.Marshal(body.SigBuyer)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "encoding signature")
		return
	}
	fields["sig_buyer"] = sig
	updated, err := json.Marshal(fields)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "encoding record")
		return
	}
	if err := s.store.UpdateTransaction(id, updated); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.WithField("doc_id", id).Info("buyer signature attached")
	s.writeJSON(w, http.StatusOK, map[string]string{"doc_id": id})
}

func (s *Server) handlePutShare(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	var header struct {
		ShareID string `json:"share_id"`
		DocID   string `json:"doc_id"`
		Section string `json:"section"`
	}
	if err := json.Unmarshal(record, &header); err != nil || header.ShareID == "" {
		s.writeError(w, http.StatusBadRequest, "record must carry a share_id")
		return
	}
	if header.DocID != id {
		s.writeError(w, http.StatusBadRequest, "share doc_id does not match path")
		return
	}
	env := &ShareEnvelope{
		ShareID: header.ShareID,
		DocID:   header.DocID,
		Section: header.Section,
		Record:  record,
	}
	if err := s.store.PutShare(env); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"doc_id":   header.DocID,
		"share_id": header.ShareID,
	}).Info("share record stored")
	s.writeJSON(w, http.StatusCreated, map[string]string{"share_id": header.ShareID})
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	section := r.URL.Query().Get("section")
	records, err := s.store.ListShares(id, section)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sable.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrExists):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.WithError(err).Error("store operation failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("writing response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
