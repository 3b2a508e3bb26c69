package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
)

// BrokerStore persists broker configurations per identity. It is
// satisfied by *brokerconfig.Store.
type BrokerStore interface {
	Get(ctx context.Context, identity string) (*brokerconfig.Config, error)
	Put(ctx context.Context, identity string, cfg brokerconfig.Config) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]string, error)
}

// brokerConfigView is the JSON form of a stored configuration. Secrets
// are never returned.
type brokerConfigView struct {
	Identity string `json:"identity"`
	brokerconfig.Config
	HasPassword bool `json:"hasPassword"`
}

func newBrokerConfigView(identity string, cfg *brokerconfig.Config) brokerConfigView {
	out := cfg.Clone()
	hasPassword := out.Password != ""
	out.Password = ""
	if out.TLS != nil {
		out.TLS.Key = ""
	}
	return brokerConfigView{Identity: identity, Config: *out, HasPassword: hasPassword}
}

// requireStore writes 503 and returns false when no store is configured.
func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
			"broker configuration store not available (config_source is not database)")
		return false
	}
	return true
}

// handleListBrokerConfigs returns the stored identities.
func (s *Server) handleListBrokerConfigs(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	identities, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("listing broker configs failed", "error", err)
		writeInternalError(w, "failed to list broker configurations")
		return
	}
	if identities == nil {
		identities = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identities": identities,
		"count":      len(identities),
	})
}

// handleGetBrokerConfig returns the stored configuration for an identity.
func (s *Server) handleGetBrokerConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	identity := chi.URLParam(r, "identity")
	cfg, err := s.store.Get(r.Context(), identity)
	if errors.Is(err, brokerconfig.ErrNotFound) {
		writeNotFound(w, "broker configuration not found")
		return
	}
	if err != nil {
		s.logger.Error("reading broker config failed", "identity", identity, "error", err)
		writeInternalError(w, "failed to read broker configuration")
		return
	}

	writeJSON(w, http.StatusOK, newBrokerConfigView(identity, cfg))
}

// handlePutBrokerConfig creates or replaces the configuration for an identity.
func (s *Server) handlePutBrokerConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	identity := chi.URLParam(r, "identity")
	var cfg brokerconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := brokerconfig.Validate(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "url is required")
		return
	}

	if err := s.store.Put(r.Context(), identity, cfg); err != nil {
		s.logger.Error("storing broker config failed", "identity", identity, "error", err)
		writeInternalError(w, "failed to store broker configuration")
		return
	}

	s.logger.Info("broker config stored", "identity", identity,
		"subject", claimsFromContext(r.Context()).Subject)
	writeJSON(w, http.StatusOK, newBrokerConfigView(identity, &cfg))
}

// handleDeleteBrokerConfig removes the configuration for an identity.
func (s *Server) handleDeleteBrokerConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	identity := chi.URLParam(r, "identity")
	err := s.store.Delete(r.Context(), identity)
	if errors.Is(err, brokerconfig.ErrNotFound) {
		writeNotFound(w, "broker configuration not found")
		return
	}
	if err != nil {
		s.logger.Error("deleting broker config failed", "identity", identity, "error", err)
		writeInternalError(w, "failed to delete broker configuration")
		return
	}

	s.logger.Info("broker config deleted", "identity", identity,
		"subject", claimsFromContext(r.Context()).Subject)
	w.WriteHeader(http.StatusNoContent)
}
