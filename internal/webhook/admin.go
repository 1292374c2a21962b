package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/feathermark/crosspost/internal/account"
	"github.com/feathermark/crosspost/internal/adminstore"
	atcrypto "github.com/feathermark/crosspost/internal/crypto"
)

// requireAdmin returns false (and has already written a response) when no
// AdminDeps were wired at construction time.
func (s *Server) requireAdmin(w http.ResponseWriter) bool {
	if s.admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin store not configured")
		return false
	}
	return true
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	records, err := s.admin.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	name := r.PathValue("id")
	rec, err := s.admin.Store.GetAccount(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type accountRequest struct {
	Name   string                    `json:"name"`
	Config adminstore.AccountConfig `json:"config"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rec, err := s.admin.Store.CreateAccount(r.Context(), req.Name, req.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.reloadAccount(req.Name, req.Config)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	name := r.PathValue("id")
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.admin.Store.UpdateAccount(r.Context(), name, req.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	s.reloadAccount(name, req.Config)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	name := r.PathValue("id")
	if err := s.admin.Store.DeleteAccount(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.admin.Accounts != nil {
		s.admin.Accounts.Remove(name)
	}
	writeSuccess(w, http.StatusOK, "account deleted", "", nil, nil)
}

// reloadAccount rebuilds the account's live Client and swaps it into the
// account.Table, logging instead of failing the request if the client
// can't be constructed — the record is already durably stored.
func (s *Server) reloadAccount(name string, cfg adminstore.AccountConfig) {
	if s.admin.Accounts == nil || s.admin.BuildAccountClient == nil {
		return
	}
	client, err := s.admin.BuildAccountClient(cfg)
	if err != nil {
		slog.Error("admin: rebuild account client", "account", name, "error", err)
		return
	}
	s.admin.Accounts.Swap(name, &account.Record{
		Name:              name,
		Kind:              cfg.Kind,
		DefaultVisibility: account.Visibility(cfg.DefaultVisibility),
		Client:            client,
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	records, err := s.admin.Store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	name := r.PathValue("id")
	rec, err := s.admin.Store.GetProvider(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type providerRequest struct {
	Name   string                     `json:"name"`
	Config adminstore.ProviderConfig `json:"config"`
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rec, err := s.admin.Store.CreateProvider(r.Context(), req.Name, req.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.reloadProvider(req.Name, req.Config); err != nil {
		writeSuccess(w, http.StatusOK, "provider stored, but not yet active: "+err.Error(), req.Name, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	name := r.PathValue("id")
	var req providerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.admin.Store.UpdateProvider(r.Context(), name, req.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}

	if err := s.reloadProvider(name, req.Config); err != nil {
		writeSuccess(w, http.StatusOK, "provider stored, but not yet active: "+err.Error(), name, nil, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	name := r.PathValue("id")
	if err := s.admin.Store.DeleteProvider(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.removeProvider(name)
	writeSuccess(w, http.StatusOK, "provider deleted", "", nil, nil)
}

// reloadProvider rebuilds the provider's ProviderEntry (pipeline, rate
// limiter, dispatch routing) and swaps it into the live webhook Registry,
// same shape as the teacher's reloadProvider hot-reload hook.
func (s *Server) reloadProvider(name string, cfg adminstore.ProviderConfig) error {
	if s.admin.BuildProviderEntry == nil || s.admin.Registry == nil {
		return nil
	}
	entry, err := s.admin.BuildProviderEntry(name, cfg)
	if err != nil {
		return err
	}

	m := *s.registry.entries.Load()
	next := make(map[string]ProviderEntry, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	next[name] = entry
	s.registry.Store(next)
	return nil
}

func (s *Server) removeProvider(name string) {
	if s.admin.Registry == nil {
		return
	}
	m := *s.registry.entries.Load()
	next := make(map[string]ProviderEntry, len(m))
	for k, v := range m {
		if k != name {
			next[k] = v
		}
	}
	s.registry.Store(next)
}

type rotateKeyRequest struct {
	NewKey string `json:"newKey"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	var req rotateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var newKey []byte
	if req.NewKey != "" {
		derived, err := atcrypto.DeriveKey(req.NewKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		newKey = derived
	}

	if err := s.admin.Store.RotateEncryptionKey(r.Context(), newKey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "encryption key rotated", "", nil, nil)
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
