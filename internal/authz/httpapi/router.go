package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/authrim-io/authrim/internal/authz/check"
	"go.uber.org/zap"
)

// Router wires check.Service behind /check and /check/batch, with
// key-scoped auth, in the stub-handler style of cmd/control-plane/main.go.
// It exists so this module is exercised end-to-end, not as the focus of
// testing.
type Router struct {
	svc    *check.Service
	keys   *KeyStore
	logger *zap.Logger
}

// NewRouter builds a Router. keys may be nil, in which case every request
// is accepted unauthenticated (suitable only for local demos).
func NewRouter(svc *check.Service, keys *KeyStore, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{svc: svc, keys: keys, logger: logger}
}

// Mux builds the http.ServeMux this router answers on.
func (r *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("POST /check", r.withPermission(PermCheck, r.handleCheck))
	mux.HandleFunc("POST /check/batch", r.withPermission(PermBatchCheck, r.handleBatchCheck))
	return mux
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (r *Router) withPermission(perm Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.keys == nil {
			next(w, req)
			return
		}
		plainKey := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		key, err := r.keys.Validate(plainKey)
		if err != nil || !HasPermission(key, perm) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next(w, req)
	}
}

type checkRequestWire struct {
	Tenant     string `json:"tenant"`
	SubjectID  string `json:"subject_id"`
	Permission string `json:"permission"`
	ReBAC      *struct {
		Relation   string `json:"relation"`
		ObjectType string `json:"object_type"`
		ObjectID   string `json:"object_id"`
	} `json:"rebac,omitempty"`
}

func (r *Router) handleCheck(w http.ResponseWriter, req *http.Request) {
	var wire checkRequestWire
	if err := json.NewDecoder(req.Body).Decode(&wire); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "malformed request body"})
		return
	}

	checkReq := check.CheckRequest{
		Tenant:     wire.Tenant,
		Permission: wire.Permission,
		Timestamp:  time.Now().UTC(),
	}
	checkReq.Subject.ID = wire.SubjectID
	if wire.ReBAC != nil {
		checkReq.ReBAC = &check.ReBACRequest{
			Relation:   wire.ReBAC.Relation,
			ObjectType: wire.ReBAC.ObjectType,
			ObjectID:   wire.ReBAC.ObjectID,
		}
	}

	result, err := r.svc.Check(req.Context(), checkReq)
	if err != nil {
		r.logger.Warn("check failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (r *Router) handleBatchCheck(w http.ResponseWriter, req *http.Request) {
	var entries []checkRequestWire
	if err := json.NewDecoder(req.Body).Decode(&entries); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "malformed request body"})
		return
	}

	batch := check.BatchRequest{Entries: make([]check.CheckRequest, 0, len(entries))}
	for _, wire := range entries {
		cr := check.CheckRequest{Tenant: wire.Tenant, Permission: wire.Permission, Timestamp: time.Now().UTC()}
		cr.Subject.ID = wire.SubjectID
		if wire.ReBAC != nil {
			cr.ReBAC = &check.ReBACRequest{
				Relation:   wire.ReBAC.Relation,
				ObjectType: wire.ReBAC.ObjectType,
				ObjectID:   wire.ReBAC.ObjectID,
			}
		}
		batch.Entries = append(batch.Entries, cr)
	}

	result, err := r.svc.BatchCheck(req.Context(), batch)
	if err != nil {
		r.logger.Warn("batch check failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(result)
}
