// Package api serves the registry and the sandbox operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/QuotaGate/internal/auth"
	"github.com/AlexKimmel/QuotaGate/internal/gateway"
	"github.com/AlexKimmel/QuotaGate/internal/identity"
	"github.com/AlexKimmel/QuotaGate/internal/routing"
	"github.com/AlexKimmel/QuotaGate/internal/store"
)

// Registry is the part of identity.Registry the handlers use.
type Registry interface {
	Mint(tier identity.Tier) (identity.ID, error)
	TierOf(id identity.ID) (identity.Tier, bool)
	TimeUntilAllowed(id identity.ID, operation string) (time.Duration, bool)
	CallsRemaining(id identity.ID, operation string) (uint32, bool)
	Decide(id identity.ID, operation string) identity.Decision
}

type Handler struct {
	Registry Registry
	List     *store.List
	KV       *store.KV
	Version  string

	// OnLimited is told about calls refused by the handlers that admit
	// after decoding their body.
	OnLimited func(routeID string)
}

// Paths that carry no identity.
const (
	PathMint    = "/get_id"
	PathHealth  = "/health"
	PathVersion = "/version"
)

// Register installs every endpoint on mux and its route (with the operation
// gating it, if any) on rr. Operations that take a body are admitted by
// their handler, so a body that fails to decode costs no call.
func (h *Handler) Register(mux *http.ServeMux, rr *routing.Router) {
	add := func(method, path, operation string, deferred bool, fn http.HandlerFunc) {
		mux.HandleFunc(method+" "+path, fn)
		rr.Add(&routing.Route{
			ID:        strings.TrimPrefix(path, "/"),
			Methods:   map[string]struct{}{method: {}},
			Path:      path,
			Operation: operation,
			Deferred:  deferred,
		})
	}

	add(http.MethodPost, PathMint, "", false, h.GetID)
	add(http.MethodPost, "/short_wait", "short_wait", false, h.Gated)
	add(http.MethodPost, "/long_wait", "long_wait", false, h.Gated)
	add(http.MethodPost, "/add_to_list", "add_to_list", true, h.AddToList)
	add(http.MethodPost, "/echo", "echo", true, h.Echo)
	add(http.MethodPost, "/add_KV_pair", "add_KV_pair", true, h.AddKVPair)
	add(http.MethodPost, "/next_allowed_request", "", false, h.NextAllowedRequest)
	add(http.MethodPost, "/until_limit", "", false, h.UntilLimit)
	add(http.MethodGet, "/whoami", "", false, h.WhoAmI)

	mux.HandleFunc("GET "+PathHealth, h.Health)
	mux.HandleFunc("GET "+PathVersion, h.VersionInfo)
}

// tierLabel is the user-facing name of a tier; "None" stands for no identity.
func tierLabel(t identity.Tier, known bool) string {
	if !known {
		return "None"
	}
	switch t {
	case identity.Standard:
		return "Standard"
	case identity.Elevated:
		return "Elevated"
	default:
		return "None"
	}
}

type payload[T any] struct {
	Data T `json:"data"`
}

type kvPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handler) GetID(w http.ResponseWriter, r *http.Request) {
	var tier identity.Tier
	if !decode(w, r, &tier) {
		return
	}

	id, err := h.Registry.Mint(tier)
	if errors.Is(err, identity.ErrInvalidTier) {
		writeError(w, http.StatusForbidden, "invalid_tier", "tier "+tier.String()+" may not hold an identity")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	hlog.FromRequest(r).Debug().Stringer("tier", tier).Msg("identity issued")
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": id,
		"tier":     tierLabel(tier, true),
	})
}

// Gated answers operations that have no payload: admission already happened.
func (h *Handler) Gated(w http.ResponseWriter, r *http.Request) {
	d, ok := gateway.DecisionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"tier": tierLabel(d.Tier, ok)})
}

func (h *Handler) AddToList(w http.ResponseWriter, r *http.Request) {
	var in payload[int]
	if !decode(w, r, &in) || !h.admit(w, r, "add_to_list") {
		return
	}
	writeJSON(w, http.StatusOK, h.List.Append(in.Data))
}

func (h *Handler) Echo(w http.ResponseWriter, r *http.Request) {
	var in payload[string]
	if !decode(w, r, &in) || !h.admit(w, r, "echo") {
		return
	}
	writeJSON(w, http.StatusOK, in.Data)
}

func (h *Handler) AddKVPair(w http.ResponseWriter, r *http.Request) {
	var in payload[kvPair]
	if !decode(w, r, &in) {
		return
	}
	if in.Data.Key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	if !h.admit(w, r, "add_KV_pair") {
		return
	}
	writeJSON(w, http.StatusOK, h.KV.Set(in.Data.Key, in.Data.Value))
}

func (h *Handler) NextAllowedRequest(w http.ResponseWriter, r *http.Request) {
	id, op, ok := h.query(w, r)
	if !ok {
		return
	}
	wait, found := h.Registry.TimeUntilAllowed(id, op)
	if !found {
		writeError(w, http.StatusForbidden, "unknown", "unknown identity or operation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"seconds": int64(wait / time.Second)})
}

func (h *Handler) UntilLimit(w http.ResponseWriter, r *http.Request) {
	id, op, ok := h.query(w, r)
	if !ok {
		return
	}
	left, found := h.Registry.CallsRemaining(id, op)
	if !found {
		writeError(w, http.StatusForbidden, "unknown", "unknown identity or operation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"remaining": left})
}

func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	tier, known := h.Registry.TierOf(id)
	writeJSON(w, http.StatusOK, map[string]string{"tier": tierLabel(tier, known)})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) VersionInfo(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(h.Version))
}

// admit charges one call of operation; the route ID matches the operation
// name for every body-carrying endpoint.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, operation string) bool {
	_, ok := gateway.Admit(w, r, h.Registry, operation, operation, h.OnLimited)
	return ok
}

// query decodes {"data": "<operation>"}; a leading slash on the name is ignored.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) (identity.ID, string, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "identity required")
		return identity.ID{}, "", false
	}
	var in payload[string]
	if !decode(w, r, &in) {
		return identity.ID{}, "", false
	}
	return id, strings.TrimPrefix(in.Data, "/"), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": msg},
	})
}
