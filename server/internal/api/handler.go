package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/chat"
	"github.com/collabhub/collabhub/server/internal/polls"
	"github.com/collabhub/collabhub/server/internal/presence"
	"github.com/collabhub/collabhub/server/internal/stats"
	"github.com/collabhub/collabhub/server/internal/store"
)

// pingTimeout bounds the storage ping of the health endpoint.
const pingTimeout = 2 * time.Second

// Deps are the read sides the REST API serves from.
type Deps struct {
	Storage  Pinger
	Presence *presence.Store
	Chat     *chat.Channel
	Polls    *polls.Engine
	Stats    *stats.Aggregator

	// Connections reports the live WebSocket session count. May be nil.
	Connections    func() int
	MaxConnections int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler over deps and registers all routes.
func New(deps Deps) http.Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.HandleFunc("/api/v1/users", h.users)
	h.mux.HandleFunc("/api/v1/messages", h.messages)
	h.mux.HandleFunc("/api/v1/polls", h.listPolls)
	h.mux.HandleFunc("/api/v1/polls/", h.getPoll) // subtree: extracts {id}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: storage reachability and connection
// load. Responds 503 when storage is down.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	conns := 0
	if h.deps.Connections != nil {
		conns = h.deps.Connections()
	}
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	checks := runChecks(ctx, h.deps.Storage, conns, h.deps.MaxConnections)
	resp := HealthResponse{
		State:       overallState(checks),
		Connections: conns,
		Checks:      checks,
		CheckedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if resp.State == "down" {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// stats returns GET /api/v1/stats, the dashboard:stats payload.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := h.deps.Stats.Collect(r.Context())
	if err != nil {
		domainErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// users returns GET /api/v1/users, the users currently online or away.
func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	us, err := h.deps.Presence.ActiveUsers(r.Context())
	if err != nil {
		domainErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, presence.Public(us))
}

// messages returns GET /api/v1/messages?before=<RFC3339>&limit=<n>, one
// page of non-deleted messages, newest first.
func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	var before time.Time
	if s := q.Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = t
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ms, err := h.deps.Chat.History(r.Context(), before, limit)
	if err != nil {
		domainErr(w, err)
		return
	}
	resp := MessagesResponse{Messages: ms}
	if len(ms) > 0 && len(ms) == store.ClampLimit(limit) {
		resp.NextBefore = ms[len(ms)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	jsonResp(w, http.StatusOK, resp)
}

// listPolls returns GET /api/v1/polls, newest first.
func (h *Handler) listPolls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ps, err := h.deps.Polls.List(r.Context())
	if err != nil {
		domainErr(w, err)
		return
	}
	if ps == nil {
		ps = []*types.Poll{}
	}
	jsonResp(w, http.StatusOK, ps)
}

// getPoll returns GET /api/v1/polls/{id}.
func (h *Handler) getPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/polls/")
	if id == "" {
		// Redirect bare /api/v1/polls/ to list handler.
		h.listPolls(w, r)
		return
	}

	p, err := h.deps.Polls.Get(r.Context(), id)
	if err != nil {
		domainErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// domainErr writes err with the HTTP status matching its error code.
func domainErr(w http.ResponseWriter, err error) {
	code := types.Code(err)
	msg := err.Error()
	if code == "internal" {
		msg = "internal error"
	}
	jsonResp(w, statusFor(code), errorResponse{Error: msg, Code: code})
}

func statusFor(code string) int {
	switch code {
	case "validation_error":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "duplicate_vote", "closed":
		return http.StatusConflict
	case "persistence_timeout":
		return http.StatusGatewayTimeout
	case "persistence_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
