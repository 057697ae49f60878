package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/collabhub/collabhub/pkg/types"
	"github.com/collabhub/collabhub/server/internal/api"
	"github.com/collabhub/collabhub/server/internal/chat"
	"github.com/collabhub/collabhub/server/internal/polls"
	"github.com/collabhub/collabhub/server/internal/presence"
	"github.com/collabhub/collabhub/server/internal/stats"
	"github.com/collabhub/collabhub/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	mem   *store.Memory
	pres  *presence.Store
	polls *polls.Engine
	h     http.Handler
}

func newFixture(t *testing.T, conns int) *fixture {
	t.Helper()
	return newFixtureWith(t, store.NewMemory(), conns)
}

func newFixtureWith(t *testing.T, st store.Store, conns int) *fixture {
	t.Helper()
	mem, _ := st.(*store.Memory)
	pres := presence.New(st)
	ch := chat.New(st, false)
	eng := polls.New(st)
	h := api.New(api.Deps{
		Storage:        st,
		Presence:       pres,
		Chat:           ch,
		Polls:          eng,
		Stats:          stats.New(pres, ch, eng, time.Second),
		Connections:    func() int { return conns },
		MaxConnections: 10,
	})
	return &fixture{mem: mem, pres: pres, polls: eng, h: h}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// seedMessages stores n messages one minute apart, oldest first, starting at
// base.
func seedMessages(t *testing.T, mem *store.Memory, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		m := &types.Message{
			SenderID:   "u1",
			SenderName: "Ana",
			Content:    fmt.Sprintf("m%d", i),
			Type:       types.MessageText,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := mem.CreateMessage(context.Background(), m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
}

type downStore struct{ store.Store }

func (downStore) Ping(context.Context) error {
	return fmt.Errorf("dial tcp: %w", types.ErrPersistenceUnavailable)
}

func (downStore) ListPolls(context.Context) ([]*types.Poll, error) {
	return nil, types.ErrPersistenceUnavailable
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_OK(t *testing.T) {
	f := newFixture(t, 3)
	rr := get(t, f.h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "ok" {
		t.Errorf("state: got %q, want ok", resp.State)
	}
	if resp.Connections != 3 {
		t.Errorf("connections: got %d, want 3", resp.Connections)
	}
	if len(resp.Checks) != 2 || resp.Checks[0].Name != "storage" || resp.Checks[1].Name != "connections" {
		t.Errorf("checks: got %+v", resp.Checks)
	}
}

func TestHealth_NearConnectionLimit(t *testing.T) {
	f := newFixture(t, 9)
	var resp api.HealthResponse
	decode(t, get(t, f.h, "/api/v1/health"), &resp)

	if resp.State != "degraded" {
		t.Errorf("state: got %q, want degraded", resp.State)
	}
}

func TestHealth_StorageDown(t *testing.T) {
	f := newFixtureWith(t, downStore{store.NewMemory()}, 0)
	rr := get(t, f.h, "/api/v1/health")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "down" || resp.Checks[0].Level != "critical" {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, 0)
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/stats and /api/v1/users ----------------------------------------

func TestStats(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.pres.Join(ctx, "u1", "Ana", "c1", nil); err != nil {
		t.Fatalf("Join: %v", err)
	}
	seedMessages(t, f.mem, time.Now().Add(-2*time.Hour), 2)

	rr := get(t, f.h, "/api/v1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var p stats.Payload
	decode(t, rr, &p)
	if p.UserStats.Online != 1 || p.MessageStats.Total != 2 || p.MessageStats.LastHour != 0 {
		t.Errorf("stats: got %+v", p)
	}
}

func TestUsers_ActiveOnly(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.pres.Join(ctx, "u1", "Ana", "c1", nil) //nolint:errcheck
	f.pres.Join(ctx, "u2", "Ben", "c2", nil) //nolint:errcheck
	f.pres.Leave(ctx, "u2", "c2", nil)       //nolint:errcheck

	var got []map[string]any
	decode(t, get(t, f.h, "/api/v1/users"), &got)
	if len(got) != 1 || got[0]["id"] != "u1" {
		t.Fatalf("users: got %v, want [u1]", got)
	}
	if _, ok := got[0]["currentConnectionId"]; ok {
		t.Error("users: connection id must not be exposed")
	}
}

// --- /api/v1/messages -------------------------------------------------------

func TestMessages_Pagination(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(t, f.mem, base, 5)

	var page api.MessagesResponse
	decode(t, get(t, f.h, "/api/v1/messages?limit=2"), &page)
	if len(page.Messages) != 2 || page.Messages[0].Content != "m4" || page.Messages[1].Content != "m3" {
		t.Fatalf("page 1: got %+v", page.Messages)
	}
	if page.NextBefore == "" {
		t.Fatal("page 1: next_before missing")
	}

	var page2 api.MessagesResponse
	decode(t, get(t, f.h, "/api/v1/messages?limit=2&before="+url.QueryEscape(page.NextBefore)), &page2)
	if len(page2.Messages) != 2 || page2.Messages[0].Content != "m2" {
		t.Fatalf("page 2: got %+v", page2.Messages)
	}

	var last api.MessagesResponse
	decode(t, get(t, f.h, "/api/v1/messages?limit=10"), &last)
	if len(last.Messages) != 5 || last.NextBefore != "" {
		t.Errorf("full page: got %d messages, next_before %q", len(last.Messages), last.NextBefore)
	}
}

func TestMessages_HidesDeleted(t *testing.T) {
	f := newFixture(t, 0)
	seedMessages(t, f.mem, time.Now().Add(-time.Minute), 2)
	ms, _ := f.mem.ListMessages(context.Background(), time.Time{}, 10)
	if err := f.mem.SoftDeleteMessage(context.Background(), ms[0].ID, time.Now()); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}

	var page api.MessagesResponse
	decode(t, get(t, f.h, "/api/v1/messages"), &page)
	if len(page.Messages) != 1 || page.Messages[0].ID == ms[0].ID {
		t.Errorf("messages: got %+v, want only the non-deleted one", page.Messages)
	}
}

func TestMessages_BadQuery(t *testing.T) {
	f := newFixture(t, 0)
	for _, q := range []string{"before=yesterday", "limit=abc", "limit=-1"} {
		rr := get(t, f.h, "/api/v1/messages?"+q)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400", q, rr.Code)
		}
	}
}

// --- /api/v1/polls ----------------------------------------------------------

func TestPolls_ListAndGet(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	rr := get(t, f.h, "/api/v1/polls")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("empty list body: got %q, want []", body)
	}

	p, err := f.polls.Create(ctx, polls.CreateRequest{
		Question:  "Best time?",
		Options:   []string{"Morning", "Evening"},
		CreatedBy: "u1",
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.polls.Vote(ctx, p.ID, "u1", "opt-0", nil); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	var list []types.Poll
	decode(t, get(t, f.h, "/api/v1/polls"), &list)
	if len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("list: got %+v", list)
	}

	var one types.Poll
	decode(t, get(t, f.h, "/api/v1/polls/"+p.ID), &one)
	if one.TotalVotes != 1 || one.Options[0].Votes != 1 {
		t.Errorf("get: got total=%d opt0=%d, want 1/1", one.TotalVotes, one.Options[0].Votes)
	}

	var bare []types.Poll
	decode(t, get(t, f.h, "/api/v1/polls/"), &bare)
	if len(bare) != 1 {
		t.Errorf("bare subtree: got %d polls, want 1", len(bare))
	}
}

func TestPolls_NotFound(t *testing.T) {
	f := newFixture(t, 0)
	rr := get(t, f.h, "/api/v1/polls/missing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rr.Code)
	}
	var e map[string]string
	decode(t, rr, &e)
	if e["code"] != "not_found" {
		t.Errorf("code: got %q, want not_found", e["code"])
	}
}

func TestPolls_StorageUnavailable(t *testing.T) {
	f := newFixtureWith(t, downStore{store.NewMemory()}, 0)
	rr := get(t, f.h, "/api/v1/polls")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	var e map[string]string
	decode(t, rr, &e)
	if e["code"] != "persistence_unavailable" {
		t.Errorf("code: got %q", e["code"])
	}
}

func TestContentTypeJSON(t *testing.T) {
	f := newFixture(t, 0)
	for _, path := range []string{
		"/api/v1/health", "/api/v1/stats", "/api/v1/users",
		"/api/v1/messages", "/api/v1/polls", "/api/v1/polls/x",
	} {
		rr := get(t, f.h, path)
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type: got %q, want application/json", path, ct)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, 0)
	for _, path := range []string{"/api/v1/stats", "/api/v1/users", "/api/v1/messages", "/api/v1/polls", "/api/v1/polls/x"} {
		rr := httptest.NewRecorder()
		f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("DELETE %s: got %d, want 405", path, rr.Code)
		}
	}
}
