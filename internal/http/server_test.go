package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/session"
)

type fakeState struct {
	jobs    []models.Job
	convs   []models.Conversation
	notes   []models.Notification
	history map[models.ID][]models.Transition
	readErr error
	broken  bool
}

func (f *fakeState) Identity() session.Identity {
	return session.Identity{UserID: "501", Name: "Dana", Role: "driver"}
}

func (f *fakeState) Jobs() []models.Job {
	if f.broken {
		panic("state unavailable")
	}
	return f.jobs
}

func (f *fakeState) Transitions(ctx context.Context, jobID models.ID) ([]models.Transition, error) {
	return f.history[jobID], f.readErr
}

func (f *fakeState) Job(id models.ID) (models.Job, bool) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return models.Job{}, false
}

func (f *fakeState) LegalActions(id models.ID) []lifecycle.Action {
	j, ok := f.Job(id)
	if !ok {
		return nil
	}
	return lifecycle.LegalActions(j)
}

func (f *fakeState) Requests() []models.ApprovalRequest { return nil }

func (f *fakeState) Listings(kind models.ListingKind) []models.Listing {
	return []models.Listing{{ID: "p1", Kind: kind, OwnerID: "501"}}
}

func (f *fakeState) Notifications() []models.Notification { return f.notes }

func (f *fakeState) Subscription() models.Subscription { return models.Subscription{Plan: "pro", Active: true} }

func (f *fakeState) Conversations() []models.Conversation { return f.convs }

func (f *fakeState) Conversation(id models.ID) (models.Conversation, bool) {
	for _, c := range f.convs {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func newTestServer() *Server { return NewServer(testState(), slog.New(slog.NewTextHandler(io.Discard, nil))) }

func testState() *fakeState {
	return &fakeState{
		jobs: []models.Job{
			{ID: "j1", Kind: models.KindShare, Status: models.StatusInbound},
			{ID: "j2", Kind: models.KindShare, Status: models.StatusArrived},
		},
		convs: []models.Conversation{{ID: "c1", Messages: []models.Message{{ID: "m1", Text: "hi"}}}},
		notes: []models.Notification{{ID: "n1", Unread: true}, {ID: "n2"}},
		history: map[models.ID][]models.Transition{
			"j1": {{JobID: "j1", Kind: models.KindShare, From: models.StatusScheduled, To: models.StatusInbound, Source: "local"}},
		},
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestServer(), "/healthz")
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestJobIncludesLegalActions(t *testing.T) {
	s := newTestServer()

	rec := get(t, s, "/api/v1/jobs/j1")
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		ID      string   `json:"id"`
		Status  string   `json:"status"`
		Actions []string `json:"actions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "j1" || len(body.Actions) == 0 || body.Actions[0] != string(lifecycle.ActionArrive) {
		t.Fatalf("unexpected job view %+v", body)
	}

	// a wait state renders an empty list, not null
	rec = get(t, s, "/api/v1/jobs/j2")
	if !strings.Contains(rec.Body.String(), `"actions":[]`) {
		t.Fatalf("expected empty actions, got %s", rec.Body.String())
	}

	if rec := get(t, s, "/api/v1/jobs/nope"); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListingsRejectUnknownKind(t *testing.T) {
	s := newTestServer()
	if rec := get(t, s, "/api/v1/listings/hire"); rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := get(t, s, "/api/v1/listings/boats"); rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNotificationsCountUnread(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/notifications")
	var body struct {
		Unread int `json:"unread"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Unread != 1 {
		t.Fatalf("expected 1 unread, got %d", body.Unread)
	}
}

func TestConversationMessages(t *testing.T) {
	s := newTestServer()
	rec := get(t, s, "/api/v1/conversations/c1/messages")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"m1"`) {
		t.Fatalf("unexpected messages response %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, s, "/api/v1/conversations/c9/messages"); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWritesAreNotRouted(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer()
	get(t, s, "/api/v1/jobs")
	rec := get(t, s, "/metrics")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "driver_console_http_requests_total") {
		t.Fatalf("expected http metrics in scrape")
	}
}

func TestJobTransitions(t *testing.T) {
	s := newTestServer()
	rec := get(t, s, "/api/v1/jobs/j1/transitions")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"to":"Inbound"`) {
		t.Fatalf("unexpected transitions response %d %s", rec.Code, rec.Body.String())
	}
	rec = get(t, s, "/api/v1/jobs/j2/transitions")
	if !strings.Contains(rec.Body.String(), `"transitions":[]`) {
		t.Fatalf("expected empty history, got %s", rec.Body.String())
	}
	if rec := get(t, s, "/api/v1/jobs/nope/transitions"); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	state := testState()
	state.readErr = errors.New("connection refused")
	failing := NewServer(state, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if rec := get(t, failing, "/api/v1/jobs/j1/transitions"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on journal failure, got %d", rec.Code)
	}
}

func TestNonGetRefusedBeforeRouting(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/unknown", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("expected 405 with Allow: GET, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestSnapshotsAreNotCached(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-Request-ID", "abc")
	newTestServer().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}
}

func TestHandlerPanicBecomes500(t *testing.T) {
	state := testState()
	state.broken = true
	s := NewServer(state, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if rec := get(t, s, "/api/v1/jobs"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec := get(t, s, "/healthz"); rec.Code != 200 {
		t.Fatalf("server should keep serving after a panic, got %d", rec.Code)
	}
}
