package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
)

func newTestClient(t *testing.T, r *mux.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL, "tok", 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPerformActionReturnsServerStatus(t *testing.T) {
	r := mux.NewRouter()
	var gotAuth string
	r.HandleFunc("/jobs/{id}/start", func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		if mux.Vars(req)["id"] != "42" {
			http.Error(w, "wrong id", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ride": {"id": 42, "status": "in_progress"}}`))
	}).Methods(http.MethodPost)
	c := newTestClient(t, r)

	status, err := c.PerformAction(context.Background(), "42", lifecycle.ActionStartTrip, nil)
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if status != models.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", status)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
}

func TestCancelUsesStatusEndpoint(t *testing.T) {
	r := mux.NewRouter()
	var body map[string]any
	r.HandleFunc("/jobs/{id}/status", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewDecoder(req.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPatch)
	c := newTestClient(t, r)

	status, err := c.PerformAction(context.Background(), "9", lifecycle.ActionCancel, map[string]any{"status": "Cancelled", "reason": "cancel"})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if status != "" {
		t.Fatalf("expected no server status, got %q", status)
	}
	if body["status"] != "Cancelled" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestConflictIsInvalidTransition(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/jobs/{id}/arrive", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "ride already completed"}`))
	})
	r.HandleFunc("/jobs/{id}/complete", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	c := newTestClient(t, r)

	_, err := c.PerformAction(context.Background(), "1", lifecycle.ActionArrive, nil)
	if !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	_, err = c.PerformAction(context.Background(), "1", lifecycle.ActionComplete, nil)
	if !apperr.IsKind(err, apperr.KindNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestApproveReturnsPromotedJob(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/requests/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
		if mux.Vars(req)["id"] == "r1" {
			_, _ = w.Write([]byte(`{"job": {"id": "j1", "rideId": "r1", "type": "share"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"message": "approved"}`))
	}).Methods(http.MethodPost)
	c := newTestClient(t, r)

	job, err := c.Approve(context.Background(), "r1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if job == nil || job.ID != "j1" || job.Kind != models.KindShare {
		t.Fatalf("unexpected job: %+v", job)
	}

	job, err = c.Approve(context.Background(), "r2")
	if err != nil || job != nil {
		t.Fatalf("expected nil job without error, got %+v %v", job, err)
	}
}

func TestFetchJobsSkipsMalformed(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/jobs", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"id": 1, "status": "Inbound", "type": "share"}, {"status": "Boarded"}, {"rideId": "r3", "status": "active", "kind": "hire"}]}`))
	})
	c := newTestClient(t, r)

	jobs, err := c.FetchJobs(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[1].ID != "r3" || jobs[1].Status != models.StatusActive {
		t.Fatalf("unexpected second job: %+v", jobs[1])
	}
}

func TestFetchListingsSendsKind(t *testing.T) {
	r := mux.NewRouter()
	var kind string
	r.HandleFunc("/listings", func(w http.ResponseWriter, req *http.Request) {
		kind = req.URL.Query().Get("kind")
		_, _ = w.Write([]byte(`[{"id": 5, "driverId": 12, "title": "Van"}]`))
	})
	c := newTestClient(t, r)

	ls, err := c.FetchListings(context.Background(), models.ListingHire)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if kind != "hire" || len(ls) != 1 || ls[0].OwnerID != "12" || ls[0].Kind != models.ListingHire {
		t.Fatalf("unexpected listings %+v (kind %q)", ls, kind)
	}
}

func TestFetchMessagesAndProfile(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"messages": [{"id": "m1", "text": "hi", "senderId": 3}]}`))
	})
	r.HandleFunc("/me", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"user": {"id": 12, "name": "Dee", "role": "driver"}}`))
	})
	c := newTestClient(t, r)

	msgs, err := c.FetchMessages(context.Background(), "c1")
	if err != nil || len(msgs) != 1 || msgs[0].SenderID != "3" {
		t.Fatalf("unexpected messages %+v %v", msgs, err)
	}
	p, err := c.FetchProfile(context.Background())
	if err != nil || p.ID != "12" || p.Name != "Dee" {
		t.Fatalf("unexpected profile %+v %v", p, err)
	}
}
