// Package httpapi serves a read-only view of a running console session for
// operators: health, Prometheus metrics and the current local state.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/session"
)

// StateReader is the read side of a console session.
type StateReader interface {
	Identity() session.Identity
	Jobs() []models.Job
	Job(id models.ID) (models.Job, bool)
	LegalActions(id models.ID) []lifecycle.Action
	Requests() []models.ApprovalRequest
	Listings(kind models.ListingKind) []models.Listing
	Notifications() []models.Notification
	Subscription() models.Subscription
	Conversations() []models.Conversation
	Conversation(id models.ID) (models.Conversation, bool)
	Transitions(ctx context.Context, jobID models.ID) ([]models.Transition, error)
}

type Server struct {
	State   StateReader
	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler
}

func NewServer(state StateReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{State: state, logger: logger, mux: mux.NewRouter()}
	s.mux.Use(s.instrument)
	s.routes()
	s.handler = s.guard(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/transitions", s.handleTransitions).Methods("GET")
	api.HandleFunc("/requests", s.handleRequests).Methods("GET")
	api.HandleFunc("/listings/{kind}", s.handleListings).Methods("GET")
	api.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	api.HandleFunc("/conversations", s.handleConversations).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", s.handleMessages).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := s.State.Identity()
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       id.UserID,
		"name":         id.Name,
		"role":         id.Role,
		"subscription": s.State.Subscription(),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.State.Jobs()})
}

type jobView struct {
	models.Job
	Actions []lifecycle.Action `json:"actions"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := models.ID(mux.Vars(r)["id"])
	j, ok := s.State.Job(id)
	if !ok {
		http.Error(w, "job not found", 404)
		return
	}
	actions := s.State.LegalActions(id)
	if actions == nil {
		actions = []lifecycle.Action{}
	}
	writeJSON(w, http.StatusOK, jobView{Job: j, Actions: actions})
}

// handleTransitions reads the job's journaled status history.
func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	id := models.ID(mux.Vars(r)["id"])
	if _, ok := s.State.Job(id); !ok {
		http.Error(w, "job not found", 404)
		return
	}
	ts, err := s.State.Transitions(r.Context(), id)
	if err != nil {
		s.logger.Warn("journal read failed", "job_id", id, "error", err)
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	if ts == nil {
		ts = []models.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "transitions": ts})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"requests": s.State.Requests()})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	kind := models.ListingKind(mux.Vars(r)["kind"])
	switch kind {
	case models.ListingRideshare, models.ListingHire, models.ListingVehicle:
	default:
		http.Error(w, "unknown listing kind", 400)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "listings": s.State.Listings(kind)})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns := s.State.Notifications()
	unread := 0
	for _, n := range ns {
		if n.Unread {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns, "unread": unread})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.State.Conversations()})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := s.State.Conversation(models.ID(mux.Vars(r)["id"]))
	if !ok {
		http.Error(w, "conversation not found", 404)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": c.ID, "messages": c.Messages})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
