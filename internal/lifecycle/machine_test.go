package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/models"
)

type fakeAPI struct {
	calls   []Action
	payload []map[string]any
	status  models.JobStatus
	err     error
}

func (f *fakeAPI) PerformAction(ctx context.Context, jobID models.ID, action Action, payload map[string]any) (models.JobStatus, error) {
	f.calls = append(f.calls, action)
	f.payload = append(f.payload, payload)
	return f.status, f.err
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (models.Coord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	if f.fail[address] {
		return models.Coord{}, errors.New("no match")
	}
	if address == "Harbour" {
		return models.Coord{Lat: 0, Lon: 0}, nil
	}
	return models.Coord{Lat: 1, Lon: 0}, nil
}

type fixedDistance struct{ km float64 }

func (d fixedDistance) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	return d.km, nil
}

func TestStartTripResolvesRoute(t *testing.T) {
	api := &fakeAPI{}
	geo := &fakeGeocoder{}
	m := &Machine{API: api, Geocoder: geo, Distance: fixedDistance{km: 111.2}}
	job := models.Job{ID: "42", Kind: models.KindShare, Status: models.StatusBoarded, Origin: "Harbour", Destination: "Airport"}

	next, err := m.Advance(context.Background(), job, ActionStartTrip)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if next.Status != models.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", next.Status)
	}
	if len(api.calls) != 1 || api.calls[0] != ActionStartTrip {
		t.Fatalf("expected exactly one start_trip call, got %v", api.calls)
	}
	if len(geo.calls) != 2 {
		t.Fatalf("expected two geocoding calls, got %v", geo.calls)
	}
	seen := map[string]bool{}
	for _, c := range geo.calls {
		seen[c] = true
	}
	if !seen["Harbour"] || !seen["Airport"] {
		t.Fatalf("expected origin and destination geocoded, got %v", geo.calls)
	}
	if next.DistanceKm == nil || *next.DistanceKm != 111.2 {
		t.Fatalf("expected distance attached, got %v", next.DistanceKm)
	}
}

func TestGeocodeFailureDoesNotBlock(t *testing.T) {
	geo := &fakeGeocoder{fail: map[string]bool{"Airport": true}}
	m := &Machine{API: &fakeAPI{}, Geocoder: geo, Distance: fixedDistance{km: 5}}
	job := models.Job{ID: "42", Kind: models.KindShare, Status: models.StatusBoarded, Origin: "Harbour", Destination: "Airport"}

	next, err := m.Advance(context.Background(), job, ActionStartTrip)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if next.Status != models.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", next.Status)
	}
	if next.DistanceKm != nil {
		t.Fatalf("expected no distance when a lookup failed")
	}
	if next.OriginCoord == nil {
		t.Fatalf("expected origin coordinate kept")
	}
}

func TestServerStatusWins(t *testing.T) {
	api := &fakeAPI{status: models.StatusHandoverPending}
	m := &Machine{API: api}
	job := models.Job{ID: "7", Kind: models.KindHire, Status: models.StatusScheduled}
	next, err := m.Advance(context.Background(), job, ActionConfirmHandover)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if next.Status != models.StatusHandoverPending {
		t.Fatalf("expected server status Handover Pending, got %q", next.Status)
	}
}

func TestInvalidTransitionMakesNoCall(t *testing.T) {
	api := &fakeAPI{}
	m := &Machine{API: api}
	job := models.Job{ID: "1", Kind: models.KindShare, Status: models.StatusBoarded}
	next, err := m.Advance(context.Background(), job, ActionArrive)
	if !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	if next.Status != models.StatusBoarded {
		t.Fatalf("status must be unchanged, got %q", next.Status)
	}
	if len(api.calls) != 0 {
		t.Fatalf("expected no API call, got %v", api.calls)
	}
}

func TestFailureLeavesStatus(t *testing.T) {
	api := &fakeAPI{err: errors.New("503")}
	m := &Machine{API: api}
	job := models.Job{ID: "1", Kind: models.KindShare, Status: models.StatusScheduled}
	next, err := m.Advance(context.Background(), job, ActionStartPickup)
	if !apperr.IsKind(err, apperr.KindNetworkFailure) {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	if next.Status != models.StatusScheduled {
		t.Fatalf("status must be unchanged, got %q", next.Status)
	}
	if len(api.calls) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(api.calls))
	}
}

func TestWaitStatesRejectEveryAction(t *testing.T) {
	waits := []models.Job{
		{Kind: models.KindShare, Status: models.StatusArrived},
		{Kind: models.KindShare, Status: models.StatusPaymentDue},
		{Kind: models.KindHire, Status: models.StatusHandoverPending},
		{Kind: models.KindHire, Status: models.StatusActive},
	}
	all := []Action{ActionStartPickup, ActionArrive, ActionBoard, ActionStartTrip, ActionComplete,
		ActionConfirmHandover, ActionConfirmReturn, ActionCancel, ActionDecline, ActionUpdateStatus}
	for _, job := range waits {
		if !IsWaitState(job.Kind, job.Status) {
			t.Fatalf("%s/%s should be a wait state", job.Kind, job.Status)
		}
		if acts := LegalActions(job); len(acts) != 0 {
			t.Fatalf("%s/%s should have no driver actions, got %v", job.Kind, job.Status, acts)
		}
		for _, a := range all {
			if _, ok := driverEdge(job.Kind, job.Status, a); ok {
				t.Fatalf("%s/%s accepted %s", job.Kind, job.Status, a)
			}
		}
	}
}

func TestShareFlowForward(t *testing.T) {
	steps := []struct {
		from   models.JobStatus
		action Action
		to     models.JobStatus
	}{
		{models.StatusApproved, ActionStartPickup, models.StatusInbound},
		{models.StatusScheduled, ActionStartPickup, models.StatusInbound},
		{models.StatusInbound, ActionArrive, models.StatusArrived},
		{models.StatusBoarded, ActionStartTrip, models.StatusInProgress},
		{models.StatusInProgress, ActionComplete, models.StatusPaymentDue},
	}
	m := &Machine{API: &fakeAPI{}}
	for _, s := range steps {
		job := models.Job{ID: "9", Kind: models.KindShare, Status: s.from}
		next, err := m.Advance(context.Background(), job, s.action)
		if err != nil {
			t.Fatalf("%s --%s-->: %v", s.from, s.action, err)
		}
		if next.Status != s.to {
			t.Fatalf("%s --%s--> expected %s, got %s", s.from, s.action, s.to, next.Status)
		}
		if Compare(models.KindShare, next.Status, s.from) <= 0 {
			t.Fatalf("%s -> %s is not forward", s.from, next.Status)
		}
	}
}

func TestCancelSendsStatusPayload(t *testing.T) {
	api := &fakeAPI{}
	m := &Machine{API: api}
	job := models.Job{ID: "3", Kind: models.KindHire, Status: models.StatusReturnPending}
	next, err := m.Advance(context.Background(), job, ActionCancel)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if next.Status != models.StatusCancelled {
		t.Fatalf("expected Cancelled, got %q", next.Status)
	}
	if api.payload[0]["status"] != string(models.StatusCancelled) {
		t.Fatalf("expected status payload, got %v", api.payload[0])
	}
}

func TestApplyEvent(t *testing.T) {
	at := time.Unix(100, 0)
	active := models.Job{ID: "5", Kind: models.KindHire, Status: models.StatusActive}

	next, changed, err := ApplyEvent(active, TriggerReturnRequested, "", at)
	if err != nil || !changed || next.Status != models.StatusReturnPending {
		t.Fatalf("return_requested: %v %v %q", err, changed, next.Status)
	}
	if _, changed, err := ApplyEvent(next, TriggerReturnRequested, "", at); err != nil || changed {
		t.Fatalf("repeated event should be a no-op: %v %v", err, changed)
	}
	if _, _, err := ApplyEvent(next, TriggerHandoverCompleted, "", at); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("handover after return must not regress, got %v", err)
	}

	pending := models.Job{ID: "6", Kind: models.KindHire, Status: models.StatusHandoverPending}
	next, changed, err = ApplyEvent(pending, TriggerHandoverCompleted, "", at)
	if err != nil || !changed || next.Status != models.StatusActive {
		t.Fatalf("handover_completed: %v %v %q", err, changed, next.Status)
	}

	arrived := models.Job{ID: "8", Kind: models.KindShare, Status: models.StatusArrived}
	next, changed, err = ApplyEvent(arrived, TriggerStatus, models.StatusBoarded, at)
	if err != nil || !changed || next.Status != models.StatusBoarded {
		t.Fatalf("rider status: %v %v %q", err, changed, next.Status)
	}
	next, changed, err = ApplyEvent(arrived, TriggerStatus, models.StatusCancelled, at)
	if err != nil || !changed || next.Status != models.StatusCancelled {
		t.Fatalf("administrative cancel: %v %v %q", err, changed, next.Status)
	}
}

func TestCompareTerminalSticky(t *testing.T) {
	if Compare(models.KindShare, models.StatusCancelled, models.StatusCompleted) != 0 {
		t.Fatalf("two terminals should compare equal")
	}
	if Compare(models.KindShare, models.StatusCancelled, models.StatusBoarded) <= 0 {
		t.Fatalf("terminal should outrank non-terminal")
	}
	if Compare(models.KindHire, "Mystery", models.StatusScheduled) >= 0 {
		t.Fatalf("unknown status should rank lowest")
	}
}
