// Package lifecycle governs which driver actions are legal for a contracted
// job and how inbound events move it out of wait states.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/models"
)

// ActionAPI is the job-action collaborator. It returns the server's resulting
// status, which may be empty when the server does not echo one.
type ActionAPI interface {
	PerformAction(ctx context.Context, jobID models.ID, action Action, payload map[string]any) (models.JobStatus, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coord, error)
}

type DistanceEstimator interface {
	DistanceKm(ctx context.Context, from, to models.Coord) (float64, error)
}

type Machine struct {
	API      ActionAPI
	Geocoder Geocoder          // optional
	Distance DistanceEstimator // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

func (m *Machine) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Advance validates action against job's status, performs exactly one call to
// the action API and returns the job with its new status. On any failure the
// returned job is the input unchanged.
func (m *Machine) Advance(ctx context.Context, job models.Job, action Action) (models.Job, error) {
	const op = "lifecycle.Advance"
	e, ok := driverEdge(job.Kind, job.Status, action)
	if !ok {
		if IsWaitState(job.Kind, job.Status) {
			return job, apperr.InvalidTransition(op, "job %s is waiting in %q; %s is not accepted", job.ID, job.Status, action)
		}
		return job, apperr.InvalidTransition(op, "job %s: %s is not legal in %q", job.ID, action, job.Status)
	}

	var payload map[string]any
	if e.to == models.StatusCancelled {
		payload = map[string]any{"status": string(models.StatusCancelled), "reason": string(action)}
	}
	status, err := m.API.PerformAction(ctx, job.ID, action, payload)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return job, err
		}
		return job, apperr.Network(op, err)
	}

	next := job
	next.Status = e.to
	if status != "" {
		next.Status = status
	}
	next.UpdatedAt = m.now()
	m.logger().Info("job advanced", "job_id", job.ID, "action", action, "from", job.Status, "to", next.Status)

	if next.Kind == models.KindShare && next.Status == models.StatusInProgress {
		m.resolveRoute(ctx, &next)
	}
	return next, nil
}

// resolveRoute geocodes both ends of a share ride and attaches the distance.
// Failures are logged and never block the transition.
func (m *Machine) resolveRoute(ctx context.Context, job *models.Job) {
	if m.Geocoder == nil {
		return
	}
	var origin, dest *models.Coord
	var g errgroup.Group
	g.Go(func() error {
		c, err := m.Geocoder.Geocode(ctx, job.Destination)
		if err != nil {
			return err
		}
		dest = &c
		return nil
	})
	g.Go(func() error {
		c, err := m.Geocoder.Geocode(ctx, job.Origin)
		if err != nil {
			return err
		}
		origin = &c
		return nil
	})
	if err := g.Wait(); err != nil {
		m.logger().Warn("geocoding failed", "job_id", job.ID, "error", err)
	}
	job.OriginCoord = origin
	job.DestinationCoord = dest
	if origin == nil || dest == nil || m.Distance == nil {
		return
	}
	km, err := m.Distance.DistanceKm(ctx, *origin, *dest)
	if err != nil {
		m.logger().Warn("route distance failed", "job_id", job.ID, "error", err)
		return
	}
	job.DistanceKm = &km
}

// ApplyEvent moves job according to an inbound trigger. status is only read
// for TriggerStatus. A repeated event is a no-op (changed=false, nil error);
// an event that would move the job backwards is an InvalidTransition.
// A pushed Cancelled is administrative and accepted from any non-terminal
// status.
func ApplyEvent(job models.Job, trigger Trigger, status models.JobStatus, at time.Time) (next models.Job, changed bool, err error) {
	const op = "lifecycle.ApplyEvent"
	target := status
	switch trigger {
	case TriggerReturnRequested:
		target = models.StatusReturnPending
	case TriggerHandoverCompleted:
		target = models.StatusActive
	case TriggerStatus:
	default:
		return job, false, apperr.InvalidTransition(op, "unknown trigger %q", trigger)
	}
	if target == "" {
		return job, false, apperr.InvalidTransition(op, "job %s: %s without status", job.ID, trigger)
	}
	if target == job.Status {
		return job, false, nil
	}
	if job.Status.Terminal() {
		return job, false, apperr.InvalidTransition(op, "job %s already %q", job.ID, job.Status)
	}
	if target != models.StatusCancelled && Compare(job.Kind, target, job.Status) <= 0 {
		return job, false, apperr.InvalidTransition(op, "job %s: %q would regress %q", job.ID, target, job.Status)
	}
	if _, known := Rank(job.Kind, target); !known {
		return job, false, apperr.InvalidTransition(op, "job %s: %q is not a %s status", job.ID, target, job.Kind)
	}
	job.Status = target
	job.UpdatedAt = at
	return job, true, nil
}
