package lifecycle

import (
	"github.com/example/driver-console-sync/internal/models"
)

// Action is a driver-initiated request against a job.
type Action string

const (
	ActionStartPickup     Action = "start_pickup"
	ActionArrive          Action = "arrive"
	ActionBoard           Action = "board"
	ActionStartTrip       Action = "start_trip"
	ActionComplete        Action = "complete"
	ActionConfirmHandover Action = "confirm_handover"
	ActionConfirmReturn   Action = "confirm_return"
	ActionCancel          Action = "cancel"
	ActionDecline         Action = "decline"
	ActionUpdateStatus    Action = "update_status"
)

// Trigger is an inbound event that may advance a job out of a wait state.
type Trigger string

const (
	TriggerReturnRequested   Trigger = "return_requested"
	TriggerHandoverCompleted Trigger = "handover_completed"
	// TriggerStatus carries a status observed on the rider side or pushed by
	// the server.
	TriggerStatus            Trigger = "status"
)

type edge struct {
	action Action
	to     models.JobStatus
}

// Each non-terminal state has at most one forward driver edge. Wait states
// are absent from these tables on purpose.
var driverEdges = map[models.JobKind]map[models.JobStatus]edge{
	models.KindShare: {
		models.StatusScheduled:  {ActionStartPickup, models.StatusInbound},
		models.StatusApproved:   {ActionStartPickup, models.StatusInbound},
		models.StatusInbound:    {ActionArrive, models.StatusArrived},
		models.StatusBoarded:    {ActionStartTrip, models.StatusInProgress},
		models.StatusInProgress: {ActionComplete, models.StatusPaymentDue},
	},
	models.KindHire: {
		models.StatusScheduled:     {ActionConfirmHandover, models.StatusActive},
		models.StatusApproved:      {ActionConfirmHandover, models.StatusActive},
		models.StatusReturnPending: {ActionConfirmReturn, models.StatusCompleted},
	},
}

// Event edges out of wait states, keyed by the trigger that normally
// releases each one. A wait state is exactly a state listed here.
var eventEdges = map[models.JobKind]map[models.JobStatus]map[Trigger]models.JobStatus{
	models.KindShare: {
		models.StatusArrived:    {TriggerStatus: models.StatusBoarded},
		models.StatusPaymentDue: {TriggerStatus: models.StatusCompleted},
	},
	models.KindHire: {
		models.StatusHandoverPending: {TriggerHandoverCompleted: models.StatusActive},
		models.StatusActive:          {TriggerReturnRequested: models.StatusReturnPending},
	},
}

var ranks = map[models.JobKind]map[models.JobStatus]int{
	models.KindShare: {
		models.StatusScheduled:  0,
		models.StatusApproved:   0,
		models.StatusInbound:    1,
		models.StatusArrived:    2,
		models.StatusBoarded:    3,
		models.StatusInProgress: 4,
		models.StatusPaymentDue: 5,
		models.StatusCompleted:  6,
		models.StatusCancelled:  6,
	},
	models.KindHire: {
		models.StatusScheduled:       0,
		models.StatusApproved:        0,
		models.StatusHandoverPending: 1,
		models.StatusActive:          2,
		models.StatusReturnPending:   3,
		models.StatusCompleted:       4,
		models.StatusCancelled:       4,
	},
}

// Rank is the position of status along kind's graph. Unknown statuses report
// ok=false. An empty kind is inferred from the status.
func Rank(kind models.JobKind, status models.JobStatus) (int, bool) {
	if kind == "" {
		kind = InferKind(status)
	}
	r, ok := ranks[kind][status]
	return r, ok
}

// InferKind guesses the flow from a status that belongs to only one graph.
func InferKind(status models.JobStatus) models.JobKind {
	if _, ok := ranks[models.KindShare][status]; ok {
		if _, hire := ranks[models.KindHire][status]; !hire {
			return models.KindShare
		}
	}
	if _, ok := ranks[models.KindHire][status]; ok {
		if _, share := ranks[models.KindShare][status]; !share {
			return models.KindHire
		}
	}
	return models.KindShare
}

// Compare orders two statuses of the same job. Terminal statuses outrank
// everything; two different terminals compare equal so the first one sticks.
// Unknown statuses rank below every known one.
func Compare(kind models.JobKind, a, b models.JobStatus) int {
	if a == b {
		return 0
	}
	if a.Terminal() && b.Terminal() {
		return 0
	}
	if a.Terminal() {
		return 1
	}
	if b.Terminal() {
		return -1
	}
	ra, oka := Rank(kind, a)
	rb, okb := Rank(kind, b)
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// IsWaitState reports whether status accepts no driver-initiated action.
func IsWaitState(kind models.JobKind, status models.JobStatus) bool {
	if kind == "" {
		kind = InferKind(status)
	}
	_, evented := eventEdges[kind][status]
	return evented
}

// LegalActions lists the driver actions accepted in job's current status.
func LegalActions(job models.Job) []Action {
	if job.Status.Terminal() || IsWaitState(job.Kind, job.Status) {
		return nil
	}
	kind := job.Kind
	if kind == "" {
		kind = InferKind(job.Status)
	}
	e, ok := driverEdges[kind][job.Status]
	if !ok {
		return nil
	}
	return []Action{e.action, ActionCancel, ActionDecline}
}

func driverEdge(kind models.JobKind, status models.JobStatus, action Action) (edge, bool) {
	if status.Terminal() || IsWaitState(kind, status) {
		return edge{}, false
	}
	if kind == "" {
		kind = InferKind(status)
	}
	e, ok := driverEdges[kind][status]
	if !ok {
		return edge{}, false
	}
	switch action {
	case e.action:
		return e, true
	case ActionCancel, ActionDecline:
		return edge{action: action, to: models.StatusCancelled}, true
	}
	return edge{}, false
}
