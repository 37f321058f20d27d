package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/wire"
)

// actionPaths maps each driver action to its endpoint under /jobs/{id}.
// Cancel, decline and plain status updates share the generic status
// endpoint.
var actionPaths = map[lifecycle.Action]string{
	lifecycle.ActionStartPickup:     "start-pickup",
	lifecycle.ActionArrive:          "arrive",
	lifecycle.ActionBoard:           "board",
	lifecycle.ActionStartTrip:       "start",
	lifecycle.ActionComplete:        "complete",
	lifecycle.ActionConfirmHandover: "confirm-handover",
	lifecycle.ActionConfirmReturn:   "confirm-return",
	lifecycle.ActionCancel:          "status",
	lifecycle.ActionDecline:         "status",
	lifecycle.ActionUpdateStatus:    "status",
}

// PerformAction calls the endpoint for action and returns the status the
// server reports, or "" when the response carries none.
func (c *Client) PerformAction(ctx context.Context, jobID models.ID, action lifecycle.Action, payload map[string]any) (models.JobStatus, error) {
	const op = "api.PerformAction"
	seg, ok := actionPaths[action]
	if !ok {
		return "", fmt.Errorf("%s: unknown action %q", op, action)
	}
	method := http.MethodPost
	if seg == "status" {
		method = http.MethodPatch
	}
	var raw json.RawMessage
	path := fmt.Sprintf("/jobs/%s/%s", pathEscape(jobID), seg)
	if err := c.do(ctx, op, method, path, nil, payload, &raw); err != nil {
		return "", err
	}
	var p wire.JobPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(wire.Unwrap(raw, "job", "ride", "hire"), &p)
	}
	status := wire.NormalizeStatus(p.Status)
	c.logger.Debug("job action sent", "job_id", jobID, "action", action, "server_status", status)
	return status, nil
}

// Approve accepts a pending request. The promoted job is returned when the
// server echoes one; nil otherwise.
func (c *Client) Approve(ctx context.Context, requestID models.ID) (*models.Job, error) {
	const op = "api.Approve"
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("/requests/%s/approve", pathEscape(requestID)), nil, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var p wire.JobPayload
	if err := json.Unmarshal(wire.Unwrap(raw, "job", "ride", "hire"), &p); err != nil {
		c.logger.Debug("approve response without job", "request_id", requestID, "error", err)
		return nil, nil
	}
	job, _, err := p.Normalize()
	if err != nil {
		return nil, nil
	}
	return &job, nil
}

func (c *Client) Reject(ctx context.Context, requestID models.ID) error {
	return c.do(ctx, "api.Reject", http.MethodPost, fmt.Sprintf("/requests/%s/reject", pathEscape(requestID)), nil, nil, nil)
}

// CounterOffer proposes a different price for a pending request.
func (c *Client) CounterOffer(ctx context.Context, requestID models.ID, price float64, message string) error {
	body := map[string]any{"price": price}
	if message != "" {
		body["message"] = message
	}
	return c.do(ctx, "api.CounterOffer", http.MethodPost, fmt.Sprintf("/requests/%s/counter-offer", pathEscape(requestID)), nil, body, nil)
}
