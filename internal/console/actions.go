package console

import (
	"context"
	"errors"
	"strings"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/payments"
	"github.com/example/driver-console-sync/internal/poll"
	"github.com/example/driver-console-sync/internal/realtime"
	"github.com/example/driver-console-sync/internal/reconcile"
)

// PerformAction runs a driver action against a job. On failure the job is
// returned as it was and the error says why.
func (s *Session) PerformAction(ctx context.Context, jobID models.ID, action lifecycle.Action) (models.Job, error) {
	const op = "console.PerformAction"
	job, ok := s.engine.Job(jobID)
	if !ok {
		return models.Job{}, apperr.InvalidTransition(op, "unknown job %s", jobID)
	}
	next, err := s.machine.Advance(ctx, job, action)
	if err != nil {
		s.logger.Warn("job action failed", "job_id", jobID, "action", action, "error", err)
		return job, err
	}
	if _, err := s.apply(ctx, reconcile.JobUpsert{Job: next, Source: reconcile.SourceLocal}); err != nil {
		return job, err
	}
	cur, _ := s.engine.Job(jobID)
	return cur, nil
}

// Approve accepts a pending request and promotes it to a job. A job the
// server does not describe fully starts as Scheduled.
func (s *Session) Approve(ctx context.Context, requestID models.ID) (models.Job, error) {
	req, known := s.engine.Request(requestID)
	promoted, err := s.opts.API.Approve(ctx, requestID)
	if err != nil {
		s.logger.Warn("approve failed", "request_id", requestID, "error", err)
		return models.Job{}, err
	}
	if !known {
		req = models.ApprovalRequest{ID: requestID}
	}
	job := promotedJob(req, promoted)

	err = s.exec(ctx, func() {
		s.applyInLoop(reconcile.RequestResolved{ID: requestID})
		s.applyInLoop(reconcile.JobUpsert{Job: job, AltID: req.RideID, Source: reconcile.SourceLocal})
	})
	if err != nil {
		return job, err
	}
	if cur, ok := s.engine.Job(job.ID); ok {
		return cur, nil
	}
	return job, nil
}

func promotedJob(req models.ApprovalRequest, promoted *models.Job) models.Job {
	var job models.Job
	if promoted != nil {
		job = *promoted
	}
	if job.ID.Empty() {
		job.ID = req.Key()
		if !req.RideID.Empty() {
			job.ID = req.RideID
		}
	}
	if job.Kind == "" {
		job.Kind = req.Kind
	}
	if job.Status == "" {
		job.Status = models.StatusScheduled
	}
	if job.Origin == "" {
		job.Origin = req.Origin
	}
	if job.Destination == "" {
		job.Destination = req.Destination
	}
	if job.ClientName == "" {
		job.ClientName = req.ClientName
	}
	if job.ClientID.Empty() {
		job.ClientID = req.ClientID
	}
	if job.AcceptedPrice == 0 {
		job.AcceptedPrice = req.OfferedPrice
		if n := len(req.Negotiation); n > 0 {
			job.AcceptedPrice = req.Negotiation[n-1].Price
		}
	}
	if job.NegotiationStatus == "" && len(req.Negotiation) > 0 {
		job.NegotiationStatus = models.NegotiationApproved
	}
	return job
}

func (s *Session) Reject(ctx context.Context, requestID models.ID) error {
	if err := s.opts.API.Reject(ctx, requestID); err != nil {
		s.logger.Warn("reject failed", "request_id", requestID, "error", err)
		return err
	}
	_, err := s.apply(ctx, reconcile.RequestResolved{ID: requestID})
	return err
}

// CounterOffer proposes a new price. The request leaves the pending set; a
// reply from the client arrives as a new request.
func (s *Session) CounterOffer(ctx context.Context, requestID models.ID, price float64, message string) error {
	if price <= 0 {
		return errors.New("console: counter-offer price must be positive")
	}
	if err := s.opts.API.CounterOffer(ctx, requestID, price, message); err != nil {
		s.logger.Warn("counter-offer failed", "request_id", requestID, "error", err)
		return err
	}
	_, err := s.apply(ctx, reconcile.RequestResolved{ID: requestID})
	return err
}

// SendMessage appends the message optimistically, then emits it with its
// correlation id so the server echo folds back onto the local entry.
func (s *Session) SendMessage(ctx context.Context, conversationID models.ID, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, errors.New("console: empty message")
	}
	res, err := s.apply(ctx, reconcile.MessageLocal{ConversationID: conversationID, Message: models.Message{Text: text}})
	if err != nil {
		return models.Message{}, err
	}
	if res.Message == nil {
		return models.Message{}, res.Err
	}
	m := *res.Message
	err = s.opts.Channel.Emit(realtime.EmitSendMessage, map[string]any{
		"conversationId": conversationID,
		"text":           m.Text,
		"correlationId":  m.CorrelationID,
		"tempId":         m.ID,
	})
	if err != nil {
		s.logger.Warn("send_message emit failed", "conversation_id", conversationID, "error", err)
		return m, err
	}
	return m, nil
}

// SetActiveConversation switches the open conversation: the previous room is
// left, the new one joined, and the message poll follows the new room. An
// empty id closes the open conversation.
func (s *Session) SetActiveConversation(ctx context.Context, conversationID models.ID) error {
	var prev models.ID
	if err := s.exec(ctx, func() { prev = s.conv.SetActive(conversationID) }); err != nil {
		return err
	}
	if models.SameID(prev, conversationID) {
		if _, err := s.sched.Start(pollMessages, s.messagesTask(conversationID)); err != nil {
			return err
		}
		return nil
	}
	if !prev.Empty() {
		if err := s.opts.Channel.Emit(realtime.EmitLeaveConversation, map[string]any{"conversationId": prev}); err != nil {
			s.logger.Warn("leave_conversation emit failed", "conversation_id", prev, "error", err)
		}
	}
	s.sched.Stop(pollMessages)
	if conversationID.Empty() {
		return nil
	}
	if err := s.opts.Channel.Emit(realtime.EmitJoinConversation, map[string]any{"conversationId": conversationID}); err != nil {
		s.logger.Warn("join_conversation emit failed", "conversation_id", conversationID, "error", err)
	}
	_, err := s.sched.Start(pollMessages, s.messagesTask(conversationID))
	return err
}

func (s *Session) messagesTask(convID models.ID) poll.Task {
	return poll.Task{Interval: s.opts.Polls.Messages, Immediate: true, OnPoll: s.pollMessages(convID)}
}

func (s *Session) MarkConversationRead(ctx context.Context, conversationID models.ID) error {
	return s.exec(ctx, func() { s.conv.MarkRead(conversationID) })
}

// MarkNotificationRead clears one notification, or all of them when id is
// empty.
func (s *Session) MarkNotificationRead(ctx context.Context, id models.ID) error {
	_, err := s.apply(ctx, reconcile.NotificationsRead{ID: id})
	return err
}

func (s *Session) MarkAllNotificationsRead(ctx context.Context) error {
	return s.MarkNotificationRead(ctx, "")
}

// Subscribe charges plan and waits for the payment to settle. The
// subscription only changes once the charge succeeds.
func (s *Session) Subscribe(ctx context.Context, plan string) (models.Subscription, error) {
	const op = "console.Subscribe"
	if s.verifier == nil {
		return s.engine.Subscription(), ErrNoPayments
	}
	chargeID, err := s.opts.Payments.Initiate(ctx, plan, s.identity)
	if err != nil {
		s.logger.Warn("payment initiation failed", "plan", plan, "error", err)
		return s.engine.Subscription(), asNetwork(op, err)
	}
	st, err := s.verifier.Wait(ctx, chargeID)
	if err != nil {
		s.logger.Warn("payment verification did not settle", "charge_id", chargeID, "error", err)
		return s.engine.Subscription(), err
	}
	if st != payments.StatusSuccess {
		return s.engine.Subscription(), ErrPaymentFailed
	}
	sub := models.Subscription{Plan: plan, ChargeID: chargeID, Active: true}
	if _, err := s.apply(ctx, reconcile.SubscriptionUpdate{Subscription: sub, Source: reconcile.SourceLocal}); err != nil {
		return s.engine.Subscription(), err
	}
	return s.engine.Subscription(), nil
}

// ReportLocation emits the driver's position, at most once per location
// interval. It reports whether the update was sent.
func (s *Session) ReportLocation(c models.Coord) (bool, error) {
	if !s.limiter.Allow() {
		return false, nil
	}
	err := s.opts.Channel.Emit(realtime.EmitUpdateLocation, map[string]any{
		"driverId": s.identity.UserID,
		"lat":      c.Lat,
		"lon":      c.Lon,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
