package console

import (
	"context"
	"errors"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/poll"
	"github.com/example/driver-console-sync/internal/reconcile"
)

const (
	pollJobs          = "jobs"
	pollRequests      = "requests"
	pollConversations = "conversations"
	pollNotifications = "notifications"
	pollMessages      = "messages"
)

var listingKinds = []models.ListingKind{models.ListingRideshare, models.ListingHire, models.ListingVehicle}

func listingPollKey(kind models.ListingKind) string { return "listings:" + string(kind) }

func (s *Session) startPolls() error {
	p := s.opts.Polls
	tasks := map[string]poll.Task{
		pollJobs:          {Interval: p.Jobs, Immediate: true, OnPoll: s.pollJobs},
		pollRequests:      {Interval: p.Requests, Immediate: true, OnPoll: s.pollRequests},
		pollConversations: {Interval: p.Conversations, Immediate: true, OnPoll: s.pollConversations},
		pollNotifications: {Interval: p.Notifications, Immediate: true, OnPoll: s.pollNotifications},
	}
	for _, kind := range listingKinds {
		tasks[listingPollKey(kind)] = poll.Task{Interval: p.Listings, Immediate: true, OnPoll: s.pollListings(kind)}
	}
	var errs []error
	for key, t := range tasks {
		if _, err := s.sched.Start(key, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Every poll reads the collection epoch before fetching and hands it back
// with the snapshot; a forced refresh in between makes the result stale.
// Results fetched after the session closed are never queued.

func (s *Session) pollJobs(ctx context.Context) error {
	epoch := s.engine.Epoch(reconcile.CollectionJobs)
	jobs, err := s.opts.API.FetchJobs(ctx)
	if err != nil {
		return asNetwork("poll.jobs", err)
	}
	s.submit(reconcile.JobSnapshot{Jobs: jobs, Source: reconcile.SourcePoll, Epoch: epoch})
	return nil
}

func (s *Session) pollRequests(ctx context.Context) error {
	epoch := s.engine.Epoch(reconcile.CollectionRequests)
	reqs, err := s.opts.API.FetchRequests(ctx)
	if err != nil {
		return asNetwork("poll.requests", err)
	}
	s.submit(reconcile.RequestSnapshot{Requests: reqs, Source: reconcile.SourcePoll, Epoch: epoch})
	return nil
}

func (s *Session) pollConversations(ctx context.Context) error {
	epoch := s.engine.Epoch(reconcile.CollectionConversations)
	convs, err := s.opts.API.FetchConversations(ctx)
	if err != nil {
		return asNetwork("poll.conversations", err)
	}
	s.submit(reconcile.ConversationSnapshot{Conversations: convs, Epoch: epoch})
	return nil
}

func (s *Session) pollNotifications(ctx context.Context) error {
	epoch := s.engine.Epoch(reconcile.CollectionNotifications)
	ns, err := s.opts.API.FetchNotifications(ctx)
	if err != nil {
		return asNetwork("poll.notifications", err)
	}
	s.submit(reconcile.NotificationSnapshot{Notifications: ns, Epoch: epoch})
	return nil
}

func (s *Session) pollListings(kind models.ListingKind) func(context.Context) error {
	return func(ctx context.Context) error {
		epoch := s.engine.ListingEpoch(kind)
		ls, err := s.opts.API.FetchListings(ctx, kind)
		if err != nil {
			return asNetwork("poll.listings", err)
		}
		s.submit(reconcile.ListingSnapshot{Kind: kind, Listings: ls, Source: reconcile.SourcePoll, Epoch: epoch})
		return nil
	}
}

func (s *Session) pollMessages(convID models.ID) func(context.Context) error {
	return func(ctx context.Context) error {
		msgs, err := s.opts.API.FetchMessages(ctx, convID)
		if err != nil {
			return asNetwork("poll.messages", err)
		}
		snap := reconcile.MessagesSnapshot{ConversationID: convID, Messages: msgs}
		s.enqueue(op{fn: func() {
			// the room may have been switched or closed while fetching
			if !models.SameID(s.conv.Active(), convID) {
				return
			}
			s.applyInLoop(snap)
		}})
		return nil
	}
}

// RefreshJobs re-fetches the whole job collection out of band. Concurrent
// calls share one fetch. The result takes precedence over any poll already
// in flight.
func (s *Session) RefreshJobs() {
	s.goTracked(func() {
		_, _, _ = s.refresh.Do(pollJobs, func() (any, error) {
			jobs, err := s.opts.API.FetchJobs(s.ctx)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("forced job refresh failed", "error", err)
				}
				return nil, err
			}
			s.submit(reconcile.JobSnapshot{Jobs: jobs, Source: reconcile.SourceRefresh})
			return nil, nil
		})
	})
}

func asNetwork(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Network(op, err)
}
