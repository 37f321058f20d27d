package console

import (
	"fmt"

	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/realtime"
	"github.com/example/driver-console-sync/internal/reconcile"
)

// handledEvents maps each consumed event to its reducer.
func (s *Session) handledEvents() map[string]realtime.Handler {
	return map[string]realtime.Handler{
		realtime.EvNotification:          s.onNotification,
		realtime.EvNewRideRequest:        s.onRequest,
		realtime.EvHireRequest:           s.onRequest,
		realtime.EvRideRequest:           s.onRequest,
		realtime.EvRideSharePostAdded:    s.onListing,
		realtime.EvHirePostAdded:         s.onListing,
		realtime.EvVehicleAdded:          s.onListing,
		realtime.EvNewMessage:            s.onMessage,
		realtime.EvReturnRequested:       s.onJobEvent,
		realtime.EvHandoverCompleted:     s.onJobEvent,
		realtime.EvRideStatusUpdate:      s.onJobEvent,
		realtime.EvSubscriptionActivated: s.onSubscription,
	}
}

func (s *Session) registerHandlers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for event, h := range s.handledEvents() {
		s.handlers[event] = s.opts.Channel.On(event, h)
	}
}

func (s *Session) onNotification(ev realtime.Event) {
	n, ok := ev.(realtime.NotificationEvent)
	if !ok {
		return
	}
	s.submit(reconcile.NotificationAppend{Notification: n.Notification, Source: reconcile.SourcePush})
}

// onRequest prepends the request and, when it is new, raises a notification
// for it.
func (s *Session) onRequest(ev realtime.Event) {
	re, ok := ev.(realtime.RequestEvent)
	if !ok {
		return
	}
	req := re.Request
	s.enqueue(op{
		u: reconcile.RequestUpsert{Request: req, Source: reconcile.SourcePush},
		then: func(res reconcile.Result) {
			if res.Outcome != reconcile.OutcomeInserted {
				return
			}
			s.applyInLoop(reconcile.NotificationAppend{Notification: requestNotification(req), Source: reconcile.SourceLocal})
		},
	})
}

func requestNotification(r models.ApprovalRequest) models.Notification {
	title := "New ride request"
	if r.Kind == models.KindHire {
		title = "New hire request"
	}
	who := r.ClientName
	if who == "" {
		who = "A client"
	}
	msg := fmt.Sprintf("%s sent a request", who)
	if r.Origin != "" && r.Destination != "" {
		msg = fmt.Sprintf("%s: %s to %s", who, r.Origin, r.Destination)
	}
	return models.Notification{Title: title, Message: msg, CreatedAt: r.CreatedAt, Unread: true}
}

// onListing appends a marketplace post only when the viewer owns it.
func (s *Session) onListing(ev realtime.Event) {
	le, ok := ev.(realtime.ListingEvent)
	if !ok {
		return
	}
	if !s.identity.IsSelf(le.Listing.OwnerID) {
		s.logger.Debug("ignoring listing owned by someone else", "event", le.Name, "listing_id", le.Listing.ID, "owner_id", le.Listing.OwnerID)
		return
	}
	s.submit(reconcile.ListingUpsert{Listing: le.Listing, Source: reconcile.SourcePush})
}

func (s *Session) onMessage(ev realtime.Event) {
	me, ok := ev.(realtime.MessageEvent)
	if !ok {
		return
	}
	s.submit(reconcile.MessageRemote{ConversationID: me.ConversationID, Message: me.Message, Source: reconcile.SourcePush})
}

// onJobEvent moves the job and, after a terminal-side event, re-fetches the
// whole job collection to recover anything the push channel missed.
func (s *Session) onJobEvent(ev realtime.Event) {
	je, ok := ev.(realtime.JobEvent)
	if !ok {
		return
	}
	s.submit(reconcile.JobEvent{JobID: je.JobID, AltID: je.AltID, Trigger: je.Trigger, Status: je.Status, Source: reconcile.SourcePush})
	if je.Name == realtime.EvHandoverCompleted || je.Status.Terminal() {
		s.RefreshJobs()
	}
}

func (s *Session) onSubscription(ev realtime.Event) {
	se, ok := ev.(realtime.SubscriptionEvent)
	if !ok {
		return
	}
	s.submit(reconcile.SubscriptionUpdate{Subscription: se.Subscription, Source: reconcile.SourcePush})
}
