package reconcile

import (
	"github.com/example/driver-console-sync/internal/conversation"
	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
)

// Source tells which channel produced an update.
type Source string

const (
	SourcePoll    Source = "poll"
	SourcePush    Source = "push"
	SourceLocal   Source = "local"
	SourceRefresh Source = "refresh"
)

type Collection string

const (
	CollectionJobs          Collection = "jobs"
	CollectionRequests      Collection = "requests"
	CollectionListings      Collection = "listings"
	CollectionConversations Collection = "conversations"
	CollectionMessages      Collection = "messages"
	CollectionNotifications Collection = "notifications"
	CollectionSubscription  Collection = "subscription"
)

// Update is one typed incoming record. Every write to local state is an
// Update applied by Engine.Apply.
type Update interface {
	Collection() Collection
}

// JobUpsert merges one job. AltID is a secondary identity (a rideId) tried
// when ID does not match.
type JobUpsert struct {
	Job    models.Job
	AltID  models.ID
	Source Source
}

// JobEvent moves an existing job through an event-triggered transition.
type JobEvent struct {
	JobID   models.ID
	AltID   models.ID
	Trigger lifecycle.Trigger
	Status  models.JobStatus
	Source  Source
}

// JobSnapshot is a fetched job collection. Poll snapshots carry the epoch
// read before the fetch started; SourceRefresh snapshots advance the epoch.
type JobSnapshot struct {
	Jobs   []models.Job
	Source Source
	Epoch  uint64
}

type RequestUpsert struct {
	Request models.ApprovalRequest
	Source  Source
}

type RequestSnapshot struct {
	Requests []models.ApprovalRequest
	Source   Source
	Epoch    uint64
}

// RequestResolved removes a request from the pending set for the rest of
// the session.
type RequestResolved struct {
	ID models.ID
}

type ListingUpsert struct {
	Listing models.Listing
	Source  Source
}

type ListingSnapshot struct {
	Kind     models.ListingKind
	Listings []models.Listing
	Source   Source
	Epoch    uint64
}

type NotificationAppend struct {
	Notification models.Notification
	Source       Source
}

type NotificationSnapshot struct {
	Notifications []models.Notification
	Epoch         uint64
}

// NotificationsRead marks one notification read, or all when ID is empty.
type NotificationsRead struct {
	ID models.ID
}

type ConversationSnapshot struct {
	Conversations []models.Conversation
	Epoch         uint64
}

type MessageRemote struct {
	ConversationID models.ID
	Message        conversation.Remote
	Source         Source
}

type MessagesSnapshot struct {
	ConversationID models.ID
	Messages       []conversation.Remote
}

type MessageLocal struct {
	ConversationID models.ID
	Message        models.Message
}

type SubscriptionUpdate struct {
	Subscription models.Subscription
	Source       Source
}

func (JobUpsert) Collection() Collection            { return CollectionJobs }
func (JobEvent) Collection() Collection             { return CollectionJobs }
func (JobSnapshot) Collection() Collection          { return CollectionJobs }
func (RequestUpsert) Collection() Collection        { return CollectionRequests }
func (RequestSnapshot) Collection() Collection      { return CollectionRequests }
func (RequestResolved) Collection() Collection      { return CollectionRequests }
func (ListingUpsert) Collection() Collection        { return CollectionListings }
func (ListingSnapshot) Collection() Collection      { return CollectionListings }
func (NotificationAppend) Collection() Collection   { return CollectionNotifications }
func (NotificationSnapshot) Collection() Collection { return CollectionNotifications }
func (NotificationsRead) Collection() Collection    { return CollectionNotifications }
func (ConversationSnapshot) Collection() Collection { return CollectionConversations }
func (MessageRemote) Collection() Collection        { return CollectionMessages }
func (MessagesSnapshot) Collection() Collection     { return CollectionMessages }
func (MessageLocal) Collection() Collection         { return CollectionMessages }
func (SubscriptionUpdate) Collection() Collection   { return CollectionSubscription }

// Outcome of applying one update.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStale     Outcome = "stale"
	OutcomeDropped   Outcome = "dropped"
)

type Result struct {
	Outcome     Outcome
	Transitions []models.Transition
	// Message is the stored message for MessageLocal and MessageRemote.
	Message *models.Message
	// Err explains a dropped update.
	Err error
}
