// Package reconcile merges records observed through the push channel, the
// poll channel and local actions into one local state. Precedence, not
// locking, decides which observation wins: a job status further along its
// graph beats a fresher but older status, and a forced refresh invalidates
// polls that were already in flight.
package reconcile

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/conversation"
	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/observability"
)

type Engine struct {
	mu sync.RWMutex

	jobs []models.Job

	requests       []models.ApprovalRequest
	requestsPolled map[models.ID]bool
	resolved       map[models.ID]struct{}

	listings       map[models.ListingKind][]models.Listing
	listingsPolled map[models.ListingKind]map[models.ID]bool

	notifications []models.Notification
	subscription  models.Subscription

	epochs map[string]uint64

	conv   *conversation.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(conv *conversation.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		requestsPolled: make(map[models.ID]bool),
		resolved:       make(map[models.ID]struct{}),
		listings:       make(map[models.ListingKind][]models.Listing),
		listingsPolled: make(map[models.ListingKind]map[models.ID]bool),
		epochs:         make(map[string]uint64),
		conv:           conv,
		logger:         logger,
		now:            time.Now,
	}
}

// Epoch returns the current epoch of a collection. Poll tasks read it before
// fetching and hand it back with the snapshot.
func (e *Engine) Epoch(c Collection) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochs[string(c)]
}

// ListingEpoch is Epoch for one listing kind.
func (e *Engine) ListingEpoch(kind models.ListingKind) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochs[listingEpochKey(kind)]
}

func listingEpochKey(kind models.ListingKind) string {
	return string(CollectionListings) + ":" + string(kind)
}

// Apply merges one update. It is the only writer of engine state.
func (e *Engine) Apply(u Update) Result {
	var res Result
	switch v := u.(type) {
	case JobUpsert:
		res = e.applyJobUpsert(v)
	case JobEvent:
		res = e.applyJobEvent(v)
	case JobSnapshot:
		res = e.applyJobSnapshot(v)
	case RequestUpsert:
		res = e.applyRequestUpsert(v)
	case RequestSnapshot:
		res = e.applyRequestSnapshot(v)
	case RequestResolved:
		res = e.applyRequestResolved(v)
	case ListingUpsert:
		res = e.applyListingUpsert(v)
	case ListingSnapshot:
		res = e.applyListingSnapshot(v)
	case NotificationAppend:
		res = e.applyNotification(v)
	case NotificationSnapshot:
		res = e.applyNotificationSnapshot(v)
	case NotificationsRead:
		res = e.applyNotificationsRead(v)
	case ConversationSnapshot:
		res = e.applyConversationSnapshot(v)
	case MessageRemote:
		res = e.applyMessageRemote(v)
	case MessagesSnapshot:
		res = e.applyMessagesSnapshot(v)
	case MessageLocal:
		res = e.applyMessageLocal(v)
	case SubscriptionUpdate:
		res = e.applySubscription(v)
	default:
		res = Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.Apply", "unknown update %T", u)}
	}
	observability.RecordsMerged.WithLabelValues(string(u.Collection()), string(res.Outcome)).Inc()
	if res.Outcome == OutcomeDropped && res.Err != nil {
		observability.RecordsDropped.WithLabelValues(string(u.Collection())).Inc()
		e.logger.Debug("record dropped", "collection", u.Collection(), "error", res.Err)
	}
	return res
}

// ---- jobs ----

// findJob matches id against stored ids first, then the secondary identity
// of either side.
func (e *Engine) findJob(id, alt models.ID) int {
	for i, j := range e.jobs {
		if models.SameID(j.ID, id) {
			return i
		}
	}
	for i, j := range e.jobs {
		if models.SameID(j.RideID, id) || models.SameID(j.ID, alt) || models.SameID(j.RideID, alt) {
			return i
		}
	}
	return -1
}

// mergeJob picks the winner between the stored job and an incoming
// observation of it. The incoming record wins when its status is further
// along. At equal rank the stored status stays and only the other fields
// are taken. Locally resolved route data survives either way.
func mergeJob(cur, in models.Job) models.Job {
	if in.Kind == "" {
		in.Kind = cur.Kind
	}
	if in.Status == "" {
		in.Status = cur.Status
	}
	if cur.Status.Terminal() && in.Status != cur.Status {
		return cur
	}
	switch c := lifecycle.Compare(cur.Kind, in.Status, cur.Status); {
	case c < 0:
		return cur
	case c == 0:
		in.Status = cur.Status
	}
	// matched through the secondary identity: keep the stored id, remember
	// the incoming one
	if !in.ID.Empty() && !models.SameID(in.ID, cur.ID) {
		in.RideID = in.ID
	}
	if in.RideID.Empty() {
		in.RideID = cur.RideID
	}
	in.ID = cur.ID
	if in.OriginCoord == nil {
		in.OriginCoord = cur.OriginCoord
	}
	if in.DestinationCoord == nil {
		in.DestinationCoord = cur.DestinationCoord
	}
	if in.DistanceKm == nil {
		in.DistanceKm = cur.DistanceKm
	}
	if in.Rider == nil {
		in.Rider = cur.Rider
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = cur.UpdatedAt
	}
	return in
}

// upsertJobLocked returns the outcome and, when the status moved, the
// transition.
func (e *Engine) upsertJobLocked(in models.Job, alt models.ID, src Source) (Outcome, *models.Transition) {
	i := e.findJob(in.ID, alt)
	if i < 0 {
		if in.ID.Empty() {
			in.ID = alt
		}
		if in.RideID.Empty() && !models.SameID(alt, in.ID) {
			in.RideID = alt
		}
		if in.Status == "" {
			in.Status = models.StatusScheduled
		}
		if in.Kind == "" {
			in.Kind = lifecycle.InferKind(in.Status)
		}
		e.jobs = append(e.jobs, in)
		return OutcomeInserted, nil
	}
	cur := e.jobs[i]
	next := mergeJob(cur, in)
	if reflect.DeepEqual(cur, next) {
		return OutcomeUnchanged, nil
	}
	e.jobs[i] = next
	if next.Status == cur.Status {
		return OutcomeUpdated, nil
	}
	return OutcomeUpdated, &models.Transition{
		JobID:  next.ID,
		Kind:   next.Kind,
		From:   cur.Status,
		To:     next.Status,
		Source: string(src),
		At:     e.now(),
	}
}

func (e *Engine) applyJobUpsert(u JobUpsert) Result {
	if u.Job.ID.Empty() && u.AltID.Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.JobUpsert", "job without id")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out, tr := e.upsertJobLocked(u.Job, u.AltID, u.Source)
	return withTransition(Result{Outcome: out}, tr)
}

func (e *Engine) applyJobEvent(u JobEvent) Result {
	if u.JobID.Empty() && u.AltID.Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.JobEvent", "%s without job id", u.Trigger)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.findJob(u.JobID, u.AltID)
	if i < 0 {
		return Result{Outcome: OutcomeDropped, Err: fmt.Errorf("reconcile.JobEvent: %s for unknown job %s", u.Trigger, u.JobID)}
	}
	cur := e.jobs[i]
	next, changed, err := lifecycle.ApplyEvent(cur, u.Trigger, u.Status, e.now())
	if err != nil {
		return Result{Outcome: OutcomeDropped, Err: err}
	}
	if !changed {
		return Result{Outcome: OutcomeUnchanged}
	}
	e.jobs[i] = next
	return withTransition(Result{Outcome: OutcomeUpdated}, &models.Transition{
		JobID: next.ID, Kind: next.Kind, From: cur.Status, To: next.Status, Source: string(u.Source), At: e.now(),
	})
}

// applyJobSnapshot merges a fetched job collection. Jobs missing from the
// snapshot are kept: a job only leaves the collection with the session.
func (e *Engine) applyJobSnapshot(u JobSnapshot) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := string(CollectionJobs)
	if u.Source == SourceRefresh {
		e.epochs[key]++
	} else if u.Epoch != e.epochs[key] {
		return Result{Outcome: OutcomeStale}
	}
	res := Result{Outcome: OutcomeUnchanged}
	for _, j := range u.Jobs {
		if j.ID.Empty() {
			e.logger.Debug("record dropped", "collection", CollectionJobs, "error", "job without id")
			observability.RecordsDropped.WithLabelValues(string(CollectionJobs)).Inc()
			continue
		}
		out, tr := e.upsertJobLocked(j, j.RideID, u.Source)
		if out != OutcomeUnchanged {
			res.Outcome = OutcomeUpdated
		}
		res = withTransition(res, tr)
	}
	return res
}

func withTransition(r Result, tr *models.Transition) Result {
	if tr != nil {
		r.Transitions = append(r.Transitions, *tr)
		observability.JobTransitions.WithLabelValues(string(tr.Kind), string(tr.To)).Inc()
	}
	return r
}

// ---- approval requests ----

func (e *Engine) isResolvedLocked(r models.ApprovalRequest) bool {
	for _, id := range []models.ID{r.ID, r.RideID} {
		if id.Empty() {
			continue
		}
		if _, ok := e.resolved[id]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) findRequestLocked(r models.ApprovalRequest) int {
	for i, cur := range e.requests {
		if cur.Matches(r.ID) || cur.Matches(r.RideID) {
			return i
		}
	}
	return -1
}

func mergeRequest(cur, in models.ApprovalRequest) models.ApprovalRequest {
	if in.ID.Empty() {
		in.ID = cur.ID
	}
	if in.RideID.Empty() {
		in.RideID = cur.RideID
	}
	if len(in.Negotiation) < len(cur.Negotiation) {
		in.Negotiation = cur.Negotiation
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = cur.CreatedAt
	}
	return in
}

func (e *Engine) applyRequestUpsert(u RequestUpsert) Result {
	r := u.Request
	if r.Key().Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.RequestUpsert", "request without id")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isResolvedLocked(r) {
		return Result{Outcome: OutcomeUnchanged}
	}
	if i := e.findRequestLocked(r); i >= 0 {
		next := mergeRequest(e.requests[i], r)
		if reflect.DeepEqual(next, e.requests[i]) {
			return Result{Outcome: OutcomeUnchanged}
		}
		e.requests[i] = next
		return Result{Outcome: OutcomeUpdated}
	}
	// newest requests first
	e.requests = append([]models.ApprovalRequest{r}, e.requests...)
	return Result{Outcome: OutcomeInserted}
}

// applyRequestSnapshot treats the poll as the server's pending set: entries
// seen by an earlier poll and now missing were resolved elsewhere. Entries
// only pushed so far are kept until a poll has had the chance to see them.
func (e *Engine) applyRequestSnapshot(u RequestSnapshot) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := string(CollectionRequests)
	if u.Source == SourceRefresh {
		e.epochs[key]++
	} else if u.Epoch != e.epochs[key] {
		return Result{Outcome: OutcomeStale}
	}

	present := make(map[models.ID]bool, len(u.Requests))
	for _, r := range u.Requests {
		if k := r.Key(); !k.Empty() {
			present[k] = true
			if !r.RideID.Empty() {
				present[r.RideID] = true
			}
		}
	}
	before := append([]models.ApprovalRequest(nil), e.requests...)

	kept := e.requests[:0:0]
	for _, cur := range e.requests {
		inSnap := present[cur.ID] || present[cur.RideID]
		if !inSnap && e.requestsPolled[cur.Key()] {
			delete(e.requestsPolled, cur.Key())
			continue
		}
		kept = append(kept, cur)
	}
	e.requests = kept

	for _, r := range u.Requests {
		if r.Key().Empty() {
			observability.RecordsDropped.WithLabelValues(string(CollectionRequests)).Inc()
			continue
		}
		if e.isResolvedLocked(r) {
			continue
		}
		if i := e.findRequestLocked(r); i >= 0 {
			e.requests[i] = mergeRequest(e.requests[i], r)
		} else {
			e.requests = append(e.requests, r)
		}
		e.requestsPolled[e.requests[e.findRequestLocked(r)].Key()] = true
	}
	if reflect.DeepEqual(before, e.requests) {
		return Result{Outcome: OutcomeUnchanged}
	}
	return Result{Outcome: OutcomeUpdated}
}

func (e *Engine) applyRequestResolved(u RequestResolved) Result {
	if u.ID.Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.RequestResolved", "request without id")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolved[u.ID] = struct{}{}
	out := OutcomeUnchanged
	kept := e.requests[:0:0]
	for _, r := range e.requests {
		if r.Matches(u.ID) {
			for _, id := range []models.ID{r.ID, r.RideID} {
				if !id.Empty() {
					e.resolved[id] = struct{}{}
				}
			}
			delete(e.requestsPolled, r.Key())
			out = OutcomeUpdated
			continue
		}
		kept = append(kept, r)
	}
	e.requests = kept
	return Result{Outcome: out}
}

// ---- listings ----

func (e *Engine) applyListingUpsert(u ListingUpsert) Result {
	l := u.Listing
	if l.ID.Empty() || l.Kind == "" {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.ListingUpsert", "listing without id or kind")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listings[l.Kind]
	for i, cur := range list {
		if models.SameID(cur.ID, l.ID) {
			if reflect.DeepEqual(cur, l) {
				return Result{Outcome: OutcomeUnchanged}
			}
			list[i] = l
			return Result{Outcome: OutcomeUpdated}
		}
	}
	e.listings[l.Kind] = append(list, l)
	return Result{Outcome: OutcomeInserted}
}

func (e *Engine) applyListingSnapshot(u ListingSnapshot) Result {
	if u.Kind == "" {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.ListingSnapshot", "snapshot without kind")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := listingEpochKey(u.Kind)
	if u.Source == SourceRefresh {
		e.epochs[key]++
	} else if u.Epoch != e.epochs[key] {
		return Result{Outcome: OutcomeStale}
	}
	polled := e.listingsPolled[u.Kind]
	if polled == nil {
		polled = make(map[models.ID]bool)
		e.listingsPolled[u.Kind] = polled
	}
	present := make(map[models.ID]models.Listing, len(u.Listings))
	for _, l := range u.Listings {
		if l.ID.Empty() {
			observability.RecordsDropped.WithLabelValues(string(CollectionListings)).Inc()
			continue
		}
		l.Kind = u.Kind
		present[l.ID] = l
	}
	before := append([]models.Listing(nil), e.listings[u.Kind]...)
	next := make([]models.Listing, 0, len(present))
	seen := make(map[models.ID]bool, len(present))
	for _, cur := range e.listings[u.Kind] {
		if l, ok := present[cur.ID]; ok {
			next = append(next, l)
			seen[cur.ID] = true
			continue
		}
		if polled[cur.ID] {
			delete(polled, cur.ID)
			continue
		}
		next = append(next, cur)
	}
	for _, l := range u.Listings {
		if l.ID.Empty() || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		next = append(next, present[l.ID])
	}
	for id := range present {
		polled[id] = true
	}
	e.listings[u.Kind] = next
	if reflect.DeepEqual(before, next) {
		return Result{Outcome: OutcomeUnchanged}
	}
	return Result{Outcome: OutcomeUpdated}
}

// ---- notifications ----

func (e *Engine) hasNotificationLocked(id models.ID) bool {
	if id.Empty() {
		return false
	}
	for _, n := range e.notifications {
		if models.SameID(n.ID, id) {
			return true
		}
	}
	return false
}

func (e *Engine) applyNotification(u NotificationAppend) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasNotificationLocked(u.Notification.ID) {
		return Result{Outcome: OutcomeUnchanged}
	}
	n := u.Notification
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.now()
	}
	e.notifications = append(e.notifications, n)
	return Result{Outcome: OutcomeInserted}
}

// applyNotificationSnapshot appends unseen notifications. Existing entries
// are never touched, so a poll cannot flip a read notification back.
func (e *Engine) applyNotificationSnapshot(u NotificationSnapshot) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.Epoch != e.epochs[string(CollectionNotifications)] {
		return Result{Outcome: OutcomeStale}
	}
	res := Result{Outcome: OutcomeUnchanged}
	for _, n := range u.Notifications {
		if n.ID.Empty() {
			observability.RecordsDropped.WithLabelValues(string(CollectionNotifications)).Inc()
			continue
		}
		if e.hasNotificationLocked(n.ID) {
			continue
		}
		e.notifications = append(e.notifications, n)
		res.Outcome = OutcomeInserted
	}
	return res
}

func (e *Engine) applyNotificationsRead(u NotificationsRead) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := Result{Outcome: OutcomeUnchanged}
	for i := range e.notifications {
		n := &e.notifications[i]
		if !n.Unread {
			continue
		}
		if u.ID.Empty() || models.SameID(n.ID, u.ID) {
			n.Unread = false
			res.Outcome = OutcomeUpdated
		}
	}
	return res
}

// ---- conversations ----

func (e *Engine) applyConversationSnapshot(u ConversationSnapshot) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.Epoch != e.epochs[string(CollectionConversations)] {
		return Result{Outcome: OutcomeStale}
	}
	for _, c := range u.Conversations {
		if c.ID.Empty() {
			observability.RecordsDropped.WithLabelValues(string(CollectionConversations)).Inc()
			continue
		}
		e.conv.MergeSummary(c)
	}
	return Result{Outcome: OutcomeUpdated}
}

func (e *Engine) applyMessageRemote(u MessageRemote) Result {
	if u.ConversationID.Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.MessageRemote", "message without conversation id")}
	}
	if u.Message.ID.Empty() && u.Message.CorrelationID == "" {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.MessageRemote", "message without id")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, out := e.conv.AppendRemote(u.ConversationID, u.Message)
	if out != conversation.Appended {
		return Result{Outcome: OutcomeUnchanged, Message: &m}
	}
	return Result{Outcome: OutcomeInserted, Message: &m}
}

func (e *Engine) applyMessagesSnapshot(u MessagesSnapshot) Result {
	if u.ConversationID.Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.MessagesSnapshot", "snapshot without conversation id")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	res := Result{Outcome: OutcomeUnchanged}
	for _, m := range u.Messages {
		if m.ID.Empty() && m.CorrelationID == "" {
			observability.RecordsDropped.WithLabelValues(string(CollectionMessages)).Inc()
			continue
		}
		if _, out := e.conv.AppendRemote(u.ConversationID, m); out == conversation.Appended {
			res.Outcome = OutcomeInserted
		}
	}
	return res
}

func (e *Engine) applyMessageLocal(u MessageLocal) Result {
	if u.ConversationID.Empty() {
		return Result{Outcome: OutcomeDropped, Err: apperr.Malformed("reconcile.MessageLocal", "message without conversation id")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.conv.AppendLocal(u.ConversationID, u.Message)
	return Result{Outcome: OutcomeInserted, Message: &m}
}

// ---- subscription ----

func (e *Engine) applySubscription(u SubscriptionUpdate) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := u.Subscription
	if e.subscription.Active && !next.Active {
		// activation is only ever revoked by a new session
		return Result{Outcome: OutcomeUnchanged}
	}
	if next.Plan == "" {
		next.Plan = e.subscription.Plan
	}
	if next.ChargeID == "" {
		next.ChargeID = e.subscription.ChargeID
	}
	if next.Active && next.Since.IsZero() {
		next.Since = e.now()
	}
	if next == e.subscription {
		return Result{Outcome: OutcomeUnchanged}
	}
	e.subscription = next
	return Result{Outcome: OutcomeUpdated}
}

// ---- reads ----

func (e *Engine) Jobs() []models.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Job(nil), e.jobs...)
}

func (e *Engine) Job(id models.ID) (models.Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := e.findJob(id, ""); i >= 0 {
		return e.jobs[i], true
	}
	return models.Job{}, false
}

func (e *Engine) Requests() []models.ApprovalRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.ApprovalRequest(nil), e.requests...)
}

func (e *Engine) Request(id models.ID) (models.ApprovalRequest, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.requests {
		if r.Matches(id) {
			return r, true
		}
	}
	return models.ApprovalRequest{}, false
}

func (e *Engine) Listings(kind models.ListingKind) []models.Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Listing(nil), e.listings[kind]...)
}

func (e *Engine) Notifications() []models.Notification {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Notification(nil), e.notifications...)
}

func (e *Engine) Subscription() models.Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.subscription
}

func (e *Engine) Conversations() *conversation.Store { return e.conv }
