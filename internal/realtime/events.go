package realtime

import (
	"encoding/json"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/conversation"
	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/wire"
)

// Consumed event names.
const (
	EvNotification          = "notification"
	EvNewRideRequest        = "new_ride_request"
	EvHireRequest           = "hire_request"
	EvRideRequest           = "ride_request"
	EvRideSharePostAdded    = "rideshare_post_added"
	EvHirePostAdded         = "hire_post_added"
	EvVehicleAdded          = "vehicle_added"
	EvNewMessage            = "new_message"
	EvReturnRequested       = "return_requested"
	EvHandoverCompleted     = "handover_completed"
	EvSubscriptionActivated = "subscription_activated"
	EvRideStatusUpdate      = "ride_status_update"
)

// Emitted event names.
const (
	EmitAuthenticate      = "authenticate"
	EmitJoinConversation  = "join_conversation"
	EmitLeaveConversation = "leave_conversation"
	EmitSendMessage       = "send_message"
	EmitDriverOnline      = "driver_online"
	EmitUpdateLocation    = "update_location"
)

// Event is one decoded inbound event. The concrete type tells which reducer
// owns it.
type Event interface {
	EventName() string
}

type NotificationEvent struct {
	Notification models.Notification
}

// RequestEvent is any of the request-created events.
type RequestEvent struct {
	Name    string
	Request models.ApprovalRequest
}

// ListingEvent is any of the marketplace post events.
type ListingEvent struct {
	Name    string
	Listing models.Listing
}

type MessageEvent struct {
	ConversationID models.ID
	Message        conversation.Remote
}

// JobEvent is a job or ride status event. Trigger is TriggerStatus for plain
// status updates.
type JobEvent struct {
	Name    string
	JobID   models.ID
	AltID   models.ID
	Trigger lifecycle.Trigger
	Status  models.JobStatus
}

type SubscriptionEvent struct {
	Subscription models.Subscription
}

// RawEvent is an event with no registered decoder.
type RawEvent struct {
	Name string
	Data json.RawMessage
}

func (NotificationEvent) EventName() string { return EvNotification }
func (e RequestEvent) EventName() string    { return e.Name }
func (e ListingEvent) EventName() string    { return e.Name }
func (MessageEvent) EventName() string      { return EvNewMessage }
func (e JobEvent) EventName() string        { return e.Name }
func (SubscriptionEvent) EventName() string { return EvSubscriptionActivated }
func (e RawEvent) EventName() string        { return e.Name }

var requestKinds = map[string]models.JobKind{
	EvNewRideRequest: models.KindShare,
	EvRideRequest:    models.KindShare,
	EvHireRequest:    models.KindHire,
}

var listingKinds = map[string]models.ListingKind{
	EvRideSharePostAdded: models.ListingRideshare,
	EvHirePostAdded:      models.ListingHire,
	EvVehicleAdded:       models.ListingVehicle,
}

// Decode normalizes a raw event payload into its canonical shape. Payloads
// missing the identity a reducer needs return a MalformedRecord error.
func Decode(name string, data json.RawMessage) (Event, error) {
	const op = "realtime.Decode"
	if kind, ok := requestKinds[name]; ok {
		var p wire.RequestPayload
		if err := json.Unmarshal(wire.Unwrap(data, "request", "ride", "hire"), &p); err != nil {
			return nil, apperr.Malformed(op, "%s: %v", name, err)
		}
		r, err := p.Normalize(kind)
		if err != nil {
			return nil, err
		}
		return RequestEvent{Name: name, Request: r}, nil
	}
	if kind, ok := listingKinds[name]; ok {
		var p wire.ListingPayload
		if err := json.Unmarshal(wire.Unwrap(data, "post", "listing", "vehicle"), &p); err != nil {
			return nil, apperr.Malformed(op, "%s: %v", name, err)
		}
		l, err := p.Normalize(kind)
		if err != nil {
			return nil, err
		}
		return ListingEvent{Name: name, Listing: l}, nil
	}

	switch name {
	case EvNotification:
		var p wire.NotificationPayload
		if err := json.Unmarshal(wire.Unwrap(data, "notification"), &p); err != nil {
			return nil, apperr.Malformed(op, "%s: %v", name, err)
		}
		return NotificationEvent{Notification: p.Normalize()}, nil

	case EvNewMessage:
		var outer struct {
			ConversationID models.ID `json:"conversationId"`
			ChatID         models.ID `json:"chatId"`
		}
		_ = json.Unmarshal(data, &outer)
		var p wire.MessagePayload
		if err := json.Unmarshal(wire.Unwrap(data, "message"), &p); err != nil {
			return nil, apperr.Malformed(op, "%s: %v", name, err)
		}
		convID, msg := p.Normalize()
		if convID.Empty() {
			convID = outer.ConversationID
		}
		if convID.Empty() {
			convID = outer.ChatID
		}
		if convID.Empty() {
			return nil, apperr.Malformed(op, "%s without conversation id", name)
		}
		return MessageEvent{ConversationID: convID, Message: msg}, nil

	case EvReturnRequested, EvHandoverCompleted, EvRideStatusUpdate:
		var p wire.StatusPayload
		if err := json.Unmarshal(wire.Unwrap(data, "ride", "hire", "job"), &p); err != nil {
			return nil, apperr.Malformed(op, "%s: %v", name, err)
		}
		id, alt, status, err := p.Normalize()
		if err != nil {
			return nil, err
		}
		trigger := lifecycle.TriggerStatus
		switch name {
		case EvReturnRequested:
			trigger = lifecycle.TriggerReturnRequested
		case EvHandoverCompleted:
			trigger = lifecycle.TriggerHandoverCompleted
		default:
			if status == "" {
				return nil, apperr.Malformed(op, "%s without status", name)
			}
		}
		return JobEvent{Name: name, JobID: id, AltID: alt, Trigger: trigger, Status: status}, nil

	case EvSubscriptionActivated:
		var p wire.SubscriptionPayload
		if err := json.Unmarshal(wire.Unwrap(data, "subscription"), &p); err != nil {
			return nil, apperr.Malformed(op, "%s: %v", name, err)
		}
		return SubscriptionEvent{Subscription: p.Normalize()}, nil
	}
	return RawEvent{Name: name, Data: data}, nil
}
