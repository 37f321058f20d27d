package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID is an identity normalized to its string form. Upstream payloads send the
// same identity as a JSON number in one place and as a string in another, so
// both decode into the same value.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

func (id ID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// SameID reports whether two identities refer to the same record. Empty
// identities never match.
func SameID(a, b ID) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	return strings.TrimSpace(string(a)) == strings.TrimSpace(string(b))
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type JobKind string

const (
	KindShare JobKind = "share"
	KindHire  JobKind = "hire"
)

type JobStatus string

const (
	StatusScheduled       JobStatus = "Scheduled"
	StatusApproved        JobStatus = "Approved"
	StatusInbound         JobStatus = "Inbound"
	StatusArrived         JobStatus = "Arrived"
	StatusBoarded         JobStatus = "Boarded"
	StatusInProgress      JobStatus = "In Progress"
	StatusPaymentDue      JobStatus = "Payment Due"
	StatusHandoverPending JobStatus = "Handover Pending"
	StatusActive          JobStatus = "Active"
	StatusReturnPending   JobStatus = "Return Pending"
	StatusCompleted       JobStatus = "Completed"
	StatusCancelled       JobStatus = "Cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type NegotiationStatus string

const (
	NegotiationNone     NegotiationStatus = ""
	NegotiationPending  NegotiationStatus = "pending"
	NegotiationApproved NegotiationStatus = "approved"
	NegotiationRejected NegotiationStatus = "rejected"
)

type Rider struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Job is a contracted share ride or vehicle hire under lifecycle control.
type Job struct {
	ID                ID                `json:"id"`
	RideID            ID                `json:"rideId,omitempty"` // secondary identity
	Kind              JobKind           `json:"kind"`
	Status            JobStatus         `json:"status"`
	NegotiationStatus NegotiationStatus `json:"negotiationStatus,omitempty"`
	Origin            string            `json:"origin"`
	Destination       string            `json:"destination"`
	ClientName        string            `json:"clientName,omitempty"`
	ClientID          ID                `json:"clientId,omitempty"`
	Rider             *Rider            `json:"rider,omitempty"`
	AcceptedPrice     float64           `json:"acceptedPrice"`

	// Resolved locally when a share ride starts; never sent by the server.
	OriginCoord      *Coord   `json:"originCoord,omitempty"`
	DestinationCoord *Coord   `json:"destinationCoord,omitempty"`
	DistanceKm       *float64 `json:"distanceKm,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

type Offer struct {
	Price     float64   `json:"price"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovalRequest is a pending request for a ride or hire. ID and RideID are
// two spellings of the same logical identity.
type ApprovalRequest struct {
	ID           ID        `json:"id"`
	RideID       ID        `json:"rideId,omitempty"`
	Kind         JobKind   `json:"kind"`
	ClientName   string    `json:"clientName,omitempty"`
	ClientID     ID        `json:"clientId,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	Destination  string    `json:"destination,omitempty"`
	OfferedPrice float64   `json:"offeredPrice"`
	Negotiation  []Offer   `json:"negotiation,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Key returns the identity used for the request.
func (r ApprovalRequest) Key() ID {
	if !r.ID.Empty() {
		return r.ID
	}
	return r.RideID
}

// Matches reports whether either spelling of the identities overlaps.
func (r ApprovalRequest) Matches(id ID) bool {
	return SameID(r.ID, id) || SameID(r.RideID, id)
}

type Sender string

const (
	SenderSelf  Sender = "self"
	SenderOther Sender = "other"
)

type Message struct {
	ID            ID        `json:"id"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Text          string    `json:"text"`
	Sender        Sender    `json:"sender"`
	Timestamp     time.Time `json:"timestamp"`
	// Local marks an optimistic entry created on this device.
	Local bool `json:"local,omitempty"`
}

type Conversation struct {
	ID           ID        `json:"id"`
	Counterpart  string    `json:"counterpart,omitempty"`
	Messages     []Message `json:"messages"`
	LastMessage  string    `json:"lastMessage"`
	UnreadCount  int       `json:"unreadCount"`
	LastActivity time.Time `json:"lastActivity"`
}

type Notification struct {
	ID        ID        `json:"id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Unread    bool      `json:"unread"`
}

type ListingKind string

const (
	ListingRideshare ListingKind = "rideshare"
	ListingHire      ListingKind = "hire"
	ListingVehicle   ListingKind = "vehicle"
)

// Listing is a marketplace post owned by a driver: a shared ride offer, a
// hire offer or a registered vehicle.
type Listing struct {
	ID        ID          `json:"id"`
	Kind      ListingKind `json:"kind"`
	OwnerID   ID          `json:"ownerId"`
	Title     string      `json:"title"`
	Price     float64     `json:"price"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Subscription struct {
	Plan     string    `json:"plan"`
	ChargeID string    `json:"chargeId,omitempty"`
	Active   bool      `json:"active"`
	Since    time.Time `json:"since,omitempty"`
}

// Transition records one applied status change of a job.
type Transition struct {
	JobID  ID        `json:"jobId"`
	Kind   JobKind   `json:"kind"`
	From   JobStatus `json:"from"`
	To     JobStatus `json:"to"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}
