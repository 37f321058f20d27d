package wire

import (
	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/conversation"
	"github.com/example/driver-console-sync/internal/models"
)

type RiderPayload struct {
	ID   models.ID `json:"id"`
	Name string    `json:"name"`
}

// JobPayload is a contracted ride or hire as sent by the jobs endpoint and the
// status events.
type JobPayload struct {
	ID     models.ID `json:"id"`
	JobID  models.ID `json:"jobId"`
	RideID models.ID `json:"rideId"`

	Kind string `json:"kind"`
	Type string `json:"type"`

	Status            string `json:"status"`
	NegotiationStatus string `json:"negotiationStatus"`

	Origin      string `json:"origin"`
	Pickup      string `json:"pickup"`
	From        string `json:"from"`
	Destination string `json:"destination"`
	Dropoff     string `json:"dropoff"`
	To          string `json:"to"`

	ClientName    string    `json:"clientName"`
	PassengerName string    `json:"passengerName"`
	CustomerName  string    `json:"customerName"`
	ClientID      models.ID `json:"clientId"`
	PassengerID   models.ID `json:"passengerId"`
	CustomerID    models.ID `json:"customerId"`

	Rider *RiderPayload `json:"rider"`

	AcceptedPrice Number `json:"acceptedPrice"`
	FinalPrice    Number `json:"finalPrice"`
	Price         Number `json:"price"`

	UpdatedAt Timestamp `json:"updatedAt"`
}

// Normalize returns the canonical job and its secondary identity (a rideId
// that differs from the primary id).
func (p JobPayload) Normalize() (models.Job, models.ID, error) {
	id := firstID(p.ID, p.JobID, p.RideID)
	if id.Empty() {
		return models.Job{}, "", apperr.Malformed("wire.JobPayload", "job without id, jobId or rideId")
	}
	alt := models.ID("")
	if !p.RideID.Empty() && !models.SameID(p.RideID, id) {
		alt = p.RideID
	}
	job := models.Job{
		ID:                id,
		RideID:            alt,
		Kind:              NormalizeKind(firstNonEmpty(p.Kind, p.Type)),
		Status:            NormalizeStatus(p.Status),
		NegotiationStatus: models.NegotiationStatus(p.NegotiationStatus),
		Origin:            firstNonEmpty(p.Origin, p.Pickup, p.From),
		Destination:       firstNonEmpty(p.Destination, p.Dropoff, p.To),
		ClientName:        firstNonEmpty(p.ClientName, p.PassengerName, p.CustomerName),
		ClientID:          firstID(p.ClientID, p.PassengerID, p.CustomerID),
		AcceptedPrice:     firstNumber(p.AcceptedPrice, p.FinalPrice, p.Price),
		UpdatedAt:         p.UpdatedAt.Time,
	}
	if p.Rider != nil && (!p.Rider.ID.Empty() || p.Rider.Name != "") {
		job.Rider = &models.Rider{ID: p.Rider.ID, Name: p.Rider.Name}
	}
	return job, alt, nil
}

type OfferPayload struct {
	Price     Number    `json:"price"`
	Amount    Number    `json:"amount"`
	Message   string    `json:"message"`
	Note      string    `json:"note"`
	Timestamp Timestamp `json:"timestamp"`
	CreatedAt Timestamp `json:"createdAt"`
}

// RequestPayload is a pending ride or hire request. The three request events
// and the requests endpoint all use this shape with varying field names.
type RequestPayload struct {
	ID        models.ID `json:"id"`
	RequestID models.ID `json:"requestId"`
	RideID    models.ID `json:"rideId"`

	Kind string `json:"kind"`
	Type string `json:"type"`

	ClientName    string    `json:"clientName"`
	PassengerName string    `json:"passengerName"`
	UserName      string    `json:"userName"`
	ClientID      models.ID `json:"clientId"`
	PassengerID   models.ID `json:"passengerId"`
	UserID        models.ID `json:"userId"`

	Origin      string `json:"origin"`
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	Dropoff     string `json:"dropoff"`

	OfferedPrice  Number `json:"offeredPrice"`
	ProposedPrice Number `json:"proposedPrice"`
	Price         Number `json:"price"`

	Negotiation        []OfferPayload `json:"negotiation"`
	NegotiationHistory []OfferPayload `json:"negotiationHistory"`

	CreatedAt Timestamp `json:"createdAt"`
}

// Normalize returns the canonical request. defaultKind is used when the
// payload does not say, which is the case for the kind-specific events.
func (p RequestPayload) Normalize(defaultKind models.JobKind) (models.ApprovalRequest, error) {
	id := firstID(p.ID, p.RequestID)
	if id.Empty() && p.RideID.Empty() {
		return models.ApprovalRequest{}, apperr.Malformed("wire.RequestPayload", "request without id or rideId")
	}
	kind := NormalizeKind(firstNonEmpty(p.Kind, p.Type))
	if kind == "" {
		kind = defaultKind
	}
	offers := p.Negotiation
	if len(offers) == 0 {
		offers = p.NegotiationHistory
	}
	var negotiation []models.Offer
	for _, o := range offers {
		negotiation = append(negotiation, models.Offer{
			Price:     firstNumber(o.Price, o.Amount),
			Message:   firstNonEmpty(o.Message, o.Note),
			Timestamp: firstTime(o.Timestamp, o.CreatedAt),
		})
	}
	return models.ApprovalRequest{
		ID:           id,
		RideID:       p.RideID,
		Kind:         kind,
		ClientName:   firstNonEmpty(p.ClientName, p.PassengerName, p.UserName),
		ClientID:     firstID(p.ClientID, p.PassengerID, p.UserID),
		Origin:       firstNonEmpty(p.Origin, p.Pickup),
		Destination:  firstNonEmpty(p.Destination, p.Dropoff),
		OfferedPrice: firstNumber(p.OfferedPrice, p.ProposedPrice, p.Price),
		Negotiation:  negotiation,
		CreatedAt:    p.CreatedAt.Time,
	}, nil
}

// ListingPayload is a marketplace post. Owner identity arrives as driverId on
// ride and hire posts and as ownerId or userId on vehicles.
type ListingPayload struct {
	ID        models.ID `json:"id"`
	PostID    models.ID `json:"postId"`
	VehicleID models.ID `json:"vehicleId"`

	DriverID models.ID `json:"driverId"`
	OwnerID  models.ID `json:"ownerId"`
	UserID   models.ID `json:"userId"`

	Title string `json:"title"`
	Name  string `json:"name"`
	Model string `json:"model"`

	Price       Number `json:"price"`
	PricePerDay Number `json:"pricePerDay"`

	CreatedAt Timestamp `json:"createdAt"`
}

func (p ListingPayload) Normalize(kind models.ListingKind) (models.Listing, error) {
	id := firstID(p.ID, p.PostID, p.VehicleID)
	if id.Empty() {
		return models.Listing{}, apperr.Malformed("wire.ListingPayload", "%s listing without id", kind)
	}
	return models.Listing{
		ID:        id,
		Kind:      kind,
		OwnerID:   firstID(p.DriverID, p.OwnerID, p.UserID),
		Title:     firstNonEmpty(p.Title, p.Name, p.Model),
		Price:     firstNumber(p.Price, p.PricePerDay),
		CreatedAt: p.CreatedAt.Time,
	}, nil
}

type MessagePayload struct {
	ID        models.ID `json:"id"`
	MessageID models.ID `json:"messageId"`
	MongoID   models.ID `json:"_id"`

	ConversationID models.ID `json:"conversationId"`
	ChatID         models.ID `json:"chatId"`

	CorrelationID string `json:"correlationId"`

	Text    string `json:"text"`
	Content string `json:"content"`
	Message string `json:"message"`

	SenderID models.ID `json:"senderId"`
	From     models.ID `json:"from"`
	UserID   models.ID `json:"userId"`

	Timestamp Timestamp `json:"timestamp"`
	CreatedAt Timestamp `json:"createdAt"`
}

// Normalize returns the conversation the message belongs to and the remote
// record. The conversation id may be empty when the caller already knows it.
func (p MessagePayload) Normalize() (models.ID, conversation.Remote) {
	return firstID(p.ConversationID, p.ChatID), conversation.Remote{
		ID:            firstID(p.ID, p.MessageID, p.MongoID),
		CorrelationID: p.CorrelationID,
		Text:          firstNonEmpty(p.Text, p.Content, p.Message),
		SenderID:      firstID(p.SenderID, p.From, p.UserID),
		Timestamp:     firstTime(p.Timestamp, p.CreatedAt),
	}
}

type ConversationPayload struct {
	ID             models.ID `json:"id"`
	ConversationID models.ID `json:"conversationId"`

	Counterpart   string `json:"counterpart"`
	OtherUserName string `json:"otherUserName"`
	Name          string `json:"name"`

	LastMessage string `json:"lastMessage"`
	UnreadCount Number `json:"unreadCount"`

	UpdatedAt     Timestamp `json:"updatedAt"`
	LastMessageAt Timestamp `json:"lastMessageAt"`
}

func (p ConversationPayload) Normalize() (models.Conversation, error) {
	id := firstID(p.ID, p.ConversationID)
	if id.Empty() {
		return models.Conversation{}, apperr.Malformed("wire.ConversationPayload", "conversation without id")
	}
	return models.Conversation{
		ID:           id,
		Counterpart:  firstNonEmpty(p.Counterpart, p.OtherUserName, p.Name),
		LastMessage:  p.LastMessage,
		UnreadCount:  int(p.UnreadCount),
		LastActivity: firstTime(p.LastMessageAt, p.UpdatedAt),
	}, nil
}

// NotificationPayload never fails to normalize; an id is optional.
type NotificationPayload struct {
	ID        models.ID `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Body      string    `json:"body"`
	Read      *Flag     `json:"read"`
	IsRead    *Flag     `json:"isRead"`
	CreatedAt Timestamp `json:"createdAt"`
}

func (p NotificationPayload) Normalize() models.Notification {
	unread := true
	if p.Read != nil {
		unread = !bool(*p.Read)
	} else if p.IsRead != nil {
		unread = !bool(*p.IsRead)
	}
	return models.Notification{
		ID:        p.ID,
		Title:     firstNonEmpty(p.Title, "Notification"),
		Message:   firstNonEmpty(p.Message, p.Body),
		CreatedAt: p.CreatedAt.Time,
		Unread:    unread,
	}
}

// StatusPayload carries a job reference and optionally a status, as sent by
// ride_status_update, return_requested and handover_completed.
type StatusPayload struct {
	ID     models.ID `json:"id"`
	JobID  models.ID `json:"jobId"`
	RideID models.ID `json:"rideId"`
	HireID models.ID `json:"hireId"`
	Status string    `json:"status"`
}

// Normalize returns the primary and secondary job references.
func (p StatusPayload) Normalize() (id, alt models.ID, status models.JobStatus, err error) {
	id = firstID(p.JobID, p.ID, p.HireID)
	alt = p.RideID
	if id.Empty() {
		id, alt = alt, ""
	}
	if id.Empty() {
		return "", "", "", apperr.Malformed("wire.StatusPayload", "status event without job reference")
	}
	return id, alt, NormalizeStatus(p.Status), nil
}

type SubscriptionPayload struct {
	Plan            string `json:"plan"`
	PlanName        string `json:"planName"`
	ChargeID        string `json:"chargeId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Active          *Flag  `json:"active"`
	Status          string `json:"status"`
}

// Normalize treats a missing active flag as active, since the payload only
// arrives on activation.
func (p SubscriptionPayload) Normalize() models.Subscription {
	active := true
	if p.Active != nil {
		active = bool(*p.Active)
	} else if p.Status != "" {
		active = p.Status == "active" || p.Status == "succeeded"
	}
	return models.Subscription{
		Plan:     firstNonEmpty(p.Plan, p.PlanName),
		ChargeID: firstNonEmpty(p.ChargeID, p.PaymentIntentID),
		Active:   active,
	}
}
