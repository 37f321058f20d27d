package wire

import (
	"encoding/json"
	"testing"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/models"
)

func TestJobPayloadLegacyFields(t *testing.T) {
	var p JobPayload
	raw := `{"jobId": 42, "rideId": "r-42", "type": "rideshare", "status": "in_progress",
		"pickup": "Airport", "dropoff": "Harbour", "passengerName": "Sam", "finalPrice": "18.50",
		"updatedAt": "2024-05-01T10:00:00Z"}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	job, alt, err := p.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if job.ID != "42" || alt != "r-42" {
		t.Fatalf("expected id 42 alt r-42, got %q %q", job.ID, alt)
	}
	if job.Kind != models.KindShare || job.Status != models.StatusInProgress {
		t.Fatalf("unexpected kind/status: %s %s", job.Kind, job.Status)
	}
	if job.Origin != "Airport" || job.Destination != "Harbour" || job.ClientName != "Sam" {
		t.Fatalf("unexpected fields: %+v", job)
	}
	if job.AcceptedPrice != 18.5 {
		t.Fatalf("expected price 18.5, got %v", job.AcceptedPrice)
	}
	if job.UpdatedAt.IsZero() {
		t.Fatalf("expected updatedAt parsed")
	}
}

func TestJobPayloadWithoutIdentityIsMalformed(t *testing.T) {
	_, _, err := JobPayload{Status: "Inbound"}.Normalize()
	if !apperr.IsKind(err, apperr.KindMalformedRecord) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]models.JobStatus{
		"IN PROGRESS":      models.StatusInProgress,
		"payment_due":      models.StatusPaymentDue,
		"handover-pending": models.StatusHandoverPending,
		"canceled":         models.StatusCancelled,
		"Return Pending":   models.StatusReturnPending,
		"":                 "",
		"Parked":           "Parked",
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestPayloadDefaultsKind(t *testing.T) {
	var p RequestPayload
	raw := `{"requestId": 7, "userName": "Ana", "proposedPrice": 30,
		"negotiationHistory": [{"amount": 30, "note": "first"}, {"price": "28"}]}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req, err := p.Normalize(models.KindHire)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.ID != "7" || req.Kind != models.KindHire || req.ClientName != "Ana" || req.OfferedPrice != 30 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Negotiation) != 2 || req.Negotiation[1].Price != 28 || req.Negotiation[0].Message != "first" {
		t.Fatalf("unexpected negotiation: %+v", req.Negotiation)
	}

	if _, err := (RequestPayload{ClientName: "x"}).Normalize(models.KindShare); !apperr.IsKind(err, apperr.KindMalformedRecord) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestListingOwnerFallbacks(t *testing.T) {
	var p ListingPayload
	if err := json.Unmarshal([]byte(`{"vehicleId": 3, "userId": 9, "model": "Corolla", "pricePerDay": 40}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	l, err := p.Normalize(models.ListingVehicle)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if l.ID != "3" || l.OwnerID != "9" || l.Title != "Corolla" || l.Price != 40 || l.Kind != models.ListingVehicle {
		t.Fatalf("unexpected listing: %+v", l)
	}
}

func TestMessagePayload(t *testing.T) {
	var p MessagePayload
	if err := json.Unmarshal([]byte(`{"_id": "srv99", "chatId": 5, "content": "hi", "from": 12, "createdAt": 1714557600000}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	conv, m := p.Normalize()
	if conv != "5" || m.ID != "srv99" || m.Text != "hi" || m.SenderID != "12" {
		t.Fatalf("unexpected message: %q %+v", conv, m)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("expected millis timestamp parsed")
	}
}

func TestNotificationReadFlag(t *testing.T) {
	var p NotificationPayload
	if err := json.Unmarshal([]byte(`{"body": "New request", "isRead": 1}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n := p.Normalize()
	if n.Unread || n.Title != "Notification" || n.Message != "New request" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if !(NotificationPayload{}).Normalize().Unread {
		t.Fatalf("expected unread by default")
	}
}

func TestStatusPayloadFallsBackToRideID(t *testing.T) {
	id, alt, status, err := StatusPayload{RideID: "77", Status: "active"}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if id != "77" || alt != "" || status != models.StatusActive {
		t.Fatalf("unexpected: %q %q %q", id, alt, status)
	}
	if _, _, _, err := (StatusPayload{}).Normalize(); !apperr.IsKind(err, apperr.KindMalformedRecord) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestSubscriptionPayload(t *testing.T) {
	s := SubscriptionPayload{PlanName: "pro", PaymentIntentID: "pi_1"}.Normalize()
	if !s.Active || s.Plan != "pro" || s.ChargeID != "pi_1" {
		t.Fatalf("unexpected subscription: %+v", s)
	}
	s = SubscriptionPayload{Plan: "pro", Status: "pending"}.Normalize()
	if s.Active {
		t.Fatalf("expected inactive for pending status")
	}
}
