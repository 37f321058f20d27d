package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/driver-console-sync/internal/session"
)

// Plan is a purchasable subscription plan. Amount is in the currency's
// minor unit.
type Plan struct {
	Name     string
	Amount   int64
	Currency string
}

var DefaultPlans = map[string]Plan{
	"basic":   {Name: "basic", Amount: 999, Currency: "usd"},
	"pro":     {Name: "pro", Amount: 2499, Currency: "usd"},
	"premium": {Name: "premium", Amount: 4999, Currency: "usd"},
}

// StripeAPI charges subscription plans through PaymentIntents.
type StripeAPI struct {
	plans map[string]Plan
}

// NewStripeAPI sets the process-wide stripe key and returns the client.
func NewStripeAPI(apiKey string, plans map[string]Plan) *StripeAPI {
	stripe.Key = apiKey
	if plans == nil {
		plans = DefaultPlans
	}
	return &StripeAPI{plans: plans}
}

// Initiate creates a PaymentIntent for plan on behalf of id and returns its
// ID as the charge id.
func (s *StripeAPI) Initiate(ctx context.Context, plan string, id session.Identity) (string, error) {
	p, ok := s.plans[plan]
	if !ok {
		return "", fmt.Errorf("payments: unknown plan %q", plan)
	}
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(p.Amount),
		Currency:    stripe.String(p.Currency),
		Description: stripe.String("driver subscription: " + p.Name),
	}
	params.Context = ctx
	params.AddMetadata("plan", p.Name)
	params.AddMetadata("user_id", id.UserID.String())
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Verify reads the PaymentIntent and maps it onto pending, success or failed.
func (s *StripeAPI) Verify(ctx context.Context, chargeID string) (Status, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(chargeID, params)
	if err != nil {
		return "", err
	}
	return statusOf(pi), nil
}

func statusOf(pi *stripe.PaymentIntent) Status {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSuccess
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined attempt sends the intent back here with the error attached.
		if pi.LastPaymentError != nil {
			return StatusFailed
		}
	}
	return StatusPending
}
