// Package payments initiates subscription charges and polls their outcome.
package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/observability"
	"github.com/example/driver-console-sync/internal/session"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// API is the payment collaborator. Verification is polled, never pushed.
type API interface {
	Initiate(ctx context.Context, plan string, id session.Identity) (chargeID string, err error)
	Verify(ctx context.Context, chargeID string) (Status, error)
}

const (
	DefaultVerifyAttempts = 10
	DefaultVerifyInterval = 3 * time.Second
)

// Verifier polls API.Verify until the charge settles or the attempt limit
// runs out.
type Verifier struct {
	API      API
	Attempts int
	Interval time.Duration
	Logger   *slog.Logger
}

// Wait returns StatusSuccess or StatusFailed once the charge settles. A
// failed verify call uses up an attempt like a pending one. Running out of
// attempts returns a VerificationTimeout error.
func (v *Verifier) Wait(ctx context.Context, chargeID string) (Status, error) {
	const op = "payments.Verify"
	attempts := v.Attempts
	if attempts <= 0 {
		attempts = DefaultVerifyAttempts
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for i := 1; i <= attempts; i++ {
		if i > 1 && v.Interval > 0 {
			t := time.NewTimer(v.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return StatusPending, ctx.Err()
			case <-t.C:
			}
		}
		st, err := v.API.Verify(ctx, chargeID)
		if err != nil {
			if ctx.Err() != nil {
				return StatusPending, ctx.Err()
			}
			observability.PaymentVerifications.WithLabelValues("error").Inc()
			logger.Warn("payment verify failed", "charge_id", chargeID, "attempt", i, "error", err)
			continue
		}
		observability.PaymentVerifications.WithLabelValues(string(st)).Inc()
		switch st {
		case StatusSuccess, StatusFailed:
			logger.Info("payment settled", "charge_id", chargeID, "status", st, "attempt", i)
			return st, nil
		}
	}
	return StatusPending, apperr.VerificationTimeout(op, attempts)
}
