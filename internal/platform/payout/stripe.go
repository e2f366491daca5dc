package payout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/traingrid/escrow-service/internal/config"
	"github.com/traingrid/escrow-service/internal/retry"
)

// StripeGateway implements Gateway against the Stripe Transfers and Refunds
// APIs. Each call gets a bounded timeout and a small retry budget; request
// errors that cannot succeed on retry (bad params, missing destination) are
// not retried.
type StripeGateway struct {
	api         *client.API
	logger      *slog.Logger
	currency    string
	callTimeout time.Duration
	maxRetries  int
}

// retryBaseDelay is the first backoff step between gateway attempts.
const retryBaseDelay = 500 * time.Millisecond

// NewStripeGateway creates a Stripe-backed payout gateway
func NewStripeGateway(logger *slog.Logger, cfg *config.StripeConfig) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	return &StripeGateway{
		api:         api,
		logger:      logger,
		currency:    cfg.Currency,
		callTimeout: cfg.CallTimeout,
		maxRetries:  cfg.MaxRetries,
	}
}

// CreateTransfer sends amount cents to the trainer's connected account
func (g *StripeGateway) CreateTransfer(ctx context.Context, amount int64, destination, description string) (string, error) {
	var transferID string

	err := retry.Do(ctx, g.maxRetries, retryBaseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		params := &stripe.TransferParams{
			Params:      stripe.Params{Context: callCtx},
			Amount:      stripe.Int64(amount),
			Currency:    stripe.String(g.currency),
			Destination: stripe.String(destination),
			Description: stripe.String(description),
		}

		tr, err := g.api.Transfers.New(params)
		if err != nil {
			return classify(err)
		}
		transferID = tr.ID
		return nil
	})
	if err != nil {
		g.logger.Error("Stripe transfer failed",
			"destination", destination,
			"amount", amount,
			"error", err,
		)
		return "", &GatewayError{Op: "create_transfer", Err: err}
	}

	g.logger.Info("Stripe transfer created",
		"transfer_id", transferID,
		"destination", destination,
		"amount", amount,
	)
	return transferID, nil
}

// CreateRefund returns amount cents to the parent against the captured payment
func (g *StripeGateway) CreateRefund(ctx context.Context, paymentReference string, amount int64) (string, error) {
	var refundID string

	err := retry.Do(ctx, g.maxRetries, retryBaseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		params := &stripe.RefundParams{
			Params:        stripe.Params{Context: callCtx},
			PaymentIntent: stripe.String(paymentReference),
			Amount:        stripe.Int64(amount),
		}

		ref, err := g.api.Refunds.New(params)
		if err != nil {
			return classify(err)
		}
		refundID = ref.ID
		return nil
	})
	if err != nil {
		g.logger.Error("Stripe refund failed",
			"payment_reference", paymentReference,
			"amount", amount,
			"error", err,
		)
		return "", &GatewayError{Op: "create_refund", Err: err}
	}

	g.logger.Info("Stripe refund created",
		"refund_id", refundID,
		"payment_reference", paymentReference,
		"amount", amount,
	)
	return refundID, nil
}

// classify decides whether a Stripe error is worth retrying. Client-side
// request errors are permanent; rate limits, timeouts, and 5xx responses are
// transient.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
			return err
		case stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500:
			return retry.Permanent(err)
		}
	}
	return err
}
