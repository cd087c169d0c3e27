package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeGateway implements Gateway on Stripe PaymentIntents.
type StripeGateway struct {
	api    *client.API
	logger *zap.Logger
}

func NewStripeGateway(secretKey string, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		api:    client.New(secretKey, nil),
		logger: logger,
	}
}

func (g *StripeGateway) RequestPayment(ctx context.Context, bookingID uuid.UUID, amountCents int64, currency string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID.String())

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment intent: %v", ErrGateway, err)
	}

	g.logger.Info("payment intent created",
		zap.String("booking_id", bookingID.String()),
		zap.String("payment_intent", pi.ID),
		zap.Int64("amount_cents", amountCents),
	)

	return &Intent{
		ExternalID:  pi.ID,
		ClientToken: pi.ClientSecret,
		Status:      intentStatus(pi),
	}, nil
}

func (g *StripeGateway) ConfirmPayment(ctx context.Context, externalID string) (Status, error) {
	pi, err := g.get(ctx, externalID)
	if err != nil {
		return "", err
	}
	return intentStatus(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, externalID string) (Status, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create refund: %v", ErrGateway, err)
	}

	g.logger.Info("refund created",
		zap.String("payment_intent", externalID),
		zap.String("refund", r.ID),
		zap.String("status", string(r.Status)),
	)
	return refundStatus(r.Status), nil
}

// Void cancels an uncaptured intent. If the intent already succeeded it
// returns StatusCompleted with ErrAlreadyCaptured so the caller can refund.
func (g *StripeGateway) Void(ctx context.Context, externalID string) (Status, error) {
	pi, err := g.get(ctx, externalID)
	if err != nil {
		return "", err
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted, ErrAlreadyCaptured
	case stripe.PaymentIntentStatusCanceled:
		return StatusVoided, nil
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Cancel(externalID, params); err != nil {
		return "", fmt.Errorf("%w: cancel payment intent: %v", ErrGateway, err)
	}
	return StatusVoided, nil
}

func (g *StripeGateway) get(ctx context.Context, externalID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(externalID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve payment intent: %v", ErrGateway, err)
	}
	return pi, nil
}

func intentStatus(pi *stripe.PaymentIntent) Status {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return StatusVoided
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined card sends the intent back here with the error attached.
		if pi.LastPaymentError != nil {
			return StatusFailed
		}
	}
	return StatusPending
}

func refundStatus(s stripe.RefundStatus) Status {
	switch s {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		return StatusRefunded
	}
	return StatusFailed
}
