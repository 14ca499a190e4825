package payment

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/tably/grouporder-server/internal/model"
)

// StripeGateway charges participants through Stripe PaymentIntents. Each
// participant share becomes its own intent so a declined card fails exactly
// one diner and the reconciliation report stays per-participant.
type StripeGateway struct {
	currency stripe.Currency
}

func NewStripeGateway(secretKey string, currency string) *StripeGateway {
	stripe.Key = secretKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{currency: stripe.Currency(currency)}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) model.ChargeOutcome {
	amountInCents := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amountInCents),
		Currency: stripe.String(string(g.currency)),
	}
	if req.PaymentMethodRef != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodRef)
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(true)
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.AddMetadata("session_id", req.SessionID)
	params.AddMetadata("participant_id", req.ParticipantID)

	intent, err := paymentintent.New(params)
	if err != nil {
		reason := chargeFailureReason(err)
		log.Warn().
			Str("sessionId", req.SessionID).
			Str("participantId", req.ParticipantID).
			Str("reason", reason).
			Msg("stripe charge failed")
		return model.ChargeOutcome{
			ParticipantID: req.ParticipantID,
			Amount:        req.Amount,
			Status:        model.ChargeStatusFailed,
			FailureReason: reason,
		}
	}

	if req.PaymentMethodRef != "" && intent.Status != stripe.PaymentIntentStatusSucceeded {
		return model.ChargeOutcome{
			ParticipantID: req.ParticipantID,
			Amount:        req.Amount,
			Status:        model.ChargeStatusFailed,
			Reference:     intent.ID,
			FailureReason: string(intent.Status),
		}
	}

	return model.ChargeOutcome{
		ParticipantID: req.ParticipantID,
		Amount:        req.Amount,
		Status:        model.ChargeStatusSucceeded,
		Reference:     intent.ID,
	}
}

func chargeFailureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "charge timed out"
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}
