package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// ApplyEvent verifies a Stripe event and applies it to the ledger.
// Unhandled event types are acknowledged and ignored.
func (s *Service) ApplyEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook signature rejected")
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if s.Ledger == nil {
		return nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return s.completeCheckout(ctx, &cs)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		s.log.Info().Str("subscription", sub.ID).Msg("subscription ended")
		return s.Ledger.EndSubscription(ctx, sub.ID)
	}
	return nil
}

func (s *Service) completeCheckout(ctx context.Context, cs *stripe.CheckoutSession) error {
	userID := cs.Metadata["userId"]
	if userID == "" {
		userID = cs.ClientReferenceID
	}
	if userID == "" {
		s.log.Warn().Str("session", cs.ID).Msg("checkout without user id")
		return nil
	}
	if cs.Metadata["type"] == KindSubscription {
		subID := ""
		if cs.Subscription != nil {
			subID = cs.Subscription.ID
		}
		s.log.Info().Str("user", userID).Str("subscription", subID).Msg("subscriber activated")
		return s.Ledger.SetSubscriber(ctx, userID, subID)
	}
	n, err := strconv.Atoi(cs.Metadata["credits"])
	if err != nil || n <= 0 {
		n = 1000
	}
	s.log.Info().Str("user", userID).Int("credits", n).Int64("paid_cents", cs.AmountTotal).Msg("credits granted")
	return s.Ledger.Grant(ctx, userID, n, cs.AmountTotal)
}
