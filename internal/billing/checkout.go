package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/Tiewasters99/ispy-game/internal/credits"
)

// Purchase kinds accepted by CreateCheckout.
const (
	KindStarter      = "starter"
	KindCredits      = "credits"
	KindSubscription = "subscription"
)

// SubscriptionCents is the monthly price of unlimited play.
const SubscriptionCents = 999

var (
	ErrMissingUser   = errors.New("billing: user id required")
	ErrBadAmount     = errors.New("billing: amount must be positive")
	ErrNotConfigured = errors.New("billing: stripe is not configured")
	ErrBadSignature  = errors.New("billing: webhook signature verification failed")
)

// Sessions creates Stripe checkout sessions. *session.Client satisfies it.
type Sessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Service sells credits through Stripe Checkout and applies completed
// payments to the ledger.
type Service struct {
	Sessions      Sessions
	Ledger        credits.Ledger
	WebhookSecret string
	// BaseURL is where Stripe sends the player back after checkout.
	BaseURL string
	log     zerolog.Logger
}

func NewService(secretKey, webhookSecret, baseURL string, ledger credits.Ledger, logger zerolog.Logger) *Service {
	s := &Service{
		Ledger:        ledger,
		WebhookSecret: webhookSecret,
		BaseURL:       baseURL,
		log:           logger.With().Str("component", "billing").Logger(),
	}
	if secretKey != "" {
		s.Sessions = &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	}
	return s
}

// CheckoutRequest is the body of POST /api/create-checkout. Amount is in
// dollars and only used for custom credit purchases.
type CheckoutRequest struct {
	Amount float64 `json:"amount"`
	UserID string  `json:"userId"`
	Type   string  `json:"type"`
}

// CreateCheckout opens a checkout session and returns its URL. One cent
// buys one credit; the starter pack is 1000 credits for $10.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutRequest) (string, error) {
	if in.UserID == "" {
		return "", ErrMissingUser
	}
	if s.Sessions == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		ClientReferenceID:  stripe.String(in.UserID),
		SuccessURL:         stripe.String(s.BaseURL + "/?payment=success"),
		CancelURL:          stripe.String(s.BaseURL + "/?payment=cancelled"),
	}
	params.Context = ctx
	params.AddMetadata("userId", in.UserID)
	params.AddMetadata("type", in.Type)

	if in.Type == KindSubscription {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{lineItem(
			"I Spy Road Trip - Unlimited", "Unlimited clues every month", SubscriptionCents, true)}
	} else {
		name, desc, amount := "I Spy Starter Pack", "1000 credits to get started", int64(credits.StarterPack)
		if in.Type != KindStarter {
			if in.Amount <= 0 {
				return "", ErrBadAmount
			}
			amount = int64(math.Round(in.Amount * 100))
			name = fmt.Sprintf("%d Credits", amount)
			desc = fmt.Sprintf("%d credits for gameplay", amount)
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{lineItem(name, desc, amount, false)}
		params.AddMetadata("credits", strconv.FormatInt(amount, 10))
	}

	cs, err := s.Sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	s.log.Info().Str("user", in.UserID).Str("type", in.Type).Str("session", cs.ID).Msg("checkout session created")
	return cs.URL, nil
}

func lineItem(name, desc string, cents int64, monthly bool) *stripe.CheckoutSessionLineItemParams {
	price := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:        stripe.String(name),
			Description: stripe.String(desc),
		},
		UnitAmount: stripe.Int64(cents),
	}
	if monthly {
		price.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		}
	}
	return &stripe.CheckoutSessionLineItemParams{PriceData: price, Quantity: stripe.Int64(1)}
}
