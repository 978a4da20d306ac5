package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxWebhookBody bounds what is read from Stripe.
const maxWebhookBody = 1 << 16

// HandleCheckout serves POST /api/create-checkout.
func (s *Service) HandleCheckout(c echo.Context) error {
	var in CheckoutRequest
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	url, err := s.CreateCheckout(c.Request().Context(), in)
	switch {
	case errors.Is(err, ErrMissingUser):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "User ID required"})
	case errors.Is(err, ErrBadAmount):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Amount must be positive"})
	case err != nil:
		s.log.Error().Err(err).Msg("checkout failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Failed to create checkout session",
			"details": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

// HandleWebhook serves POST /api/webhook. The raw body is needed for the
// signature check, so it is never bound.
func (s *Service) HandleWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	err = s.ApplyEvent(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, ErrBadSignature):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Webhook signature verification failed"})
	case err != nil:
		s.log.Error().Err(err).Msg("webhook failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Webhook handler failed"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
