package middleware

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/client"
)

// TwilioParamsKey is where TwilioAuth leaves the verified form fields.
const TwilioParamsKey = "twilioParams"

// TwilioAuth validates Twilio webhook requests under prefix using the
// X-Twilio-Signature header. Twilio signs the public URL it called, so
// baseURL must be the externally visible origin; when empty the request
// Host is used with https.
func TwilioAuth(prefix, authToken, baseURL string, logger zerolog.Logger) echo.MiddlewareFunc {
	log := logger.With().Str("component", "twilio-auth").Logger()
	validator := client.NewRequestValidator(authToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, prefix) {
				return next(c)
			}
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			bodyBytes, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			formData, err := url.ParseQuery(string(bodyBytes))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(formData))
			for key, values := range formData {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			origin := baseURL
			if origin == "" {
				origin = "https://" + req.Host
			}
			requestURL := strings.TrimRight(origin, "/") + req.URL.RequestURI()
			if !validator.Validate(requestURL, params, req.Header.Get("X-Twilio-Signature")) {
				log.Warn().Str("path", req.URL.Path).Msg("invalid twilio signature")
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(TwilioParamsKey, params)
			return next(c)
		}
	}
}

// TwilioParams returns the fields verified by TwilioAuth.
func TwilioParams(c echo.Context) (map[string]string, bool) {
	params, ok := c.Get(TwilioParamsKey).(map[string]string)
	return params, ok
}
