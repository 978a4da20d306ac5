package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/middleware"
	"github.com/Tiewasters99/ispy-game/internal/rtc"
)

// OfferHandler answers WebRTC offers for voice calls.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offer rtc.Offer) (rtc.SessionDescription, error)
}

// Registrar mounts its own routes, like the Twilio phone line.
type Registrar interface {
	Register(e *echo.Echo)
}

// Options selects which routes the server exposes. Nil handlers are
// left unmounted.
type Options struct {
	GameMaster echo.HandlerFunc
	TTS        echo.HandlerFunc
	Geocode    echo.HandlerFunc
	Checkout   echo.HandlerFunc
	Webhook    echo.HandlerFunc
	Calls      OfferHandler
	Phone      Registrar

	CallPassword    string
	TwilioAuthToken string
	PublicBaseURL   string
	Logger          zerolog.Logger
}

// New creates the Echo server with every configured route.
func New(opts Options) *echo.Echo {
	log := opts.Logger.With().Str("component", "http").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	mount := func(path string, h echo.HandlerFunc) {
		if h != nil {
			api.POST(path, h)
		}
	}
	mount("/gamemaster", opts.GameMaster)
	mount("/tts", opts.TTS)
	mount("/create-checkout", opts.Checkout)
	mount("/webhook", opts.Webhook)
	if opts.Geocode != nil {
		api.GET("/geocode", opts.Geocode)
	}

	if opts.Calls != nil {
		e.POST("/call", callHandler(opts.Calls, opts.CallPassword, log))
	}
	if opts.Phone != nil {
		e.Use(middleware.TwilioAuth("/twilio/", opts.TwilioAuthToken, opts.PublicBaseURL, opts.Logger))
		opts.Phone.Register(e)
	}
	return e
}

func callHandler(calls OfferHandler, password string, log zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !rtcAuthOK(c.Request(), password) {
			return c.String(http.StatusUnauthorized, "unauthorized")
		}
		var offer rtc.Offer
		if err := json.NewDecoder(c.Request().Body).Decode(&offer); err != nil {
			log.Debug().Err(err).Msg("invalid offer")
			return c.String(http.StatusBadRequest, "invalid offer")
		}
		answer, err := calls.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			log.Error().Err(err).Msg("webrtc handle offer failed")
			return c.String(http.StatusInternalServerError, "call failed")
		}
		return c.JSON(http.StatusOK, answer)
	}
}

// rtcAuthOK accepts the call password as ?password=, X-Auth-Token or a
// bearer token. An empty expected password disables the check.
func rtcAuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	candidates := []string{r.URL.Query().Get("password"), r.Header.Get("X-Auth-Token")}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		candidates = append(candidates, strings.TrimSpace(auth[7:]))
	}
	for _, got := range candidates {
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}
