package phone

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	"github.com/Tiewasters99/ispy-game/internal/middleware"
)

// Webhook paths, relative to the server root.
const (
	PathVoice   = "/twilio/voice"
	PathSpeech  = "/twilio/speech"
	PathSilence = "/twilio/silence"
	PathStatus  = "/twilio/status"
)

// Register mounts the Twilio webhooks. They expect TwilioAuth in front.
func (p *Phone) Register(e *echo.Echo) {
	e.POST(PathVoice, p.voice)
	e.POST(PathSpeech, p.speech)
	e.POST(PathSilence, p.silence)
	e.POST(PathStatus, p.status)
}

func (p *Phone) voice(c echo.Context) error {
	params, ok := middleware.TwilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	return p.respond(c, p.Start(c.Request().Context(), params["CallSid"], params["From"]))
}

func (p *Phone) speech(c echo.Context) error {
	params, ok := middleware.TwilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	return p.respond(c, p.Speech(c.Request().Context(), params["CallSid"], params["SpeechResult"]))
}

func (p *Phone) silence(c echo.Context) error {
	params, ok := middleware.TwilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	return p.respond(c, p.Silence(c.Request().Context(), params["CallSid"]))
}

// status receives call progress callbacks; finished calls are torn down.
func (p *Phone) status(c echo.Context) error {
	params, ok := middleware.TwilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	switch params["CallStatus"] {
	case "completed", "busy", "failed", "no-answer", "canceled":
		p.End(params["CallSid"])
	}
	return c.NoContent(http.StatusNoContent)
}

func (p *Phone) respond(c echo.Context, r Reply) error {
	doc, err := p.TwiML(r)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, doc)
}

// TwiML renders a reply. Unless the call is ending, the speech is said
// inside a speech Gather so the player can answer over it; when the
// gather times out Twilio falls through to the silence webhook.
func (p *Phone) TwiML(r Reply) (string, error) {
	say := &twiml.VoiceSay{Message: r.Speech}
	if r.Hangup {
		return twiml.Voice([]twiml.Element{say, &twiml.VoiceHangup{}})
	}
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Action:        PathSpeech,
		Method:        http.MethodPost,
		Timeout:       strconv.Itoa(int(p.cfg.GatherTimeout.Seconds())),
		SpeechTimeout: "auto",
		Language:      "en-US",
		InnerElements: []twiml.Element{say},
	}
	redirect := &twiml.VoiceRedirect{Url: PathSilence, Method: http.MethodPost}
	return twiml.Voice([]twiml.Element{gather, redirect})
}
