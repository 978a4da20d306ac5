package gamemaster

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

type request struct {
	UserID     string               `json:"userId"`
	Transcript string               `json:"transcript"`
	GameState  *game.State          `json:"gameState"`
	History    []transcript.Message `json:"conversationHistory"`
}

type errorBody struct {
	Type     string            `json:"type,omitempty"`
	Error    string            `json:"error"`
	Credits  *int              `json:"credits,omitempty"`
	Required *int              `json:"required,omitempty"`
	Speech   string            `json:"speech,omitempty"`
	Actions  []json.RawMessage `json:"actions,omitempty"`
}

type completeLine struct {
	Type             string            `json:"type"`
	Speech           string            `json:"speech"`
	Actions          []json.RawMessage `json:"actions"`
	RemainingCredits credits.Balance   `json:"remainingCredits"`
}

var noAction = []json.RawMessage{json.RawMessage(`{"type":"no_action"}`)}

// Handle serves POST /api/gamemaster. The reply is streamed as NDJSON:
// a speech line as soon as the speech is known, then a complete line.
func (s *Service) Handle(c echo.Context) error {
	var in request
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid request body"})
	}
	if strings.TrimSpace(in.Transcript) == "" && in.GameState == nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Missing required fields"})
	}
	if s.LLM == nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "API key not configured"})
	}
	req := agent.Request{UserID: in.UserID, Transcript: in.Transcript, History: in.History}
	if in.GameState != nil {
		req.GameState = *in.GameState
	} else {
		req.GameState = game.NewState()
	}

	ctx := c.Request().Context()
	bal, err := s.Charge(ctx, req)
	if err != nil {
		var ce *agent.CreditError
		switch {
		case errors.Is(err, ErrUserNotFound):
			return c.JSON(http.StatusUnauthorized, errorBody{Error: "User not found"})
		case errors.As(err, &ce):
			return c.JSON(http.StatusPaymentRequired, errorBody{Error: "Insufficient credits", Credits: &ce.Credits, Required: &ce.Required})
		}
		s.log.Error().Err(err).Msg("charge failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to process"})
	}

	res := c.Response()
	started := false
	writeLine := func(v any) {
		if !started {
			started = true
			res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
			res.Header().Set("Cache-Control", "no-cache")
			res.WriteHeader(http.StatusOK)
		}
		b, _ := json.Marshal(v)
		_, _ = res.Write(append(b, '\n'))
		res.Flush()
	}

	reply, err := s.Generate(ctx, req, func(speech string) {
		writeLine(agent.StreamLine{Type: agent.LineSpeech, Speech: speech})
	})
	if err != nil {
		s.log.Error().Err(err).Msg("gamemaster error")
		if !started {
			return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to process", Speech: agent.FallbackSpeech, Actions: noAction})
		}
		writeLine(errorBody{Type: agent.LineError, Error: "Failed to process", Speech: agent.FallbackSpeech, Actions: noAction})
		return nil
	}
	writeLine(completeLine{Type: agent.LineComplete, Speech: reply.Speech, Actions: reply.Raw, RemainingCredits: bal})
	return nil
}
