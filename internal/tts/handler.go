package tts

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

// Handler serves POST /api/tts. Speech is free of charge.
type Handler struct {
	Synth audio.Synthesizer
	log   zerolog.Logger
}

func NewHandler(synth audio.Synthesizer, logger zerolog.Logger) *Handler {
	return &Handler{Synth: synth, log: logger.With().Str("component", "tts-handler").Logger()}
}

type speakBody struct {
	Text string `json:"text"`
}

func (h *Handler) Handle(c echo.Context) error {
	var in speakBody
	if err := c.Bind(&in); err != nil || strings.TrimSpace(in.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing text"})
	}
	if h.Synth == nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "ElevenLabs API key not configured"})
	}
	clip, err := h.Synth.Synthesize(c.Request().Context(), in.Text)
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "ElevenLabs API key not configured"})
	case errors.As(err, &pe):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "TTS provider error"})
	case err != nil:
		h.log.Error().Err(err).Msg("tts failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate speech"})
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Blob(http.StatusOK, clip.ContentType, clip.Data)
}
