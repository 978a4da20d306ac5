package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

// DefaultVoiceID is the Professor Jones voice.
const DefaultVoiceID = "KTjyUd6ZeCmAkkfvuuU2"

const elevenLabsModel = "eleven_flash_v2_5"

// ElevenLabsClient synthesizes speech over the ElevenLabs HTTP API.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
	log        zerolog.Logger
}

func NewElevenLabsClient(apiKey, voiceID string, logger zerolog.Logger) *ElevenLabsClient {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &ElevenLabsClient{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		VoiceID:    voiceID,
		log:        logger.With().Str("component", "elevenlabs").Logger(),
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type speechRequest struct {
	Text             string         `json:"text"`
	ModelID          string         `json:"model_id"`
	VoiceSettings    voiceSettings  `json:"voice_settings"`
	GenerationConfig map[string]any `json:"generation_config,omitempty"`
}

// Synthesize returns the whole utterance as MP3.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if e.APIKey == "" {
		return audio.Clip{}, ErrNotConfigured
	}
	body := speechRequest{
		Text:          text,
		ModelID:       elevenLabsModel,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	resp, err := e.post(ctx, e.endpoint("", nil), body)
	if err != nil {
		return audio.Clip{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs read: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return audio.Clip{Data: data, ContentType: ct}, nil
}

// StreamPCM48k streams 48kHz 16-bit mono PCM as it is generated.
func (e *ElevenLabsClient) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" {
			errCh <- ErrNotConfigured
			return
		}
		q := url.Values{}
		q.Set("model_id", elevenLabsModel)
		q.Set("output_format", "pcm_48000")
		// 0..4, lower trades quality for latency
		q.Set("optimize_streaming_latency", "2")
		body := speechRequest{
			Text:          text,
			ModelID:       elevenLabsModel,
			VoiceSettings: voiceSettings{Stability: 0.4, SimilarityBoost: 0.7, UseSpeakerBoost: true},
			GenerationConfig: map[string]any{
				"chunk_length_schedule": []int{80, 120, 160, 200},
			},
		}
		resp, err := e.post(ctx, e.endpoint("/stream", q), body)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		logged := false
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if !logged {
					e.log.Debug().Int("bytes", n).Msg("receiving audio stream")
					logged = true
				}
				out := make([]byte, n)
				copy(out, buf[:n])
				select {
				case pcmCh <- out:
				case <-ctx.Done():
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					errCh <- fmt.Errorf("elevenlabs http read error: %w", rerr)
				}
				return
			}
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) endpoint(suffix string, q url.Values) string {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + e.VoiceID + suffix,
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (e *ElevenLabsClient) post(ctx context.Context, endpoint string, body speechRequest) (*http.Response, error) {
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs http error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		e.log.Warn().Int("status", resp.StatusCode).Str("body", string(b)).Msg("provider error")
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
