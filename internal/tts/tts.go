// Package tts turns game master speech into audio.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

// PCMContentType marks raw 48kHz 16-bit little-endian mono clips.
const PCMContentType = "audio/L16;rate=48000;channels=1"

// ErrNotConfigured is returned when the provider has no credentials.
var ErrNotConfigured = errors.New("tts: provider not configured")

// ProviderError is a non-2xx answer from the speech provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts provider status=%d body=%s", e.Status, e.Body)
}

// Streamer produces PCM audio incrementally.
type Streamer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PCMSynthesizer collects a Streamer's output into a single PCM clip.
type PCMSynthesizer struct {
	Streamer Streamer
}

func (p PCMSynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	pcmCh, errCh := p.Streamer.StreamPCM48k(ctx, text)
	var data []byte
	for chunk := range pcmCh {
		data = append(data, chunk...)
	}
	if err := <-errCh; err != nil {
		return audio.Clip{}, err
	}
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	return audio.Clip{Data: data, ContentType: PCMContentType}, nil
}
