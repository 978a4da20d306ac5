package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tiewasters99/ispy-game/internal/audio"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

// Agent is the conversational game master. onSpeech, when not nil, is
// called from within Converse as soon as the spoken part of the reply is
// known, before the actions are.
type Agent interface {
	Converse(ctx context.Context, req Request, onSpeech func(string)) (Reply, error)
}

// Request is what the game master sees for one turn.
type Request struct {
	UserID     string               `json:"userId,omitempty"`
	Transcript string               `json:"transcript"`
	GameState  game.State           `json:"gameState"`
	History    []transcript.Message `json:"conversationHistory"`
}

// Reply is a decoded game master response.
type Reply struct {
	Speech  string
	Actions []game.Action
	// Raw keeps the undecoded actions for relaying.
	Raw     []json.RawMessage
	Credits credits.Balance
	// Fallback marks a reply made up locally after the agent failed.
	Fallback bool
}

// Voice is the audio side of a session; *audio.Channel satisfies it.
type Voice interface {
	Prefetch(ctx context.Context, text string) *audio.Prefetch
	SpeakPrefetched(ctx context.Context, p *audio.Prefetch)
	Close()
}

var (
	ErrBusy           = errors.New("agent: turn already in flight")
	ErrEmptyUtterance = errors.New("agent: empty utterance")
	ErrClosed         = errors.New("agent: session closed")
	// ErrInsufficientCredits matches any *CreditError.
	ErrInsufficientCredits = errors.New("agent: insufficient credits")
)

// CreditError reports that the user cannot afford the turn.
type CreditError struct {
	Credits  int
	Required int
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Credits, e.Required)
}

func (e *CreditError) Is(target error) bool { return target == ErrInsufficientCredits }
