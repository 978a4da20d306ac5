package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/audio"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

// Printer renders a session on a terminal.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	store *game.Store
}

func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

// Watch makes effect lines include the scoreboard of store.
func (p *Printer) Watch(store *game.Store) {
	p.mu.Lock()
	p.store = store
	p.mu.Unlock()
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// SessionEvents prints the transcript and what each turn changed.
func (p *Printer) SessionEvents() agent.Events {
	return agent.Events{
		OnTranscript: func(e transcript.Entry) {
			if e.Synthetic {
				return
			}
			if e.Speaker == transcript.SpeakerAgent {
				p.printf("GM: %s\n", e.Text)
				return
			}
			p.printf("you: %s\n", e.Text)
		},
		OnEffects: func(effects []game.Effect) {
			for _, e := range effects {
				if line := describe(e); line != "" {
					p.printf("  * %s\n", line)
				}
			}
			p.mu.Lock()
			store := p.store
			p.mu.Unlock()
			if store != nil {
				if board := Scoreboard(store.Snapshot()); board != "" {
					p.printf("  %s\n", board)
				}
			}
		},
		OnCredits: func(b credits.Balance) {
			if b.Known {
				p.printf("  credits: %s\n", b)
			}
		},
		OnInsufficientCredits: func(err *agent.CreditError) {
			p.printf("!! out of credits (have %d, need %d)\n", err.Credits, err.Required)
		},
		OnEnded: func() { p.printf("-- game over --\n") },
	}
}

// AudioEvents prints a prompt whenever the game waits for input.
func (p *Printer) AudioEvents() audio.Events {
	return audio.Events{
		OnListening: func(on bool, _ audio.Mode) {
			if on {
				p.printf("> ")
			}
		},
	}
}

// Scoreboard renders players and points in join order.
func Scoreboard(s game.State) string {
	if len(s.Players) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.Players))
	for _, pl := range s.Players {
		parts = append(parts, fmt.Sprintf("%s %d", pl.Name, pl.Score))
	}
	return "score: " + strings.Join(parts, ", ")
}

func describe(e game.Effect) string {
	switch e.Kind {
	case game.EffectPhaseChanged:
		return "phase: " + e.Text
	case game.EffectPlayerJoined:
		return e.Player + " joined"
	case game.EffectCategoryChanged:
		return "category: " + e.Text
	case game.EffectRoundStarted:
		if e.Text != "" {
			return fmt.Sprintf("round %d: something starting with %q", e.Index, e.Text)
		}
		return fmt.Sprintf("round %d", e.Index)
	case game.EffectScoreChanged:
		return fmt.Sprintf("%s +%d", e.Player, e.Points)
	case game.EffectGuessRejected:
		return e.Player + " guessed wrong"
	case game.EffectHintRevealed:
		return fmt.Sprintf("hint %d: %s", e.Index+1, e.Text)
	case game.EffectAnswerRevealed:
		return "answer: " + e.Text
	case game.EffectEssayShown:
		return e.Text
	case game.EffectGameEnded:
		return "game ended"
	case game.EffectNotice:
		return e.Text
	}
	return ""
}
