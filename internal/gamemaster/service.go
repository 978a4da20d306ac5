// Package gamemaster is the server side of a turn: it prices and charges
// the call, prompts the language model and turns its output into a reply.
package gamemaster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/llm"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

const (
	// HistoryLimit is how many history messages reach the model.
	HistoryLimit = 12
	MaxTokens    = 512
)

var (
	ErrUserNotFound  = errors.New("gamemaster: user not found")
	ErrNotConfigured = errors.New("gamemaster: language model not configured")
)

// Service implements agent.Agent in process.
type Service struct {
	LLM    llm.Client
	Ledger credits.Ledger
	log    zerolog.Logger
}

func NewService(client llm.Client, ledger credits.Ledger, logger zerolog.Logger) *Service {
	return &Service{
		LLM:    client,
		Ledger: ledger,
		log:    logger.With().Str("component", "gamemaster").Logger(),
	}
}

// Charge debits the price of req. Anonymous requests and services
// without a ledger are not charged and report an unknown balance.
func (s *Service) Charge(ctx context.Context, req agent.Request) (credits.Balance, error) {
	if req.UserID == "" || s.Ledger == nil {
		return credits.Balance{}, nil
	}
	cost := credits.CostFor(string(req.GameState.Phase), req.GameState.Round.Answer, req.Transcript)
	bal, err := s.Ledger.Debit(ctx, req.UserID, cost)
	var ie *credits.InsufficientError
	switch {
	case err == nil:
		s.log.Debug().Str("user", req.UserID).Int("cost", cost).Str("remaining", bal.String()).Msg("charged")
		return bal, nil
	case errors.Is(err, credits.ErrNotFound):
		return credits.Balance{}, ErrUserNotFound
	case errors.As(err, &ie):
		return credits.Balance{}, &agent.CreditError{Credits: ie.Credits, Required: ie.Required}
	}
	return credits.Balance{}, fmt.Errorf("charge: %w", err)
}

// Generate prompts the model for req. onSpeech is called once, as soon
// as the speech field of the streamed reply is complete.
func (s *Service) Generate(ctx context.Context, req agent.Request, onSpeech func(string)) (agent.Reply, error) {
	if s.LLM == nil {
		return agent.Reply{}, ErrNotConfigured
	}
	history := transcript.Trim(req.History, HistoryLimit)
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: DescribeState(req.GameState, req.Transcript)})

	var scanner agent.SpeechScanner
	sent := false
	onDelta := func(d string) {
		if sent {
			return
		}
		scanner.WriteString(d)
		if speech, ok := scanner.Speech(); ok {
			sent = true
			if onSpeech != nil {
				onSpeech(speech)
			}
		}
	}

	text, err := s.LLM.Stream(ctx, llm.Request{
		System:    SystemPrompt,
		Messages:  msgs,
		MaxTokens: MaxTokens,
		JSON:      true,
	}, onDelta)
	if err != nil {
		return agent.Reply{}, fmt.Errorf("generate: %w", err)
	}
	reply := agent.ParseReply(text)
	if !sent && onSpeech != nil && reply.Speech != "" {
		onSpeech(reply.Speech)
	}
	return reply, nil
}

// Converse charges and then generates.
func (s *Service) Converse(ctx context.Context, req agent.Request, onSpeech func(string)) (agent.Reply, error) {
	bal, err := s.Charge(ctx, req)
	if err != nil {
		return agent.Reply{}, err
	}
	reply, err := s.Generate(ctx, req, onSpeech)
	if err != nil {
		return agent.Reply{}, err
	}
	reply.Credits = bal
	return reply, nil
}
