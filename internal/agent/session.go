package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/audio"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

// System utterances sent on the player's behalf.
const (
	SessionStartUtterance = "[Game session started]"
	SilenceUtterance      = "[No response — player is silent]"
	ClueUtterance         = "[Generate clue]"
)

// Events are projection hooks. They are called outside of any lock.
type Events struct {
	OnThinking            func(on bool)
	OnTranscript          func(e transcript.Entry)
	OnSpeechPreview       func(text string)
	OnEffects             func(effects []game.Effect)
	OnCredits             func(b credits.Balance)
	OnInsufficientCredits func(err *CreditError)
	OnEnded               func()
}

type Config struct {
	UserID string
	Agent  Agent
	Store  *game.Store
	Log    *transcript.Log
	// Voice is optional; without it replies are not voiced.
	Voice  Voice
	Events Events

	// FollowUpDelay is the pause before asking for a missing clue.
	FollowUpDelay time.Duration
	// MaxFollowUps bounds consecutive automatic clue requests.
	MaxFollowUps int
	// ManualFollowUp leaves clue requests to the caller (see Outcome.FollowUp).
	ManualFollowUp bool
	// MaxSilences is the number of consecutive silences after which the
	// silence watchdog is no longer armed.
	MaxSilences int
	TurnTimeout time.Duration

	Logger zerolog.Logger
}

// Outcome summarizes one completed turn.
type Outcome struct {
	Speech string
	// Essay is the narration of a shown essay, voiced after Speech.
	Essay    string
	Effects  []game.Effect
	Credits  credits.Balance
	FollowUp bool
	Ended    bool
	Fallback bool
}

// Session runs the turn loop of one game: player utterance to game
// master, reply to state and voice. At most one turn is in flight; an
// utterance that arrives meanwhile is dropped.
type Session struct {
	cfg    Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	processing atomic.Bool

	mu        sync.Mutex
	silences  int
	followUps int
	followUp  *time.Timer
	// owed is set from the end of a clue-less reply until its follow-up
	// runs or is cancelled; the silence watchdog stays unarmed meanwhile.
	owed   bool
	closed bool
}

func NewSession(cfg Config) *Session {
	if cfg.Store == nil {
		cfg.Store = game.NewStore(game.Rules{})
	}
	if cfg.Log == nil {
		cfg.Log = transcript.NewLog(transcript.HistoryCap)
	}
	if cfg.FollowUpDelay <= 0 {
		cfg.FollowUpDelay = 1500 * time.Millisecond
	}
	if cfg.MaxFollowUps <= 0 {
		cfg.MaxFollowUps = 3
	}
	if cfg.MaxSilences <= 0 {
		cfg.MaxSilences = 2
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "session").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) Store() *game.Store         { return s.cfg.Store }
func (s *Session) Transcript() *transcript.Log { return s.cfg.Log }

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool { return s.processing.Load() }

// Turn runs one full turn synchronously.
func (s *Session) Turn(ctx context.Context, utterance string) (Outcome, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Outcome{}, ErrEmptyUtterance
	}
	if s.isClosed() {
		return Outcome{}, ErrClosed
	}
	if !s.processing.CompareAndSwap(false, true) {
		return Outcome{}, ErrBusy
	}
	defer s.processing.Store(false)
	return s.turn(ctx, utterance)
}

// Submit starts a turn in the background and reports whether it was
// accepted.
func (s *Session) Submit(utterance string) bool {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" || s.isClosed() {
		return false
	}
	if !s.processing.CompareAndSwap(false, true) {
		s.log.Debug().Str("utterance", utterance).Msg("dropped: turn in flight")
		return false
	}
	go func() {
		defer s.processing.Store(false)
		if _, err := s.turn(s.ctx, utterance); err != nil && !errors.Is(err, ErrInsufficientCredits) {
			s.log.Warn().Err(err).Msg("turn failed")
		}
	}()
	return true
}

// Begin opens the conversation.
func (s *Session) Begin() bool { return s.Submit(SessionStartUtterance) }

// HandleFinal receives finalized player speech from the audio channel.
func (s *Session) HandleFinal(text string, _ audio.Mode) { s.Submit(text) }

// OnSilence is the silence watchdog callback.
func (s *Session) OnSilence() {
	s.log.Debug().Msg("player silent")
	s.Submit(SilenceUtterance)
}

// ShouldArm tells the audio channel whether another silence cycle is
// wanted. After MaxSilences consecutive silences the game waits for the
// players instead of nudging them again.
func (s *Session) ShouldArm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.owed && s.silences < s.cfg.MaxSilences
}

// FollowUp requests the missing clue if the last turn left one owed and
// the retry budget allows it.
func (s *Session) FollowUp(ctx context.Context) (Outcome, error) {
	if !s.cfg.Store.State().AwaitingRound() {
		return Outcome{}, nil
	}
	s.mu.Lock()
	if s.followUps >= s.cfg.MaxFollowUps {
		s.mu.Unlock()
		return Outcome{}, nil
	}
	s.followUps++
	s.mu.Unlock()
	return s.Turn(ctx, ClueUtterance)
}

func (s *Session) turn(ctx context.Context, utterance string) (Outcome, error) {
	synthetic := isSystemUtterance(utterance)
	s.mu.Lock()
	if s.followUp != nil {
		s.followUp.Stop()
		s.followUp = nil
	}
	s.owed = false
	switch {
	case utterance == SilenceUtterance:
		s.silences++
	case !synthetic:
		s.silences = 0
		s.followUps = 0
	}
	s.mu.Unlock()

	history := s.cfg.Log.Windowed(transcript.HistoryCap)
	entry := transcript.Entry{Speaker: transcript.SpeakerPlayer, Text: utterance, Synthetic: synthetic}
	if synthetic {
		s.cfg.Log.AppendSynthetic(utterance)
	} else {
		s.cfg.Log.Append(transcript.SpeakerPlayer, utterance)
	}
	s.emitTranscript(entry)

	req := Request{
		UserID:     s.cfg.UserID,
		Transcript: utterance,
		GameState:  s.cfg.Store.Snapshot(),
		History:    history,
	}

	var prefetch *audio.Prefetch
	onSpeech := func(text string) {
		if fn := s.cfg.Events.OnSpeechPreview; fn != nil {
			fn(text)
		}
		if s.cfg.Voice != nil && prefetch == nil && strings.TrimSpace(text) != "" {
			prefetch = s.cfg.Voice.Prefetch(s.ctx, text)
		}
	}

	s.thinking(true)
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	reply, err := s.cfg.Agent.Converse(tctx, req, onSpeech)
	cancel()
	s.thinking(false)

	if err != nil {
		var ce *CreditError
		if errors.As(err, &ce) {
			s.log.Info().Int("credits", ce.Credits).Int("required", ce.Required).Msg("insufficient credits")
			if fn := s.cfg.Events.OnInsufficientCredits; fn != nil {
				fn(ce)
			}
			return Outcome{}, err
		}
		s.log.Warn().Err(err).Msg("game master unavailable")
		reply = Reply{Speech: FallbackSpeech, Fallback: true}
		prefetch = nil
	}

	out := Outcome{Speech: reply.Speech, Credits: reply.Credits, Fallback: reply.Fallback}
	if reply.Speech != "" {
		s.cfg.Log.Append(transcript.SpeakerAgent, reply.Speech)
		s.emitTranscript(transcript.Entry{Speaker: transcript.SpeakerAgent, Text: reply.Speech})
	}
	if !reply.Fallback {
		out.Effects = s.cfg.Store.Apply(reply.Actions...)
		if fn := s.cfg.Events.OnEffects; fn != nil && len(out.Effects) > 0 {
			fn(out.Effects)
		}
		if fn := s.cfg.Events.OnCredits; fn != nil && reply.Credits.Known {
			fn(reply.Credits)
		}
	}
	for _, e := range out.Effects {
		switch e.Kind {
		case game.EffectGameEnded:
			out.Ended = true
		case game.EffectEssayShown:
			out.Essay = strings.TrimSpace(e.Text)
		}
	}

	owed := !reply.Fallback && !out.Ended && s.cfg.Store.State().AwaitingRound()
	if owed {
		s.mu.Lock()
		out.FollowUp = s.followUps < s.cfg.MaxFollowUps
		s.owed = out.FollowUp && !s.cfg.ManualFollowUp
		s.mu.Unlock()
	}

	s.speak(reply.Speech, prefetch)
	s.speak(out.Essay, nil)

	if out.Ended {
		s.log.Info().Msg("game ended")
		s.Close()
		return out, nil
	}
	if owed {
		if out.FollowUp && !s.cfg.ManualFollowUp {
			s.scheduleFollowUp()
		}
	} else {
		s.mu.Lock()
		s.followUps = 0
		s.mu.Unlock()
	}
	return out, nil
}

func (s *Session) speak(text string, p *audio.Prefetch) {
	text = strings.TrimSpace(text)
	if s.cfg.Voice == nil || text == "" {
		return
	}
	if p == nil || p.Text() != text {
		p = s.cfg.Voice.Prefetch(s.ctx, text)
	}
	s.cfg.Voice.SpeakPrefetched(s.ctx, p)
}

func (s *Session) scheduleFollowUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.followUp != nil {
		s.followUp.Stop()
	}
	s.followUp = time.AfterFunc(s.cfg.FollowUpDelay, func() {
		s.mu.Lock()
		s.owed = false
		if s.closed || s.followUps >= s.cfg.MaxFollowUps || !s.cfg.Store.State().AwaitingRound() {
			s.mu.Unlock()
			return
		}
		s.followUps++
		s.mu.Unlock()
		if !s.Submit(ClueUtterance) {
			s.log.Debug().Msg("clue request dropped: turn in flight")
		}
	})
}

// Close ends the session: pending timers are stopped and the voice is
// released. Every exit path goes through here.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.followUp != nil {
		s.followUp.Stop()
		s.followUp = nil
	}
	s.mu.Unlock()
	s.cancel()
	if s.cfg.Voice != nil {
		s.cfg.Voice.Close()
	}
	if fn := s.cfg.Events.OnEnded; fn != nil {
		fn()
	}
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) thinking(on bool) {
	if fn := s.cfg.Events.OnThinking; fn != nil {
		fn(on)
	}
}

func (s *Session) emitTranscript(e transcript.Entry) {
	if fn := s.cfg.Events.OnTranscript; fn != nil {
		fn(e)
	}
}

func isSystemUtterance(text string) bool {
	return strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")
}
