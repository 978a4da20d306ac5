package phone

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/game"
)

// Lines spoken by the phone front end itself.
const (
	goodbyeLine   = "Thanks for playing I Spy Road Trip. Safe travels!"
	idleLine      = "I haven't heard from you in a while. Call back when you're ready to play!"
	noCreditsLine = "You're out of credits. Top up in the app and call back to keep playing."
	busyLine      = "One moment."
)

// Config configures the telephone front end.
type Config struct {
	Agent agent.Agent
	Rules game.Rules
	// GatherTimeout is how long Twilio waits for speech before reporting
	// silence.
	GatherTimeout time.Duration
	// IdleAfter is how long an unanswered call is kept before it is reaped.
	IdleAfter time.Duration
	Logger    zerolog.Logger
}

// call is one phone game keyed by Twilio CallSid.
type call struct {
	id       uuid.UUID
	session  *agent.Session
	lastSeen time.Time
}

// Phone plays the game over Twilio voice webhooks. Each webhook is one
// turn: the player's speech comes in as SpeechResult and the reply goes
// back as TwiML. There is no speaker to follow up on its own, so clue
// requests are driven inline.
type Phone struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

func New(cfg Config) *Phone {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 6 * time.Second
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 10 * time.Minute
	}
	return &Phone{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "phone").Logger(),
		calls: make(map[string]*call),
	}
}

// Reply is what the caller hears next.
type Reply struct {
	Speech string
	// Hangup ends the call after Speech.
	Hangup bool
}

// Start opens a game for a new call.
func (p *Phone) Start(ctx context.Context, callSid, from string) Reply {
	c := p.open(callSid)
	p.log.Info().Str("call", c.id.String()).Str("sid", callSid).Str("from", from).Msg("call started")
	return p.turn(ctx, callSid, c, agent.SessionStartUtterance)
}

// Speech handles recognized player speech. An empty result counts as
// silence.
func (p *Phone) Speech(ctx context.Context, callSid, text string) Reply {
	c := p.lookup(callSid)
	if c == nil {
		return p.Start(ctx, callSid, "")
	}
	if strings.TrimSpace(text) == "" {
		return p.Silence(ctx, callSid)
	}
	return p.turn(ctx, callSid, c, text)
}

// Silence handles a gather that timed out. After the session's silence
// budget is spent the call is ended instead of nudged again.
func (p *Phone) Silence(ctx context.Context, callSid string) Reply {
	c := p.lookup(callSid)
	if c == nil {
		return Reply{Speech: goodbyeLine, Hangup: true}
	}
	if !c.session.ShouldArm() {
		p.End(callSid)
		return Reply{Speech: idleLine, Hangup: true}
	}
	return p.turn(ctx, callSid, c, agent.SilenceUtterance)
}

// End tears down the game of a call. Unknown calls are ignored.
func (p *Phone) End(callSid string) {
	p.mu.Lock()
	c, ok := p.calls[callSid]
	delete(p.calls, callSid)
	p.mu.Unlock()
	if ok {
		c.session.Close()
		p.log.Info().Str("call", c.id.String()).Msg("call ended")
	}
}

// Active returns the number of calls in progress.
func (p *Phone) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reap ends calls that have not been heard from since IdleAfter.
func (p *Phone) Reap(now time.Time) int {
	var stale []string
	p.mu.Lock()
	for sid, c := range p.calls {
		if now.Sub(c.lastSeen) > p.cfg.IdleAfter {
			stale = append(stale, sid)
		}
	}
	p.mu.Unlock()
	for _, sid := range stale {
		p.End(sid)
	}
	return len(stale)
}

// Run reaps idle calls until ctx is done.
func (p *Phone) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := p.Reap(now); n > 0 {
				p.log.Info().Int("reaped", n).Msg("idle calls ended")
			}
		}
	}
}

func (p *Phone) open(callSid string) *call {
	p.mu.Lock()
	old := p.calls[callSid]
	c := &call{
		id:       uuid.New(),
		lastSeen: time.Now(),
		session: agent.NewSession(agent.Config{
			Agent:          p.cfg.Agent,
			Store:          game.NewStore(p.cfg.Rules),
			ManualFollowUp: true,
			Logger:         p.cfg.Logger,
		}),
	}
	p.calls[callSid] = c
	p.mu.Unlock()
	if old != nil {
		old.session.Close()
	}
	return c
}

func (p *Phone) lookup(callSid string) *call {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.calls[callSid]
	if c != nil {
		c.lastSeen = time.Now()
	}
	return c
}

func (p *Phone) turn(ctx context.Context, callSid string, c *call, utterance string) Reply {
	out, err := c.session.Turn(ctx, utterance)
	switch {
	case errors.Is(err, agent.ErrInsufficientCredits):
		p.End(callSid)
		return Reply{Speech: noCreditsLine, Hangup: true}
	case errors.Is(err, agent.ErrBusy):
		return Reply{Speech: busyLine}
	case errors.Is(err, agent.ErrClosed):
		return Reply{Speech: goodbyeLine, Hangup: true}
	case err != nil:
		p.log.Error().Err(err).Str("call", c.id.String()).Msg("turn failed")
		return Reply{Speech: agent.FallbackSpeech}
	}

	speech := []string{out.Speech, out.Essay}
	for out.FollowUp && !out.Ended {
		next, err := c.session.FollowUp(ctx)
		if err != nil || next.Speech == "" {
			break
		}
		speech = append(speech, next.Speech, next.Essay)
		out = next
	}
	r := Reply{Speech: joinSpeech(speech)}
	if out.Ended {
		p.End(callSid)
		r.Hangup = true
		if r.Speech == "" {
			r.Speech = goodbyeLine
		}
	}
	return r
}

func joinSpeech(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
