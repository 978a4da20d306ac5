package audio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Mode selects how capture behaves.
type Mode string

const (
	// ModeGuess captures a single utterance and then goes idle.
	ModeGuess Mode = "guess"
	// ModeCommand captures continuously, restarting the recognizer when
	// the provider ends a session.
	ModeCommand Mode = "command"
)

type State int

const (
	StateIdle State = iota
	StateListening
	// StatePaused means capture is suspended while audio plays.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StatePaused:
		return "paused"
	}
	return "idle"
}

var (
	// ErrNoSpeech ends a recognition session that heard nothing.
	ErrNoSpeech = errors.New("audio: no speech detected")
	// ErrAborted ends a recognition session that was cancelled on purpose.
	ErrAborted = errors.New("audio: recognition aborted")
)

type Result struct {
	Text  string
	Final bool
}

// Recognition is one capture session. Results is closed when the session
// ends; Err is meaningful after that. Abort must not block.
type Recognition interface {
	Results() <-chan Result
	Err() error
	Abort()
}

// Recognizer opens capture sessions.
type Recognizer interface {
	Recognize(ctx context.Context, mode Mode) (Recognition, error)
}

type Clip struct {
	Data        []byte
	ContentType string
}

// IsAudio reports whether the clip carries playable audio.
func (c Clip) IsAudio() bool {
	return len(c.Data) > 0 && strings.Contains(strings.ToLower(c.ContentType), "audio")
}

// Synthesizer turns text into a clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Clip, error)
}

// Player plays a clip and blocks until playback ends or ctx is done.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// Events are observational hooks for projections. Game logic must not
// depend on them.
type Events struct {
	OnListening func(on bool, mode Mode)
	OnInterim   func(text string)
	OnPlayback  func(on bool)
}

type Config struct {
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Player      Player
	// Watchdog, when set, is armed on every return from playback to
	// listening and disarmed by any recognition result.
	Watchdog *Watchdog
	// ArmPolicy may veto arming the watchdog.
	ArmPolicy func() bool
	// OnFinal receives finalized utterances.
	OnFinal func(text string, mode Mode)
	Events  Events

	// RestartLimit bounds consecutive command-mode restarts without a result.
	RestartLimit uint64
	RestartBase  time.Duration
	RestartCap   time.Duration

	Logger zerolog.Logger
}

// Channel owns the microphone and the speaker of one session and keeps
// them from overlapping: capture is paused for the length of every
// playback and resumed with a fresh session afterwards.
type Channel struct {
	cfg    Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	mode       Mode
	resumeMode Mode
	muted      bool
	closed     bool
	recGen     uint64
	rec        Recognition
	playGen    uint64
	playCancel context.CancelFunc
	speaking   bool
}

func NewChannel(cfg Config) *Channel {
	if cfg.RestartLimit == 0 {
		cfg.RestartLimit = 5
	}
	if cfg.RestartBase <= 0 {
		cfg.RestartBase = 250 * time.Millisecond
	}
	if cfg.RestartCap <= 0 {
		cfg.RestartCap = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "audio-channel").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Speaking reports whether a clip is being synthesized or played.
func (c *Channel) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *Channel) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// StartListening begins capture in mode, replacing any running session.
// It returns false when there is no recognizer or the channel is muted or
// closed. During playback the request is remembered and honoured when
// playback ends.
func (c *Channel) StartListening(mode Mode) bool {
	c.mu.Lock()
	if c.cfg.Recognizer == nil || c.muted || c.closed {
		c.mu.Unlock()
		return false
	}
	if c.state == StatePaused || c.speaking {
		c.resumeMode = mode
		c.state = StatePaused
		c.mu.Unlock()
		return true
	}
	c.startCaptureLocked(mode)
	c.mu.Unlock()
	c.emitListening(true, mode)
	return true
}

// StopListening aborts capture and goes idle. Playback, if any, will not
// resume capture.
func (c *Channel) StopListening() {
	c.mu.Lock()
	was := c.state
	mode := c.mode
	c.stopCaptureLocked()
	c.state = StateIdle
	c.mu.Unlock()
	c.disarm()
	if was == StateListening {
		c.emitListening(false, mode)
	}
}

// Prefetch starts synthesis of text so that it can run alongside other
// work. The result is consumed with SpeakPrefetched.
func (c *Channel) Prefetch(ctx context.Context, text string) *Prefetch {
	p := &Prefetch{text: strings.TrimSpace(text), done: make(chan struct{})}
	if p.text == "" || c.cfg.Synthesizer == nil {
		p.err = errNoSynthesis
		close(p.done)
		return p
	}
	go func() {
		defer close(p.done)
		p.clip, p.err = c.cfg.Synthesizer.Synthesize(ctx, p.text)
	}()
	return p
}

// Speak synthesizes and plays text. It never fails: without usable audio
// the text simply is not voiced. Any playback in flight is stopped first.
func (c *Channel) Speak(ctx context.Context, text string) {
	c.SpeakPrefetched(ctx, c.Prefetch(ctx, text))
}

// SpeakPrefetched plays a clip started by Prefetch and then restores the
// listening mode that was active before, with a fresh capture session.
func (c *Channel) SpeakPrefetched(ctx context.Context, p *Prefetch) {
	if p == nil || p.text == "" {
		return
	}
	c.mu.Lock()
	if c.closed || c.muted {
		c.mu.Unlock()
		return
	}
	if c.playCancel != nil {
		c.playCancel()
	}
	c.playGen++
	gen := c.playGen
	playCtx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)
	c.playCancel = cancel
	paused := false
	if c.state == StateListening {
		c.resumeMode = c.mode
		c.stopCaptureLocked()
		c.state = StatePaused
		paused = true
	}
	c.speaking = true
	mode := c.mode
	c.mu.Unlock()

	c.disarm()
	if paused {
		c.emitListening(false, mode)
	}

	c.play(playCtx, p)
	stop()
	cancel()

	arm := c.shouldArm()
	c.mu.Lock()
	if c.playGen != gen {
		// superseded; the newer call owns the resume
		c.mu.Unlock()
		return
	}
	c.speaking = false
	c.playCancel = nil
	resume := c.state == StatePaused && !c.closed && !c.muted
	if !resume {
		c.mu.Unlock()
		return
	}
	mode = c.resumeMode
	if arm && c.cfg.Watchdog != nil {
		c.cfg.Watchdog.Arm()
	}
	c.startCaptureLocked(mode)
	c.mu.Unlock()
	c.emitListening(true, mode)
}

func (c *Channel) play(ctx context.Context, p *Prefetch) {
	clip, err := p.Wait(ctx)
	switch {
	case errors.Is(err, errNoSynthesis):
		return
	case err != nil:
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("speech synthesis failed; text only")
		}
		return
	case !clip.IsAudio():
		c.log.Warn().Str("content_type", clip.ContentType).Msg("synthesizer returned no audio; text only")
		return
	case c.cfg.Player == nil:
		return
	}
	if fn := c.cfg.Events.OnPlayback; fn != nil {
		fn(true)
	}
	if err := c.cfg.Player.Play(ctx, clip); err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Msg("playback failed")
	}
	if fn := c.cfg.Events.OnPlayback; fn != nil {
		fn(false)
	}
}

// StopSpeaking cancels playback in flight. Capture resumes as usual.
func (c *Channel) StopSpeaking() {
	c.mu.Lock()
	if c.playCancel != nil {
		c.playCancel()
	}
	c.mu.Unlock()
}

// SetMuted silences the channel. Muting stops playback and capture;
// unmuting leaves the channel idle.
func (c *Channel) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	if !muted {
		c.mu.Unlock()
		return
	}
	was, mode := c.state, c.mode
	if c.playCancel != nil {
		c.playCancel()
	}
	c.stopCaptureLocked()
	c.state = StateIdle
	c.mu.Unlock()
	c.disarm()
	if was == StateListening {
		c.emitListening(false, mode)
	}
}

// Close releases the channel: capture is aborted, playback stopped and
// the watchdog disarmed. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	was, mode := c.state, c.mode
	if c.playCancel != nil {
		c.playCancel()
	}
	c.stopCaptureLocked()
	c.state = StateIdle
	c.mu.Unlock()
	c.cancel()
	if c.cfg.Watchdog != nil {
		c.cfg.Watchdog.Stop()
	}
	if was == StateListening {
		c.emitListening(false, mode)
	}
}

func (c *Channel) startCaptureLocked(mode Mode) {
	c.stopCaptureLocked()
	c.state = StateListening
	c.mode = mode
	go c.capture(c.recGen, mode)
}

func (c *Channel) stopCaptureLocked() {
	c.recGen++
	if c.rec != nil {
		c.rec.Abort()
		c.rec = nil
	}
}

// capture runs recognition sessions for one StartListening call until it
// is superseded, guess mode completes, or the restart budget runs out.
func (c *Channel) capture(gen uint64, mode Mode) {
	budget := c.restartBudget()
	for {
		rec, err := c.cfg.Recognizer.Recognize(c.ctx, mode)
		c.mu.Lock()
		if c.recGen != gen {
			c.mu.Unlock()
			if rec != nil {
				rec.Abort()
			}
			return
		}
		if err == nil {
			c.rec = rec
		}
		c.mu.Unlock()

		if err == nil {
			if c.consume(gen, mode, rec) {
				budget = c.restartBudget()
			}
			err = rec.Err()
		}
		if err != nil && !errors.Is(err, ErrNoSpeech) && !errors.Is(err, ErrAborted) {
			c.log.Warn().Err(err).Str("mode", string(mode)).Msg("recognition error")
		}

		c.mu.Lock()
		if c.recGen != gen {
			c.mu.Unlock()
			return
		}
		c.rec = nil
		if mode == ModeGuess || c.muted || c.closed {
			c.goIdleLocked()
			c.mu.Unlock()
			c.emitListening(false, mode)
			return
		}
		c.mu.Unlock()

		delay, stop := budget.Next()
		if stop {
			c.log.Error().Msg("recognizer keeps failing; giving up on continuous listening")
			c.mu.Lock()
			if c.recGen == gen {
				c.goIdleLocked()
			}
			c.mu.Unlock()
			c.emitListening(false, mode)
			return
		}
		t := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Channel) goIdleLocked() {
	c.recGen++
	c.state = StateIdle
}

// consume forwards results of one session and reports whether any were
// seen. Results of a superseded session are drained and dropped.
func (c *Channel) consume(gen uint64, mode Mode, rec Recognition) bool {
	heard, done := false, false
	for r := range rec.Results() {
		if done || !c.current(gen) {
			continue
		}
		heard = true
		c.disarm()
		text := strings.TrimSpace(r.Text)
		if !r.Final {
			if fn := c.cfg.Events.OnInterim; fn != nil && text != "" {
				fn(text)
			}
			continue
		}
		if text == "" {
			continue
		}
		if fn := c.cfg.OnFinal; fn != nil {
			fn(text, mode)
		}
		if mode == ModeGuess {
			done = true
			rec.Abort()
		}
	}
	return heard
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recGen == gen
}

func (c *Channel) restartBudget() retry.Backoff {
	b := retry.NewExponential(c.cfg.RestartBase)
	b = retry.WithCappedDuration(c.cfg.RestartCap, b)
	return retry.WithMaxRetries(c.cfg.RestartLimit, b)
}

func (c *Channel) shouldArm() bool {
	if c.cfg.Watchdog == nil {
		return false
	}
	if c.cfg.ArmPolicy == nil {
		return true
	}
	return c.cfg.ArmPolicy()
}

func (c *Channel) disarm() {
	if c.cfg.Watchdog != nil {
		c.cfg.Watchdog.Disarm()
	}
}

func (c *Channel) emitListening(on bool, mode Mode) {
	if fn := c.cfg.Events.OnListening; fn != nil {
		fn(on, mode)
	}
}

var errNoSynthesis = errors.New("audio: nothing to synthesize")

// Prefetch is a synthesis started ahead of playback.
type Prefetch struct {
	text string
	done chan struct{}
	clip Clip
	err  error
}

// Text returns the text being synthesized.
func (p *Prefetch) Text() string { return p.text }

// Wait blocks until synthesis finishes or ctx is done.
func (p *Prefetch) Wait(ctx context.Context) (Clip, error) {
	select {
	case <-p.done:
		return p.clip, p.err
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	}
}
