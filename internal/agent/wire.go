package agent

import (
	"time"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

// NewVoiceSession builds a session together with its audio channel and
// silence watchdog. Finals from the channel become turns, an expired
// watchdog becomes a silence turn, and the session decides whether the
// watchdog is armed again.
func NewVoiceSession(cfg Config, ac audio.Config, silence time.Duration) (*Session, *audio.Channel) {
	wd := audio.NewWatchdog(silence, nil)
	ac.Watchdog = wd
	ac.Logger = cfg.Logger

	var s *Session
	ac.ArmPolicy = func() bool { return s.ShouldArm() }
	ac.OnFinal = func(text string, mode audio.Mode) { s.HandleFinal(text, mode) }
	ch := audio.NewChannel(ac)

	cfg.Voice = ch
	s = NewSession(cfg)
	wd.SetCallback(s.OnSilence)
	return s, ch
}
