package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRec struct {
	in   chan Result
	out  chan Result
	stop chan struct{}
	end  chan struct{}

	stopOnce sync.Once
	endOnce  sync.Once
	mu       sync.Mutex
	err      error
}

func newFakeRec() *fakeRec {
	r := &fakeRec{
		in:   make(chan Result, 8),
		out:  make(chan Result),
		stop: make(chan struct{}),
		end:  make(chan struct{}),
	}
	go func() {
		defer close(r.out)
		for {
			select {
			case <-r.stop:
				return
			case <-r.end:
				return
			case res := <-r.in:
				select {
				case r.out <- res:
				case <-r.stop:
					return
				}
			}
		}
	}()
	return r
}

func (r *fakeRec) Results() <-chan Result { return r.out }

func (r *fakeRec) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *fakeRec) Abort() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		if r.err == nil {
			r.err = ErrAborted
		}
		r.mu.Unlock()
		close(r.stop)
	})
}

func (r *fakeRec) finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.endOnce.Do(func() { close(r.end) })
}

func (r *fakeRec) aborted() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

type fakeRecognizer struct {
	mu       sync.Mutex
	sessions []*fakeRec
	opened   chan *fakeRec
	fail     error
	calls    int32
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{opened: make(chan *fakeRec, 32)}
}

func (f *fakeRecognizer) Recognize(ctx context.Context, mode Mode) (Recognition, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail != nil {
		return nil, f.fail
	}
	r := newFakeRec()
	f.mu.Lock()
	f.sessions = append(f.sessions, r)
	f.mu.Unlock()
	f.opened <- r
	return r, nil
}

func (f *fakeRecognizer) next(t *testing.T) *fakeRec {
	t.Helper()
	select {
	case r := <-f.opened:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for a recognition session")
		return nil
	}
}

type fakeSynth struct {
	contentType string
	err         error
}

func (s fakeSynth) Synthesize(ctx context.Context, text string) (Clip, error) {
	if s.err != nil {
		return Clip{}, s.err
	}
	return Clip{Data: []byte(text), ContentType: s.contentType}, nil
}

type fakePlayer struct {
	d         time.Duration
	plays     int32
	cancelled int32
}

func (p *fakePlayer) Play(ctx context.Context, clip Clip) error {
	atomic.AddInt32(&p.plays, 1)
	select {
	case <-time.After(p.d):
		return nil
	case <-ctx.Done():
		atomic.AddInt32(&p.cancelled, 1)
		return ctx.Err()
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestChannel_SpeakWhileListeningResumesFreshSessionAndArmsOnce(t *testing.T) {
	rz := newFakeRecognizer()
	wd := NewWatchdog(time.Hour, nil)
	pl := &fakePlayer{d: 10 * time.Millisecond}
	ch := NewChannel(Config{Recognizer: rz, Synthesizer: fakeSynth{contentType: "audio/mpeg"}, Player: pl, Watchdog: wd})
	defer ch.Close()

	if !ch.StartListening(ModeCommand) {
		t.Fatalf("expected listening to start")
	}
	first := rz.next(t)

	ch.Speak(context.Background(), "I spy something that starts with M")

	if got := ch.State(); got != StateListening {
		t.Fatalf("state=%s want listening", got)
	}
	if ch.Mode() != ModeCommand {
		t.Fatalf("mode=%s want command", ch.Mode())
	}
	second := rz.next(t)
	if second == first {
		t.Fatalf("expected a fresh recognition session")
	}
	if !first.aborted() {
		t.Fatalf("expected the old session to be aborted before playback")
	}
	if atomic.LoadInt32(&pl.plays) != 1 {
		t.Fatalf("expected one playback, got %d", pl.plays)
	}
	if wd.Arms() != 1 || !wd.Armed() {
		t.Fatalf("expected watchdog armed exactly once, arms=%d", wd.Arms())
	}
}

func TestChannel_ResultDisarmsWatchdog(t *testing.T) {
	rz := newFakeRecognizer()
	wd := NewWatchdog(time.Hour, nil)
	ch := NewChannel(Config{Recognizer: rz, Synthesizer: fakeSynth{contentType: "audio/mpeg"}, Player: &fakePlayer{}, Watchdog: wd})
	defer ch.Close()

	ch.StartListening(ModeCommand)
	rz.next(t)
	ch.Speak(context.Background(), "hello")
	sess := rz.next(t)
	if !wd.Armed() {
		t.Fatalf("expected watchdog armed after playback")
	}
	sess.in <- Result{Text: "um"}
	eventually(t, "watchdog disarm", func() bool { return !wd.Armed() })
}

func TestChannel_SpeakDegradesWithoutAudio(t *testing.T) {
	cases := []struct {
		name  string
		synth Synthesizer
	}{
		{"synth_error", fakeSynth{err: errors.New("provider down")}},
		{"not_audio", fakeSynth{contentType: "application/json"}},
		{"no_synth", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rz := newFakeRecognizer()
			pl := &fakePlayer{}
			ch := NewChannel(Config{Recognizer: rz, Synthesizer: tc.synth, Player: pl, Watchdog: NewWatchdog(time.Hour, nil)})
			defer ch.Close()
			ch.StartListening(ModeGuess)
			rz.next(t)
			ch.Speak(context.Background(), "hello")
			if atomic.LoadInt32(&pl.plays) != 0 {
				t.Fatalf("expected no playback")
			}
			if ch.State() != StateListening || ch.Mode() != ModeGuess {
				t.Fatalf("expected guess listening restored, got %s/%s", ch.State(), ch.Mode())
			}
			rz.next(t)
		})
	}
}

func TestChannel_NewSpeakStopsPreviousPlayback(t *testing.T) {
	rz := newFakeRecognizer()
	wd := NewWatchdog(time.Hour, nil)
	pl := &fakePlayer{d: time.Hour}
	ch := NewChannel(Config{Recognizer: rz, Synthesizer: fakeSynth{contentType: "audio/mpeg"}, Player: pl, Watchdog: wd})
	defer ch.Close()
	ch.StartListening(ModeCommand)
	rz.next(t)

	done := make(chan struct{})
	go func() {
		ch.Speak(context.Background(), "first")
		close(done)
	}()
	eventually(t, "first playback", func() bool { return atomic.LoadInt32(&pl.plays) == 1 })

	pl2 := make(chan struct{})
	go func() {
		defer close(pl2)
		// second playback blocks until StopSpeaking
		ch.Speak(context.Background(), "second")
	}()
	<-done
	if atomic.LoadInt32(&pl.cancelled) != 1 {
		t.Fatalf("expected first playback to be cancelled")
	}
	eventually(t, "second playback", func() bool { return atomic.LoadInt32(&pl.plays) == 2 })
	if ch.State() != StatePaused {
		t.Fatalf("expected capture to stay paused during the second playback, got %s", ch.State())
	}
	ch.StopSpeaking()
	<-pl2
	if ch.State() != StateListening {
		t.Fatalf("state=%s want listening", ch.State())
	}
	if wd.Arms() != 1 {
		t.Fatalf("expected a single arm for the single resume, got %d", wd.Arms())
	}
}

func TestChannel_GuessModeIsSingleShot(t *testing.T) {
	rz := newFakeRecognizer()
	var finals []string
	var mu sync.Mutex
	ch := NewChannel(Config{Recognizer: rz, OnFinal: func(text string, mode Mode) {
		mu.Lock()
		finals = append(finals, text)
		mu.Unlock()
	}})
	defer ch.Close()
	ch.StartListening(ModeGuess)
	sess := rz.next(t)
	sess.in <- Result{Text: "marie"}
	sess.in <- Result{Text: "Marie Curie", Final: true}
	sess.in <- Result{Text: "ignored", Final: true}
	eventually(t, "idle", func() bool { return ch.State() == StateIdle })
	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 || finals[0] != "Marie Curie" {
		t.Fatalf("unexpected finals %v", finals)
	}
	if atomic.LoadInt32(&rz.calls) != 1 {
		t.Fatalf("guess mode must not restart")
	}
}

func TestChannel_CommandModeRestartsAfterProviderEnd(t *testing.T) {
	rz := newFakeRecognizer()
	ch := NewChannel(Config{Recognizer: rz, RestartBase: time.Millisecond})
	defer ch.Close()
	ch.StartListening(ModeCommand)
	first := rz.next(t)
	first.finish(nil)
	second := rz.next(t)
	if second == first {
		t.Fatalf("expected a new session")
	}
	if ch.State() != StateListening {
		t.Fatalf("state=%s want listening", ch.State())
	}
}

func TestChannel_RestartBudgetIsBounded(t *testing.T) {
	rz := newFakeRecognizer()
	rz.fail = errors.New("microphone unavailable")
	ch := NewChannel(Config{Recognizer: rz, RestartLimit: 2, RestartBase: time.Millisecond})
	defer ch.Close()
	ch.StartListening(ModeCommand)
	eventually(t, "idle after budget", func() bool { return ch.State() == StateIdle })
	if got := atomic.LoadInt32(&rz.calls); got != 3 {
		t.Fatalf("recognize calls=%d want 3", got)
	}
}

func TestChannel_StartListeningRefusals(t *testing.T) {
	if NewChannel(Config{}).StartListening(ModeGuess) {
		t.Fatalf("expected false without recognizer")
	}
	ch := NewChannel(Config{Recognizer: newFakeRecognizer()})
	ch.SetMuted(true)
	if ch.StartListening(ModeGuess) {
		t.Fatalf("expected false while muted")
	}
	ch.SetMuted(false)
	ch.Close()
	if ch.StartListening(ModeGuess) {
		t.Fatalf("expected false after close")
	}
}

func TestChannel_StopAndCloseAbortCapture(t *testing.T) {
	rz := newFakeRecognizer()
	wd := NewWatchdog(time.Hour, nil)
	ch := NewChannel(Config{Recognizer: rz, Watchdog: wd})
	ch.StartListening(ModeCommand)
	sess := rz.next(t)
	ch.StopListening()
	if !sess.aborted() || ch.State() != StateIdle {
		t.Fatalf("expected capture aborted and idle")
	}
	ch.StartListening(ModeCommand)
	sess = rz.next(t)
	wd.Arm()
	ch.Close()
	ch.Close()
	if !sess.aborted() || wd.Armed() {
		t.Fatalf("expected teardown to abort capture and disarm")
	}
	wd.Arm()
	if wd.Armed() {
		t.Fatalf("stopped watchdog must not re-arm")
	}
}

func TestChannel_ArmPolicyVeto(t *testing.T) {
	rz := newFakeRecognizer()
	wd := NewWatchdog(time.Hour, nil)
	ch := NewChannel(Config{
		Recognizer: rz, Synthesizer: fakeSynth{contentType: "audio/mpeg"}, Player: &fakePlayer{},
		Watchdog: wd, ArmPolicy: func() bool { return false },
	})
	defer ch.Close()
	ch.StartListening(ModeCommand)
	rz.next(t)
	ch.Speak(context.Background(), "hi")
	if wd.Arms() != 0 {
		t.Fatalf("policy veto ignored")
	}
}

func TestWatchdog_FiresOnceAndRearmCancels(t *testing.T) {
	var fired int32
	wd := NewWatchdog(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	wd.Arm()
	time.Sleep(10 * time.Millisecond)
	wd.Arm()
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired=%d want 1", got)
	}
	if wd.Armed() {
		t.Fatalf("watchdog must disable itself after firing")
	}
}

func TestWatchdog_DisarmPreventsFire(t *testing.T) {
	var fired int32
	wd := NewWatchdog(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	wd.Arm()
	wd.Disarm()
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("disarmed watchdog fired")
	}
}
