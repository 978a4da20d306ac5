package console

import (
	"context"
	"strings"
	"sync"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

// Keyboard is a recognizer fed by typed lines. Each recognition session
// delivers one line as a final result.
type Keyboard struct {
	lines     chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func NewKeyboard() *Keyboard {
	return &Keyboard{lines: make(chan string), closed: make(chan struct{})}
}

// Feed hands a typed line to the session that is listening. It blocks
// until a session takes it or the keyboard is closed, and reports
// whether the line was taken.
func (k *Keyboard) Feed(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	select {
	case k.lines <- line:
		return true
	case <-k.closed:
	case <-ctx.Done():
	}
	return false
}

// Close ends every recognition session.
func (k *Keyboard) Close() {
	k.closeOnce.Do(func() { close(k.closed) })
}

func (k *Keyboard) Recognize(ctx context.Context, _ audio.Mode) (audio.Recognition, error) {
	r := &typed{out: make(chan audio.Result, 1), abort: make(chan struct{})}
	go r.run(ctx, k)
	return r, nil
}

type typed struct {
	out       chan audio.Result
	abort     chan struct{}
	abortOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (r *typed) run(ctx context.Context, k *Keyboard) {
	defer close(r.out)
	select {
	case line := <-k.lines:
		r.out <- audio.Result{Text: line, Final: true}
	case <-r.abort:
		r.setErr(audio.ErrAborted)
	case <-k.closed:
		r.setErr(audio.ErrAborted)
	case <-ctx.Done():
		r.setErr(audio.ErrAborted)
	}
}

func (r *typed) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *typed) Results() <-chan audio.Result { return r.out }

func (r *typed) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *typed) Abort() { r.abortOnce.Do(func() { close(r.abort) }) }
