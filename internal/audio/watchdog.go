package audio

import (
	"sync"
	"time"
)

// DefaultSilenceTimeout is how long the player may stay quiet after the
// game master finishes speaking.
const DefaultSilenceTimeout = 6 * time.Second

// Watchdog is a single-shot silence timer. Re-arming cancels the pending
// timer; a disarmed or superseded timer never fires.
type Watchdog struct {
	timeout time.Duration

	mu      sync.Mutex
	fire    func()
	timer   *time.Timer
	gen     uint64
	armed   bool
	arms    int
	stopped bool
}

func NewWatchdog(timeout time.Duration, fire func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultSilenceTimeout
	}
	return &Watchdog{timeout: timeout, fire: fire}
}

// SetCallback replaces the function invoked on expiry.
func (w *Watchdog) SetCallback(fire func()) {
	w.mu.Lock()
	w.fire = fire
	w.mu.Unlock()
}

// Arm starts the timer, cancelling any pending one first.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.armed = true
	w.arms++
	w.timer = time.AfterFunc(w.timeout, func() { w.expire(gen) })
}

// Disarm cancels the pending timer, if any.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Stop disarms the watchdog for good.
func (w *Watchdog) Stop() {
	w.Disarm()
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// Armed reports whether a timer is pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Arms returns how many times the watchdog has been armed.
func (w *Watchdog) Arms() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.arms
}

func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || !w.armed {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	fire := w.fire
	w.mu.Unlock()
	if fire != nil {
		fire()
	}
}
