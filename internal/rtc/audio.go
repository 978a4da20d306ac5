package rtc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

const (
	speakerRate  = 48000
	frameSamples = 960 // 20ms at 48kHz
	frameTime    = 20 * time.Millisecond
)

// ErrNotPCM is returned by Play for clips that are not raw 48kHz PCM.
var ErrNotPCM = errors.New("rtc: clip is not 48kHz PCM")

// SampleWriter is the outbound side of a WebRTC audio track.
// *webrtc.TrackLocalStaticSample satisfies it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// OpusPacedWriter encodes 48kHz PCM mono to Opus and writes the frames
// to a track at real-time pace. It is the audio.Player of a call.
type OpusPacedWriter struct {
	enc     *opus.Encoder
	track   SampleWriter
	pcmBuf  []int16
	frames  chan []byte
	pending atomic.Int64
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewOpusPacedWriter constructs a paced writer with 20ms frames.
func NewOpusPacedWriter(track SampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(speakerRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(track)
	w.enc = enc
	go w.pacer()
	return w, nil
}

func newPacedWriter(track SampleWriter) *OpusPacedWriter {
	return &OpusPacedWriter{
		track:  track,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
}

// Play queues a PCM clip and blocks until it has been sent or ctx ends.
// Cancelling drops whatever is still queued.
func (w *OpusPacedWriter) Play(ctx context.Context, clip audio.Clip) error {
	if !strings.HasPrefix(clip.ContentType, "audio/L16") {
		return ErrNotPCM
	}
	const chunk = frameSamples * 2
	for off := 0; off < len(clip.Data); off += chunk {
		if err := ctx.Err(); err != nil {
			w.Reset()
			return err
		}
		w.WritePCM(clip.Data[off:min(off+chunk, len(clip.Data))])
	}
	w.FlushTail()
	t := time.NewTicker(frameTime)
	defer t.Stop()
	for w.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			w.Reset()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-t.C:
		}
	}
	return nil
}

// WritePCM buffers little-endian PCM and emits encoded frames.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	need := len(pcmBytes) / 2
	for i := 0; i < need; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(uint16(pcmBytes[2*i])|uint16(pcmBytes[2*i+1])<<8))
	}
	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= frameSamples {
		w.encodeLocked(w.pcmBuf[:frameSamples], opusBuf)
		w.pcmBuf = append(w.pcmBuf[:0], w.pcmBuf[frameSamples:]...)
	}
}

// FlushTail pads the remaining PCM to a full frame and adds ~200ms of
// silence so the last syllable is not clipped.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	opusBuf := make([]byte, 4000)
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, frameSamples)
		copy(pad, w.pcmBuf)
		w.encodeLocked(pad, opusBuf)
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < 10; i++ {
		w.encodeLocked(silence, opusBuf)
	}
}

func (w *OpusPacedWriter) encodeLocked(frame []int16, buf []byte) {
	if w.enc == nil {
		return
	}
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n <= 0 {
		return
	}
	pkt := make([]byte, n)
	copy(pkt, buf[:n])
	w.pushFrame(pkt)
}

// Close stops the pacer.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				w.pending.Add(-1)
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameTime})
			default:
			}
		}
	}
}

// pushFrame enqueues a frame, blocking until there is room or the
// writer is stopped.
func (w *OpusPacedWriter) pushFrame(pkt []byte) {
	w.pending.Add(1)
	select {
	case <-w.stopCh:
		w.pending.Add(-1)
	case w.frames <- pkt:
	}
}

// Reset drops queued frames and buffered PCM.
func (w *OpusPacedWriter) Reset() {
	for {
		select {
		case <-w.frames:
			w.pending.Add(-1)
		default:
			w.mu.Lock()
			w.pcmBuf = w.pcmBuf[:0]
			w.mu.Unlock()
			return
		}
	}
}
