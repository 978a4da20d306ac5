package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/audio"
)

// Endpointing defaults. The silence threshold is the base inactivity
// window before an utterance is complete; it is extended when the last
// word suggests the speaker will go on, and a short grace period absorbs
// late ASR updates before finalizing.
const (
	DefaultSilenceThreshold      = 700 * time.Millisecond
	DefaultContinuationExtension = 1200 * time.Millisecond
	DefaultStabilizationGrace    = 250 * time.Millisecond
)

const assemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// ErrSessionClosed ends recognitions when the streaming connection goes away.
var ErrSessionClosed = errors.New("assemblyai: session closed")

// AssemblyAIService is a streaming recognizer over the AssemblyAI v3
// websocket. Audio is fed continuously with SendPCM16KLE; text is only
// delivered while a recognition opened by Recognize is active.
type AssemblyAIService struct {
	apiKey string
	URL    string

	SilenceThreshold      time.Duration
	ContinuationExtension time.Duration
	StabilizationGrace    time.Duration

	log       zerolog.Logger
	conn      *websocket.Conn
	writeMu   sync.Mutex
	audioData chan []byte
	stopCh    chan struct{}
	mu        sync.RWMutex
	connected bool

	subMu sync.Mutex
	sub   *assemblyRecognition

	// utterance accumulation
	accMu                   sync.Mutex
	latestFullTranscript    string
	committedFullTranscript string
	lastUpdateTime          time.Time
	// resettable timer to detect end-of-utterance based on inactivity
	silenceTimer *time.Timer
	// last time we detected non-silent voice energy in the incoming PCM
	lastVoiceTime time.Time
}

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type           string `json:"type"`
	Transcript     string `json:"transcript"`
	TurnFormatted  bool   `json:"turn_is_formatted"`
	AudioStartTime int64  `json:"audio_start_time,omitempty"`
	AudioEndTime   int64  `json:"audio_end_time,omitempty"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAIService(apiKey string, logger zerolog.Logger) *AssemblyAIService {
	return &AssemblyAIService{
		apiKey:                apiKey,
		URL:                   assemblyAIURL,
		SilenceThreshold:      DefaultSilenceThreshold,
		ContinuationExtension: DefaultContinuationExtension,
		StabilizationGrace:    DefaultStabilizationGrace,
		log:                   logger.With().Str("component", "assemblyai").Logger(),
		audioData:             make(chan []byte, 1000),
		stopCh:                make(chan struct{}),
	}
}

// Connect establishes the websocket connection to AssemblyAI.
func (s *AssemblyAIService) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	select {
	case <-s.stopCh:
		return ErrSessionClosed
	default:
	}
	if s.apiKey == "" {
		return fmt.Errorf("AssemblyAI API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := s.URL + "?" + params.Encode()

	headers := map[string][]string{
		"Authorization": {s.apiKey},
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	s.log.Info().Str("url", wsURL).Msg("connecting")
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			s.log.Warn().Int("status", resp.StatusCode).Msg("connection refused")
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.accMu.Lock()
	s.lastUpdateTime = time.Now()
	s.lastVoiceTime = time.Now()
	s.accMu.Unlock()

	connDone := make(chan struct{})
	go s.handleMessages(conn, connDone)
	go s.sendAudioData(conn, connDone)

	s.log.Info().Msg("connected")
	return nil
}

// Recognize opens a capture session. Only speech that starts after the
// call is reported. It satisfies audio.Recognizer.
func (s *AssemblyAIService) Recognize(ctx context.Context, mode audio.Mode) (audio.Recognition, error) {
	if err := s.Connect(); err != nil {
		return nil, err
	}
	r := &assemblyRecognition{svc: s, out: make(chan audio.Result, 32), done: make(chan struct{})}

	s.accMu.Lock()
	s.committedFullTranscript = s.latestFullTranscript
	s.accMu.Unlock()

	s.subMu.Lock()
	prev := s.sub
	s.sub = r
	s.subMu.Unlock()
	if prev != nil {
		prev.end(audio.ErrAborted)
	}
	stop := context.AfterFunc(ctx, r.Abort)
	go func() {
		<-r.done
		stop()
	}()
	s.log.Debug().Str("mode", string(mode)).Msg("recognition started")
	return r, nil
}

// SendPCM16KLE queues 16kHz 16-bit little-endian mono PCM.
func (s *AssemblyAIService) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("not connected to AssemblyAI")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audioData <- pcm:
	default:
		s.log.Warn().Msg("audio buffer full, dropping packet")
	}
	return nil
}

// detectVoiceActivity updates lastVoiceTime if PCM buffer contains voice energy above a threshold.
// Expects 16-bit little-endian PCM mono at 16 kHz.
func (s *AssemblyAIService) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	const voiceRMS = 250.0
	if rms >= voiceRMS {
		s.accMu.Lock()
		s.lastVoiceTime = time.Now()
		s.accMu.Unlock()
	}
}

// Close terminates the streaming session and ends any open recognition.
func (s *AssemblyAIService) Close() error {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.stopCh)
	s.accMu.Lock()
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()
	if s.conn != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		s.writeMu.Unlock()
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	s.mu.Unlock()

	// best effort: the last words still reach an open recognition
	s.flushPendingDelta()
	s.endSub(ErrSessionClosed)
	s.log.Info().Msg("connection closed")
	return nil
}

func (s *AssemblyAIService) handleMessages(conn *websocket.Conn, connDone chan struct{}) {
	defer close(connDone)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("recovered in handleMessages")
		}
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.log.Warn().Err(err).Msg("read failed")
				s.mu.Lock()
				if s.conn == conn {
					s.connected = false
					s.conn = nil
				}
				s.mu.Unlock()
				_ = conn.Close()
				s.endSub(ErrSessionClosed)
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *AssemblyAIService) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil || base.Type == "" {
		s.log.Warn().Bytes("message", message).Msg("unreadable message")
		return
	}
	switch base.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		expires := time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339)
		s.log.Info().Str("id", msg.ID).Str("expires_at", expires).Msg("session began")
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Transcript == "" {
			return
		}
		s.accMu.Lock()
		s.latestFullTranscript = msg.Transcript
		s.lastUpdateTime = time.Now()
		interim := s.deltaLocked()
		// finalize fires only after inactivity
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(s.SilenceThreshold, s.finalizeDueToSilence)
		} else {
			_ = s.silenceTimer.Stop()
			s.silenceTimer.Reset(s.SilenceThreshold)
		}
		s.accMu.Unlock()
		if interim != "" {
			s.deliver(audio.Result{Text: interim})
		}
	case "Termination":
		var msg TerminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.log.Info().Float64("audio_s", msg.AudioDurationSeconds).Float64("session_s", msg.SessionDurationSeconds).Msg("session terminated")
		s.flushPendingDelta()
	case "Error":
		var msg ErrorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.log.Error().Str("error", msg.Error).Msg("provider error")
	default:
		s.log.Debug().Str("type", base.Type).Msg("unknown message type")
	}
}

func (s *AssemblyAIService) threshold(text string) time.Duration {
	t := s.SilenceThreshold
	if isContinuationLikely(text) {
		t += s.ContinuationExtension
	}
	return t
}

func (s *AssemblyAIService) rescheduleLocked(wait time.Duration) {
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	if s.silenceTimer == nil {
		s.silenceTimer = time.AfterFunc(wait, s.finalizeDueToSilence)
		return
	}
	_ = s.silenceTimer.Stop()
	s.silenceTimer.Reset(wait)
}

// finalizeDueToSilence runs after the silence threshold. It emits only
// the text added since the last committed transcript.
func (s *AssemblyAIService) finalizeDueToSilence() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.accMu.Lock()
	now := time.Now()
	threshold := s.threshold(s.latestFullTranscript)
	sinceText := now.Sub(s.lastUpdateTime)
	sinceVoice := now.Sub(s.lastVoiceTime)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold
		if rem := threshold - sinceText; sinceText < threshold && rem < wait {
			wait = rem
		}
		if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
			wait = rem
		}
		s.rescheduleLocked(wait)
		s.accMu.Unlock()
		return
	}
	lastUpdateAt := s.lastUpdateTime
	s.accMu.Unlock()

	time.Sleep(s.StabilizationGrace)

	s.accMu.Lock()
	if s.lastUpdateTime.After(lastUpdateAt) {
		threshold = s.threshold(s.latestFullTranscript)
		wait := threshold
		if rem := threshold - time.Since(s.lastUpdateTime); rem > 10*time.Millisecond && rem < wait {
			wait = rem
		}
		s.rescheduleLocked(wait)
		s.accMu.Unlock()
		return
	}
	delta := s.deltaLocked()
	s.committedFullTranscript = s.latestFullTranscript
	s.accMu.Unlock()

	if delta != "" {
		s.deliver(audio.Result{Text: delta, Final: true})
	}
}

// flushPendingDelta sends any remaining uncommitted transcript delta.
func (s *AssemblyAIService) flushPendingDelta() {
	s.accMu.Lock()
	delta := s.deltaLocked()
	s.committedFullTranscript = s.latestFullTranscript
	s.accMu.Unlock()
	if delta != "" {
		s.deliver(audio.Result{Text: delta, Final: true})
	}
}

func (s *AssemblyAIService) deltaLocked() string {
	latest := s.latestFullTranscript
	base := s.committedFullTranscript
	delta := strings.TrimSpace(strings.TrimPrefix(latest, base))
	if delta == "" && base != "" {
		if idx := strings.LastIndex(latest, base); idx >= 0 && idx+len(base) <= len(latest) {
			delta = strings.TrimSpace(latest[idx+len(base):])
		}
	}
	return delta
}

func (s *AssemblyAIService) deliver(res audio.Result) {
	s.subMu.Lock()
	r := s.sub
	s.subMu.Unlock()
	if r == nil {
		return
	}
	r.send(res)
}

func (s *AssemblyAIService) endSub(err error) {
	s.subMu.Lock()
	r := s.sub
	s.sub = nil
	s.subMu.Unlock()
	if r != nil {
		r.end(err)
	}
}

func (s *AssemblyAIService) detach(r *assemblyRecognition) {
	s.subMu.Lock()
	if s.sub == r {
		s.sub = nil
	}
	s.subMu.Unlock()
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// Coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// Subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// Discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// Prepositions that are awkward sentence endings
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}

func (s *AssemblyAIService) sendAudioData(conn *websocket.Conn, connDone chan struct{}) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-connDone:
			return
		case data := <-s.audioData:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, data)
			s.writeMu.Unlock()
			if err != nil {
				s.log.Warn().Err(err).Msg("sending audio failed")
				return
			}
		}
	}
}

// assemblyRecognition is one capture session on a shared connection.
type assemblyRecognition struct {
	svc  *AssemblyAIService
	out  chan audio.Result
	done chan struct{}

	mu    sync.Mutex
	ended bool
	err   error
}

func (r *assemblyRecognition) Results() <-chan audio.Result { return r.out }

func (r *assemblyRecognition) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *assemblyRecognition) Abort() {
	r.svc.detach(r)
	r.end(audio.ErrAborted)
}

func (r *assemblyRecognition) send(res audio.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	select {
	case r.out <- res:
	default:
		if res.Final {
			// a final must not be lost behind stale interims
			select {
			case <-r.out:
			default:
			}
			select {
			case r.out <- res:
			default:
			}
		}
	}
}

func (r *assemblyRecognition) end(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.ended = true
	r.err = err
	close(r.out)
	close(r.done)
}
