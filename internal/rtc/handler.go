package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/audio"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Offer starts a call. The optional fields identify the player and
// where the car is.
type Offer struct {
	SessionDescription
	UserID    string   `json:"userId,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Recognizer is the speech-to-text side of a call.
type Recognizer interface {
	audio.Recognizer
	Connect() error
	SendPCM16KLE(pcm []byte) error
	Close() error
}

// Locator turns a GPS fix into a game location.
type Locator interface {
	Locate(ctx context.Context, lat, lon float64) game.Location
}

// Config wires a Handler. Synth must produce 48kHz PCM.
type Config struct {
	Agent          agent.Agent
	Synth          audio.Synthesizer
	NewRecognizer  func(logger zerolog.Logger) Recognizer
	Locator        Locator
	ICEServers     []webrtc.ICEServer
	Rules          game.Rules
	SilenceTimeout time.Duration
	Logger         zerolog.Logger
}

// Handler runs game sessions over WebRTC: the browser sends microphone
// audio and receives the game master's voice; game events travel on the
// "control" data channel.
type Handler struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

func NewHandler(cfg Config) *Handler {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 6 * time.Second
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = ParseICEServers("")
	}
	return &Handler{cfg: cfg, log: cfg.Logger.With().Str("component", "rtc").Logger(), calls: make(map[string]*call)}
}

// HandleOffer accepts an SDP offer, starts the call and returns the SDP answer.
func (h *Handler) HandleOffer(ctx context.Context, offer Offer) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	if h.cfg.Agent == nil || h.cfg.NewRecognizer == nil {
		return SessionDescription{}, errors.New("voice calls are not configured")
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	paced, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	c := h.newCall(pc, paced, offer)
	h.mu.Lock()
	h.calls[c.id] = c
	h.mu.Unlock()
	c.onClose = func() {
		h.mu.Lock()
		delete(h.calls, c.id)
		h.mu.Unlock()
	}
	c.attach()
	if offer.Latitude != nil && offer.Longitude != nil {
		go c.locate(*offer.Latitude, *offer.Longitude)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		c.close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		c.close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		c.close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		c.close()
		return SessionDescription{}, errors.New("no local description")
	}
	c.log.Info().Msg("call answered")
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// Active returns the number of calls in progress.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// Close hangs up every call.
func (h *Handler) Close() {
	h.mu.Lock()
	calls := make([]*call, 0, len(h.calls))
	for _, c := range h.calls {
		calls = append(calls, c)
	}
	h.mu.Unlock()
	for _, c := range calls {
		c.close()
	}
}

// newPeer prepares a PeerConnection with default codecs and
// interceptors and an Opus track for the game master's voice.
func (h *Handler) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.cfg.ICEServers})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: speakerRate, Channels: 1},
		"game-master-audio", "game-master",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

func (h *Handler) newCall(pc *webrtc.PeerConnection, paced *OpusPacedWriter, offer Offer) *call {
	id := uuid.NewString()
	logger := h.cfg.Logger.With().Str("call", id).Logger()
	c := &call{
		id:    id,
		pc:    pc,
		paced: paced,
		stt:   h.cfg.NewRecognizer(logger),
		loc:   h.cfg.Locator,
		log:   logger.With().Str("component", "rtc-call").Logger(),
	}
	c.session, c.channel = agent.NewVoiceSession(agent.Config{
		UserID: offer.UserID,
		Agent:  h.cfg.Agent,
		Store:  game.NewStore(h.cfg.Rules),
		Log:    transcript.NewLog(transcript.HistoryCap),
		Events: c.sessionEvents(),
		Logger: logger,
	}, audio.Config{
		Recognizer:  c.stt,
		Synthesizer: h.cfg.Synth,
		Player:      paced,
		Events:      c.audioEvents(),
	}, h.cfg.SilenceTimeout)
	return c
}

// ParseICEServers reads ICE servers from JSON, falling back to a public
// STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
