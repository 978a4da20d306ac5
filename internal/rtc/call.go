package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/audio"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

const (
	micRate       = 16000
	micChunkBytes = 3200 // 100ms of 16kHz PCM16
)

// event is one message on the control data channel.
type event struct {
	Type     string           `json:"type"`
	On       *bool            `json:"on,omitempty"`
	Mode     audio.Mode       `json:"mode,omitempty"`
	Speaker  string           `json:"speaker,omitempty"`
	Text     string           `json:"text,omitempty"`
	Effects  []game.Effect    `json:"effects,omitempty"`
	State    *game.State      `json:"state,omitempty"`
	Credits  *credits.Balance `json:"credits,omitempty"`
	Required int              `json:"required,omitempty"`
	Location string           `json:"location,omitempty"`
}

// command is what the browser sends on the control channel.
type command struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

type call struct {
	id      string
	pc      *webrtc.PeerConnection
	paced   *OpusPacedWriter
	stt     Recognizer
	loc     Locator
	session *agent.Session
	channel *audio.Channel
	log     zerolog.Logger

	dc        atomic.Pointer[webrtc.DataChannel]
	listening atomic.Bool
	closeOnce sync.Once
	onClose   func()
}

func (c *call) attach() {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			c.close()
		}
	})
	c.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.log.Debug().Str("state", state.String()).Msg("ice state")
	})
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		c.dc.Store(dc)
		dc.OnOpen(func() {
			st := c.session.Store().Snapshot()
			c.send(event{Type: "state", State: &st})
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { c.control(msg.Data) })
	})
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		if !c.listening.CompareAndSwap(false, true) {
			return
		}
		c.log.Info().Str("codec", remote.Codec().MimeType).Msg("microphone track received")
		go c.listen(remote)
	})
}

// listen connects speech recognition, opens the game and then feeds
// microphone audio to the recognizer until the track ends.
func (c *call) listen(remote *webrtc.TrackRemote) {
	if err := c.stt.Connect(); err != nil {
		c.log.Error().Err(err).Msg("speech recognition unavailable")
		c.send(event{Type: "error", Text: "Speech recognition unavailable"})
		return
	}
	dec, err := opus.NewDecoder(micRate, 1)
	if err != nil {
		c.log.Error().Err(err).Msg("opus decoder")
		return
	}
	c.channel.StartListening(audio.ModeCommand)
	c.session.Begin()

	pcm := make([]int16, 1920)
	buf := make([]byte, 0, micChunkBytes*4)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			c.log.Debug().Err(err).Msg("microphone track ended")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			c.log.Debug().Err(err).Msg("opus decode")
			continue
		}
		for i := 0; i < n; i++ {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(pcm[i]))
		}
		for len(buf) >= micChunkBytes {
			c.forward(buf[:micChunkBytes])
			buf = append(buf[:0], buf[micChunkBytes:]...)
		}
	}
}

// forward passes a microphone chunk to the recognizer. Chunks that arrive
// while the channel is not listening are dropped so that playback picked
// up by the microphone never reaches recognition.
func (c *call) forward(chunk []byte) {
	if c.channel.State() != audio.StateListening {
		return
	}
	if err := c.stt.SendPCM16KLE(chunk); err != nil {
		c.log.Debug().Err(err).Msg("recognizer send")
	}
}

func (c *call) control(data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		cmd.Type = strings.TrimSpace(string(data))
	}
	switch strings.ToLower(cmd.Type) {
	case "stop", "stop-speaking", "cancel", "barge-in":
		c.channel.StopSpeaking()
	case "mute":
		c.channel.SetMuted(true)
	case "unmute":
		c.channel.SetMuted(false)
		c.channel.StartListening(audio.ModeCommand)
	case "say":
		c.session.Submit(cmd.Text)
	case "location":
		go c.locate(cmd.Latitude, cmd.Longitude)
	case "hangup", "bye":
		c.close()
	default:
		c.log.Debug().Str("command", cmd.Type).Msg("unknown control command")
	}
}

func (c *call) locate(lat, lon float64) {
	loc := game.Location{Latitude: lat, Longitude: lon}
	if c.loc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		loc = c.loc.Locate(ctx, lat, lon)
		cancel()
	}
	c.session.Store().SetLocation(loc)
	c.log.Debug().Str("city", loc.City).Msg("location updated")
}

func (c *call) sessionEvents() agent.Events {
	return agent.Events{
		OnThinking: func(on bool) { c.send(event{Type: "thinking", On: &on}) },
		OnTranscript: func(e transcript.Entry) {
			if !e.Synthetic {
				c.send(event{Type: "transcript", Speaker: string(e.Speaker), Text: e.Text})
			}
		},
		OnEffects: func(effects []game.Effect) {
			st := c.session.Store().Snapshot()
			c.send(event{Type: "effects", Effects: effects, State: &st})
		},
		OnCredits: func(b credits.Balance) { c.send(event{Type: "credits", Credits: &b}) },
		OnInsufficientCredits: func(err *agent.CreditError) {
			b := credits.Balance{Known: true, Credits: err.Credits}
			c.send(event{Type: "insufficient_credits", Credits: &b, Required: err.Required})
		},
		OnEnded: func() {
			c.send(event{Type: "ended"})
			go c.close()
		},
	}
}

func (c *call) audioEvents() audio.Events {
	return audio.Events{
		OnListening: func(on bool, mode audio.Mode) { c.send(event{Type: "listening", On: &on, Mode: mode}) },
		OnInterim:   func(text string) { c.send(event{Type: "interim", Text: text}) },
		OnPlayback:  func(on bool) { c.send(event{Type: "playback", On: &on}) },
	}
}

func (c *call) send(e event) {
	dc := c.dc.Load()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := dc.SendText(string(b)); err != nil {
		c.log.Debug().Err(err).Str("event", e.Type).Msg("control send")
	}
}

// close tears the call down once; every exit path ends here.
func (c *call) close() {
	c.closeOnce.Do(func() {
		c.session.Close()
		_ = c.stt.Close()
		c.paced.Close()
		_ = c.pc.Close()
		if c.onClose != nil {
			c.onClose()
		}
		c.log.Info().Msg("call ended")
	})
}
