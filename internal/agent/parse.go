package agent

import (
	"encoding/json"
	"strings"

	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/game"
)

// FallbackSpeech is spoken when the game master cannot be reached or
// understood.
const FallbackSpeech = "Sorry, I lost my train of thought. Say that again?"

var noActionRaw = json.RawMessage(`{"type":"no_action"}`)

type wireReply struct {
	Speech           *string         `json:"speech"`
	Actions          json.RawMessage `json:"actions"`
	RemainingCredits credits.Balance `json:"remainingCredits"`
}

// ParseReply always produces a usable reply from game master output. It
// tries the whole text as JSON, then the outermost braces, and otherwise
// speaks the text as is.
func ParseReply(text string) Reply {
	text = strings.TrimSpace(text)
	if w, ok := decodeWire(text); ok {
		return w.reply()
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if w, ok := decodeWire(text[start : end+1]); ok {
			return w.reply()
		}
	}
	return Reply{
		Speech:  text,
		Actions: []game.Action{game.NoAction{}},
		Raw:     []json.RawMessage{noActionRaw},
	}
}

func decodeWire(text string) (wireReply, bool) {
	if !strings.HasPrefix(text, "{") {
		return wireReply{}, false
	}
	var w wireReply
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return wireReply{}, false
	}
	return w, true
}

func (w wireReply) reply() Reply {
	r := Reply{Credits: w.RemainingCredits}
	if w.Speech != nil {
		r.Speech = strings.TrimSpace(*w.Speech)
	}
	r.Raw = splitActions(w.Actions)
	if len(r.Raw) == 0 {
		r.Raw = []json.RawMessage{noActionRaw}
	}
	r.Actions = game.ParseActions(r.Raw)
	return r
}

// splitActions accepts an array of actions or a lone action object.
func splitActions(data json.RawMessage) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	if t := strings.TrimSpace(string(data)); strings.HasPrefix(t, "{") {
		return []json.RawMessage{data}
	}
	return nil
}
