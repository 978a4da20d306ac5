package game

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPoints bounds numeric action fields; larger values are ignored.
const MaxPoints = math.MaxInt32

// Kind is the wire name of an action.
type Kind string

const (
	KindSetPhase       Kind = "set_phase"
	KindRegisterPlayer Kind = "register_player"
	KindSetCategory    Kind = "set_category"
	KindStartRound     Kind = "start_round"
	KindCorrectGuess   Kind = "correct_guess"
	KindIncorrectGuess Kind = "incorrect_guess"
	KindRevealHint     Kind = "reveal_hint"
	KindRevealAnswer   Kind = "reveal_answer"
	KindShowEssay      Kind = "show_essay"
	KindNextRound      Kind = "next_round"
	KindReroll         Kind = "reroll"
	KindEndGame        Kind = "end_game"
	KindNoAction       Kind = "no_action"
)

// Action is one instruction from the game master. The set of
// implementations is closed; see ParseAction.
type Action interface {
	Kind() Kind
	isAction()
}

type SetPhase struct{ Phase Phase }

type RegisterPlayer struct {
	Name     string
	IsLeader bool
}

type SetCategory struct {
	Category string
	Actor    string
}

type StartRound struct {
	Letter         string
	Answer         string
	Hints          []string
	Essay          string
	Proximity      Proximity
	NearbyLocation string
}

type CorrectGuess struct {
	Player string
	Points int
}

type IncorrectGuess struct{ Player string }

// RevealHint carries a zero-based hint index; -1 means the index was
// missing or unreadable.
type RevealHint struct{ Index int }

type RevealAnswer struct{}

type ShowEssay struct{ Essay string }

type NextRound struct{ Actor string }

type Reroll struct{ Actor string }

type EndGame struct{ Actor string }

type NoAction struct{}

// Unknown stands in for anything that could not be decoded.
type Unknown struct {
	Type   string
	Reason string
}

func (SetPhase) Kind() Kind       { return KindSetPhase }
func (RegisterPlayer) Kind() Kind { return KindRegisterPlayer }
func (SetCategory) Kind() Kind    { return KindSetCategory }
func (StartRound) Kind() Kind     { return KindStartRound }
func (CorrectGuess) Kind() Kind   { return KindCorrectGuess }
func (IncorrectGuess) Kind() Kind { return KindIncorrectGuess }
func (RevealHint) Kind() Kind     { return KindRevealHint }
func (RevealAnswer) Kind() Kind   { return KindRevealAnswer }
func (ShowEssay) Kind() Kind      { return KindShowEssay }
func (NextRound) Kind() Kind      { return KindNextRound }
func (Reroll) Kind() Kind         { return KindReroll }
func (EndGame) Kind() Kind        { return KindEndGame }
func (NoAction) Kind() Kind       { return KindNoAction }
func (u Unknown) Kind() Kind      { return Kind(u.Type) }

func (SetPhase) isAction()       {}
func (RegisterPlayer) isAction() {}
func (SetCategory) isAction()    {}
func (StartRound) isAction()     {}
func (CorrectGuess) isAction()   {}
func (IncorrectGuess) isAction() {}
func (RevealHint) isAction()     {}
func (RevealAnswer) isAction()   {}
func (ShowEssay) isAction()      {}
func (NextRound) isAction()      {}
func (Reroll) isAction()         {}
func (EndGame) isAction()        {}
func (NoAction) isAction()       {}
func (Unknown) isAction()        {}

// leaderOnly is implemented by actions that alter game flow.
type leaderOnly interface {
	actor() string
}

func (a SetCategory) actor() string { return a.Actor }
func (a NextRound) actor() string   { return a.Actor }
func (a Reroll) actor() string      { return a.Actor }
func (a EndGame) actor() string     { return a.Actor }

// ParseAction decodes one wire action. It never fails: anything it cannot
// make sense of comes back as Unknown.
func ParseAction(raw json.RawMessage) Action {
	var m fields
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return Unknown{Reason: "not an object"}
	}
	typ := strings.ToLower(m.str("type"))
	switch Kind(typ) {
	case KindSetPhase:
		p := Phase(strings.ToLower(m.str("phase")))
		if !p.Valid() {
			return Unknown{Type: typ, Reason: "unknown phase"}
		}
		return SetPhase{Phase: p}
	case KindRegisterPlayer:
		name := m.str("name", "player", "playerName")
		if name == "" {
			return Unknown{Type: typ, Reason: "missing name"}
		}
		return RegisterPlayer{Name: name, IsLeader: m.boolean("isLeader", "is_leader", "leader")}
	case KindSetCategory:
		c := m.str("category")
		if c == "" {
			return Unknown{Type: typ, Reason: "missing category"}
		}
		return SetCategory{Category: c, Actor: m.str("actor", "by")}
	case KindStartRound:
		return StartRound{
			Letter:         normalizeLetter(m.str("letter")),
			Answer:         m.str("answer"),
			Hints:          m.strs("hints"),
			Essay:          m.str("essay"),
			Proximity:      ParseProximity(m.str("proximity")),
			NearbyLocation: m.str("nearbyLocation", "nearby_location"),
		}
	case KindCorrectGuess:
		pts, ok := m.integer("points")
		if !ok || pts <= 0 {
			pts = 1
		}
		return CorrectGuess{Player: m.str("player", "name", "playerName"), Points: pts}
	case KindIncorrectGuess:
		return IncorrectGuess{Player: m.str("player", "name", "playerName")}
	case KindRevealHint:
		idx, ok := m.integer("hintIndex", "index", "hint_index")
		if !ok {
			idx = -1
		}
		return RevealHint{Index: idx}
	case KindRevealAnswer:
		return RevealAnswer{}
	case KindShowEssay:
		return ShowEssay{Essay: m.str("essay")}
	case KindNextRound:
		return NextRound{Actor: m.str("actor", "by")}
	case KindReroll:
		return Reroll{Actor: m.str("actor", "by")}
	case KindEndGame:
		return EndGame{Actor: m.str("actor", "by")}
	case KindNoAction:
		return NoAction{}
	}
	return Unknown{Type: typ, Reason: "unknown type"}
}

// ParseActions decodes a batch in order. An empty batch is a single
// NoAction.
func ParseActions(raws []json.RawMessage) []Action {
	if len(raws) == 0 {
		return []Action{NoAction{}}
	}
	out := make([]Action, 0, len(raws))
	for _, r := range raws {
		out = append(out, ParseAction(r))
	}
	return out
}

func normalizeLetter(s string) string {
	s = strings.TrimSpace(s)
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return ""
	}
	return string(unicode.ToUpper(r))
}

// fields reads loosely typed JSON objects: numbers may arrive as strings
// and strings as numbers.
type fields map[string]json.RawMessage

func (f fields) lookup(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func (f fields) integer(keys ...string) (int, bool) {
	v, ok := f.lookup(keys...)
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		if math.IsNaN(n) || math.Abs(n) > MaxPoints {
			return 0, false
		}
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && i >= -MaxPoints && i <= MaxPoints {
			return i, true
		}
	}
	return 0, false
}

func (f fields) boolean(keys ...string) bool {
	v, ok := f.lookup(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		b, _ := strconv.ParseBool(strings.TrimSpace(s))
		return b
	}
	return false
}

func (f fields) strs(keys ...string) []string {
	v, ok := f.lookup(keys...)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		if s := f.str(keys...); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > MaxHints {
		out = out[:MaxHints]
	}
	return out
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
