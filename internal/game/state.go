package game

import "strings"

// Phase is the coarse stage of a game session.
type Phase string

const (
	PhaseSetupIntro         Phase = "setup_intro"
	PhasePlayerRegistration Phase = "player_registration"
	PhasePlaying            Phase = "playing"
	PhaseGameOver           Phase = "game_over"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSetupIntro, PhasePlayerRegistration, PhasePlaying, PhaseGameOver:
		return true
	}
	return false
}

// Proximity classifies a round's answer relative to the players' location.
type Proximity string

const (
	ProximityHere   Proximity = "here"
	ProximityNearby Proximity = "nearby"
	ProximityRegion Proximity = "region"
)

// ParseProximity maps free text to a Proximity; anything unknown is region.
func ParseProximity(s string) Proximity {
	switch Proximity(strings.ToLower(strings.TrimSpace(s))) {
	case ProximityHere:
		return ProximityHere
	case ProximityNearby:
		return ProximityNearby
	}
	return ProximityRegion
}

// MaxHints bounds the number of hints carried by a round.
const MaxHints = 4

type Player struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	IsLeader bool   `json:"isLeader"`
}

type Round struct {
	Letter         string    `json:"letter,omitempty"`
	Answer         string    `json:"answer,omitempty"`
	Hints          []string  `json:"hints,omitempty"`
	HintsRevealed  int       `json:"hintsRevealed"`
	Proximity      Proximity `json:"proximity,omitempty"`
	NearbyLocation string    `json:"nearbyLocation,omitempty"`
	Essay          string    `json:"essay,omitempty"`
	AnswerRevealed bool      `json:"answerRevealed,omitempty"`
}

// Started reports whether a round with an answer is in play.
func (r Round) Started() bool { return strings.TrimSpace(r.Answer) != "" }

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	County    string  `json:"county,omitempty"`
	Region    string  `json:"region,omitempty"`
}

// HasCoordinates reports whether a GPS fix is present.
func (l Location) HasCoordinates() bool { return l.Latitude != 0 || l.Longitude != 0 }

// State is the whole of a session's game progress.
type State struct {
	Phase       Phase    `json:"phase"`
	Players     []Player `json:"players"`
	RoundNumber int      `json:"roundNumber"`
	Category    string   `json:"category,omitempty"`
	Round       Round    `json:"currentRound"`
	Location    Location `json:"location"`
}

// NewState returns the state every session starts from.
func NewState() State {
	return State{Phase: PhaseSetupIntro, Players: []Player{}}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Players = append([]Player{}, s.Players...)
	if s.Round.Hints != nil {
		out.Round.Hints = append([]string{}, s.Round.Hints...)
	}
	return out
}

// Snapshot is the outbound view of s. The essay is dropped; the agent
// already wrote it and does not need it back.
func (s State) Snapshot() State {
	out := s.Clone()
	out.Round.Essay = ""
	return out
}

// PlayerIndex finds a player by name, ignoring case and surrounding space.
func (s State) PlayerIndex(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}
	for i, p := range s.Players {
		if strings.EqualFold(p.Name, name) {
			return i
		}
	}
	return -1
}

// Leader returns the current leader, if any.
func (s State) Leader() (Player, bool) {
	for _, p := range s.Players {
		if p.IsLeader {
			return p, true
		}
	}
	return Player{}, false
}

// AwaitingRound reports a category chosen with no round in play outside
// of the intro, i.e. the agent owes a clue.
func (s State) AwaitingRound() bool {
	return s.Category != "" && !s.Round.Started() && s.Phase != PhaseSetupIntro
}
