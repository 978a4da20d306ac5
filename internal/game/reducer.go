package game

import (
	"math"
	"strings"
)

// Rules tunes the reducer. The zero value trusts the game master fully.
type Rules struct {
	// EnforceLeader rejects flow-altering actions whose asserted actor is
	// not the current leader. Actions without an actor are trusted.
	EnforceLeader bool
}

type EffectKind string

const (
	EffectPhaseChanged    EffectKind = "phase_changed"
	EffectPlayerJoined    EffectKind = "player_joined"
	EffectCategoryChanged EffectKind = "category_changed"
	EffectRoundStarted    EffectKind = "round_started"
	EffectScoreChanged    EffectKind = "score_changed"
	EffectGuessRejected   EffectKind = "guess_rejected"
	EffectHintRevealed    EffectKind = "hint_revealed"
	EffectAnswerRevealed  EffectKind = "answer_revealed"
	EffectEssayShown      EffectKind = "essay_shown"
	EffectRoundCleared    EffectKind = "round_cleared"
	EffectGameEnded       EffectKind = "game_ended"
	EffectNotice          EffectKind = "notice"
)

// Effect describes what a projection (screen, log, speaker) should show
// after an action. Effects never feed back into the reducer.
type Effect struct {
	Kind   EffectKind `json:"kind"`
	Player string     `json:"player,omitempty"`
	Points int        `json:"points,omitempty"`
	Index  int        `json:"index,omitempty"`
	Text   string     `json:"text,omitempty"`
}

// Reduce applies a to s and returns the next state. s is not modified.
// Every action is total: malformed or inapplicable input yields s
// unchanged and no effects.
func Reduce(s State, a Action, rules Rules) (State, []Effect) {
	next := s.Clone()
	if r, ok := a.(leaderOnly); ok && rules.EnforceLeader {
		if who := r.actor(); who != "" {
			if leader, ok := s.Leader(); ok && !strings.EqualFold(leader.Name, who) {
				return next, []Effect{{
					Kind:   EffectNotice,
					Player: who,
					Text:   "Only " + leader.Name + " can " + describe(a.Kind()) + ".",
				}}
			}
		}
	}

	switch a := a.(type) {
	case SetPhase:
		if !a.Phase.Valid() || a.Phase == s.Phase {
			return next, nil
		}
		next.Phase = a.Phase
		return next, []Effect{{Kind: EffectPhaseChanged, Text: string(a.Phase)}}

	case RegisterPlayer:
		name := strings.TrimSpace(a.Name)
		if name == "" || s.PlayerIndex(name) >= 0 {
			return next, nil
		}
		_, hasLeader := s.Leader()
		next.Players = append(next.Players, Player{Name: name, IsLeader: a.IsLeader && !hasLeader})
		return next, []Effect{{Kind: EffectPlayerJoined, Player: name}}

	case SetCategory:
		c := strings.TrimSpace(a.Category)
		if c == "" {
			return next, nil
		}
		next.Category = c
		return next, []Effect{{Kind: EffectCategoryChanged, Text: c}}

	case StartRound:
		hints := append([]string{}, a.Hints...)
		if len(hints) > MaxHints {
			hints = hints[:MaxHints]
		}
		prox := a.Proximity
		if prox == "" {
			prox = ProximityRegion
		}
		next.RoundNumber++
		next.Round = Round{
			Letter:         normalizeLetter(a.Letter),
			Answer:         strings.TrimSpace(a.Answer),
			Hints:          hints,
			Proximity:      prox,
			NearbyLocation: strings.TrimSpace(a.NearbyLocation),
			Essay:          strings.TrimSpace(a.Essay),
		}
		return next, []Effect{{Kind: EffectRoundStarted, Index: next.RoundNumber, Text: next.Round.Letter}}

	case CorrectGuess:
		i := s.PlayerIndex(a.Player)
		if i < 0 {
			return next, nil
		}
		pts := a.Points
		if pts <= 0 {
			pts = 1
		}
		next.Players[i].Score = addScore(next.Players[i].Score, pts)
		return next, []Effect{{Kind: EffectScoreChanged, Player: next.Players[i].Name, Points: pts}}

	case IncorrectGuess:
		return next, []Effect{{Kind: EffectGuessRejected, Player: a.Player}}

	case RevealHint:
		if a.Index < 0 || a.Index >= len(s.Round.Hints) {
			return next, nil
		}
		next.Round.HintsRevealed = a.Index + 1
		return next, []Effect{{Kind: EffectHintRevealed, Index: a.Index, Text: s.Round.Hints[a.Index]}}

	case RevealAnswer:
		next.Round.AnswerRevealed = true
		return next, []Effect{{Kind: EffectAnswerRevealed, Text: s.Round.Answer}}

	case ShowEssay:
		essay := strings.TrimSpace(a.Essay)
		if essay == "" {
			essay = s.Round.Essay
		}
		if essay == "" {
			return next, nil
		}
		return next, []Effect{{Kind: EffectEssayShown, Text: essay}}

	case NextRound, Reroll:
		next.Round = Round{}
		return next, []Effect{{Kind: EffectRoundCleared, Text: string(a.Kind())}}

	case EndGame:
		next.Phase = PhaseGameOver
		return next, []Effect{{Kind: EffectGameEnded}}
	}
	// NoAction and Unknown.
	return next, nil
}

const maxScore = math.MaxInt32

// addScore adds pts, saturating at maxScore.
func addScore(score, pts int) int {
	if score > maxScore-pts {
		return maxScore
	}
	return score + pts
}

func describe(k Kind) string {
	switch k {
	case KindSetCategory:
		return "change the category"
	case KindNextRound:
		return "skip the round"
	case KindReroll:
		return "reroll"
	case KindEndGame:
		return "end the game"
	}
	return strings.ReplaceAll(string(k), "_", " ")
}
