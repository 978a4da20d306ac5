package game

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestReduce_RoundNumberCountsStartRounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []Action{
		StartRound{Letter: "m", Answer: "Marie Curie", Hints: []string{"a", "b", "c"}},
		RegisterPlayer{Name: "Sam"},
		CorrectGuess{Player: "Sam", Points: 2},
		RevealHint{Index: 1},
		NextRound{},
		Reroll{},
		SetCategory{Category: "Science"},
		NoAction{},
		Unknown{Type: "dance"},
		SetPhase{Phase: PhasePlaying},
	}
	for trial := 0; trial < 50; trial++ {
		s := NewState()
		starts := 0
		for i := 0; i < 40; i++ {
			a := pool[rng.Intn(len(pool))]
			if _, ok := a.(StartRound); ok {
				starts++
			}
			s, _ = Reduce(s, a, Rules{})
		}
		if s.RoundNumber != starts {
			t.Fatalf("trial %d: roundNumber=%d want %d", trial, s.RoundNumber, starts)
		}
	}
}

func TestReduce_RegisterPlayerIdempotent(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, RegisterPlayer{Name: "Sam", IsLeader: true}, Rules{})
	s, eff := Reduce(s, RegisterPlayer{Name: "  sAM "}, Rules{})
	if len(s.Players) != 1 {
		t.Fatalf("expected one player, got %d", len(s.Players))
	}
	if len(eff) != 0 {
		t.Fatalf("expected no effects on duplicate registration, got %v", eff)
	}
	if !s.Players[0].IsLeader {
		t.Fatalf("expected first registration to keep leader flag")
	}
}

func TestReduce_SecondLeaderIsNotPromoted(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, RegisterPlayer{Name: "Sam", IsLeader: true}, Rules{})
	s, _ = Reduce(s, RegisterPlayer{Name: "Ada", IsLeader: true}, Rules{})
	leaders := 0
	for _, p := range s.Players {
		if p.IsLeader {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaders)
	}
}

func TestReduce_CorrectGuessUnknownPlayer(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, RegisterPlayer{Name: "Sam"}, Rules{})
	s.Players[0].Score = 3
	next, eff := Reduce(s, CorrectGuess{Player: "Nobody", Points: 5}, Rules{})
	if next.Players[0].Score != 3 {
		t.Fatalf("score changed: %d", next.Players[0].Score)
	}
	if len(eff) != 0 {
		t.Fatalf("expected no effects, got %v", eff)
	}
}

func TestReduce_CorrectGuessCaseInsensitive(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, RegisterPlayer{Name: "Sam"}, Rules{})
	s, _ = Reduce(s, CorrectGuess{Player: "sam", Points: 2}, Rules{})
	s, _ = Reduce(s, CorrectGuess{Player: "SAM"}, Rules{})
	if s.Players[0].Score != 3 {
		t.Fatalf("score=%d want 3", s.Players[0].Score)
	}
}

func TestReduce_RevealHintBounds(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, StartRound{Letter: "R", Answer: "Rosa Parks", Hints: []string{"bus", "Montgomery", "1955"}}, Rules{})
	for _, idx := range []int{-1, 3, 99} {
		next, eff := Reduce(s, RevealHint{Index: idx}, Rules{})
		if next.Round.HintsRevealed != 0 {
			t.Fatalf("index %d: hintsRevealed=%d", idx, next.Round.HintsRevealed)
		}
		if len(eff) != 0 {
			t.Fatalf("index %d: unexpected effects %v", idx, eff)
		}
	}
	next, eff := Reduce(s, RevealHint{Index: 2}, Rules{})
	if next.Round.HintsRevealed != 3 {
		t.Fatalf("hintsRevealed=%d want 3", next.Round.HintsRevealed)
	}
	if len(eff) != 1 || eff[0].Text != "1955" {
		t.Fatalf("unexpected effects %v", eff)
	}
}

func TestReduce_StartRoundReplacesRound(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, StartRound{Letter: "a", Answer: "Alamo", Hints: []string{"x"}, Essay: "long"}, Rules{})
	s, _ = Reduce(s, RevealHint{Index: 0}, Rules{})
	s, _ = Reduce(s, RevealAnswer{}, Rules{})
	s, _ = Reduce(s, StartRound{Letter: "b", Answer: "Bunker Hill"}, Rules{})
	r := s.Round
	if r.Letter != "B" || r.Answer != "Bunker Hill" {
		t.Fatalf("unexpected round %+v", r)
	}
	if r.HintsRevealed != 0 || r.AnswerRevealed || r.Essay != "" {
		t.Fatalf("round not replaced wholesale: %+v", r)
	}
	if r.Proximity != ProximityRegion {
		t.Fatalf("proximity=%q want region", r.Proximity)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, RegisterPlayer{Name: "Sam"}, Rules{})
	s, _ = Reduce(s, StartRound{Letter: "a", Answer: "Alamo", Hints: []string{"x", "y"}}, Rules{})
	before := s.Clone()
	_, _ = Reduce(s, CorrectGuess{Player: "Sam", Points: 4}, Rules{})
	_, _ = Reduce(s, RevealHint{Index: 1}, Rules{})
	if s.Players[0].Score != before.Players[0].Score || s.Round.HintsRevealed != before.Round.HintsRevealed {
		t.Fatalf("input state mutated")
	}
}

func TestReduce_ShowEssayFallsBackToRound(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, StartRound{Letter: "a", Answer: "Alamo", Essay: "The Alamo essay."}, Rules{})
	_, eff := Reduce(s, ShowEssay{}, Rules{})
	if len(eff) != 1 || eff[0].Kind != EffectEssayShown || eff[0].Text != "The Alamo essay." {
		t.Fatalf("unexpected effects %v", eff)
	}
	_, eff = Reduce(s, ShowEssay{Essay: "Override."}, Rules{})
	if eff[0].Text != "Override." {
		t.Fatalf("expected provided essay, got %q", eff[0].Text)
	}
}

func TestReduce_EndGame(t *testing.T) {
	s := NewState()
	s, eff := Reduce(s, EndGame{}, Rules{})
	if s.Phase != PhaseGameOver {
		t.Fatalf("phase=%s", s.Phase)
	}
	if len(eff) != 1 || eff[0].Kind != EffectGameEnded {
		t.Fatalf("unexpected effects %v", eff)
	}
}

func TestReduce_LeaderEnforcement(t *testing.T) {
	s := NewState()
	s, _ = Reduce(s, RegisterPlayer{Name: "Sam", IsLeader: true}, Rules{})
	s, _ = Reduce(s, RegisterPlayer{Name: "Ada"}, Rules{})
	s, _ = Reduce(s, SetCategory{Category: "Music"}, Rules{})

	cases := []struct {
		name    string
		rules   Rules
		action  Action
		wantCat string
		notice  bool
	}{
		{"trusted without rules", Rules{}, SetCategory{Category: "Science", Actor: "Ada"}, "Science", false},
		{"non-leader rejected", Rules{EnforceLeader: true}, SetCategory{Category: "Science", Actor: "Ada"}, "Music", true},
		{"leader allowed", Rules{EnforceLeader: true}, SetCategory{Category: "Science", Actor: "sam"}, "Science", false},
		{"no actor trusted", Rules{EnforceLeader: true}, SetCategory{Category: "Science"}, "Science", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, eff := Reduce(s, tc.action, tc.rules)
			if next.Category != tc.wantCat {
				t.Fatalf("category=%q want %q", next.Category, tc.wantCat)
			}
			gotNotice := len(eff) == 1 && eff[0].Kind == EffectNotice
			if gotNotice != tc.notice {
				t.Fatalf("notice=%v want %v (%v)", gotNotice, tc.notice, eff)
			}
		})
	}

	next, eff := Reduce(s, EndGame{Actor: "Ada"}, Rules{EnforceLeader: true})
	if next.Phase == PhaseGameOver || eff[0].Kind != EffectNotice {
		t.Fatalf("expected end_game from non-leader to be refused")
	}
}

func TestParseAction_TolerantFields(t *testing.T) {
	cases := []struct {
		in   string
		want Action
	}{
		{`{"type":"correct_guess","player":"Sam","points":2}`, CorrectGuess{Player: "Sam", Points: 2}},
		{`{"type":"correct_guess","player":"Sam","points":"3"}`, CorrectGuess{Player: "Sam", Points: 3}},
		{`{"type":"correct_guess","player":"Sam"}`, CorrectGuess{Player: "Sam", Points: 1}},
		{`{"type":"correct_guess","player":"Sam","points":-4}`, CorrectGuess{Player: "Sam", Points: 1}},
		{`{"type":"reveal_hint","hintIndex":"1"}`, RevealHint{Index: 1}},
		{`{"type":"reveal_hint"}`, RevealHint{Index: -1}},
		{`{"type":"set_phase","phase":"PLAYING"}`, SetPhase{Phase: PhasePlaying}},
		{`{"type":"register_player","name":"Ada","isLeader":"true"}`, RegisterPlayer{Name: "Ada", IsLeader: true}},
		{`{"type":"no_action"}`, NoAction{}},
		{`{"type":"reveal_answer","extra":1}`, RevealAnswer{}},
	}
	for _, tc := range cases {
		got := ParseAction(raw(tc.in))
		if got != tc.want {
			t.Fatalf("%s: got %#v want %#v", tc.in, got, tc.want)
		}
	}
}

func TestParseAction_Malformed(t *testing.T) {
	for _, in := range []string{`[]`, `"x"`, `{"type":"set_phase","phase":"warp"}`, `{"type":"register_player"}`, `{"type":"teleport"}`, `null`} {
		if _, ok := ParseAction(raw(in)).(Unknown); !ok {
			t.Fatalf("%s: expected Unknown", in)
		}
	}
}

func TestParseAction_StartRound(t *testing.T) {
	a := ParseAction(raw(`{"type":"start_round","letter":"g ","answer":"Gateway Arch","hints":["tall","steel",3,"St. Louis","river"],"proximity":"NEARBY","nearbyLocation":"St. Louis"}`))
	sr, ok := a.(StartRound)
	if !ok {
		t.Fatalf("expected StartRound, got %#v", a)
	}
	if sr.Letter != "G" || sr.Proximity != ProximityNearby || sr.NearbyLocation != "St. Louis" {
		t.Fatalf("unexpected %+v", sr)
	}
	if len(sr.Hints) != MaxHints || sr.Hints[2] != "St. Louis" {
		t.Fatalf("unexpected hints %v", sr.Hints)
	}
}

func TestParseActions_EmptyIsNoAction(t *testing.T) {
	got := ParseActions(nil)
	if len(got) != 1 || got[0] != (NoAction{}) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestStore_BatchAppliesInOrderAndSkipsBadActions(t *testing.T) {
	st := NewStore(Rules{})
	acts := ParseActions([]json.RawMessage{
		raw(`{"type":"register_player","name":"Sam"}`),
		raw(`{"type":"bogus"}`),
		raw(`not json`),
		raw(`{"type":"start_round","letter":"a","answer":"Alamo","essay":"E"}`),
		raw(`{"type":"reveal_answer"}`),
		raw(`{"type":"show_essay"}`),
		raw(`{"type":"correct_guess","player":"Sam","points":2}`),
	})
	eff := st.Apply(acts...)
	s := st.State()
	if s.Players[0].Score != 2 || s.RoundNumber != 1 || !s.Round.AnswerRevealed {
		t.Fatalf("unexpected state %+v", s)
	}
	var kinds []EffectKind
	for _, e := range eff {
		kinds = append(kinds, e.Kind)
	}
	want := []EffectKind{EffectPlayerJoined, EffectRoundStarted, EffectAnswerRevealed, EffectEssayShown, EffectScoreChanged}
	if len(kinds) != len(want) {
		t.Fatalf("effects=%v want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("effects=%v want %v", kinds, want)
		}
	}
	if st.Snapshot().Round.Essay != "" {
		t.Fatalf("snapshot must not carry the essay")
	}
	if st.State().Round.Essay != "E" {
		t.Fatalf("store must keep the essay locally")
	}
}

func TestState_AwaitingRound(t *testing.T) {
	s := NewState()
	s.Category = "Music"
	if s.AwaitingRound() {
		t.Fatalf("intro phase never awaits a round")
	}
	s.Phase = PhasePlaying
	if !s.AwaitingRound() {
		t.Fatalf("expected awaiting round")
	}
	s.Round.Answer = "Elvis"
	if s.AwaitingRound() {
		t.Fatalf("round in play")
	}
}

func TestReduce_NextRoundAndRerollClearRound(t *testing.T) {
	for _, a := range []Action{NextRound{}, Reroll{}} {
		st := NewStore(Rules{})
		st.Apply(
			SetPhase{Phase: PhasePlaying},
			SetCategory{Category: "Music"},
			StartRound{Letter: "E", Answer: "Elvis", Hints: []string{"sang"}, Essay: "Tupelo"},
			RevealHint{Index: 0},
		)
		eff := st.Apply(a)
		s := st.State()
		if len(eff) != 1 || eff[0].Kind != EffectRoundCleared {
			t.Fatalf("%s: effects=%v", a.Kind(), eff)
		}
		if s.Round.Answer != "" || s.Round.HintsRevealed != 0 || s.Round.Essay != "" || len(s.Round.Hints) != 0 {
			t.Fatalf("%s: round not cleared: %+v", a.Kind(), s.Round)
		}
		if !s.AwaitingRound() || s.RoundNumber != 1 || s.Category != "Music" {
			t.Fatalf("%s: awaiting=%v round=%d category=%q", a.Kind(), s.AwaitingRound(), s.RoundNumber, s.Category)
		}
		if st.Snapshot().Round.Answer != "" {
			t.Fatalf("%s: old answer still in snapshot", a.Kind())
		}
	}
}

func TestReduce_ScoreSaturates(t *testing.T) {
	st := NewStore(Rules{})
	st.Apply(RegisterPlayer{Name: "Sam"})
	huge := ParseActions([]json.RawMessage{
		raw(`{"type":"correct_guess","player":"Sam","points":9000000000000000000}`),
		raw(`{"type":"correct_guess","player":"Sam","points":"9000000000000000000"}`),
	})
	for _, a := range huge {
		if cg, ok := a.(CorrectGuess); !ok || cg.Points != 1 {
			t.Fatalf("out-of-range points should fall back to 1, got %#v", a)
		}
	}
	st.Apply(huge...)
	if got := st.State().Players[0].Score; got != 2 {
		t.Fatalf("score=%d want 2", got)
	}

	s := st.State()
	for i := 0; i < 3; i++ {
		s, _ = Reduce(s, CorrectGuess{Player: "Sam", Points: MaxPoints}, Rules{})
		if s.Players[0].Score < 0 || s.Players[0].Score > maxScore {
			t.Fatalf("score out of range: %d", s.Players[0].Score)
		}
	}
	if s.Players[0].Score != maxScore {
		t.Fatalf("score=%d want saturation at %d", s.Players[0].Score, maxScore)
	}
}
