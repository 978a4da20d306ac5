package transcript

import (
	"fmt"
	"testing"
)

func TestLog_WindowNeverExceedsCap(t *testing.T) {
	l := NewLog(HistoryCap)
	for i := 0; i < 3*HistoryCap+7; i++ {
		sp := SpeakerPlayer
		if i%2 == 1 {
			sp = SpeakerAgent
		}
		l.Append(sp, fmt.Sprintf("turn %d", i))
		if got := len(l.Windowed(HistoryCap)); got > HistoryCap {
			t.Fatalf("after %d turns window=%d", i+1, got)
		}
		if l.Len() > HistoryCap {
			t.Fatalf("after %d turns retained=%d", i+1, l.Len())
		}
	}
	w := l.Windowed(HistoryCap)
	if w[len(w)-1].Content != fmt.Sprintf("turn %d", 3*HistoryCap+6) {
		t.Fatalf("last entry lost: %+v", w[len(w)-1])
	}
}

func TestLog_WindowedDoesNotMutate(t *testing.T) {
	l := NewLog(10)
	for i := 0; i < 6; i++ {
		l.Append(SpeakerPlayer, fmt.Sprintf("m%d", i))
	}
	w := l.Windowed(2)
	if len(w) != 2 || w[0].Content != "m4" || w[1].Content != "m5" {
		t.Fatalf("unexpected window %+v", w)
	}
	w[0].Content = "changed"
	if l.Len() != 6 || l.Entries()[4].Text != "m4" {
		t.Fatalf("log mutated through window")
	}
}

func TestLog_RolesAndOrder(t *testing.T) {
	l := NewLog(0)
	l.Append(SpeakerPlayer, "hi")
	l.Append(SpeakerAgent, "hello there")
	l.Append(SpeakerPlayer, "   ")
	w := l.Windowed(HistoryCap)
	if len(w) != 2 {
		t.Fatalf("blank text should be ignored, got %d", len(w))
	}
	if w[0].Role != "user" || w[1].Role != "assistant" {
		t.Fatalf("unexpected roles %+v", w)
	}
}

func TestLog_SyntheticHiddenButSent(t *testing.T) {
	l := NewLog(0)
	l.Append(SpeakerPlayer, "Sam")
	l.AppendSynthetic("[No response — player is silent]")
	if len(l.Visible()) != 1 {
		t.Fatalf("synthetic entry should be hidden")
	}
	if len(l.Windowed(HistoryCap)) != 2 {
		t.Fatalf("synthetic entry should be part of history")
	}
}

func TestTrim(t *testing.T) {
	h := make([]Message, 20)
	if got := Trim(h, 12); len(got) != 12 {
		t.Fatalf("len=%d want 12", len(got))
	}
	if got := Trim(h[:3], 12); len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
}
