package transcript

import (
	"strings"
	"sync"
)

// HistoryCap bounds both the retained log and the window sent upstream.
const HistoryCap = 40

type Speaker string

const (
	SpeakerPlayer Speaker = "player"
	SpeakerAgent  Speaker = "agent"
)

type Entry struct {
	Speaker Speaker
	Text    string
	// Synthetic marks system utterances (silence, clue requests). They are
	// sent upstream as context but not shown to players.
	Synthetic bool
}

// Message is the wire shape of one history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Log is the ordered record of a conversation. Only the newest Cap
// entries are retained.
type Log struct {
	mu      sync.RWMutex
	cap     int
	entries []Entry
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = HistoryCap
	}
	return &Log{cap: capacity}
}

// Append records one turn. Blank text is ignored.
func (l *Log) Append(speaker Speaker, text string) {
	l.add(Entry{Speaker: speaker, Text: text})
}

// AppendSynthetic records a system utterance on the player's side.
func (l *Log) AppendSynthetic(text string) {
	l.add(Entry{Speaker: SpeakerPlayer, Text: text, Synthetic: true})
}

func (l *Log) add(e Entry) {
	e.Text = strings.TrimSpace(e.Text)
	if e.Text == "" {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.cap; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(l.entries, l.entries[over:])
		clear(l.entries[n:])
		l.entries = l.entries[:n]
	}
	l.mu.Unlock()
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of every retained entry.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Visible returns the entries players should see.
func (l *Log) Visible() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !e.Synthetic {
			out = append(out, e)
		}
	}
	return out
}

// Windowed returns the last n entries in wire form without touching the log.
func (l *Log) Windowed(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if n >= 0 && len(l.entries) > n {
		start = len(l.entries) - n
	}
	out := make([]Message, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.Message())
	}
	return out
}

// Message maps an entry to its wire role.
func (e Entry) Message() Message {
	role := "user"
	if e.Speaker == SpeakerAgent {
		role = "assistant"
	}
	return Message{Role: role, Content: e.Text}
}

// Trim keeps the last n messages of history.
func Trim(history []Message, n int) []Message {
	if n < 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
